package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"m3u-catalog/work/types"
)

// Load reads a persisted catalog. A missing or blank file is an empty
// catalog; a file that does not parse is an error so it is never silently
// overwritten.
func Load(path string) ([]*types.Channel, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []*types.Channel{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	return Decode(data)
}

// Decode parses a JSON channel array.
func Decode(data []byte) ([]*types.Channel, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []*types.Channel{}, nil
	}

	var channels []*types.Channel
	if err := json.Unmarshal(data, &channels); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if channels == nil {
		channels = []*types.Channel{}
	}
	return channels, nil
}

// SelectWorking returns the channels to persist after a probe run: every
// channel whose verdict is OK, plus channels that were not probed. verdicts
// is index-aligned with channels; a missing or empty entry means unprobed.
// When
// nothing passed, the full set is returned and fellBack is true so the
// caller can warn instead of writing an empty catalog.
func SelectWorking(channels []*types.Channel, verdicts []types.Verdict) (selected []*types.Channel, fellBack bool) {
	for i, ch := range channels {
		var v types.Verdict
		if i < len(verdicts) {
			v = verdicts[i]
		}
		if v == "" || v == types.VerdictOK {
			selected = append(selected, ch)
		}
	}

	if len(selected) == 0 && len(channels) > 0 {
		return channels, true
	}
	return selected, false
}

// Group builds the read-side category view. Categories appear in the order
// their first channel appears; id equals name.
func Group(channels []*types.Channel) []types.Category {
	var out []types.Category
	index := make(map[string]int)

	for _, ch := range channels {
		i, ok := index[ch.Category]
		if !ok {
			i = len(out)
			index[ch.Category] = i
			out = append(out, types.Category{ID: ch.Category, Name: ch.Category})
		}
		out[i].Channels = append(out[i].Channels, ch)
	}
	return out
}

// FilterCategories keeps channels whose category is in allowed, compared
// case-insensitively. An empty allowed list keeps everything.
func FilterCategories(channels []*types.Channel, allowed []string) []*types.Channel {
	if len(allowed) == 0 {
		return channels
	}

	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}

	out := make([]*types.Channel, 0, len(channels))
	for _, ch := range channels {
		if _, ok := set[strings.ToLower(ch.Category)]; ok {
			out = append(out, ch)
		}
	}
	return out
}
