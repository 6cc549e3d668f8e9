package merge

import (
	"sort"
	"strings"

	"m3u-catalog/work/filter"
	"m3u-catalog/work/identity"
	"m3u-catalog/work/logger"
	"m3u-catalog/work/types"
)

// Result is the merged catalog plus what happened on the way.
type Result struct {
	Channels   []*types.Channel
	Pruned     int // existing entries removed by the current policy
	Repaired   int // existing entries whose id had to be fixed
	Enriched   int // existing entries that gained a license key
	Duplicates int // batch entries dropped as already present
	Added      int // net-new batch entries
}

// Merge reconciles a freshly parsed batch with the existing catalog.
// Surviving existing entries keep their order and come first; net-new
// batch entries follow in parse order. A nil policy prunes nothing. The
// input slices are not modified; enriched entries are copies.
func Merge(existing, batch []*types.Channel, policy *filter.Policy) Result {
	var res Result

	survivors := make([]*types.Channel, 0, len(existing))
	for _, ch := range existing {
		if policy != nil {
			if d := policy.Evaluate(ch.Name, ch.Category, ch.Language); !d.Allowed {
				logger.Debug("{merge/merge - Merge} Pruning existing %q (%s %s)", ch.Name, d.Reason, d.Term)
				res.Pruned++
				continue
			}
		}
		survivors = append(survivors, ch)
	}

	// repair works in place, so it gets copies when anything needs fixing
	if hasBrokenIDs(survivors) {
		for i, ch := range survivors {
			survivors[i] = ch.Clone()
		}
		res.Repaired = identity.Repair(survivors)
	}

	licenses := make(map[string]string)
	for _, ch := range batch {
		if ch.LicenseKey == "" {
			continue
		}
		if _, ok := licenses[ch.URL]; !ok {
			licenses[ch.URL] = ch.LicenseKey
		}
	}

	ids := make(map[string]struct{}, len(survivors)+len(batch))
	urls := make(map[string]struct{}, len(survivors)+len(batch))
	for i, ch := range survivors {
		if ch.LicenseKey == "" {
			if key, ok := licenses[ch.URL]; ok {
				enriched := ch.Clone()
				enriched.LicenseKey = key
				survivors[i] = enriched
				res.Enriched++
			}
		}
		ids[survivors[i].ID] = struct{}{}
		urls[survivors[i].URL] = struct{}{}
	}

	out := survivors
	for _, ch := range batch {
		_, idSeen := ids[ch.ID]
		_, urlSeen := urls[ch.URL]
		if idSeen || urlSeen {
			res.Duplicates++
			continue
		}
		ids[ch.ID] = struct{}{}
		urls[ch.URL] = struct{}{}
		out = append(out, ch)
		res.Added++
	}

	res.Channels = out
	return res
}

func hasBrokenIDs(channels []*types.Channel) bool {
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if ch.ID == "" {
			return true
		}
		if _, ok := seen[ch.ID]; ok {
			return true
		}
		seen[ch.ID] = struct{}{}
	}
	return false
}

// PreferFirst moves channels matching pred ahead of the rest. Relative
// order inside each group is preserved.
func PreferFirst(channels []*types.Channel, pred func(*types.Channel) bool) {
	sort.SliceStable(channels, func(i, j int) bool {
		return pred(channels[i]) && !pred(channels[j])
	})
}

// LanguagePredicate matches channels whose language tag is lang or whose
// name or category mentions it.
func LanguagePredicate(lang string) func(*types.Channel) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	return func(ch *types.Channel) bool {
		if lang == "" {
			return false
		}
		return strings.ToLower(ch.Language) == lang ||
			strings.Contains(strings.ToLower(ch.Name), lang) ||
			strings.Contains(strings.ToLower(ch.Category), lang)
	}
}
