package identity

import (
	"encoding/hex"
	"strconv"
	"strings"

	"m3u-catalog/work/logger"
	"m3u-catalog/work/types"

	"github.com/google/uuid"
	"github.com/grafana/regexp"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveBase turns a display name into an id base: lower-cased, every run
// of characters outside [a-z0-9] collapsed to "_", outer underscores
// trimmed. It returns "" when nothing usable is left.
func DeriveBase(name string) string {
	base := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	return strings.Trim(base, "_")
}

// NameHash is the id base for names that leave no slug, such as names
// written only in Devanagari: "ch_" plus the first 12 hex digits of the
// blake2b digest of the NFC form. Equal names always hash alike.
func NameHash(name string) string {
	sum := blake2b.Sum256([]byte(norm.NFC.String(strings.TrimSpace(name))))
	return "ch_" + hex.EncodeToString(sum[:])[:12]
}

// Resolver hands out ids that are unique within one pass. It is not safe
// for concurrent use.
type Resolver struct {
	used     map[string]struct{}
	counters map[string]int

	// Fallback produces an id for channels with neither provider id nor
	// name. Tests replace it to get deterministic output.
	Fallback func() string
}

// NewResolver returns a resolver with an empty used set.
func NewResolver() *Resolver {
	return &Resolver{
		used:     make(map[string]struct{}),
		counters: make(map[string]int),
		Fallback: generatedID,
	}
}

// Reserve marks id as taken without resolving it, used to seed the set with
// ids already present in a catalog.
func (r *Resolver) Reserve(id string) {
	if id != "" {
		r.used[id] = struct{}{}
	}
}

// Taken reports whether id has been handed out or reserved.
func (r *Resolver) Taken(id string) bool {
	_, ok := r.used[id]
	return ok
}

// Resolve returns a unique id for a channel. The trimmed provider id is used
// verbatim when present; otherwise the id is derived from name. Collisions
// get a "_N" suffix where N counts up from a per-base counter.
func (r *Resolver) Resolve(providerID, name string) string {
	base := strings.TrimSpace(providerID)
	if base == "" {
		base = DeriveBase(name)
	}
	if base == "" && strings.TrimSpace(name) != "" {
		base = NameHash(name)
	}
	if base == "" {
		base = r.Fallback()
		logger.Debug("{identity/identity - Resolve} No provider id or name, generated %s", base)
	}

	return r.claim(base)
}

func (r *Resolver) claim(base string) string {
	if !r.Taken(base) {
		r.used[base] = struct{}{}
		return base
	}

	n := r.counters[base]
	for {
		n++
		candidate := base + "_" + strconv.Itoa(n)
		if !r.Taken(candidate) {
			r.counters[base] = n
			r.used[candidate] = struct{}{}
			return candidate
		}
	}
}

// Repair makes the ids of an already-built catalog non-empty and unique,
// keeping the first occurrence of each id. It returns how many ids changed.
func Repair(channels []*types.Channel) int {
	r := NewResolver()
	fixed := 0

	// first occurrences keep their ids, so reserve them up front
	seen := make(map[string]struct{}, len(channels))
	dup := make([]bool, len(channels))
	for i, ch := range channels {
		if ch.ID == "" {
			dup[i] = true
			continue
		}
		if _, ok := seen[ch.ID]; ok {
			dup[i] = true
			continue
		}
		seen[ch.ID] = struct{}{}
		r.Reserve(ch.ID)
	}

	for i, ch := range channels {
		if !dup[i] {
			continue
		}
		old := ch.ID
		if old != "" {
			ch.ID = r.claim(old)
		} else {
			ch.ID = r.Resolve("", ch.Name)
		}
		logger.Debug("{identity/identity - Repair} Channel %q id %q -> %q", ch.Name, old, ch.ID)
		fixed++
	}

	return fixed
}

// generatedID is the fallback for names with nothing slug-able left. A
// version 7 UUID leads with the millisecond timestamp, so generated ids
// sort by creation time.
func generatedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "gen-" + id.String()
}
