package filter

import (
	"strings"
	"sync"

	"m3u-catalog/work/config"
	"m3u-catalog/work/logger"
	"m3u-catalog/work/parser"
	"m3u-catalog/work/types"

	"github.com/grafana/regexp"
)

// CompiledFilter holds the compiled per-source regex patterns. A nil
// pattern means no filter of that kind.
type CompiledFilter struct {
	GroupInclude *regexp.Regexp
	GroupExclude *regexp.Regexp
	NameInclude  *regexp.Regexp
	NameExclude  *regexp.Regexp
}

// Empty reports whether no pattern is configured.
func (cf *CompiledFilter) Empty() bool {
	return cf.GroupInclude == nil && cf.GroupExclude == nil && cf.NameInclude == nil && cf.NameExclude == nil
}

// FilterManager caches compiled filters per source.
type FilterManager struct {
	filters map[string]*CompiledFilter
	mu      sync.RWMutex
}

// NewFilterManager creates a new filter manager
func NewFilterManager() *FilterManager {
	return &FilterManager{
		filters: make(map[string]*CompiledFilter),
	}
}

// GetOrCreateFilter gets or creates a compiled filter for a source. Invalid
// patterns are logged and treated as absent.
func (fm *FilterManager) GetOrCreateFilter(source *config.SourceConfig) *CompiledFilter {
	key := source.Name + "\x00" + source.URL

	fm.mu.RLock()
	filter, exists := fm.filters[key]
	fm.mu.RUnlock()
	if exists {
		return filter
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	if filter, exists := fm.filters[key]; exists {
		return filter
	}

	filter = &CompiledFilter{
		GroupInclude: compile(source.Name, "groupIncludeRegex", source.GroupIncludeRegex),
		GroupExclude: compile(source.Name, "groupExcludeRegex", source.GroupExcludeRegex),
		NameInclude:  compile(source.Name, "nameIncludeRegex", source.NameIncludeRegex),
		NameExclude:  compile(source.Name, "nameExcludeRegex", source.NameExcludeRegex),
	}

	fm.filters[key] = filter
	return filter
}

// ClearFilters drops every compiled filter, e.g. after a config reload.
func (fm *FilterManager) ClearFilters() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.filters = make(map[string]*CompiledFilter)
}

func compile(sourceName, field, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("{filter/filter - compile} Source %s: failed to compile %s '%s': %v", sourceName, field, pattern, err)
		return nil
	}
	logger.Debug("{filter/filter - compile} Source %s: compiled %s '%s'", sourceName, field, pattern)
	return compiled
}

// FilterChannels applies a source's include/exclude patterns to freshly
// parsed channels. Patterns are matched against the raw group-title and
// the display name.
func FilterChannels(channels []*types.Channel, source *config.SourceConfig, fm *FilterManager) []*types.Channel {
	filter := fm.GetOrCreateFilter(source)
	if filter.Empty() {
		logger.Debug("{filter/filter - FilterChannels} No filters configured for source %s, returning %d channels unchanged", source.Name, len(channels))
		return channels
	}

	filtered := make([]*types.Channel, 0, len(channels))
	for _, ch := range channels {
		if filter.Matches(ch) {
			filtered = append(filtered, ch)
		}
	}

	logger.Debug("{filter/filter - FilterChannels} Filtered %d -> %d channels for source %s", len(channels), len(filtered), source.Name)
	return filtered
}

// Matches reports whether a channel passes the filter. Include patterns
// are checked first; a configured include pattern must match.
func (cf *CompiledFilter) Matches(ch *types.Channel) bool {
	group := strings.TrimSpace(ch.Attr(parser.AttrGroupTitle))
	name := strings.TrimSpace(ch.Name)

	if cf.GroupInclude != nil && !cf.GroupInclude.MatchString(group) {
		return false
	}
	if cf.NameInclude != nil && !cf.NameInclude.MatchString(name) {
		return false
	}
	if cf.GroupExclude != nil && cf.GroupExclude.MatchString(group) {
		return false
	}
	if cf.NameExclude != nil && cf.NameExclude.MatchString(name) {
		return false
	}
	return true
}
