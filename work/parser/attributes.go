package parser

import (
	"strings"

	"github.com/grafana/regexp"
	"github.com/puzpuzpuz/xsync/v3"
)

// Attribute keys read from #EXTINF lines.
const (
	AttrTvgID       = "tvg-id"
	AttrTvgName     = "tvg-name"
	AttrTvgLogo     = "tvg-logo"
	AttrTvgLanguage = "tvg-language"
	AttrTvgGenre    = "tvg-genre"
	AttrGroupTitle  = "group-title"
)

var knownAttributes = []string{
	AttrTvgID,
	AttrTvgName,
	AttrTvgLogo,
	AttrTvgLanguage,
	AttrTvgGenre,
	AttrGroupTitle,
}

// attrPatterns caches one compiled key="value" pattern per attribute key.
var attrPatterns = xsync.NewMapOf[string, *regexp.Regexp]()

func attrPattern(key string) *regexp.Regexp {
	re, _ := attrPatterns.LoadOrCompute(key, func() *regexp.Regexp {
		// the key must not be the tail of a longer key (x-tvg-id vs tvg-id)
		return regexp.MustCompile(`(?:^|[^\w-])` + regexp.QuoteMeta(key) + `="([^"]*)"`)
	})
	return re
}

// Attr returns the first key="value" match on the line.
func Attr(line, key string) (string, bool) {
	m := attrPattern(key).FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Attributes is the set of EXTINF attributes the pipeline cares about.
// Absent attributes are simply missing from the map.
type Attributes map[string]string

// ExtractAttributes looks up every known attribute on a directive line.
func ExtractAttributes(line string) Attributes {
	attrs := make(Attributes, len(knownAttributes))
	for _, key := range knownAttributes {
		if v, ok := Attr(line, key); ok {
			attrs[key] = v
		}
	}
	return attrs
}

// HeaderAttributes parses every key="value" pair of an #EXTM3U line.
var headerAttrPattern = regexp.MustCompile(`([\w-]+)="([^"]*)"`)

func HeaderAttributes(line string) map[string]string {
	out := make(map[string]string)
	for _, m := range headerAttrPattern.FindAllStringSubmatch(line, -1) {
		if _, seen := out[m[1]]; !seen {
			out[m[1]] = m[2]
		}
	}
	return out
}

// DisplayName is the trimmed text after the last comma of a directive line,
// or "" when the line has no comma.
func DisplayName(line string) string {
	idx := strings.LastIndex(line, ",")
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(line[idx+1:])
}
