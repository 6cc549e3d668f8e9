package normalize

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/grafana/regexp"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultLabel is used when a category cleans down to nothing.
const DefaultLabel = "General"

// LanguageRule specializes a category when a language signal is present,
// e.g. "Music" -> "Hindi Music".
type LanguageRule struct {
	Language   string   // Canonical language name, matched against tvg-language
	Keywords   []string // Extra terms in name or category that signal the language
	Categories []string // Normalized categories the rule applies to; empty means any
	Label      string   // Fixed result; empty means "<Language> <Category>"
}

// Options are the data tables a Normalizer is built from.
type Options struct {
	DefaultLabel     string
	ProviderPrefixes []string // Literal branding prefixes stripped from categories
	NamePrefixes     []string // Regex fragments stripped from the start of names
	StripSuffixes    []string // Literal suffixes stripped from names and categories
	LanguageRules    []LanguageRule
}

// Normalizer cleans raw group-title values and channel names. It is safe
// for concurrent use once built.
type Normalizer struct {
	defaultLabel string
	prefixes     []*regexp.Regexp
	namePrefix   *regexp.Regexp
	suffixes     []string
	rules        []compiledRule
}

type compiledRule struct {
	LanguageRule
	language   string
	terms      []string
	categories map[string]struct{}
}

var spaceRun = regexp.MustCompile(`\s+`)

// New compiles opts. Only an invalid name prefix pattern is an error.
func New(opts Options) (*Normalizer, error) {
	n := &Normalizer{
		defaultLabel: strings.TrimSpace(opts.DefaultLabel),
		suffixes:     opts.StripSuffixes,
	}
	if n.defaultLabel == "" {
		n.defaultLabel = DefaultLabel
	}

	for _, p := range opts.ProviderPrefixes {
		n.addProviderPrefix(p)
	}

	if len(opts.NamePrefixes) > 0 {
		re, err := regexp.Compile(`^(?i:` + strings.Join(opts.NamePrefixes, "|") + `)\s*`)
		if err != nil {
			return nil, fmt.Errorf("invalid name prefix pattern: %w", err)
		}
		n.namePrefix = re
	}

	for _, rule := range opts.LanguageRules {
		if strings.TrimSpace(rule.Language) == "" {
			continue
		}
		cr := compiledRule{
			LanguageRule: rule,
			language:     strings.ToLower(strings.TrimSpace(rule.Language)),
			categories:   make(map[string]struct{}, len(rule.Categories)),
		}
		cr.terms = append(cr.terms, cr.language)
		for _, k := range rule.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				cr.terms = append(cr.terms, k)
			}
		}
		for _, c := range rule.Categories {
			cr.categories[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
		}
		n.rules = append(n.rules, cr)
	}

	return n, nil
}

// WithProviderPrefix returns a copy that also strips prefix. The receiver
// is left untouched so one base normalizer can serve several sources.
func (n *Normalizer) WithProviderPrefix(prefix string) *Normalizer {
	if strings.TrimSpace(prefix) == "" {
		return n
	}
	out := *n
	out.prefixes = append([]*regexp.Regexp(nil), n.prefixes...)
	out.addProviderPrefix(prefix)
	return &out
}

func (n *Normalizer) addProviderPrefix(prefix string) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return
	}
	// the prefix plus whatever separator glyphs follow it
	n.prefixes = append(n.prefixes, regexp.MustCompile(`^(?i:`+regexp.QuoteMeta(prefix)+`)[^\p{L}\p{N}]*`))
}

// DefaultCategory is the label substituted for empty categories.
func (n *Normalizer) DefaultCategory() string {
	return n.defaultLabel
}

// Category returns the canonical label for a raw group-title. The result
// is never empty.
func (n *Normalizer) Category(raw, name, lang string) string {
	s := strings.TrimSpace(norm.NFC.String(raw))

	for _, re := range n.prefixes {
		if loc := re.FindStringIndex(s); loc != nil {
			s = s[loc[1]:]
			break
		}
	}

	s = stripNoise(s)
	s = n.stripSuffixes(s)

	if idx := strings.LastIndex(s, "|"); idx != -1 {
		s = s[idx+1:]
	}
	s = strings.TrimSpace(s)

	if s == "" {
		s = n.defaultLabel
	}
	s = n.capitalize(s)

	return n.applyLanguageRules(s, name, lang)
}

// Name cleans a display name: configured prefixes and suffixes are removed
// and whitespace collapsed. A name that would clean to nothing is returned
// trimmed but otherwise unchanged.
func (n *Normalizer) Name(raw string) string {
	original := strings.TrimSpace(norm.NFC.String(raw))
	s := original

	if n.namePrefix != nil {
		s = n.namePrefix.ReplaceAllString(s, "")
	}
	s = n.stripSuffixes(s)
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))

	if s == "" {
		return original
	}
	return s
}

// Language normalizes a tvg-language tag to "Hindi" style casing.
func (n *Normalizer) Language(tag string) string {
	tag = strings.TrimSpace(norm.NFC.String(tag))
	if tag == "" {
		return ""
	}
	return n.capitalize(tag)
}

// capitalize upper-cases the first rune and lower-cases the rest of the
// whole string. It is not per-word title casing.
func (n *Normalizer) capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	// casers carry state, so one is made per call
	return cases.Upper(language.Und).String(s[:size]) + cases.Lower(language.Und).String(s[size:])
}

func (n *Normalizer) stripSuffixes(s string) string {
	for _, suffix := range n.suffixes {
		if suffix == "" {
			continue
		}
		if trimmed, ok := strings.CutSuffix(strings.TrimSpace(s), suffix); ok {
			s = trimmed
		}
	}
	return s
}

func (n *Normalizer) applyLanguageRules(category, name, lang string) string {
	if len(n.rules) == 0 {
		return category
	}

	lowerCat := strings.ToLower(category)
	lowerName := strings.ToLower(name)
	lowerLang := strings.ToLower(strings.TrimSpace(lang))

	for _, rule := range n.rules {
		if len(rule.categories) > 0 {
			if _, ok := rule.categories[lowerCat]; !ok {
				continue
			}
		}
		if !rule.signalled(lowerName, lowerCat, lowerLang) {
			continue
		}
		if rule.Label != "" {
			return rule.Label
		}
		if strings.Contains(lowerCat, rule.language) {
			return category
		}
		return strings.TrimSpace(rule.Language) + " " + category
	}

	return category
}

func (r compiledRule) signalled(name, category, lang string) bool {
	if lang != "" && lang == r.language {
		return true
	}
	for _, term := range r.terms {
		if strings.Contains(name, term) || strings.Contains(category, term) {
			return true
		}
	}
	return false
}

// stripNoise removes emoji, variation selectors and joiners that providers
// sprinkle into group titles, then collapses whitespace.
func stripNoise(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.In(r, unicode.So, unicode.Variation_Selector, unicode.Join_Control) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
