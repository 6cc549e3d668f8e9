package filter

import (
	"strings"

	"m3u-catalog/work/types"
	"m3u-catalog/work/utils"
)

// Rules are the policy tables. All comparisons are lower-cased.
type Rules struct {
	ForbiddenLanguages []string
	ForbiddenKeywords  []string
	AllowedGenres      []string
	AllowedLanguages   []string // Consulted only when no genre matched
}

// Reason names the rule that decided a channel's fate.
type Reason string

const (
	ReasonForbiddenLanguage Reason = "forbidden_language"
	ReasonForbiddenKeyword  Reason = "forbidden_keyword"
	ReasonAllowedGenre      Reason = "allowed_genre"
	ReasonAllowedLanguage   Reason = "allowed_language"
	ReasonNoAllowedMatch    Reason = "no_allowed_match"
	ReasonUnrestricted      Reason = "unrestricted"
)

// Decision is the outcome of a policy evaluation. Term is the rule entry
// that matched, if any.
type Decision struct {
	Allowed bool
	Reason  Reason
	Term    string
}

// Policy is a pure predicate over (name, category, language).
type Policy struct {
	forbiddenLanguages []string
	forbiddenKeywords  []string
	allowedGenres      []string
	allowedLanguages   []string
}

// NewPolicy lower-cases and trims the rule tables.
func NewPolicy(rules Rules) *Policy {
	return &Policy{
		forbiddenLanguages: utils.LowerAll(rules.ForbiddenLanguages),
		forbiddenKeywords:  utils.LowerAll(rules.ForbiddenKeywords),
		allowedGenres:      utils.LowerAll(rules.AllowedGenres),
		allowedLanguages:   utils.LowerAll(rules.AllowedLanguages),
	}
}

// Evaluate applies the rules in precedence order: forbidden language,
// forbidden keyword, allowed genre, then the allowed-language list. With
// no allow lists configured everything not forbidden passes.
func (p *Policy) Evaluate(name, category, language string) Decision {
	name = strings.ToLower(name)
	category = strings.ToLower(category)
	language = strings.ToLower(strings.TrimSpace(language))

	for _, term := range p.forbiddenLanguages {
		if language == term || strings.Contains(name, term) || strings.Contains(category, term) {
			return Decision{Allowed: false, Reason: ReasonForbiddenLanguage, Term: term}
		}
	}

	if term, ok := matchEither(name, category, p.forbiddenKeywords); ok {
		return Decision{Allowed: false, Reason: ReasonForbiddenKeyword, Term: term}
	}

	if len(p.allowedGenres) == 0 && len(p.allowedLanguages) == 0 {
		return Decision{Allowed: true, Reason: ReasonUnrestricted}
	}

	if term, ok := matchEither(name, category, p.allowedGenres); ok {
		return Decision{Allowed: true, Reason: ReasonAllowedGenre, Term: term}
	}

	for _, term := range p.allowedLanguages {
		if language == term || strings.Contains(name, term) || strings.Contains(category, term) {
			return Decision{Allowed: true, Reason: ReasonAllowedLanguage, Term: term}
		}
	}

	return Decision{Allowed: false, Reason: ReasonNoAllowedMatch}
}

// Allows evaluates a built channel.
func (p *Policy) Allows(ch *types.Channel) bool {
	return p.Evaluate(ch.Name, ch.Category, ch.Language).Allowed
}

func matchEither(name, category string, terms []string) (string, bool) {
	if term, ok := utils.ContainsAny(name, terms); ok {
		return term, true
	}
	return utils.ContainsAny(category, terms)
}
