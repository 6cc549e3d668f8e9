package parser

import "strings"

// SplitURLHeaders splits "URL|Key=\"Value\"&Key2=\"Value2\"" into the base
// URL and a header map. Segments without a key or value are dropped. The
// map is nil when no usable header was found.
func SplitURLHeaders(raw string) (string, map[string]string) {
	raw = strings.TrimSpace(raw)
	base, rest, found := strings.Cut(raw, "|")
	base = strings.TrimSpace(base)
	if !found {
		return base, nil
	}

	var headers map[string]string
	for _, pair := range strings.Split(rest, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(strings.ReplaceAll(value, `"`, ""))
		if key == "" || value == "" {
			continue
		}
		if headers == nil {
			headers = make(map[string]string)
		}
		headers[canonicalHeader(key)] = value
	}

	return base, headers
}

// canonicalHeader maps the lower-case spellings players use to the usual
// header names; anything else is kept as written.
func canonicalHeader(key string) string {
	switch strings.ToLower(key) {
	case "user-agent", "useragent", "http-user-agent":
		return "User-Agent"
	case "referer", "referrer", "http-referrer":
		return "Referer"
	case "origin", "http-origin":
		return "Origin"
	case "cookie":
		return "Cookie"
	}
	return key
}
