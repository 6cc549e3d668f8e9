package utils

import (
	"net/url"
	"strings"
)

// obfuscate is flipped by the pipeline from config.ObfuscateUrls.
var obfuscate bool

// SetObfuscation toggles URL masking for LogURL.
func SetObfuscation(enabled bool) {
	obfuscate = enabled
}

// LogURL returns either the original URL or a masked version for logging.
func LogURL(rawURL string) string {
	if obfuscate {
		return ObfuscateURL(rawURL)
	}
	return rawURL
}

// ObfuscateURL keeps scheme and host and masks path, query and fragment.
//
// Example:
//
//	Input:  "http://example.com/secret/playlist.m3u?uid=1&pass=2"
//	Output: "http://example.com/***?***"
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		// local paths and garbage are masked wholesale
		if strings.Contains(urlStr, "://") {
			return "***OBFUSCATED***"
		}
		return urlStr
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}

// IsRemote reports whether a playlist location is an http(s) URL rather
// than a local file path.
func IsRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ContainsAny reports whether s contains any of the given terms. Terms are
// expected to already be lower-cased; empty terms never match.
func ContainsAny(s string, terms []string) (string, bool) {
	for _, term := range terms {
		if term != "" && strings.Contains(s, term) {
			return term, true
		}
	}
	return "", false
}

// LowerAll trims and lower-cases every term, dropping empty ones.
func LowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
