package types

// Channel is one playable catalog entry. It is created by the parser, mutated
// in place by the normalize/identity/filter stages, and treated as read-only
// once it has been appended to an output catalog.
//
// Logo is always serialized (empty string when the playlist carried none);
// the remaining optional fields are omitted when empty.
type Channel struct {
	ID         string            `json:"id"`                   // Unique within a catalog
	Name       string            `json:"name"`                 // Display name, provider prefixes stripped
	URL        string            `json:"url"`                  // Playback URL without any "|Header=..." suffix
	Logo       string            `json:"logo"`                 // Logo URL or ""
	Category   string            `json:"category"`             // Canonical category label, never empty
	Language   string            `json:"language,omitempty"`   // Normalized tvg-language tag
	LicenseKey string            `json:"licenseKey,omitempty"` // Opaque "keyId:key" pair from #KODIPROP
	UserAgent  string            `json:"userAgent,omitempty"`  // User-Agent to present when fetching the stream
	Headers    map[string]string `json:"headers,omitempty"`    // Request headers split off the URL line

	// Attributes holds the raw EXTINF key/value pairs seen while parsing.
	// It only lives for the duration of a pipeline run.
	Attributes map[string]string `json:"-"`
}

// Attr returns a raw EXTINF attribute, or "" when it was not present.
func (c *Channel) Attr(key string) string {
	if c.Attributes == nil {
		return ""
	}
	return c.Attributes[key]
}

// Clone returns a copy that shares no maps with the receiver.
func (c *Channel) Clone() *Channel {
	out := *c
	if c.Headers != nil {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = v
		}
	}
	if c.Attributes != nil {
		out.Attributes = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	return &out
}

// Category is the read-side grouping of channels that share a category label.
type Category struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Channels []*Channel `json:"channels"`
}

// Verdict is the reachability classification of a channel URL.
type Verdict string

const (
	VerdictOK      Verdict = "OK"      // 2xx or 3xx response
	VerdictFail    Verdict = "FAIL"    // any other status code
	VerdictTimeout Verdict = "TIMEOUT" // deadline exceeded
	VerdictError   Verdict = "ERROR"   // transport, DNS or connection failure
)

// Playlist is the parsed form of one M3U document.
type Playlist struct {
	Header   map[string]string // Attributes of the #EXTM3U line (billed-till, url-tvg, ...)
	Channels []*Channel
}
