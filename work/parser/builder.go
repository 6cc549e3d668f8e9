package parser

import (
	"strings"

	"m3u-catalog/work/types"
)

// builderState is the accumulator state of a Builder.
type builderState int

const (
	stateIdle builderState = iota
	statePending
)

// option keys understood on #EXTVLCOPT lines
const (
	optUserAgent = "http-user-agent"
	optReferrer  = "http-referrer"
	optOrigin    = "http-origin"
)

// Builder turns a classified line stream into channel records. It holds at
// most one pending record at a time; a record is only emitted once its URL
// line has been seen.
type Builder struct {
	state       builderState
	pending     *types.Channel
	nextLicense string

	header    map[string]string
	channels  []*types.Channel
	discarded int
}

// NewBuilder returns an idle builder.
func NewBuilder() *Builder {
	return &Builder{state: stateIdle}
}

// Feed advances the state machine by one line. Malformed sequences never
// fail; they simply produce no record.
func (b *Builder) Feed(line Line) {
	switch line.Kind {
	case LineDirective:
		if b.state == statePending {
			// no URL arrived for the previous directive; last one wins
			b.discarded++
		}
		b.pending = newChannel(line.Text, b.nextLicense)
		b.nextLicense = ""
		b.state = statePending

	case LineLicense:
		if line.Value != "" {
			b.nextLicense = line.Value
		}

	case LineOption:
		if b.state == statePending {
			applyOption(b.pending, line.Value)
		}

	case LineURL:
		if b.state != statePending {
			return
		}
		url, headers := SplitURLHeaders(line.Text)
		b.pending.URL = url
		for k, v := range headers {
			if b.pending.Headers == nil {
				b.pending.Headers = make(map[string]string, len(headers))
			}
			b.pending.Headers[k] = v
		}
		if b.pending.UserAgent == "" && headers["User-Agent"] != "" {
			b.pending.UserAgent = headers["User-Agent"]
		}
		b.channels = append(b.channels, b.pending)
		b.pending = nil
		b.state = stateIdle

	case LineComment:
		if b.header == nil && strings.HasPrefix(line.Text, headerPrefix) {
			b.header = HeaderAttributes(line.Text)
		}
	}
}

// Finish ends the stream. A record still pending is dropped.
func (b *Builder) Finish() []*types.Channel {
	if b.state == statePending {
		b.discarded++
		b.pending = nil
		b.state = stateIdle
	}
	out := b.channels
	b.channels = nil
	return out
}

// Discarded is the number of directives that never received a URL line.
func (b *Builder) Discarded() int {
	return b.discarded
}

// Header returns the attributes of the #EXTM3U line, or nil when the
// playlist had none.
func (b *Builder) Header() map[string]string {
	return b.header
}

// Build runs a fresh builder over lines.
func Build(lines []Line) []*types.Channel {
	b := NewBuilder()
	for _, line := range lines {
		b.Feed(line)
	}
	return b.Finish()
}

// BuildPlaylist is Build plus the #EXTM3U header attributes.
func BuildPlaylist(lines []Line) (*types.Playlist, int) {
	b := NewBuilder()
	for _, line := range lines {
		b.Feed(line)
	}
	channels := b.Finish()
	return &types.Playlist{Header: b.Header(), Channels: channels}, b.Discarded()
}

func newChannel(directive, license string) *types.Channel {
	attrs := ExtractAttributes(directive)

	name := DisplayName(directive)
	if name == "" {
		name = strings.TrimSpace(attrs[AttrTvgName])
	}

	return &types.Channel{
		Name:       name,
		Logo:       strings.TrimSpace(attrs[AttrTvgLogo]),
		Language:   strings.TrimSpace(attrs[AttrTvgLanguage]),
		LicenseKey: license,
		Attributes: attrs,
	}
}

// applyOption handles "key=value" from an #EXTVLCOPT line.
func applyOption(ch *types.Channel, option string) {
	key, value, ok := strings.Cut(option, "=")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}

	switch strings.ToLower(strings.TrimSpace(key)) {
	case optUserAgent:
		ch.UserAgent = value
	case optReferrer:
		setHeader(ch, "Referer", value)
	case optOrigin:
		setHeader(ch, "Origin", value)
	}
}

func setHeader(ch *types.Channel, key, value string) {
	if ch.Headers == nil {
		ch.Headers = make(map[string]string)
	}
	ch.Headers[key] = value
}
