package parser

import (
	"bytes"
	"fmt"
	"strconv"

	"m3u-catalog/work/config"
	"m3u-catalog/work/logger"
	"m3u-catalog/work/types"
	"m3u-catalog/work/utils"

	"github.com/grafov/m3u8"
)

// Stats summarizes one parse.
type Stats struct {
	Lines     int
	Channels  int
	Discarded int // directives with no URL line
	HLS       bool
}

// hlsMarkers are tags that only appear in HLS playlists, never in IPTV
// channel lists.
var hlsMarkers = [][]byte{
	[]byte("#EXT-X-STREAM-INF"),
	[]byte("#EXT-X-TARGETDURATION"),
	[]byte("#EXT-X-MEDIA-SEQUENCE"),
}

// ParseSource turns a fetched playlist body into a Playlist. A source that
// is itself an HLS master or media playlist becomes a single channel
// pointing at the source URL.
func ParseSource(body []byte, source *config.SourceConfig) (*types.Playlist, Stats, error) {
	if isHLS(body) {
		playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
		if err == nil {
			logger.Debug("{parser/m3u8 - ParseSource} %s is a direct HLS playlist", utils.LogURL(source.URL))
			ch := ParseWithGrafov(playlist, listType, source)
			return &types.Playlist{Channels: []*types.Channel{ch}}, Stats{Channels: 1, HLS: true}, nil
		}
		logger.Debug("{parser/m3u8 - ParseSource} HLS decode failed for %s, using line parser: %v", utils.LogURL(source.URL), err)
	}

	lines, err := Tokenize(bytes.NewReader(body))
	if err != nil {
		return nil, Stats{}, fmt.Errorf("reading playlist: %w", err)
	}

	playlist, discarded := BuildPlaylist(lines)
	stats := Stats{
		Lines:     len(lines),
		Channels:  len(playlist.Channels),
		Discarded: discarded,
	}

	logger.Debug("{parser/m3u8 - ParseSource} %s: %d lines, %d channels, %d discarded directives",
		source.Name, stats.Lines, stats.Channels, stats.Discarded)

	return playlist, stats, nil
}

// ParseWithGrafov maps a decoded HLS playlist to one channel. For master
// playlists the highest-bandwidth variant is recorded in the attributes.
func ParseWithGrafov(playlist m3u8.Playlist, listType m3u8.ListType, source *config.SourceConfig) *types.Channel {
	ch := &types.Channel{
		Name:       source.Name,
		URL:        source.URL,
		Attributes: map[string]string{"hls": "media"},
	}
	if source.UserAgent != "" {
		ch.UserAgent = source.UserAgent
	}

	if listType != m3u8.MASTER {
		return ch
	}

	ch.Attributes["hls"] = "master"
	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return ch
	}

	var best *m3u8.Variant
	for _, variant := range master.Variants {
		if variant == nil {
			break
		}
		if best == nil || variant.Bandwidth > best.Bandwidth {
			best = variant
		}
	}
	if best == nil {
		return ch
	}

	ch.Attributes["variants"] = strconv.Itoa(len(master.Variants))
	if best.Bandwidth > 0 {
		ch.Attributes["bandwidth"] = strconv.FormatUint(uint64(best.Bandwidth), 10)
	}
	if best.Resolution != "" {
		ch.Attributes["resolution"] = best.Resolution
	}
	return ch
}

func isHLS(body []byte) bool {
	for _, marker := range hlsMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}
