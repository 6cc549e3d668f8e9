package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"m3u-catalog/work/config"
	"m3u-catalog/work/logger"
	"m3u-catalog/work/utils"

	"github.com/klauspost/compress/gzip"
)

// maxPlaylistSize caps how much of a playlist body is read into memory.
var maxPlaylistSize int64 = 64 << 20

// ErrTooLarge is returned when a playlist exceeds maxPlaylistSize, raw or
// after gzip decoding.
var ErrTooLarge = errors.New("playlist exceeds size limit")

// HeaderSettingClient wraps http.Client to automatically set the headers
// upstream playlist providers gate on.
type HeaderSettingClient struct {
	Client    *http.Client
	userAgent string
}

// StatusError is returned when a playlist URL answers with a non-200 status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, utils.LogURL(e.URL))
}

// NewHeaderSettingClient builds a client whose requests carry userAgent
// unless a per-request header overrides it. Redirects are followed.
func NewHeaderSettingClient(userAgent string, timeout time.Duration) *HeaderSettingClient {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &HeaderSettingClient{
		Client:    client,
		userAgent: userAgent,
	}
}

// Do sets the default headers plus any extra ones and sends the request.
func (hsc *HeaderSettingClient) Do(req *http.Request, headers map[string]string) (*http.Response, error) {
	hsc.setHeaders(req, headers)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request, headers map[string]string) {
	req.Header.Set("User-Agent", hsc.userAgent)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip")

	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
}

// Fetch returns the raw playlist of a source. Local paths are read from
// disk; URLs are fetched with the source's User-Agent, Origin and Referer.
// Gzip bodies are decoded transparently in both cases.
func (hsc *HeaderSettingClient) Fetch(ctx context.Context, source *config.SourceConfig) ([]byte, error) {
	var body []byte
	var err error

	if utils.IsRemote(source.URL) {
		body, err = hsc.fetchRemote(ctx, source)
	} else {
		logger.Debug("{client/client - Fetch} Reading local playlist %s", source.URL)
		body, err = os.ReadFile(source.URL)
		if err == nil && int64(len(body)) > maxPlaylistSize {
			err = fmt.Errorf("reading %s: %w", source.URL, ErrTooLarge)
		}
	}
	if err != nil {
		return nil, err
	}

	return maybeGunzip(body)
}

func (hsc *HeaderSettingClient) fetchRemote(ctx context.Context, source *config.SourceConfig) ([]byte, error) {
	logger.Debug("{client/client - fetchRemote} Fetching playlist %s", utils.LogURL(source.URL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	headers := map[string]string{
		"User-Agent": source.UserAgent,
		"Origin":     source.ReqOrigin,
		"Referer":    source.ReqReferrer,
	}

	resp, err := hsc.Do(req, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: source.URL, StatusCode: resp.StatusCode}
	}

	if v := resp.Header.Get("Subscription-Userinfo"); v != "" {
		logger.Debug("{client/client - fetchRemote} Subscription info for %s: %s", source.Name, v)
	}

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", utils.LogURL(source.URL), err)
	}
	return body, nil
}

// readLimited reads r fully, failing rather than truncating when it holds
// more than maxPlaylistSize bytes.
func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxPlaylistSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxPlaylistSize {
		return nil, ErrTooLarge
	}
	return body, nil
}

// maybeGunzip decodes body when it starts with the gzip magic bytes.
func maybeGunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("opening gzip body: %w", err)
	}
	defer zr.Close()

	out, err := readLimited(zr)
	if err != nil {
		return nil, fmt.Errorf("decoding gzip body: %w", err)
	}
	return out, nil
}
