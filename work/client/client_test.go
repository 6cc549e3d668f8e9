package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"m3u-catalog/work/config"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playlist = "#EXTM3U\n#EXTINF:-1,Tail\nhttp://cdn.example/tail.m3u8\n"

func withLimit(t *testing.T, limit int64) {
	t.Helper()
	old := maxPlaylistSize
	maxPlaylistSize = limit
	t.Cleanup(func() { maxPlaylistSize = old })
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFetchRemoteSendsSourceHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TiviMate/4.7.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "https://origin.example", r.Header.Get("Origin"))
		w.Write([]byte(playlist))
	}))
	defer srv.Close()

	hsc := NewHeaderSettingClient("default-agent", 5*time.Second)
	body, err := hsc.Fetch(context.Background(), &config.SourceConfig{
		Name:      "remote",
		URL:       srv.URL,
		UserAgent: "TiviMate/4.7.0",
		ReqOrigin: "https://origin.example",
	})

	require.NoError(t, err)
	assert.Equal(t, playlist, string(body))
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewHeaderSettingClient("ua", 5*time.Second).Fetch(context.Background(), &config.SourceConfig{URL: srv.URL})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
}

func TestFetchDecodesGzipFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.m3u.gz")
	require.NoError(t, os.WriteFile(path, gzipped(t, playlist), 0644))

	body, err := NewHeaderSettingClient("ua", time.Second).Fetch(context.Background(), &config.SourceConfig{URL: path})

	require.NoError(t, err)
	assert.Equal(t, playlist, string(body))
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	withLimit(t, 64)
	big := strings.Repeat("#c\n", 40) + playlist

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))
	defer srv.Close()

	hsc := NewHeaderSettingClient("ua", 5*time.Second)
	body, err := hsc.Fetch(context.Background(), &config.SourceConfig{URL: srv.URL})
	assert.Nil(t, body)
	assert.ErrorIs(t, err, ErrTooLarge)

	path := filepath.Join(t.TempDir(), "big.m3u")
	require.NoError(t, os.WriteFile(path, []byte(big), 0644))
	_, err = hsc.Fetch(context.Background(), &config.SourceConfig{URL: path})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetchRejectsOversizedGzipContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bomb.m3u.gz")
	compressed := gzipped(t, strings.Repeat("#", 4096))
	require.NoError(t, os.WriteFile(path, compressed, 0644))
	withLimit(t, int64(len(compressed))+16)

	_, err := NewHeaderSettingClient("ua", time.Second).Fetch(context.Background(), &config.SourceConfig{URL: path})

	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestReadLimitedAtLimit(t *testing.T) {
	withLimit(t, 4)

	body, err := readLimited(strings.NewReader("abcd"))
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(body))

	_, err = readLimited(strings.NewReader("abcde"))
	assert.ErrorIs(t, err, ErrTooLarge)
}
