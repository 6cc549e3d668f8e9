package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"m3u-catalog/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCatalog() []*types.Channel {
	return []*types.Channel{
		{
			ID:         "star_plus",
			Name:       "Star Plus",
			URL:        "https://cdn.example/star.mpd",
			Logo:       "https://logo.example/star.png",
			Category:   "Entertainment",
			Language:   "Hindi",
			LicenseKey: "aa:bb",
			UserAgent:  "PlayboxTV/1.0",
			Headers:    map[string]string{"Referer": "https://ref.example/"},
		},
		{ID: "dd_news", Name: "DD News", URL: "http://dd.example/live.m3u8", Category: "News"},
		{ID: "zee_marathi", Name: "Zee Marathi", URL: "http://zee.example/m.m3u8", Category: "Entertainment"},
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets", "channels.json")
	w := NewWriter(path, true)

	require.NoError(t, w.Write(sampleCatalog()))
	loaded, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, sampleCatalog(), loaded)
}

func TestWriteFieldConventions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.json")
	require.NoError(t, NewWriter(path, false).Write(sampleCatalog()[1:2]))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	body := string(data)
	assert.Contains(t, body, `"logo": ""`)
	assert.NotContains(t, body, "licenseKey")
	assert.NotContains(t, body, "language")
	assert.NotContains(t, body, "headers")
}

func TestWriteBacksUpPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.json")
	w := NewWriter(path, true)

	require.NoError(t, w.Write(sampleCatalog()[:1]))
	_, err := os.Stat(path + BackupSuffix)
	assert.True(t, os.IsNotExist(err), "no backup before the first overwrite")

	require.NoError(t, w.Write(sampleCatalog()))

	backup, err := Load(path + BackupSuffix)
	require.NoError(t, err)
	assert.Len(t, backup, 1)

	current, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, current, 3)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestWriteNilIsEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.json")
	require.NoError(t, NewWriter(path, false).Write(nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		channels, err := Load(filepath.Join(dir, "nope.json"))
		require.NoError(t, err)
		assert.Empty(t, channels)
	})

	t.Run("blank", func(t *testing.T) {
		path := filepath.Join(dir, "blank.json")
		require.NoError(t, os.WriteFile(path, []byte("  \n"), 0644))
		channels, err := Load(path)
		require.NoError(t, err)
		assert.Empty(t, channels)
	})

	t.Run("corrupt", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.json")
		require.NoError(t, os.WriteFile(path, []byte("[{"), 0644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestSelectWorking(t *testing.T) {
	channels := sampleCatalog()

	selected, fellBack := SelectWorking(channels, []types.Verdict{
		types.VerdictOK, types.VerdictTimeout, types.VerdictFail,
	})
	assert.False(t, fellBack)
	require.Len(t, selected, 1)
	assert.Equal(t, "star_plus", selected[0].ID)

	selected, fellBack = SelectWorking(channels, []types.Verdict{
		types.VerdictError, types.VerdictTimeout, types.VerdictFail,
	})
	assert.True(t, fellBack)
	assert.Len(t, selected, 3)

	selected, fellBack = SelectWorking(channels, []types.Verdict{"", types.VerdictFail})
	assert.False(t, fellBack)
	assert.Len(t, selected, 2)
}

func TestSelectWorkingWithRepeatedIDs(t *testing.T) {
	channels := []*types.Channel{
		{ID: "a", Name: "Dead", URL: "http://x/dead"},
		{ID: "a", Name: "Live", URL: "http://x/live"},
	}

	selected, fellBack := SelectWorking(channels, []types.Verdict{types.VerdictFail, types.VerdictOK})

	assert.False(t, fellBack)
	require.Len(t, selected, 1)
	assert.Equal(t, "Live", selected[0].Name)
}

func TestGroupKeepsFirstSeenOrder(t *testing.T) {
	groups := Group(sampleCatalog())

	require.Len(t, groups, 2)
	assert.Equal(t, "Entertainment", groups[0].ID)
	assert.Equal(t, groups[0].ID, groups[0].Name)
	assert.Len(t, groups[0].Channels, 2)
	assert.Equal(t, "News", groups[1].Name)
}

func TestFilterCategories(t *testing.T) {
	assert.Len(t, FilterCategories(sampleCatalog(), nil), 3)
	assert.Len(t, FilterCategories(sampleCatalog(), []string{"news"}), 1)
}

func TestReaderLocalCachesUntilRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.json")
	require.NoError(t, NewWriter(path, false).Write(sampleCatalog()[:1]))

	r := NewReader(path, time.Hour, nil, nil)
	view, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, view.Channels, 1)
	assert.NotEmpty(t, view.ETag)

	require.NoError(t, NewWriter(path, false).Write(sampleCatalog()))
	again, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, view, again)

	r.Refresh()
	fresh, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, fresh.Channels, 3)
	assert.NotEqual(t, view.ETag, fresh.ETag)

	_, ok := fresh.Category("News")
	assert.True(t, ok)
	_, ok = fresh.Category("Sports")
	assert.False(t, ok)
}

func TestReaderRemoteCacheBusting(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotEmpty(t, r.URL.Query().Get("t"))
		assert.Equal(t, "1", r.URL.Query().Get("v"))
		w.Write([]byte(`[{"id":"a","name":"A","url":"http://a","logo":"","category":"News"},{"id":"b","name":"B","url":"http://b","logo":"","category":"Sports"}]`))
	}))
	defer srv.Close()

	r := NewReader(srv.URL+"/channels.json?v=1", time.Hour, []string{"Sports"}, srv.Client())

	view, err := r.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Channels, 1)
	assert.Equal(t, "b", view.Channels[0].ID)

	_, err = r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestReaderRemoteErrorIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	r := NewReader(srv.URL, time.Hour, nil, srv.Client())

	_, err := r.Load(context.Background())
	assert.Error(t, err)

	fail.Store(false)
	view, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, view.Channels)
}

func TestReaderRejectsOversizedRemoteCatalog(t *testing.T) {
	old := maxCatalogSize
	maxCatalogSize = 32
	t.Cleanup(func() { maxCatalogSize = old })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"a","name":"A","url":"http://a","logo":"","category":"News"}]`))
	}))
	defer srv.Close()

	r := NewReader(srv.URL, time.Hour, nil, srv.Client())
	_, err := r.Load(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
	assert.Equal(t, time.Hour, r.MaxAge())
}
