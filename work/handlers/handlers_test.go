package handlers

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"m3u-catalog/work/catalog"
	"m3u-catalog/work/types"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) *mux.Router {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels.json")
	require.NoError(t, catalog.NewWriter(path, false).Write([]*types.Channel{
		{ID: "star_plus", Name: "Star Plus", URL: "http://cdn.example/star.mpd", Category: "Entertainment"},
		{ID: "aaj_tak", Name: "Aaj Tak", URL: "http://cdn.example/aajtak.m3u8", Category: "News"},
		{ID: "colors", Name: "Colors", URL: "http://cdn.example/colors.m3u8", Category: "Entertainment"},
	}))

	router := mux.NewRouter()
	Register(router, catalog.NewReader(path, time.Minute, nil, nil))
	return router
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleChannelsETag(t *testing.T) {
	router := testRouter(t)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/channels.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var channels []*types.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &channels))
	assert.Len(t, channels, 3)

	req := httptest.NewRequest(http.MethodGet, "/channels.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec = serve(router, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestHandleChannelsGzip(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/channels.json", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := serve(router, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)

	var channels []*types.Channel
	require.NoError(t, json.Unmarshal(body, &channels))
	assert.Len(t, channels, 3)

	req.Header.Set("If-None-Match", rec.Header().Get("ETag"))
	rec = serve(router, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestHandleCategories(t *testing.T) {
	router := testRouter(t)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/categories", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []categorySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []categorySummary{
		{ID: "Entertainment", Name: "Entertainment", Channels: 2},
		{ID: "News", Name: "News", Channels: 1},
	}, out)
}

func TestHandleCategory(t *testing.T) {
	router := testRouter(t)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/categories/News", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var category types.Category
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &category))
	assert.Equal(t, "News", category.Name)
	require.Len(t, category.Channels, 1)
	assert.Equal(t, "aaj_tak", category.Channels[0].ID)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/categories/Sports", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCategoryWithSlash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.json")
	require.NoError(t, catalog.NewWriter(path, false).Write([]*types.Channel{
		{ID: "pogo", Name: "Pogo", URL: "http://cdn.example/pogo.m3u8", Category: "Kids/Teens"},
	}))
	router := mux.NewRouter()
	Register(router, catalog.NewReader(path, time.Minute, nil, nil))

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/categories/Kids/Teens", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var category types.Category
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &category))
	assert.Equal(t, "Kids/Teens", category.Name)
	require.Len(t, category.Channels, 1)
}

func TestHandleHealth(t *testing.T) {
	router := testRouter(t)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var h health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 3, h.Channels)
}

func TestHandleHealthUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	router := mux.NewRouter()
	Register(router, catalog.NewReader(srv.URL+"/channels.json", time.Minute, nil, nil))

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/channels.json", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPreflight(t *testing.T) {
	router := testRouter(t)

	rec := serve(router, httptest.NewRequest(http.MethodOptions, "/channels.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "If-None-Match")
}

func TestEtagMatches(t *testing.T) {
	assert.True(t, etagMatches(`"abc"`, `"abc"`))
	assert.True(t, etagMatches(`"x", W/"abc"`, `"abc"`))
	assert.True(t, etagMatches("*", `"abc"`))
	assert.False(t, etagMatches("", `"abc"`))
	assert.False(t, etagMatches(`"abd"`, `"abc"`))
}
