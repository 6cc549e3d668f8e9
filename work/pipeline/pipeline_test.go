package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"m3u-catalog/work/catalog"
	"m3u-catalog/work/config"
	"m3u-catalog/work/deadstreams"
	"m3u-catalog/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioPlaylist = `#EXTM3U billed-till="4102444800"
#KODIPROP:inputstream.adaptive.license_key=K1:K2
#EXTINF:-1 tvg-id="star_plus" group-title="Tataplay|Entertainment",Star Plus
http://cdn.example/star.mpd
#EXTINF:-1 tvg-language="Tamil" group-title="News",Zee Tamil News
http://cdn.example/zee-tamil.m3u8
#EXTINF:-1 tvg-logo="http://logo.example/max.png" group-title="Tataplay :: MOVIES",Sony Max
http://cdn.example/sonymax.m3u8|User-Agent="KAIOS"
`

func testConfig(t *testing.T, playlist string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	source := filepath.Join(dir, "source.m3u")
	require.NoError(t, os.WriteFile(source, []byte(playlist), 0644))

	return &config.Config{
		WorkerThreads:   2,
		OutputPath:      filepath.Join(dir, "assets", "channels.json"),
		BackupEnabled:   true,
		DefaultCategory: "General",
		UserAgent:       config.DefaultFetchUserAgent,
		FetchTimeout:    5 * time.Second,
		Sources: []config.SourceConfig{
			{Name: "Tata Play", URL: source, ProviderPrefix: "Tataplay"},
		},
		Policy: config.PolicyConfig{
			ForbiddenLanguages: []string{"tamil", "telugu"},
		},
	}
}

func writeExisting(t *testing.T, cfg *config.Config, channels []*types.Channel) {
	t.Helper()
	require.NoError(t, catalog.NewWriter(cfg.OutputPath, false).Write(channels))
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t, scenarioPlaylist)
	writeExisting(t, cfg, []*types.Channel{
		{ID: "star_plus", Name: "Star Plus", URL: "http://cdn.example/star.mpd", Category: "Entertainment"},
	})

	p, err := New(cfg)
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Parsed)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 1, summary.Merge.Duplicates)
	assert.Equal(t, 1, summary.Merge.Enriched)
	assert.Equal(t, 1, summary.Merge.Added)
	assert.Equal(t, 2, summary.Written)
	assert.Contains(t, summary.Subscribed, "Tata Play")

	written, err := catalog.Load(cfg.OutputPath)
	require.NoError(t, err)
	require.Len(t, written, 2)

	assert.Equal(t, "star_plus", written[0].ID)
	assert.Equal(t, "K1:K2", written[0].LicenseKey)

	maxCh := written[1]
	assert.Equal(t, "sony_max", maxCh.ID)
	assert.Equal(t, "Movies", maxCh.Category)
	assert.Equal(t, "http://cdn.example/sonymax.m3u8", maxCh.URL)
	assert.Equal(t, "KAIOS", maxCh.UserAgent)
	assert.Equal(t, "http://logo.example/max.png", maxCh.Logo)

	backup, err := catalog.Load(cfg.BackupPath())
	require.NoError(t, err)
	assert.Len(t, backup, 1)
}

func TestRunIsIDStableAcrossReimports(t *testing.T) {
	cfg := testConfig(t, scenarioPlaylist)
	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)
	first, err := catalog.Load(cfg.OutputPath)
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	second, err := catalog.Load(cfg.OutputPath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 0, summary.Merge.Added)
	assert.Equal(t, 2, summary.Merge.Duplicates)
}

func TestRunFetchFailureLeavesCatalogUntouched(t *testing.T) {
	cfg := testConfig(t, scenarioPlaylist)
	existing := []*types.Channel{{ID: "keep", Name: "Keep", URL: "http://keep", Category: "News"}}
	writeExisting(t, cfg, existing)
	before, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)

	missing := filepath.Join(t.TempDir(), "missing.m3u")
	cfg.Sources = append(cfg.Sources, config.SourceConfig{Name: "Gone", URL: missing})

	p, err := New(cfg)
	require.NoError(t, err)
	_, err = p.Run(context.Background())

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageFetch, se.Stage)
	assert.Equal(t, missing, se.Resource)
	assert.Contains(t, err.Error(), missing)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	after, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunCorruptCatalogIsFatal(t *testing.T) {
	cfg := testConfig(t, scenarioPlaylist)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755))
	require.NoError(t, os.WriteFile(cfg.OutputPath, []byte("[{broken"), 0644))

	p, err := New(cfg)
	require.NoError(t, err)
	_, err = p.Run(context.Background())

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageLoad, se.Stage)

	data, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "[{broken", string(data))
}

func TestRunFetchesRemoteSourceWithUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "TiviMate/4.7.0" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(scenarioPlaylist))
	}))
	defer srv.Close()

	cfg := testConfig(t, "")
	cfg.Sources[0].URL = srv.URL + "/playlist.m3u"
	cfg.Sources[0].UserAgent = "TiviMate/4.7.0"

	p, err := New(cfg)
	require.NoError(t, err)
	summary, err := p.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Written)
}

func TestRunProbeFallsBackToFullSetAndReports(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	playlist := strings.Join([]string{
		"#EXTINF:-1,One",
		srv.URL + "/one",
		"#EXTINF:-1,Two",
		srv.URL + "/two",
	}, "\n")

	cfg := testConfig(t, playlist)
	cfg.ReportPath = filepath.Join(t.TempDir(), "broken.json")
	cfg.Probe = config.ProbeConfig{Enabled: true, Concurrency: 2, Timeout: time.Second}

	p, err := New(cfg)
	require.NoError(t, err)
	summary, err := p.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, summary.FellBack)
	assert.Equal(t, 2, summary.Written)

	report, err := deadstreams.LoadDeadStreams(cfg.ReportPath)
	require.NoError(t, err)
	assert.Len(t, report.DeadStreams, 2)
}

func TestProbeCatalogKeepsWorkingSubset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dead" {
			w.WriteHeader(http.StatusGone)
		}
	}))
	defer srv.Close()

	cfg := testConfig(t, "")
	cfg.Probe = config.ProbeConfig{Concurrency: 2, Timeout: time.Second}
	writeExisting(t, cfg, []*types.Channel{
		{ID: "live", Name: "Live", URL: srv.URL + "/live", Category: "News"},
		{ID: "dead", Name: "Dead", URL: srv.URL + "/dead", Category: "News"},
	})

	p, err := New(cfg)
	require.NoError(t, err)
	summary, err := p.ProbeCatalog(context.Background())

	require.NoError(t, err)
	assert.False(t, summary.FellBack)
	written, err := catalog.Load(cfg.OutputPath)
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, "live", written[0].ID)
}

func TestReachabilityCheckRepairsDuplicateIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dead" {
			w.WriteHeader(http.StatusGone)
		}
	}))
	defer srv.Close()

	cfg := testConfig(t, "")
	cfg.Probe = config.ProbeConfig{Concurrency: 2, Timeout: time.Second}
	writeExisting(t, cfg, []*types.Channel{
		{ID: "a", Name: "Dead", URL: srv.URL + "/dead", Category: "News"},
		{ID: "a", Name: "Live", URL: srv.URL + "/live", Category: "News"},
		{ID: "a", Name: "Also Live", URL: srv.URL + "/live2", Category: "News"},
	})

	p, err := New(cfg)
	require.NoError(t, err)
	_, err = p.ProbeCatalog(context.Background())
	require.NoError(t, err)

	written, err := catalog.Load(cfg.OutputPath)
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, "Live", written[0].Name)
	assert.Equal(t, "Also Live", written[1].Name)
	assert.NotEqual(t, written[0].ID, written[1].ID)
}

func TestRunReachabilitySetupFailureIsStageError(t *testing.T) {
	cfg := testConfig(t, scenarioPlaylist)
	cfg.Probe = config.ProbeConfig{Enabled: true, RatePerHost: -1}

	p, err := New(cfg)
	require.NoError(t, err)
	_, err = p.Run(context.Background())

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageProbe, se.Stage)
	assert.Equal(t, cfg.OutputPath, se.Resource)

	_, statErr := os.Stat(cfg.OutputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestGroupsAndDownload(t *testing.T) {
	cfg := testConfig(t, scenarioPlaylist)
	p, err := New(cfg)
	require.NoError(t, err)

	groups, err := p.Groups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "News", groups[0].Group)
	assert.Equal(t, "Tataplay :: MOVIES", groups[1].Group)
	assert.Equal(t, "Tataplay|Entertainment", groups[2].Group)

	out := filepath.Join(t.TempDir(), "copy.m3u")
	n, err := p.Download(context.Background(), "", out)
	require.NoError(t, err)
	assert.Equal(t, len(scenarioPlaylist), n)

	_, err = p.Download(context.Background(), "Nope", out)
	assert.Error(t, err)
}

func TestRunExtraChannels(t *testing.T) {
	cfg := testConfig(t, scenarioPlaylist)
	cfg.ExtraChannels = []types.Channel{
		{Name: "DD Sahyadri", URL: "http://dd.example/sahyadri.m3u8"},
		{Name: "No URL"},
	}

	p, err := New(cfg)
	require.NoError(t, err)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Extra)

	written, err := catalog.Load(cfg.OutputPath)
	require.NoError(t, err)
	last := written[len(written)-1]
	assert.Equal(t, "dd_sahyadri", last.ID)
	assert.Equal(t, "General", last.Category)
}

func TestReloadAppliesChangedFilters(t *testing.T) {
	cfg := testConfig(t, scenarioPlaylist)
	cfg.Sources[0].NameIncludeRegex = "(?i)^star"

	p, err := New(cfg)
	require.NoError(t, err)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Written)

	next := *cfg
	next.Sources = []config.SourceConfig{cfg.Sources[0]}
	next.Sources[0].NameIncludeRegex = ""
	require.NoError(t, p.Reload(&next))

	summary, err = p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Filtered)
	assert.Equal(t, 2, summary.Written)
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{Stage: StageWrite, Resource: "/tmp/x.json", Err: errors.New("disk full")}

	assert.Equal(t, "write stage failed for /tmp/x.json: disk full", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "disk full")
}
