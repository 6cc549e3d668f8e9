package catalog

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"m3u-catalog/work/cache"
	"m3u-catalog/work/logger"
	"m3u-catalog/work/types"
	"m3u-catalog/work/utils"

	"golang.org/x/crypto/blake2b"
)

// maxCatalogSize caps how much of a remote catalog is read into memory.
var maxCatalogSize int64 = 64 << 20

// View is the read side of a catalog: the channels, their category
// grouping, and the serialized form served to clients.
type View struct {
	Channels   []*types.Channel
	Categories []types.Category
	Body       []byte // JSON array of Channels
	ETag       string // Quoted blake2b digest of Body
	LoadedAt   time.Time
}

// Category returns the named category, matched exactly.
func (v *View) Category(name string) (types.Category, bool) {
	for _, c := range v.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return types.Category{}, false
}

// Reader loads catalogs from a local path or a remote URL and keeps the
// resulting view for a max-age. Refresh drops the cached view.
type Reader struct {
	location string
	allowed  []string
	client   *http.Client
	views    *cache.Cache[*View]
	now      func() time.Time
}

// NewReader returns a reader for location. allowed restricts the view to
// the listed categories when non-empty. A nil client uses a 30s default.
func NewReader(location string, maxAge time.Duration, allowed []string, client *http.Client) *Reader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Reader{
		location: location,
		allowed:  allowed,
		client:   client,
		views:    cache.NewCache[*View](maxAge, 16),
		now:      time.Now,
	}
}

// Location is where the reader loads from.
func (r *Reader) Location() string {
	return r.location
}

// Load returns the cached view if it is still fresh, otherwise loads and
// caches a new one. Errors are returned separately and never cached.
func (r *Reader) Load(ctx context.Context) (*View, error) {
	if v, ok := r.views.Get(r.location); ok {
		return v, nil
	}

	data, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}

	channels, err := Decode(data)
	if err != nil {
		return nil, err
	}

	view, err := NewView(FilterCategories(channels, r.allowed), r.now())
	if err != nil {
		return nil, err
	}

	r.views.Set(r.location, view)
	logger.Debug("{catalog/reader - Load} Loaded %d channels in %d categories from %s",
		len(view.Channels), len(view.Categories), utils.LogURL(r.location))
	return view, nil
}

// Refresh forces the next Load to read the catalog again.
func (r *Reader) Refresh() {
	r.views.Invalidate(r.location)
}

// MaxAge is how long a loaded view is served before it is reloaded.
func (r *Reader) MaxAge() time.Duration {
	return r.views.Duration()
}

// NewView groups channels and precomputes the served body and its ETag.
func NewView(channels []*types.Channel, loadedAt time.Time) (*View, error) {
	if channels == nil {
		channels = []*types.Channel{}
	}

	body, err := json.Marshal(channels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal catalog view: %w", err)
	}

	sum := blake2b.Sum256(body)
	return &View{
		Channels:   channels,
		Categories: Group(channels),
		Body:       body,
		ETag:       `"` + hex.EncodeToString(sum[:16]) + `"`,
		LoadedAt:   loadedAt,
	}, nil
}

func (r *Reader) fetch(ctx context.Context) ([]byte, error) {
	if !utils.IsRemote(r.location) {
		data, err := os.ReadFile(r.location)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", r.location, err)
		}
		return data, nil
	}

	u, err := url.Parse(r.location)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog url: %w", err)
	}
	// cache busting for CDNs that ignore Cache-Control
	q := u.Query()
	q.Set("t", strconv.FormatInt(r.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog %s: %w", utils.LogURL(r.location), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch catalog %s: status %d", utils.LogURL(r.location), resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", utils.LogURL(r.location), err)
	}
	if int64(len(data)) > maxCatalogSize {
		return nil, fmt.Errorf("catalog %s exceeds %d bytes", utils.LogURL(r.location), maxCatalogSize)
	}
	return data, nil
}
