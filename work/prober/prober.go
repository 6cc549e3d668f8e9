package prober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"m3u-catalog/work/logger"
	"m3u-catalog/work/metrics"
	"m3u-catalog/work/types"
	"m3u-catalog/work/utils"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

const (
	DefaultConcurrency = 10
	DefaultTimeout     = 5 * time.Second
	DefaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var unlimited = ratelimit.NewUnlimited()

// Options configure a Prober. Zero values fall back to the defaults.
type Options struct {
	Concurrency int           // Batch size and pool size
	Timeout     time.Duration // Per probe
	UserAgent   string        // Used when a channel carries none
	RatePerHost int           // Requests per second per host, 0 disables limiting
	FallbackGET bool          // Retry as GET when HEAD answers 405 or 501
}

// Result is the verdict for one channel.
type Result struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	URL        string        `json:"url"`
	Verdict    types.Verdict `json:"verdict"`
	StatusCode int           `json:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
}

// Report aggregates one probe run. Results are in input order.
type Report struct {
	Results []Result
	Counts  map[types.Verdict]int
}

// Verdicts lists the verdicts in input order, so verdict i belongs to the
// i-th probed channel even when ids repeat.
func (r *Report) Verdicts() []types.Verdict {
	out := make([]types.Verdict, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Verdict
	}
	return out
}

// Broken returns every result that is not OK, in input order.
func (r *Report) Broken() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Verdict != types.VerdictOK {
			out = append(out, res)
		}
	}
	return out
}

// Prober checks channel URLs for reachability. It never modifies the
// channels it is given.
type Prober struct {
	opts     Options
	client   *http.Client
	pool     *ants.Pool
	limiters *xsync.MapOf[string, ratelimit.Limiter]
}

// New builds a Prober around client. Redirects are not followed: a 3xx
// answer already counts as reachable. A nil client gets a default one.
func New(opts Options, client *http.Client) (*Prober, error) {
	if opts.RatePerHost < 0 {
		return nil, fmt.Errorf("invalid per-host rate %d", opts.RatePerHost)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	var c http.Client
	if client != nil {
		c = *client
	} else {
		c.Transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	pool, err := ants.NewPool(opts.Concurrency, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("creating probe pool: %w", err)
	}

	return &Prober{
		opts:     opts,
		client:   &c,
		pool:     pool,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
	}, nil
}

// Close releases the worker pool.
func (p *Prober) Close() {
	p.pool.Release()
}

// Probe checks every channel in fixed batches. Each batch completes before
// the next starts. Cancelling ctx aborts outstanding requests; channels of
// batches that never started are reported as ERROR.
func (p *Prober) Probe(ctx context.Context, channels []*types.Channel) *Report {
	results := make([]Result, len(channels))
	batchSize := p.opts.Concurrency

	logger.Info("{prober/prober - Probe} Probing %d channels in batches of %d (timeout %s)", len(channels), batchSize, p.opts.Timeout)

	for start := 0; start < len(channels); start += batchSize {
		end := min(start+batchSize, len(channels))

		if err := ctx.Err(); err != nil {
			for i := start; i < len(channels); i++ {
				results[i] = errorResult(channels[i], err)
			}
			break
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			ch := channels[i]
			wg.Add(1)
			err := p.pool.Submit(func() {
				defer wg.Done()
				results[i] = p.probeOne(ctx, ch)
			})
			if err != nil {
				wg.Done()
				results[i] = errorResult(ch, err)
			}
		}
		wg.Wait()

		logger.Debug("{prober/prober - Probe} Batch %d-%d of %d done", start+1, end, len(channels))
	}

	report := &Report{Results: results, Counts: make(map[types.Verdict]int)}
	for _, res := range results {
		report.Counts[res.Verdict]++
		metrics.ProbeResults.WithLabelValues(string(res.Verdict)).Inc()
	}

	logger.Info("{prober/prober - Probe} Done: %d OK, %d FAIL, %d TIMEOUT, %d ERROR",
		report.Counts[types.VerdictOK], report.Counts[types.VerdictFail],
		report.Counts[types.VerdictTimeout], report.Counts[types.VerdictError])

	return report
}

func (p *Prober) probeOne(ctx context.Context, ch *types.Channel) (res Result) {
	started := time.Now()
	res = Result{ID: ch.ID, Name: ch.Name, URL: ch.URL}

	defer func() {
		res.Duration = time.Since(started)
		metrics.ProbeDuration.Observe(res.Duration.Seconds())
	}()

	p.limiterFor(ch.URL).Take()

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	status, err := p.request(ctx, http.MethodHead, ch)
	if err == nil && p.opts.FallbackGET && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		logger.Debug("{prober/prober - probeOne} HEAD rejected with %d for %s, retrying as GET", status, utils.LogURL(ch.URL))
		status, err = p.request(ctx, http.MethodGet, ch)
	}

	res.StatusCode = status
	res.Verdict, res.Error = classify(status, err)
	if res.Verdict != types.VerdictOK {
		logger.Debug("{prober/prober - probeOne} %s %s: %s %s", res.Verdict, ch.Name, utils.LogURL(ch.URL), res.Error)
	}
	return res
}

// request sends one probe and returns the status code. The body is closed
// without being read.
func (p *Prober) request(ctx context.Context, method string, ch *types.Channel) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, ch.URL, nil)
	if err != nil {
		return 0, err
	}

	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}
	switch {
	case ch.UserAgent != "":
		req.Header.Set("User-Agent", ch.UserAgent)
	case req.Header.Get("User-Agent") == "":
		req.Header.Set("User-Agent", p.opts.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (p *Prober) limiterFor(rawURL string) ratelimit.Limiter {
	if p.opts.RatePerHost <= 0 {
		return unlimited
	}
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	limiter, _ := p.limiters.LoadOrCompute(host, func() ratelimit.Limiter {
		logger.Debug("{prober/prober - limiterFor} Created rate limiter for %s: %d req/sec", host, p.opts.RatePerHost)
		return ratelimit.New(p.opts.RatePerHost)
	})
	return limiter
}

func classify(status int, err error) (types.Verdict, string) {
	if err != nil {
		if isTimeout(err) {
			return types.VerdictTimeout, err.Error()
		}
		return types.VerdictError, err.Error()
	}
	if status >= 200 && status < 400 {
		return types.VerdictOK, ""
	}
	return types.VerdictFail, http.StatusText(status)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func errorResult(ch *types.Channel, err error) Result {
	return Result{ID: ch.ID, Name: ch.Name, URL: ch.URL, Verdict: types.VerdictError, Error: err.Error()}
}
