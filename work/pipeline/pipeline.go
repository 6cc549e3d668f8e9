package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"m3u-catalog/work/catalog"
	"m3u-catalog/work/client"
	"m3u-catalog/work/config"
	"m3u-catalog/work/deadstreams"
	"m3u-catalog/work/filter"
	"m3u-catalog/work/identity"
	"m3u-catalog/work/logger"
	"m3u-catalog/work/merge"
	"m3u-catalog/work/metrics"
	"m3u-catalog/work/normalize"
	"m3u-catalog/work/parser"
	"m3u-catalog/work/prober"
	"m3u-catalog/work/types"
	"m3u-catalog/work/utils"

	"golang.org/x/sync/errgroup"
)

// Pipeline runs catalog imports for one configuration.
type Pipeline struct {
	cfg        *config.Config
	client     *client.HeaderSettingClient
	filters    *filter.FilterManager
	normalizer *normalize.Normalizer
	policy     *filter.Policy
	writer     *catalog.Writer
	now        func() time.Time
}

// Summary describes a finished run.
type Summary struct {
	Sources    int
	Parsed     int // records emitted by the parser across all sources
	Discarded  int // directives without a URL line
	Filtered   int // dropped by per-source regex filters
	Rejected   int // dropped by policy
	Extra      int // curated channels appended from config
	Merge      merge.Result
	Probe      *prober.Report
	FellBack   bool // probing found nothing working; full set written
	Written    int
	Subscribed map[string]time.Time // billed-till per source, when advertised
}

// New wires a pipeline from cfg.
func New(cfg *config.Config) (*Pipeline, error) {
	rules := make([]normalize.LanguageRule, 0, len(cfg.Normalize.LanguageRules))
	for _, r := range cfg.Normalize.LanguageRules {
		rules = append(rules, normalize.LanguageRule{
			Language:   r.Language,
			Keywords:   r.Keywords,
			Categories: r.Categories,
			Label:      r.Label,
		})
	}

	n, err := normalize.New(normalize.Options{
		DefaultLabel:     cfg.DefaultCategory,
		ProviderPrefixes: cfg.Normalize.ProviderPrefixes,
		NamePrefixes:     cfg.Normalize.NamePrefixes,
		StripSuffixes:    cfg.Normalize.StripSuffixes,
		LanguageRules:    rules,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:        cfg,
		client:     client.NewHeaderSettingClient(cfg.UserAgent, cfg.FetchTimeout),
		filters:    filter.NewFilterManager(),
		normalizer: n,
		policy: filter.NewPolicy(filter.Rules{
			ForbiddenLanguages: cfg.Policy.ForbiddenLanguages,
			ForbiddenKeywords:  cfg.Policy.ForbiddenKeywords,
			AllowedGenres:      cfg.Policy.AllowedGenres,
			AllowedLanguages:   cfg.Policy.AllowedLanguages,
		}),
		writer: catalog.NewWriter(cfg.OutputPath, cfg.BackupEnabled),
		now:    time.Now,
	}, nil
}

// Reload swaps in a new configuration between runs. Compiled source
// filters are dropped so changed patterns take effect. It must not be
// called while a run is in progress.
func (p *Pipeline) Reload(cfg *config.Config) error {
	next, err := New(cfg)
	if err != nil {
		return err
	}

	p.filters.ClearFilters()
	next.filters = p.filters
	next.now = p.now
	*p = *next

	logger.Info("{pipeline/pipeline - Reload} Configuration reloaded: %d sources", len(cfg.Sources))
	return nil
}

// Run performs one full import. On error the persisted catalog is left as
// it was and the error is a *StageError.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	started := p.now()
	summary, err := p.run(ctx)
	if err != nil {
		outcome := "error"
		var se *StageError
		if errors.As(err, &se) {
			outcome = string(se.Stage)
		}
		metrics.ImportRuns.WithLabelValues(outcome).Inc()
		return nil, err
	}

	metrics.ImportRuns.WithLabelValues("success").Inc()
	logger.Info("{pipeline/pipeline - Run} Import finished in %s: %d parsed, %d rejected, %d added, %d written",
		p.now().Sub(started).Round(time.Millisecond), summary.Parsed, summary.Rejected, summary.Merge.Added, summary.Written)
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context) (*Summary, error) {
	existing, err := catalog.Load(p.cfg.OutputPath)
	if err != nil {
		return nil, stageErr(StageLoad, p.cfg.OutputPath, err)
	}
	logger.Info("{pipeline/pipeline - run} Existing catalog has %d channels", len(existing))

	bodies, err := p.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Sources: len(p.cfg.Sources), Subscribed: make(map[string]time.Time)}
	resolver := identity.NewResolver()
	var batch []*types.Channel

	for i := range p.cfg.Sources {
		source := &p.cfg.Sources[i]

		playlist, stats, err := parser.ParseSource(bodies[i], source)
		if err != nil {
			return nil, stageErr(StageParse, source.URL, err)
		}

		summary.Parsed += stats.Channels
		summary.Discarded += stats.Discarded
		metrics.ChannelsParsed.WithLabelValues(source.Name).Add(float64(stats.Channels))
		metrics.DirectivesDiscarded.WithLabelValues(source.Name).Add(float64(stats.Discarded))

		if until, ok := p.checkSubscription(source, playlist.Header); ok {
			summary.Subscribed[source.Name] = until
		}

		channels := filter.FilterChannels(playlist.Channels, source, p.filters)
		summary.Filtered += len(playlist.Channels) - len(channels)

		accepted := p.process(channels, source, resolver, summary)
		logger.Info("{pipeline/pipeline - run} Source %s: %d parsed, %d accepted", source.Name, stats.Channels, len(accepted))
		batch = append(batch, accepted...)
	}

	for _, extra := range p.extraChannels(resolver) {
		batch = append(batch, extra)
		summary.Extra++
	}

	summary.Merge = merge.Merge(existing, batch, p.policy)
	channels := summary.Merge.Channels
	logger.Info("{pipeline/pipeline - run} Merge: %d pruned, %d enriched, %d duplicates, %d added",
		summary.Merge.Pruned, summary.Merge.Enriched, summary.Merge.Duplicates, summary.Merge.Added)

	if p.cfg.PreferredLanguage != "" {
		merge.PreferFirst(channels, merge.LanguagePredicate(p.cfg.PreferredLanguage))
	}

	if p.cfg.Probe.Enabled {
		channels, err = p.probe(ctx, channels, summary)
		if err != nil {
			return nil, err
		}
	}

	if err := p.writer.Write(channels); err != nil {
		return nil, stageErr(StageWrite, p.writer.Path(), err)
	}
	summary.Written = len(channels)
	metrics.CatalogSize.Set(float64(len(channels)))
	if p.cfg.BackupEnabled && len(existing) > 0 {
		logger.Debug("{pipeline/pipeline - run} Previous catalog kept at %s", p.cfg.BackupPath())
	}

	return summary, nil
}

// process normalizes, identifies and policy-checks one source's channels.
func (p *Pipeline) process(channels []*types.Channel, source *config.SourceConfig, resolver *identity.Resolver, summary *Summary) []*types.Channel {
	n := p.normalizer.WithProviderPrefix(source.ProviderPrefix)
	accepted := make([]*types.Channel, 0, len(channels))

	for _, ch := range channels {
		ch.Name = n.Name(ch.Name)
		ch.Language = n.Language(ch.Language)

		raw := ch.Attr(parser.AttrGroupTitle)
		if strings.TrimSpace(raw) == "" {
			raw = ch.Attr(parser.AttrTvgGenre)
		}
		ch.Category = n.Category(raw, ch.Name, ch.Language)

		if d := p.policy.Evaluate(ch.Name, ch.Category, ch.Language); !d.Allowed {
			logger.Debug("{pipeline/pipeline - process} Rejected %q (%s %s)", ch.Name, d.Reason, d.Term)
			metrics.ChannelsRejected.WithLabelValues(string(d.Reason)).Inc()
			summary.Rejected++
			continue
		}

		ch.ID = resolver.Resolve(ch.Attr(parser.AttrTvgID), ch.Name)
		accepted = append(accepted, ch)
	}

	return accepted
}

// extraChannels turns the curated config entries into batch channels.
func (p *Pipeline) extraChannels(resolver *identity.Resolver) []*types.Channel {
	out := make([]*types.Channel, 0, len(p.cfg.ExtraChannels))
	for i := range p.cfg.ExtraChannels {
		ch := p.cfg.ExtraChannels[i].Clone()
		if ch.URL == "" {
			logger.Warn("{pipeline/pipeline - extraChannels} Skipping extra channel %q without url", ch.Name)
			continue
		}
		if strings.TrimSpace(ch.Category) == "" {
			ch.Category = p.normalizer.DefaultCategory()
		}
		ch.ID = resolver.Resolve(ch.ID, ch.Name)
		out = append(out, ch)
	}
	return out
}

// fetchAll downloads every source concurrently. Bodies are returned in
// configuration order.
func (p *Pipeline) fetchAll(ctx context.Context) ([][]byte, error) {
	bodies := make([][]byte, len(p.cfg.Sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.WorkerThreads, 1))

	for i := range p.cfg.Sources {
		source := &p.cfg.Sources[i]
		g.Go(func() error {
			body, err := p.client.Fetch(ctx, source)
			if err != nil {
				return stageErr(StageFetch, source.URL, err)
			}
			logger.Debug("{pipeline/pipeline - fetchAll} Fetched %d bytes from %s", len(body), utils.LogURL(source.URL))
			bodies[i] = body
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

// checkSubscription logs the billed-till date a provider advertises in
// its #EXTM3U header.
func (p *Pipeline) checkSubscription(source *config.SourceConfig, header map[string]string) (time.Time, bool) {
	raw := strings.TrimSpace(header["billed-till"])
	if raw == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Debug("{pipeline/pipeline - checkSubscription} Source %s: unparseable billed-till %q", source.Name, raw)
		return time.Time{}, false
	}

	until := time.Unix(secs, 0)
	days := int(until.Sub(p.now()).Hours() / 24)
	if days < 0 {
		logger.Warn("{pipeline/pipeline - checkSubscription} Source %s: subscription expired on %s", source.Name, until.Format("2006-01-02"))
	} else {
		logger.Info("{pipeline/pipeline - checkSubscription} Source %s: subscription valid until %s (%d days remaining)", source.Name, until.Format("2006-01-02"), days)
	}
	return until, true
}

func (p *Pipeline) probe(ctx context.Context, channels []*types.Channel, summary *Summary) ([]*types.Channel, error) {
	pr, err := prober.New(prober.Options{
		Concurrency: p.cfg.Probe.Concurrency,
		Timeout:     p.cfg.Probe.Timeout,
		UserAgent:   p.cfg.Probe.UserAgent,
		RatePerHost: p.cfg.Probe.RatePerHost,
		FallbackGET: p.cfg.Probe.FallbackGET,
	}, nil)
	if err != nil {
		return nil, stageErr(StageProbe, p.writer.Path(), err)
	}
	defer pr.Close()

	report := pr.Probe(ctx, channels)
	summary.Probe = report
	for _, res := range report.Broken() {
		logger.Debug("{pipeline/pipeline - probe} %s %s: %s", res.Verdict, res.Name, res.Error)
	}

	if p.cfg.ReportPath != "" {
		if _, err := deadstreams.Record(p.cfg.ReportPath, report.Results, p.now()); err != nil {
			return nil, stageErr(StageReport, p.cfg.ReportPath, err)
		}
	}

	selected, fellBack := catalog.SelectWorking(channels, report.Verdicts())
	if fellBack {
		summary.FellBack = true
		logger.Warn("{pipeline/pipeline - probe} WARNING: no channel passed the reachability check, saving all %d channels anyway", len(channels))
	}
	return selected, nil
}

// ProbeCatalog probes the persisted catalog and rewrites it with the
// working subset.
func (p *Pipeline) ProbeCatalog(ctx context.Context) (*Summary, error) {
	channels, err := catalog.Load(p.cfg.OutputPath)
	if err != nil {
		return nil, stageErr(StageLoad, p.cfg.OutputPath, err)
	}
	if repaired := identity.Repair(channels); repaired > 0 {
		logger.Warn("{pipeline/pipeline - ProbeCatalog} Repaired %d duplicate or missing ids in %s", repaired, p.cfg.OutputPath)
	}
	if len(channels) == 0 {
		logger.Warn("{pipeline/pipeline - ProbeCatalog} Catalog %s is empty, nothing to probe", p.cfg.OutputPath)
		return &Summary{}, nil
	}

	summary := &Summary{}
	selected, err := p.probe(ctx, channels, summary)
	if err != nil {
		return nil, err
	}

	if err := p.writer.Write(selected); err != nil {
		return nil, stageErr(StageWrite, p.writer.Path(), err)
	}
	summary.Written = len(selected)
	metrics.CatalogSize.Set(float64(len(selected)))
	return summary, nil
}

// GroupCount is a raw group-title and how many channels carry it.
type GroupCount struct {
	Source string
	Group  string
	Count  int
}

// Groups lists the unique raw group-title values of every source, sorted
// by source order then group name.
func (p *Pipeline) Groups(ctx context.Context) ([]GroupCount, error) {
	bodies, err := p.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	var out []GroupCount
	for i := range p.cfg.Sources {
		source := &p.cfg.Sources[i]
		playlist, _, err := parser.ParseSource(bodies[i], source)
		if err != nil {
			return nil, stageErr(StageParse, source.URL, err)
		}

		counts := make(map[string]int)
		for _, ch := range playlist.Channels {
			counts[strings.TrimSpace(ch.Attr(parser.AttrGroupTitle))]++
		}

		groups := make([]GroupCount, 0, len(counts))
		for g, c := range counts {
			groups = append(groups, GroupCount{Source: source.Name, Group: g, Count: c})
		}
		sort.SliceStable(groups, func(a, b int) bool { return groups[a].Group < groups[b].Group })
		out = append(out, groups...)
	}
	return out, nil
}

// Download saves a source playlist verbatim (gzip decoded) to out. An
// empty name selects the first source.
func (p *Pipeline) Download(ctx context.Context, name, out string) (int, error) {
	if len(p.cfg.Sources) == 0 {
		return 0, fmt.Errorf("no sources configured")
	}

	source := &p.cfg.Sources[0]
	if name != "" {
		if source = p.cfg.GetSourceByName(name); source == nil {
			return 0, fmt.Errorf("unknown source %q", name)
		}
	}

	body, err := p.client.Fetch(ctx, source)
	if err != nil {
		return 0, stageErr(StageFetch, source.URL, err)
	}
	if err := catalog.WriteFileAtomic(out, body, 0644); err != nil {
		return 0, stageErr(StageWrite, out, err)
	}
	return len(body), nil
}
