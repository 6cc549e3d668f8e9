package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChannelsParsed counts channel records emitted by the parser per source.
var ChannelsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "m3u_catalog_channels_parsed_total",
	Help: "Channel records parsed from source playlists",
}, []string{"source"})

// DirectivesDiscarded counts #EXTINF directives that never got a URL line.
var DirectivesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "m3u_catalog_directives_discarded_total",
	Help: "Directives dropped because no URL line followed",
}, []string{"source"})

// ChannelsRejected counts channels removed by the policy filter, labelled
// with the deciding rule.
var ChannelsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "m3u_catalog_channels_rejected_total",
	Help: "Channels rejected by policy",
}, []string{"reason"})

// ProbeResults counts reachability verdicts.
var ProbeResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "m3u_catalog_probe_results_total",
	Help: "Reachability probe verdicts",
}, []string{"verdict"})

// ProbeDuration observes the latency of individual probes.
var ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "m3u_catalog_probe_duration_seconds",
	Help:    "Duration of single reachability probes",
	Buckets: prometheus.DefBuckets,
})

// CatalogSize is the number of channels in the last written catalog.
var CatalogSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "m3u_catalog_channels",
	Help: "Channels in the last written catalog",
})

// ImportRuns counts pipeline runs by outcome ("success" or the failing stage).
var ImportRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "m3u_catalog_import_runs_total",
	Help: "Import pipeline runs by outcome",
}, []string{"outcome"})

// HTTPRequests counts read-side requests served per route and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "m3u_catalog_http_requests_total",
	Help: "HTTP requests served",
}, []string{"route", "code"})
