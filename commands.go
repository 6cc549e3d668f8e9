package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"m3u-catalog/work/catalog"
	"m3u-catalog/work/config"
	"m3u-catalog/work/handlers"
	"m3u-catalog/work/logger"
	"m3u-catalog/work/middleware"
	"m3u-catalog/work/pipeline"
	"m3u-catalog/work/utils"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func runImport(ctx context.Context, p *pipeline.Pipeline) error {
	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(summary)
	return nil
}

func runProbe(ctx context.Context, p *pipeline.Pipeline) error {
	summary, err := p.ProbeCatalog(ctx)
	if err != nil {
		return err
	}
	printSummary(summary)
	return nil
}

func runGroups(ctx context.Context, p *pipeline.Pipeline) error {
	groups, err := p.Groups(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tGROUP\tCHANNELS")
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", g.Source, g.Group, g.Count)
	}
	return tw.Flush()
}

func runDownload(ctx context.Context, p *pipeline.Pipeline, source, out string) error {
	n, err := p.Download(ctx, source, out)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %d bytes to %s\n", n, out)
	return nil
}

func printSummary(s *pipeline.Summary) {
	fmt.Printf("Sources:    %d\n", s.Sources)
	fmt.Printf("Parsed:     %d (%d directives discarded)\n", s.Parsed, s.Discarded)
	fmt.Printf("Filtered:   %d\n", s.Filtered)
	fmt.Printf("Rejected:   %d\n", s.Rejected)
	fmt.Printf("Merged:     %d added, %d duplicates, %d pruned, %d enriched, %d ids repaired\n",
		s.Merge.Added, s.Merge.Duplicates, s.Merge.Pruned, s.Merge.Enriched, s.Merge.Repaired)
	if s.Probe != nil {
		fmt.Printf("Probed:     %v\n", s.Probe.Counts)
		if s.FellBack {
			fmt.Println("WARNING: no channel passed the reachability check, the full set was saved")
		}
	}
	for name, until := range s.Subscribed {
		fmt.Printf("Subscription %q valid until %s\n", name, until.Format("2006-01-02"))
	}
	fmt.Printf("Written:    %d\n", s.Written)
}

// runServe imports once, then serves the catalog and re-imports on the
// configured interval until ctx is cancelled.
func runServe(ctx context.Context, cfgPath string, cfg *config.Config, p *pipeline.Pipeline) error {
	location := cfg.Serve.CatalogURL
	if location == "" {
		location = cfg.OutputPath
	}
	reader := catalog.NewReader(location, cfg.Serve.MaxAge, cfg.Serve.AllowedCategories, nil)

	// show info
	logger.Info("Starting m3u-catalog %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Address: %s", cfg.Serve.Addr)
	logger.Info("  - Catalog: %s", utils.LogURL(reader.Location()))
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Sources: %d", len(cfg.Sources))
	logger.Info("  - Source Refresh Rate: %s", cfg.ImportRefreshInterval)
	logger.Info("  - View Max. Age: %s", cfg.Serve.MaxAge)
	logger.Info("  - Allowed Categories: %v", cfg.Serve.AllowedCategories)
	logger.Info("  - Probe Enabled: %v", cfg.Probe.Enabled)
	logger.Info("  - Log Level: %s", logger.GetLogLevel())
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// a remote catalog is owned by someone else; only import into our own file
	if cfg.Serve.CatalogURL == "" && len(cfg.Sources) > 0 {
		// Initial import
		if _, err := p.Run(ctx); err != nil {
			logger.Error("{main/commands - runServe} initial import failed, serving previous catalog: %v", err)
		}
		go importLoop(ctx, cfgPath, p, reader, cfg.ImportRefreshInterval)
	}

	// Setup HTTP routes
	router := mux.NewRouter()
	handlers.Register(router, reader)

	// Metrics handler
	router.Handle("/metrics", middleware.Gzip(promhttp.Handler())).Methods("GET")

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("{main/commands - runServe} shutdown: %v", err)
		}
	}()

	// fire us up
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("{main/commands - runServe} server stopped")
	return nil
}

// importLoop re-reads the config file and re-imports on every tick, like
// a graceful restart. A broken config keeps the previous one.
func importLoop(ctx context.Context, cfgPath string, p *pipeline.Pipeline, reader *catalog.Reader, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug("{main/commands - importLoop} scheduled re-import")
			if cfg, err := config.LoadConfig(cfgPath); err != nil {
				logger.Error("{main/commands - importLoop} keeping previous config: %v", err)
			} else if err := p.Reload(cfg); err != nil {
				logger.Error("{main/commands - importLoop} keeping previous config: %v", err)
			}
			if _, err := p.Run(ctx); err != nil {
				logger.Error("{main/commands - importLoop} re-import failed: %v", err)
				continue
			}
			reader.Refresh()
		}
	}
}
