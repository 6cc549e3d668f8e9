package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"m3u-catalog/work/config"
	"m3u-catalog/work/logger"
	"m3u-catalog/work/pipeline"
	"m3u-catalog/work/utils"

	"github.com/spf13/cobra"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "m3u-catalog",
		Short:        "Build a curated channel catalog from M3U playlists",
		Long:         "m3u-catalog fetches IPTV playlists, cleans and filters their channels,\nmerges them into a JSON catalog and optionally serves it over HTTP.",
		Version:      Version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         importCmdRun,
	}
	rootCmd.PersistentFlags().String("config", config.DefaultPath, "Path to the JSON config file")
	rootCmd.Flags().Bool("write-example", false, "Write an example config to --config and exit")

	// Import command
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Fetch all sources and rewrite the catalog",
		Args:  cobra.NoArgs,
		RunE:  importCmdRun,
	}

	// Probe command
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the persisted catalog and keep working channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := setup(cmd)
			if err != nil {
				return err
			}
			return runProbe(cmd.Context(), p)
		},
	}

	// Groups command
	groupsCmd := &cobra.Command{
		Use:   "groups",
		Short: "List raw group-title values per source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := setup(cmd)
			if err != nil {
				return err
			}
			return runGroups(cmd.Context(), p)
		},
	}

	// Download command
	downloadCmd := &cobra.Command{
		Use:   "download <file>",
		Short: "Save a source playlist verbatim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := setup(cmd)
			if err != nil {
				return err
			}
			source, _ := cmd.Flags().GetString("source")
			return runDownload(cmd.Context(), p, source, args[0])
		},
	}
	downloadCmd.Flags().String("source", "", "Source name to download (default: first source)")

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog over HTTP and re-import periodically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, p, err := setup(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("config")
			return runServe(cmd.Context(), path, cfg, p)
		},
	}

	rootCmd.AddCommand(importCmd, probeCmd, groupsCmd, downloadCmd, serveCmd)
	return rootCmd
}

func importCmdRun(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Lookup("write-example") != nil {
		if write, _ := cmd.Flags().GetBool("write-example"); write {
			path, _ := cmd.Flags().GetString("config")
			if err := config.CreateExampleConfig(path); err != nil {
				return fmt.Errorf("writing example config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Example config written to %s\n", path)
			return nil
		}
	}

	_, p, err := setup(cmd)
	if err != nil {
		return err
	}
	return runImport(cmd.Context(), p)
}

// setup loads the config named by --config, applies its logging settings
// and wires a pipeline.
func setup(cmd *cobra.Command) (*config.Config, *pipeline.Pipeline, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	// Set up logging
	logger.SetLogLevel(cfg.LogLevel)
	utils.SetObfuscation(cfg.ObfuscateUrls)

	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating pipeline: %w", err)
	}
	return cfg, p, nil
}
