package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/HatiCode/solpivot/cmd/solpivot/bridge"
	"github.com/HatiCode/solpivot/cmd/solpivot/metrics"
	"github.com/HatiCode/solpivot/cmd/solpivot/router"
	"github.com/HatiCode/solpivot/cmd/solpivot/store"
	"github.com/HatiCode/solpivot/pkg/capacity"
	"github.com/HatiCode/solpivot/pkg/catalog"
	"github.com/HatiCode/solpivot/pkg/consolidate"
	"github.com/HatiCode/solpivot/pkg/dataset"
	"github.com/HatiCode/solpivot/pkg/errlog"
	"github.com/HatiCode/solpivot/pkg/extract"
	"github.com/HatiCode/solpivot/pkg/horizon"
	"github.com/HatiCode/solpivot/pkg/httpx"
)

func extractCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract every configured collection from every scenario archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			return a.extract(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.String("input-dir", "", "directory holding the scenario archives")
	f.String("output-dir", "", "root of the output tree")
	f.StringSlice("scenario", nil, "scenario to extract (repeatable; default every archive in --input-dir)")
	f.String("period", "", "result period (Interval, Day, Week, Month, Quarter, FiscalYear)")
	f.String("chunk", "", "window size for unbounded collections (yearly, monthly, daily)")
	f.StringSlice("collection", nil, "collection name or id (repeatable; default every catalog collection)")
	f.Bool("parallel", false, "run units concurrently")
	f.Int("workers", 0, "worker count with --parallel (0 sizes from the host's cores)")
	f.Duration("query-timeout", 0, "deadline of one bridge call")
	f.String("error-log", "", "error log file")
	f.String("catalog", "", "catalog YAML file (default built-in)")
	f.String("bridge", "", "bridge address")
	f.String("transport", "", "bridge transport (http or grpc)")
	f.String("journal", "", "sqlite journal file")
	f.String("metrics-listen", "", "address serving /metrics, /healthz and /progress during the run")
	f.Bool("no-consolidate", false, "skip addendum consolidation")
	return cmd
}

func (a *app) extract(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	cat, err := a.catalog()
	if err != nil {
		return err
	}
	collections, err := resolveCollections(cat, cfg.Collections)
	if err != nil {
		return err
	}

	scenarios, err := extract.DiscoverScenarios(cfg.InputDir, cfg.Scenarios)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		logger.Warn("no scenario archives found", "input_dir", cfg.InputDir)
		return nil
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("output directory: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	journal := store.New(cfg.Journal, logger)
	defer journal.Close()

	br, err := bridge.New(cfg.Bridge)
	if err != nil {
		return err
	}
	defer br.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := br.Ping(pingCtx); err != nil {
		logger.Warn("bridge is not answering, units will fail until it does",
			"transport", cfg.Bridge.Transport, "address", cfg.Bridge.Address, "error", err)
	}
	cancel()

	deps := extract.Deps{
		Opener:   br,
		Horizons: horizon.NewReader(logger),
		Catalog:  cat,
		Writer:   dataset.NewWriter(a.layout(), logger),
		ErrLog:   errlog.New(cfg.ErrorLog),
		Journal:  journal,
		Metrics:  m,
	}
	if !cfg.Consolidate.Skip {
		deps.Consolidator = consolidate.New(logger, cfg.Consolidate.Markers...)
	}

	workers := cfg.Workers
	if cfg.Parallel && workers == 0 {
		workers = capacity.HostWorkers(capacity.Policy{
			Fraction:     cfg.WorkerFraction,
			MinWorkers:   1,
			RoundingMode: "round",
		})
	}

	ex, err := extract.New(extract.Config{
		Period:       cfg.PeriodValue(),
		Chunk:        cfg.ChunkValue(),
		QueryTimeout: cfg.QueryTimeout,
		Parallel:     cfg.Parallel,
		Workers:      workers,
	}, deps, logger)
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		mux := router.SetupRoutes(journal, reg, logger)
		srv := httpx.NewServer(cfg.Metrics.Listen, httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux)), logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			if err := srv.Stop(10 * time.Second); err != nil {
				logger.Error("status server shutdown failed", "error", err)
			}
		}()
	}

	summary, runErr := ex.Run(ctx, scenarios, collections)

	if summary.Failures > 0 {
		logger.Warn("some units failed", "failures", summary.Failures, "error_log", cfg.ErrorLog)
	}
	if cfg.Metrics.Textfile != "" {
		if err := prometheus.WriteToTextfile(cfg.Metrics.Textfile, reg); err != nil {
			logger.Error("failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("extraction interrupted after %d of %d units", summary.Units, summary.Units+summary.Cancelled)
	}
	return runErr
}

func resolveCollections(cat *catalog.Catalog, refs []string) ([]int, error) {
	ids := make([]int, 0, len(refs))
	for _, ref := range refs {
		col, err := cat.ResolveCollection(ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, col.ID)
	}
	return ids, nil
}
