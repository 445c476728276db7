// Package main implements the solpivot command: it extracts simulation
// results from engine archives into per-scenario CSV datasets and offers the
// maintenance commands around that output tree.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/HatiCode/solpivot/cmd/solpivot/config"
	"github.com/HatiCode/solpivot/cmd/solpivot/logger"
	"github.com/HatiCode/solpivot/pkg/catalog"
	"github.com/HatiCode/solpivot/pkg/dataset"
)

const version = "v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCMD().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func rootCMD() *cobra.Command {
	root := &cobra.Command{
		Use:           "solpivot",
		Short:         "Extract simulation engine results into CSV datasets",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default ./solpivot.yaml or ./config/solpivot.yaml)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (text or json)")

	root.AddCommand(
		extractCMD(),
		consolidateCMD(),
		renameCMD(),
		exportCMD(),
		pivotCMD(),
		horizonCMD(),
		planCMD(),
		catalogCMD(),
		reportCMD(),
		relayCMD(),
	)
	return root
}

// app is what every command starts from.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

// setup loads and validates the configuration and installs the logger.
// Any failure here is fatal for the command.
func setup(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	l := logger.NewWithWriter(cfg.Log, cmd.OutOrStdout())
	slog.SetDefault(l)
	return &app{cfg: cfg, logger: l}, nil
}

// catalog returns the configured catalog, or the built-in one.
func (a *app) catalog() (*catalog.Catalog, error) {
	if a.cfg.Catalog == "" {
		return catalog.Default(), nil
	}
	c, err := catalog.LoadFile(a.cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return c, nil
}

// layout is the output tree of the configured period.
func (a *app) layout() dataset.Layout {
	return dataset.Layout{Root: a.cfg.OutputDir, Period: a.cfg.Period}
}

// rootDir returns the --root flag when set, else the configured period tree.
func (a *app) rootDir(cmd *cobra.Command) string {
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		return root
	}
	return a.layout().PeriodDir()
}
