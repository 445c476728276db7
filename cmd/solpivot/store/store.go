// Package store opens the run journal selected by the configuration.
//
//   - memory: kept for the life of the process, enough for /progress.
//   - sqlite: a file database that keeps run history for the report command.
//
// New is fail-fast: a journal that cannot be opened ends the process before
// any scenario is touched.
package store

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/HatiCode/solpivot/cmd/solpivot/config"
	"github.com/HatiCode/solpivot/pkg/journal"
)

// Open creates the journal described by cfg.
func Open(cfg config.JournalConfig) (journal.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return journal.NewMemoryStore(), nil
	case "sqlite":
		s, err := journal.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(); err != nil {
			s.Close()
			return nil, fmt.Errorf("journal: ping %s: %w", cfg.Path, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", cfg.Driver)
	}
}

// New is Open that exits the process on failure.
func New(cfg config.JournalConfig, logger *slog.Logger) journal.Store {
	s, err := Open(cfg)
	if err != nil {
		logger.Error("failed to open journal", "driver", cfg.Driver, "path", cfg.Path, "error", err)
		os.Exit(1)
	}
	logger.Info("journal ready", "driver", cfg.Driver, "path", cfg.Path)
	return s
}
