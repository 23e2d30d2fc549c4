package persistence

import (
	"fmt"
	"path/filepath"

	"agentcore/pkg/config"
	"agentcore/pkg/plan"
	"agentcore/pkg/reasoning"
)

// Stores is the set of stores selected by the storage config. History and
// Runs are nil for the memory backend.
type Stores struct {
	Plans    plan.Store
	Outcomes reasoning.OutcomeStore
	History  HistoryStore
	// Runs is only backed by SQLite.
	Runs   *SQLiteStore
	closer func() error
}

// Close releases the backing database, if any.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Open builds the stores for cfg. A relative path is resolved against baseDir.
func Open(cfg config.StorageConfig, baseDir string) (*Stores, error) {
	path := cfg.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	switch cfg.Backend {
	case config.StorageMemory, "":
		return &Stores{Plans: plan.NewMemoryStore(), Outcomes: reasoning.NewMemoryStore()}, nil
	case config.StorageSQLite:
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return &Stores{Plans: s, Outcomes: s, History: s, Runs: s, closer: s.Close}, nil
	case config.StorageBadger:
		s, err := OpenBadger(path)
		if err != nil {
			return nil, err
		}
		return &Stores{Plans: s, Outcomes: s, History: s, closer: s.Close}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
