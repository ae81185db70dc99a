// Package storage opens the run ledger selected by configuration.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tjfontaine/threadsketch/internal/config"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/storage/memory"
	"github.com/tjfontaine/threadsketch/internal/storage/sqlite"
)

// Open returns the RunStore for cfg.
func Open(cfg config.LedgerConfig) (ports.RunStore, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "./threadsketch.db"
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create ledger directory: %w", err)
			}
		}
		return sqlite.New(path)
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.Type)
	}
}
