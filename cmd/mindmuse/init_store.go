package main

import (
	"fmt"
	"log/slog"

	"mindmuse/internal/adapter/store"
	"mindmuse/internal/domain"
	"mindmuse/internal/infra/config"
)

// storeComponents holds the persistence collaborators.
type storeComponents struct {
	DB          *store.SQLiteStore
	Settings    domain.SettingsStore
	Transcripts domain.TranscriptStore // nil when running without a store path
}

// initStore opens the SQLite store. An empty path keeps settings in memory
// for the lifetime of the process and disables transcripts.
func initStore(cfg config.StoreConfig, log *slog.Logger) (*storeComponents, func(), error) {
	path := cfg.Path
	persistent := path != ""
	if !persistent {
		path = ":memory:"
	}

	db, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("store: %w", err)
	}
	comp := &storeComponents{DB: db, Settings: db}
	if persistent {
		comp.Transcripts = db
	}
	log.Debug("store opened", "path", path, "transcripts", persistent)

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Warn("store close failed", "error", err)
		}
	}
	return comp, cleanup, nil
}
