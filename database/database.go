// Package database selects and opens the storage backend. Selection is a
// startup-time decision with a fixed priority: a configured Supabase project
// wins, then a postgres connection string, and the local sqlite file is the
// always-available fallback. The rest of the engine only ever sees the
// store.Store interface.
package database

import (
	"fmt"
	"log"

	"github.com/novalattasya/mixscrap/internal/config"
	"github.com/novalattasya/mixscrap/internal/store"
)

// Open connects to the highest-priority backend the config names.
func Open(cfg *config.Config) (store.Store, error) {
	switch {
	case cfg.SupabaseURL != "" && cfg.SupabaseKey != "":
		log.Println("[Database] Using Supabase as primary datastore")
		s, err := store.OpenSupabase(cfg.SupabaseURL, cfg.SupabaseKey)
		if err != nil {
			return nil, fmt.Errorf("open supabase store: %w", err)
		}
		return s, nil

	case cfg.DatabaseURL != "":
		log.Println("[Database] Connecting to Postgres")
		s, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil

	default:
		log.Printf("[Database] Using local SQLite at %s", cfg.SQLitePath)
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
}
