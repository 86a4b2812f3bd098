package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"cardscan/pkg/store"
)

var appStore store.Store

// initStore opens Postgres when DB_DSN is set and falls back to memory
// otherwise, then seeds roles and the admin operator.
func initStore(ctx context.Context, cfg Config) error {
	db := cfg.DB
	if cfg.Migrate != nil {
		if db.DSN == "" {
			return errors.New("migrate needs DB_DSN")
		}
		db.AutoMigrate = true
	}
	if db.DSN == "" {
		log.Warn().Str("component", "store").Msg("DB_DSN not set, records are kept in memory only")
	}
	st, err := db.Open(true)
	if err != nil {
		return err
	}
	appStore = st
	if err := store.Seed(ctx, appStore, cfg.AdminPassword); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}
