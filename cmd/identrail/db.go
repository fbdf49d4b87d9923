package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/identrail/identrail/internal/config"
	"github.com/identrail/identrail/internal/store"
)

// withStore opens a pool for the duration of one operator command.
func withStore(ctx context.Context, fn func(ctx context.Context, st *store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, store.New(pool))
}
