// Package storage holds connection helpers for the backing stores.
//
// NewRedisClient opens the Redis connection shared by the task queue and the
// health checker. The postgres subpackage opens the PostgreSQL pool and
// applies the embedded schema migrations:
//
//	db, err := postgres.Open(ctx, postgres.ConnectionConfig{URL: cfg.Database.URL})
//	if err != nil {
//		return err
//	}
//	if _, err := postgres.Migrate(ctx, db); err != nil {
//		return err
//	}
//
// Table access lives with the owning domain package (pkg/sso, pkg/orgs).
package storage
