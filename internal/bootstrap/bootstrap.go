// Package bootstrap opens the backends selected by config for the
// commands under cmd/.
package bootstrap

import (
	"context"

	"go.uber.org/zap"

	"seminarhub/internal/config"
	"seminarhub/internal/postgrest"
	"seminarhub/internal/store"
)

// Store opens the configured store backend. Missing credentials produce an
// unconfigured handle, not an error, so the process can still serve health
// checks. The returned close function is never nil.
func Store(ctx context.Context, cfg config.App, log *zap.Logger) (store.Handle, func(), error) {
	noop := func() {}
	if missing := cfg.MissingStoreSettings(); len(missing) > 0 {
		err := &store.ConfigError{Service: serviceName(cfg.StoreBackend), Missing: missing}
		log.Warn("store not configured, data endpoints will fail", zap.String("backend", cfg.StoreBackend), zap.Strings("missing", missing))
		return store.Unconfigured(err), noop, nil
	}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return store.Configured(store.Instrument(store.NewMemory(), config.BackendMemory)), noop, nil
	case config.BackendPostgres:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return store.Handle{}, noop, err
		}
		return store.Configured(store.Instrument(store.NewPostgres(db.Client), config.BackendPostgres)), func() { _ = db.Close() }, nil
	default:
		client := postgrest.New(cfg.SupabaseURL, cfg.SupabaseKey, cfg.StoreTimeout)
		return store.Configured(store.Instrument(client, config.BackendPostgREST)), noop, nil
	}
}

func serviceName(backend string) string {
	if backend == config.BackendPostgres {
		return "Database"
	}
	return "Supabase"
}
