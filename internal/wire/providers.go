package wire

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pollcast/internal/common"
	"pollcast/internal/config"
	"pollcast/internal/dbmongo"
	"pollcast/internal/dbsql"
	"pollcast/internal/notif"
	"pollcast/internal/polls"
	"pollcast/internal/realtime"

	"gorm.io/gorm"
)

// Application is the server context: one per process, or one per test.
type Application struct {
	Config    *config.Config
	DB        *gorm.DB
	Resources common.ResourceStore
	Registry  *realtime.Registry
	Service   *notif.Service
	Triggers  *notif.Triggers
	Closer    *notif.Closer
	Handler   *notif.Handler
	WS        *realtime.Handler
	Validator common.TokenValidator
}

func ProvideDatabase(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := dbsql.NewDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return db, cleanup, nil
}

// ProvideResourceStore reads polls from MongoDB when it is enabled and
// falls back to an empty in-memory store otherwise.
func ProvideResourceStore(cfg *config.Config, logger *slog.Logger) (common.ResourceStore, func(), error) {
	if !cfg.MongoDB.Enabled {
		logger.Warn("mongodb disabled, using in-memory poll store")
		return polls.NewMemoryStore(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := dbmongo.NewMongoConnection(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(ctx); err != nil {
			logger.Error("failed to close mongodb", "error", err)
		}
	}

	store := dbmongo.NewResourceStore(client)
	if err := store.EnsureIndexes(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create poll indexes: %w", err)
	}
	return store, cleanup, nil
}

func ProvideValidator(cfg *config.Config) *common.JWTValidator {
	return common.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
}

// ProvideDispatcher subscribes the live push sink and, at debug level, the
// dispatch log.
func ProvideDispatcher(registry *realtime.Registry, logger *slog.Logger) *notif.Dispatcher {
	dispatcher := notif.NewDispatcher(logger)
	dispatcher.Subscribe(notif.NewRealtimeSink(registry, logger))
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		dispatcher.Subscribe(notif.NewLogSink(logger))
	}
	return dispatcher
}
