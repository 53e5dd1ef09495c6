package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/rendezvous/go/internal/config"
	"github.com/mcdev12/rendezvous/go/internal/markers"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// markerStore is a markers.Store plus whatever must be closed with it.
type markerStore struct {
	markers.Store
	close func()
}

func setupMarkerStore(ctx context.Context, cfg config.Config) (*markerStore, error) {
	switch cfg.MarkerBackend {
	case config.MarkerBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to redis marker store")
		return &markerStore{
			Store: markers.NewRedisStore(client, cfg.MarkerRetention),
			close: func() { client.Close() },
		}, nil

	case config.MarkerBackendPostgres:
		pool, err := setupDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := markers.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate marker table: %w", err)
		}
		return &markerStore{Store: store, close: pool.Close}, nil

	case config.MarkerBackendMemory:
		log.Warn().Msg("Using in-memory marker store; notifications may repeat after restart")
		return &markerStore{Store: markers.NewMemoryStore(), close: func() {}}, nil

	default:
		return nil, fmt.Errorf("%w: %q", markers.ErrUnknownBackend, cfg.MarkerBackend)
	}
}

func setupDatabase(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("user", cfg.DB.User).
		Str("host", cfg.DB.Host).
		Int("port", cfg.DB.Port).
		Str("database", cfg.DB.Database).
		Msg("Connected to database")
	return pool, nil
}
