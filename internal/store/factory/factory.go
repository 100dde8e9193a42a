// Package factory builds the configured snapshot store and locker.
package factory

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/config"
	"github.com/prn-tf/userdir/internal/lock"
	"github.com/prn-tf/userdir/internal/metrics"
	"github.com/prn-tf/userdir/internal/store"
	"github.com/prn-tf/userdir/internal/store/encrypted"
	"github.com/prn-tf/userdir/internal/store/file"
	"github.com/prn-tf/userdir/internal/store/instrumented"
	"github.com/prn-tf/userdir/internal/store/memory"
	"github.com/prn-tf/userdir/internal/store/postgres"
	redisstore "github.com/prn-tf/userdir/internal/store/redis"
	s3store "github.com/prn-tf/userdir/internal/store/s3"
	"github.com/prn-tf/userdir/internal/store/sqlite"
)

// Factory creates infrastructure based on configuration.
type Factory struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a new factory. m may be nil to skip instrumentation.
func New(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// SQLiteConfig maps the database section to sqlite settings.
func SQLiteConfig(cfg config.DatabaseConfig) sqlite.Config {
	c := sqlite.DefaultConfig(cfg.Path)
	if cfg.JournalMode != "" {
		c.JournalMode = cfg.JournalMode
	}
	if cfg.BusyTimeout > 0 {
		c.BusyTimeout = cfg.BusyTimeout
	}
	if cfg.CacheSize != 0 {
		c.CacheSize = cfg.CacheSize
	}
	if cfg.SynchronousMode != "" {
		c.SynchronousMode = cfg.SynchronousMode
	}
	return c
}

// PostgresConfig maps the database section to pool settings.
func PostgresConfig(cfg config.DatabaseConfig) postgres.Config {
	return postgres.Config{
		DSN:             cfg.DSN(),
		MaxConns:        cfg.MaxOpenConns,
		MinConns:        cfg.MaxIdleConns,
		MaxConnLifetime: cfg.ConnMaxLifetime,
		MaxConnIdleTime: cfg.ConnMaxIdleTime,
	}
}

// RedisClient connects to the configured Redis server.
func (f *Factory) RedisClient(ctx context.Context) (*goredis.Client, error) {
	return redisstore.NewClient(ctx, redisstore.Config{
		Addr:        f.cfg.Redis.Addr(),
		Password:    f.cfg.Redis.Password,
		DB:          f.cfg.Redis.DB,
		PoolSize:    f.cfg.Redis.PoolSize,
		DialTimeout: f.cfg.Redis.DialTimeout,
	})
}

// OpenStore opens the configured backend, applying encryption and
// instrumentation when enabled. sqlite and postgres are migrated on open.
func (f *Factory) OpenStore(ctx context.Context) (store.Store, error) {
	backend := f.cfg.Store.Backend
	logger := f.logger.With().Str("store", backend).Logger()

	s, err := f.openBackend(ctx, backend, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", backend, err)
	}

	key, err := f.cfg.Store.GetEncryptionKey()
	if err != nil {
		s.Close()
		return nil, err
	}
	if key != nil {
		enc, err := encrypted.Wrap(s, key)
		if err != nil {
			s.Close()
			return nil, err
		}
		s = enc
		logger.Info().Msg("Snapshot encryption enabled")
	}

	if f.metrics != nil {
		s = instrumented.Wrap(s, backend, f.metrics)
	}

	logger.Info().Msg("Store opened")
	return s, nil
}

func (f *Factory) openBackend(ctx context.Context, backend string, logger zerolog.Logger) (store.Store, error) {
	switch backend {
	case store.BackendMemory:
		return memory.New(), nil

	case store.BackendFile:
		return file.New(f.cfg.Store.Dir, logger)

	case store.BackendSQLite:
		db, err := sqlite.NewDB(ctx, SQLiteConfig(f.cfg.Database), logger)
		if err != nil {
			return nil, err
		}
		s, err := sqlite.Open(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil

	case store.BackendPostgres:
		db, err := postgres.NewDB(ctx, PostgresConfig(f.cfg.Database), logger)
		if err != nil {
			return nil, err
		}
		s, err := postgres.Open(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil

	case store.BackendRedis:
		client, err := f.RedisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redisstore.New(client, f.cfg.Store.RedisKeyPrefix), nil

	case store.BackendS3:
		s3cfg := f.cfg.Store.S3
		client, err := s3store.NewClient(ctx, s3store.Config{
			Endpoint:        s3cfg.Endpoint,
			Region:          s3cfg.Region,
			Bucket:          s3cfg.Bucket,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
			Prefix:          s3cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s3store.New(client, s3cfg.Bucket, s3cfg.Prefix), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// OpenLocker returns the configured locker and a func that releases its resources.
func (f *Factory) OpenLocker(ctx context.Context) (lock.Locker, func() error, error) {
	switch f.cfg.Lock.Backend {
	case config.LockNone:
		return lock.NewNoOpLocker(), func() error { return nil }, nil

	case config.LockRedis:
		client, err := f.RedisClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis locker: %w", err)
		}
		return lock.NewRedisLocker(client, f.cfg.Lock.KeyPrefix), client.Close, nil

	default:
		ml := lock.NewMemoryLocker()
		return ml, ml.Close, nil
	}
}

// LockOptions maps the lock section to lock.Options.
func (f *Factory) LockOptions() lock.Options {
	return lock.Options{
		TTL:        f.cfg.Lock.TTL,
		MaxRetries: f.cfg.Lock.MaxRetries,
		RetryDelay: f.cfg.Lock.RetryDelay,
	}
}
