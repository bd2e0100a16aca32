// Package app opens the external dependencies shared by the server and the
// admin CLI.
package app

import (
	"context"

	"campusconnect/backend/internal/config"
	"campusconnect/backend/internal/docstore"
	"campusconnect/backend/internal/storage"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies are the connections a process runs on. Redis is nil unless
// the redis store backend is selected.
type Dependencies struct {
	DB      *gorm.DB
	Storage *storage.Service
	Redis   *redis.Client
	Docs    *docstore.DocStore

	nats *nats.Conn
	log  *zap.Logger
}

// Setup connects to Postgres and builds the document store for
// cfg.StoreBackend.
func Setup(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Dependencies, error) {
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("app: DATABASE_DSN is required")
	}
	db, err := storage.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	d := &Dependencies{DB: db, Storage: storage.NewStorageService(db, log), log: log}

	if err := d.openDocs(ctx, cfg); err != nil {
		d.Close()
		return nil, err
	}
	log.Info("dependencies ready", zap.String("store_backend", cfg.StoreBackend), zap.Bool("nats", d.nats != nil))
	return d, nil
}

func (d *Dependencies) openDocs(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		d.Docs = docstore.NewMemory(d.log)

	case config.BackendRedis:
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "connect redis")
		}
		d.Docs = docstore.New(docstore.NewRedisBackend(d.Redis), docstore.NewRedisNotifier(d.Redis, d.log), d.log)

	case config.BackendDynamo:
		client, err := docstore.NewDynamoClient(ctx, cfg.AWSRegion)
		if err != nil {
			return err
		}
		backend := docstore.NewDynamoBackend(client, cfg.DynamoTable)
		if err := backend.EnsureTable(ctx); err != nil {
			return err
		}
		// Without NATS, change notifications stay inside this process.
		var notifier docstore.Notifier = docstore.NewLocalNotifier()
		if cfg.NatsURL != "" {
			nc, err := nats.Connect(cfg.NatsURL, nats.Name("campusconnect"))
			if err != nil {
				return errors.Wrap(err, "connect nats")
			}
			d.nats = nc
			notifier = docstore.NewNatsNotifier(nc, d.log)
		}
		d.Docs = docstore.New(backend, notifier, d.log)

	default:
		return errors.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}
	return nil
}

// Close releases every connection Setup opened.
func (d *Dependencies) Close() {
	if d.Docs != nil {
		if err := d.Docs.Close(); err != nil {
			d.log.Warn("closing document store", zap.Error(err))
		}
	}
	if d.nats != nil {
		d.nats.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if sqlDB, err := d.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
