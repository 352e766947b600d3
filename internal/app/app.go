// Package app wires the stores, sinks and scheduler shared by the server
// and the worker binaries.
package app

import (
	"Go_Drop/config"
	"Go_Drop/internal/lifecycle"
	"Go_Drop/internal/metrics"
	"Go_Drop/internal/mq"
	"Go_Drop/internal/notify"
	"Go_Drop/internal/repo"
	"Go_Drop/internal/storage"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const recoveryLockKey = "lock:lifecycle:recovery"

// Deps holds the long-lived dependencies of one process.
type Deps struct {
	Records *repo.RecordStore
	Blobs   storage.Store
	Events  mq.Sink
	// Rabbit is nil when RabbitMQ is not configured or unreachable.
	Rabbit *mq.Client
	Lock   lifecycle.Locker

	closers []func()
}

// Close releases every connection opened by Open, last opened first.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Open connects the metadata store, the optional Redis cache and lock, the
// blob store and the event sinks. Optional backends that cannot be reached
// are logged and skipped.
func Open(ctx context.Context, cfg config.Config) (*Deps, error) {
	d := &Deps{}

	db, err := repo.OpenDB(repo.DBConfig{
		Driver: cfg.DBDriver,
		Path:   cfg.DBPath,
		Host:   cfg.DBHost,
		Port:   cfg.DBPort,
		User:   cfg.DBUser,
		Pass:   cfg.DBPass,
		Name:   cfg.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		d.closers = append(d.closers, func() { _ = sqlDB.Close() })
	}

	var cache *repo.OwnerCache
	if cfg.RedisEnabled() {
		rdb, err := repo.NewRedis(ctx, cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable; running without list cache and recovery lock")
		} else {
			d.closers = append(d.closers, func() { _ = rdb.Close() })
			cache = repo.NewOwnerCache(rdb, cfg.ListCacheTTL)
			d.Lock = repo.NewRedisLock(rdb, recoveryLockKey, 5*time.Minute)
		}
	}
	d.Records = repo.NewRecordStore(db, cache)

	d.Blobs, err = OpenBlobStore(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	d.Events = d.openEventSinks(cfg)
	return d, nil
}

// OpenBlobStore selects the blob backend named by BLOB_BACKEND.
func OpenBlobStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.BlobBackend {
	case "memory":
		log.Warn().Msg("using in-memory blob store; objects do not survive a restart")
		return storage.NewMemoryStore(), nil
	case "", "minio":
		return storage.NewMinio(ctx, storage.MinioConfig{
			Host:     cfg.MinioHost,
			Port:     cfg.MinioPort,
			Username: cfg.MinioUsername,
			Password: cfg.MinioPassword,
			UseSSL:   cfg.MinioUseSSL,
			Bucket:   cfg.BucketName,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

func (d *Deps) openEventSinks(cfg config.Config) mq.Sink {
	var sinks mq.Fanout

	if cfg.RabbitMQURL != "" {
		client, err := mq.Dial(cfg.RabbitMQURL)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq unavailable; lifecycle events will not be queued")
		} else {
			d.Rabbit = client
			d.closers = append(d.closers, client.Close)
			sinks = append(sinks, client)
		}
	}
	if cfg.SMTPEnabled() {
		mailer, err := notify.NewMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Pass:     cfg.SMTPPass,
			From:     cfg.SMTPFrom,
			To:       cfg.AlertEmailTo,
			TLS:      cfg.SMTPTLS,
			StartTLS: cfg.SMTPStartTLS,
		})
		if err != nil {
			log.Warn().Err(err).Msg("alert mail disabled")
		} else {
			sinks = append(sinks, mailer)
		}
	}

	if len(sinks) == 0 {
		return mq.Noop{}
	}
	return sinks
}

// StartScheduler builds the lifecycle scheduler, runs recovery and starts
// the periodic sweep. A recovery pass held by another instance is not fatal.
func StartScheduler(ctx context.Context, cfg config.Config, d *Deps, m metrics.Lifecycle) (*lifecycle.Scheduler, error) {
	scheduler := lifecycle.New(d.Records, d.Blobs, lifecycle.Options{
		RetryMax:      cfg.DeleteRetryMax,
		RetryDelays:   cfg.DeleteRetryDelays,
		Rate:          cfg.DeleteRate,
		Burst:         cfg.DeleteBurst,
		SweepInterval: cfg.SweepInterval,
		ClaimLease:    cfg.ClaimLease,
		Events:        d.Events,
		Metrics:       m,
		Lock:          d.Lock,
	})
	if err := scheduler.Recover(ctx); err != nil {
		if !errors.Is(err, repo.ErrLockBusy) {
			scheduler.Stop()
			return nil, fmt.Errorf("lifecycle recovery: %w", err)
		}
		log.Warn().Msg("another instance is recovering; relying on the periodic sweep")
	}
	go scheduler.Run(ctx)
	return scheduler, nil
}
