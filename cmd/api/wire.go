package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mobiledetail/backend/internal/config"
	"github.com/mobiledetail/backend/internal/handlers"
	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/scheduler"
	"github.com/mobiledetail/backend/internal/services"
	"github.com/mobiledetail/backend/internal/store"
)

// app holds the services shared by the server and the maintenance commands.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	db      *gorm.DB
	redis   *redis.Client
	store   store.MetadataStore
	storage *services.StorageService
	s3      *services.S3Service
	auth    *services.AuthService
	audit   *services.AuditService
	gallery *services.GalleryService
	leads   *services.LeadService
	pdf     *services.QuotePDFService
	orphans *services.OrphanService
	backups *services.BackupService
}

func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	db, err := models.InitDB(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	if err := models.Migrate(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.redis = models.InitRedis(cfg, log)

	if a.store, err = store.Open(cfg, log); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	if a.storage, err = services.NewStorageService(cfg); err != nil {
		a.Close()
		return nil, err
	}
	if a.s3, err = services.NewS3Service(cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	emailService, err := services.NewEmailService(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.auth, err = services.NewAuthService(a.redis, cfg, log); err != nil {
		a.Close()
		return nil, err
	}

	a.audit = services.NewAuditService(db, log)
	a.gallery = services.NewGalleryService(a.store, a.storage, a.s3, log)
	a.leads = services.NewLeadService(db, emailService, cfg, log)
	a.pdf = services.NewQuotePDFService(cfg, a.leads)
	a.orphans = services.NewOrphanService(a.store, a.storage, cfg.OrphanGracePeriod, log)
	a.orphans.SkipPath(cfg.MetadataPath)
	a.backups = services.NewBackupService(db, a.store, a.s3, log)
	return a, nil
}

func (a *app) router(sched *scheduler.Scheduler) handlers.RouterDeps {
	return handlers.RouterDeps{
		Config:    a.cfg,
		Log:       a.log,
		DB:        a.db,
		Redis:     a.redis,
		Auth:      a.auth,
		Audit:     a.audit,
		Gallery:   a.gallery,
		Storage:   a.storage,
		Leads:     a.leads,
		QuotePDF:  a.pdf,
		Orphans:   a.orphans,
		Backups:   a.backups,
		Scheduler: sched,
	}
}

// schedule registers the maintenance jobs.
func (a *app) schedule(sched *scheduler.Scheduler) error {
	if a.cfg.OrphanSweepCron != "" {
		if err := sched.AddCron("orphan-sweep", a.cfg.OrphanSweepCron, func(ctx context.Context) error {
			_, err := a.orphans.Sweep(ctx, a.cfg.OrphanSweepDelete)
			return err
		}); err != nil {
			return err
		}
	}
	if a.cfg.BackupCron != "" && a.cfg.BackupEnabled() {
		if err := sched.AddCron("metadata-backup", a.cfg.BackupCron, func(ctx context.Context) error {
			_, err := a.backups.SnapshotMetadata(ctx, models.BackupTypeAutomatic, "scheduler")
			return err
		}); err != nil {
			return err
		}
		if err := sched.AddCron("backup-sync", "15 * * * *", func(ctx context.Context) error {
			_, err := a.backups.SyncFromS3(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close metadata store")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
