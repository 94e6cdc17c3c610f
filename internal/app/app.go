// Package app boots the service: configuration, logging, database, object
// store, external clients, domain services and the HTTP server.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/datapub/entitlements/internal/accountapi"
	"github.com/datapub/entitlements/internal/activity"
	"github.com/datapub/entitlements/internal/config"
	"github.com/datapub/entitlements/internal/dataset"
	"github.com/datapub/entitlements/internal/db"
	"github.com/datapub/entitlements/internal/entitlement"
	"github.com/datapub/entitlements/internal/httpapi"
	"github.com/datapub/entitlements/internal/storage"
	"github.com/datapub/entitlements/internal/user"
	"github.com/datapub/entitlements/internal/verification"
)

// metadataCacheTTL bounds how stale a cached metadata document may get.
const metadataCacheTTL = 5 * time.Minute

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(config.ResolvePath(configPath))
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the API server and blocks until ctx is cancelled.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(config.ResolvePath(configPath))
	if errLoad != nil {
		return errLoad
	}
	configureLogging(cfg)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	s3Store, errStore := storage.NewS3(ctx, cfg.S3.Region, cfg.URLExpiry())
	if errStore != nil {
		return errStore
	}
	store := storage.NewCached(s3Store, metadataCacheTTL)

	account := accountapi.New(cfg.AccountAPI.URL, cfg.AccountAPI.Version,
		cfg.Timeout(), cfg.AccountAPI.UpdateGroupsRetry)
	verifier := verification.New(cfg.VerificationAPI.URL, cfg.VerificationAPI.Version, cfg.Timeout())

	engine := buildEngine(cfg, conn, account, verifier, store)

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("%s listening on %s", cfg.AppName, cfg.Listen)
		if errServe := server.ListenAndServe(); !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}

// buildEngine assembles the domain services and registers the routes.
func buildEngine(cfg *config.Config, conn *gorm.DB,
	account *accountapi.Client, verifier *verification.Client,
	store storage.ObjectStore) *gin.Engine {

	users := user.NewService(conn, account, verifier)
	entitlements := entitlement.NewService(conn, account)
	datasets := dataset.NewService(conn, store, cfg.S3.Bucket, cfg.S3.RestrictedBucket)
	activities := activity.NewService(conn)

	engine := gin.New()
	engine.Use(gin.Recovery())
	httpapi.RegisterRoutes(engine, conn, cfg, users, entitlements, datasets, activities)
	return engine
}

// configureLogging applies the log level and optional rotating file output.
func configureLogging(cfg *config.Config) {
	level, errLevel := log.ParseLevel(cfg.Log.Level)
	if errLevel != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.JSONFormatter{})

	if cfg.Log.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}
}
