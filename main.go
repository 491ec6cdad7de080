package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crypto_custody/draftvault/config"
	"github.com/crypto_custody/draftvault/handler"
	"github.com/crypto_custody/draftvault/model"
	"github.com/crypto_custody/draftvault/repository"
	"github.com/crypto_custody/draftvault/router"
	"github.com/crypto_custody/draftvault/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("draft service stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	gin.SetMode(gin.ReleaseMode)
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := repository.OpenDB(cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.LogLevel == "debug")
	if err != nil {
		return err
	}
	// 自动迁移
	if err := model.AutoMigrate(db); err != nil {
		return err
	}

	var notifier service.Notifier = service.NewLogNotifier(logger)
	if cfg.WebhookURL != "" {
		notifier = service.NewWebhookNotifier(cfg.WebhookURL, 5*time.Second)
	}

	lockSvc := service.NewLockService(repository.NewLockRepository(db), logger.Named("locks"))
	draftSvc := service.NewDraftService(service.DraftDeps{
		Drafts:   repository.NewDraftRepository(db),
		Locks:    lockSvc,
		Wallets:  service.NewWalletService(repository.NewWalletRepository(db)),
		UTXOs:    service.NewUTXOResolverService(repository.NewUTXORepository(db)),
		Notifier: notifier,
		Settings: service.NewSettingsService(repository.NewSettingsRepository(db), logger),
		Log:      logger.Named("drafts"),
		Network:  cfg.Network,
	})

	if err := handler.RegisterValidators(); err != nil {
		return err
	}
	r := router.SetupRouter(handler.NewDraftHandler(draftSvc, logger.Named("http")), cfg.AllowedOrigins)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := service.NewExpiryService(draftSvc, cfg.SweepInterval, logger.Named("expiry"))
	go sweeper.Run(ctx)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("draft service listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
