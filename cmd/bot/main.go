package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"path"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmoiron/sqlx"

	"github.com/digkill/TGKeyBot/internal/admin"
	"github.com/digkill/TGKeyBot/internal/config"
	"github.com/digkill/TGKeyBot/internal/database"
	"github.com/digkill/TGKeyBot/internal/games/coinflip"
	"github.com/digkill/TGKeyBot/internal/repository"
	"github.com/digkill/TGKeyBot/internal/service"
	"github.com/digkill/TGKeyBot/internal/storage"
	"github.com/digkill/TGKeyBot/internal/telegram"
	"github.com/digkill/TGKeyBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, db, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if db != nil {
		defer db.Close()
	}
	store := storage.NewStore(backend)

	userRepo, err := repository.NewUserRepository(ctx, store)
	if err != nil {
		log.Fatalf("load users: %v", err)
	}
	keyRepo, err := repository.NewKeyRepository(ctx, store)
	if err != nil {
		log.Fatalf("load keys: %v", err)
	}
	auxRepo, err := repository.NewAuxRepository(ctx, store)
	if err != nil {
		log.Fatalf("load aux storage: %v", err)
	}
	logr.Info("storage loaded", "backend", cfg.StoreBackend, "users", userRepo.Count())

	userService := service.NewUserService(userRepo)
	keyService := service.NewKeyService(keyRepo, userRepo, logr, service.KeyOptions{
		Prefix:   cfg.KeyPrefix,
		MaxBatch: cfg.MaxKeyBatch,
	})
	wizard := service.NewWizard(keyService, cfg.MaxKeyBatch)
	broadcastService := service.NewBroadcastService(userRepo, logr)

	if cfg.BackupInterval > 0 {
		if err := startBackups(ctx, cfg, backend, logr); err != nil {
			log.Fatalf("backups: %v", err)
		}
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	bot, err := telegram.NewBot(cfg, botAPI, logr, telegram.Services{
		Users:     userService,
		Keys:      keyService,
		Wizard:    wizard,
		Broadcast: broadcastService,
		Aux:       auxRepo,
	})
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}
	if err := bot.Use(coinflip.New()); err != nil {
		log.Fatalf("modules: %v", err)
	}

	if cfg.AdminListenAddr != "" {
		adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, keyService, bot)
		go func() {
			if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logr.Error("admin server stopped", "err", err)
			}
		}()
	}

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}

// openBackend returns the configured document backend; db is set only for mysql.
func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, *sqlx.DB, error) {
	switch cfg.StoreBackend {
	case config.BackendS3:
		b, err := storage.NewS3Backend(s3Config(cfg, cfg.S3Prefix))
		return b, nil, err
	case config.BackendMySQL:
		db, err := database.Connect(cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return storage.NewSQLBackend(db), db, nil
	case config.BackendMemory:
		return storage.NewMemoryBackend(), nil, nil
	default:
		b, err := storage.NewFileBackend(cfg.DataDir)
		return b, nil, err
	}
}

func startBackups(ctx context.Context, cfg config.Config, source storage.Backend, logr *slog.Logger) error {
	var target storage.Backend
	var err error
	if cfg.BackupBackend == config.BackendS3 {
		target, err = storage.NewS3Backend(s3Config(cfg, path.Join(cfg.S3Prefix, "backups")))
	} else {
		target, err = storage.NewFileBackend(cfg.BackupDir)
	}
	if err != nil {
		return err
	}
	snapshotter := storage.NewSnapshotter(source, target, logr,
		storage.DocumentUsers, storage.DocumentKeys, storage.DocumentAux)
	return snapshotter.Start(ctx, cfg.BackupInterval)
}

func s3Config(cfg config.Config, prefix string) storage.S3Config {
	return storage.S3Config{
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		Bucket:       cfg.S3Bucket,
		UsePathStyle: cfg.S3UsePathStyle,
		Prefix:       prefix,
	}
}
