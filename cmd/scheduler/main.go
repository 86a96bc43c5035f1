package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"yugi/internal/config"
	"yugi/internal/database"
	"yugi/internal/domain"
	"yugi/internal/events"
	"yugi/internal/google"
	"yugi/internal/logging"
	"yugi/internal/notifier"
	"yugi/internal/scheduler"
	"yugi/internal/service"
	"yugi/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// The scheduler binary runs the periodic sweeps: releasing held funds
// past their hold window and completing bookings whose sessions ended.
func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var syncWorker domain.SyncWorker
	if cfg.Google.Enabled {
		sheetsService, err := google.NewSheetsService(
			cfg.Google.GoogleCredentialsFile,
			cfg.Google.BookingSpreadSheetID,
		)
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		} else {
			workerLog := log.New(os.Stdout, "sheets-worker ", log.LstdFlags)
			sheetsWorker := worker.NewSheetsWorker(db, sheetsService, nil, worker.DefaultSheetsRetry(), workerLog)
			syncWorker = sheetsWorker
			go sheetsWorker.Start(ctx)
		}
	}

	eventBus := events.NewEventBus()
	if cfg.Telegram.Enabled {
		if botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken); err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		} else {
			notifier.NewTelegramNotifier(botAPI, cfg.Telegram.OpsChatID, &logger).SubscribeAll(eventBus)
		}
	}

	bookingService := service.NewBookingService(
		db, eventBus, syncWorker,
		cfg.Booking.ServiceFeeCents, cfg.Booking.HoldDays, cfg.Booking.CancelCutoff(),
		&logger,
	)

	sweeper := scheduler.New(bookingService, cfg.Booking.SweepInterval(), &logger)
	sweeper.Run(ctx)
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "scheduler-main").Logger()

	return cfg, logger, closer, nil
}
