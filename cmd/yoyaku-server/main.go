package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kataras/iris/v12"

	"yoyaku/backend/internal/config"
	"yoyaku/backend/internal/domain"
	"yoyaku/backend/internal/service/availability"
	"yoyaku/backend/internal/service/booking"
	"yoyaku/backend/internal/service/notify"
	"yoyaku/backend/internal/store/postgres"
	httpTransport "yoyaku/backend/internal/transport/http"
)

func main() {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "yoyaku-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "yoyaku-server"),
	)
	slog.SetDefault(log)

	log.Info("starting", slog.String("http_addr", cfg.HTTPAddr), slog.String("log_level", cfg.LogLevel))

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	if err := postgres.MigrateUp(cfg.DatabaseURL); err != nil {
		log.Error("migration failed", slog.Any("err", err))
		os.Exit(1)
	}

	bookingRepo := postgres.NewBookingRepo(db)
	notifyRepo := postgres.NewNotificationRepo(db)

	notifySenders := map[domain.Channel]notify.Sender{
		domain.ChannelSlack: &notify.SlackWebhookSender{},
		domain.ChannelLine:  &notify.LineSender{},
		domain.ChannelLog:   &notify.LogSender{Log: log},
	}
	if cfg.SMTPAddr != "" {
		notifySenders[domain.ChannelEmail] = &notify.SMTPEmailSender{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom}
	}

	notifySvc, err := notify.NewService(notifyRepo, notifySenders, domain.BackoffPolicy{
		MaxAttempts: cfg.NotifyMaxAttempts,
		Base:        cfg.NotifyBackoffBase,
		Multiplier:  cfg.NotifyBackoffMultiplier,
	}, log)
	if err != nil {
		log.Error("notification service init failed", slog.Any("err", err))
		os.Exit(1)
	}

	bookingSvc := booking.NewService(bookingRepo, notifySvc, cfg.HoldTTL, log)
	availabilitySvc := availability.NewService(bookingRepo, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go booking.NewReaper(bookingSvc, cfg.HoldTTL, cfg.HoldReapInterval, log).Run(ctx)
	go notify.NewDispatcher(notifySvc, cfg.NotifyPollInterval, cfg.NotifyBatchSize, log).Run(ctx)

	app := iris.New()
	app.Logger().SetLevel("error")
	httpTransport.NewServer(bookingSvc, availabilitySvc, notifySvc, log).Register(app)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.HTTPAddr, iris.WithoutStartupLog, iris.WithoutInterruptHandler)
	}()

	log.Info("http server started", slog.String("http_addr", cfg.HTTPAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, app, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil {
			log.Error("http server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func shutdown(log *slog.Logger, app *iris.Application, timeout time.Duration) {
	log.Info("shutting down http server", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		log.Warn("http shutdown failed", slog.Any("err", err))
		return
	}
	log.Info("http server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
