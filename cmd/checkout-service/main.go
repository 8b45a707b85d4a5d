package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_market/internal/archive"
	"github.com/fjod/go_market/internal/config"
	"github.com/fjod/go_market/internal/currency"
	h "github.com/fjod/go_market/internal/http"
	"github.com/fjod/go_market/internal/metrics"
	"github.com/fjod/go_market/internal/notify"
	"github.com/fjod/go_market/internal/payment"
	"github.com/fjod/go_market/internal/publisher"
	"github.com/fjod/go_market/internal/repository"
	"github.com/fjod/go_market/internal/service"
	"github.com/fjod/go_market/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("checkout-service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	log.Info("checkout-service starting...")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database setup
	creds := &repository.Credentials{
		Host:              cfg.DB.Host,
		Port:              cfg.DB.Port,
		User:              cfg.DB.User,
		Password:          cfg.DB.Password,
		DBName:            cfg.DB.Name,
		MigrationsDirPath: cfg.DB.MigrationsPath,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer repo.Close()
	if err := repo.RunMigrations(creds); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations completed")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	// The payload archive is best-effort; checkout keeps working without Mongo.
	var payloads service.PayloadArchive
	mongoDB, err := archive.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Warn("payload archive disabled", "error", err)
	} else {
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoDB.Client().Disconnect(dctx)
		}()
		mongoArchive := archive.NewMongoArchive(mongoDB)
		if err := mongoArchive.CreateIndexes(ctx); err != nil {
			log.Warn("failed to create archive indexes", "error", err)
		}
		payloads = mongoArchive
	}

	m := metrics.New()
	outbound := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	reference := payment.NewReferenceProvider(payment.ReferenceConfig{
		PublicKey:  cfg.ReferenceProvider.PublicKey,
		SecretKey:  cfg.ReferenceProvider.SecretKey,
		BaseURL:    cfg.ReferenceProvider.BaseURL,
		Currencies: cfg.ReferenceProvider.Currencies,
		Timeout:    cfg.ProviderCallTimeout,
	}, outbound, log)
	callback := payment.NewCallbackProvider(payment.CallbackConfig{
		PublicKey:  cfg.CallbackProvider.PublicKey,
		Currencies: cfg.CallbackProvider.Currencies,
	})
	providers, err := payment.NewRegistry(payment.NewRedisSettings(rdb), cfg.DefaultPaymentProvider, log, reference, callback)
	if err != nil {
		return fmt.Errorf("build provider registry: %w", err)
	}

	rates := currency.NewHTTPRateSource(outbound, cfg.FxAPIURL, rdb, cfg.FxCacheTTL, log)
	converter := currency.NewConverter(rates, cfg.BaseCurrency, cfg.FallbackCurrency, log, m.FxFallback)

	var notifier service.Notifier
	if cfg.SMTP.Host != "" {
		notifier = notify.NewSMTPNotifier(notify.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, log)
	} else {
		log.Warn("SMTP_HOST not set, order confirmation emails disabled")
	}

	checkoutService := service.NewCheckoutService(repo, providers, converter, notifier, payloads, m, log, service.Options{
		ResumeWindow:        cfg.ResumeWindow,
		ResumeCandidates:    cfg.ResumeCandidates,
		RedemptionTTL:       cfg.RedemptionTTL,
		ProviderCallTimeout: cfg.ProviderCallTimeout,
	})

	router := h.NewRouter(h.RouterConfig{
		Checkout:           h.NewCheckoutHandler(checkoutService, cfg.RequestTimeout, log),
		JWTSecret:          []byte(cfg.JWTSecret),
		AllowedOrigins:     cfg.AllowedOrigins,
		BeginRatePerMinute: cfg.BeginRatePerMinute,
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		Metrics:            m.Middleware,
		MetricsHandler:     m.Handler(),
		Health: func(req *http.Request) error {
			if err := repo.Ping(req.Context()); err != nil {
				return errors.New("database unavailable")
			}
			if err := rdb.Ping(req.Context()).Err(); err != nil {
				return errors.New("redis unavailable")
			}
			return nil
		},
	})

	poller := publisher.NewOutboxPoller(repo, publisher.Config{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.OutboxTopic,
		EventTick:    cfg.OutboxPollInterval,
		RecoveryTick: cfg.RecoveryInterval,
		AbandonAfter: cfg.OrderAbandonAfter,
	}, m, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("checkout-service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}
	stop()
	log.Info("shutting down checkout-service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	wg.Wait()
	if err := poller.Close(); err != nil {
		log.Warn("failed to close outbox writer", "error", err)
	}
	log.Info("checkout-service stopped")
	return nil
}
