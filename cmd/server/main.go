package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channel-gate/internal/api"
	"channel-gate/internal/bot"
	"channel-gate/internal/config"
	"channel-gate/internal/database"
	"channel-gate/internal/metrics"
	"channel-gate/internal/middleware"
	"channel-gate/internal/services"
	"channel-gate/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to initialize config: ", err)
	}

	// Initialize logging
	logging.InitLogging(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		logging.Errorf("Service stopped with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	dispatcher := services.NewDispatcher(cfg.CallTimeout, m)
	alerter := services.NewAlerter(cfg)

	// Initialize store
	store, err := database.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if fs, ok := store.(*database.FileStore); ok {
		fs.OnCorrupt = func(path, movedTo string, cause error) {
			body := fmt.Sprintf("Subscriber data at %s could not be read (%v). It was moved to %s and the service continues with an empty store.", path, cause, movedTo)
			dispatcher.Go("alert", func(ctx context.Context) error {
				return alerter.Alert(ctx, "Subscriber store was corrupt", body)
			})
		}
	}

	// Initialize Redis (optional)
	redisClient, err := database.OpenRedis(cfg.RedisURL)
	if err != nil {
		logging.Warnf("Redis unavailable, using in-memory payment dedupe: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	guard := services.NewPaymentGuard(redisClient, cfg.PaymentDedupeTTL)
	if mg, ok := guard.(*services.MemoryGuard); ok {
		defer mg.Stop()
	}

	// External clients
	services.UseServiceLoggerForTelegram()
	telegram, err := services.NewTelegramClient(cfg.BotToken, services.Channel(cfg.ChannelID, cfg.ChannelUsername), cfg.RevokeMode == config.RevokeModeBanUnban, cfg.CallTimeout)
	if err != nil {
		return err
	}
	logging.Infof("Connected to Telegram as @%s, revoke mode: %s", telegram.API().Self.UserName, cfg.RevokeMode)

	gateway := services.NewInstamojoClient(cfg.InstamojoAPIBase, cfg.InstamojoAuthToken, cfg.InstamojoAPIKey, cfg.InstamojoAPIToken, cfg.CallTimeout)

	// Core
	issuer := services.NewCredentialIssuer(telegram, cfg.CallTimeout, m)
	notifier := services.NewNotifier(telegram, dispatcher, cfg.BaseURL, cfg.PriceINR, loc)
	engine := services.NewEngine(store, issuer, notifier, alerter, services.EngineConfig{
		SubscriptionPeriod: cfg.SubscriptionPeriod(),
		InviteTTL:          cfg.InviteTTL(),
		Location:           loc,
	}, m)
	if err := engine.Refresh(ctx); err != nil {
		return err
	}

	scheduler, err := services.NewScheduler(engine, cfg.ExpiryCron, loc)
	if err != nil {
		return err
	}

	// HTTP
	gin.SetMode(cfg.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	api.SetupRoutes(r, &api.Handler{
		Engine:        engine,
		Verifier:      services.NewPaymentVerifier(gateway, cfg.CallTimeout, m),
		Checkout:      services.NewCheckout(gateway, cfg.BaseURL, cfg.PriceINR, cfg.CallTimeout, m),
		Guard:         guard,
		Sweeps:        scheduler,
		Metrics:       m,
		WebhookSalt:   cfg.InstamojoSalt,
		Location:      loc,
		MetricsSource: registry,
	}, cfg.CronSecret)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	commands := bot.New(telegram.API(), engine, cfg.BaseURL, cfg.PriceINR, cfg.SubscriptionDays, loc)
	commands.SetPollTimeout(int((cfg.CallTimeout - 5*time.Second).Seconds()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Infof("Starting server on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return commands.Run(gctx, telegram.API())
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	err = g.Wait()

	logging.Infof("Waiting for pending notifications")
	dispatcher.Wait()

	return err
}
