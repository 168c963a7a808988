package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/confvault/internal/app/inventory"
	"github.com/splax/confvault/internal/app/migrate"
	"github.com/splax/confvault/internal/app/store"
	httpx "github.com/splax/confvault/internal/http"
	"github.com/splax/confvault/internal/service/audit"
	"github.com/splax/confvault/internal/service/auth"
	"github.com/splax/confvault/internal/service/environment"
	"github.com/splax/confvault/internal/service/variable"
	"github.com/splax/confvault/internal/sink/influx"
	"github.com/splax/confvault/internal/sink/mqtt"
	"github.com/splax/confvault/internal/sink/webhook"
	"github.com/splax/confvault/internal/ws"
	"github.com/splax/confvault/pkg/config"
	"github.com/splax/confvault/pkg/crypto"
	"github.com/splax/confvault/pkg/logger"
)

func main() {
	cfg, err := config.LoadAPIConfig()
	log := logger.NewWithFormat("api", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handle, err := store.Open(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer handle.Close()
	if err := handle.Store.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(handle.SQL, handle.Driver, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	cipher, err := crypto.NewCipher(cfg.MasterKey)
	if err != nil {
		log.Error("invalid master key", "error", err)
		os.Exit(1)
	}
	if cfg.UsesDevelopmentMasterKey() {
		log.Warn("using the built-in development master key")
	}

	hub := ws.NewHub(cfg.AuditStreamBuffer)
	defer hub.Close()
	sinks := []audit.Sink{hub}

	if cfg.MQTT.Enabled() {
		mqttSink, err := mqtt.Connect(cfg.MQTT, log)
		if err != nil {
			log.Warn("mqtt audit sink unavailable", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			defer mqttSink.Close()
			sinks = append(sinks, mqttSink)
			log.Info("mqtt audit sink enabled", "broker", cfg.MQTT.Broker)
		}
	}
	if cfg.Influx.Enabled() {
		influxSink, err := influx.Connect(ctx, cfg.Influx, log)
		if err != nil {
			log.Warn("influx audit sink unavailable", "url", cfg.Influx.URL, "error", err)
		} else {
			defer influxSink.Close()
			sinks = append(sinks, influxSink)
			log.Info("influx audit sink enabled", "url", cfg.Influx.URL)
		}
	}
	if cfg.Webhook.Enabled() {
		webhookSink, err := webhook.New(cfg.Webhook, nil, log)
		if err != nil {
			log.Warn("webhook audit sink unavailable", "error", err)
		} else {
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				webhookSink.Close(closeCtx)
			}()
			sinks = append(sinks, webhookSink)
			log.Info("webhook audit sink enabled")
		}
	}

	recorder := audit.NewRecorder(handle.Store, log, audit.Config{
		DefaultLimit: cfg.AuditDefaultLimit,
		MaxLimit:     cfg.AuditMaxLimit,
	}, sinks...)
	authSvc := auth.New(handle.Store, log, cfg)
	environmentSvc := environment.New(handle.Store, handle.Store, recorder, log)
	variableSvc := variable.New(handle.Store, handle.Store, environmentSvc, cipher, recorder, log)

	collector, err := inventory.New(handle.Store, cfg.InventorySchedule, prometheus.DefaultRegisterer, log)
	if err != nil {
		log.Error("failed to configure inventory collector", "error", err)
		os.Exit(1)
	}
	collector.Start()
	defer collector.Stop()

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Auth:         authSvc,
		Environments: environmentSvc,
		Variables:    variableSvc,
		Audit:        recorder,
	}, hub, limiter, handle.Store.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "driver", handle.Driver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
