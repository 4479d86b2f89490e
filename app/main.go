package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ekipoure/radar-sub001/app/internal/aggregate"
	"github.com/Ekipoure/radar-sub001/app/internal/alerts"
	"github.com/Ekipoure/radar-sub001/app/internal/cache"
	"github.com/Ekipoure/radar-sub001/app/internal/config"
	"github.com/Ekipoure/radar-sub001/app/internal/database"
	"github.com/Ekipoure/radar-sub001/app/internal/handlers"
	"github.com/Ekipoure/radar-sub001/app/internal/history"
	"github.com/Ekipoure/radar-sub001/app/internal/ingest"
	"github.com/Ekipoure/radar-sub001/app/internal/monitor"
	"github.com/Ekipoure/radar-sub001/app/internal/registry"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	log := logger.WithField("service", "radar")

	clock := clockwork.NewRealClock()

	store, err := database.Open(cfg.DBPath, clock)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer store.Close()

	for _, srv := range cfg.Servers {
		if err := store.UpsertServer(srv); err != nil {
			log.WithError(err).WithField("server", srv.ID).Fatal("failed to register server")
		}
	}
	log.WithField("servers", len(cfg.Servers)).Info("server definitions loaded")

	c := cache.New(cfg.CacheTTL, cfg.CacheEnabled)
	defer c.Stop()

	reg := registry.New(store)
	agg := aggregate.New(store, reg, c, clock, cfg.Lookback)
	sum := history.New(store, c, clock)
	gateway := ingest.New(store, reg, c, log)
	notifier := alerts.NewNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, log)

	if cfg.EnableScheduler {
		engine := monitor.NewEngine(cfg, store, gateway, agg, notifier, clock, log)
		engine.Start()
		defer engine.Stop()
	}

	api := handlers.NewAPI(cfg, store, gateway, agg, sum, clock, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
