package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/sensor"
)

func main() {
	cfg, err := loadConfig(newViper())
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	resolver, err := sensor.NewDefaultResolver(
		sensor.WithLanguage(cfg.Language),
		sensor.WithResolverLogger(logger),
	)
	if err != nil {
		log.Fatalf("Sensor catalog error: %v", err)
	}

	logger.Info("starting my-PV Prometheus exporter", "port", cfg.Port, "sensors", resolver.Catalog().Len())
	logger.Info("monitoring devices", "count", len(cfg.Devices))
	for _, d := range cfg.Devices {
		logger.Info("device", "name", d.Name, "host", d.Host)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := newRefreshMetrics(registry)

	devices := make([]*monitoredDevice, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		devices = append(devices, newMonitoredDevice(d, cfg, metrics, logger))
	}
	registry.MustRegister(NewCollector(devices, resolver, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(d *monitoredDevice) {
			defer wg.Done()
			d.poll(ctx, cfg.PollInterval)
		}(d)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.RecoveryHandler()(newRouter(devices, resolver, registry, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}

	wg.Wait()
	logger.Info("exporter stopped")
}
