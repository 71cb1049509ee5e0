package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/ccotracker/tracker/collector/internal/api"
	"github.com/ccotracker/tracker/collector/internal/auth"
	"github.com/ccotracker/tracker/collector/internal/config"
	"github.com/ccotracker/tracker/collector/internal/receiver"
	"github.com/ccotracker/tracker/collector/internal/store"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the config; ignored if missing")
	debug := pflag.Bool("debug", false, "log every accepted sample")
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load env file", "path", *envFile, "err", err)
	}

	slog.Info("tracker-collector starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	c := cfg.Collector
	loadedAt := time.Now()

	slog.Info("config loaded",
		"http_port", c.HTTPPort,
		"auth_mode", c.Auth.Mode,
		"retention", c.Retention,
		"users", len(c.Users),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(c.Retention)
	go st.Run(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	requireKey := auth.APIKey(c.Auth.Mode, c.Auth.EffectiveHeader(), c.Auth.Key())

	mux := http.NewServeMux()
	mux.Handle("/api/location", requireKey(receiver.New(st, reg)))
	mux.Handle("/api/", api.New(st, c.Users, loadedAt))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", c.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("tracker-collector shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
