package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/ccotracker/tracker/agent/internal/capture"
	"github.com/ccotracker/tracker/agent/internal/config"
	"github.com/ccotracker/tracker/agent/internal/connectivity"
	"github.com/ccotracker/tracker/agent/internal/device"
	"github.com/ccotracker/tracker/agent/internal/diag"
	"github.com/ccotracker/tracker/agent/internal/engine"
	"github.com/ccotracker/tracker/agent/internal/metrics"
	"github.com/ccotracker/tracker/agent/internal/position"
	"github.com/ccotracker/tracker/agent/internal/queue"
	"github.com/ccotracker/tracker/agent/internal/status"
	"github.com/ccotracker/tracker/agent/internal/transport"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the config; ignored if missing")
	statusAddr := pflag.String("status-addr", "", "override agent.status.addr (\"off\" disables the status server)")
	dumpMetrics := pflag.Bool("dump-metrics", false, "write final metrics to stdout on shutdown")
	pflag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load env file", "path", *envFile, "err", err)
	}

	slog.Info("tracker-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	a := cfg.Agent
	level.Set(a.SlogLevel())
	if *statusAddr != "" {
		a.Status.Addr = *statusAddr
		if *statusAddr == "off" {
			a.Status.Addr = ""
		}
	}
	slog.Info("config loaded",
		"collector_url", a.CollectorURL,
		"subject_id", a.SubjectID,
		"interval", a.Tracking.Interval,
		"min_distance_m", a.Tracking.MinDistanceM,
		"queue_backend", a.Queue.Backend,
		"position_source", a.Position.Source,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deviceID, err := device.LoadOrCreate(a.DeviceIDPath())
	if err != nil {
		slog.Error("failed to load device id", "err", err)
		os.Exit(1)
	}

	q, err := queue.Open(ctx, a)
	if err != nil {
		slog.Error("failed to open queue", "err", err)
		os.Exit(1)
	}
	defer q.Close()

	tr, err := transport.New(a)
	if err != nil {
		slog.Error("failed to build transport", "err", err)
		os.Exit(1)
	}
	provider, err := position.New(a.Position)
	if err != nil {
		slog.Error("failed to build position source", "err", err)
		os.Exit(1)
	}
	probe, err := connectivity.NewProbe(a)
	if err != nil {
		slog.Error("failed to build connectivity probe", "err", err)
		os.Exit(1)
	}

	events := diag.NewLog(a.EventBuffer)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, q.Len)

	eng := engine.New(engine.Options{
		DeviceID:     deviceID,
		SubjectID:    a.SubjectID,
		Settings:     capture.SettingsFrom(a.Tracking),
		Queue:        q,
		Transport:    tr,
		Provider:     provider,
		Connectivity: probe,
		Log:          events,
		Metrics:      m,
		Retention:    a.Queue.Retention,
	})
	if err := eng.Start(ctx); err != nil {
		slog.Error("failed to start engine", "err", err)
		os.Exit(1)
	}

	// Hot reload applies tracking settings, subject and log level. Transport,
	// queue and position changes need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Agent.SlogLevel())
			err := eng.UpdateSettings(capture.SettingsFrom(updated.Agent.Tracking), updated.Agent.SubjectID)
			if err != nil {
				slog.Error("failed to apply reloaded settings", "err", err)
				return
			}
			slog.Info("config hot-reloaded",
				"interval", updated.Agent.Tracking.Interval,
				"subject_id", updated.Agent.SubjectID)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	var httpSrv *http.Server
	if a.Status.Addr != "" {
		hub := status.NewHub(events, eng.Running)
		go hub.Run(ctx)

		httpSrv = &http.Server{
			Addr:              a.Status.Addr,
			Handler:           status.New(ctx, eng, hub, m.Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("status server listening", "addr", a.Status.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("status server stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("tracker-agent shutting down")
	eng.Stop()
	if httpSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
		done()
	}
	if *dumpMetrics {
		if err := metrics.Dump(os.Stdout, reg); err != nil {
			slog.Error("failed to dump metrics", "err", err)
		}
	}
}
