package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/reservation-notifier/internal/app"
	"github.com/example/reservation-notifier/internal/config"
	httpapi "github.com/example/reservation-notifier/internal/http"
	"github.com/example/reservation-notifier/internal/logging"
	"github.com/example/reservation-notifier/internal/watcher"
)

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics and health checks on")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel, "watcher")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	// start metrics and health server
	health := &http.Server{Addr: metricsAddr, Handler: healthMux(a.Watcher, a.Ready()), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	if err := a.Watcher.Start(ctx); err != nil {
		logger.Error("watcher start failed", "error", err)
		os.Exit(1)
	}
	logger.Info("watcher running", "feed", cfg.FeedBackend, "resubscribe_delay", cfg.ResubscribeDelay.String())

	<-ctx.Done()
	logger.Info("shutting down watcher")
	a.Watcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = health.Shutdown(shutdownCtx)
}

type stater interface {
	State() watcher.State
}

// healthMux serves the liveness string, metrics and probes. Ready means the
// subscription is open and, when the store supports it, the store answers.
func healthMux(w stater, store httpapi.Pinger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) { rw.WriteHeader(200); rw.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(rw http.ResponseWriter, r *http.Request) {
		if st := w.State(); st != watcher.StateActive {
			http.Error(rw, "watcher "+st.String(), http.StatusServiceUnavailable)
			return
		}
		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(rw, "store not ready", http.StatusServiceUnavailable)
				return
			}
		}
		rw.WriteHeader(200)
		rw.Write([]byte("ready"))
	})
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(rw, r)
			return
		}
		rw.WriteHeader(200)
		rw.Write([]byte("✅ Service DriverPro Notifications actif."))
	})
	return mux
}
