package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Boendestodet/r3kt.dev-sub000/generation"
	"github.com/Boendestodet/r3kt.dev-sub000/proxy"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the generation workers and preview router",
	Long: `Run the long-lived service: pending generation requests are picked up
from the database and processed, previews are routed by subdomain, and
Prometheus metrics are exposed.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.logger

	if err := a.manager.RestoreReservations(ctx); err != nil {
		log.Warn("failed to restore port reservations", zap.Error(err))
	}

	dispatcher := generation.NewDispatcher(a.orchestrator, a.cfg.Generation.Workers, log)
	poller := generation.NewPoller(a.store, dispatcher, a.cfg.Generation.PollInterval, a.cfg.Generation.QueueSize, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poller.Run(gctx)
		return nil
	})

	var servers []*http.Server
	if a.cfg.Proxy.Address != "" {
		router := proxy.NewRouter(a.store, a.coordinator, a.cfg.Proxy, log)
		g.Go(func() error {
			router.InactivityMonitor(gctx)
			return nil
		})
		servers = append(servers, &http.Server{Addr: a.cfg.Proxy.Address, Handler: router})
	}
	if a.cfg.Metrics.Address != "" {
		servers = append(servers, &http.Server{Addr: a.cfg.Metrics.Address, Handler: opsRouter()})
	}
	for _, srv := range servers {
		g.Go(func() error {
			log.Info("listening", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	<-gctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server failed to shut down gracefully", zap.String("address", srv.Addr), zap.Error(err))
		}
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("generation workers did not finish in time", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited gracefully")
	return nil
}

// opsRouter serves liveness and Prometheus metrics.
func opsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
