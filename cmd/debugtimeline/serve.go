package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/kosaladathapththu/Code-Evolution-Tracker/internal/config"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/internal/logger"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/internal/metrics"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/internal/server"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/internal/tracing"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/pkg/wal"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over HTTP and gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.LogServerStart(cfg.HTTP.Addr, cfg.Journal.Path)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown failed")
		}
	}()

	store, journal, err := openSession(cfg, log, m)
	if err != nil {
		return err
	}
	defer closeJournal(journal, log)
	log.Info().Msg(describe(store))

	var checkpointer *wal.Checkpointer
	if journal != nil {
		checkpointer = wal.NewCheckpointer(cfg.Journal.CheckpointInterval, store.Compact, log.Component("checkpoint").Zerolog())
		checkpointer.Start()
	}

	srv := server.New(store, m, log.Component("api"))

	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: srv.Router(server.RouterConfig{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Tracing:        cfg.Tracing.Enabled,
			ServiceName:    cfg.Tracing.ServiceName,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	var obs *server.ObservabilityServer
	if cfg.Observability.Enabled {
		obs = server.NewObservabilityServer(cfg.Observability.Addr, reg, log.Component("observability"))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ln, err := net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("listen http: %w", err)
		}
		log.LogServerReady("http", ln.Addr().String())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.GRPC.Enabled {
		grpcSrv, healthSrv := srv.NewGRPCServer()
		reflection.Register(grpcSrv)

		g.Go(func() error {
			ln, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				return fmt.Errorf("listen grpc: %w", err)
			}
			log.LogServerReady("grpc", ln.Addr().String())
			if err := grpcSrv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			healthSrv.Shutdown()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	if obs != nil {
		g.Go(obs.Start)
		obs.SetReady(true)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.LogServerShutdown()
		if obs != nil {
			obs.SetReady(false)
		}

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpSrv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if obs != nil {
			if err := obs.Shutdown(sctx); err != nil {
				errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	runErr := g.Wait()

	if checkpointer != nil {
		checkpointer.Stop()
		if err := checkpointer.Checkpoint(); err != nil {
			log.Error().Err(err).Msg("final checkpoint failed")
			runErr = errors.Join(runErr, err)
		}
	}

	return runErr
}
