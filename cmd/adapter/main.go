package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/accel"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/config"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/model"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/moduleinfo"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/server"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/telemetry"
	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting adapter",
		"version", moduleinfo.Version,
		"listen_addr", cfg.ListenAddr,
		"ws_addr", cfg.WSAddr,
		"model_dir", cfg.ModelDir,
		"stub_engine", cfg.UseStubEngine,
	)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("adapter terminated with error", "error", err)
		os.Exit(1)
	}
	logger.Info("adapter stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	accel.SetLogger(logger)
	if cfg.AccelEnabled() {
		if err := accel.Init(); err != nil {
			logger.Warn("accelerator unavailable, decoding on CPU", "error", err)
		}
		defer accel.Shutdown()
	}

	mctx, err := model.Load(cfg.ModelDir, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := mctx.Close(); err != nil {
			logger.Warn("failed to close model", "error", err)
		}
	}()

	recorder := telemetry.NewRecorder(logger)
	defer logTotals(logger, recorder)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer lis.Close()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)

	serviceName := server.ServiceDesc.ServiceName
	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	server.RegisterTranscriberServer(grpcServer, server.New(cfg, logger, mctx, recorder))

	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_SERVING)

	var httpServer *http.Server
	if cfg.WSAddr != "" {
		httpServer = &http.Server{
			Addr:              cfg.WSAddr,
			Handler:           ws.New(cfg, logger, mctx, recorder).Mux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	if httpServer != nil {
		g.Go(func() error {
			logger.Info("websocket endpoint listening", "addr", cfg.WSAddr, "path", ws.Path)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested, stopping servers")
		healthServer.SetServingStatus(serviceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)

		if httpServer != nil {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(sctx); err != nil {
				logger.Warn("websocket shutdown incomplete", "error", err)
				httpServer.Close()
			}
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
		return nil
	})
	return g.Wait()
}

func logTotals(logger *slog.Logger, recorder *telemetry.Recorder) {
	snapshot := recorder.Snapshot()
	if snapshot.TotalSessions == 0 {
		return
	}
	logger.Info("telemetry totals",
		"total_sessions", snapshot.TotalSessions,
		"total_samples", snapshot.TotalSamples,
		"total_windows", snapshot.TotalWindows,
		"total_tokens", snapshot.TotalTokens,
		"total_overruns", snapshot.TotalOverruns,
		"total_dropped", snapshot.TotalDropped,
		"total_decode_errors", snapshot.TotalDecodeErrors,
		"total_failures", snapshot.TotalFailures,
	)
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
