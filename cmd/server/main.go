package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lexiqai/speech-player/internal/api"
	"github.com/lexiqai/speech-player/internal/config"
	"github.com/lexiqai/speech-player/internal/observability"
	"github.com/lexiqai/speech-player/internal/orchestrator"
	"github.com/lexiqai/speech-player/internal/player"
	"github.com/lexiqai/speech-player/internal/resilience"
	"github.com/lexiqai/speech-player/internal/speaker"
	"github.com/lexiqai/speech-player/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_health_port", cfg.GRPCHealthPort).
		Str("voice_id", cfg.ElevenLabsVoiceID).
		Str("player", cfg.PlayerCommand).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Speech player service starting")

	engine, err := player.NewExecEngine(cfg.PlayerCommand, cfg.PlayerSpeedFlag)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid player command")
	}
	breaker := resilience.NewCircuitBreaker("elevenlabs", cfg.CircuitBreakerMaxFailures, cfg.BreakerResetTimeout())

	manager := speaker.NewManager(orchestrator.Options{
		Dialer:      tts.NewElevenLabsDialer(cfg.ElevenLabsBaseURL, cfg.ElevenLabsModelID, cfg.ElevenLabsOutputFormat),
		Player:      engine,
		Breaker:     breaker,
		TempDir:     cfg.AudioTempDir,
		OpenTimeout: cfg.OpenTimeout(),
		IdleTimeout: cfg.IdleTimeout(),
	})

	// Playbacks run under this context so shutdown stops them
	baseCtx, stopPlayback := context.WithCancel(context.Background())
	defer stopPlayback()

	mux := http.NewServeMux()
	api.NewHandler(baseCtx, cfg, manager).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness checks are local only; probing the synthesis service would cost credits
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"api_key": func(ctx context.Context) (bool, error) {
			if cfg.ElevenLabsAPIKey == "" {
				return false, fmt.Errorf("ELEVENLABS_API_KEY is not set")
			}
			return true, nil
		},
		"player": func(ctx context.Context) (bool, error) {
			if _, err := engine.LookPath(); err != nil {
				return false, err
			}
			return true, nil
		},
		"elevenlabs": func(ctx context.Context) (bool, error) {
			if state := breaker.GetState(); state == resilience.StateOpen {
				return false, fmt.Errorf("circuit breaker %s", state)
			}
			return true, nil
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// gRPC health service for orchestrators that probe over gRPC
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCHealthPort))
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.GRPCHealthPort).Msg("Failed to listen for gRPC health")
	}

	// Wait for interrupt signal to gracefully shutdown the servers
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/speak", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("port", cfg.GRPCHealthPort).Msg("gRPC health service listening")
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")
		healthServer.Shutdown()

		// Stop the active playback first so its temp buffer is removed
		stopPlayback()
		if manager.Stop() {
			logger.Info().Msg("Stopped active playback")
		}

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}

	logger.Info().Msg("Server exited gracefully")
}
