package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ocrd/internal/config"
	"ocrd/internal/engine"
	"ocrd/internal/httpapi"
	"ocrd/internal/logging"
	"ocrd/internal/manager"
	"ocrd/internal/ocr"
	"ocrd/internal/registry"
	"ocrd/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OCR HTTP server and load the engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration:\n%w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	defineFlags(serveCmd)
}

// stack is the assembled service.
type stack struct {
	mgr *manager.Manager
	ocr *ocr.Service
	srv *http.Server
}

func buildStack(cfg config.Config, log zerolog.Logger) *stack {
	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	// Leave room for multipart framing so oversized images reach the validator.
	httpapi.SetMaxBodyBytes(cfg.Upload.MaxFileSize + 1<<20)
	httpapi.SetRequestTimeoutSeconds(int64(cfg.Server.RequestTimeoutSec))
	httpapi.SetCORSOptions(cfg.Server.CORSEnabled, cfg.Server.CORSOrigins, nil, nil)
	httpapi.SetVersion(version)

	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Backend:            cfg.Engine.Backend,
		Args:               cfg.EngineArgs(),
		Sampling:           cfg.SamplingDefaults(),
		CUDAVisibleDevices: cfg.Engine.CUDAVisibleDevices,
		MaxInflight:        cfg.Queue.MaxInflight,
		MaxQueueDepth:      cfg.Queue.MaxQueueDepth,
		MaxWait:            cfg.MaxWait(),
		DrainTimeout:       cfg.DrainTimeout(),
		Logger:             &log,
		Publisher:          manager.NewRingPublisher(64),
	})
	svc := ocr.NewService(mgr, ocr.Config{
		Limits:             cfg.UploadLimits(),
		DefaultTemperature: cfg.Sampling.Temperature,
		CacheTTL:           cfg.CacheTTL(),
		CacheCapacity:      cfg.Cache.Capacity,
		Logger:             &log,
	})
	mux := httpapi.NewMux(httpapi.NewService(mgr, svc, modelInfo(cfg, log)))
	return &stack{
		mgr: mgr,
		ocr: svc,
		srv: &http.Server{Addr: cfg.Addr(), Handler: mux, ReadHeaderTimeout: 10 * time.Second},
	}
}

// modelInfo describes the configured model for GET /models. Remote backends
// have nothing on disk to inspect.
func modelInfo(cfg config.Config, log zerolog.Logger) types.ModelInfoResponse {
	info := types.ModelInfoResponse{
		ModelPath:            cfg.Engine.ModelPath,
		ModelType:            engine.DefaultArchitecture,
		MaxTokens:            cfg.Sampling.MaxTokens,
		GPUMemoryUtilization: cfg.Engine.GPUMemoryUtilization,
		Backend:              cfg.Engine.Backend,
		Architectures:        []string{engine.DefaultArchitecture},
	}
	switch cfg.Engine.Backend {
	case "vllm", "openai":
		return info
	}
	d, err := registry.Inspect(cfg.Engine.ModelPath)
	if err != nil {
		log.Warn().Err(err).Str("model_path", cfg.Engine.ModelPath).Msg("model inspection failed")
		return info
	}
	info.ModelPath = d.Path
	info.Architectures = d.Architectures
	return info
}

// serve runs the HTTP server and engine initialization until ctx is done or
// either fails.
func serve(ctx context.Context, cfg config.Config) error {
	log := logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	st := buildStack(cfg, log)
	defer st.ocr.Close()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	st.srv.BaseContext = func(net.Listener) context.Context { return baseCtx }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Str("version", version).Msg("ocrd listening")
		if err := st.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := st.mgr.Initialize(gctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := st.srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful http shutdown")
		}
		if err := st.mgr.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("engine shutdown")
		}
		cancelBase()
		return nil
	})

	err := g.Wait()
	if err != nil {
		log.Error().Err(err).Msg("ocrd stopped")
		return err
	}
	log.Info().Msg("ocrd stopped")
	return nil
}
