package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/ordercore/internal/health"
	grpcsvc "github.com/vladislavdragonenkov/ordercore/internal/service/grpc"
)

// App — собранный сервис: gRPC API, HTTP-метрики и фоновые воркеры.
type App struct {
	cfg        Config
	deps       *Dependencies
	grpcServer *grpc.Server
	grpcHealth *health.Server
	logger     *log.Entry
}

// New собирает зависимости и gRPC-сервер.
func New(ctx context.Context, cfg Config, logger *log.Entry) (*App, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.SeedFile != "" {
		seed, err := LoadSeed(cfg.SeedFile)
		if err == nil {
			err = deps.ApplySeed(ctx, seed)
		}
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
	}

	service := grpcsvc.NewOrderCoreService(grpcsvc.Dependencies{
		Orchestrator:          deps.Orchestrator,
		Pricing:               deps.Pricing,
		Coupons:               deps.Coupons,
		Wallet:                deps.Wallet,
		Idempotency:           deps.Idempotency,
		Logger:                logger.WithField("layer", "grpc"),
		RequireIdempotencyKey: cfg.RequireIdempotencyKey,
		IdempotencyTTL:        cfg.IdempotencyTTL,
		IdempotencyLease:      cfg.IdempotencyLease,
	})

	grpcMetrics := serverMetrics(logger)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterOrderCoreServer(grpcServer, service)
	grpcMetrics.InitializeMetrics(grpcServer)

	reflection.Register(grpcServer)

	grpcHealth := health.NewServer()
	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcHealth.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)

	return &App{
		cfg:        cfg,
		deps:       deps,
		grpcServer: grpcServer,
		grpcHealth: grpcHealth,
		logger:     logger,
	}, nil
}

// Dependencies отдаёт собранные зависимости.
func (a *App) Dependencies() *Dependencies { return a.deps }

// Run открывает слушателей по адресам из конфигурации и обслуживает запросы
// до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = a.deps.Close()
		return err
	}
	httpLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = grpcLis.Close()
		_ = a.deps.Close()
		return err
	}
	return a.Serve(ctx, grpcLis, httpLis)
}

// Serve запускает gRPC, HTTP и воркеры. Возвращает nil после штатной
// остановки по ctx и первую ошибку любого компонента иначе.
func (a *App) Serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	defer func() {
		if err := a.deps.Close(); err != nil {
			a.logger.WithError(err).Warn("close dependencies")
		}
	}()

	httpSrv := newMetricsServer(a.deps.Health)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := a.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Infof("метрики доступны по адресу %s/metrics", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.deps.OutboxWorker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.deps.IdempotencyPruner.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("получен сигнал остановки, останавливаем серверы")
		a.shutdown(httpSrv)
		return nil
	})

	return g.Wait()
}

func (a *App) shutdown(httpSrv *http.Server) {
	a.grpcHealth.Shutdown()

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(a.cfg.ShutdownTimeout):
		a.logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		a.grpcServer.Stop()
	}

	shutdownHTTP(httpSrv, a.cfg.ShutdownTimeout, a.logger)
}

// serverMetrics регистрирует метрики gRPC, переиспользуя уже
// зарегистрированный коллектор при повторной сборке в одном процессе.
func serverMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

// newMetricsServer отдаёт /metrics для Prometheus и HTTP health probes.
func newMetricsServer(healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
