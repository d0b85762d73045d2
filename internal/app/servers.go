package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// serveUntilDone запускает serve и ждёт отмены ctx или ошибки сервера.
// После отмены stop получает shutdownTimeout на graceful-остановку. closed: штатная ошибка после остановки.
func serveUntilDone(ctx context.Context, serve func() error, stop func(context.Context) error, closed error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- serve() }()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return stop(stopCtx)
	case err := <-errCh:
		if errors.Is(err, closed) {
			return nil
		}
		return err
	}
}

func probesMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.Liveness)
	mux.HandleFunc("/readyz", healthHandler.Readiness)
	return mux
}

// startMetricsServer поднимает /metrics и health-пробы в фоне; ошибка сервера только логируется.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: probesMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}
	logger = logger.WithField("addr", addr)

	go func() {
		logger.Info("metrics and health probes listening")
		err := serveUntilDone(ctx, srv.ListenAndServe, func(context.Context) error {
			shutdownHTTP(srv, logger)
			return nil
		}, http.ErrServerClosed)
		if err != nil {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	return srv
}

// shutdownHTTP останавливает HTTP-сервер за shutdownTimeout.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// serveAPI обслуживает echo до отмены ctx; занятый адрес возвращается сразу.
func serveAPI(ctx context.Context, e *echo.Echo, addr string, logger *log.Entry) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	e.Listener = lis
	logger.WithField("addr", lis.Addr().String()).Info("http api listening")

	return serveUntilDone(ctx, func() error { return e.Start("") }, func(stopCtx context.Context) error {
		if err := e.Shutdown(stopCtx); err != nil {
			logger.WithError(err).Warn("api shutdown with error")
		}
		return nil
	}, http.ErrServerClosed)
}

// grpcHealthServer: стандартная grpc.health.v1 служба с отдельным статусом на каждую подсистему.
type grpcHealthServer struct {
	server *grpc.Server
	health *health.Server
}

func newGRPCHealthServer(service string, logger *log.Entry) grpcHealthServer {
	grpcMetrics := metrics.GRPCServerMetrics()
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	for _, name := range []string{"", service} {
		healthServer.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	logger.WithField("service", service).Debug("grpc health server configured")
	return grpcHealthServer{server: server, health: healthServer}
}

// serve обслуживает gRPC до отмены ctx; если GracefulStop не укладывается в shutdownTimeout, соединения рвутся.
func (s grpcHealthServer) serve(ctx context.Context, addr string, logger *log.Entry) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.WithField("addr", lis.Addr().String()).Info("grpc health listening")

	return serveUntilDone(ctx, func() error { return s.server.Serve(lis) }, func(stopCtx context.Context) error {
		s.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-stopCtx.Done():
			logger.Warn("grpc graceful stop timed out, forcing stop")
			s.server.Stop()
		}
		return nil
	}, grpc.ErrServerStopped)
}

// setServing переключает статус подсистемы, например consumer при потере брокера.
func (s grpcHealthServer) setServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}
