package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/corrscan/internal/config"
)

// Server owns the Correlator gRPC server, its health service and its listener.
type Server struct {
	cfg        config.ServerConfig
	logger     *slog.Logger
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// NewServer listens on cfg.Address and registers service.
func NewServer(cfg config.ServerConfig, service CorrelatorServer, logger *slog.Logger, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}
	return NewServerOn(lis, cfg, service, logger, opts...), nil
}

// NewServerOn registers service on an existing listener.
func NewServerOn(lis net.Listener, cfg config.ServerConfig, service CorrelatorServer, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpc_prometheus.UnaryServerInterceptor,
			recoverUnary(logger),
			logUnary(logger),
		),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	RegisterCorrelatorServer(grpcServer, service)
	grpc_prometheus.Register(grpcServer)

	healthSrv := health.NewServer()
	for _, name := range []string{"", ServiceName} {
		healthSrv.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	return &Server{
		cfg:        cfg,
		logger:     logger,
		grpcServer: grpcServer,
		health:     healthSrv,
		listener:   lis,
	}
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	s.logger.Info("gRPC server listening", slog.String("address", s.Address()))
	return s.grpcServer.Serve(s.listener)
}

// Shutdown reports NOT_SERVING to health checks and drains in-flight calls. Calls still
// running when ctx expires are cut off.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("graceful shutdown timed out, stopping")
		s.grpcServer.Stop()
		<-drained
	}
}

// Address returns the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns how long Shutdown callers should wait for in-flight calls.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}

func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		attrs := []any{
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("duration", time.Since(start)),
		}
		switch code {
		case codes.OK, codes.InvalidArgument, codes.NotFound, codes.Canceled:
			logger.Debug("rpc handled", attrs...)
		default:
			logger.Warn("rpc failed", append(attrs, slog.Any("error", err))...)
		}
		return resp, err
	}
}

func recoverUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("rpc panicked",
					slog.String("method", info.FullMethod),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
