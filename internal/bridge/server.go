package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/KieronQuinn/Smartspacer-sub002/internal/infrastructure/tracing"
	"github.com/KieronQuinn/Smartspacer-sub002/internal/logging"
)

// Server serves a Service over a unix socket
type Server struct {
	service *Service
	logger  *logging.Logger
	grpc    *grpc.Server
}

// ServerOption configures a Server
type ServerOption func(*serverOptions)

type serverOptions struct {
	tracer *tracing.Tracer
}

// WithTracer traces every bridge call
func WithTracer(t *tracing.Tracer) ServerOption {
	return func(o *serverOptions) { o.tracer = t }
}

// NewServer creates the gRPC server for svc
func NewServer(svc *Service, logger *logging.Logger, opts ...ServerOption) *Server {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger = logger.Component("bridge.server")

	unary := []grpc.UnaryServerInterceptor{recoveryUnary(logger)}
	stream := []grpc.StreamServerInterceptor{recoveryStream(logger)}
	if o.tracer != nil {
		unary = append(unary, tracing.UnaryServerInterceptor(o.tracer))
		stream = append(stream, tracing.StreamServerInterceptor(o.tracer))
	}
	unary = append(unary, loggingUnary(logger))

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 20 * time.Second,
		}),
		grpc.MaxRecvMsgSize(10*1024*1024),
		grpc.MaxSendMsgSize(10*1024*1024),
	)
	RegisterBridgeServer(srv, svc)
	return &Server{service: svc, logger: logger, grpc: srv}
}

// GRPC returns the underlying server, for serving on custom listeners
func (s *Server) GRPC() *grpc.Server {
	return s.grpc
}

// Serve listens on socketPath until ctx ends. A stale socket left by a
// previous bridge is removed first.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	if socketPath == "" {
		return errors.New("bridge socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return err
	}
	_ = os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	// Only the host app, running as another uid, needs to connect.
	if err := os.Chmod(socketPath, 0o666); err != nil {
		s.logger.Warn("Failed to open up socket permissions", zap.Error(err))
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener serves on lis until ctx ends
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.service.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()
	s.logger.Info("Bridge listening", zap.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop stops the server immediately
func (s *Server) Stop() {
	s.grpc.Stop()
}

func recoveryUnary(logger *logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Bridge call panicked", zap.String("method", info.FullMethod), zap.Any("panic", r))
				err = status.Errorf(codes.Internal, "panic in %s", info.FullMethod)
			}
		}()
		return handler(ctx, req)
	}
}

func recoveryStream(logger *logging.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Bridge stream panicked", zap.String("method", info.FullMethod), zap.Any("panic", r))
				err = status.Errorf(codes.Internal, "panic in %s", info.FullMethod)
			}
		}()
		return handler(srv, ss)
	}
}

func loggingUnary(logger *logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("Bridge call failed",
				zap.String("method", info.FullMethod),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
		} else {
			logger.Debug("Bridge call",
				zap.String("method", info.FullMethod),
				zap.Duration("duration", time.Since(start)))
		}
		return resp, err
	}
}
