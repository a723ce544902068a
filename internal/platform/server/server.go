package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ogurasousui/codex-payroll-ledger/internal/adapters/grpc/handler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const shutdownTimeout = 10 * time.Second

// Config はサーバーの待ち受けアドレスです。MetricsAddr が空の場合 /metrics は公開しません。
type Config struct {
	ListenAddr  string
	MetricsAddr string
}

// Server は gRPC サーバーと Prometheus メトリクスエンドポイントのライフサイクルを管理します。
type Server struct {
	cfg        Config
	log        *slog.Logger
	grpcServer *grpc.Server
	metrics    *http.Server
}

// New は PayrollService を登録した gRPC サーバーを構築します。
func New(cfg Config, log *slog.Logger, payroll handler.PayrollServer, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			handler.UnaryPrincipalInterceptor(),
			handler.UnaryLoggingInterceptor(log),
		),
	}, opts...)
	srv := grpc.NewServer(opts...)
	handler.RegisterPayrollServer(srv, payroll)

	s := &Server{
		cfg:        cfg,
		log:        log,
		grpcServer: srv,
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metrics = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s
}

// Run はサーバーを起動し、コンテキストがキャンセルされると GracefulStop します。
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("grpc: server listening", "address", lis.Addr().String())
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})

	if s.metrics != nil {
		metricsLis, err := net.Listen("tcp", s.metrics.Addr)
		if err != nil {
			s.grpcServer.Stop()
			return fmt.Errorf("listen on %s: %w", s.metrics.Addr, err)
		}
		g.Go(func() error {
			s.log.Info("metrics: server listening", "address", metricsLis.Addr().String())
			if err := s.metrics.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.GracefulStop()
		return nil
	})

	return g.Wait()
}

// GracefulStop はサーバーを安全に停止します。
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.metrics.Shutdown(ctx); err != nil {
			s.log.Warn("metrics: shutdown", "error", err)
		}
	}
}
