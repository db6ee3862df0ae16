package main

import (
	"net"

	config "github.com/NordCoder/Notifyhub/internal/config/notifyhub"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/transport"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

func buildGRPCServer(cfg *config.Config, ident transport.PlainIdentifier, sessions transport.SessionServer) (*grpc.Server, net.Listener, error) {
	grpcMetrics := grpcprometheus.NewServerMetrics()

	opts := obs.GRPCServerOpts()
	opts = append(opts,
		grpc.ChainStreamInterceptor(
			grpcMetrics.StreamServerInterceptor(),
			transport.StreamIdentityInterceptor(ident),
		),
	)

	grpcServer := grpc.NewServer(opts...)
	transport.RegisterSessionServer(grpcServer, sessions)
	grpcMetrics.InitializeMetrics(grpcServer)
	if err := prometheus.Register(grpcMetrics); err != nil {
		return nil, nil, err
	}

	reflection.Register(grpcServer)

	ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return nil, nil, err
	}
	return grpcServer, ln, nil
}

func serveGRPC(s *grpc.Server, ln net.Listener, logger *zap.Logger) error {
	logger.Info("grpc listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ln)
}
