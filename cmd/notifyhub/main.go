package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	config "github.com/NordCoder/Notifyhub/internal/config/notifyhub"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("NOTIFYHUB_CONFIG"), "path to the yaml config")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting notifyhub", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version))

	otelShutdown, err := initOTel(rootCtx, cfg)
	if err != nil {
		logger.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	st, err := initStorage(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("storage init", zap.Error(err))
	}
	defer st.close()

	b := initBus(rootCtx, cfg, logger)
	defer b.Close()

	a, err := wire(rootCtx, cfg, st, b, logger)
	if err != nil {
		logger.Fatal("wire", zap.Error(err))
	}

	grpcServer, grpcLn, err := buildGRPCServer(cfg, a.ident, a.sessions)
	if err != nil {
		logger.Fatal("build grpc", zap.Error(err))
	}
	httpSrv := buildHTTPServer(cfg, a.router)

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return serveHTTP(httpSrv, logger) })
	g.Go(func() error { return serveGRPC(grpcServer, grpcLn, logger) })
	g.Go(func() error { return a.fanout.Run(gctx) })
	if a.outbox != nil {
		g.Go(func() error { a.outbox.Run(gctx); return nil })
	}
	if a.inbound != nil {
		g.Go(func() error { return a.inbound.Run(gctx) })
	}
	if st.seeder != nil {
		go st.seeder.SeedWithRetry(gctx, cfg.Seed.Attempts, cfg.Seed.Wait)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shCtx.Done():
			// Open session streams never finish on their own.
			grpcServer.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("notifyhub stopped", zap.Error(err))
	}
	logger.Info("bye")
}
