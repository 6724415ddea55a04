// entry point of the application
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"hozon/internal/config"
	"hozon/internal/consts"
	"hozon/internal/depmanager"
	"hozon/internal/downloader"
	"hozon/internal/events"
	httprouter "hozon/internal/infrastructure/delivery/http"
	"hozon/internal/observability"
	"hozon/internal/proxymgr"
	"hozon/internal/reveal"
	"hozon/internal/service"
	"hozon/internal/storage"
	httpserver "hozon/pkg/http/server"
	"hozon/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		slog.Error("config new", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Options{
		AddSource: true,
		Level:     cfg.App.LogLevel,
	})
	if err != nil {
		slog.WarnContext(ctx, "logger level invalid; defaulting to info", slog.Any("error", err))
	}

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "hozon stopped", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	log.InfoContext(ctx, "hozon shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	metrics := observability.New(prometheus.DefaultRegisterer)
	storer := storage.New(ctx, log, cfg, metrics)
	broker := events.NewBroker(log, metrics)
	proxyMgr := proxymgr.New(log, cfg, metrics)

	var dl downloader.Downloader

	switch cfg.App.Downloader {
	case consts.DownloaderMock:
		dl = downloader.NewMock(log)
	default:
		depMgr := depmanager.New(log, cfg)

		log.InfoContext(ctx, "checking if yt-dlp and ffmpeg are installed. it may take some time...")

		if err := depMgr.Resolve(ctx); err != nil {
			return err //nolint:wrapcheck
		}

		dl = downloader.NewYTdlp(log, cfg, metrics, depMgr, storer, proxyMgr)
	}

	svc := service.New(cfg, log, dl, storer, broker, metrics)

	router := httprouter.New(log, cfg, httprouter.Deps{
		Service:  svc,
		Revealer: reveal.New(log),
		Proxies:  proxyMgr,
		Metrics:  metrics,
	})

	g, gctx := errgroup.WithContext(ctx)

	svc.Start(gctx)

	g.Go(func() error {
		proxyMgr.Run(gctx)

		return nil
	})

	httpSrv := httpserver.New(router, httpserver.Options{
		Addr:            cfg.HTTP.Port,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	log.InfoContext(ctx, "hozon started", slog.String("port", cfg.HTTP.Port), slog.String("downloader", cfg.App.Downloader))

	g.Go(func() error {
		select {
		case err, ok := <-httpSrv.Notify():
			if ok && err != nil {
				return err
			}
		case <-gctx.Done():
		}

		return httpSrv.Shutdown() //nolint:wrapcheck
	})

	// sessions are cancelled by gctx; wait for their partial files to be removed
	g.Go(func() error {
		<-gctx.Done()
		svc.Wait()

		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err //nolint:wrapcheck
}
