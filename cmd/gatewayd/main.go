package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/httpserver"
	"github.com/ncecere/open_image_gateway/internal/observability"
	"github.com/ncecere/open_image_gateway/internal/redisclient"
)

func main() {
	configFile := flag.String("config", "", "path to gateway config file")
	envFile := flag.String("env", "", "path to .env file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	redisClient := redisclient.New(cfg.Redis)
	if redisClient != nil {
		if err := redisclient.Ping(ctx, redisClient); err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer redisClient.Close()
	}

	kv, err := configstore.Open(ctx, *cfg, redisClient)
	if err != nil {
		log.Fatalf("open config store: %v", err)
	}

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		log.Fatalf("setup observability: %v", err)
	}

	container, err := app.NewContainer(ctx, cfg, app.Options{
		KV:            kv,
		Redis:         redisClient,
		Observability: obs,
		Logger:        logger,
		Base:          ctx,
	})
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("close container", slog.String("error", err.Error()))
		}
	}()

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	logger.Info("gateway listening",
		slog.String("addr", cfg.Server.ListenAddr),
		slog.String("config_store", kv.Backend()),
		slog.String("config_location", kv.Location()),
	)
	if err := server.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server stopped: %v", err)
	}
}
