package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"voxin/internal/bootstrap"
	"voxin/internal/config"
	"voxin/internal/logging"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	headless := flag.Bool("headless", false, "run as a background daemon without a window")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxin: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if *headless {
		os.Exit(runHeadless(cfg))
	}
	os.Exit(runWindow(cfg))
}

func runWindow(cfg config.Config) int {
	log := logging.WithComponent("main")
	app := NewApp(cfg)

	err := wails.Run(&options.App{
		Title:             "voxin",
		Width:             420,
		Height:            280,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("window runtime failed")
		return 1
	}
	return app.exitCode
}

func runHeadless(cfg config.Config) int {
	log := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.Build(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 1
	}
	if err := services.Start(ctx); err != nil {
		log.Error().Err(err).Msg("startup failed")
		return 1
	}
	log.Info().Str("hotkey", cfg.Hotkey.Chord).Str("recognizer", cfg.Recognizer.Kind).Msg("voxin running")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := services.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
		return 1
	}
	return 0
}
