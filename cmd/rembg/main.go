package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-rembg/app"
	"github.com/nvr-ai/go-rembg/config"
)

func main() {
	configDir := flag.String("config", "./config", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		logrus.Fatalf("loading config: %v", err)
	}

	log, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		logrus.Fatalf("configuring logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	service, err := app.New(ctx, cfg, log)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("starting service")
	}

	if err := service.Run(); err != nil {
		log.WithError(err).Fatal("service stopped")
	}
}
