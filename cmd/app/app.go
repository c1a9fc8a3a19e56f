package main

import (
	"fmt"
	"os"

	"github.com/DRSN-tech/image-gallery/internal/app"
	config "github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
)

func main() {
	log, err := logger.NewZapLogger(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(log)
	if err != nil {
		log.Errorf(err, "failed to load config")
		os.Exit(1)
	}

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Errorf(err, "failed to initialize app")
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		log.Errorf(err, "application stopped with error")
		_ = log.Sync()
		os.Exit(1)
	}
}
