package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/Yinuo-Yao/xhs-recipe/internal/app"
	"github.com/Yinuo-Yao/xhs-recipe/internal/config"
	"github.com/Yinuo-Yao/xhs-recipe/internal/db"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if os.Getenv("XHS_RECIPE_DEBUG") != "" {
		logger.SetLevel(log.DebugLevel)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".xhs-recipe")

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	a := app.New(cfg, logger, database)
	defer a.Shutdown()

	cliApp := newCLIApp(a, database, logger)
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
