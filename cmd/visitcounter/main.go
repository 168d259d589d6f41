package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eringen/visitcounter"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "seed":
		if err := runSeed(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("visitcounter %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := visitcounter.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := visitcounter.New(cfg)
	defer app.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func printUsage() {
	fmt.Println(`visitcounter - A visitor counter with a stats API and dashboard

Usage:
  visitcounter [command] [arguments]

Commands:
  serve         Start the HTTP server (default)
  seed          Fill the configured store with generated visits
  version       Print the visitcounter version
  help          Show this help message

Seed flags:
  -n int        Number of visits to generate (default 5000)
  -from int     First year of generated history (default 2023)
  -reuse float  Share of visits from returning visitors (default 0.15)
  -seed uint    Random seed (default: time based)
  -reset        Delete existing visitors before seeding

Configuration is read from the environment and an optional .env file:
  ADDR, STORE_DRIVER, DATABASE_PATH, MONGO_URI, MONGO_DATABASE, REDIS_URL,
  TOTALS_CACHE_TTL, TRUSTED_IP_HEADER, CORS_ORIGINS, SESSION_SECRET,
  COOKIE_SECURE, LOG_LEVEL, SITE_NAME

Examples:
  visitcounter serve
  STORE_DRIVER=mongo MONGO_URI=mongodb://localhost:27017 visitcounter seed -n 1000`)
}
