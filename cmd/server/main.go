package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/infrastructure/server"
)

func main() {
	// Load config from environment, then let flags override it
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	port := flag.String("port", cfg.Server.Port, "Server port")
	directory := flag.String("directory", cfg.Directory.BaseURL, "Package Directory Service base URL")
	liveTransport := flag.String("live", cfg.Live.Transport, "Live transport: websocket, redis or off")
	liveURL := flag.String("live-url", cfg.Live.URL, "Live Update Channel WebSocket URL")
	views := flag.String("views", cfg.Sync.ViewsFile, "Saved views file (yaml, toml or json)")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode (colored logs, debug level)")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Directory.BaseURL = *directory
	cfg.Live.Transport = *liveTransport
	cfg.Live.URL = *liveURL
	cfg.Sync.ViewsFile = *views
	cfg.Logging.Development = *dev
	if *dev {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down gracefully...")
	case err := <-errChan:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	}

	if err := srv.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}
}
