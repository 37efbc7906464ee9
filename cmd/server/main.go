// Command server starts the wasd presence and message-routing hub.
//
// Configuration comes from a YAML file when WASD_CONFIG points at one,
// otherwise from environment variables (optionally loaded from a .env file).
package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Deepak6204/wasd/internal/server"
)

func main() {
	// Load .env file if it exists (ignore error if not found).
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	} else {
		log.Println("Loaded environment variables from .env file")
	}

	cfg := loadConfig()
	server.SetConfig(cfg)

	hub := server.NewHub()
	mux := server.SetupRoutes(hub)
	httpServer := server.CreateServer(cfg.Port, mux)

	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	sig := <-stop
	log.Printf("Received signal: %v. Shutting down...", sig)

	if err := server.ShutdownServer(httpServer, 10*time.Second); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := hub.Shutdown(5 * time.Second); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func loadConfig() *server.Config {
	if path := os.Getenv("WASD_CONFIG"); path != "" {
		cfg, err := server.LoadConfigFile(path)
		if err != nil {
			log.Fatalf("Failed to load config file %q: %v", path, err)
		}
		log.Printf("Loaded configuration from %s", path)
		return cfg
	}
	return server.NewConfigFromEnv()
}
