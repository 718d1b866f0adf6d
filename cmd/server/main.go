package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/wallet-bridge/wallet-bridge/internal/api"
	"github.com/wallet-bridge/wallet-bridge/internal/app"
	"github.com/wallet-bridge/wallet-bridge/internal/backend"
	"github.com/wallet-bridge/wallet-bridge/internal/config"
	"github.com/wallet-bridge/wallet-bridge/internal/logger"
	"github.com/wallet-bridge/wallet-bridge/internal/middleware"
	"github.com/wallet-bridge/wallet-bridge/internal/session"
	"github.com/wallet-bridge/wallet-bridge/internal/signer"
	"github.com/wallet-bridge/wallet-bridge/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize database when configured
	var store *storage.Store
	var serviceOpts []app.ServiceOption
	var storeOpts []session.StoreOption
	if cfg.PostgresDSN != "" {
		store, err = storage.New(cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		slog.Info("connected to database")

		serviceOpts = append(serviceOpts, app.WithJournal(storage.NewTransactionJournal(store)))

		if cfg.InsecureKeyFallback {
			slog.Warn("insecure key fallback is enabled; handshake secret keys persist in plaintext")
			storeOpts = append(storeOpts, session.WithFallbackStore(
				storage.NewKeyFallbackRepository(store, cfg.InsecureKeyFallbackName),
			))
		}
	}

	sessionStore := session.NewStore(storeOpts...)

	backendClient := backend.NewClient(cfg.BackendURL,
		backend.WithRateLimit(cfg.BackendRateLimit, 1),
	)

	serviceOpts = append(serviceOpts, app.WithOpenURL(platformOpenURL()))

	// Initialize application service
	bridgeService := app.NewBridgeService(cfg, backendClient, sessionStore, serviceOpts...)

	// Initialize API server
	rateLimiter := middleware.NewRateLimiter(20, 40, true)
	server := api.NewServer(cfg, bridgeService, rateLimiter)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("starting server", "port", cfg.Port)
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		// Create a context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Attempt graceful shutdown
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}

// platformOpenURL hands deep links to the host OS. In deployments where the
// client opens links itself, the redirect URL in the transfer status is the
// source of truth and a launch failure here is non-fatal.
func platformOpenURL() signer.OpenURLFunc {
	var name string
	var args []string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name = "rundll32"
		args = []string{"url.dll,FileProtocolHandler"}
	default:
		name = "xdg-open"
	}

	if _, err := exec.LookPath(name); err != nil {
		return nil
	}

	return func(ctx context.Context, url string) error {
		return exec.CommandContext(ctx, name, append(args, url)...).Start()
	}
}
