// Dating-show orchestrator server: drives the round table between the host
// agent and the contestants, scores every exchange, and mints the derived
// identity at game end.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/storyprotocol/eliza/internal/api"
	"github.com/storyprotocol/eliza/internal/config"
	"github.com/storyprotocol/eliza/internal/domain"
	"github.com/storyprotocol/eliza/internal/feed"
	"github.com/storyprotocol/eliza/internal/game"
	"github.com/storyprotocol/eliza/internal/gateway"
	"github.com/storyprotocol/eliza/internal/ledger"
	"github.com/storyprotocol/eliza/internal/middleware"
	"github.com/storyprotocol/eliza/internal/registry"
	"github.com/storyprotocol/eliza/internal/session"
	"github.com/storyprotocol/eliza/internal/show"
	"github.com/storyprotocol/eliza/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	host, contestants, err := cfg.LoadAgents()
	if err != nil {
		slog.Error("Failed to load agents file", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port, "host_agent", host.Name, "contestants", len(contestants))

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Seed the cast's account rows so score joins and the game-end protocol
	// resolve registration metadata.
	for _, seed := range append([]config.AgentSeed{host}, contestants...) {
		if err := repo.UpsertAccount(context.Background(), seedAccount(seed)); err != nil {
			slog.Error("Failed to seed agent account", "agent", seed.Name, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Cast accounts seeded")

	// Initialize services.
	msgGateway := gateway.NewClient(cfg.GatewayURL, cfg.GatewayTimeout, logger)
	assetRegistry := registry.NewClient(cfg.RegistryURL, cfg.RegistryTimeout, logger)
	bridge := session.NewBridge(repo)
	showLedger := ledger.New(repo)
	hub := feed.NewHub()

	roomID := uuid.New().String()
	scheduler := show.NewScheduler(show.Options{
		Gateway:       msgGateway,
		Ledger:        showLedger,
		Repo:          repo,
		Bridge:        bridge,
		Hub:           hub,
		Host:          show.Agent{ID: host.ID, Name: host.Name},
		Contestants:   toAgents(contestants),
		RoomID:        roomID,
		RoundInterval: cfg.RoundInterval,
		TurnDelay:     cfg.TurnDelay,
		ContestantGap: cfg.ContestantGap,
		ErrorCooldown: cfg.ErrorCooldown,
		MaxCooldown:   cfg.MaxCooldown,
	})

	sequencer := game.NewSequencer(game.Options{
		Repo:                 repo,
		Gateway:              msgGateway,
		Registry:             assetRegistry,
		Hub:                  hub,
		Host:                 host,
		Contestants:          contestants,
		AdminSecret:          cfg.AdminSecret,
		DerivedWalletAddress: cfg.DerivedWalletAddress,
		DerivedWalletKey:     cfg.DerivedWalletKey,
	})

	handler := api.NewHandler(repo, showLedger, scheduler, sequencer)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins(cfg)))

	handler.RegisterRoutes(r)

	// WebSocket spectator feed.
	r.Get("/ws/feed", hub.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket feed connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the round table.
	go scheduler.Run(ctx)
	slog.Info("Round table scheduler started", "room_id", roomID)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func seedAccount(seed config.AgentSeed) *domain.Identity {
	account := &domain.Identity{
		ID:        seed.ID,
		Name:      seed.Name,
		Username:  seed.Name,
		AvatarURL: seed.AvatarURL,
	}
	if seed.IPID != "" || seed.WalletAddress != "" || seed.LicenseTermID != "" {
		account.Asset = &domain.AssetMetadata{
			IPID:              seed.IPID,
			WalletAddress:     seed.WalletAddress,
			WalletPublicKey:   seed.WalletPublicKey,
			LicenseTermID:     seed.LicenseTermID,
			LicenseTermURI:    seed.LicenseTermURI,
			RegistrationTxRef: seed.RegistrationTx,
		}
	}
	return account
}

func toAgents(seeds []config.AgentSeed) []show.Agent {
	agents := make([]show.Agent, 0, len(seeds))
	for _, seed := range seeds {
		agents = append(agents, show.Agent{ID: seed.ID, Name: seed.Name})
	}
	return agents
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
