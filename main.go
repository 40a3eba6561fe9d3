package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creditmesh/hub/pkg/auth"
	"github.com/creditmesh/hub/pkg/clearing"
	"github.com/creditmesh/hub/pkg/config"
	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/events"
	"github.com/creditmesh/hub/pkg/integrity"
	"github.com/creditmesh/hub/pkg/ledger"
	"github.com/creditmesh/hub/pkg/payment"
	"github.com/creditmesh/hub/pkg/recovery"
	"github.com/creditmesh/hub/pkg/router"
	"github.com/creditmesh/hub/pkg/server"
)

func main() {
	log.Printf("🚀 Starting CreditMesh Hub")

	var (
		hubID    = flag.String("hub-id", "", "Hub ID (overrides HUB_ID env var)")
		showHelp = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if *hubID != "" {
		cfg.HubID = *hubID
		log.Printf("📋 CLI flag override: using hub ID from command line: %s", *hubID)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}
	log.Printf("📋 Hub ID: %s", cfg.HubID)

	dbClient, err := database.NewClient(database.Config{
		DatabaseURL:         cfg.DatabaseURL,
		DatabaseMaxConns:    cfg.DatabaseMaxConns,
		DatabaseMinConns:    cfg.DatabaseMinConns,
		DatabaseMaxIdleTime: cfg.DatabaseMaxIdleTime,
		DatabaseMaxLifetime: cfg.DatabaseMaxLifetime,
	})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer dbClient.Close()

	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Fatal("Failed to run database migrations:", err)
	}
	log.Printf("✅ Database connected and migrated")

	store := ledger.NewStore(dbClient)
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	sink := events.NewLoggingSink(slogger)

	clearingEngine := clearing.NewEngine(store, sink)

	routingParams := router.Params{
		MaxPathLength:      cfg.RoutingMaxPathLength,
		MaxPathsPerPayment: cfg.RoutingMaxPathsPerPayment,
	}
	paymentEngine := payment.NewEngine(store, cfg.ProtocolPrepareTimeout, routingParams, clearingEngine, sink)

	issuer := auth.NewIssuer(store, []byte(cfg.JWTSecret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	recoveryLoop := recovery.NewLoop(store, sink, slogger, cfg.ProtocolPrepareTimeout+cfg.RecoveryGrace, cfg.RecoveryTickInterval)
	integritySweeper := integrity.NewSweeper(store, sink, slogger, cfg.IntegrityCheckInterval)

	participantHandlers := server.NewParticipantHandlers(store)
	trustLineHandlers := server.NewTrustLineHandlers(store, sink)
	paymentHandlers := server.NewPaymentHandlers(store, paymentEngine)
	authHandlers := server.NewAuthHandlers(issuer)
	integrityHandlers := server.NewIntegrityHandlers(store, integritySweeper)

	mux := server.Mux(issuer, participantHandlers, trustLineHandlers, paymentHandlers, authHandlers, integrityHandlers)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := recoveryLoop.RunOnce(ctx); err != nil {
		log.Printf("recovery startup sweep failed: %v", err)
	}
	go recoveryLoop.Run(ctx)
	go integritySweeper.Run(ctx)
	if cfg.ClearingEnabled {
		go runClearingSweeps(ctx, store, clearingEngine, cfg, slogger)
	}

	log.Printf("✅ CreditMesh Hub ready - debt ledger, router, 2PC engine, and clearing loop all online")

	go func() {
		log.Printf("🌐 Hub API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server:", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			log.Printf("📈 Metrics listening on %s/metrics", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, server.MetricsHandler()); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("🛑 Shutting down CreditMesh Hub...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Printf("✅ CreditMesh Hub stopped")
}

// runClearingSweeps drives the periodic length-5/length-6 clearing scan
// (spec.md §4.6's periodic mode) on top of the per-commit trigger the
// payment engine already runs. Length 5 runs hourly, length 6 daily, by
// default.
func runClearingSweeps(ctx context.Context, store *ledger.Store, engine *clearing.Engine, cfg *config.Config, log *slog.Logger) {
	length5 := time.NewTicker(time.Duration(cfg.ClearingLength5IntervalHours) * time.Hour)
	length6 := time.NewTicker(time.Duration(cfg.ClearingLength6IntervalHours) * time.Hour)
	defer length5.Stop()
	defer length6.Stop()

	sweep := func(maxLen int) {
		ids, err := store.Repos.Equivalents.ListActiveIDs(ctx)
		if err != nil {
			log.Error("clearing sweep: list equivalents", "error", err)
			return
		}
		for _, equivalentID := range ids {
			if _, err := engine.Sweep(ctx, equivalentID, maxLen); err != nil {
				log.Error("clearing sweep failed", "equivalent_id", equivalentID, "max_len", maxLen, "error", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-length5.C:
			sweep(5)
		case <-length6.C:
			sweep(6)
		}
	}
}
