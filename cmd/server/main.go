package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"garment-stock/internal/adapters/web"
	"garment-stock/internal/app"
	"garment-stock/internal/core"
	"garment-stock/internal/db"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "garment-stock").Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer pool.Close()

	ledger := core.NewTransferLedger(pool)
	store := core.NewVariantStockStore(pool, ledger)
	coordinator := core.NewAllocationCoordinator(pool, ledger)
	reversal := core.NewReversalService(pool, ledger)
	facade := core.NewOrderCreationFacade(coordinator)

	svc := app.NewAppService(pool, store, ledger, coordinator, reversal, facade, log)

	router := web.NewRouter(svc, os.Getenv("ALLOWED_ORIGINS"), log)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		log.Info().Str("port", port).Msg("server starting")
		if err := router.Run(":" + port); err != nil {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
}
