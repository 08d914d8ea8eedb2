package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/david/rfp-finder/internal/api"
	"github.com/david/rfp-finder/internal/db"
	"github.com/david/rfp-finder/internal/ingest"
)

func main() {
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	reg, err := ingest.LoadRegistry(os.Getenv("RFP_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load utility registry")
	}

	ctx := context.Background()
	pipeline := ingest.NewPipeline(reg, ingest.NewEngine(), nil)
	cfg := api.Config{
		Pipeline:    pipeline,
		AdminSecret: os.Getenv("ADMIN_SECRET"),
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}

	pool, err := db.Connect(ctx)
	switch {
	case errors.Is(err, db.ErrNoDatabase):
		log.Warn().Msg("DATABASE_URL not set, results will not be persisted")
	case err != nil:
		log.Fatal().Err(err).Msg("failed to connect to database")
	default:
		defer pool.Close()
		if err := db.ApplyMigrations(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		store := db.NewStore(pool)
		pipeline.Sink = store
		cfg.Store = store
	}

	srv := api.NewServer(cfg)
	log.Info().Str("port", port).Int("utilities", len(reg.Utilities)).Strs("pdf_backends", pipeline.Engine.PdfBackends()).Msg("server starting")
	if err := srv.Start(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
