package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/david/rfp-finder/internal/ingest"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "rfpscan",
		Usage: "extract RFP listings from utility procurement pages and PDFs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"RFP_CONFIG"},
				Usage:   "utility registry YAML (embedded default when empty)",
			},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
			&cli.BoolFlag{Name: "json-logs", Usage: "log JSON instead of console output"},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			scanCommand(),
			pdfCommand(),
			htmlCommand(),
			utilitiesCommand(),
			runsCommand(),
			backendsCommand(),
			triggerCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		code := 1
		if errors.Is(err, ingest.ErrConfig) || errors.Is(err, ingest.ErrUnknownUtility) {
			code = 2
		}
		log.Error().Err(err).Msg("rfpscan failed")
		stop()
		os.Exit(code)
	}
}

func setupLogging(c *cli.Context) error {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if c.Bool("verbose") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if !c.Bool("json-logs") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

func loadRegistry(c *cli.Context) (*ingest.Registry, error) {
	return ingest.LoadRegistry(c.String("config"))
}
