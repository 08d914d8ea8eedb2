package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/david/rfp-finder/internal/db"
	"github.com/david/rfp-finder/internal/ingest"
	"github.com/david/rfp-finder/internal/models"
)

var formatFlag = &cli.StringFlag{
	Name:    "format",
	Aliases: []string{"f"},
	Value:   "table",
	Usage:   "output format: table or json",
}

var outputFlag = &cli.StringFlag{
	Name:    "output",
	Aliases: []string{"o"},
	Usage:   "write JSON output to this file instead of stdout",
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "scan configured utilities",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "utility", Aliases: []string{"u"}, Usage: "utility id to scan (repeatable)"},
			&cli.BoolFlag{Name: "all", Usage: "scan every utility in the registry"},
			&cli.BoolFlag{Name: "include-inactive", Usage: "with --all, also scan inactive utilities"},
			&cli.BoolFlag{Name: "persist", Usage: "save runs to DATABASE_URL"},
			&cli.BoolFlag{Name: "details", Usage: "print every opportunity, not just run summaries"},
			formatFlag,
			outputFlag,
		},
		Action: func(c *cli.Context) error {
			ids := c.StringSlice("utility")
			if len(ids) == 0 && !c.Bool("all") {
				return fmt.Errorf("%w: pass --utility or --all", ingest.ErrConfig)
			}
			reg, err := loadRegistry(c)
			if err != nil {
				return err
			}

			pipeline := ingest.NewPipeline(reg, ingest.NewEngine(), nil)
			if c.Bool("persist") {
				pool, err := db.Connect(c.Context)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := db.ApplyMigrations(c.Context, pool); err != nil {
					return err
				}
				pipeline.Sink = db.NewStore(pool)
			}

			var results []ingest.ScanResult
			if len(ids) > 0 {
				for _, id := range ids {
					res, err := pipeline.ScanUtility(c.Context, id)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
			} else {
				results, err = pipeline.ScanAll(c.Context, !c.Bool("include-inactive"))
				if err != nil {
					log.Warn().Err(err).Int("completed", len(results)).Msg("scan interrupted")
				}
			}

			out := newOutput(c)
			if out.json {
				return out.writeJSON(results)
			}
			renderRuns(os.Stdout, runsOf(results))
			if c.Bool("details") {
				var opps []models.Opportunity
				for _, r := range results {
					opps = append(opps, r.Opportunities...)
				}
				renderOpportunities(os.Stdout, opps)
			}
			return nil
		},
	}
}

func runsOf(results []ingest.ScanResult) []models.ScanRun {
	runs := make([]models.ScanRun, len(results))
	for i, r := range results {
		runs[i] = r.Run
	}
	return runs
}

type pdfOutput struct {
	Source      string              `json:"source"`
	Result      *ingest.PdfResult   `json:"result,omitempty"`
	Opportunity *models.Opportunity `json:"opportunity,omitempty"`
	Error       string              `json:"error,omitempty"`
}

func pdfCommand() *cli.Command {
	return &cli.Command{
		Name:      "pdf",
		Usage:     "extract text and fields from PDF files or URLs",
		ArgsUsage: "[FILE...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "url", Usage: "PDF URL to download (repeatable)"},
			&cli.StringFlag{Name: "utility", Aliases: []string{"u"}, Usage: "attach this utility's metadata to the records"},
			&cli.StringFlag{Name: "link-text", Usage: "anchor text to use as the title fallback"},
			formatFlag,
			outputFlag,
		},
		Action: func(c *cli.Context) error {
			files := c.Args().Slice()
			urls := c.StringSlice("url")
			if len(files) == 0 && len(urls) == 0 {
				return fmt.Errorf("%w: pass at least one file or --url", ingest.ErrConfig)
			}

			var meta models.UtilityMeta
			if id := c.String("utility"); id != "" {
				reg, err := loadRegistry(c)
				if err != nil {
					return err
				}
				u, err := reg.Get(id)
				if err != nil {
					return err
				}
				meta = u.Meta()
			}

			engine := ingest.NewEngine()
			if len(engine.PdfBackends()) == 0 {
				return ingest.ErrNoPdfBackend
			}

			var outputs []pdfOutput
			for _, path := range files {
				res, err := engine.ExtractFromPdfFile(path)
				outputs = append(outputs, pdfOutputFor(engine, path, res, err, c.String("link-text"), meta))
			}

			loader := ingest.NewLoader(ingest.NewHTTPFetcher(ingest.FetchConfig{}))
			for _, u := range urls {
				data, err := loader.DownloadBytes(c.Context, u)
				if err != nil {
					outputs = append(outputs, pdfOutput{Source: u, Error: err.Error()})
					continue
				}
				res, err := engine.ExtractFromPdfBytes(data, ingest.PdfSource{URL: u})
				outputs = append(outputs, pdfOutputFor(engine, u, res, err, c.String("link-text"), meta))
			}

			out := newOutput(c)
			if out.json {
				return out.writeJSON(outputs)
			}
			renderPdfResults(os.Stdout, outputs)
			return nil
		},
	}
}

func pdfOutputFor(engine *ingest.Engine, source string, res *ingest.PdfResult, err error, linkText string, meta models.UtilityMeta) pdfOutput {
	if err != nil {
		log.Warn().Err(err).Str("pdf", source).Msg("pdf yielded no data")
		return pdfOutput{Source: source, Error: err.Error()}
	}
	opp := engine.OpportunityFromPdf(res, linkText, "", meta)
	return pdfOutput{Source: source, Result: res, Opportunity: &opp}
}

func htmlCommand() *cli.Command {
	return &cli.Command{
		Name:      "html",
		Usage:     "extract opportunities from a saved HTML page",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base-url", Usage: "URL the page was saved from, used to resolve links"},
			&cli.StringFlag{Name: "utility", Aliases: []string{"u"}, Usage: "attach this utility's metadata; its rfp_url is the default base URL"},
			formatFlag,
			outputFlag,
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("%w: pass exactly one HTML file", ingest.ErrConfig)
			}
			baseURL := c.String("base-url")
			var meta models.UtilityMeta
			if id := c.String("utility"); id != "" {
				reg, err := loadRegistry(c)
				if err != nil {
					return err
				}
				u, err := reg.Get(id)
				if err != nil {
					return err
				}
				meta = u.Meta()
				if baseURL == "" {
					baseURL = u.RFPURL
				}
			}

			f, err := os.Open(c.Args().First())
			if err != nil {
				return fmt.Errorf("%w: %v", ingest.ErrSourceUnavailable, err)
			}
			defer f.Close()

			opps := ingest.NewEngine().ExtractFromHTML(f, baseURL, meta)
			out := newOutput(c)
			if out.json {
				return out.writeJSON(opps)
			}
			renderOpportunities(os.Stdout, opps)
			return nil
		},
	}
}

func utilitiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "utilities",
		Usage: "list the configured utilities",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "active", Usage: "only active utilities"},
		},
		Action: func(c *cli.Context) error {
			reg, err := loadRegistry(c)
			if err != nil {
				return err
			}
			utilities := reg.Utilities
			if c.Bool("active") {
				utilities = reg.Active()
			}
			renderUtilities(os.Stdout, utilities)
			return nil
		},
	}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "show recent scan runs from DATABASE_URL",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10},
		},
		Action: func(c *cli.Context) error {
			pool, err := db.Connect(c.Context)
			if errors.Is(err, db.ErrNoDatabase) {
				return cli.Exit(err.Error(), 2)
			}
			if err != nil {
				return err
			}
			defer pool.Close()

			runs, err := db.NewStore(pool).RecentRuns(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			renderRuns(os.Stdout, runs)
			return nil
		},
	}
}

func backendsCommand() *cli.Command {
	return &cli.Command{
		Name:  "backends",
		Usage: "list the PDF backends available on this machine, in the order they are tried",
		Action: func(c *cli.Context) error {
			start := time.Now()
			names := ingest.NewEngine().PdfBackends()
			if len(names) == 0 {
				fmt.Println("no pdf backend available")
				return nil
			}
			for i, name := range names {
				fmt.Printf("%d. %s\n", i+1, name)
			}
			log.Debug().Dur("probe", time.Since(start)).Msg("backend probe complete")
			return nil
		},
	}
}
