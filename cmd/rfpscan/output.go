package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/david/rfp-finder/internal/ingest"
	"github.com/david/rfp-finder/internal/models"
)

type output struct {
	json bool
	path string
}

func newOutput(c *cli.Context) output {
	return output{
		json: strings.EqualFold(c.String("format"), "json") || c.String("output") != "",
		path: c.String("output"),
	}
}

func (o output) writeJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	data = append(data, '\n')
	if o.path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(o.path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", o.path, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", o.path)
	return nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderRuns(w io.Writer, runs []models.ScanRun) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Utility", "Status", "Found", "PDFs", "Duration", "Started At", "Error"})
	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{
			r.UtilityID,
			r.Status,
			r.ItemsFound,
			fmt.Sprintf("%d/%d", r.PDFsExtracted, r.PDFsFound),
			duration,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			text.Trim(r.Error, 60),
		})
	}
	t.Render()
}

func renderOpportunities(w io.Writer, opps []models.Opportunity) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Utility", "Title", "Source", "RFP ID", "Active", "Dates", "URL"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 50},
		{Number: 8, WidthMax: 60},
	})
	for i, o := range opps {
		dates := make([]string, 0, len(o.Dates))
		for _, d := range o.Dates {
			dates = append(dates, d.Type+": "+d.Date)
		}
		t.AppendRow(table.Row{i + 1, o.UtilityID, o.Title, o.SourceType, o.RFPID, o.IsActive, strings.Join(dates, "\n"), o.URL})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d opportunities", len(opps))})
	t.Render()
}

func renderUtilities(w io.Writer, utilities []ingest.UtilityConfig) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "Type", "Region", "Active", "Mode", "Max PDFs", "URL"})
	for _, u := range utilities {
		mode := u.Fetcher
		if mode == "" {
			mode = "http"
		}
		if u.RequiresJS {
			mode += "+js"
		}
		if u.PDFOnly {
			mode += ", pdf only"
		}
		t.AppendRow(table.Row{u.ID, u.Name, u.Type, u.Region, u.Active, mode, u.PDFLimit(), u.RFPURL})
	}
	t.Render()
}

func renderPdfResults(w io.Writer, outputs []pdfOutput) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Source", "Backend", "Pages", "Words", "RFP ID", "Dates", "Title", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 7, WidthMax: 50}})
	for _, o := range outputs {
		if o.Result == nil {
			t.AppendRow(table.Row{o.Source, "", "", "", "", "", "", text.Trim(o.Error, 60)})
			continue
		}
		t.AppendRow(table.Row{
			o.Source,
			o.Result.Method,
			o.Result.Metadata.NumPages,
			o.Result.WordCount,
			o.Result.RFPID,
			strings.Join(o.Result.Dates, ", "),
			o.Opportunity.Title,
			"",
		})
	}
	t.Render()
}
