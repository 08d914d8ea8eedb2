package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/david/rfp-finder/internal/models"
)

// ResultSink persists a finished scan.
type ResultSink interface {
	SaveRun(ctx context.Context, run models.ScanRun, opps []models.Opportunity) error
}

// ScanResult is the outcome of scanning one utility.
type ScanResult struct {
	Run           models.ScanRun       `json:"run"`
	Opportunities []models.Opportunity `json:"opportunities"`
}

// PdfLink is a PDF anchor found on a listing page.
type PdfLink struct {
	URL  string
	Text string
}

// Pipeline scans registry utilities: load page, download attachments,
// extract, persist.
type Pipeline struct {
	Registry *Registry
	Engine   *Engine
	// Fetcher overrides the per-utility fetcher when set.
	Fetcher Fetcher
	// Renderer serves requires_js utilities; nil falls back to StaticRenderer.
	Renderer DocumentRenderer
	Sink     ResultSink

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPipeline(reg *Registry, engine *Engine, sink ResultSink) *Pipeline {
	if engine == nil {
		engine = NewEngine()
	}
	return &Pipeline{
		Registry: reg,
		Engine:   engine,
		Sink:     sink,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ScanUtility scans one utility by id. Only an unknown id is an error;
// load and extraction failures produce an empty result with the run marked.
func (p *Pipeline) ScanUtility(ctx context.Context, id string) (ScanResult, error) {
	u, err := p.Registry.Get(id)
	if err != nil {
		return ScanResult{}, err
	}
	return p.scan(ctx, u), nil
}

// ScanAll scans utilities sequentially, throttled, until done or ctx ends.
// A failing utility never stops the others.
func (p *Pipeline) ScanAll(ctx context.Context, activeOnly bool) ([]ScanResult, error) {
	utilities := p.Registry.Utilities
	if activeOnly {
		utilities = p.Registry.Active()
	}

	results := make([]ScanResult, 0, len(utilities))
	for i, u := range utilities {
		if i > 0 {
			if err := p.sleep(ctx, p.Registry.Throttle()); err != nil {
				return results, err
			}
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, p.scan(ctx, u))
	}

	total := 0
	for _, r := range results {
		total += len(r.Opportunities)
	}
	log.Info().Int("utilities", len(results)).Int("opportunities", total).Msg("scan all complete")
	return results, nil
}

func (p *Pipeline) scan(ctx context.Context, u UtilityConfig) ScanResult {
	run := models.ScanRun{
		ID:        uuid.New(),
		UtilityID: u.ID,
		StartedAt: p.now(),
	}
	logger := log.With().Str("utility", u.ID).Str("domain", extractDomain(u.RFPURL)).Logger()
	loader := NewLoader(p.fetcherFor(u))

	opps := []models.Opportunity{}
	doc, err := p.loadPage(ctx, u, loader)
	if err != nil {
		logger.Warn().Err(err).Str("url", u.RFPURL).Msg("page load failed")
		run.Status = models.RunFailed
		run.Error = err.Error()
		return p.finish(ctx, run, opps)
	}

	links := CollectPdfLinks(doc, u.RFPURL, u.PDFOnly)
	run.PDFsFound = len(links)
	if limit := u.PDFLimit(); len(links) > limit {
		links = links[:limit]
	}
	attachments := p.download(ctx, loader, links)
	logger.Debug().Int("pdf_links", run.PDFsFound).Int("downloaded", len(attachments)).Msg("attachments fetched")

	if u.PDFOnly {
		opps = p.extractPdfOnly(u, attachments)
	} else {
		opps = p.Engine.ExtractFromPage(Page{
			Doc:         doc,
			BaseURL:     u.RFPURL,
			Meta:        u.Meta(),
			Attachments: attachments,
		})
	}

	for _, o := range opps {
		if o.SourceType == models.SourcePDF {
			run.PDFsExtracted++
		}
	}
	run.Status = models.RunCompleted
	if len(opps) == 0 {
		run.Status = models.RunEmpty
	}
	logger.Info().Int("opportunities", len(opps)).Int("pdfs_extracted", run.PDFsExtracted).Msg("scan complete")
	return p.finish(ctx, run, opps)
}

func (p *Pipeline) finish(ctx context.Context, run models.ScanRun, opps []models.Opportunity) ScanResult {
	done := p.now()
	run.CompletedAt = &done
	run.ItemsFound = len(opps)
	if p.Sink != nil {
		if err := p.Sink.SaveRun(ctx, run, opps); err != nil {
			log.Error().Err(err).Str("utility", run.UtilityID).Msg("failed to persist scan")
		}
	}
	return ScanResult{Run: run, Opportunities: opps}
}

func (p *Pipeline) fetcherFor(u UtilityConfig) Fetcher {
	if p.Fetcher != nil {
		return p.Fetcher
	}
	if u.Fetcher == "colly" {
		f := CollyFetcherWithConfig(u.Fetch)
		if ua := p.Registry.Settings.UserAgent; ua != "" {
			f.UserAgent = ua
		}
		return f
	}
	f := NewHTTPFetcher(u.Fetch)
	if ua := p.Registry.Settings.UserAgent; ua != "" {
		f.UserAgent = ua
	}
	return f
}

func (p *Pipeline) loadPage(ctx context.Context, u UtilityConfig, loader *Loader) (*goquery.Document, error) {
	if !u.RequiresJS {
		return loader.FetchDocument(ctx, u.RFPURL)
	}
	renderer := p.Renderer
	if renderer == nil {
		renderer = &StaticRenderer{Loader: loader}
	}
	return renderer.RenderDocument(ctx, u.RFPURL, u.JSWaitFor)
}

// download fetches links concurrently, keeping page order. Failed
// downloads are logged and dropped.
func (p *Pipeline) download(ctx context.Context, dl ByteDownloader, links []PdfLink) []PdfAttachment {
	if len(links) == 0 {
		return nil
	}
	slots := make([]*PdfAttachment, len(links))

	var g errgroup.Group
	g.SetLimit(p.Registry.MaxConcurrentDownloads())
	for i, link := range links {
		g.Go(func() error {
			data, err := dl.DownloadBytes(ctx, link.URL)
			if err != nil {
				log.Warn().Err(err).Str("pdf", link.URL).Msg("pdf download failed")
				return nil
			}
			slots[i] = &PdfAttachment{URL: link.URL, LinkText: link.Text, Data: data}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]PdfAttachment, 0, len(links))
	for _, a := range slots {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

func (p *Pipeline) extractPdfOnly(u UtilityConfig, attachments []PdfAttachment) []models.Opportunity {
	var opps []models.Opportunity
	for _, att := range attachments {
		res, err := p.Engine.ExtractFromPdfBytes(att.Data, PdfSource{URL: att.URL})
		if err != nil {
			log.Warn().Err(err).Str("utility", u.ID).Str("pdf", att.URL).Msg("pdf yielded no data")
			continue
		}
		opps = append(opps, p.Engine.OpportunityFromPdf(res, att.LinkText, u.RFPURL, u.Meta()))
	}
	if len(opps) == 0 {
		return []models.Opportunity{}
	}
	return Dedup(opps)
}

// CollectPdfLinks returns the distinct absolute PDF links on the page in
// document order. strict requires the path to end in ".pdf"; otherwise
// any href mentioning "pdf" qualifies.
func CollectPdfLinks(doc *goquery.Document, baseURL string, strict bool) []PdfLink {
	if doc == nil {
		return nil
	}
	base := parseBase(baseURL)
	seen := make(map[string]bool)
	var links []PdfLink

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || !isPdfHref(href, strict) {
			return
		}
		abs := resolveURL(base, href)
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, PdfLink{URL: abs, Text: normalizeSpace(a.Text())})
	})
	return links
}

func isPdfHref(href string, strict bool) bool {
	lower := strings.ToLower(href)
	if !strict {
		return strings.Contains(lower, "pdf")
	}
	if u, err := url.Parse(lower); err == nil {
		lower = u.Path
	}
	return strings.HasSuffix(lower, ".pdf")
}

// String summarises a result for log lines and CLI output.
func (r ScanResult) String() string {
	return fmt.Sprintf("%s: %s, %d opportunities (%d/%d pdfs)",
		r.Run.UtilityID, r.Run.Status, len(r.Opportunities), r.Run.PDFsExtracted, r.Run.PDFsFound)
}
