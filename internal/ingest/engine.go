package ingest

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/david/rfp-finder/internal/models"
)

type extractionState int

const (
	stateSegmenting extractionState = iota
	stateAssembling
	statePdfExtracting
	stateDeduplicating
	stateFallbackCheck
	stateDone
)

func (s extractionState) String() string {
	switch s {
	case stateSegmenting:
		return "SEGMENTING"
	case stateAssembling:
		return "ASSEMBLING"
	case statePdfExtracting:
		return "PDF_EXTRACTING"
	case stateDeduplicating:
		return "DEDUPLICATING"
	case stateFallbackCheck:
		return "FALLBACK_CHECK"
	case stateDone:
		return "DONE"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Engine extracts opportunities from parsed documents and PDF bytes.
// It holds no per-document state and is safe for concurrent use.
type Engine struct {
	pdf *PdfChain
	now func() time.Time
}

type EngineOption func(*engineConfig)

type engineConfig struct {
	backends []PdfBackend
	now      func() time.Time
}

// WithPdfBackends replaces the default backend list, in priority order.
func WithPdfBackends(backends ...PdfBackend) EngineOption {
	return func(c *engineConfig) { c.backends = backends }
}

func WithClock(now func() time.Time) EngineOption {
	return func(c *engineConfig) { c.now = now }
}

// NewEngine builds an engine and probes PDF backend availability once.
func NewEngine(opts ...EngineOption) *Engine {
	cfg := engineConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.backends == nil {
		cfg.backends = DefaultPdfBackends()
	}
	chain := NewPdfChain(cfg.backends...)
	chain.now = cfg.now
	log.Debug().Strs("backends", chain.Backends()).Msg("pdf backend chain ready")
	return &Engine{pdf: chain, now: cfg.now}
}

// PdfBackends lists the available backends in the order they are tried.
func (e *Engine) PdfBackends() []string {
	return e.pdf.Backends()
}

// PdfAttachment is a PDF linked from a page, already downloaded.
type PdfAttachment struct {
	URL      string
	LinkText string
	Data     []byte
}

// Page is one document pass: the parsed tree plus any downloaded PDFs.
type Page struct {
	Doc         *goquery.Document
	BaseURL     string
	Meta        models.UtilityMeta
	Attachments []PdfAttachment
}

// pass carries the intermediate results of one page through the states.
type pass struct {
	page       Page
	base       *url.URL
	norm       normalizer
	blocks     []RawBlock
	records    []models.Opportunity
	pdfRecords []models.Opportunity
	trace      []extractionState
}

// ExtractFromDocument runs the block strategies and, if they find nothing,
// the fallback cascade over one parsed document.
func (e *Engine) ExtractFromDocument(doc *goquery.Document, baseURL string, meta models.UtilityMeta) []models.Opportunity {
	return e.ExtractFromPage(Page{Doc: doc, BaseURL: baseURL, Meta: meta})
}

// ExtractFromHTML parses r and extracts from the resulting document.
// Unparsable input is logged and yields no records.
func (e *Engine) ExtractFromHTML(r io.Reader, baseURL string, meta models.UtilityMeta) []models.Opportunity {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		log.Warn().Err(fmt.Errorf("%w: %v", ErrMalformedDocument, err)).Str("utility", meta.UtilityID).Str("url", baseURL).Msg("html parse failed")
		return []models.Opportunity{}
	}
	return e.ExtractFromDocument(doc, baseURL, meta)
}

// ExtractFromPage is the full per-document pass including PDF attachments.
func (e *Engine) ExtractFromPage(page Page) []models.Opportunity {
	p := e.run(page)
	if len(p.records) == 0 {
		log.Warn().Str("utility", page.Meta.UtilityID).Str("url", page.BaseURL).Msg("no opportunities extracted")
		return []models.Opportunity{}
	}
	log.Debug().Str("utility", page.Meta.UtilityID).Str("url", page.BaseURL).Int("records", len(p.records)).Msg("extraction complete")
	return p.records
}

func (e *Engine) run(page Page) *pass {
	p := &pass{
		page: page,
		base: parseBase(page.BaseURL),
		norm: normalizer{meta: page.Meta, sourcePage: page.BaseURL, scrapedAt: e.now()},
	}
	state := stateSegmenting
	for state != stateDone {
		p.trace = append(p.trace, state)
		state = e.step(p, state)
	}
	p.trace = append(p.trace, stateDone)
	return p
}

func (e *Engine) step(p *pass, state extractionState) extractionState {
	switch state {
	case stateSegmenting:
		if p.page.Doc == nil {
			log.Warn().Err(ErrMalformedDocument).Str("url", p.page.BaseURL).Msg("no document tree")
		}
		p.blocks = Segment(p.page.Doc)
		log.Debug().Int("blocks", len(p.blocks)).Str("url", p.page.BaseURL).Msg("segmented")
		if len(p.blocks) > 0 {
			return stateAssembling
		}
		if len(p.page.Attachments) > 0 {
			return statePdfExtracting
		}
		return stateFallbackCheck

	case stateAssembling:
		for _, block := range p.blocks {
			raw, ok := AssembleBlock(block, p.base)
			if !ok {
				continue
			}
			p.records = append(p.records, p.norm.fromBlock(raw))
		}
		if len(p.page.Attachments) > 0 {
			return statePdfExtracting
		}
		return stateDeduplicating

	case statePdfExtracting:
		for _, att := range p.page.Attachments {
			res, err := e.pdf.Extract(att.Data, PdfSource{URL: att.URL})
			if err != nil {
				log.Warn().Err(err).Str("pdf", att.URL).Msg("pdf yielded no data")
				continue
			}
			p.pdfRecords = append(p.pdfRecords, p.norm.fromPdf(res, att.LinkText))
		}
		return stateDeduplicating

	case stateDeduplicating:
		p.records = MergePdfRecords(Dedup(p.records), p.pdfRecords)
		return stateFallbackCheck

	case stateFallbackCheck:
		if len(p.records) > 0 || p.page.Doc == nil {
			return stateDone
		}
		for _, stage := range fallbackCascade {
			recs := stage.extract(p.page.Doc, p.base)
			if len(recs) == 0 {
				continue
			}
			log.Debug().Str("stage", stage.name).Int("records", len(recs)).Str("url", p.page.BaseURL).Msg("fallback produced records")
			for _, rec := range recs {
				p.records = append(p.records, p.norm.fromFallback(rec))
			}
			break
		}
		return stateDone
	}
	return stateDone
}

// ExtractFromPdfBytes runs the backend chain over an in-memory PDF.
func (e *Engine) ExtractFromPdfBytes(data []byte, source PdfSource) (*PdfResult, error) {
	return e.pdf.Extract(data, source)
}

// ExtractFromPdfFile reads a local PDF and runs the backend chain over it.
func (e *Engine) ExtractFromPdfFile(path string) (*PdfResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return e.pdf.Extract(data, PdfSource{File: path})
}

// OpportunityFromPdf normalizes a standalone PDF result.
func (e *Engine) OpportunityFromPdf(res *PdfResult, linkText, sourcePage string, meta models.UtilityMeta) models.Opportunity {
	if sourcePage == "" {
		sourcePage = res.SourceURL
	}
	if sourcePage == "" {
		sourcePage = res.SourceFile
	}
	n := normalizer{meta: meta, sourcePage: sourcePage, scrapedAt: e.now()}
	return n.fromPdf(res, linkText)
}
