package ingest

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/david/rfp-finder/internal/models"
)

// PdfContent is what a single backend pulls out of a PDF.
type PdfContent struct {
	Pages    []string
	Metadata models.PdfMetadata
}

// PdfBackend is one interchangeable PDF text extractor.
// Available is called once, when the chain is built.
type PdfBackend interface {
	Name() string
	Available() bool
	Extract(data []byte) (*PdfContent, error)
}

// PdfSource records where PDF bytes came from. At most one field is set.
type PdfSource struct {
	URL  string
	File string
}

// PdfResult is the normalized output of the backend chain.
type PdfResult struct {
	Text        string             `json:"text"`
	Metadata    models.PdfMetadata `json:"metadata"`
	SourceURL   string             `json:"source_url,omitempty"`
	SourceFile  string             `json:"source_file,omitempty"`
	Method      string             `json:"extraction_method"`
	ExtractedAt time.Time          `json:"extracted_at"`
	TextLength  int                `json:"text_length"`
	WordCount   int                `json:"word_count"`
	Dates       []string           `json:"dates"`
	RFPID       string             `json:"rfp_id,omitempty"`
}

// PdfChain tries backends in priority order until one yields text.
type PdfChain struct {
	backends []PdfBackend
	now      func() time.Time
}

// DefaultPdfBackends lists the built-in backends, richest metadata first.
func DefaultPdfBackends() []PdfBackend {
	return []PdfBackend{
		&pdfcpuBackend{},
		newPopplerBackend(),
		&ledongthucBackend{},
		&rscBackend{},
	}
}

// NewPdfChain probes every backend once and keeps the available ones.
func NewPdfChain(backends ...PdfBackend) *PdfChain {
	chain := &PdfChain{now: time.Now}
	for _, b := range backends {
		if b == nil {
			continue
		}
		if !b.Available() {
			log.Debug().Str("backend", b.Name()).Msg("pdf backend not installed")
			continue
		}
		chain.backends = append(chain.backends, b)
	}
	return chain
}

// Backends returns the names of the available backends in priority order.
func (c *PdfChain) Backends() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// Extract runs the chain over data. Failures are reported as ErrNoPdfBackend
// or ErrExtractionFailed and should be treated as "no data".
func (c *PdfChain) Extract(data []byte, source PdfSource) (*PdfResult, error) {
	if len(c.backends) == 0 {
		return nil, ErrNoPdfBackend
	}

	ref := source.URL
	if ref == "" {
		ref = source.File
	}

	for _, backend := range c.backends {
		content, err := tryBackend(backend, data)
		if err != nil {
			log.Warn().Err(err).Str("backend", backend.Name()).Str("source", ref).Msg("pdf backend failed")
			continue
		}
		text := joinPages(content.Pages)
		if strings.TrimSpace(text) == "" {
			log.Warn().Str("backend", backend.Name()).Str("source", ref).Msg("pdf backend returned no text")
			continue
		}

		meta := content.Metadata
		meta.Title = cleanText(meta.Title)
		meta.Author = cleanText(meta.Author)
		meta.Subject = cleanText(meta.Subject)
		meta.Creator = cleanText(meta.Creator)
		if meta.NumPages == 0 {
			meta.NumPages = len(content.Pages)
		}

		return &PdfResult{
			Text:        text,
			Metadata:    meta,
			SourceURL:   source.URL,
			SourceFile:  source.File,
			Method:      backend.Name(),
			ExtractedAt: c.now(),
			TextLength:  utf8.RuneCountInString(text),
			WordCount:   len(strings.Fields(text)),
			Dates:       uniqueDateStrings(text),
			RFPID:       ExtractRFPID(truncateRunes(text, pdfIDSearchRunes)),
		}, nil
	}

	return nil, fmt.Errorf("%w: %d backends tried for %s", ErrExtractionFailed, len(c.backends), ref)
}

// tryBackend isolates one backend attempt, turning panics into errors.
func tryBackend(backend PdfBackend, data []byte) (content *PdfContent, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			content = nil
			err = fmt.Errorf("pdf parser panic: %v", recovered)
		}
	}()
	content, err = backend.Extract(data)
	if err == nil && content == nil {
		err = fmt.Errorf("backend returned no content")
	}
	return content, err
}

func joinPages(pages []string) string {
	nonEmpty := make([]string, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}
