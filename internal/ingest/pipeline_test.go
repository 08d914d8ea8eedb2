package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/david/rfp-finder/internal/models"
)

// MockFetcher serves canned bodies keyed by URL.
type MockFetcher struct {
	Data map[string][]byte

	mu       sync.Mutex
	Requests []string
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, url)
	m.mu.Unlock()

	data, ok := m.Data[url]
	if !ok {
		return nil, fmt.Errorf("mock 404 for %s", url)
	}
	return &FetchedDocument{
		URL:        url,
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewReader(data)),
		FetchedAt:  time.Now(),
	}, nil
}

func (m *MockFetcher) requested(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Requests {
		if r == url {
			return true
		}
	}
	return false
}

type recordingSink struct {
	mu   sync.Mutex
	runs []models.ScanRun
	opps [][]models.Opportunity
	err  error
}

func (s *recordingSink) SaveRun(ctx context.Context, run models.ScanRun, opps []models.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	s.opps = append(s.opps, opps)
	return s.err
}

const pipelineRegistry = `
settings:
  throttle_seconds: 0
utilities:
  - id: coop
    name: Rural Electric Coop
    type: cooperative
    region: Kansas
    rfp_url: https://coop.example.com/bids
    active: true
  - id: muni
    name: City Water and Light
    type: municipal
    region: Arkansas
    rfp_url: https://muni.example.com/procurement
    active: true
    pdf_only: true
  - id: capped
    name: Capped Utility
    rfp_url: https://capped.example.com/rfps
    active: false
    max_pdfs_to_extract: 1
  - id: nopdf
    name: No PDF Utility
    rfp_url: https://nopdf.example.com/rfps
    active: false
    max_pdfs_to_extract: 0
  - id: scripted
    name: Scripted Utility
    rfp_url: https://scripted.example.com/rfps
    active: false
    requires_js: true
    js_wait_for: "table.listing"
`

const coopPage = `<html><body>
<div class="bid-list">
	<b>Substation Fencing Project</b>
	<p>Open until 05/01/2025</p>
	<a href="/files/meters.pdf">Meter Replacement Scope</a>
</div>
</body></html>`

const muniPage = `<html><body>
<a href="/docs/alpha.pdf">Alpha Feeder Upgrade</a>
<a href="/view?file=beta-pdf">Beta Viewer</a>
<a href="/docs/charlie.PDF?rev=2">Charlie Substation Work</a>
<a href="/docs/alpha.pdf">Alpha again</a>
</body></html>`

const multiPdfPage = `<p><a href="/1.pdf">First bid notice</a><a href="/2.pdf">Second bid notice</a><a href="/3.pdf">Third bid notice</a></p>`

func newTestPipeline(t *testing.T) (*Pipeline, *MockFetcher, *recordingSink) {
	t.Helper()
	reg, err := ParseRegistry([]byte(pipelineRegistry))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	fetcher := &MockFetcher{Data: map[string][]byte{
		"https://coop.example.com/bids":                   []byte(coopPage),
		"https://coop.example.com/files/meters.pdf":       []byte("Meter Replacement\nScope of work for 4,000 meters"),
		"https://muni.example.com/procurement":            []byte(muniPage),
		"https://muni.example.com/docs/alpha.pdf":         []byte("alpha text"),
		"https://muni.example.com/view?file=beta-pdf":     []byte("beta text"),
		"https://muni.example.com/docs/charlie.PDF?rev=2": []byte("charlie text, contract awarded"),
		"https://capped.example.com/rfps":                 []byte(multiPdfPage),
		"https://capped.example.com/1.pdf":                []byte("one"),
		"https://capped.example.com/2.pdf":                []byte("two"),
		"https://nopdf.example.com/rfps":                  []byte(multiPdfPage),
		"https://scripted.example.com/rfps":               []byte(`<div class="rfp-board"><b>Scripted Board Listing</b></div>`),
	}}
	sink := &recordingSink{}
	p := NewPipeline(reg, newTestEngine(), sink)
	p.Fetcher = fetcher
	return p, fetcher, sink
}

func TestScanUtility_Unknown(t *testing.T) {
	p, _, sink := newTestPipeline(t)
	if _, err := p.ScanUtility(context.Background(), "missing"); !errors.Is(err, ErrUnknownUtility) {
		t.Fatalf("expected ErrUnknownUtility, got %v", err)
	}
	if len(sink.runs) != 0 {
		t.Fatalf("expected no persisted run")
	}
}

func TestScanUtility_PageAndAttachments(t *testing.T) {
	p, _, sink := newTestPipeline(t)
	res, err := p.ScanUtility(context.Background(), "coop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Run.Status != models.RunCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Run.Status, res.Run.Error)
	}
	if len(res.Opportunities) != 2 {
		t.Fatalf("expected html and pdf records, got %v", titles(res.Opportunities))
	}
	if res.Opportunities[0].Title != "Substation Fencing Project" || res.Opportunities[0].SourceType != models.SourceHTML {
		t.Fatalf("unexpected html record %+v", res.Opportunities[0])
	}
	pdf := res.Opportunities[1]
	if pdf.SourceType != models.SourcePDF || pdf.Title != "Meter Replacement Scope" {
		t.Fatalf("unexpected pdf record %+v", pdf)
	}
	if pdf.UtilityID != "coop" || pdf.Region != "Kansas" {
		t.Fatalf("expected utility metadata on pdf record, got %+v", pdf)
	}
	if res.Run.PDFsFound != 1 || res.Run.PDFsExtracted != 1 || res.Run.ItemsFound != 2 {
		t.Fatalf("unexpected run counters %+v", res.Run)
	}
	if res.Run.CompletedAt == nil || res.Run.CompletedAt.Before(res.Run.StartedAt) {
		t.Fatalf("expected completed_at after started_at")
	}

	if len(sink.runs) != 1 || sink.runs[0].ID != res.Run.ID || len(sink.opps[0]) != 2 {
		t.Fatalf("expected run persisted once with records, got %+v", sink.runs)
	}
}

func TestScanUtility_LoadFailure(t *testing.T) {
	p, fetcher, sink := newTestPipeline(t)
	delete(fetcher.Data, "https://coop.example.com/bids")

	res, err := p.ScanUtility(context.Background(), "coop")
	if err != nil {
		t.Fatalf("load failures are not errors, got %v", err)
	}
	if res.Run.Status != models.RunFailed || res.Run.Error == "" {
		t.Fatalf("expected failed run with error, got %+v", res.Run)
	}
	if res.Opportunities == nil || len(res.Opportunities) != 0 {
		t.Fatalf("expected empty non-nil records, got %#v", res.Opportunities)
	}
	if len(sink.runs) != 1 || sink.runs[0].Status != models.RunFailed {
		t.Fatalf("expected failed run persisted, got %+v", sink.runs)
	}
}

func TestScanUtility_PdfOnlyUsesStrictLinks(t *testing.T) {
	p, fetcher, _ := newTestPipeline(t)
	res, err := p.ScanUtility(context.Background(), "muni")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Run.PDFsFound != 2 {
		t.Fatalf("expected 2 strict pdf links, got %d", res.Run.PDFsFound)
	}
	if fetcher.requested("https://muni.example.com/view?file=beta-pdf") {
		t.Fatalf("non-.pdf link must not be downloaded in pdf_only mode")
	}
	if len(res.Opportunities) != 2 {
		t.Fatalf("expected 2 pdf records, got %v", titles(res.Opportunities))
	}
	for _, o := range res.Opportunities {
		if o.SourceType != models.SourcePDF {
			t.Fatalf("expected only pdf records, got %s", o.SourceType)
		}
		if o.SourcePage != "https://muni.example.com/procurement" {
			t.Fatalf("expected listing page as source, got %q", o.SourcePage)
		}
	}
	if res.Opportunities[0].Title != "Alpha Feeder Upgrade" || !res.Opportunities[0].IsActive {
		t.Fatalf("unexpected first record %+v", res.Opportunities[0])
	}
	if res.Opportunities[1].IsActive {
		t.Fatalf("expected awarded pdf inactive")
	}
	if res.Run.PDFsExtracted != 2 {
		t.Fatalf("expected 2 extracted, got %d", res.Run.PDFsExtracted)
	}
}

func TestScanUtility_PdfLimit(t *testing.T) {
	p, fetcher, _ := newTestPipeline(t)
	res, _ := p.ScanUtility(context.Background(), "capped")
	if res.Run.PDFsFound != 3 {
		t.Fatalf("expected 3 links found, got %d", res.Run.PDFsFound)
	}
	if !fetcher.requested("https://capped.example.com/1.pdf") || fetcher.requested("https://capped.example.com/2.pdf") {
		t.Fatalf("expected only the first pdf downloaded, got %v", fetcher.Requests)
	}
	if res.Run.PDFsExtracted != 1 {
		t.Fatalf("expected 1 extracted, got %d", res.Run.PDFsExtracted)
	}
}

func TestScanUtility_PdfDisabled(t *testing.T) {
	p, fetcher, _ := newTestPipeline(t)
	res, _ := p.ScanUtility(context.Background(), "nopdf")
	if len(fetcher.Requests) != 1 {
		t.Fatalf("expected only the page fetched, got %v", fetcher.Requests)
	}
	if res.Run.PDFsExtracted != 0 {
		t.Fatalf("expected no pdf extraction, got %d", res.Run.PDFsExtracted)
	}
	// Links still reach the fallback harvest.
	if res.Run.Status != models.RunCompleted {
		t.Fatalf("expected harvested links, got %s", res.Run.Status)
	}
}

func TestScanUtility_StaticRendererSelector(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	res, _ := p.ScanUtility(context.Background(), "scripted")
	if res.Run.Status != models.RunCompleted {
		t.Fatalf("expected completed run without the wait selector, got %+v", res.Run)
	}
	if len(res.Opportunities) != 1 || res.Opportunities[0].Title != "Scripted Board Listing" {
		t.Fatalf("expected static listing extracted, got %v", titles(res.Opportunities))
	}
}

func TestStaticRenderer_RenderDocument(t *testing.T) {
	fetcher := &MockFetcher{Data: map[string][]byte{
		"https://s.example.com/rfps": []byte(`<table class="listing"><tr><td>RFP 2025-4</td></tr></table>`),
	}}
	r := &StaticRenderer{Loader: NewLoader(fetcher)}

	tests := []struct {
		name     string
		selector string
		wantErr  error
	}{
		{"no selector", "", nil},
		{"present", "table.listing", nil},
		{"missing", "div.never", nil},
		{"invalid", "div[", ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := r.RenderDocument(context.Background(), "https://s.example.com/rfps", tt.selector)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil || doc == nil {
				t.Fatalf("expected document, got %v", err)
			}
			if doc.Find("table.listing").Length() != 1 {
				t.Fatalf("expected served html returned")
			}
		})
	}

	if _, err := r.RenderDocument(context.Background(), "https://s.example.com/missing", "table"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable for failed load, got %v", err)
	}
}

func TestScanUtility_NegativePdfLimit(t *testing.T) {
	p, fetcher, _ := newTestPipeline(t)
	negative := -1
	for i := range p.Registry.Utilities {
		if p.Registry.Utilities[i].ID == "nopdf" {
			p.Registry.Utilities[i].MaxPDFs = &negative
		}
	}

	res, err := p.ScanUtility(context.Background(), "nopdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Run.PDFsFound != 3 || res.Run.PDFsExtracted != 0 {
		t.Fatalf("expected links found but none extracted, got %+v", res.Run)
	}
	if len(fetcher.Requests) != 1 {
		t.Fatalf("expected only the page fetched, got %v", fetcher.Requests)
	}
}

func TestScanUtility_SinkErrorIsNotFatal(t *testing.T) {
	p, _, sink := newTestPipeline(t)
	sink.err = errors.New("db down")
	res, err := p.ScanUtility(context.Background(), "coop")
	if err != nil || len(res.Opportunities) != 2 {
		t.Fatalf("expected records despite sink error, got %d, %v", len(res.Opportunities), err)
	}
}

func TestScanAll(t *testing.T) {
	p, _, sink := newTestPipeline(t)
	var sleeps int
	p.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	results, err := p.ScanAll(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[0].Run.UtilityID != "coop" || results[1].Run.UtilityID != "muni" {
		t.Fatalf("expected active utilities in order, got %v", results)
	}
	if sleeps != 1 {
		t.Fatalf("expected 1 throttle pause, got %d", sleeps)
	}
	if len(sink.runs) != 2 {
		t.Fatalf("expected 2 persisted runs, got %d", len(sink.runs))
	}

	all, err := p.ScanAll(context.Background(), false)
	if err != nil || len(all) != 5 {
		t.Fatalf("expected all 5 utilities, got %d, %v", len(all), err)
	}
}

func TestScanAll_Cancelled(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	results, err := p.ScanAll(ctx, true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the first result kept, got %d", len(results))
	}
}

func TestCollectPdfLinks(t *testing.T) {
	doc := docFrom(t, muniPage)

	loose := CollectPdfLinks(doc, "https://muni.example.com/procurement", false)
	if len(loose) != 3 {
		t.Fatalf("expected 3 distinct links, got %+v", loose)
	}
	if loose[0].URL != "https://muni.example.com/docs/alpha.pdf" || loose[0].Text != "Alpha Feeder Upgrade" {
		t.Fatalf("expected first occurrence kept, got %+v", loose[0])
	}

	strict := CollectPdfLinks(doc, "https://muni.example.com/procurement", true)
	if len(strict) != 2 {
		t.Fatalf("expected 2 strict links, got %+v", strict)
	}

	if CollectPdfLinks(nil, "", false) != nil {
		t.Fatalf("expected nil for nil document")
	}
}

func TestScanResult_String(t *testing.T) {
	r := ScanResult{Run: models.ScanRun{UtilityID: "coop", Status: models.RunCompleted, PDFsFound: 3, PDFsExtracted: 1}}
	if got := r.String(); got != "coop: completed, 0 opportunities (1/3 pdfs)" {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestLoader_DownloadLimit(t *testing.T) {
	fetcher := &MockFetcher{Data: map[string][]byte{"https://x.example.com/big.pdf": bytes.Repeat([]byte("a"), 64)}}
	loader := NewLoader(fetcher)
	loader.MaxBytes = 32
	if _, err := loader.DownloadBytes(context.Background(), "https://x.example.com/big.pdf"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable for oversized body, got %v", err)
	}
	if _, err := loader.DownloadBytes(context.Background(), "https://x.example.com/missing.pdf"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable for missing body, got %v", err)
	}
}
