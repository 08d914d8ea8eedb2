package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/david/rfp-finder/internal/db"
	"github.com/david/rfp-finder/internal/ingest"
	"github.com/david/rfp-finder/internal/models"
)

const testRegistry = `
settings:
  throttle_seconds: 0
utilities:
  - id: pge
    name: Pacific Gas and Electric
    type: investor_owned
    region: California
    rfp_url: https://pge.example.com/rfps
    active: true
    max_pdfs_to_extract: 0
`

const listingHTML = `<html><body>
<div class="rfp-item">
  <h3>Grid Battery Storage Program</h3>
  <p>Now accepting proposals. Deadline 03/15/2025.</p>
  <a href="/docs/battery.html">Details</a>
</div>
</body></html>`

type mockFetcher struct {
	Data map[string][]byte
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*ingest.FetchedDocument, error) {
	content, ok := m.Data[url]
	if !ok {
		return nil, fmt.Errorf("mock 404: %s", url)
	}
	return &ingest.FetchedDocument{
		URL:        url,
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewReader(content)),
		Headers:    make(http.Header),
		FetchedAt:  time.Now(),
	}, nil
}

type textBackend struct {
	pages []string
}

func (b textBackend) Name() string    { return "fake" }
func (b textBackend) Available() bool { return true }
func (b textBackend) Extract(data []byte) (*ingest.PdfContent, error) {
	return &ingest.PdfContent{Pages: b.pages}, nil
}

type fakeStore struct {
	lastParams db.ListParams
	runs       []models.ScanRun
}

func (f *fakeStore) ListOpportunities(ctx context.Context, params db.ListParams) (*db.ListResult, error) {
	f.lastParams = params
	return &db.ListResult{Opportunities: []models.Opportunity{{Title: "Stored RFP"}}, Total: 1, Limit: params.Limit}, nil
}

func (f *fakeStore) RecentRuns(ctx context.Context, limit int) ([]models.ScanRun, error) {
	return f.runs, nil
}

func newTestServer(t *testing.T, store Store, secret string) *Server {
	t.Helper()
	reg, err := ingest.ParseRegistry([]byte(testRegistry))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	engine := ingest.NewEngine(ingest.WithPdfBackends(textBackend{pages: []string{"Solar Interconnection Program\nRFP#2025-77 responses due 2025-06-01"}}))
	pipeline := ingest.NewPipeline(reg, engine, nil)
	pipeline.Fetcher = &mockFetcher{Data: map[string][]byte{
		"https://pge.example.com/rfps": []byte(listingHTML),
	}}
	return NewServer(Config{Pipeline: pipeline, Store: store, AdminSecret: secret})
}

func do(s *Server, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, "")
	rec := do(s, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("expected 200 OK, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestListUtilities(t *testing.T) {
	s := newTestServer(t, nil, "")
	rec := do(s, http.MethodGet, "/api/v1/utilities", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out []utilityView
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "pge" || out[0].MaxPDFs != 0 {
		t.Fatalf("expected pge with pdfs disabled, got %+v", out)
	}
}

func TestListOpportunities_NoStore(t *testing.T) {
	s := newTestServer(t, nil, "")
	for _, path := range []string{"/api/v1/opportunities", "/api/v1/runs"} {
		rec := do(s, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, rec.Code)
		}
	}
}

func TestListOpportunities_PassesFilters(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(t, store, "")
	rec := do(s, http.MethodGet, "/api/v1/opportunities?utility_id=pge&active=true&limit=5&offset=10", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p := store.lastParams
	if p.UtilityID != "pge" || !p.ActiveOnly || p.Limit != 5 || p.Offset != 10 {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestAdminRoutes_RequireSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		headers map[string]string
		want    int
	}{
		{"no secret configured", "", map[string]string{"X-Admin-Secret": ""}, http.StatusUnauthorized},
		{"wrong header", "s3cret", map[string]string{"X-Admin-Secret": "nope"}, http.StatusUnauthorized},
		{"header ok", "s3cret", map[string]string{"X-Admin-Secret": "s3cret"}, http.StatusOK},
		{"bearer ok", "s3cret", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil, tt.secret)
			rec := do(s, http.MethodPost, "/api/v1/extract/html?base_url=https://pge.example.com/rfps",
				strings.NewReader(listingHTML), tt.headers)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestExtractHTML(t *testing.T) {
	s := newTestServer(t, nil, "k")
	auth := map[string]string{"X-Admin-Secret": "k"}

	rec := do(s, http.MethodPost, "/api/v1/extract/html", strings.NewReader(listingHTML), auth)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without base_url, got %d", rec.Code)
	}

	rec = do(s, http.MethodPost, "/api/v1/extract/html?base_url=https://pge.example.com/rfps&utility_id=nope",
		strings.NewReader(listingHTML), auth)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown utility, got %d", rec.Code)
	}

	rec = do(s, http.MethodPost, "/api/v1/extract/html?base_url=https://pge.example.com/rfps&utility_id=pge",
		strings.NewReader(listingHTML), auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Count         int                  `json:"count"`
		Opportunities []models.Opportunity `json:"opportunities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 {
		t.Fatalf("expected 1 opportunity, got %d", out.Count)
	}
	opp := out.Opportunities[0]
	if opp.Title != "Grid Battery Storage Program" {
		t.Fatalf("expected heading title, got %q", opp.Title)
	}
	if opp.URL != "https://pge.example.com/docs/battery.html" {
		t.Fatalf("expected resolved link, got %q", opp.URL)
	}
	if opp.UtilityID != "pge" || opp.Region != "California" {
		t.Fatalf("expected utility metadata, got %+v", opp)
	}
}

func TestExtractPDF(t *testing.T) {
	s := newTestServer(t, nil, "k")
	auth := map[string]string{"X-Admin-Secret": "k"}

	rec := do(s, http.MethodPost, "/api/v1/extract/pdf", nil, auth)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}

	rec = do(s, http.MethodPost, "/api/v1/extract/pdf?source_url=https://pge.example.com/a.pdf",
		strings.NewReader("%PDF-1.4 fake"), auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Result      ingest.PdfResult   `json:"result"`
		Opportunity models.Opportunity `json:"opportunity"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Result.Method != "fake" {
		t.Fatalf("expected method fake, got %q", out.Result.Method)
	}
	if out.Result.RFPID != "RFP#2025-77" {
		t.Fatalf("expected RFP#2025-77, got %q", out.Result.RFPID)
	}
	if out.Opportunity.SourceType != models.SourcePDF || out.Opportunity.Title != "Solar Interconnection Program" {
		t.Fatalf("unexpected opportunity %+v", out.Opportunity)
	}
}

func TestScanUtility(t *testing.T) {
	s := newTestServer(t, nil, "k")
	auth := map[string]string{"X-Admin-Secret": "k"}

	rec := do(s, http.MethodPost, "/api/v1/scan/unknown", nil, auth)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(s, http.MethodPost, "/api/v1/scan/pge", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out ingest.ScanResult
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Run.Status != models.RunCompleted || len(out.Opportunities) != 1 {
		t.Fatalf("expected completed scan with 1 record, got %s with %d", out.Run.Status, len(out.Opportunities))
	}
}

func TestScanAll(t *testing.T) {
	s := newTestServer(t, nil, "k")
	rec := do(s, http.MethodPost, "/api/v1/scan", nil, map[string]string{"Authorization": "Bearer k"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out []ingest.ScanResult
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Run.UtilityID != "pge" {
		t.Fatalf("expected one pge result, got %+v", out)
	}
}
