package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRegistry_Embedded(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reg.Utilities) == 0 {
		t.Fatalf("expected embedded utilities")
	}
	for _, u := range reg.Active() {
		if !u.Active {
			t.Fatalf("Active returned inactive utility %s", u.ID)
		}
	}
	bpa, err := reg.Get("bpa")
	if err != nil {
		t.Fatalf("expected bpa in embedded registry: %v", err)
	}
	if !bpa.PDFOnly || bpa.PDFLimit() != pdfOnlyMaxPDFs {
		t.Fatalf("expected pdf_only limit %d, got %d", pdfOnlyMaxPDFs, bpa.PDFLimit())
	}
}

func TestLoadRegistry_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utilities.yaml")
	data := []byte("utilities:\n  - id: coop\n    name: Rural Coop\n    rfp_url: https://coop.example.com/bids\n    active: true\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u, _ := reg.Get("coop"); u.Name != "Rural Coop" {
		t.Fatalf("expected Rural Coop, got %+v", u)
	}

	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for missing file, got %v", err)
	}
}

func TestParseRegistry_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "utilities: [\n"},
		{"missing id", "utilities:\n  - rfp_url: https://a.example.com\n"},
		{"duplicate id", "utilities:\n  - id: a\n    rfp_url: https://a.example.com\n  - id: a\n    rfp_url: https://b.example.com\n"},
		{"missing url", "utilities:\n  - id: a\n"},
		{"bad selector", "utilities:\n  - id: a\n    rfp_url: https://a.example.com\n    js_wait_for: \"div[\"\n"},
		{"unknown fetcher", "utilities:\n  - id: a\n    rfp_url: https://a.example.com\n    fetcher: curl\n"},
		{"negative max pdfs", "utilities:\n  - id: a\n    rfp_url: https://a.example.com\n    max_pdfs_to_extract: -1\n"},
		{"negative max retries", "utilities:\n  - id: a\n    rfp_url: https://a.example.com\n    fetch:\n      max_retries: -2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(tt.yaml))
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestParseRegistry_ExpandsEnvironment(t *testing.T) {
	t.Setenv("RFP_TEST_HOST", "bids.example.org")
	reg, err := ParseRegistry([]byte("utilities:\n  - id: a\n    rfp_url: https://${RFP_TEST_HOST}/open\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Utilities[0].RFPURL != "https://bids.example.org/open" {
		t.Fatalf("expected expanded url, got %q", reg.Utilities[0].RFPURL)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := &Registry{}
	if _, err := reg.Get("nope"); !errors.Is(err, ErrUnknownUtility) {
		t.Fatalf("expected ErrUnknownUtility, got %v", err)
	}
}

func TestRegistry_Defaults(t *testing.T) {
	reg := &Registry{}
	if reg.Throttle() != defaultThrottleSeconds*time.Second {
		t.Fatalf("expected default throttle, got %v", reg.Throttle())
	}
	if reg.MaxConcurrentDownloads() != defaultMaxConcurrentDownloads {
		t.Fatalf("expected default concurrency, got %d", reg.MaxConcurrentDownloads())
	}

	zero := 0
	reg.Settings = Settings{ThrottleSeconds: &zero, MaxConcurrentDownloads: 8}
	if reg.Throttle() != 0 {
		t.Fatalf("expected explicit zero throttle, got %v", reg.Throttle())
	}
	if reg.MaxConcurrentDownloads() != 8 {
		t.Fatalf("expected 8, got %d", reg.MaxConcurrentDownloads())
	}
}

func TestUtilityConfig_PDFLimit(t *testing.T) {
	zero, three, negative := 0, 3, -1
	tests := []struct {
		name string
		u    UtilityConfig
		want int
	}{
		{"default", UtilityConfig{}, defaultMaxPDFs},
		{"pdf only", UtilityConfig{PDFOnly: true}, pdfOnlyMaxPDFs},
		{"explicit", UtilityConfig{MaxPDFs: &three, PDFOnly: true}, 3},
		{"disabled", UtilityConfig{MaxPDFs: &zero}, 0},
		{"negative", UtilityConfig{MaxPDFs: &negative}, 0},
	}
	for _, tt := range tests {
		if got := tt.u.PDFLimit(); got != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.name, tt.want, got)
		}
	}
}

func TestUtilityConfig_Meta(t *testing.T) {
	u := UtilityConfig{ID: "smud", Name: "SMUD", Type: "municipal", Region: "California"}
	m := u.Meta()
	if m.UtilityID != "smud" || m.Utility != "SMUD" || m.UtilityType != "municipal" || m.Region != "California" {
		t.Fatalf("unexpected meta %+v", m)
	}
}
