package ingest

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"github.com/david/rfp-finder/internal/models"
)

//go:embed config/utilities.yaml
var utilitiesYAML embed.FS

const (
	defaultThrottleSeconds        = 2
	defaultMaxConcurrentDownloads = 3
	defaultMaxPDFs                = 5
	pdfOnlyMaxPDFs                = 10
)

// Registry holds the scan settings and every configured utility.
type Registry struct {
	Settings  Settings        `yaml:"settings"`
	Utilities []UtilityConfig `yaml:"utilities"`
}

type Settings struct {
	ThrottleSeconds        *int   `yaml:"throttle_seconds,omitempty"`
	MaxConcurrentDownloads int    `yaml:"max_concurrent_downloads,omitempty"`
	UserAgent              string `yaml:"user_agent,omitempty"`
}

// FetchConfig defines HTTP fetching configuration for a utility.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"` // Default: 30
	MaxRetries     *int    `yaml:"max_retries,omitempty"`     // Default: 3, 0 disables retries
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`  // Requests per second, default: 1.0
	ProxyURL       string  `yaml:"proxy_url,omitempty"`
	AcceptLanguage string  `yaml:"accept_language,omitempty"`
}

// UtilityConfig describes one organization whose RFP page is scanned.
type UtilityConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Region     string `yaml:"region"`
	RFPURL     string `yaml:"rfp_url"`
	Active     bool   `yaml:"active"`
	RequiresJS bool   `yaml:"requires_js,omitempty"`
	JSWaitFor  string `yaml:"js_wait_for,omitempty"`
	// MaxPDFs limits attachment downloads; nil means the default, 0 disables PDFs.
	MaxPDFs *int        `yaml:"max_pdfs_to_extract,omitempty"`
	PDFOnly bool        `yaml:"pdf_only,omitempty"`
	Fetcher string      `yaml:"fetcher,omitempty"` // "http" (default) or "colly"
	Fetch   FetchConfig `yaml:"fetch,omitempty"`
}

// Meta returns the metadata copied onto every record from this utility.
func (u UtilityConfig) Meta() models.UtilityMeta {
	return models.UtilityMeta{
		Utility:     u.Name,
		UtilityID:   u.ID,
		UtilityType: u.Type,
		Region:      u.Region,
	}
}

// PDFLimit is the number of attachments to download for this utility.
// It is never negative.
func (u UtilityConfig) PDFLimit() int {
	if u.MaxPDFs != nil {
		return max(*u.MaxPDFs, 0)
	}
	if u.PDFOnly {
		return pdfOnlyMaxPDFs
	}
	return defaultMaxPDFs
}

// LoadRegistry reads the registry at path, or the embedded default when
// path is empty. Environment variables (e.g. ${API_KEY}) are expanded first.
func LoadRegistry(path string) (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = utilitiesYAML.ReadFile("config/utilities.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read registry: %v", ErrConfig, err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("%w: parse registry: %v", ErrConfig, err)
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Registry) validate() error {
	seen := make(map[string]bool, len(r.Utilities))
	for i, u := range r.Utilities {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return fmt.Errorf("%w: utility %d has no id", ErrConfig, i)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate utility id %q", ErrConfig, id)
		}
		seen[id] = true
		if strings.TrimSpace(u.RFPURL) == "" {
			return fmt.Errorf("%w: utility %q has no rfp_url", ErrConfig, id)
		}
		if u.JSWaitFor != "" {
			if _, err := cascadia.Compile(u.JSWaitFor); err != nil {
				return fmt.Errorf("%w: utility %q js_wait_for: %v", ErrConfig, id, err)
			}
		}
		if u.MaxPDFs != nil && *u.MaxPDFs < 0 {
			return fmt.Errorf("%w: utility %q has negative max_pdfs_to_extract", ErrConfig, id)
		}
		if u.Fetch.MaxRetries != nil && *u.Fetch.MaxRetries < 0 {
			return fmt.Errorf("%w: utility %q has negative max_retries", ErrConfig, id)
		}
		switch u.Fetcher {
		case "", "http", "colly":
		default:
			return fmt.Errorf("%w: utility %q has unknown fetcher %q", ErrConfig, id, u.Fetcher)
		}
	}
	return nil
}

// Get returns the utility with the given id.
func (r *Registry) Get(id string) (UtilityConfig, error) {
	for _, u := range r.Utilities {
		if u.ID == id {
			return u, nil
		}
	}
	return UtilityConfig{}, fmt.Errorf("%w: %s", ErrUnknownUtility, id)
}

// Active returns the utilities marked active, in file order.
func (r *Registry) Active() []UtilityConfig {
	var out []UtilityConfig
	for _, u := range r.Utilities {
		if u.Active {
			out = append(out, u)
		}
	}
	return out
}

func (r *Registry) Throttle() time.Duration {
	if r.Settings.ThrottleSeconds == nil {
		return defaultThrottleSeconds * time.Second
	}
	return time.Duration(*r.Settings.ThrottleSeconds) * time.Second
}

func (r *Registry) MaxConcurrentDownloads() int {
	if r.Settings.MaxConcurrentDownloads > 0 {
		return r.Settings.MaxConcurrentDownloads
	}
	return defaultMaxConcurrentDownloads
}
