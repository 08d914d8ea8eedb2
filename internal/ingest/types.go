package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/rs/zerolog/log"
)

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// DocumentLoader fetches and parses an HTML page.
type DocumentLoader interface {
	FetchDocument(ctx context.Context, url string) (*goquery.Document, error)
}

// DocumentRenderer loads a page that needs script execution, optionally
// waiting for waitSelector to appear.
type DocumentRenderer interface {
	RenderDocument(ctx context.Context, url, waitSelector string) (*goquery.Document, error)
}

// ByteDownloader retrieves a binary resource such as a PDF.
type ByteDownloader interface {
	DownloadBytes(ctx context.Context, url string) ([]byte, error)
}

// defaultMaxDownloadBytes caps a single download.
const defaultMaxDownloadBytes = 25 << 20

// Loader adapts a Fetcher to DocumentLoader and ByteDownloader.
type Loader struct {
	Fetcher  Fetcher
	MaxBytes int64
}

func NewLoader(f Fetcher) *Loader {
	return &Loader{Fetcher: f, MaxBytes: defaultMaxDownloadBytes}
}

func (l *Loader) FetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	fetched, err := l.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, url, err)
	}
	defer fetched.Body.Close()

	doc, err := goquery.NewDocumentFromReader(fetched.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedDocument, url, err)
	}
	return doc, nil
}

func (l *Loader) DownloadBytes(ctx context.Context, url string) ([]byte, error) {
	fetched, err := l.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, url, err)
	}
	defer fetched.Body.Close()

	limit := l.MaxBytes
	if limit <= 0 {
		limit = defaultMaxDownloadBytes
	}
	data, err := io.ReadAll(io.LimitReader(fetched.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read failed: %v", ErrSourceUnavailable, url, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s: body exceeds %d bytes", ErrSourceUnavailable, url, limit)
	}
	return data, nil
}

// StaticRenderer satisfies DocumentRenderer without a browser: it loads the
// served HTML as is. A missing waitSelector is logged, not fatal, since the
// static markup often still carries the listing.
type StaticRenderer struct {
	Loader DocumentLoader
}

func (r *StaticRenderer) RenderDocument(ctx context.Context, url, waitSelector string) (*goquery.Document, error) {
	doc, err := r.Loader.FetchDocument(ctx, url)
	if err != nil {
		return nil, err
	}
	if waitSelector == "" {
		return doc, nil
	}
	matcher, err := cascadia.Compile(waitSelector)
	if err != nil {
		return nil, fmt.Errorf("%w: wait selector %q: %v", ErrConfig, waitSelector, err)
	}
	if doc.FindMatcher(matcher).Length() == 0 {
		log.Warn().Str("url", url).Str("selector", waitSelector).Msg("wait selector not present in static html")
	}
	return doc, nil
}
