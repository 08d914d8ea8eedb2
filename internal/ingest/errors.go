package ingest

import "errors"

var (
	// ErrSourceUnavailable wraps fetch, render and download failures.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrNoPdfBackend means no PDF backend passed its availability probe.
	ErrNoPdfBackend = errors.New("no pdf backend available")

	// ErrExtractionFailed means every available PDF backend failed or returned no text.
	ErrExtractionFailed = errors.New("pdf extraction failed")

	ErrMalformedDocument = errors.New("malformed document")

	// Configuration errors are the only ones callers should treat as fatal.
	ErrConfig         = errors.New("invalid configuration")
	ErrUnknownUtility = errors.New("unknown utility")
)
