package ingest

import (
	"bytes"
	"os/exec"
	"strconv"
	"strings"

	"code.sajari.com/docconv"

	"github.com/david/rfp-finder/internal/models"
)

const pdfMimeType = "application/pdf"

// popplerBackend shells out to pdftotext and pdfinfo through docconv.
type popplerBackend struct {
	lookPath func(string) (string, error)
}

func newPopplerBackend() *popplerBackend {
	return &popplerBackend{lookPath: exec.LookPath}
}

func (b *popplerBackend) Name() string { return "poppler" }

func (b *popplerBackend) Available() bool {
	for _, bin := range []string{"pdftotext", "pdfinfo"} {
		if _, err := b.lookPath(bin); err != nil {
			return false
		}
	}
	return true
}

func (b *popplerBackend) Extract(data []byte) (*PdfContent, error) {
	res, err := docconv.Convert(bytes.NewReader(data), pdfMimeType, false)
	if err != nil {
		return nil, err
	}

	// pdftotext runs with page breaks disabled; split on form feeds only if present.
	pages := strings.Split(res.Body, "\f")

	meta := models.PdfMetadata{
		Title:   res.Meta["Title"],
		Author:  res.Meta["Author"],
		Subject: res.Meta["Subject"],
		Creator: res.Meta["Creator"],
	}
	if n, err := strconv.Atoi(strings.TrimSpace(res.Meta["Pages"])); err == nil {
		meta.NumPages = n
	}

	return &PdfContent{Pages: pages, Metadata: meta}, nil
}
