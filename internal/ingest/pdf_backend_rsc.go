package ingest

import (
	"bytes"
	"strings"

	rpdf "rsc.io/pdf"

	"github.com/david/rfp-finder/internal/models"
)

// rscBackend is the minimal backend: page text fragments and a page count.
type rscBackend struct{}

func (b *rscBackend) Name() string    { return "rscpdf" }
func (b *rscBackend) Available() bool { return true }

func (b *rscBackend) Extract(data []byte) (*PdfContent, error) {
	reader, err := rpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for pageIndex := 1; pageIndex <= numPages; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		var builder strings.Builder
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		pages = append(pages, normalizeSpace(builder.String()))
	}

	return &PdfContent{
		Pages:    pages,
		Metadata: models.PdfMetadata{NumPages: numPages},
	}, nil
}
