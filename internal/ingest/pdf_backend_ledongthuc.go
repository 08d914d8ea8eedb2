package ingest

import (
	"bytes"

	"github.com/ledongthuc/pdf"

	"github.com/david/rfp-finder/internal/models"
)

// ledongthucBackend reads plain page text and the Info dictionary's
// title, author and subject.
type ledongthucBackend struct{}

func (b *ledongthucBackend) Name() string    { return "ledongthuc" }
func (b *ledongthucBackend) Available() bool { return true }

func (b *ledongthucBackend) Extract(data []byte) (*PdfContent, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	numPages := r.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}

	meta := models.PdfMetadata{NumPages: numPages}
	if info := r.Trailer().Key("Info"); !info.IsNull() {
		meta.Title = info.Key("Title").Text()
		meta.Author = info.Key("Author").Text()
		meta.Subject = info.Key("Subject").Text()
	}

	return &PdfContent{Pages: pages, Metadata: meta}, nil
}
