package ingest

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/david/rfp-finder/internal/models"
)

// rawExtraction is the field set assembled from one block before normalization.
type rawExtraction struct {
	Strategy    BlockStrategy
	Title       string
	Description string
	RFPID       string
	Dates       []models.DateRecord
	Links       []models.LinkRef
	Contact     models.ContactInfo
	IsActive    bool
	Text        string
}

// AssembleBlock runs the field extractors over one block. It reports false
// when the block has no text or no title can be produced.
func AssembleBlock(block RawBlock, base *url.URL) (rawExtraction, bool) {
	if block.Selection == nil || block.Selection.Length() == 0 {
		return rawExtraction{}, false
	}
	text := flattenText(block.Selection, " ")
	if text == "" {
		return rawExtraction{}, false
	}
	title := ExtractTitle(block.Selection)
	if title == "" {
		return rawExtraction{}, false
	}

	dates := ExtractDates(text)
	return rawExtraction{
		Strategy:    block.Strategy,
		Title:       title,
		Description: truncateRunes(text, descriptionMaxRunes),
		RFPID:       ExtractRFPID(text),
		Dates:       dates,
		Links:       blockLinks(block.Selection, base),
		Contact:     ExtractContact(text),
		IsActive:    ClassifyActivity(text, dates),
		Text:        text,
	}, true
}

// blockLinks resolves every anchor under sel against base.
func blockLinks(sel *goquery.Selection, base *url.URL) []models.LinkRef {
	var links []models.LinkRef
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if strings.TrimSpace(href) == "" {
			return
		}
		links = append(links, models.LinkRef{
			Text: normalizeSpace(a.Text()),
			URL:  resolveURL(base, href),
		})
	})
	return links
}
