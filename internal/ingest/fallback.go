package ingest

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/david/rfp-finder/internal/models"
)

// fallbackStage is one step of the cascade run when block extraction
// produced nothing. Stages never share partial results.
type fallbackStage struct {
	name    string
	extract func(doc *goquery.Document, base *url.URL) []fallbackRecord
}

var fallbackCascade = []fallbackStage{
	{name: "table_rows", extract: tableRowRecords},
	{name: "list_items", extract: listItemRecords},
	{name: "link_harvest", extract: harvestLinkRecords},
}

func tableRowRecords(doc *goquery.Document, base *url.URL) []fallbackRecord {
	var records []fallbackRecord
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td, th")
		if cells.Length() < 2 {
			return
		}
		parts := make([]string, 0, cells.Length())
		cells.Each(func(_ int, cell *goquery.Selection) {
			parts = append(parts, flattenText(cell, " "))
		})
		text := strings.TrimSpace(strings.Join(parts, " "))
		if !containsAny(strings.ToLower(text), listingKeywords) {
			return
		}
		records = append(records, fallbackRecord{
			SourceType:  models.SourceTableRow,
			Title:       truncateRunes(text, titleMaxRunes),
			Description: text,
			URL:         firstAnchor(row, base),
			Text:        text,
		})
	})
	return records
}

func listItemRecords(doc *goquery.Document, base *url.URL) []fallbackRecord {
	var records []fallbackRecord
	doc.Find("li").Each(func(_ int, item *goquery.Selection) {
		text := flattenText(item, " ")
		if !containsAny(strings.ToLower(text), listingKeywords) {
			return
		}
		records = append(records, fallbackRecord{
			SourceType:  models.SourceListItem,
			Title:       truncateRunes(text, titleMaxRunes),
			Description: text,
			URL:         firstAnchor(item, base),
			Text:        text,
		})
	})
	return records
}

func harvestLinkRecords(doc *goquery.Document, base *url.URL) []fallbackRecord {
	var records []fallbackRecord
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		abs := resolveURL(base, href)
		text := normalizeSpace(a.Text())
		lower := strings.ToLower(text)
		if !containsAny(lower, harvestKeywords) && !containsAny(strings.ToLower(abs), harvestKeywords) {
			return true
		}
		records = append(records, fallbackRecord{
			SourceType:  models.SourceLinkHarvest,
			Title:       text,
			Description: text,
			URL:         abs,
			Text:        text,
		})
		return len(records) < maxHarvestedLinks
	})
	return records
}

// firstAnchor returns the resolved href of the first anchor under sel, or "".
func firstAnchor(sel *goquery.Selection, base *url.URL) string {
	href, ok := sel.Find("a[href]").First().Attr("href")
	if !ok {
		return ""
	}
	return resolveURL(base, href)
}
