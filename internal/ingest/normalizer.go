package ingest

import (
	"strings"
	"time"

	"github.com/david/rfp-finder/internal/models"
)

// unknownSourceURL fills url when neither a link nor a page URL is known.
const unknownSourceURL = "about:blank"

// normalizer maps every raw extraction shape onto models.Opportunity for
// one document pass.
type normalizer struct {
	meta       models.UtilityMeta
	sourcePage string
	scrapedAt  time.Time
}

func (n normalizer) base(sourceType models.SourceType) models.Opportunity {
	return models.Opportunity{
		SourcePage:  n.sourcePage,
		SourceType:  sourceType,
		Utility:     n.meta.Utility,
		UtilityID:   n.meta.UtilityID,
		UtilityType: n.meta.UtilityType,
		Region:      n.meta.Region,
		ScrapedAt:   n.scrapedAt,
		Dates:       []models.DateRecord{},
	}
}

func (n normalizer) fromBlock(raw rawExtraction) models.Opportunity {
	opp := n.base(models.SourceHTML)
	opp.Title = raw.Title
	opp.Description = raw.Description
	opp.RFPID = raw.RFPID
	opp.AdditionalLinks = raw.Links
	opp.Contact = raw.Contact
	opp.IsActive = raw.IsActive
	if len(raw.Dates) > 0 {
		opp.Dates = raw.Dates
	}
	if len(raw.Links) > 0 {
		opp.URL = raw.Links[0].URL
	}
	return n.finish(opp, placeholderLinkTitle)
}

func (n normalizer) fromPdf(res *PdfResult, linkText string) models.Opportunity {
	opp := n.base(models.SourcePDF)

	title := res.Metadata.Title
	if title == "" {
		title = cleanText(linkText)
	}
	if title == "" {
		title = truncateRunes(firstLine(res.Text), titleMaxRunes)
	}
	opp.Title = title

	opp.Description = truncateRunes(res.Text, descriptionMaxRunes)
	opp.RFPID = res.RFPID
	opp.URL = res.SourceURL
	opp.Contact = ExtractContact(res.Text)
	opp.IsActive = activeUnlessContradicted(res.Text)
	for _, d := range res.Dates {
		opp.Dates = append(opp.Dates, models.DateRecord{Date: d, Type: DateTypeUnknown})
	}
	meta := res.Metadata
	opp.PDFMetadata = &meta
	return n.finish(opp, placeholderPDFTitle)
}

// fallbackRecord is a table row, list item or harvested link.
type fallbackRecord struct {
	SourceType  models.SourceType
	Title       string
	Description string
	URL         string
	Text        string
}

func (n normalizer) fromFallback(rec fallbackRecord) models.Opportunity {
	opp := n.base(rec.SourceType)
	opp.Title = rec.Title
	opp.Description = rec.Description
	opp.URL = rec.URL
	opp.IsActive = activeUnlessContradicted(rec.Text)
	if rec.SourceType != models.SourceLinkHarvest {
		if dates := ExtractDates(rec.Text); len(dates) > 0 {
			opp.Dates = dates
		}
		opp.RFPID = ExtractRFPID(rec.Text)
	}
	return n.finish(opp, placeholderLinkTitle)
}

// finish enforces the non-empty title and url invariants.
func (n normalizer) finish(opp models.Opportunity, placeholder string) models.Opportunity {
	if strings.TrimSpace(opp.Title) == "" {
		opp.Title = placeholder
	}
	if strings.TrimSpace(opp.URL) == "" {
		opp.URL = n.sourcePage
	}
	if strings.TrimSpace(opp.URL) == "" {
		opp.URL = unknownSourceURL
	}
	return opp
}
