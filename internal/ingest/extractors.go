package ingest

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/david/rfp-finder/internal/models"
)

// The three date families are disjoint: word boundaries keep the numeric
// pattern from matching inside an ISO date.
var dateFamilies = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`),
	regexp.MustCompile(`(?i)\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`(?i)\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2},?\s+\d{4}\b`),
}

var rfpIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)RFP[#\s:-]*[A-Z0-9-]+`),
	regexp.MustCompile(`(?i)RFQ[#\s:-]*[A-Z0-9-]+`),
	regexp.MustCompile(`(?i)Solicitation[#\s:-]*[A-Z0-9-]+`),
	regexp.MustCompile(`(?i)Project[#\s:-]*[A-Z0-9-]+`),
	regexp.MustCompile(`(?i)Bid[#\s:-]*[A-Z0-9-]+`),
}

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	// Contact: Jane Doe / Contact Person - Jane Q. Doe
	contactNamePattern = regexp.MustCompile(`(?:Contact|CONTACT|contact)(?:\s+(?:Person|person|Name|name))?\s*[:\-]\s*([A-Z][a-zA-Z'.]+(?:\s+[A-Z][a-zA-Z'.]+){1,3})`)
)

const titleSelector = "h1, h2, h3, h4, strong, b"

// ExtractTitle picks the first heading or emphasis descendant with a
// plausible title length, falling back to the first line of the block text.
func ExtractTitle(block *goquery.Selection) string {
	var title string
	block.Find(titleSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		n := len([]rune(text))
		if n > titleMinRunes && n < titleMaxRunes {
			title = text
			return false
		}
		return true
	})
	if title != "" {
		return title
	}
	return truncateRunes(firstLine(flattenText(block, "\n")), titleMaxRunes)
}

// ExtractDates returns every date match with its context window and label.
func ExtractDates(text string) []models.DateRecord {
	var dates []models.DateRecord
	for _, family := range dateFamilies {
		for _, loc := range family.FindAllStringIndex(text, -1) {
			context := strings.TrimSpace(runeWindow(text, loc[0], loc[1], dateContextRunes))
			label := firstContained(strings.ToLower(context), dateKeywords)
			if label == "" {
				label = DateTypeUnknown
			}
			dates = append(dates, models.DateRecord{
				Date:    text[loc[0]:loc[1]],
				Type:    label,
				Context: context,
			})
		}
	}
	return dates
}

// uniqueDateStrings is the PDF flavour of ExtractDates: unique strings only,
// capped per family.
func uniqueDateStrings(text string) []string {
	var out []string
	for _, family := range dateFamilies {
		seen := make(map[string]bool)
		for _, match := range family.FindAllString(text, -1) {
			if seen[match] {
				continue
			}
			seen[match] = true
			out = append(out, match)
			if len(seen) == pdfDatesPerFamily {
				break
			}
		}
	}
	return out
}

// ExtractRFPID returns the first identifier match, prefix included, or "".
func ExtractRFPID(text string) string {
	for _, pattern := range rfpIDPatterns {
		if m := pattern.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

func ExtractContact(text string) models.ContactInfo {
	contact := models.ContactInfo{
		Email: emailPattern.FindString(text),
		Phone: phonePattern.FindString(text),
	}
	if m := contactNamePattern.FindStringSubmatch(text); m != nil {
		contact.Name = strings.TrimSpace(m[1])
	}
	return contact
}

// ClassifyActivity applies the inactive vocabulary, then the active
// vocabulary, and finally treats a dated block as active. A block with no
// signal and no dates is inactive.
func ClassifyActivity(text string, dates []models.DateRecord) bool {
	lower := strings.ToLower(text)
	if containsAny(lower, inactiveTerms) {
		return false
	}
	if containsAny(lower, activeTerms) {
		return true
	}
	return len(dates) > 0
}

// activeUnlessContradicted is the activity rule for paths with no date signal.
func activeUnlessContradicted(text string) bool {
	return !containsAny(strings.ToLower(text), inactiveTerms)
}

// runeWindow returns text[start:end] widened by n runes on each side.
func runeWindow(text string, start, end, n int) string {
	lo := start
	for i := 0; i < n && lo > 0; i++ {
		lo--
		for lo > 0 && !isRuneStart(text[lo]) {
			lo--
		}
	}
	hi := end
	for i := 0; i < n && hi < len(text); i++ {
		hi++
		for hi < len(text) && !isRuneStart(text[hi]) {
			hi++
		}
	}
	return text[lo:hi]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
