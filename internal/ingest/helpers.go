package ingest

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// normalizeSpace collapses runs of whitespace into one space and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanText strips any markup and entities from a metadata or anchor string.
func cleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = html.UnescapeString(strictPolicy.Sanitize(s))
	}
	return normalizeSpace(s)
}

// containsAny reports whether lower contains any of terms.
func containsAny(lower string, terms []string) bool {
	return firstContained(lower, terms) != ""
}

// firstContained returns the first term found in lower, in terms order.
func firstContained(lower string, terms []string) string {
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return term
		}
	}
	return ""
}

// truncateRunes returns at most n runes of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// firstLine returns the first non-blank line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// flattenText joins the trimmed, non-empty text nodes under sel with sep.
func flattenText(sel *goquery.Selection, sep string) string {
	var parts []string
	collectText(sel, &parts)
	return strings.Join(parts, sep)
}

func collectText(sel *goquery.Selection, parts *[]string) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		switch goquery.NodeName(child) {
		case "#text":
			if t := strings.TrimSpace(child.Text()); t != "" {
				*parts = append(*parts, t)
			}
		case "script", "style", "noscript", "#comment":
		default:
			collectText(child, parts)
		}
	})
}

// resolveURL resolves href against base, returning href untouched when either fails to parse.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func parseBase(baseURL string) *url.URL {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil
	}
	return u
}

// extractDomain returns the host part of a URL, or the input when it has none.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
