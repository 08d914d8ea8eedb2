package ingest

import (
	"strings"

	"github.com/david/rfp-finder/internal/models"
)

// titleKey is the dedup key: lower-cased and trimmed, nothing more.
func titleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Dedup drops records whose title key was already seen, keeping the first.
func Dedup(records []models.Opportunity) []models.Opportunity {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.Opportunity, 0, len(records))
	for _, r := range records {
		key := titleKey(r.Title)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// MergePdfRecords appends PDF-derived records to the page's HTML records.
// A PDF record is dropped when its title key equals, contains or is
// contained in the key of any record already merged.
func MergePdfRecords(base, pdf []models.Opportunity) []models.Opportunity {
	merged := make([]models.Opportunity, 0, len(base)+len(pdf))
	merged = append(merged, base...)
	keys := make([]string, 0, cap(merged))
	for _, r := range base {
		keys = append(keys, titleKey(r.Title))
	}

	for _, r := range pdf {
		key := titleKey(r.Title)
		if overlapsAny(key, keys) {
			continue
		}
		merged = append(merged, r)
		keys = append(keys, key)
	}
	return merged
}

func overlapsAny(key string, keys []string) bool {
	for _, k := range keys {
		if key == k || (key != "" && k != "" && (strings.Contains(k, key) || strings.Contains(key, k))) {
			return true
		}
	}
	return false
}
