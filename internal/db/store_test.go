package db

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/david/rfp-finder/internal/models"
)

func TestBuildListQuery_Filters(t *testing.T) {
	tests := []struct {
		name      string
		params    ListParams
		wantWhere []string
		wantArgs  int
		wantLimit string
	}{
		{
			name:      "no filters",
			params:    ListParams{},
			wantWhere: []string{"WHERE 1=1"},
			wantArgs:  0,
			wantLimit: "LIMIT $1 OFFSET $2",
		},
		{
			name:      "utility and active",
			params:    ListParams{UtilityID: "pge", ActiveOnly: true},
			wantWhere: []string{"utility_id = $1", "is_active = true"},
			wantArgs:  1,
			wantLimit: "LIMIT $2 OFFSET $3",
		},
		{
			name:      "all filters",
			params:    ListParams{UtilityID: "sce", SourceType: "pdf", Query: "solar"},
			wantWhere: []string{"utility_id = $1", "source_type = $2", "title ILIKE $3"},
			wantArgs:  3,
			wantLimit: "LIMIT $4 OFFSET $5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			countSQL, selectSQL, args := buildListQuery(tt.params)
			if len(args) != tt.wantArgs {
				t.Fatalf("expected %d args, got %d", tt.wantArgs, len(args))
			}
			for _, token := range tt.wantWhere {
				if !strings.Contains(countSQL, token) {
					t.Fatalf("count query missing %q: %s", token, countSQL)
				}
				if !strings.Contains(selectSQL, token) {
					t.Fatalf("select query missing %q: %s", token, selectSQL)
				}
			}
			if !strings.HasSuffix(selectSQL, tt.wantLimit) {
				t.Fatalf("expected select to end with %q, got %s", tt.wantLimit, selectSQL)
			}
			if strings.Contains(countSQL, "LIMIT") {
				t.Fatalf("count query must not paginate: %s", countSQL)
			}
		})
	}
}

func TestBuildListQuery_QueryIsWrappedForILike(t *testing.T) {
	_, _, args := buildListQuery(ListParams{Query: "  substation  "})
	if len(args) != 1 || args[0] != "%substation%" {
		t.Fatalf("expected [%%substation%%], got %v", args)
	}
}

func TestNormalizePage(t *testing.T) {
	p := normalizePage(ListParams{Limit: 0, Offset: -3})
	if p.Limit != defaultListLimit || p.Offset != 0 {
		t.Fatalf("expected defaults, got limit=%d offset=%d", p.Limit, p.Offset)
	}
	p = normalizePage(ListParams{Limit: 10000})
	if p.Limit != maxListLimit {
		t.Fatalf("expected limit capped at %d, got %d", maxListLimit, p.Limit)
	}
}

func TestOpportunityArgs_JSONColumns(t *testing.T) {
	opp := models.Opportunity{
		Title:      "  Grid Modernization RFP  ",
		UtilityID:  "pge",
		SourceType: models.SourceHTML,
		ScrapedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	runID := uuid.New()

	args, err := opportunityArgs(opp, runID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 18 {
		t.Fatalf("expected 18 args, got %d", len(args))
	}
	if args[1] != "grid modernization rfp" {
		t.Fatalf("expected normalized title key, got %v", args[1])
	}
	if args[4] != nil {
		t.Fatalf("expected NULL rfp_id, got %v", args[4])
	}
	if args[6] != "[]" || args[7] != "[]" {
		t.Fatalf("expected empty json arrays for nil slices, got %v and %v", args[6], args[7])
	}
	if args[12] != nil {
		t.Fatalf("expected NULL pdf_metadata, got %v", args[12])
	}
	if args[17] != runID.String() {
		t.Fatalf("expected run id %s, got %v", runID, args[17])
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := migrationFiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) == 0 || files[0] != "001_init.sql" {
		t.Fatalf("expected 001_init.sql first, got %v", files)
	}
}
