package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/rfp-finder/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type ListParams struct {
	UtilityID  string
	SourceType string
	Query      string // title substring, case-insensitive
	ActiveOnly bool
	Limit      int
	Offset     int
}

type ListResult struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
}

// titleKey mirrors the engine's dedup key so re-scans update in place.
func titleKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

const upsertOpportunitySQL = `
	INSERT INTO opportunities (
		utility_id, title_key, title, description, rfp_id,
		url, additional_links, dates, contact, is_active,
		source_page, source_type, pdf_metadata, utility, utility_type,
		region, scraped_at, last_run_id
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7::jsonb, $8::jsonb, $9::jsonb, $10,
		$11, $12, $13::jsonb, $14, $15,
		$16, $17, $18::uuid
	)
	ON CONFLICT (utility_id, title_key) DO UPDATE SET
		updated_at = NOW(),
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		rfp_id = COALESCE(EXCLUDED.rfp_id, opportunities.rfp_id),
		url = EXCLUDED.url,
		additional_links = EXCLUDED.additional_links,
		dates = EXCLUDED.dates,
		contact = EXCLUDED.contact,
		is_active = EXCLUDED.is_active,
		source_page = EXCLUDED.source_page,
		source_type = EXCLUDED.source_type,
		pdf_metadata = COALESCE(EXCLUDED.pdf_metadata, opportunities.pdf_metadata),
		utility = EXCLUDED.utility,
		utility_type = EXCLUDED.utility_type,
		region = EXCLUDED.region,
		scraped_at = EXCLUDED.scraped_at,
		last_run_id = EXCLUDED.last_run_id
`

// SaveRun records the run and upserts its opportunities in one transaction.
// It satisfies ingest.ResultSink.
func (s *Store) SaveRun(ctx context.Context, run models.ScanRun, opps []models.Opportunity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO scan_runs (id, utility_id, status, items_found, pdfs_found, pdfs_extracted, error, started_at, completed_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID.String(), run.UtilityID, run.Status, run.ItemsFound, run.PDFsFound, run.PDFsExtracted,
		nilIfEmpty(run.Error), run.StartedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert scan run failed: %w", err)
	}

	if len(opps) > 0 {
		batch := &pgx.Batch{}
		for _, o := range opps {
			args, err := opportunityArgs(o, run.ID)
			if err != nil {
				return err
			}
			batch.Queue(upsertOpportunitySQL, args...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert opportunities failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func opportunityArgs(o models.Opportunity, runID uuid.UUID) ([]interface{}, error) {
	links, err := jsonText(o.AdditionalLinks, "[]")
	if err != nil {
		return nil, err
	}
	dates, err := jsonText(o.Dates, "[]")
	if err != nil {
		return nil, err
	}
	contact, err := jsonText(o.Contact, "{}")
	if err != nil {
		return nil, err
	}
	var pdfMeta interface{}
	if o.PDFMetadata != nil {
		raw, err := json.Marshal(o.PDFMetadata)
		if err != nil {
			return nil, fmt.Errorf("encode pdf metadata: %w", err)
		}
		pdfMeta = string(raw)
	}

	return []interface{}{
		o.UtilityID,          // $1
		titleKey(o.Title),    // $2
		o.Title,              // $3
		o.Description,        // $4
		nilIfEmpty(o.RFPID),  // $5
		o.URL,                // $6
		links,                // $7
		dates,                // $8
		contact,              // $9
		o.IsActive,           // $10
		o.SourcePage,         // $11
		string(o.SourceType), // $12
		pdfMeta,              // $13
		o.Utility,            // $14
		o.UtilityType,        // $15
		o.Region,             // $16
		o.ScrapedAt,          // $17
		runID.String(),       // $18
	}, nil
}

// jsonText encodes v, substituting empty for nil slices.
func jsonText(v interface{}, empty string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	if string(raw) == "null" {
		return empty, nil
	}
	return string(raw), nil
}

const selectCols = `title, description, rfp_id, url, additional_links,
	dates, contact, is_active, source_page, source_type,
	pdf_metadata, utility, utility_id, utility_type, region, scraped_at`

func scanOpportunity(scan func(dest ...interface{}) error) (models.Opportunity, error) {
	var o models.Opportunity
	var rfpID *string
	var sourceType string
	var linksRaw, datesRaw, contactRaw, pdfRaw []byte

	err := scan(
		&o.Title, &o.Description, &rfpID, &o.URL, &linksRaw,
		&datesRaw, &contactRaw, &o.IsActive, &o.SourcePage, &sourceType,
		&pdfRaw, &o.Utility, &o.UtilityID, &o.UtilityType, &o.Region, &o.ScrapedAt,
	)
	if err != nil {
		return o, err
	}

	if rfpID != nil {
		o.RFPID = *rfpID
	}
	o.SourceType = models.SourceType(sourceType)
	if len(linksRaw) > 0 {
		_ = json.Unmarshal(linksRaw, &o.AdditionalLinks)
	}
	if len(datesRaw) > 0 {
		_ = json.Unmarshal(datesRaw, &o.Dates)
	}
	if o.Dates == nil {
		o.Dates = []models.DateRecord{}
	}
	if len(contactRaw) > 0 {
		_ = json.Unmarshal(contactRaw, &o.Contact)
	}
	if len(pdfRaw) > 0 {
		var meta models.PdfMetadata
		if err := json.Unmarshal(pdfRaw, &meta); err == nil {
			o.PDFMetadata = &meta
		}
	}
	return o, nil
}

// buildListQuery returns the count and page queries with their shared args.
// The page query takes two extra trailing args: limit and offset.
func buildListQuery(params ListParams) (countSQL, selectSQL string, args []interface{}) {
	where := "WHERE 1=1"
	argIdx := 1

	if params.UtilityID != "" {
		where += fmt.Sprintf(" AND utility_id = $%d", argIdx)
		args = append(args, params.UtilityID)
		argIdx++
	}
	if params.SourceType != "" {
		where += fmt.Sprintf(" AND source_type = $%d", argIdx)
		args = append(args, params.SourceType)
		argIdx++
	}
	if q := strings.TrimSpace(params.Query); q != "" {
		where += fmt.Sprintf(" AND title ILIKE $%d", argIdx)
		args = append(args, "%"+q+"%")
		argIdx++
	}
	if params.ActiveOnly {
		where += " AND is_active = true"
	}

	countSQL = "SELECT COUNT(*) FROM opportunities " + where
	selectSQL = fmt.Sprintf("SELECT %s FROM opportunities %s ORDER BY scraped_at DESC, id DESC LIMIT $%d OFFSET $%d",
		selectCols, where, argIdx, argIdx+1)
	return countSQL, selectSQL, args
}

func normalizePage(params ListParams) ListParams {
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}
	if params.Limit > maxListLimit {
		params.Limit = maxListLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	return params
}

func (s *Store) ListOpportunities(ctx context.Context, params ListParams) (*ListResult, error) {
	params = normalizePage(params)
	countSQL, selectSQL, args := buildListQuery(params)

	var total int
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	rows, err := s.pool.Query(ctx, selectSQL, append(args, params.Limit, params.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	opps := []models.Opportunity{}
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return &ListResult{
		Opportunities: opps,
		Total:         total,
		Limit:         params.Limit,
		Offset:        params.Offset,
	}, nil
}

// RecentRuns returns the latest scan runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.ScanRun, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, utility_id, status, items_found, pdfs_found, pdfs_extracted,
		       COALESCE(error, ''), started_at, completed_at
		FROM scan_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("runs query failed: %w", err)
	}
	defer rows.Close()

	runs := []models.ScanRun{}
	for rows.Next() {
		var r models.ScanRun
		var id string
		var completed *time.Time
		if err := rows.Scan(&id, &r.UtilityID, &r.Status, &r.ItemsFound, &r.PDFsFound, &r.PDFsExtracted,
			&r.Error, &r.StartedAt, &completed); err != nil {
			return nil, fmt.Errorf("runs scan failed: %w", err)
		}
		if parsed, err := uuid.Parse(id); err == nil {
			r.ID = parsed
		}
		r.CompletedAt = completed
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// nilIfEmpty returns nil for empty strings so NULL is stored in DB.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
