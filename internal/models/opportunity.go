package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceType names the extraction path that produced an Opportunity.
type SourceType string

const (
	SourceHTML        SourceType = "html"
	SourcePDF         SourceType = "pdf"
	SourceTableRow    SourceType = "table_row"
	SourceListItem    SourceType = "list_item"
	SourceLinkHarvest SourceType = "link_harvest"
)

// Opportunity is one canonical procurement listing.
type Opportunity struct {
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	RFPID           string       `json:"rfp_id,omitempty"`
	URL             string       `json:"url"`
	AdditionalLinks []LinkRef    `json:"additional_links,omitempty"`
	Dates           []DateRecord `json:"dates"`
	Contact         ContactInfo  `json:"contact"`
	IsActive        bool         `json:"is_active"`
	SourcePage      string       `json:"source_page"`
	SourceType      SourceType   `json:"source_type"`
	PDFMetadata     *PdfMetadata `json:"pdf_metadata,omitempty"`
	Utility         string       `json:"utility"`
	UtilityID       string       `json:"utility_id"`
	UtilityType     string       `json:"utility_type"`
	Region          string       `json:"region"`
	ScrapedAt       time.Time    `json:"scraped_at"`
}

// DateRecord is a raw date match; Date is never parsed.
type DateRecord struct {
	Date    string `json:"date"`
	Type    string `json:"type"`
	Context string `json:"context,omitempty"`
}

type ContactInfo struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// IsEmpty reports whether no contact field was found.
func (c ContactInfo) IsEmpty() bool {
	return c.Email == "" && c.Phone == "" && c.Name == ""
}

// LinkRef holds an absolute link and its anchor text.
type LinkRef struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type PdfMetadata struct {
	NumPages int    `json:"num_pages"`
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Creator  string `json:"creator,omitempty"`
}

// UtilityMeta is copied verbatim from configuration onto every record.
type UtilityMeta struct {
	Utility     string `json:"utility"`
	UtilityID   string `json:"utility_id"`
	UtilityType string `json:"utility_type"`
	Region      string `json:"region"`
}

const (
	RunCompleted = "completed"
	RunEmpty     = "empty"
	RunFailed    = "failed"
)

// ScanRun summarizes one utility scan.
type ScanRun struct {
	ID            uuid.UUID  `json:"id"`
	UtilityID     string     `json:"utility_id"`
	Status        string     `json:"status"`
	ItemsFound    int        `json:"items_found"`
	PDFsFound     int        `json:"pdfs_found"`
	PDFsExtracted int        `json:"pdfs_extracted"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
