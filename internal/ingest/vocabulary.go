package ingest

// rfpIndicators mark headings and tables that describe solicitations.
var rfpIndicators = []string{
	"request for proposal",
	"request for quotation",
	"request for information",
	"rfp",
	"rfq",
	"rfi",
	"rfo",
	"bid opportunity",
	"procurement notice",
	"solicitation",
	"tender",
	"invitation to bid",
	"itb",
	"invitation for bids",
	"competitive bidding",
	"contract opportunity",
	"vendor opportunity",
}

// containerIndicators are matched against class and id attributes.
var containerIndicators = []string{"rfp", "bid", "tender", "procurement", "opportunity"}

// dateKeywords are checked in order; the first hit labels the date.
var dateKeywords = []string{
	"deadline",
	"due date",
	"submission date",
	"closing date",
	"issue date",
	"release date",
	"posted",
	"expires",
	"until",
}

var inactiveTerms = []string{
	"closed", "archived", "awarded", "completed", "expired", "cancelled", "canceled", "withdrawn",
}

var activeTerms = []string{"open", "active", "current", "accepting", "now accepting"}

// listingKeywords gate the table-row and list-item fallbacks.
var listingKeywords = []string{"rfp", "rfq", "bid", "proposal", "solicitation"}

// harvestKeywords gate the bare-link fallback.
var harvestKeywords = []string{
	"rfp", "rfq", "rfi", "rfo", "bid", "proposal", "procurement",
	"solicitation", "tender", "opportunity", "contract", "award",
}

const (
	DateTypeUnknown = "unknown"

	titleMinRunes       = 10
	titleMaxRunes       = 200
	descriptionMaxRunes = 500
	dateContextRunes    = 50
	pdfIDSearchRunes    = 2000
	pdfDatesPerFamily   = 10
	maxHarvestedLinks   = 10

	placeholderPDFTitle  = "PDF RFP Document"
	placeholderLinkTitle = "Untitled Opportunity"
)
