package ingest

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BlockStrategy names the segmentation strategy that produced a block.
type BlockStrategy string

const (
	StrategyHeadingSection  BlockStrategy = "heading_section"
	StrategyTaggedContainer BlockStrategy = "tagged_container"
	StrategyListingTable    BlockStrategy = "listing_table"
)

// RawBlock is a candidate region of one document. It is never kept past
// the document pass that created it.
type RawBlock struct {
	Strategy  BlockStrategy
	Selection *goquery.Selection
}

// segmentStrategy reads the document and never modifies it.
type segmentStrategy func(doc *goquery.Document) []RawBlock

var segmentStrategies = []segmentStrategy{
	headingSections,
	taggedContainers,
	listingTables,
}

// Segment concatenates the output of every strategy. One region may appear
// more than once; duplicates are collapsed after normalization.
func Segment(doc *goquery.Document) []RawBlock {
	if doc == nil {
		return nil
	}
	var blocks []RawBlock
	for _, strategy := range segmentStrategies {
		blocks = append(blocks, strategy(doc)...)
	}
	return blocks
}

func headingSections(doc *goquery.Document) []RawBlock {
	var blocks []RawBlock
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, heading *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(heading.Text()))
		if !containsAny(text, rfpIndicators) {
			return
		}
		if section := sectionContent(heading); section != nil {
			blocks = append(blocks, RawBlock{Strategy: StrategyHeadingSection, Selection: section})
		}
	})
	return blocks
}

// sectionContent collects the siblings after heading up to the next heading
// of equal or higher rank and returns the first one.
func sectionContent(heading *goquery.Selection) *goquery.Selection {
	level := headingLevel(goquery.NodeName(heading))
	var content []*goquery.Selection
	heading.NextAll().EachWithBreak(func(_ int, sibling *goquery.Selection) bool {
		if l := headingLevel(goquery.NodeName(sibling)); l > 0 && l <= level {
			return false
		}
		content = append(content, sibling)
		return true
	})
	if len(content) == 0 {
		return nil
	}
	return content[0]
}

// headingLevel maps h1..h6 to 1..6 and anything else to 0.
func headingLevel(name string) int {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}

func taggedContainers(doc *goquery.Document) []RawBlock {
	var blocks []RawBlock
	doc.Find("div, section, article").Each(func(_ int, container *goquery.Selection) {
		class, hasClass := container.Attr("class")
		id, hasID := container.Attr("id")
		if !hasClass && !hasID {
			return
		}
		tags := strings.ToLower(strings.Join(strings.Fields(class), " ") + " " + id)
		if containsAny(tags, containerIndicators) {
			blocks = append(blocks, RawBlock{Strategy: StrategyTaggedContainer, Selection: container})
		}
	})
	return blocks
}

func listingTables(doc *goquery.Document) []RawBlock {
	var blocks []RawBlock
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if containsAny(strings.ToLower(table.Text()), rfpIndicators) {
			blocks = append(blocks, RawBlock{Strategy: StrategyListingTable, Selection: table})
		}
	})
	return blocks
}
