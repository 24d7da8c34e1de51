// Package report renders a packet's review summary to PDF: one section per
// document with its classification, trust score, review reasons and the
// merged field table. Reviewers print these for closing files.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dleary/packetflow/internal/packet"
	"github.com/dleary/packetflow/internal/quality"
	"github.com/dleary/packetflow/internal/review"
	"github.com/dleary/packetflow/internal/schemas"
)

// BuildMarkdown renders the packet summary as GFM markdown. Kept separate
// from the PDF step so it is testable without a browser.
func BuildMarkdown(snap packet.PacketSnapshot, registry *schemas.Registry, scorer quality.Scorer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Packet Review Summary\n\n")
	fmt.Fprintf(&b, "**File:** %s  \n", snap.Filename)
	fmt.Fprintf(&b, "**Status:** %s  \n", snap.Status)
	fmt.Fprintf(&b, "**Documents:** %d  \n", len(snap.Documents))
	fmt.Fprintf(&b, "**Pages:** %d  \n", snap.PageCount)
	fmt.Fprintf(&b, "**Usage:** %.2f credits ($%.2f)\n\n", snap.Usage.Credits, snap.Usage.Dollars)
	if snap.Error != "" {
		fmt.Fprintf(&b, "> Packet error: %s\n\n", snap.Error)
	}

	for i, ds := range snap.Documents {
		doc := snapshotToDocument(snap.ID, ds)
		category := doc.Category()
		if category == "" {
			category = "unclassified"
		}
		fmt.Fprintf(&b, "## Document %d: %s (pages %d-%d)\n\n", i+1, category, ds.Pages.Start, ds.Pages.End)
		fmt.Fprintf(&b, "**Status:** %s  \n", ds.Status)

		var schema schemas.Schema
		if registry != nil {
			if s, ok := registry.Effective(&doc); ok {
				schema = s
			}
		}
		assessment := scorer.Assess(&doc, schema)
		fmt.Fprintf(&b, "**Trust score:** %d/100  \n", assessment.Score)
		if len(ds.ReviewReasons) > 0 {
			fmt.Fprintf(&b, "**Review reasons:** %s  \n", strings.Join(ds.ReviewReasons, "; "))
		}
		if ds.Override != nil {
			fmt.Fprintf(&b, "**Reclassified:** %s  \n", ds.Override.Category)
		}
		if ds.ReviewedBy != "" {
			fmt.Fprintf(&b, "**Reviewed by:** %s  \n", ds.ReviewedBy)
		}
		if ds.LastError != "" {
			fmt.Fprintf(&b, "**Last error:** %s  \n", ds.LastError)
		}
		b.WriteString("\n")

		var target *schemas.Schema
		if schema.Category != "" {
			target = &schema
		}
		merged := review.Merge(&doc, target)
		if len(merged.Data) > 0 {
			b.WriteString("| Field | Value | Likelihood | Edited |\n")
			b.WriteString("|---|---|---|---|\n")
			names := make([]string, 0, len(merged.Data))
			for name := range merged.Data {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				value := merged.Data[name].Display()
				likelihood := ""
				if l, ok := merged.Likelihoods[name]; ok {
					likelihood = fmt.Sprintf("%.2f", l)
				}
				edited := ""
				if _, ok := merged.EditedFields[name]; ok {
					edited = "yes"
				}
				fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", name, escapeCell(value), likelihood, edited)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func snapshotToDocument(packetID string, ds packet.DocumentSnapshot) packet.Document {
	return packet.Document{
		ID:             ds.ID,
		PacketID:       packetID,
		Pages:          ds.Pages,
		SplitType:      ds.SplitType,
		Status:         ds.Status,
		Classification: ds.Classification,
		Extraction:     ds.Extraction,
		NeedsReview:    ds.NeedsReview,
		ReviewReasons:  ds.ReviewReasons,
		Override:       ds.Override,
		EditedFields:   ds.EditedFields,
		ReviewedBy:     ds.ReviewedBy,
		ReviewedAt:     ds.ReviewedAt,
		LastError:      ds.LastError,
	}
}
