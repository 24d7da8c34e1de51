package report

import (
	"strings"
	"testing"
	"time"

	"github.com/dleary/packetflow/internal/packet"
	"github.com/dleary/packetflow/internal/quality"
	"github.com/dleary/packetflow/internal/schemas"
)

func reportSnapshot() packet.PacketSnapshot {
	uploaded := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	return packet.PacketSnapshot{
		ID:         "p1",
		Filename:   "closing.pdf",
		Status:     packet.PacketCompleted,
		PageCount:  6,
		UploadedAt: uploaded,
		Usage:      packet.Usage{Credits: 27, Dollars: 0.27, Pages: 18},
		Documents: []packet.DocumentSnapshot{
			{
				ID:             "d1",
				Pages:          packet.PageRange{Start: 1, End: 2},
				Status:         packet.DocReviewed,
				Classification: &packet.Classification{Category: "deed", Confidence: 0.95},
				Extraction: &packet.Extraction{
					Fields: map[string]packet.FieldValue{
						"grantor":           packet.Present("Alice | Grantor"),
						"grantee":           packet.Present("Bob Grantee"),
						"legal_description": packet.Present("Lot 4"),
						"county":            packet.NotInDocument(),
					},
					Likelihoods: map[string]float64{"grantor": 0.95},
				},
				EditedFields: map[string]packet.FieldValue{"grantee": packet.Present("Robert Grantee")},
				ReviewedBy:   "dana",
			},
			{
				ID:     "d2",
				Pages:  packet.PageRange{Start: 3, End: 6},
				Status: packet.DocFailed,
				// Never classified, never extracted.
				LastError: "extract: transient (503): gateway timeout",
			},
		},
	}
}

func TestBuildMarkdown(t *testing.T) {
	registry, err := schemas.NewRegistry(schemas.Builtin()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	md := BuildMarkdown(reportSnapshot(), registry, quality.Scorer{})

	for _, want := range []string{
		"# Packet Review Summary",
		"**File:** closing.pdf",
		"**Usage:** 27.00 credits ($0.27)",
		"## Document 1: deed (pages 1-2)",
		"**Trust score:** 100/100", // reviewed document
		"**Reviewed by:** dana",
		"## Document 2: unclassified (pages 3-6)",
		"**Last error:** extract: transient (503): gateway timeout",
		"| Field | Value | Likelihood | Edited |",
		"| grantee | Robert Grantee |  | yes |",
		"| county | Not in document |",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}

	// Pipes inside values must not break the table.
	if !strings.Contains(md, `Alice \| Grantor`) {
		t.Fatalf("cell not escaped:\n%s", md)
	}
	// The edited value replaces the extracted one in the table.
	if strings.Contains(md, "Bob Grantee") {
		t.Fatalf("stale extracted value leaked into the report:\n%s", md)
	}
}

func TestBuildMarkdownFieldOrderIsStable(t *testing.T) {
	registry, _ := schemas.NewRegistry(schemas.Builtin()...)
	first := BuildMarkdown(reportSnapshot(), registry, quality.Scorer{})
	for i := 0; i < 5; i++ {
		if again := BuildMarkdown(reportSnapshot(), registry, quality.Scorer{}); again != first {
			t.Fatal("report output is not deterministic")
		}
	}
	// Sorted field names.
	county := strings.Index(first, "| county |")
	grantor := strings.Index(first, "| grantor |")
	if county == -1 || grantor == -1 || county > grantor {
		t.Fatalf("field rows out of order: county@%d grantor@%d", county, grantor)
	}
}

func TestBuildMarkdownWithoutRegistry(t *testing.T) {
	md := BuildMarkdown(reportSnapshot(), nil, quality.Scorer{})
	if !strings.Contains(md, "## Document 1: deed") {
		t.Fatalf("markdown broken without registry:\n%s", md)
	}
}
