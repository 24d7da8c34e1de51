package quality

import (
	"math"
	"testing"

	"github.com/dleary/packetflow/internal/packet"
	"github.com/dleary/packetflow/internal/schemas"
)

func deedSchema() schemas.Schema {
	return schemas.Schema{
		Category: "deed",
		Fields: []schemas.FieldSpec{
			{Name: "grantor", Critical: true},
			{Name: "grantee", Critical: true},
			{Name: "county"},
			{Name: "consideration"},
		},
	}
}

func extractedDoc(confidence *float64) *packet.Document {
	return &packet.Document{
		ID:     "d1",
		Status: packet.DocCompleted,
		Extraction: &packet.Extraction{
			Fields: map[string]packet.FieldValue{
				"grantor":       packet.Present("Alice Grantor"),
				"grantee":       packet.Present("Bob Grantee"),
				"county":        packet.Present("Walworth"),
				"consideration": packet.NotInDocument(),
			},
			Likelihoods: map[string]float64{
				"grantor": 0.95, "grantee": 0.92, "county": 0.88, "consideration": 0.75,
			},
			Confidence: confidence,
		},
	}
}

func f64(v float64) *float64 { return &v }

func TestAssessDeterministic(t *testing.T) {
	s := Scorer{}
	d := extractedDoc(f64(0.9))
	first := s.Assess(d, deedSchema())
	for i := 0; i < 5; i++ {
		again := s.Assess(d, deedSchema())
		if again.Trust != first.Trust || again.Score != first.Score || again.IsNeedsReview != first.IsNeedsReview {
			t.Fatalf("assessment not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestAssessFullConfidence(t *testing.T) {
	a := Scorer{}.Assess(extractedDoc(f64(1.0)), deedSchema())
	// base 1.0, coverage 1.0, completeness 1.0
	if math.Abs(a.Trust-1.0) > 1e-9 || a.Score != 100 {
		t.Fatalf("want perfect score, got %+v", a)
	}
	if a.IsNeedsReview || a.IsUnscored {
		t.Fatalf("unexpected flags: %+v", a)
	}
}

func TestReviewedShortCircuits(t *testing.T) {
	d := extractedDoc(f64(0.1))
	d.Status = packet.DocReviewed
	a := Scorer{}.Assess(d, deedSchema())
	if a.Trust != 1.0 || a.Score != 100 || !a.IsReviewed {
		t.Fatalf("human sign-off must be authoritative, got %+v", a)
	}
}

func TestNeedsReviewCapsScore(t *testing.T) {
	cases := []*packet.Document{
		extractedDoc(f64(0.4)), // low confidence
		func() *packet.Document {
			d := extractedDoc(f64(0.99))
			d.Extraction.Fields["grantee"] = packet.MissingField()
			return d
		}(), // missing critical
		func() *packet.Document {
			d := extractedDoc(f64(0.99))
			d.NeedsReview = true
			return d
		}(), // pre-flagged
	}
	for i, d := range cases {
		a := Scorer{}.Assess(d, deedSchema())
		if !a.IsNeedsReview {
			t.Fatalf("case %d: expected needs-review flag", i)
		}
		if a.Score > 55 {
			t.Fatalf("case %d: flagged document reports score %d > 55", i, a.Score)
		}
	}
}

func TestNotInDocumentCountsAsComplete(t *testing.T) {
	d := extractedDoc(f64(0.95))
	d.Extraction.Fields["grantor"] = packet.NotInDocument()
	a := Scorer{}.Assess(d, deedSchema())
	if a.CriticalCompleteness != 1 {
		t.Fatalf("explicit not-in-document should be complete, got %v", a.CriticalCompleteness)
	}
	if a.IsNeedsReview {
		t.Fatal("resolved-absent critical field must not trigger review")
	}
}

func TestUnscoredGetsNeutralBase(t *testing.T) {
	a := Scorer{}.Assess(extractedDoc(nil), deedSchema())
	if !a.IsUnscored {
		t.Fatal("nil confidence should mark unscored")
	}
	if a.IsNeedsReview {
		t.Fatal("unscored alone is not a review trigger")
	}
	// base 0.60 × coverage 1.0 × completeness 1.0
	if math.Abs(a.Trust-0.60) > 1e-9 {
		t.Fatalf("neutral base expected, got %v", a.Trust)
	}
}

func TestZeroCriticalFieldsIsComplete(t *testing.T) {
	schema := schemas.Schema{Category: "other", Fields: []schemas.FieldSpec{{Name: "summary"}}}
	d := &packet.Document{Status: packet.DocCompleted, Extraction: &packet.Extraction{
		Fields: map[string]packet.FieldValue{"summary": packet.Present("misc page")},
	}}
	a := Scorer{}.Assess(d, schema)
	if a.CriticalCompleteness != 1 {
		t.Fatalf("no critical fields means completeness 1, got %v", a.CriticalCompleteness)
	}
}

func TestPartialLikelihoodCoverage(t *testing.T) {
	d := extractedDoc(f64(0.9))
	d.Extraction.Likelihoods = map[string]float64{"grantor": 0.9, "grantee": 0.8}
	a := Scorer{}.Assess(d, deedSchema())
	if math.Abs(a.ConfidenceCoverage-0.5) > 1e-9 {
		t.Fatalf("coverage should be 2/4, got %v", a.ConfidenceCoverage)
	}
}

func TestTierMatchesAssessment(t *testing.T) {
	s := Scorer{}
	reviewed := extractedDoc(f64(0.9))
	reviewed.Status = packet.DocReviewed
	if s.TierOf(reviewed, deedSchema()) != TierVerified {
		t.Fatal("reviewed should be verified")
	}
	if s.TierOf(extractedDoc(f64(0.9)), deedSchema()) != TierHigh {
		t.Fatal("confident complete doc should be high")
	}
	if s.TierOf(extractedDoc(nil), deedSchema()) != TierUnscored {
		t.Fatal("nil confidence should be unscored")
	}
	low := extractedDoc(f64(0.3))
	if s.TierOf(low, deedSchema()) != TierNeedsAttention {
		t.Fatal("low confidence should need attention")
	}
	// The tier scorer and Assess must flag the same documents.
	a := s.Assess(low, deedSchema())
	if !a.IsNeedsReview {
		t.Fatal("tier and assessment disagree on flagging")
	}
}
