// Package quality derives trust scores for extracted documents. Everything
// here is a pure function of the document and its schema; nothing mutates
// state, which is what makes the routing decisions testable.
package quality

import (
	"math"

	"github.com/dleary/packetflow/internal/packet"
	"github.com/dleary/packetflow/internal/schemas"
)

// NeedsReviewCap bounds the trust of any document flagged for review. A
// flagged document must never present a score that reads as "good enough".
const NeedsReviewCap = 0.55

const DefaultConfidenceThreshold = 0.70

type TrustAssessment struct {
	Trust                float64
	Score                int
	ConfidenceCoverage   float64
	CriticalCompleteness float64
	IsReviewed           bool
	IsNeedsReview        bool
	IsUnscored           bool
	Reasons              []string
}

type Scorer struct {
	// ConfidenceThreshold is the consensus confidence below which a document
	// is routed to human review. Zero means the default.
	ConfidenceThreshold float64
}

func (s Scorer) threshold() float64 {
	if s.ConfidenceThreshold <= 0 {
		return DefaultConfidenceThreshold
	}
	return s.ConfidenceThreshold
}

// Assess computes the trust assessment for a document under its effective
// schema. Human sign-off is authoritative: a reviewed document scores 1.0
// regardless of what the machine signals say.
func (s Scorer) Assess(doc *packet.Document, schema schemas.Schema) TrustAssessment {
	if doc.Status == packet.DocReviewed {
		return TrustAssessment{Trust: 1.0, Score: 100, ConfidenceCoverage: 1, CriticalCompleteness: 1, IsReviewed: true}
	}

	assessment := TrustAssessment{}

	var fields map[string]packet.FieldValue
	var likelihoods map[string]float64
	var confidence *float64
	if doc.Extraction != nil {
		fields = doc.Extraction.Fields
		likelihoods = doc.Extraction.Likelihoods
		confidence = doc.Extraction.Confidence
	}
	assessment.IsUnscored = confidence == nil

	schemaFieldCount := len(schema.Fields)
	numericLikelihoods := 0
	for _, name := range schema.FieldNames() {
		if _, ok := likelihoods[name]; ok {
			numericLikelihoods++
		}
	}
	coverage := 1.0
	if schemaFieldCount > 0 {
		coverage = math.Min(1, float64(numericLikelihoods)/float64(schemaFieldCount))
	}
	assessment.ConfidenceCoverage = coverage

	critical := schema.CriticalFields()
	criticalMissing := 0
	for _, name := range critical {
		fv, ok := fields[name]
		if !ok || fv.Empty() {
			criticalMissing++
		}
	}
	if len(critical) == 0 {
		assessment.CriticalCompleteness = 1
	} else {
		assessment.CriticalCompleteness = 1 - float64(criticalMissing)/float64(len(critical))
	}

	base := 0.60
	if confidence != nil {
		base = 0.35 + 0.65*(*confidence)
	}
	coverageFactor := 0.70 + 0.30*coverage
	completenessFactor := 0.60 + 0.40*(1-float64(criticalMissing)/math.Max(1, float64(len(critical))))

	trust := base * coverageFactor * completenessFactor

	if confidence != nil && *confidence < s.threshold() {
		assessment.IsNeedsReview = true
		assessment.Reasons = append(assessment.Reasons, packet.ReasonLowConfidence)
	}
	if criticalMissing > 0 {
		assessment.IsNeedsReview = true
		assessment.Reasons = append(assessment.Reasons, packet.ReasonMissingCriticalField)
	}
	if doc.NeedsReview {
		assessment.IsNeedsReview = true
	}
	if assessment.IsNeedsReview && trust > NeedsReviewCap {
		trust = NeedsReviewCap
	}

	assessment.Trust = trust
	assessment.Score = int(math.Round(trust * 100))
	return assessment
}

// Tier is the coarse legacy rating kept for aggregate reporting. It is
// derived from the same inputs as Assess and flags exactly the same
// documents.
type Tier string

const (
	TierVerified       Tier = "verified"
	TierHigh           Tier = "high"
	TierUnscored       Tier = "unscored"
	TierNeedsAttention Tier = "needs_attention"
)

func (s Scorer) TierOf(doc *packet.Document, schema schemas.Schema) Tier {
	a := s.Assess(doc, schema)
	switch {
	case a.IsReviewed:
		return TierVerified
	case a.IsNeedsReview:
		return TierNeedsAttention
	case a.IsUnscored:
		return TierUnscored
	default:
		return TierHigh
	}
}
