package pipeline

import (
	"context"
	"errors"

	"github.com/dleary/packetflow/internal/docapi"
	"github.com/dleary/packetflow/internal/packet"
	"github.com/dleary/packetflow/internal/quality"
)

// Document transitions. Each guard rejects illegal source states so a bug in
// the orchestrator surfaces as an error on the document instead of silent
// state corruption. All callers hold the orchestrator mutex.

func beginClassify(d *packet.Document) error {
	switch d.Status {
	case packet.DocPending, packet.DocRetrying:
		d.Status = packet.DocClassifying
		return nil
	}
	return stateErrorf("document %s: cannot classify from %q", d.ID, d.Status)
}

func completeClassify(d *packet.Document, cls docapi.Classification) {
	d.Classification = &packet.Classification{
		Category:   cls.Category,
		Confidence: cls.Confidence,
		Reasoning:  cls.Reasoning,
	}
	d.FailedStage = ""
	d.LastError = ""
}

func beginExtract(d *packet.Document) error {
	switch d.Status {
	case packet.DocClassifying, packet.DocRetrying:
		d.Status = packet.DocExtracting
		return nil
	}
	return stateErrorf("document %s: cannot extract from %q", d.ID, d.Status)
}

// completeExtract records the extraction result and routes the document
// according to the trust assessment. Reasons union; none takes priority.
func completeExtract(d *packet.Document, res docapi.ExtractResult, assessment quality.TrustAssessment) {
	ext := &packet.Extraction{
		Fields:      res.Fields,
		Likelihoods: res.Likelihoods,
	}
	if res.Confidence != nil {
		conf := *res.Confidence
		ext.Confidence = &conf
	}
	d.Extraction = ext
	d.FailedStage = ""
	d.LastError = ""
	if assessment.IsNeedsReview {
		d.Status = packet.DocNeedsReview
		d.NeedsReview = true
		d.ReviewReasons = assessment.Reasons
	} else {
		d.Status = packet.DocCompleted
		d.NeedsReview = false
		d.ReviewReasons = nil
	}
}

// failDocument records a stage failure. Cancellation is not a failure of the
// document's own making and gets its own terminal state.
func failDocument(d *packet.Document, stage string, err error) {
	if errors.Is(err, context.Canceled) {
		d.Status = packet.DocCancelled
		d.LastError = "cancelled"
		d.FailedStage = stage
		return
	}
	d.Status = packet.DocFailed
	d.FailedStage = stage
	d.LastError = err.Error()
}

// prepareRetry resets a failed or cancelled document so only its failed
// stage re-runs. A document that never classified starts from classify;
// one that failed extraction keeps its classification and re-runs extract
// with the same page range.
func prepareRetry(d *packet.Document) (stage string, err error) {
	switch d.Status {
	case packet.DocFailed, packet.DocCancelled:
	default:
		return "", stateErrorf("document %s: cannot retry from %q", d.ID, d.Status)
	}
	stage = d.FailedStage
	if stage == "" || d.Classification == nil {
		stage = packet.StageClassify
	}
	d.Status = packet.DocRetrying
	d.LastError = ""
	return stage, nil
}
