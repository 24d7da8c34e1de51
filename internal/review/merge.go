// Package review merges machine extraction with human corrections and owns
// the human-action transitions (approve, reject, reclassify). Merging is
// pure; the action helpers mutate only the document handed in.
package review

import (
	"fmt"
	"time"

	"github.com/dleary/packetflow/internal/packet"
	"github.com/dleary/packetflow/internal/schemas"
)

// MergeResult is the single authoritative data view for one document.
// Data holds extracted values overlaid with human edits; OriginalData keeps
// the untouched extraction so the audit trail survives the merge.
type MergeResult struct {
	Data         map[string]packet.FieldValue
	Likelihoods  map[string]float64
	OriginalData map[string]packet.FieldValue
	EditedFields map[string]packet.FieldValue
}

// Merge overlays editedFields on the extracted fields. When the document
// carries a non-custom category override and the target schema is known, the
// result is restricted to exactly that schema's field set: values from the
// prior schema are dropped even if a reviewer edited them, so stale fields
// never leak across a reclassification.
func Merge(doc *packet.Document, schema *schemas.Schema) MergeResult {
	res := MergeResult{
		Data:         map[string]packet.FieldValue{},
		Likelihoods:  map[string]float64{},
		OriginalData: map[string]packet.FieldValue{},
		EditedFields: map[string]packet.FieldValue{},
	}
	if doc.Extraction != nil {
		for k, v := range doc.Extraction.Fields {
			res.Data[k] = v
			res.OriginalData[k] = v
		}
		for k, v := range doc.Extraction.Likelihoods {
			res.Likelihoods[k] = v
		}
	}
	for k, v := range doc.EditedFields {
		res.Data[k] = v
		res.EditedFields[k] = v
	}

	filter := doc.Override != nil && !doc.Override.IsCustom && schema != nil
	if filter {
		for k := range res.Data {
			if !schema.Has(k) {
				delete(res.Data, k)
			}
		}
		for k := range res.EditedFields {
			if !schema.Has(k) {
				delete(res.EditedFields, k)
			}
		}
		for k := range res.Likelihoods {
			if !schema.Has(k) {
				delete(res.Likelihoods, k)
			}
		}
	}
	return res
}

// StateError reports a human action attempted on a document whose status
// does not allow it. The HTTP layer maps it to 409.
type StateError struct{ Msg string }

func (e *StateError) Error() string { return e.Msg }

// Approve records human sign-off. Corrections are clamped to the effective
// schema when one is known; fields outside it are dropped rather than stored.
// Only documents that finished extraction can be approved.
func Approve(doc *packet.Document, corrections map[string]packet.FieldValue, reviewer string, now time.Time, effective *schemas.Schema) error {
	switch doc.Status {
	case packet.DocCompleted, packet.DocNeedsReview:
	default:
		return &StateError{Msg: fmt.Sprintf("cannot approve document in status %q", doc.Status)}
	}
	if doc.EditedFields == nil {
		doc.EditedFields = map[string]packet.FieldValue{}
	}
	for k, v := range corrections {
		if effective != nil && !effective.Has(k) {
			continue
		}
		doc.EditedFields[k] = v
	}
	doc.Status = packet.DocReviewed
	doc.NeedsReview = false
	doc.ReviewReasons = nil
	doc.ReviewedBy = reviewer
	doc.ReviewedAt = &now
	return nil
}

// Reject marks a document as unusable after human inspection.
func Reject(doc *packet.Document, reviewer string, now time.Time) error {
	switch doc.Status {
	case packet.DocCompleted, packet.DocNeedsReview:
	default:
		return &StateError{Msg: fmt.Sprintf("cannot reject document in status %q", doc.Status)}
	}
	doc.Status = packet.DocRejected
	doc.ReviewedBy = reviewer
	doc.ReviewedAt = &now
	return nil
}

// Reclassify sets a category override. It deliberately does not re-run
// extraction: the document stays in its current stage, and Merge restricts
// the visible fields to the override schema. Edits outside the new effective
// schema are dropped immediately so the edited-set invariant holds.
func Reclassify(doc *packet.Document, category string, isCustom bool, effective *schemas.Schema) error {
	if category == "" {
		return fmt.Errorf("override category is required")
	}
	doc.Override = &packet.CategoryOverride{Category: category, IsCustom: isCustom}
	if !isCustom && effective != nil {
		for k := range doc.EditedFields {
			if !effective.Has(k) {
				delete(doc.EditedFields, k)
			}
		}
	}
	return nil
}
