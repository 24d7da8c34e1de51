// Package packet holds the data model for uploaded packets and the logical
// documents the split stage discovers inside them. Everything here is plain
// state; the pipeline package owns the transitions.
package packet

import (
	"time"
)

type PacketStatus string

const (
	PacketQueued      PacketStatus = "queued"
	PacketSplitting   PacketStatus = "splitting"
	PacketClassifying PacketStatus = "classifying"
	PacketExtracting  PacketStatus = "extracting"
	PacketRetrying    PacketStatus = "retrying"
	PacketCompleted   PacketStatus = "completed"
	PacketNeedsReview PacketStatus = "needs_review"
	PacketFailed      PacketStatus = "failed"
)

// Terminal reports whether a packet status is final absent user action.
// A failed packet can still be re-queued by an explicit retry.
func (s PacketStatus) Terminal() bool {
	return s == PacketCompleted || s == PacketNeedsReview || s == PacketFailed
}

type DocumentStatus string

const (
	DocPending      DocumentStatus = "pending"
	DocClassifying  DocumentStatus = "classifying"
	DocExtracting   DocumentStatus = "extracting"
	DocRetrying     DocumentStatus = "retrying"
	DocCompleted    DocumentStatus = "completed"
	DocNeedsReview  DocumentStatus = "needs_review"
	DocFailed       DocumentStatus = "failed"
	DocCancelled    DocumentStatus = "cancelled"
	DocReviewed     DocumentStatus = "reviewed"
	DocRejected     DocumentStatus = "rejected"
)

func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocCompleted, DocNeedsReview, DocFailed, DocCancelled, DocReviewed, DocRejected:
		return true
	}
	return false
}

// Stage names used for retry bookkeeping and error reporting.
const (
	StageSplit    = "split"
	StageClassify = "classify"
	StageExtract  = "extract"
)

// PageRange is a 1-based inclusive page span within the parent packet.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r PageRange) Pages() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Extraction is the structured output of the extract stage. Confidence is nil
// when consensus was disabled (a single run has nothing to agree with).
type Extraction struct {
	Fields      map[string]FieldValue `json:"fields"`
	Likelihoods map[string]float64    `json:"likelihoods,omitempty"`
	Confidence  *float64              `json:"confidence,omitempty"`
}

// CategoryOverride records a human reclassification. IsCustom means the
// category has no registered schema, so field filtering is skipped.
type CategoryOverride struct {
	Category string `json:"category"`
	IsCustom bool   `json:"is_custom"`
}

// Review reasons. A document can carry several at once; they union, none
// takes priority.
const (
	ReasonLowConfidence        = "low confidence"
	ReasonMissingCriticalField = "missing critical field"
)

// Document is one logical sub-document discovered by the split stage. It is
// owned by its parent packet and never outlives it.
type Document struct {
	ID             string                `json:"id"`
	PacketID       string                `json:"packet_id"`
	Pages          PageRange             `json:"pages"`
	SplitType      string                `json:"split_type,omitempty"`
	Classification *Classification       `json:"classification,omitempty"`
	Extraction     *Extraction           `json:"extraction,omitempty"`
	Status         DocumentStatus        `json:"status"`
	NeedsReview    bool                  `json:"needs_review"`
	ReviewReasons  []string              `json:"review_reasons,omitempty"`
	Override       *CategoryOverride     `json:"category_override,omitempty"`
	EditedFields   map[string]FieldValue `json:"edited_fields,omitempty"`
	ReviewedBy     string                `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time            `json:"reviewed_at,omitempty"`
	LastError      string                `json:"last_error,omitempty"`
	// FailedStage records which stage failed so a retry re-runs only that
	// stage, never the whole packet's split.
	FailedStage string `json:"failed_stage,omitempty"`
}

// Category returns the effective category: the human override when set,
// otherwise the classifier's answer.
func (d *Document) Category() string {
	if d.Override != nil {
		return d.Override.Category
	}
	if d.Classification != nil {
		return d.Classification.Category
	}
	return ""
}

// Usage accumulates model cost across stage calls. Additive only; the
// orchestrator serializes writes under its own lock.
type Usage struct {
	Model     string  `json:"model,omitempty"`
	Consensus int     `json:"consensus,omitempty"`
	Pages     int     `json:"pages"`
	Credits   float64 `json:"credits"`
	Dollars   float64 `json:"dollars"`
}

func (u *Usage) Add(other Usage) {
	if other.Model != "" {
		u.Model = other.Model
	}
	if other.Consensus > u.Consensus {
		u.Consensus = other.Consensus
	}
	u.Pages += other.Pages
	u.Credits += other.Credits
	u.Dollars += other.Dollars
}

type Progress struct {
	DocIndex  int `json:"doc_index"`
	TotalDocs int `json:"total_docs"`
}

// Packet is one uploaded PDF and the documents discovered inside it.
type Packet struct {
	ID          string       `json:"id"`
	Filename    string       `json:"filename"`
	ByteSize    int64        `json:"byte_size"`
	PageCount   int          `json:"page_count"`
	UploadedAt  time.Time    `json:"uploaded_at"`
	Status      PacketStatus `json:"status"`
	Documents   []*Document  `json:"documents"`
	Error       string       `json:"error,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Usage       Usage        `json:"usage"`
	Progress    Progress     `json:"progress"`
}

// AggregateStatus folds document states into a packet status once processing
// has begun. The precedence when every document is terminal: any document
// needing review wins, then any failure, then completed. While at least one
// document is still in flight the packet stays in EXTRACTING.
func AggregateStatus(docs []*Document) PacketStatus {
	if len(docs) == 0 {
		return PacketFailed
	}
	anyReview := false
	anyFailed := false
	for _, d := range docs {
		if !d.Status.Terminal() {
			return PacketExtracting
		}
		switch d.Status {
		case DocNeedsReview:
			anyReview = true
		case DocFailed, DocCancelled, DocRejected:
			anyFailed = true
		}
		if d.NeedsReview && d.Status != DocReviewed && d.Status != DocRejected {
			anyReview = true
		}
	}
	if anyReview {
		return PacketNeedsReview
	}
	if anyFailed {
		return PacketFailed
	}
	return PacketCompleted
}
