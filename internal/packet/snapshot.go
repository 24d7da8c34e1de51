package packet

import "time"

// Snapshot types are deep copies handed to external consumers (HTTP API,
// history store, report renderer). Mutating a snapshot never touches live
// pipeline state.

type DocumentSnapshot struct {
	ID             string                `json:"id"`
	Pages          PageRange             `json:"pages"`
	SplitType      string                `json:"split_type,omitempty"`
	Status         DocumentStatus        `json:"status"`
	Classification *Classification       `json:"classification,omitempty"`
	Extraction     *Extraction           `json:"extraction,omitempty"`
	EditedFields   map[string]FieldValue `json:"edited_fields,omitempty"`
	NeedsReview    bool                  `json:"needs_review"`
	ReviewReasons  []string              `json:"review_reasons,omitempty"`
	Override       *CategoryOverride     `json:"category_override,omitempty"`
	ReviewedBy     string                `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time            `json:"reviewed_at,omitempty"`
	LastError      string                `json:"last_error,omitempty"`
	FailedStage    string                `json:"failed_stage,omitempty"`
}

type PacketSnapshot struct {
	ID          string             `json:"id"`
	Filename    string             `json:"filename"`
	ByteSize    int64              `json:"byte_size"`
	PageCount   int                `json:"page_count"`
	UploadedAt  time.Time          `json:"uploaded_at"`
	Status      PacketStatus       `json:"status"`
	Documents   []DocumentSnapshot `json:"documents"`
	Error       string             `json:"error,omitempty"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Usage       Usage              `json:"usage"`
	Progress    Progress           `json:"progress"`
}

func copyFields(src map[string]FieldValue) map[string]FieldValue {
	if src == nil {
		return nil
	}
	out := make(map[string]FieldValue, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func copyLikelihoods(src map[string]float64) map[string]float64 {
	if src == nil {
		return nil
	}
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (d *Document) Snapshot() DocumentSnapshot {
	snap := DocumentSnapshot{
		ID:            d.ID,
		Pages:         d.Pages,
		SplitType:     d.SplitType,
		Status:        d.Status,
		EditedFields:  copyFields(d.EditedFields),
		NeedsReview:   d.NeedsReview,
		ReviewReasons: append([]string(nil), d.ReviewReasons...),
		ReviewedBy:    d.ReviewedBy,
		ReviewedAt:    copyTime(d.ReviewedAt),
		LastError:     d.LastError,
		FailedStage:   d.FailedStage,
	}
	if d.Classification != nil {
		c := *d.Classification
		snap.Classification = &c
	}
	if d.Extraction != nil {
		ext := Extraction{
			Fields:      copyFields(d.Extraction.Fields),
			Likelihoods: copyLikelihoods(d.Extraction.Likelihoods),
		}
		if d.Extraction.Confidence != nil {
			conf := *d.Extraction.Confidence
			ext.Confidence = &conf
		}
		snap.Extraction = &ext
	}
	if d.Override != nil {
		o := *d.Override
		snap.Override = &o
	}
	return snap
}

func (p *Packet) Snapshot() PacketSnapshot {
	snap := PacketSnapshot{
		ID:          p.ID,
		Filename:    p.Filename,
		ByteSize:    p.ByteSize,
		PageCount:   p.PageCount,
		UploadedAt:  p.UploadedAt,
		Status:      p.Status,
		Error:       p.Error,
		StartedAt:   copyTime(p.StartedAt),
		CompletedAt: copyTime(p.CompletedAt),
		Usage:       p.Usage,
		Progress:    p.Progress,
	}
	snap.Documents = make([]DocumentSnapshot, 0, len(p.Documents))
	for _, d := range p.Documents {
		snap.Documents = append(snap.Documents, d.Snapshot())
	}
	return snap
}
