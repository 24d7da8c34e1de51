package pipeline

import (
	"time"

	"github.com/dleary/packetflow/internal/packet"
)

type EventType string

const (
	EventPacketStatus   EventType = "packet_status"
	EventDocumentStatus EventType = "document_status"
	EventStageRetry     EventType = "stage_retry"
	EventProgress       EventType = "progress"
)

// Event is one entry on the orchestrator's progress stream. Consumers (UI,
// log tails) subscribe via Events(); the pipeline never blocks on them — a
// full buffer drops events rather than stalling a stage.
type Event struct {
	Type       EventType       `json:"type"`
	PacketID   string          `json:"packet_id"`
	DocumentID string          `json:"document_id,omitempty"`
	Stage      string          `json:"stage,omitempty"`
	Status     string          `json:"status,omitempty"`
	Message    string          `json:"message,omitempty"`
	Progress   packet.Progress `json:"progress,omitempty"`
	// Percent carries the coarse job-poll percentage for async extractions.
	Percent int `json:"percent,omitempty"`
	Time       time.Time       `json:"time"`
}
