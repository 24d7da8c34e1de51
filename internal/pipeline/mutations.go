package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dleary/packetflow/internal/packet"
	"github.com/dleary/packetflow/internal/quality"
	"github.com/dleary/packetflow/internal/review"
	"github.com/dleary/packetflow/internal/schemas"
)

// Mutation entry points exposed to external collaborators (HTTP API, CLI).
// Each validates against current state under the lock, then hands any
// long-running work to a goroutine so callers return promptly.

var ErrNotFound = fmt.Errorf("not found")

// StateError reports a mutation rejected because its target is not in a
// state that allows it. The HTTP layer maps it to 409.
type StateError struct{ Msg string }

func (e *StateError) Error() string { return e.Msg }

func stateErrorf(format string, args ...any) error {
	return &StateError{Msg: fmt.Sprintf(format, args...)}
}

func (o *Orchestrator) lookup(packetID string) (*run, error) {
	r, ok := o.runs[packetID]
	if !ok {
		return nil, fmt.Errorf("packet %s: %w", packetID, ErrNotFound)
	}
	return r, nil
}

func (o *Orchestrator) lookupDocument(r *run, docID string) (*packet.Document, error) {
	for _, d := range r.p.Documents {
		if d.ID == docID {
			return d, nil
		}
	}
	return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
}

// RetryPacket re-queues a failed packet. A packet that failed at split
// re-runs from scratch; otherwise only its failed or cancelled documents
// re-run, each from its own failed stage. Succeeded documents are never
// resubmitted.
func (o *Orchestrator) RetryPacket(ctx context.Context, packetID string) error {
	o.mu.Lock()
	r, err := o.lookup(packetID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if r.p.Status != packet.PacketFailed {
		o.mu.Unlock()
		return stateErrorf("packet %s is %s, only failed packets can be retried", packetID, r.p.Status)
	}
	if r.active {
		o.mu.Unlock()
		return stateErrorf("packet %s is still processing", packetID)
	}
	r.active = true
	r.p.Error = ""
	r.p.CompletedAt = nil

	fullRun := len(r.p.Documents) == 0
	var retryDocs []*packet.Document
	var retryStages []string
	if !fullRun {
		for _, d := range r.p.Documents {
			if d.Status == packet.DocFailed || d.Status == packet.DocCancelled {
				stage, prepErr := prepareRetry(d)
				if prepErr != nil {
					o.mu.Unlock()
					return prepErr
				}
				r.p.Progress.DocIndex--
				retryDocs = append(retryDocs, d)
				retryStages = append(retryStages, stage)
			}
		}
	}
	r.p.Status = packet.PacketQueued
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	o.mu.Unlock()
	o.emit(Event{Type: EventPacketStatus, PacketID: packetID, Status: string(packet.PacketQueued)})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if fullRun {
			o.process(runCtx, r)
			return
		}
		o.setPacketStatus(r, packet.PacketExtracting)
		eg, egCtx := errgroup.WithContext(runCtx)
		for i, d := range retryDocs {
			skipClassify := retryStages[i] == packet.StageExtract
			eg.Go(func() error {
				o.processDocument(egCtx, r, d, skipClassify)
				return nil
			})
		}
		_ = eg.Wait()
		o.finalize(runCtx, r)
	}()
	return nil
}

// RetryDocument re-runs one document's failed stage with its original page
// range. It never re-runs the packet's split.
func (o *Orchestrator) RetryDocument(ctx context.Context, packetID, docID string) error {
	o.mu.Lock()
	r, err := o.lookup(packetID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	d, err := o.lookupDocument(r, docID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	stage, err := prepareRetry(d)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	r.p.Progress.DocIndex--
	r.p.Status = packet.PacketExtracting
	r.p.CompletedAt = nil
	r.active = true
	skipClassify := stage == packet.StageExtract
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	o.mu.Unlock()
	o.emit(Event{Type: EventDocumentStatus, PacketID: packetID, DocumentID: docID, Status: string(packet.DocRetrying)})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.processDocument(runCtx, r, d, skipClassify)
		o.finalize(runCtx, r)
	}()
	return nil
}

// ApproveReview records human sign-off with optional corrections and
// recomputes the packet's aggregate status.
func (o *Orchestrator) ApproveReview(ctx context.Context, packetID, docID, reviewer string, corrections map[string]packet.FieldValue) error {
	o.mu.Lock()
	r, err := o.lookup(packetID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	d, err := o.lookupDocument(r, docID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	effective := o.effectiveSchema(d)
	if err := review.Approve(d, corrections, reviewer, o.clock(), effective); err != nil {
		o.mu.Unlock()
		return err
	}
	o.recomputeAggregateLocked(r)
	o.mu.Unlock()
	o.emit(Event{Type: EventDocumentStatus, PacketID: packetID, DocumentID: docID, Status: string(packet.DocReviewed)})
	o.persist(ctx, r)
	return nil
}

// RejectReview marks a document unusable after human inspection.
func (o *Orchestrator) RejectReview(ctx context.Context, packetID, docID, reviewer string) error {
	o.mu.Lock()
	r, err := o.lookup(packetID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	d, err := o.lookupDocument(r, docID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if err := review.Reject(d, reviewer, o.clock()); err != nil {
		o.mu.Unlock()
		return err
	}
	o.recomputeAggregateLocked(r)
	o.mu.Unlock()
	o.emit(Event{Type: EventDocumentStatus, PacketID: packetID, DocumentID: docID, Status: string(packet.DocRejected)})
	o.persist(ctx, r)
	return nil
}

// Reclassify sets a human category override. Extraction is not re-run; the
// merge layer restricts visible fields to the override schema.
func (o *Orchestrator) Reclassify(ctx context.Context, packetID, docID, category string, isCustom bool) error {
	o.mu.Lock()
	r, err := o.lookup(packetID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	d, err := o.lookupDocument(r, docID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if !isCustom {
		if _, ok := o.cfg.Registry.Get(category); !ok {
			o.mu.Unlock()
			return fmt.Errorf("category %q has no registered schema; reclassify as custom instead", category)
		}
	}
	var target *schemas.Schema
	if s, ok := o.cfg.Registry.Get(category); ok {
		target = &s
	}
	if err := review.Reclassify(d, category, isCustom, target); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()
	o.emit(Event{Type: EventDocumentStatus, PacketID: packetID, DocumentID: docID, Status: string(d.Status), Message: "reclassified to " + category})
	o.persist(ctx, r)
	return nil
}

// CancelPacket stops a packet's in-flight stage calls and marks documents
// that never started as cancelled. Other packets are untouched.
func (o *Orchestrator) CancelPacket(packetID string) error {
	o.mu.Lock()
	r, err := o.lookup(packetID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	cancel := r.cancel
	for _, d := range r.p.Documents {
		if d.Status == packet.DocPending {
			d.Status = packet.DocCancelled
			d.LastError = "cancelled"
		}
	}
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// RemovePacket cancels and forgets a packet. Its documents go with it.
func (o *Orchestrator) RemovePacket(ctx context.Context, packetID string) error {
	if err := o.CancelPacket(packetID); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.runs, packetID)
	for i, id := range o.order {
		if id == packetID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	o.mu.Unlock()
	if o.cfg.History != nil {
		if err := o.cfg.History.Delete(ctx, packetID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) recomputeAggregateLocked(r *run) {
	if !r.active {
		r.p.Status = packet.AggregateStatus(r.p.Documents)
	}
}

func (o *Orchestrator) effectiveSchema(d *packet.Document) *schemas.Schema {
	if s, ok := o.cfg.Registry.Effective(d); ok {
		return &s
	}
	return nil
}

// Snapshot returns deep copies of every live packet in admission order.
func (o *Orchestrator) Snapshot() []packet.PacketSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]packet.PacketSnapshot, 0, len(o.order))
	for _, id := range o.order {
		if r, ok := o.runs[id]; ok {
			out = append(out, r.p.Snapshot())
		}
	}
	return out
}

// Get returns one packet's snapshot.
func (o *Orchestrator) Get(packetID string) (packet.PacketSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, err := o.lookup(packetID)
	if err != nil {
		return packet.PacketSnapshot{}, err
	}
	return r.p.Snapshot(), nil
}

// Trust exposes the trust assessment for one document under its effective
// schema, for consumers that render scores.
func (o *Orchestrator) Trust(packetID, docID string) (quality.TrustAssessment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, err := o.lookup(packetID)
	if err != nil {
		return quality.TrustAssessment{}, err
	}
	d, err := o.lookupDocument(r, docID)
	if err != nil {
		return quality.TrustAssessment{}, err
	}
	schema, ok := o.cfg.Registry.Effective(d)
	if !ok {
		schema, _ = o.cfg.Registry.Get(fallbackCategory)
	}
	return o.cfg.Scorer.Assess(d, schema), nil
}
