// Package pipeline drives packets through split, classify and extract. The
// Orchestrator owns all packet and document state; stage calls run outside
// its lock and re-enter to record results, so a slow remote call never
// blocks snapshots or mutations.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dleary/packetflow/internal/docapi"
	"github.com/dleary/packetflow/internal/history"
	"github.com/dleary/packetflow/internal/packet"
	"github.com/dleary/packetflow/internal/quality"
	"github.com/dleary/packetflow/internal/scheduler"
	"github.com/dleary/packetflow/internal/schemas"
)

const tracerName = "github.com/dleary/packetflow/internal/pipeline"

// fallbackCategory catches documents whose classified category has no
// registered schema.
const fallbackCategory = "other"

type Config struct {
	API      API
	Pool     *scheduler.Pool
	Registry *schemas.Registry
	Scorer   quality.Scorer
	// History receives finished packet snapshots. Nil disables persistence.
	History history.Store
	Run     RunConfig
	// PageCounter counts pages in an uploaded PDF. Defaults to pdfcpu-backed
	// counting; tests substitute a stub.
	PageCounter func(data []byte) (int, error)
	EventBuffer int
	Clock       func() time.Time
}

type run struct {
	p      *packet.Packet
	data   []byte
	cancel context.CancelFunc
	// active guards against two concurrent processing passes over one packet
	// (e.g. retry while the original run is still draining).
	active bool
}

type Orchestrator struct {
	cfg    Config
	exec   *StageExecutor
	clock  func() time.Time
	tracer trace.Tracer

	mu    sync.Mutex
	runs  map[string]*run
	order []string

	events chan Event
	wg     sync.WaitGroup
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.API == nil {
		return nil, errors.New("pipeline: API is required")
	}
	if cfg.Run.UseJobs {
		if _, ok := cfg.API.(JobAPI); !ok {
			return nil, errors.New("pipeline: UseJobs requires an API that supports the job protocol")
		}
	}
	if cfg.Registry == nil {
		return nil, errors.New("pipeline: schema registry is required")
	}
	if cfg.Pool == nil {
		cfg.Pool = scheduler.NewPool(scheduler.MaxConcurrency)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Scorer.ConfidenceThreshold <= 0 {
		cfg.Scorer.ConfidenceThreshold = cfg.Run.ConfidenceThreshold
	}
	return &Orchestrator{
		cfg:    cfg,
		exec:   NewStageExecutor(cfg.API, cfg.Pool, cfg.Run),
		clock:  cfg.Clock,
		tracer: otel.Tracer(tracerName),
		runs:   map[string]*run{},
		events: make(chan Event, cfg.EventBuffer),
	}, nil
}

// Events is the orchestrator's progress stream.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Wait blocks until every in-flight packet run has drained. Used on
// shutdown and in tests.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) emit(evt Event) {
	evt.Time = o.clock()
	select {
	case o.events <- evt:
	default:
	}
}

// Submit registers an uploaded PDF and queues it for processing. The
// returned id identifies the packet for every later call.
func (o *Orchestrator) Submit(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty upload")
	}
	pages := 0
	if o.cfg.PageCounter != nil {
		n, err := o.cfg.PageCounter(data)
		if err != nil {
			return "", fmt.Errorf("page count: %w", err)
		}
		if n == 0 {
			return "", errors.New("uploaded PDF has no pages")
		}
		pages = n
	}

	p := &packet.Packet{
		ID:         uuid.NewString(),
		Filename:   filename,
		ByteSize:   int64(len(data)),
		PageCount:  pages,
		UploadedAt: o.clock(),
		Status:     packet.PacketQueued,
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{p: p, data: data, cancel: cancel, active: true}

	o.mu.Lock()
	o.runs[p.ID] = r
	o.order = append(o.order, p.ID)
	o.mu.Unlock()

	o.emit(Event{Type: EventPacketStatus, PacketID: p.ID, Status: string(packet.PacketQueued)})
	log.Printf("packet %s queued file=%s bytes=%d pages=%d", p.ID, filename, len(data), pages)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.process(runCtx, r)
	}()
	return p.ID, nil
}

func (o *Orchestrator) setPacketStatus(r *run, status packet.PacketStatus) {
	o.mu.Lock()
	r.p.Status = status
	o.mu.Unlock()
	o.emit(Event{Type: EventPacketStatus, PacketID: r.p.ID, Status: string(status)})
}

func (o *Orchestrator) failPacket(r *run, msg string) {
	now := o.clock()
	o.mu.Lock()
	r.p.Status = packet.PacketFailed
	r.p.Error = msg
	r.p.CompletedAt = &now
	r.active = false
	o.mu.Unlock()
	o.emit(Event{Type: EventPacketStatus, PacketID: r.p.ID, Status: string(packet.PacketFailed), Message: msg})
	log.Printf("packet %s failed: %s", r.p.ID, msg)
}

// process runs a packet from split to completion.
func (o *Orchestrator) process(ctx context.Context, r *run) {
	ctx, span := o.tracer.Start(ctx, "pipeline.packet",
		trace.WithAttributes(attribute.String("packet_id", r.p.ID)))
	defer span.End()

	now := o.clock()
	o.mu.Lock()
	r.p.StartedAt = &now
	r.p.Error = ""
	o.mu.Unlock()
	o.setPacketStatus(r, packet.PacketSplitting)

	segments, err := o.exec.RunSplit(ctx, r.data, func(retryErr error) {
		o.setPacketStatus(r, packet.PacketRetrying)
		o.emit(Event{Type: EventStageRetry, PacketID: r.p.ID, Stage: packet.StageSplit, Message: retryErr.Error()})
		o.setPacketStatus(r, packet.PacketSplitting)
	})
	if err != nil {
		o.failPacket(r, "split: "+err.Error())
		o.persist(ctx, r)
		return
	}
	if len(segments) == 0 {
		o.failPacket(r, "split returned no documents")
		o.persist(ctx, r)
		return
	}

	o.mu.Lock()
	r.p.Usage.Add(usageFor(o.exec.cfg.Model, r.p.PageCount, 1))
	r.p.Documents = make([]*packet.Document, 0, len(segments))
	for _, seg := range segments {
		r.p.Documents = append(r.p.Documents, &packet.Document{
			ID:        uuid.NewString(),
			PacketID:  r.p.ID,
			Pages:     seg.Pages,
			SplitType: seg.SplitType,
			Status:    packet.DocPending,
		})
	}
	r.p.Progress = packet.Progress{DocIndex: 0, TotalDocs: len(r.p.Documents)}
	docs := append([]*packet.Document(nil), r.p.Documents...)
	o.mu.Unlock()
	o.setPacketStatus(r, packet.PacketClassifying)
	log.Printf("packet %s split into %d documents", r.p.ID, len(docs))

	o.runDocuments(ctx, r, docs, false)
	o.finalize(ctx, r)
}

// runDocuments processes documents concurrently. Within one document,
// classify always completes before extract begins; across documents the
// shared pool bounds concurrency. skipClassify re-runs extraction only, for
// single-stage retries.
func (o *Orchestrator) runDocuments(ctx context.Context, r *run, docs []*packet.Document, skipClassify bool) {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, d := range docs {
		eg.Go(func() error {
			o.processDocument(egCtx, r, d, skipClassify)
			return nil
		})
	}
	_ = eg.Wait()
}

func (o *Orchestrator) processDocument(ctx context.Context, r *run, d *packet.Document, skipClassify bool) {
	ctx, span := o.tracer.Start(ctx, "pipeline.document",
		trace.WithAttributes(attribute.String("document_id", d.ID)))
	defer span.End()

	if !skipClassify || d.Classification == nil {
		if !o.classifyDocument(ctx, r, d) {
			o.advanceProgress(r, d)
			return
		}
	}
	o.extractDocument(ctx, r, d)
	o.advanceProgress(r, d)
}

func (o *Orchestrator) classifyDocument(ctx context.Context, r *run, d *packet.Document) bool {
	o.mu.Lock()
	err := beginClassify(d)
	pages := d.Pages
	o.mu.Unlock()
	if err != nil {
		log.Printf("packet %s doc %s: %v", r.p.ID, d.ID, err)
		return false
	}
	o.emit(Event{Type: EventDocumentStatus, PacketID: r.p.ID, DocumentID: d.ID, Status: string(packet.DocClassifying)})

	cls, err := o.exec.RunClassify(ctx, r.data, o.cfg.Registry.Categories(), pages, func(retryErr error) {
		o.emit(Event{Type: EventStageRetry, PacketID: r.p.ID, DocumentID: d.ID, Stage: packet.StageClassify, Message: retryErr.Error()})
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		failDocument(d, packet.StageClassify, err)
		o.emitLocked(r, d)
		log.Printf("packet %s doc %s classify failed: %v", r.p.ID, d.ID, err)
		return false
	}
	completeClassify(d, cls)
	pageCount := d.Pages.Pages()
	if o.exec.cfg.FirstNPages < pageCount {
		pageCount = o.exec.cfg.FirstNPages
	}
	r.p.Usage.Add(usageFor(o.exec.cfg.Model, pageCount, 1))
	return true
}

func (o *Orchestrator) extractDocument(ctx context.Context, r *run, d *packet.Document) {
	o.mu.Lock()
	schema, ok := o.cfg.Registry.Effective(d)
	if !ok {
		schema, ok = o.cfg.Registry.Get(fallbackCategory)
	}
	if !ok {
		failDocument(d, packet.StageExtract, fmt.Errorf("no schema registered for category %q", d.Category()))
		o.emitLocked(r, d)
		o.mu.Unlock()
		return
	}
	if err := beginExtract(d); err != nil {
		o.mu.Unlock()
		log.Printf("packet %s doc %s: %v", r.p.ID, d.ID, err)
		return
	}
	pages := d.Pages
	o.mu.Unlock()
	o.emit(Event{Type: EventDocumentStatus, PacketID: r.p.ID, DocumentID: d.ID, Status: string(packet.DocExtracting)})

	res, err := o.exec.RunExtract(ctx, r.data, schema.JSONSchema(), pages, func(retryErr error) {
		o.emit(Event{Type: EventStageRetry, PacketID: r.p.ID, DocumentID: d.ID, Stage: packet.StageExtract, Message: retryErr.Error()})
	}, func(pct int) {
		o.emit(Event{Type: EventProgress, PacketID: r.p.ID, DocumentID: d.ID, Percent: pct})
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		failDocument(d, packet.StageExtract, err)
		o.emitLocked(r, d)
		log.Printf("packet %s doc %s extract failed: %v", r.p.ID, d.ID, err)
		return
	}

	// Unknown fields are clamped to the schema before anything downstream
	// sees them; the validator then confirms value shapes.
	clampToSchema(&res, schema)
	if err := o.cfg.Registry.Validate(schema.Category, res.Fields); err != nil {
		failDocument(d, packet.StageExtract, err)
		o.emitLocked(r, d)
		return
	}

	// Usage counts once per successful extraction, regardless of how many
	// transient attempts it took.
	usage := packet.Usage{
		Model:     o.exec.cfg.Model,
		Consensus: o.exec.cfg.Consensus,
		Pages:     res.Usage.Pages,
		Credits:   res.Usage.Credits,
		Dollars:   res.Usage.Dollars,
	}
	if usage.Credits == 0 {
		usage = usageFor(o.exec.cfg.Model, pages.Pages(), o.exec.cfg.Consensus)
	}
	r.p.Usage.Add(usage)

	preview := previewDoc(d, res)
	assessment := o.cfg.Scorer.Assess(&preview, schema)
	completeExtract(d, res, assessment)
	o.emitLocked(r, d)
}

// previewDoc builds the post-extraction view of the document so the scorer
// sees the result before the status transition commits.
func previewDoc(d *packet.Document, res docapi.ExtractResult) packet.Document {
	preview := *d
	preview.Extraction = &packet.Extraction{
		Fields:      res.Fields,
		Likelihoods: res.Likelihoods,
		Confidence:  res.Confidence,
	}
	return preview
}

func clampToSchema(res *docapi.ExtractResult, schema schemas.Schema) {
	for name := range res.Fields {
		if !schema.Has(name) {
			delete(res.Fields, name)
		}
	}
	for name := range res.Likelihoods {
		if !schema.Has(name) {
			delete(res.Likelihoods, name)
		}
	}
}

func (o *Orchestrator) emitLocked(r *run, d *packet.Document) {
	o.emit(Event{Type: EventDocumentStatus, PacketID: r.p.ID, DocumentID: d.ID, Status: string(d.Status), Message: d.LastError})
}

// advanceProgress bumps the packet's done counter when a document reaches a
// terminal state.
func (o *Orchestrator) advanceProgress(r *run, d *packet.Document) {
	o.mu.Lock()
	if d.Status.Terminal() {
		r.p.Progress.DocIndex++
	}
	progress := r.p.Progress
	o.mu.Unlock()
	o.emit(Event{Type: EventProgress, PacketID: r.p.ID, DocumentID: d.ID, Progress: progress})
}

// finalize folds document outcomes into the packet status and persists the
// snapshot.
func (o *Orchestrator) finalize(ctx context.Context, r *run) {
	now := o.clock()
	o.mu.Lock()
	r.p.Status = packet.AggregateStatus(r.p.Documents)
	if r.p.Status == packet.PacketFailed && r.p.Error == "" {
		r.p.Error = firstDocumentError(r.p.Documents)
	}
	r.p.CompletedAt = &now
	r.active = false
	status := r.p.Status
	o.mu.Unlock()

	o.emit(Event{Type: EventPacketStatus, PacketID: r.p.ID, Status: string(status)})
	log.Printf("packet %s finished status=%s", r.p.ID, status)
	o.persist(ctx, r)
}

func firstDocumentError(docs []*packet.Document) string {
	for _, d := range docs {
		if d.Status == packet.DocFailed && d.LastError != "" {
			return fmt.Sprintf("document %s %s failed: %s", d.ID, d.FailedStage, d.LastError)
		}
	}
	return ""
}

func (o *Orchestrator) persist(ctx context.Context, r *run) {
	if o.cfg.History == nil {
		return
	}
	o.mu.Lock()
	snap := r.p.Snapshot()
	o.mu.Unlock()
	if err := o.cfg.History.Save(ctx, snap); err != nil {
		log.Printf("packet %s history save failed: %v", r.p.ID, err)
	}
}
