package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/dleary/packetflow/internal/docapi"
	"github.com/dleary/packetflow/internal/history"
	"github.com/dleary/packetflow/internal/httpapi"
	"github.com/dleary/packetflow/internal/pdfinfo"
	"github.com/dleary/packetflow/internal/pipeline"
	"github.com/dleary/packetflow/internal/quality"
	"github.com/dleary/packetflow/internal/scheduler"
	"github.com/dleary/packetflow/internal/schemas"
)

func main() {
	listen := flag.String("listen", ":8090", "HTTP listen address")
	apiBase := flag.String("api-base", "http://localhost:8080", "Document API base URL")
	model := flag.String("model", "document-v1", "Extraction model")
	consensus := flag.Int("consensus", 1, "Consensus runs per extraction (1 disables)")
	dpi := flag.Int("dpi", 150, "Image DPI for page rendering")
	threshold := flag.Float64("confidence-threshold", quality.DefaultConfidenceThreshold, "Consensus confidence below which a document needs review")
	concurrency := flag.Int("concurrency", 4, "Concurrent stage calls (1-10)")
	useJobs := flag.Bool("use-jobs", false, "Run extractions through the async job queue")
	dbPath := flag.String("db", "packetflow.db", "History database path (empty disables)")
	flag.Parse()

	apiKey := os.Getenv("DOCAPI_KEY")
	if apiKey == "" {
		log.Fatal("DOCAPI_KEY not configured")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := setupTracing(ctx)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	}

	var store history.Store
	if *dbPath != "" {
		sqlStore, err := history.OpenSQLite(*dbPath)
		if err != nil {
			log.Fatalf("open history db: %v", err)
		}
		defer sqlStore.Close()
		store = sqlStore
	}

	registry, err := schemas.NewRegistry(schemas.Builtin()...)
	if err != nil {
		log.Fatalf("schema registry: %v", err)
	}

	orch, err := pipeline.New(pipeline.Config{
		API:      docapi.NewClient(docapi.Config{BaseURL: *apiBase, APIKey: apiKey}),
		Pool:     scheduler.NewPool(*concurrency),
		Registry: registry,
		Scorer:   quality.Scorer{ConfidenceThreshold: *threshold},
		History:  store,
		Run: pipeline.RunConfig{
			Model:               *model,
			Consensus:           *consensus,
			ImageDPI:            *dpi,
			ConfidenceThreshold: *threshold,
			UseJobs:             *useJobs,
		},
		PageCounter: pdfinfo.Count,
	})
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	go func() {
		for evt := range orch.Events() {
			log.Printf("event type=%s packet=%s doc=%s status=%s %s", evt.Type, evt.PacketID, evt.DocumentID, evt.Status, evt.Message)
		}
	}()

	srv := &http.Server{Addr: *listen, Handler: httpapi.NewServer(orch)}
	go func() {
		log.Printf("packetd listening on %s (api=%s concurrency=%d)", *listen, *apiBase, *concurrency)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	orch.Wait()
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
	log.Println("packetd stopped")
}

func setupTracing(ctx context.Context) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return nil, errors.New("OTEL_EXPORTER_OTLP_ENDPOINT not set")
	}
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("packetd"),
	))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
