// packet-run pushes a single PDF through the full pipeline against a live
// Document API and prints the per-document results. Smoke-testing tool; the
// long-running service is cmd/packetd.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dleary/packetflow/internal/docapi"
	"github.com/dleary/packetflow/internal/pdfinfo"
	"github.com/dleary/packetflow/internal/pipeline"
	"github.com/dleary/packetflow/internal/quality"
	"github.com/dleary/packetflow/internal/report"
	"github.com/dleary/packetflow/internal/scheduler"
	"github.com/dleary/packetflow/internal/schemas"
)

func main() {
	apiBase := flag.String("api-base", "http://localhost:8080", "Document API base URL")
	model := flag.String("model", "document-v1", "Extraction model")
	consensus := flag.Int("consensus", 1, "Consensus runs per extraction")
	concurrency := flag.Int("concurrency", 4, "Concurrent stage calls (1-10)")
	useJobs := flag.Bool("use-jobs", false, "Run extractions through the async job queue")
	reportPath := flag.String("report", "", "Write a review report PDF to this path")
	timeout := flag.Duration("timeout", 15*time.Minute, "Overall processing timeout")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: packet-run [flags] <packet.pdf>")
	}
	path := flag.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}

	apiKey := os.Getenv("DOCAPI_KEY")
	if apiKey == "" {
		log.Fatal("DOCAPI_KEY not configured")
	}

	registry, err := schemas.NewRegistry(schemas.Builtin()...)
	if err != nil {
		log.Fatalf("schema registry: %v", err)
	}
	scorer := quality.Scorer{}
	orch, err := pipeline.New(pipeline.Config{
		API:      docapi.NewClient(docapi.Config{BaseURL: *apiBase, APIKey: apiKey}),
		Pool:     scheduler.NewPool(*concurrency),
		Registry: registry,
		Scorer:   scorer,
		Run: pipeline.RunConfig{
			Model:     *model,
			Consensus: *consensus,
			UseJobs:   *useJobs,
		},
		PageCounter: pdfinfo.Count,
	})
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	go func() {
		for evt := range orch.Events() {
			if evt.Message != "" {
				log.Printf("%s %s %s: %s", evt.Type, evt.Stage, evt.Status, evt.Message)
			} else {
				log.Printf("%s packet=%s doc=%s status=%s", evt.Type, evt.PacketID, evt.DocumentID, evt.Status)
			}
		}
	}()

	id, err := orch.Submit(ctx, filepath.Base(path), data)
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	orch.Wait()

	snap, err := orch.Get(id)
	if err != nil {
		log.Fatalf("snapshot: %v", err)
	}
	blob, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(blob))

	if *reportPath != "" {
		md := report.BuildMarkdown(snap, registry, scorer)
		pdf, err := report.NewPDFRenderer().Render(ctx, md)
		if err != nil {
			log.Fatalf("render report: %v", err)
		}
		if err := os.WriteFile(*reportPath, pdf, 0o644); err != nil {
			log.Fatalf("write report: %v", err)
		}
		log.Printf("report written to %s", *reportPath)
	}
}
