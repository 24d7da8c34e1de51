// Package docapi is the HTTP client for the remote document intelligence
// service. It knows request and response shapes for single documents and the
// job polling protocol; packets and scheduling live upstream of it.
package docapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dleary/packetflow/internal/packet"
)

const tracerName = "github.com/dleary/packetflow/internal/docapi"

type Config struct {
	BaseURL string
	// APIKey is forwarded on every request via the Api-Key header. It is
	// never logged.
	APIKey     string
	HTTPClient *http.Client

	// StreamInactivity aborts a streaming response when no frame arrives for
	// this long. Defaults to 60s.
	StreamInactivity time.Duration
	// PollInterval / PollMaxAttempts bound the async-job poll loop.
	// Defaults: 2s and 120 (about four minutes).
	PollInterval    time.Duration
	PollMaxAttempts int
}

type Client struct {
	cfg    Config
	http   *http.Client
	tracer trace.Tracer
}

func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.StreamInactivity <= 0 {
		cfg.StreamInactivity = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 120
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: cfg.HTTPClient, tracer: otel.Tracer(tracerName)}
}

type SplitRequest struct {
	Document    []byte
	SubdocTypes []string
	Model       string
	DPI         int
}

type SplitSegment struct {
	Pages     packet.PageRange `json:"pages"`
	SplitType string           `json:"split_type"`
}

type ClassifyRequest struct {
	Document    []byte
	Categories  []string
	Model       string
	FirstNPages int
	// Pages restricts classification to one document's page range within a
	// larger upload. Nil classifies from the start of the bytes.
	Pages *packet.PageRange
}

type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type ExtractRequest struct {
	Document     []byte
	Schema       map[string]any
	Model        string
	Temperature  float64
	Consensus    int
	DPI          int
	Stream       bool
	ChunkingKeys []string
	Pages        *packet.PageRange
}

// Usage is the per-call cost the service reports.
type Usage struct {
	Pages   int     `json:"pages"`
	Credits float64 `json:"credits"`
	Dollars float64 `json:"dollars"`
}

// ExtractResult is the normalized extraction output. Confidence is nil when
// the service ran a single pass (no consensus to measure).
type ExtractResult struct {
	Fields      map[string]packet.FieldValue
	Likelihoods map[string]float64
	Confidence  *float64
	Usage       Usage
}

// Split partitions a document's pages into logical sub-documents.
func (c *Client) Split(ctx context.Context, req SplitRequest) ([]SplitSegment, error) {
	ctx, span := c.tracer.Start(ctx, "docapi.split",
		trace.WithAttributes(attribute.String("model", req.Model)))
	defer span.End()

	body := map[string]any{
		"document":     base64.StdEncoding.EncodeToString(req.Document),
		"subdoc_types": req.SubdocTypes,
		"model":        req.Model,
	}
	if req.DPI > 0 {
		body["image_dpi"] = req.DPI
	}
	blob, err := c.post(ctx, "/documents/split", body)
	if err != nil {
		return nil, spanErr(span, err)
	}
	segments, err := normalizeSplit(blob)
	if err != nil {
		return nil, spanErr(span, err)
	}
	span.SetAttributes(attribute.Int("segments", len(segments)))
	return segments, nil
}

// Classify assigns the document a category from the supplied set.
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (Classification, error) {
	ctx, span := c.tracer.Start(ctx, "docapi.classify",
		trace.WithAttributes(attribute.String("model", req.Model)))
	defer span.End()

	body := map[string]any{
		"document":   base64.StdEncoding.EncodeToString(req.Document),
		"categories": req.Categories,
		"model":      req.Model,
	}
	if req.FirstNPages > 0 {
		body["first_n_pages"] = req.FirstNPages
	}
	if req.Pages != nil {
		body["pages"] = req.Pages
	}
	blob, err := c.post(ctx, "/documents/classify", body)
	if err != nil {
		return Classification{}, spanErr(span, err)
	}
	cls, err := normalizeClassification(blob)
	if err != nil {
		return Classification{}, spanErr(span, err)
	}
	span.SetAttributes(attribute.String("category", cls.Category))
	return cls, nil
}

// Extract pulls structured fields from the document using the supplied
// schema. With req.Stream the response arrives as an SSE stream that is
// accumulated into one final payload.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	ctx, span := c.tracer.Start(ctx, "docapi.extract", trace.WithAttributes(
		attribute.String("model", req.Model),
		attribute.Int("consensus", req.Consensus),
		attribute.Bool("stream", req.Stream)))
	defer span.End()

	body := extractBody(req)
	if req.Stream {
		body["stream"] = true
	}

	var blob []byte
	var err error
	if req.Stream {
		blob, err = c.postStream(ctx, "/documents/extract", body)
	} else {
		blob, err = c.post(ctx, "/documents/extract", body)
	}
	if err != nil {
		return ExtractResult{}, spanErr(span, err)
	}
	res, err := normalizeExtraction(blob, req.Consensus)
	if err != nil {
		return ExtractResult{}, spanErr(span, err)
	}
	span.SetAttributes(attribute.Int("fields", len(res.Fields)))
	return res, nil
}

// extractBody builds the extraction request payload shared by the
// synchronous, streaming and job-based paths.
func extractBody(req ExtractRequest) map[string]any {
	body := map[string]any{
		"document":    base64.StdEncoding.EncodeToString(req.Document),
		"schema":      req.Schema,
		"model":       req.Model,
		"temperature": req.Temperature,
		"n_consensus": req.Consensus,
	}
	if req.DPI > 0 {
		body["image_dpi"] = req.DPI
	}
	if len(req.ChunkingKeys) > 0 {
		body["chunking_keys"] = req.ChunkingKeys
	}
	if req.Pages != nil {
		body["pages"] = req.Pages
	}
	return body
}

// Parse returns the document's raw text content.
func (c *Client) Parse(ctx context.Context, doc []byte, model string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "docapi.parse")
	defer span.End()

	blob, err := c.post(ctx, "/documents/parse", map[string]any{
		"document": base64.StdEncoding.EncodeToString(doc),
		"model":    model,
	})
	if err != nil {
		return "", spanErr(span, err)
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(blob, &out); err != nil {
		return "", spanErr(span, newValidationError(0, "parse response: "+err.Error()))
	}
	return out.Content, nil
}

// GenerateSchema asks the service to draft an extraction schema for a
// category given sample text.
func (c *Client) GenerateSchema(ctx context.Context, category, sample string) (map[string]any, error) {
	ctx, span := c.tracer.Start(ctx, "docapi.generate_schema")
	defer span.End()

	blob, err := c.post(ctx, "/schemas/generate", map[string]any{
		"category": category,
		"sample":   sample,
	})
	if err != nil {
		return nil, spanErr(span, err)
	}
	var out struct {
		Schema map[string]any `json:"schema"`
	}
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, spanErr(span, newValidationError(0, "schema response: "+err.Error()))
	}
	return out.Schema, nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	blob, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, errorFromStatus(resp.StatusCode, errorMessage(payload, resp.StatusCode))
	}
	return payload, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Api-Key", c.cfg.APIKey)
	}
}

// errorMessage pulls the service's own message out of an error body so the
// user sees the original text, not a generic status line.
func errorMessage(payload []byte, status int) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		for _, m := range []string{body.Message, body.Error, body.Detail} {
			if strings.TrimSpace(m) != "" {
				return m
			}
		}
	}
	return http.StatusText(status)
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
