package docapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dleary/packetflow/internal/packet"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "sk-test"})
}

func TestPostForwardsAPIKey(t *testing.T) {
	var gotKey, gotType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Api-Key")
		gotType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"segments":[{"pages":{"start":1,"end":2}}]}`))
	})
	if _, err := c.Split(context.Background(), SplitRequest{Document: []byte("%PDF"), Model: "document-v1"}); err != nil {
		t.Fatalf("split: %v", err)
	}
	if gotKey != "sk-test" {
		t.Fatalf("Api-Key header = %q", gotKey)
	}
	if gotType != "application/json" {
		t.Fatalf("Content-Type = %q", gotType)
	}
}

func TestClassifySendsPageRange(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"category":"deed","confidence":0.9}`))
	})
	req := ClassifyRequest{
		Document: []byte("%PDF"),
		Model:    "document-v1",
		Pages:    &packet.PageRange{Start: 5, End: 6},
	}
	if _, err := c.Classify(context.Background(), req); err != nil {
		t.Fatalf("classify: %v", err)
	}
	pages, ok := body["pages"].(map[string]any)
	if !ok {
		t.Fatalf("request body carries no page range: %v", body)
	}
	if pages["start"] != 5.0 || pages["end"] != 6.0 {
		t.Fatalf("pages = %v", pages)
	}
}

func TestValidationErrorIsNotRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"schema field type unknown"}`))
	})
	_, err := c.Classify(context.Background(), ClassifyRequest{Document: []byte("%PDF")})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type %T", err)
	}
	if apiErr.Code != CodeValidation || apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("wrong classification: %+v", apiErr)
	}
	if apiErr.Message != "schema field type unknown" {
		t.Fatalf("service message lost: %q", apiErr.Message)
	}
	if Retryable(err) {
		t.Fatal("validation failures must not be replayed")
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	})
	_, err := c.Extract(context.Background(), ExtractRequest{Document: []byte("%PDF")})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeTransient {
		t.Fatalf("502 should map to transient, got %v", err)
	}
	if !Retryable(err) {
		t.Fatal("5xx must be retryable")
	}
}

func TestPayloadTooLarge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		w.Write([]byte(`{"error":"document exceeds 100MB"}`))
	})
	_, err := c.Split(context.Background(), SplitRequest{Document: []byte("%PDF")})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodePayloadTooLarge {
		t.Fatalf("413 should map to payload_too_large, got %v", err)
	}
	if Retryable(err) {
		t.Fatal("an oversized payload does not shrink on retry")
	}
}

func TestRateLimitIsRetryable(t *testing.T) {
	err := errorFromStatus(http.StatusTooManyRequests, "slow down")
	var apiErr *Error
	if !errors.As(err, &apiErr) || !apiErr.Transient {
		t.Fatalf("429 should be transient, got %v", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	if Retryable(context.Canceled) {
		t.Fatal("cancellation is a caller decision, never retried")
	}
	if !Retryable(context.DeadlineExceeded) {
		t.Fatal("deadline expiry should be retried with a fresh budget")
	}
	if !Retryable(errors.New("read tcp: connection reset by peer")) {
		t.Fatal("unknown transport failures default to retryable")
	}
	if Retryable(nil) {
		t.Fatal("nil error is not retryable")
	}
}

func TestParseReturnsContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/documents/parse" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"content":"WARRANTY DEED\nKnow all men..."}`))
	})
	content, err := c.Parse(context.Background(), []byte("%PDF"), "document-v1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.HasPrefix(content, "WARRANTY DEED") {
		t.Fatalf("content = %q", content)
	}
}

func TestGenerateSchema(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"schema":{"type":"object","properties":{"plat_number":{"type":["string","null"]}}}}`))
	})
	schema, err := c.GenerateSchema(context.Background(), "survey_plat", "PLAT OF SURVEY")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("schema = %v", schema)
	}
}

func TestExtractConsensusGatesConfidence(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"parsed":{"grantor":"Alice"},"likelihoods":{"grantor":0.9},"confidence":0.87}`))
	})
	single, err := c.Extract(context.Background(), ExtractRequest{Document: []byte("%PDF"), Consensus: 1})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if single.Confidence != nil {
		t.Fatal("single-pass extraction must not report consensus confidence")
	}

	multi, err := c.Extract(context.Background(), ExtractRequest{Document: []byte("%PDF"), Consensus: 3})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if multi.Confidence == nil || *multi.Confidence != 0.87 {
		t.Fatalf("consensus confidence missing: %+v", multi.Confidence)
	}
}
