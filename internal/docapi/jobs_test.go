package docapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dleary/packetflow/internal/packet"
)

func jobServer(t *testing.T, statuses []string, result string) (*Client, *atomic.Int64) {
	t.Helper()
	var polls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"job_id":"job-1"}`)
	})
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := int(polls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		status := JobStatus{JobID: r.PathValue("id"), Status: statuses[n]}
		if statuses[n] == JobCompleted {
			status.Result = json.RawMessage(result)
		}
		if statuses[n] == JobFailed {
			status.Error = "ran out of pages"
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:         srv.URL,
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 10,
	}), &polls
}

func TestPollJobCompletes(t *testing.T) {
	c, _ := jobServer(t, []string{JobValidating, JobQueued, JobProcessing, JobCompleted}, `{"parsed":{}}`)

	id, err := c.CreateJob(context.Background(), "/documents/extract", map[string]any{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var progress []int
	result, err := c.PollJob(context.Background(), id, func(pct int) { progress = append(progress, pct) })
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if string(result) != `{"parsed":{}}` {
		t.Fatalf("result = %s", result)
	}
	if len(progress) < 4 || progress[0] != 10 || progress[1] != 20 || progress[len(progress)-1] != 100 {
		t.Fatalf("progress sequence %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress regressed: %v", progress)
		}
	}
}

func TestPollJobTerminalFailure(t *testing.T) {
	c, polls := jobServer(t, []string{JobProcessing, JobFailed}, "")
	_, err := c.PollJob(context.Background(), "job-1", nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeJobTerminal {
		t.Fatalf("expected job_terminal, got %v", err)
	}
	if Retryable(err) {
		t.Fatal("a terminal job must not be re-polled")
	}
	if polls.Load() != 2 {
		t.Fatalf("polled %d times after terminal status", polls.Load())
	}
}

func TestPollJobExhaustsBudget(t *testing.T) {
	c, polls := jobServer(t, []string{JobProcessing}, "")
	_, err := c.PollJob(context.Background(), "job-1", nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeTransient {
		t.Fatalf("budget exhaustion should be transient, got %v", err)
	}
	if polls.Load() != 10 {
		t.Fatalf("expected exactly 10 polls, got %d", polls.Load())
	}
}

func TestPollJobStopsOnCancel(t *testing.T) {
	c, _ := jobServer(t, []string{JobProcessing}, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.PollJob(ctx, "job-1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExtractJobPollsToCompletion(t *testing.T) {
	var created struct {
		Endpoint string         `json:"endpoint"`
		Body     map[string]any `json:"body"`
	}
	var polls atomic.Int64
	statuses := []string{JobQueued, JobProcessing, JobCompleted}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
			t.Errorf("decode job request: %v", err)
		}
		fmt.Fprint(w, `{"job_id":"job-9"}`)
	})
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := int(polls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		status := JobStatus{JobID: r.PathValue("id"), Status: statuses[n]}
		if statuses[n] == JobCompleted {
			status.Result = json.RawMessage(`{"parsed":{"grantor":"Alice"},"likelihoods":{"grantor":0.9}}`)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, PollInterval: time.Millisecond, PollMaxAttempts: 10})

	var progress []int
	res, err := c.ExtractJob(context.Background(), ExtractRequest{
		Document:  []byte("%PDF"),
		Model:     "document-v1",
		Consensus: 1,
		Pages:     &packet.PageRange{Start: 3, End: 4},
	}, func(pct int) { progress = append(progress, pct) })
	if err != nil {
		t.Fatalf("extract job: %v", err)
	}
	if v, _ := res.Fields["grantor"].Value(); v != "Alice" {
		t.Fatalf("fields = %v", res.Fields)
	}
	if created.Endpoint != "/documents/extract" {
		t.Fatalf("job endpoint = %q", created.Endpoint)
	}
	if _, ok := created.Body["pages"]; !ok {
		t.Fatalf("job body lost the page range: %v", created.Body)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("progress = %v", progress)
	}
}

func TestJobProgressMapping(t *testing.T) {
	cases := []struct {
		status  string
		attempt int
		want    int
	}{
		{JobValidating, 1, 10},
		{JobQueued, 3, 20},
		{JobProcessing, 1, 40},
		{JobProcessing, 60, 60},
		{JobProcessing, 120, 80},
		{JobCompleted, 5, 100},
		{"unknown", 1, 0},
	}
	for _, tc := range cases {
		if got := jobProgress(tc.status, tc.attempt, 120); got != tc.want {
			t.Fatalf("jobProgress(%s, %d) = %d, want %d", tc.status, tc.attempt, got, tc.want)
		}
	}
}
