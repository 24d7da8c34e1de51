package docapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Job statuses reported by GET /jobs/:id. Only completed succeeds; failed,
// cancelled and expired are each terminal.
const (
	JobValidating = "validating"
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
	JobExpired    = "expired"
)

type JobStatus struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// CreateJob submits an async job against the given service endpoint and
// returns its id.
func (c *Client) CreateJob(ctx context.Context, endpoint string, body map[string]any) (string, error) {
	ctx, span := c.tracer.Start(ctx, "docapi.create_job",
		trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	payload := map[string]any{"endpoint": endpoint, "body": body}
	blob, err := c.post(ctx, "/jobs", payload)
	if err != nil {
		return "", spanErr(span, err)
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(blob, &out); err != nil || out.JobID == "" {
		return "", spanErr(span, newValidationError(0, "job response missing job_id"))
	}
	span.SetAttributes(attribute.String("job_id", out.JobID))
	return out.JobID, nil
}

func (c *Client) GetJobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return JobStatus{}, err
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return JobStatus{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return JobStatus{}, errorFromStatus(resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return JobStatus{}, newValidationError(0, "job status decode: "+err.Error())
	}
	return status, nil
}

// PollJob polls a job to completion. onProgress, when non-nil, receives a
// coarse percentage derived from the reported status: validating 10%,
// queued 20%, processing climbing 40-80% with attempts, completed 100%.
// Exhausting the attempt budget surfaces as a transient timeout so the
// caller's retry policy applies.
func (c *Client) PollJob(ctx context.Context, jobID string, onProgress func(pct int)) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "docapi.poll_job",
		trace.WithAttributes(attribute.String("job_id", jobID)))
	defer span.End()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.cfg.PollMaxAttempts; attempt++ {
		status, err := c.GetJobStatus(ctx, jobID)
		if err != nil {
			if !Retryable(err) {
				return nil, spanErr(span, err)
			}
			// Transient status-check failure: keep polling, the job itself
			// may be fine.
		} else {
			if onProgress != nil {
				onProgress(jobProgress(status.Status, attempt, c.cfg.PollMaxAttempts))
			}
			switch status.Status {
			case JobCompleted:
				return status.Result, nil
			case JobFailed, JobCancelled, JobExpired:
				return nil, spanErr(span, newJobTerminalError(status.Status, status.Error))
			}
		}
		select {
		case <-ctx.Done():
			return nil, spanErr(span, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil, spanErr(span, newTransientError(0, "job polling exhausted attempt budget"))
}

// ExtractJob runs an extraction through the async job queue: the request is
// accepted immediately with POST /jobs and polled to completion. Long
// consensus runs survive load-balancer idle timeouts this way; onProgress
// receives the coarse percentage for each poll.
func (c *Client) ExtractJob(ctx context.Context, req ExtractRequest, onProgress func(pct int)) (ExtractResult, error) {
	ctx, span := c.tracer.Start(ctx, "docapi.extract_job",
		trace.WithAttributes(
			attribute.String("model", req.Model),
			attribute.Int("consensus", req.Consensus)))
	defer span.End()

	jobID, err := c.CreateJob(ctx, "/documents/extract", extractBody(req))
	if err != nil {
		return ExtractResult{}, spanErr(span, err)
	}
	blob, err := c.PollJob(ctx, jobID, onProgress)
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

func jobProgress(status string, attempt, maxAttempts int) int {
	switch status {
	case JobValidating:
		return 10
	case JobQueued:
		return 20
	case JobProcessing:
		pct := 40 + attempt*40/maxAttempts
		if pct > 80 {
			pct = 80
		}
		return pct
	case JobCompleted:
		return 100
	default:
		return 0
	}
}
