package docapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// postStream issues a request whose response is a Server-Sent-Event stream
// and accumulates the data frames into the final payload. Two failure modes
// are handled explicitly:
//
//   - Inactivity: if no frame arrives within cfg.StreamInactivity the stream
//     is cut and a stream_timeout error returned, so an upstream that drops
//     the connection without a terminal frame cannot hang us forever.
//   - Cancellation: the cancel hook is registered via context.AfterFunc
//     BEFORE the first read. AfterFunc fires immediately for an
//     already-cancelled context, which closes the narrow window between
//     registration and first read where a cancel could otherwise be lost.
func (c *Client) postStream(ctx context.Context, path string, body any) ([]byte, error) {
	blob, err := jsonBody(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(resp.Body)
		return nil, errorFromStatus(resp.StatusCode, errorMessage(payload, resp.StatusCode))
	}

	stop := context.AfterFunc(ctx, func() {
		resp.Body.Close()
	})
	defer stop()

	return readEventStream(ctx, resp.Body, c.cfg.StreamInactivity)
}

// readEventStream consumes SSE frames until the terminal frame or EOF. Each
// "data:" line resets the inactivity timer. The last complete data payload
// wins: the service emits cumulative snapshots, not deltas, with the final
// frame carrying the full result.
func readEventStream(ctx context.Context, body io.Reader, inactivity time.Duration) ([]byte, error) {
	type frame struct {
		data []byte
		err  error
	}
	frames := make(chan frame)
	// Closed when this function returns so the scanner goroutine never blocks
	// on a send nobody will receive (a timed-out read would otherwise leak it).
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(frames)
		send := func(f frame) bool {
			select {
			case frames <- f:
				return true
			case <-done:
				return false
			}
		}
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		var current bytes.Buffer
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "data:"):
				current.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			case line == "" && current.Len() > 0:
				if !send(frame{data: append([]byte(nil), current.Bytes()...)}) {
					return
				}
				current.Reset()
			}
		}
		if current.Len() > 0 {
			if !send(frame{data: current.Bytes()}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(frame{err: err})
		}
	}()

	timer := time.NewTimer(inactivity)
	defer timer.Stop()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, newStreamTimeoutError(fmt.Sprintf("no data received for %s", inactivity))
		case f, ok := <-frames:
			if !ok {
				if last == nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					return nil, newTransientError(0, "stream closed without data")
				}
				return last, nil
			}
			if f.err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, newTransientError(0, "stream read: "+f.err.Error())
			}
			if isStreamTerminator(f.data) {
				if last == nil {
					return nil, newTransientError(0, "stream ended before any result frame")
				}
				return last, nil
			}
			last = f.data
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(inactivity)
		}
	}
}

func isStreamTerminator(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]"))
}

func jsonBody(body any) ([]byte, error) {
	blob, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return blob, nil
}
