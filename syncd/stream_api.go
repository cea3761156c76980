package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const streamHeartbeat = 15 * time.Second

// syncStreamEvent carries the log text appended since the previous event.
// Reset means the log was truncated for a new run and Chunk starts from the
// beginning.
type syncStreamEvent struct {
	Running   bool       `json:"running"`
	RunID     string     `json:"run_id,omitempty"`
	Seq       uint64     `json:"seq"`
	StartedAt *time.Time `json:"started_at"`
	Offset    int        `json:"offset"`
	Chunk     string     `json:"chunk"`
	Reset     bool       `json:"reset"`
}

func writeSSE(w http.ResponseWriter, event string, id string, payload any) error {
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", blob); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (api *syncAPI) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		api.writeError(w, r, http.StatusInternalServerError, "streaming_not_supported", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_ = writeSSE(w, "ready", "", map[string]any{
		"server_ts":  time.Now().UTC().Unix(),
		"request_id": r.Header.Get("X-Request-Id"),
	})

	var (
		lastSeq     uint64
		offset      int
		sentAny     bool
		lastRunning bool
	)
	// emit sends what changed since the previous call and reports whether
	// the stream is finished.
	emit := func() (bool, error) {
		st, err := api.coord.CurrentStatus(r.Context())
		if err != nil {
			return true, err
		}
		ev := syncStreamEvent{
			Running:   st.Running,
			RunID:     st.RunID,
			Seq:       st.Seq,
			StartedAt: st.StartedAt,
		}
		if !sentAny || st.Seq != lastSeq || len(st.Logs) < offset {
			ev.Reset = true
			ev.Chunk = st.Logs
		} else {
			ev.Offset = offset
			ev.Chunk = st.Logs[offset:]
		}
		if sentAny && ev.Chunk == "" && !ev.Reset && st.Running == lastRunning {
			return false, nil
		}
		if err := writeSSE(w, "status", fmt.Sprintf("%d:%d", st.Seq, len(st.Logs)), ev); err != nil {
			return true, err
		}
		sentAny = true
		lastSeq = st.Seq
		lastRunning = st.Running
		offset = len(st.Logs)
		return !st.Running, nil
	}

	finish := func(err error) {
		if err != nil {
			if r.Context().Err() == nil {
				api.logger.Warn("sync stream failed", "error", err)
				_ = writeSSE(w, "error", "", map[string]any{"error": "log read failed"})
			}
			return
		}
		_ = writeSSE(w, "done", "", map[string]any{"seq": lastSeq})
	}

	if done, err := emit(); done {
		finish(err)
		return
	}

	poll := time.NewTicker(api.pollInterval)
	heartbeat := time.NewTicker(streamHeartbeat)
	defer poll.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-poll.C:
			if done, err := emit(); done {
				finish(err)
				return
			}
		}
	}
}
