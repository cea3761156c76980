package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type triggerResult struct {
	Message   string    `json:"message"`
	RunID     string    `json:"run_id"`
	Seq       uint64    `json:"seq"`
	StartedAt time.Time `json:"started_at"`
	Forced    bool      `json:"forced"`
}

type statusResult struct {
	Running   bool       `json:"running"`
	Logs      string     `json:"logs"`
	RunID     string     `json:"run_id"`
	Seq       uint64     `json:"seq"`
	StartedAt *time.Time `json:"started_at"`
	Forced    bool       `json:"forced"`
}

type runRecord struct {
	RunID      string     `json:"run_id"`
	Seq        uint64     `json:"seq"`
	Forced     bool       `json:"forced"`
	Outcome    string     `json:"outcome"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	ExitCode   *int       `json:"exit_code"`
	Signal     string     `json:"signal"`
	Error      string     `json:"error"`
	Stale      bool       `json:"stale"`
}

// apiError is a non-2xx response from syncd.
type apiError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("syncd returned %d", e.Status)
	}
	return e.Message
}

func (c *client) Trigger(ctx context.Context, force bool) (triggerResult, error) {
	path := "/api/sync"
	if force {
		path += "?force=true"
	}
	var out triggerResult
	err := c.do(ctx, http.MethodPost, path, &out)
	return out, err
}

func (c *client) Status(ctx context.Context) (statusResult, error) {
	var out statusResult
	err := c.do(ctx, http.MethodGet, "/api/sync", &out)
	return out, err
}

func (c *client) Runs(ctx context.Context, limit int) ([]runRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	var out struct {
		Runs []runRecord `json:"runs"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sync/runs?"+q.Encode(), &out)
	return out.Runs, err
}

func (c *client) do(ctx context.Context, method, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "syncctl/"+Version)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		var payload struct {
			Error     string `json:"error"`
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
			apiErr.RequestID = payload.RequestID
		}
		return apiErr
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
