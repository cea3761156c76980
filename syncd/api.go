package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/refresh-go/internal/domain"
	"github.com/animus-labs/refresh-go/internal/platform/httpserver"
	"github.com/animus-labs/refresh-go/internal/service/refresh"
)

const maxTriggerBody = 4 << 10

type runCoordinator interface {
	RequestRun(ctx context.Context, req domain.RunRequest) (refresh.Accepted, error)
	CurrentStatus(ctx context.Context) (refresh.Status, error)
}

type syncAPI struct {
	logger       *slog.Logger
	coord        runCoordinator
	history      refresh.HistoryLister
	pollInterval time.Duration
}

func newSyncAPI(logger *slog.Logger, coord runCoordinator, history refresh.HistoryLister, pollInterval time.Duration) *syncAPI {
	return &syncAPI{
		logger:       logger,
		coord:        coord,
		history:      history,
		pollInterval: pollInterval,
	}
}

func (api *syncAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sync", api.handleTrigger)
	mux.HandleFunc("GET /api/sync", api.handleStatus)
	mux.HandleFunc("GET /api/sync/stream", api.handleStream)
	mux.HandleFunc("GET /api/sync/runs", api.handleListRuns)
}

type triggerRequest struct {
	Force bool `json:"force"`
}

type triggerResponse struct {
	Message   string    `json:"message"`
	RunID     string    `json:"run_id"`
	Seq       uint64    `json:"seq"`
	StartedAt time.Time `json:"started_at"`
	Forced    bool      `json:"forced"`
}

type statusResponse struct {
	Running   bool       `json:"running"`
	Logs      string     `json:"logs"`
	RunID     string     `json:"run_id,omitempty"`
	Seq       uint64     `json:"seq"`
	StartedAt *time.Time `json:"started_at"`
	Forced    bool       `json:"forced"`
}

func (api *syncAPI) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("force")); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_force", "force must be true or false")
			return
		}
		req.Force = req.Force || force
	}

	acc, err := api.coord.RequestRun(r.Context(), domain.RunRequest{
		Force:     req.Force,
		Actor:     actorFromRequest(r),
		RequestID: r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, triggerResponse{
		Message:   "Sync started",
		RunID:     acc.RunID,
		Seq:       acc.Seq,
		StartedAt: acc.StartedAt,
		Forced:    acc.Forced,
	})
}

func (api *syncAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := api.coord.CurrentStatus(r.Context())
	if err != nil {
		api.logger.Error("sync status failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "log_read_failed", "log read failed")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, statusResponse{
		Running:   st.Running,
		Logs:      st.Logs,
		RunID:     st.RunID,
		Seq:       st.Seq,
		StartedAt: st.StartedAt,
		Forced:    st.Forced,
	})
}

func (api *syncAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		api.writeError(w, r, http.StatusNotFound, "history_disabled", "run history is not configured")
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := api.history.Recent(r.Context(), limit)
	if err != nil {
		api.logger.Error("list sync runs failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// writeRunError maps coordinator errors to responses. Messages are the ones
// the dashboard already shows verbatim.
func (api *syncAPI) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning):
		api.writeError(w, r, http.StatusConflict, "sync_in_progress", "Sync already in progress")
	case errors.Is(err, domain.ErrExecutableNotFound):
		api.writeError(w, r, http.StatusInternalServerError, "script_not_found", err.Error())
	case errors.Is(err, domain.ErrLaunchFailed):
		api.writeError(w, r, http.StatusInternalServerError, "spawn_failed", err.Error())
	case errors.Is(err, domain.ErrStorage):
		api.logger.Error("sync trigger failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "log_storage_failed", "log reset failed")
	default:
		api.logger.Error("sync trigger failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (api *syncAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      message,
		"code":       code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxTriggerBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func actorFromRequest(r *http.Request) string {
	if ua := strings.TrimSpace(r.UserAgent()); strings.HasPrefix(ua, "syncctl/") {
		return "syncctl"
	}
	return "api"
}
