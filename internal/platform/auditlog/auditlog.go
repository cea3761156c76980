package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ActionSyncStarted    = "sync.started"
	ActionSyncCompleted  = "sync.completed"
	ActionSyncSuperseded = "sync.superseded"
)

// Schema creates the append-only audit table. Safe to run on every start.
const Schema = `CREATE TABLE IF NOT EXISTS sync_audit_events (
	event_id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	run_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	request_id TEXT,
	payload JSONB NOT NULL,
	integrity_sha256 TEXT NOT NULL
)`

type Event struct {
	OccurredAt time.Time
	Actor      string
	Action     string
	RunID      string
	Seq        uint64
	RequestID  string
	Payload    any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("RunID is required")
	}
	if e.Seq == 0 {
		return errors.New("Seq is required")
	}
	return nil
}

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	integrity, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return 0, err
	}

	var requestID sql.NullString
	if strings.TrimSpace(event.RequestID) != "" {
		requestID = sql.NullString{String: strings.TrimSpace(event.RequestID), Valid: true}
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO sync_audit_events (
			occurred_at,
			actor,
			action,
			run_id,
			seq,
			request_id,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.Actor),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.RunID),
		int64(event.Seq),
		requestID,
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

// ComputeIntegritySHA256 hashes the canonical JSON form of the event so a
// row edited after the fact no longer matches its stored digest.
func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt time.Time       `json:"occurred_at"`
		Actor      string          `json:"actor"`
		Action     string          `json:"action"`
		RunID      string          `json:"run_id"`
		Seq        uint64          `json:"seq"`
		RequestID  string          `json:"request_id,omitempty"`
		Payload    json.RawMessage `json:"payload"`
	}

	in := integrityInput{
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      strings.TrimSpace(event.Actor),
		Action:     strings.TrimSpace(event.Action),
		RunID:      strings.TrimSpace(event.RunID),
		Seq:        event.Seq,
		RequestID:  strings.TrimSpace(event.RequestID),
		Payload:    payloadJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
