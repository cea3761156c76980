package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/animus-labs/refresh-go/internal/domain"
	"github.com/animus-labs/refresh-go/internal/platform/auditlog"
)

// ErrDuplicateRun is returned when a run id is recorded twice.
var ErrDuplicateRun = errors.New("run already recorded")

// Recorder persists run history. Failures are logged by the coordinator and
// never affect the run.
type Recorder interface {
	RunStarted(ctx context.Context, rec RunRecord) error
	RunFinished(ctx context.Context, rec RunRecord) error
}

// HistoryLister serves the run history endpoint.
type HistoryLister interface {
	Recent(ctx context.Context, limit int) ([]RunRecord, error)
}

type RunRecord struct {
	RunID           string            `json:"run_id"`
	Seq             uint64            `json:"seq"`
	Script          string            `json:"script"`
	Forced          bool              `json:"forced"`
	Outcome         domain.RunOutcome `json:"outcome"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	ExitCode        *int              `json:"exit_code,omitempty"`
	Signal          string            `json:"signal,omitempty"`
	Error           string            `json:"error,omitempty"`
	Stale           bool              `json:"stale"`
	SupersedesRunID string            `json:"supersedes_run_id,omitempty"`
	Actor           string            `json:"actor,omitempty"`
	RequestID       string            `json:"request_id,omitempty"`
}

const runsSchema = `CREATE TABLE IF NOT EXISTS sync_runs (
	run_id TEXT PRIMARY KEY,
	seq BIGINT NOT NULL,
	script TEXT NOT NULL,
	forced BOOLEAN NOT NULL DEFAULT false,
	outcome TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	exit_code INTEGER,
	signal TEXT,
	error TEXT,
	stale BOOLEAN NOT NULL DEFAULT false,
	supersedes_run_id TEXT,
	actor TEXT,
	request_id TEXT
)`

const (
	defaultActor    = "syncd"
	maxHistoryLimit = 200
)

// PostgresHistory stores runs in sync_runs and writes one audit event per
// transition in the same transaction.
type PostgresHistory struct {
	db *sql.DB
}

func NewPostgresHistory(db *sql.DB) (*PostgresHistory, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &PostgresHistory{db: db}, nil
}

func (h *PostgresHistory) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		runsSchema,
		`CREATE INDEX IF NOT EXISTS sync_runs_started_at_idx ON sync_runs (started_at DESC)`,
		auditlog.Schema,
	} {
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (h *PostgresHistory) RunStarted(ctx context.Context, rec RunRecord) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO sync_runs (
			run_id,
			seq,
			script,
			forced,
			outcome,
			started_at,
			supersedes_run_id,
			actor,
			request_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.RunID,
		int64(rec.Seq),
		rec.Script,
		rec.Forced,
		string(domain.RunOutcomeRunning),
		rec.StartedAt.UTC(),
		nullString(rec.SupersedesRunID),
		nullString(rec.Actor),
		nullString(rec.RequestID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, rec.RunID)
		}
		return fmt.Errorf("insert run: %w", err)
	}

	actor := actorOrDefault(rec.Actor)
	_, err = auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt: rec.StartedAt,
		Actor:      actor,
		Action:     auditlog.ActionSyncStarted,
		RunID:      rec.RunID,
		Seq:        rec.Seq,
		RequestID:  rec.RequestID,
		Payload: map[string]any{
			"script": rec.Script,
			"forced": rec.Forced,
		},
	})
	if err != nil {
		return err
	}

	if rec.SupersedesRunID != "" {
		_, err = auditlog.Insert(ctx, tx, auditlog.Event{
			OccurredAt: rec.StartedAt,
			Actor:      actor,
			Action:     auditlog.ActionSyncSuperseded,
			RunID:      rec.SupersedesRunID,
			Seq:        rec.Seq,
			RequestID:  rec.RequestID,
			Payload: map[string]any{
				"superseded_by": rec.RunID,
			},
		})
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunFinished updates the run row. If the start was never recorded (the
// database was down at the time) the full row is inserted instead.
func (h *PostgresHistory) RunFinished(ctx context.Context, rec RunRecord) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE sync_runs
		SET outcome = $2, finished_at = $3, exit_code = $4, signal = $5, error = $6, stale = $7
		WHERE run_id = $1`,
		rec.RunID,
		string(rec.Outcome),
		nullTime(rec.FinishedAt),
		nullInt(rec.ExitCode),
		nullString(rec.Signal),
		nullString(rec.Error),
		rec.Stale,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO sync_runs (
				run_id,
				seq,
				script,
				forced,
				outcome,
				started_at,
				finished_at,
				exit_code,
				signal,
				error,
				stale
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			rec.RunID,
			int64(rec.Seq),
			rec.Script,
			rec.Forced,
			string(rec.Outcome),
			rec.StartedAt.UTC(),
			nullTime(rec.FinishedAt),
			nullInt(rec.ExitCode),
			nullString(rec.Signal),
			nullString(rec.Error),
			rec.Stale,
		)
		if err != nil {
			return fmt.Errorf("insert finished run: %w", err)
		}
	}

	occurredAt := time.Now().UTC()
	if rec.FinishedAt != nil {
		occurredAt = *rec.FinishedAt
	}
	payload := map[string]any{
		"outcome": string(rec.Outcome),
		"stale":   rec.Stale,
	}
	if rec.ExitCode != nil {
		payload["exit_code"] = *rec.ExitCode
	}
	if rec.Signal != "" {
		payload["signal"] = rec.Signal
	}
	if rec.Error != "" {
		payload["error"] = rec.Error
	}
	_, err = auditlog.Insert(ctx, tx, auditlog.Event{
		OccurredAt: occurredAt,
		Actor:      defaultActor,
		Action:     auditlog.ActionSyncCompleted,
		RunID:      rec.RunID,
		Seq:        rec.Seq,
		Payload:    payload,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recent returns the newest runs first. limit is clamped to [1, 200].
func (h *PostgresHistory) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := h.db.QueryContext(
		ctx,
		`SELECT run_id, seq, script, forced, outcome, started_at, finished_at,
			exit_code, signal, error, stale, supersedes_run_id, actor, request_id
		FROM sync_runs
		ORDER BY started_at DESC, seq DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunRecord, 0, limit)
	for rows.Next() {
		var (
			rec        RunRecord
			seq        int64
			outcome    string
			finishedAt sql.NullTime
			exitCode   sql.NullInt64
			signal     sql.NullString
			errText    sql.NullString
			supersedes sql.NullString
			actor      sql.NullString
			requestID  sql.NullString
		)
		if err := rows.Scan(
			&rec.RunID,
			&seq,
			&rec.Script,
			&rec.Forced,
			&outcome,
			&rec.StartedAt,
			&finishedAt,
			&exitCode,
			&signal,
			&errText,
			&rec.Stale,
			&supersedes,
			&actor,
			&requestID,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Seq = uint64(seq)
		rec.Outcome = domain.NormalizeRunOutcome(outcome)
		if finishedAt.Valid {
			t := finishedAt.Time.UTC()
			rec.FinishedAt = &t
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			rec.ExitCode = &code
		}
		rec.Signal = signal.String
		rec.Error = errText.String
		rec.SupersedesRunID = supersedes.String
		rec.Actor = actor.String
		rec.RequestID = requestID.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func actorOrDefault(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return defaultActor
	}
	return actor
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func nullInt(value *int) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*value), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
