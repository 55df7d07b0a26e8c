package eval

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	cerr "github.com/coderag/coderag/internal/errors"
)

// RunLog is an append-only history of evaluation runs backed by
// SQLite. Records are never updated or deleted.
type RunLog struct {
	db *sql.DB
}

// RunRecord is one persisted run.
type RunRecord struct {
	ID              int64     `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	Adapter         string    `json:"adapter"`
	Dataset         string    `json:"dataset"`
	QuestionCount   int       `json:"question_count"`
	FailedQuestions int       `json:"failed_questions"`
	DurationMS      int64     `json:"duration_ms"`
	Scores          map[string]map[int]float64 `json:"scores"`
}

const runLogSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	adapter TEXT NOT NULL,
	dataset TEXT NOT NULL,
	question_count INTEGER NOT NULL,
	failed_questions INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	scores_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// OpenRunLog opens or creates the run log database.
func OpenRunLog(path string) (*RunLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, cerr.New(cerr.ErrCodeRunLogWrite, "failed to open run log", err)
	}
	// SQLite allows one writer; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(runLogSchema); err != nil {
		db.Close()
		return nil, cerr.New(cerr.ErrCodeRunLogWrite, "failed to initialize run log schema", err)
	}
	return &RunLog{db: db}, nil
}

// Append persists one run record.
func (l *RunLog) Append(ctx context.Context, report *Report) error {
	scores, err := json.Marshal(report.Scores)
	if err != nil {
		return cerr.InternalError("failed to marshal run scores", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, adapter, dataset, question_count, failed_questions, duration_ms, scores_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.StartedAt.UTC().Format(time.RFC3339Nano),
		report.Adapter,
		report.Dataset,
		report.QuestionCount,
		report.FailedQuestions,
		report.DurationMS,
		string(scores),
	)
	if err != nil {
		return cerr.New(cerr.ErrCodeRunLogWrite, "failed to append run record", err)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (l *RunLog) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started_at, adapter, dataset, question_count, failed_questions, duration_ms, scores_json
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, cerr.New(cerr.ErrCodeRunLogWrite, "failed to query run log", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedAt, scoresJSON string
		if err := rows.Scan(&rec.ID, &startedAt, &rec.Adapter, &rec.Dataset,
			&rec.QuestionCount, &rec.FailedQuestions, &rec.DurationMS, &scoresJSON); err != nil {
			return nil, cerr.New(cerr.ErrCodeRunLogWrite, "failed to scan run record", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			rec.StartedAt = ts
		}
		if err := json.Unmarshal([]byte(scoresJSON), &rec.Scores); err != nil {
			return nil, cerr.New(cerr.ErrCodeRunLogWrite, "failed to decode run scores", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.New(cerr.ErrCodeRunLogWrite, "failed to iterate run log", err)
	}
	return records, nil
}

// Close closes the underlying database.
func (l *RunLog) Close() error {
	return l.db.Close()
}
