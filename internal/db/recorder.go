package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/gesture.control/internal/pipeline"
)

// Recorder writes pipeline events for one run. It satisfies
// pipeline.Recorder.
type Recorder struct {
	db    *DB
	runID string
}

var _ pipeline.Recorder = (*Recorder)(nil)

// NewRecorder returns a Recorder that attributes rows to runID.
func (db *DB) NewRecorder(runID string) *Recorder {
	return &Recorder{db: db, runID: runID}
}

// RunID returns the run the recorder writes to.
func (r *Recorder) RunID() string { return r.runID }

// Record stores the prediction for one window and, when a decision was
// emitted with a command attached, the outcome of sending it.
func (r *Recorder) Record(ctx context.Context, ev pipeline.Event) error {
	probs, err := json.Marshal(ev.Prediction.Probabilities)
	if err != nil {
		return fmt.Errorf("marshal probabilities: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO predictions (
			run_id, window_time, label, label_name, confidence, probabilities_json, emitted
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.runID, ev.Time, ev.Prediction.Label, ev.Prediction.Name,
		ev.Prediction.Confidence, string(probs), ev.Emitted,
	)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}

	if ev.Emitted && (ev.Command != "" || ev.SendError != "") {
		predictionID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("prediction id: %w", err)
		}
		var sendErr sql.NullString
		if ev.SendError != "" {
			sendErr = sql.NullString{String: ev.SendError, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dispatches (
				run_id, prediction_id, decided_at, label_name, command, ok, error
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.runID, predictionID, ev.Time, ev.Prediction.Name,
			string(ev.Command), ev.SendError == "", sendErr,
		); err != nil {
			return fmt.Errorf("insert dispatch: %w", err)
		}
	}

	return tx.Commit()
}

// DecisionRow is an emitted decision joined with its dispatch outcome.
type DecisionRow struct {
	RunID      string  `json:"run_id"`
	Time       float64 `json:"time"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Command    string  `json:"command,omitempty"`
	OK         bool    `json:"ok"`
	Error      string  `json:"error,omitempty"`
}

// RecentDecisions returns up to limit emitted decisions across all runs,
// newest first. Decisions whose label had no command report OK with an
// empty Command.
func (db *DB) RecentDecisions(ctx context.Context, limit int) ([]DecisionRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT p.run_id, p.window_time, p.label_name, p.confidence,
		       COALESCE(d.command, ''), COALESCE(d.ok, 1), COALESCE(d.error, '')
		  FROM predictions p
		  LEFT JOIN dispatches d ON d.prediction_id = p.prediction_id
		 WHERE p.emitted = 1
		 ORDER BY p.window_time DESC, p.prediction_id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRow
	for rows.Next() {
		var d DecisionRow
		if err := rows.Scan(&d.RunID, &d.Time, &d.Label, &d.Confidence, &d.Command, &d.OK, &d.Error); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LabelCounts returns how many windows of a run were classified as each
// label, whether or not a decision was emitted.
func (db *DB) LabelCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT label_name, COUNT(*) FROM predictions WHERE run_id = ? GROUP BY label_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("query label counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}
