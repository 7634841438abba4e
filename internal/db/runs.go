package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gesture.control/internal/timeutil"
)

// RunInfo describes the settings a run was started with.
type RunInfo struct {
	Source      string        `json:"source"`
	ModelPath   string        `json:"model_path"`
	FeatureSet  string        `json:"feature_set"`
	WindowSize  int           `json:"window_size"`
	Overlap     float64       `json:"overlap"`
	Threshold   float64       `json:"threshold"`
	Cooldown    time.Duration `json:"cooldown"`
	CommandAddr string        `json:"command_addr"`
}

// Run is a row of the runs table.
type Run struct {
	RunID      string          `json:"run_id"`
	StartedAt  float64         `json:"started_at"`
	FinishedAt *float64        `json:"finished_at,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	Stats      json.RawMessage `json:"stats,omitempty"`
	RunInfo
}

// StartRun inserts a new run and returns its generated id.
func (db *DB) StartRun(ctx context.Context, info RunInfo, startedAt time.Time) (string, error) {
	runID := uuid.New().String()
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, started_at, source, model_path, feature_set,
			window_size, overlap, threshold, cooldown_s, command_addr
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, timeutil.Seconds(startedAt), info.Source, info.ModelPath, info.FeatureSet,
		info.WindowSize, info.Overlap, info.Threshold, info.Cooldown.Seconds(), info.CommandAddr,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	logs.Diagf("started run %s (source=%s)", runID, info.Source)
	return runID, nil
}

// FinishRun stamps a run with its end time, the reason it stopped and a JSON
// snapshot of the pipeline counters.
func (db *DB) FinishRun(ctx context.Context, runID string, finishedAt time.Time, reason string, stats any) error {
	var statsJSON sql.NullString
	if stats != nil {
		b, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("marshal run stats: %w", err)
		}
		statsJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, stop_reason = ?, stats_json = ? WHERE run_id = ?`,
		timeutil.Seconds(finishedAt), reason, statsJSON, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, COALESCE(stop_reason, ''), stats_json,
		       source, model_path, feature_set, window_size, overlap, threshold,
		       cooldown_s, command_addr
		  FROM runs
		 ORDER BY started_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			finished sql.NullFloat64
			stats    sql.NullString
			cooldown float64
		)
		if err := rows.Scan(
			&r.RunID, &r.StartedAt, &finished, &r.StopReason, &stats,
			&r.Source, &r.ModelPath, &r.FeatureSet, &r.WindowSize, &r.Overlap, &r.Threshold,
			&cooldown, &r.CommandAddr,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			f := finished.Float64
			r.FinishedAt = &f
		}
		if stats.Valid {
			r.Stats = json.RawMessage(stats.String)
		}
		r.Cooldown = time.Duration(cooldown * float64(time.Second))
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
