package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/shotchain/shotchain-agent/internal/plan"
)

type Repository interface {
	CreateRun(ctx context.Context, r *Run, p *plan.GenerationPlan) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	NextQueued(ctx context.Context) (*Run, error)
	UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error
	SaveResult(ctx context.Context, id, status, errorMsg string, logLines []string, lastVideo string, p *plan.GenerationPlan) error

	GetPlan(ctx context.Context, runID string) (*plan.GenerationPlan, error)
	SaveSegment(ctx context.Context, runID string, seg *plan.Segment) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run, p *plan.GenerationPlan) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, error, fps, width, height, log, last_video, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Status, run.Error, run.FPS, run.Width, run.Height,
		strings.Join(run.Log, "\n"), run.LastVideo,
		run.CreatedAt.Format(time.RFC3339), run.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}

	// Insert order is plan order; GetPlan restores it via rowid.
	for _, seg := range p.Segments {
		if err := insertSegment(ctx, tx, run.ID, seg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertSegment(ctx context.Context, tx *sql.Tx, runID string, s *plan.Segment) error {
	outputs, err := json.Marshal(s.OutputFiles)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO segments (
			run_id, plan_id, shot_id, chain_id, segment_index, segment_total,
			duration, requested_duration, effective_duration, width, height,
			prompt, motion, clip_name, start_frame, start_frame_source,
			ready, needs_extension, status_kind, status_message, output_files, last_frame
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, s.PlanID, s.ShotID, s.ChainID, s.Index, s.Total,
		s.Duration, s.RequestedDuration, s.EffectiveDuration, s.Width, s.Height,
		s.Prompt, s.Motion, s.ClipName, s.StartFrame, s.StartFrameSource,
		boolToInt(s.Ready), boolToInt(s.NeedsExtension),
		s.Status.Kind, s.Status.Message, string(outputs), s.LastFrame)
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, error, fps, width, height, log, last_video, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*Run, error) {
	var run Run
	var logText, createdAt, updatedAt string

	err := row.Scan(&run.ID, &run.Status, &run.Error, &run.FPS, &run.Width, &run.Height,
		&logText, &run.LastVideo, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if logText != "" {
		run.Log = strings.Split(logText, "\n")
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &run, nil
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, error, fps, width, height, log, last_video, created_at, updated_at
		FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var logText, createdAt, updatedAt string
		if err := rows.Scan(&run.ID, &run.Status, &run.Error, &run.FPS, &run.Width, &run.Height,
			&logText, &run.LastVideo, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if logText != "" {
			run.Log = strings.Split(logText, "\n")
		}
		run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) NextQueued(ctx context.Context) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, error, fps, width, height, log, last_video, created_at, updated_at
		FROM runs WHERE status = 'queued' ORDER BY created_at ASC LIMIT 1
	`)
	return scanRun(row)
}

func (r *SQLiteRepository) UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, errorMsg, id)
	return err
}

// SaveResult persists a finished pass: run outcome plus the updated
// state of every segment, in one transaction.
func (r *SQLiteRepository) SaveResult(ctx context.Context, id, status, errorMsg string, logLines []string, lastVideo string, p *plan.GenerationPlan) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, log = ?, last_video = ?, updated_at = datetime('now')
		WHERE id = ?
	`, status, errorMsg, strings.Join(logLines, "\n"), lastVideo, id)
	if err != nil {
		return err
	}

	for _, seg := range p.Segments {
		if err := updateSegment(ctx, tx, id, seg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func updateSegment(ctx context.Context, tx *sql.Tx, runID string, s *plan.Segment) error {
	outputs, err := json.Marshal(s.OutputFiles)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE segments SET
			start_frame = ?, start_frame_source = ?, ready = ?,
			status_kind = ?, status_message = ?, output_files = ?, last_frame = ?
		WHERE run_id = ? AND plan_id = ?
	`, s.StartFrame, s.StartFrameSource, boolToInt(s.Ready),
		s.Status.Kind, s.Status.Message, string(outputs), s.LastFrame,
		runID, s.PlanID)
	return err
}

func (r *SQLiteRepository) SaveSegment(ctx context.Context, runID string, seg *plan.Segment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := updateSegment(ctx, tx, runID, seg); err != nil {
		return err
	}
	return tx.Commit()
}

// GetPlan reloads a run's segments in original plan order.
func (r *SQLiteRepository) GetPlan(ctx context.Context, runID string) (*plan.GenerationPlan, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT plan_id, shot_id, chain_id, segment_index, segment_total,
			duration, requested_duration, effective_duration, width, height,
			prompt, motion, clip_name, start_frame, start_frame_source,
			ready, needs_extension, status_kind, status_message, output_files, last_frame
		FROM segments WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p := &plan.GenerationPlan{}
	for rows.Next() {
		var s plan.Segment
		var ready, needsExtension int
		var statusKind, statusMessage, outputs string

		if err := rows.Scan(&s.PlanID, &s.ShotID, &s.ChainID, &s.Index, &s.Total,
			&s.Duration, &s.RequestedDuration, &s.EffectiveDuration, &s.Width, &s.Height,
			&s.Prompt, &s.Motion, &s.ClipName, &s.StartFrame, &s.StartFrameSource,
			&ready, &needsExtension, &statusKind, &statusMessage, &outputs, &s.LastFrame); err != nil {
			return nil, err
		}

		s.Ready = ready == 1
		s.NeedsExtension = needsExtension == 1
		s.Status = plan.SegmentStatus{Kind: plan.StatusKind(statusKind), Message: statusMessage}
		if outputs != "" {
			if err := json.Unmarshal([]byte(outputs), &s.OutputFiles); err != nil {
				return nil, err
			}
		}
		p.Segments = append(p.Segments, &s)
	}
	return p, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
