package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

const runColumns = `id, status, target_language, grade, subject, output_format, original_text,
        simplified_text, translated_text, audio_ref, audio_accuracy, quality_score, outcomes, started_at, completed_at`

// SaveRun stores a processed run, replacing any run with the same id.
func (s *Store) SaveRun(ctx context.Context, run *pipeline.Run) error {
	outcomes, err := json.Marshal(run.Outcomes)
	if err != nil {
		return fmt.Errorf("encode run outcomes: %w", err)
	}

	var accuracy sql.NullFloat64
	if run.AudioAccuracy != nil {
		accuracy = sql.NullFloat64{Float64: *run.AudioAccuracy, Valid: true}
	}

	var completed sql.NullString
	if !run.CompletedAt.IsZero() {
		completed = sql.NullString{String: formatTime(run.CompletedAt), Valid: true}
	}

	_, err = s.execWithRetry(ctx,
		`INSERT OR REPLACE INTO pipeline_runs (`+runColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		string(run.Status),
		run.Request.TargetLanguage,
		run.Request.Grade,
		run.Request.Subject,
		string(run.Request.OutputFormat),
		run.Request.Text,
		nullString(run.SimplifiedText),
		nullString(run.TranslatedText),
		nullString(run.AudioRef),
		accuracy,
		run.QualityScore,
		string(outcomes),
		formatTime(run.StartedAt),
		completed,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun returns the run with id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*pipeline.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*pipeline.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*pipeline.Run, error) {
	var (
		run                             pipeline.Run
		status, format, outcomes, start string
		simplified, translated, audio   sql.NullString
		completed                       sql.NullString
		accuracy                        sql.NullFloat64
	)
	err := row.Scan(&run.ID, &status, &run.Request.TargetLanguage, &run.Request.Grade, &run.Request.Subject,
		&format, &run.Request.Text, &simplified, &translated, &audio, &accuracy, &run.QualityScore, &outcomes, &start, &completed)
	if err != nil {
		return nil, err
	}

	run.Status = pipeline.Status(status)
	run.Request.OutputFormat = pipeline.OutputFormat(format)
	run.SimplifiedText = simplified.String
	run.TranslatedText = translated.String
	run.AudioRef = audio.String
	if accuracy.Valid {
		run.AudioAccuracy = &accuracy.Float64
	}

	var outs []stage.Outcome
	if err := json.Unmarshal([]byte(outcomes), &outs); err != nil {
		return nil, fmt.Errorf("decode run outcomes: %w", err)
	}
	run.Outcomes = outs

	if run.StartedAt, err = parseTime(start); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if completed.Valid {
		if run.CompletedAt, err = parseTime(completed.String); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
	}
	return &run, nil
}
