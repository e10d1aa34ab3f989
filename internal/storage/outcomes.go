package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

// AppendOutcome stores one stage outcome.
func (s *Store) AppendOutcome(ctx context.Context, o stage.Outcome) error {
	var meta sql.NullString
	if len(o.Metadata) > 0 {
		b, err := json.Marshal(o.Metadata)
		if err != nil {
			return fmt.Errorf("encode outcome metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	success := 0
	if o.Success {
		success = 1
	}

	_, err := s.execWithRetry(ctx,
		`INSERT INTO stage_outcomes (
            stage, started_at, duration_ms, success, error_kind, error,
            retry_count, metadata, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(o.Stage),
		formatTime(o.StartedAt),
		float64(o.Duration)/float64(time.Millisecond),
		success,
		nullString(string(o.ErrorKind)),
		nullString(o.Error),
		o.RetryCount,
		meta,
		formatTime(o.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// OutcomesSince returns outcomes recorded at or after since, oldest first.
func (s *Store) OutcomesSince(ctx context.Context, since time.Time) ([]stage.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, started_at, duration_ms, success, error_kind, error,
                retry_count, metadata, recorded_at
           FROM stage_outcomes
          WHERE recorded_at >= ?
          ORDER BY recorded_at, id`,
		formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []stage.Outcome
	for rows.Next() {
		var (
			o                   stage.Outcome
			id                  string
			started, recorded   string
			durationMS          float64
			success             int
			kind, msg, metadata sql.NullString
		)
		if err := rows.Scan(&id, &started, &durationMS, &success, &kind, &msg, &o.RetryCount, &metadata, &recorded); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Stage = stage.ID(id)
		o.Duration = time.Duration(durationMS * float64(time.Millisecond))
		o.Success = success != 0
		o.ErrorKind = stage.Kind(kind.String)
		o.Error = msg.String
		if o.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if o.Timestamp, err = parseTime(recorded); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &o.Metadata); err != nil {
				return nil, fmt.Errorf("decode outcome metadata: %w", err)
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
