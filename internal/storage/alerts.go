package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/lessonflow/internal/alerts"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

// SaveAlert stores a raised alert.
func (s *Store) SaveAlert(ctx context.Context, a alerts.Alert) error {
	var meta sql.NullString
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("encode alert metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.execWithRetry(ctx,
		`INSERT OR REPLACE INTO alerts (
            id, type, severity, message, stage, metric_value, threshold, metadata, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		string(a.Type),
		a.Severity.String(),
		a.Message,
		nullString(string(a.Stage)),
		nullFloat(a.MetricValue),
		nullFloat(a.Threshold),
		meta,
		formatTime(a.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// AlertHandler returns an alerts.Handler that persists every alert.
func (s *Store) AlertHandler() alerts.Handler {
	return s.SaveAlert
}

// AlertsSince returns alerts raised at or after since, oldest first. When
// severities are given only those severities are returned.
func (s *Store) AlertsSince(ctx context.Context, since time.Time, severities ...alerts.Severity) ([]alerts.Alert, error) {
	query := `SELECT id, type, severity, message, stage, metric_value, threshold, metadata, created_at
                FROM alerts
               WHERE created_at >= ?`
	args := []any{formatTime(since)}
	if len(severities) > 0 {
		marks := make([]string, len(severities))
		for i, sev := range severities {
			marks[i] = "?"
			args = append(args, sev.String())
		}
		query += " AND severity IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		var (
			a                    alerts.Alert
			typ, sev, created    string
			stageID, metadata    sql.NullString
			metricVal, threshold sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &typ, &sev, &a.Message, &stageID, &metricVal, &threshold, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = alerts.Type(typ)
		if a.Severity, err = alerts.ParseSeverity(sev); err != nil {
			return nil, fmt.Errorf("alert %s: %w", a.ID, err)
		}
		a.Stage = stage.ID(stageID.String)
		if metricVal.Valid {
			v := metricVal.Float64
			a.MetricValue = &v
		}
		if threshold.Valid {
			v := threshold.Float64
			a.Threshold = &v
		}
		if a.Timestamp, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode alert metadata: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
