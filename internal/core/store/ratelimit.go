package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avrlink/avrlink/internal/core"
)

// RateQuery selects stored limiter snapshots.
type RateQuery struct {
	All         bool
	Destination string
	Prefix      string
}

// Validate requires exactly one way of selecting rows.
func (q RateQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Destination) != "" || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --destination, or --prefix")
}

func (q RateQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if dest := strings.TrimSpace(q.Destination); dest != "" {
		return "WHERE destination = ?", []any{dest}, nil
	}
	return "WHERE destination LIKE ?", []any{strings.TrimSpace(q.Prefix) + "%"}, nil
}

// SaveRateSnapshots upserts one row per destination.
func (s *Store) SaveRateSnapshots(ctx context.Context, snapshots []core.RateSnapshot) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save rate snapshots: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	for _, snap := range snapshots {
		dest := strings.TrimSpace(snap.Destination)
		if dest == "" {
			return errors.New("destination is required")
		}
		updated := snap.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rate_snapshots (destination, rate, latency_avg, samples, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(destination) DO UPDATE SET
				rate = excluded.rate,
				latency_avg = excluded.latency_avg,
				samples = excluded.samples,
				updated_at = excluded.updated_at
		`, dest, snap.Rate, snap.LatencyAvg, snap.Samples, updated.Unix()); err != nil {
			return fmt.Errorf("save rate snapshot %s: %w", dest, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save rate snapshots: %w", err)
	}
	return nil
}

// ListRateSnapshots returns stored snapshots ordered by destination.
func (s *Store) ListRateSnapshots(ctx context.Context, q RateQuery) ([]core.RateSnapshot, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT destination, rate, latency_avg, samples, updated_at
		FROM rate_snapshots
		%s
		ORDER BY destination
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list rate snapshots: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []core.RateSnapshot{}
	for rows.Next() {
		var (
			snap    core.RateSnapshot
			updated int64
		)
		if err := rows.Scan(&snap.Destination, &snap.Rate, &snap.LatencyAvg, &snap.Samples, &updated); err != nil {
			return nil, fmt.Errorf("scan rate snapshots: %w", err)
		}
		snap.UpdatedAt = time.Unix(updated, 0).UTC()
		entries = append(entries, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate snapshots: %w", err)
	}
	return entries, nil
}

// CountRateSnapshots returns how many snapshots match q.
func (s *Store) CountRateSnapshots(ctx context.Context, q RateQuery) (int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM rate_snapshots %s`, where), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate snapshots: %w", err)
	}
	return count, nil
}

// ResetRateSnapshots deletes the selected snapshots.
func (s *Store) ResetRateSnapshots(ctx context.Context, q RateQuery) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM rate_snapshots %s`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate snapshots: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate snapshots: %w", err)
	}
	return affected, nil
}
