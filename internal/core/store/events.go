package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avrlink/avrlink/internal/core"
)

// EventRecord is a journaled realtime event.
type EventRecord struct {
	ID   int64  `json:"id"`
	Host string `json:"host"`
	core.Event
}

// AppendEvent journals one realtime event.
func (s *Store) AppendEvent(ctx context.Context, host string, ev core.Event) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(ev.Code) == "" {
		return errors.New("event code is required")
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO events (host, zone, code, parameter, received_at)
		VALUES (?, ?, ?, ?, ?)
	`, strings.TrimSpace(host), string(ev.Zone), ev.Code, ev.Parameter, at.UTC().UnixNano()); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, host, zone, code, parameter, received_at
		FROM events
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []EventRecord{}
	for rows.Next() {
		var (
			rec  EventRecord
			zone string
			at   int64
		)
		if err := rows.Scan(&rec.ID, &rec.Host, &zone, &rec.Code, &rec.Parameter, &at); err != nil {
			return nil, fmt.Errorf("scan events: %w", err)
		}
		rec.Zone = core.Zone(zone)
		rec.At = time.Unix(0, at).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return records, nil
}

// PruneEvents deletes events older than cutoff.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	result, err := s.DB.ExecContext(ctx, `DELETE FROM events WHERE received_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return result.RowsAffected()
}
