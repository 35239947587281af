package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AttributeSnapshot records the zone state committed by one refresh pass.
type AttributeSnapshot struct {
	Host       string          `json:"host"`
	Zone       string          `json:"zone"`
	PassID     string          `json:"pass_id"`
	State      json.RawMessage `json:"state"`
	Unresolved []string        `json:"unresolved,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SaveAttributeSnapshot appends a snapshot. state is marshaled to JSON.
func (s *Store) SaveAttributeSnapshot(ctx context.Context, host, zone, passID string, state any, unresolved []string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return errors.New("host is required")
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode attribute snapshot: %w", err)
	}

	var unresolvedJSON sql.NullString
	if len(unresolved) > 0 {
		data, err := json.Marshal(unresolved)
		if err != nil {
			return fmt.Errorf("encode unresolved attributes: %w", err)
		}
		unresolvedJSON = sql.NullString{String: string(data), Valid: true}
	}

	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO attribute_snapshots (host, zone, pass_id, state_json, unresolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, host, zone, passID, string(payload), unresolvedJSON, time.Now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("save attribute snapshot: %w", err)
	}
	return nil
}

// LatestAttributeSnapshot returns the newest snapshot for host and zone, or
// nil when none exists.
func (s *Store) LatestAttributeSnapshot(ctx context.Context, host, zone string) (*AttributeSnapshot, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	var (
		snap       AttributeSnapshot
		stateJSON  string
		unresolved sql.NullString
		created    int64
	)
	err = s.DB.QueryRowContext(ctx, `
		SELECT host, zone, pass_id, state_json, unresolved, created_at
		FROM attribute_snapshots
		WHERE host = ? AND zone = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, strings.TrimSpace(host), zone).Scan(&snap.Host, &snap.Zone, &snap.PassID, &stateJSON, &unresolved, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load attribute snapshot: %w", err)
	}

	snap.State = json.RawMessage(stateJSON)
	if unresolved.Valid && unresolved.String != "" {
		if err := json.Unmarshal([]byte(unresolved.String), &snap.Unresolved); err != nil {
			return nil, fmt.Errorf("decode unresolved attributes: %w", err)
		}
	}
	snap.CreatedAt = time.Unix(0, created).UTC()
	return &snap, nil
}
