// Package repository provides data access for the session event history.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/remote-agent-terminal/gateway/internal/events"
	"github.com/remote-agent-terminal/gateway/internal/model"
)

// EventRepository stores session lifecycle events.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert appends evt to the history.
func (r *EventRepository) Insert(ctx context.Context, evt events.Event) error {
	query := `
		INSERT INTO session_events (session_id, owner_id, type, reason, exit_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	at := evt.At
	if at.IsZero() {
		at = time.Now()
	}

	var reason sql.NullString
	if evt.Reason != "" {
		reason = sql.NullString{String: string(evt.Reason), Valid: true}
	}
	var exitCode sql.NullInt64
	if evt.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*evt.ExitCode), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		evt.SessionID,
		evt.OwnerID,
		string(evt.Type),
		reason,
		exitCode,
		at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Handle implements events.Sink.
func (r *EventRepository) Handle(ctx context.Context, evt events.Event) error {
	return r.Insert(ctx, evt)
}

// ListBySession returns the events of sessionID in the order they were recorded.
func (r *EventRepository) ListBySession(ctx context.Context, sessionID string) ([]events.Event, error) {
	query := `
		SELECT session_id, owner_id, type, reason, exit_code, created_at
		FROM session_events
		WHERE session_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	result := make([]events.Event, 0)
	for rows.Next() {
		var evt events.Event
		var typ string
		var reason sql.NullString
		var exitCode sql.NullInt64

		if err := rows.Scan(&evt.SessionID, &evt.OwnerID, &typ, &reason, &exitCode, &evt.At); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		evt.Type = events.Type(typ)
		if reason.Valid {
			evt.Reason = model.TerminationReason(reason.String)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			evt.ExitCode = &code
		}
		result = append(result, evt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return result, nil
}

// CountByType returns how many events of the given type were recorded.
func (r *EventRepository) CountByType(ctx context.Context, typ events.Type) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_events WHERE type = ?`, string(typ)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// DeleteBySession removes the history of sessionID.
func (r *EventRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM session_events WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}
