// Package audit records device lifecycle events (found, lost, shutdown) in
// SQLite and serves them back for inspection.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event kinds stored in lifecycle_events.event.
const (
	KindFound    = "found"
	KindLost     = "lost"
	KindShutdown = "shutdown"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Event is one lifecycle row.
type Event struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name,omitempty"`
	Generation string    `json:"generation"`
	Kind       string    `json:"event"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter controls which events List returns.
type Filter struct {
	DeviceID string // optional
	Kind     string // optional: found, lost, shutdown
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of events, newest first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores lifecycle events.
type Repository interface {
	Create(ctx context.Context, ev *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores events in the lifecycle_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts ev, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = "evt-" + uuid.NewString()[:8]
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lifecycle_events (id, device_id, device_name, generation, event, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.DeviceID, ev.DeviceName, ev.Generation, ev.Kind,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting lifecycle event: %w", err)
	}
	return nil
}

// List returns events matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, filter.Kind)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM lifecycle_events " + where //nolint:gosec // placeholders only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting lifecycle events: %w", err)
	}

	query := "SELECT id, device_id, device_name, generation, event, created_at FROM lifecycle_events " + //nolint:gosec // placeholders only
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lifecycle events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.DeviceID, &ev.DeviceName, &ev.Generation, &ev.Kind, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning lifecycle event: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing lifecycle event timestamp %q: %w", createdAt, err)
		}
		ev.CreatedAt = t
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lifecycle events: %w", err)
	}

	return &ListResult{Events: events, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}
