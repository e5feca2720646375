package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/xbzone/pkg/telemetry"
)

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (event_id, type, level, workflow_id, step_id, resource_id, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if event.Details == "" {
		event.Details = "{}"
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.Type,
		event.Level,
		event.WorkflowID,
		event.StepID,
		event.ResourceID,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination, newest first
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, event_id, type, level, workflow_id, step_id, resource_id, message, details, timestamp
		FROM events
		WHERE (? = '' OR workflow_id = ?)
		  AND (? = '' OR type = ?)
		  AND (? = '' OR level = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.WorkflowID, filter.WorkflowID,
		filter.Type, filter.Type,
		string(filter.Level), string(filter.Level),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		if err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.Type,
			&event.Level,
			&event.WorkflowID,
			&event.StepID,
			&event.ResourceID,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// EventSink returns a subscriber that appends published telemetry events to the store.
func (s *SQLiteStore) EventSink(ctx context.Context) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		details, err := json.Marshal(e.Data)
		if err != nil || e.Data == nil {
			details = []byte("{}")
		}

		level := EventLevel(e.Level)
		switch level {
		case EventLevelDebug, EventLevelInfo, EventLevelWarning, EventLevelError:
		default:
			level = EventLevelInfo
		}

		if err := s.AppendEvent(ctx, &Event{
			EventID:    e.ID,
			Type:       e.Type,
			Level:      level,
			WorkflowID: e.WorkflowID,
			StepID:     e.StepID,
			ResourceID: e.ResourceID,
			Message:    e.Message,
			Details:    string(details),
			Timestamp:  e.Timestamp,
		}); err != nil {
			s.logger.Error().Err(err).Str("event_type", e.Type).Msg("Failed to store event")
		}
	}
}
