package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jcmexdev/dvp-settlement/internal/eventlog"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

var _ eventlog.Repository = (*EventRepository)(nil)

// EventRepository is the SQLite implementation of eventlog.Repository.
type EventRepository struct {
	db *sql.DB
}

// Append inserts a new entry and sets entry.Seq. It is safe to call concurrently.
func (r *EventRepository) Append(ctx context.Context, entry *eventlog.Entry) error {
	const q = `
		INSERT INTO events
			(event_id, source, name, order_id, payload, trace_id, span_id, emitted_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, q,
		entry.EventID,
		string(entry.Source),
		string(entry.Name),
		string(entry.OrderID),
		entry.Payload,
		entry.TraceID,
		entry.SpanID,
		formatTime(entry.EmittedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append event %s for %q: %w", entry.Name, entry.OrderID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: append event %s: %w", entry.Name, err)
	}
	entry.Seq = seq
	return nil
}

func (r *EventRepository) List(ctx context.Context, f eventlog.Filter) ([]eventlog.Entry, error) {
	var (
		where = []string{"seq > ?"}
		args  = []any{f.AfterSeq}
	)
	if f.OrderID != settlement.NoOrder {
		where = append(where, "order_id = ?")
		args = append(args, string(f.OrderID))
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, string(f.Name))
	}

	q := `SELECT seq, event_id, source, name, order_id, payload, trace_id, span_id, emitted_at
		FROM events WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	out := make([]eventlog.Entry, 0)
	for rows.Next() {
		var (
			e                     eventlog.Entry
			source, name, orderID string
			emittedAt             string
		)
		if err := rows.Scan(&e.Seq, &e.EventID, &source, &name, &orderID, &e.Payload,
			&e.TraceID, &e.SpanID, &emittedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		e.Source = settlement.Address(source)
		e.Name = settlement.EventName(name)
		e.OrderID = settlement.OrderID(orderID)
		if e.EmittedAt, err = parseRFC3339(emittedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
