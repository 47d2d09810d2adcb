package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// BatchInserter is the subset of client.ClickHouseClient the writer needs.
type BatchInserter interface {
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
}

// ClickHouseSchema creates the audit table; %s is the table name.
const ClickHouseSchema = `CREATE TABLE IF NOT EXISTS %s (
	id String,
	timestamp DateTime64(3, 'UTC'),
	level LowCardinality(String),
	category LowCardinality(String),
	message String,
	actor_id String,
	actor_role LowCardinality(String),
	client_address String,
	endpoint String,
	method LowCardinality(String),
	status_code UInt16,
	duration_ms UInt32,
	request_id String,
	metadata String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (category, timestamp)`

// ClickHouseWriter buffers events and inserts them in batches. The buffer is
// flushed when it reaches BatchSize, on dispatcher Flush and on Close.
type ClickHouseWriter struct {
	inserter  BatchInserter
	table     string
	batchSize int

	mu      sync.Mutex
	pending [][]interface{}
}

func NewClickHouseWriter(inserter BatchInserter, table string, batchSize int) *ClickHouseWriter {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &ClickHouseWriter{inserter: inserter, table: table, batchSize: batchSize}
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

func (w *ClickHouseWriter) Write(ctx context.Context, e Event) error {
	metadata := "{}"
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = string(raw)
	}

	w.mu.Lock()
	w.pending = append(w.pending, []interface{}{
		e.ID,
		e.Timestamp.UTC(),
		string(e.Level),
		string(e.Category),
		e.Message,
		e.ActorID,
		e.ActorRole,
		e.ClientAddress,
		e.Endpoint,
		e.Method,
		uint16(e.StatusCode),
		uint32(e.DurationMs),
		e.RequestID,
		metadata,
	})
	full := len(w.pending) >= w.batchSize
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Flush inserts everything buffered so far. Rows of a failed batch are
// dropped so that one bad batch cannot grow the buffer without bound.
func (w *ClickHouseWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	rows := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	if err := w.inserter.BatchInsert(ctx, "INSERT INTO "+w.table, rows); err != nil {
		return fmt.Errorf("insert %d audit rows: %w", len(rows), err)
	}
	return nil
}

func (w *ClickHouseWriter) Close() error {
	return w.Flush(context.Background())
}

// Pending returns the number of buffered rows.
func (w *ClickHouseWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
