package audit

import (
	"context"
	"fmt"
)

// DocumentIndexer is the subset of client.ESClient the writer needs.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticWriter indexes events into monthly indices named <prefix>-YYYY.MM.
type ElasticWriter struct {
	indexer DocumentIndexer
	prefix  string
}

func NewElasticWriter(indexer DocumentIndexer, prefix string) *ElasticWriter {
	return &ElasticWriter{indexer: indexer, prefix: prefix}
}

func (w *ElasticWriter) Name() string { return "elasticsearch" }

func (w *ElasticWriter) Write(ctx context.Context, e Event) error {
	if err := w.indexer.IndexDocument(ctx, w.IndexFor(e), e.ID, e); err != nil {
		return fmt.Errorf("index audit event: %w", err)
	}
	return nil
}

// IndexFor returns the index an event is written to.
func (w *ElasticWriter) IndexFor(e Event) string {
	return w.prefix + "-" + e.Timestamp.UTC().Format("2006.01")
}

func (w *ElasticWriter) Close() error { return nil }
