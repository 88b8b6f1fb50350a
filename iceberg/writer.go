package iceberg

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"iceberg-ingress/schema"
	"iceberg-ingress/storage"
)

// FileWriter serializes partition groups into immutable parquet objects
// under the table location. Paths embed the partition directory and a
// random uuid, so concurrent writers can never collide and no path is ever
// rewritten in place.
type FileWriter struct {
	store   storage.Storage
	retries int
}

// NewFileWriter returns a writer that re-attempts failed storage writes up
// to retries additional times before reporting ErrWriteFailure.
func NewFileWriter(store storage.Storage, retries int) *FileWriter {
	return &FileWriter{store: store, retries: retries}
}

// WriteGroup serializes one partition's rows into one new data file and
// returns its descriptor. Row count, byte size, and per-column bounds are
// computed during the single serialization pass.
func (w *FileWriter) WriteGroup(ctx context.Context, meta *TableMetadata, table *schema.Table, group *PartitionGroup) (*DataFile, error) {
	pqSchema, err := parquetSchema(table)
	if err != nil {
		return nil, fmt.Errorf("creating parquet schema: %w", err)
	}

	tracker := newBoundsTracker(table)
	records := make([]map[string]any, len(group.Rows))
	for i, row := range group.Rows {
		tracker.observe(row)
		records[i] = map[string]any(row)
	}

	var buf bytes.Buffer
	pw := parquet.NewGenericWriter[map[string]any](&buf, pqSchema)
	if _, err := pw.Write(records); err != nil {
		return nil, fmt.Errorf("%w: encoding parquet rows: %v", ErrWriteFailure, err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing parquet writer: %v", ErrWriteFailure, err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// A fresh name per attempt: a failed attempt may have left a
		// partial object behind, and that key must never be reused.
		rel := path.Join("data", group.Key.Path(), uuid.New().String()+".parquet")
		filePath := meta.Location + "/" + rel

		if err := w.store.Write(ctx, storage.ObjectKey(filePath), bytes.NewReader(buf.Bytes())); err != nil {
			lastErr = err
			continue
		}

		return &DataFile{
			Content:       0,
			FilePath:      filePath,
			FileFormat:    FormatParquet,
			Partition:     group.Key.Values(),
			RecordCount:   int64(len(group.Rows)),
			FileSizeBytes: int64(buf.Len()),
			FileMetrics:   tracker.metrics(int64(len(group.Rows))),
		}, nil
	}

	return nil, fmt.Errorf("%w: writing data file after %d attempts: %v", ErrWriteFailure, w.retries+1, lastErr)
}

func parquetSchema(table *schema.Table) (*parquet.Schema, error) {
	root := make(parquet.Group)

	for _, col := range table.Columns {
		var node parquet.Node

		switch col.Type {
		case schema.TypeBoolean:
			node = parquet.Leaf(parquet.BooleanType)
		case schema.TypeInt:
			node = parquet.Leaf(parquet.Int32Type)
		case schema.TypeLong:
			node = parquet.Leaf(parquet.Int64Type)
		case schema.TypeFloat:
			node = parquet.Leaf(parquet.FloatType)
		case schema.TypeDouble:
			node = parquet.Leaf(parquet.DoubleType)
		case schema.TypeDate:
			node = parquet.Date()
		case schema.TypeTimestamp:
			node = parquet.Timestamp(parquet.Microsecond)
		case schema.TypeString:
			node = parquet.String()
		case schema.TypeBinary:
			node = parquet.Leaf(parquet.ByteArrayType)
		default:
			return nil, fmt.Errorf("unsupported type: %s", col.Type)
		}

		if !col.Required {
			node = parquet.Optional(node)
		}
		root[col.Name] = node
	}

	return parquet.NewSchema("table", root), nil
}
