package arrowio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"iceberg-ingress/schema"
)

var (
	// ErrMalformedPayload marks payloads that cannot be parsed as an Arrow
	// IPC stream: bad framing, truncation, or unsupported column data.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrSchemaMismatch marks payloads whose embedded schema disagrees with
	// the target table's schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// Decoder parses Arrow IPC stream payloads into validated batches. It is
// stateless and safe for concurrent use.
type Decoder struct {
	mem memory.Allocator
}

func NewDecoder() *Decoder {
	return &Decoder{mem: memory.DefaultAllocator}
}

// Decode reads every record batch in the stream and validates each against
// the table schema. Validation happens here and nowhere else; downstream
// stages trust the returned batches. A well-formed stream carrying a schema
// but no batches decodes to zero batches, the same no-op as a 0-row batch.
func (d *Decoder) Decode(payload []byte, table *schema.Table) ([]*schema.Batch, error) {
	reader, err := ipc.NewReader(bytes.NewReader(payload), ipc.WithAllocator(d.mem))
	if err != nil {
		return nil, fmt.Errorf("%w: opening arrow stream: %v", ErrMalformedPayload, err)
	}
	defer reader.Release()

	if err := table.CheckArrow(reader.Schema()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	var batches []*schema.Batch
	for reader.Next() {
		batch, err := d.convertRecord(reader.Record(), table)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading arrow stream: %v", ErrMalformedPayload, err)
	}

	return batches, nil
}

func (d *Decoder) convertRecord(rec arrow.Record, table *schema.Table) (*schema.Batch, error) {
	n := int(rec.NumRows())
	rows := make([]schema.Row, n)
	for i := range rows {
		rows[i] = make(schema.Row, len(table.Columns))
	}

	for c := 0; c < int(rec.NumCols()); c++ {
		// Column order was validated against the table schema already.
		if err := convertColumn(rec.Column(c), table.Columns[c], rows); err != nil {
			return nil, err
		}
	}

	return &schema.Batch{Table: table, Rows: rows}, nil
}

// convertColumn copies one Arrow column into the row maps, normalizing
// values to the fixed per-type representation documented on schema.Row.
// Narrow payload values are widened to the declared column type (int32 in
// a long column becomes int64) so every downstream stage sees one Go type
// per column. Byte slices are copied because the Arrow buffers are released
// once the stream reader is done.
func convertColumn(col arrow.Array, column schema.Column, rows []schema.Row) error {
	name := column.Name
	set := func(i int, v any) {
		if col.IsNull(i) {
			rows[i][name] = nil
			return
		}
		rows[i][name] = widen(v, column.Type)
	}

	switch arr := col.(type) {
	case *array.Boolean:
		for i := range rows {
			set(i, arr.Value(i))
		}
	case *array.Int8:
		for i := range rows {
			set(i, int32(arr.Value(i)))
		}
	case *array.Int16:
		for i := range rows {
			set(i, int32(arr.Value(i)))
		}
	case *array.Int32:
		for i := range rows {
			set(i, arr.Value(i))
		}
	case *array.Uint8:
		for i := range rows {
			set(i, int32(arr.Value(i)))
		}
	case *array.Uint16:
		for i := range rows {
			set(i, int32(arr.Value(i)))
		}
	case *array.Int64:
		for i := range rows {
			set(i, arr.Value(i))
		}
	case *array.Uint32:
		for i := range rows {
			set(i, int64(arr.Value(i)))
		}
	case *array.Uint64:
		for i := range rows {
			set(i, int64(arr.Value(i)))
		}
	case *array.Float32:
		for i := range rows {
			set(i, arr.Value(i))
		}
	case *array.Float64:
		for i := range rows {
			set(i, arr.Value(i))
		}
	case *array.String:
		for i := range rows {
			set(i, arr.Value(i))
		}
	case *array.LargeString:
		for i := range rows {
			set(i, arr.Value(i))
		}
	case *array.Binary:
		for i := range rows {
			set(i, append([]byte(nil), arr.Value(i)...))
		}
	case *array.LargeBinary:
		for i := range rows {
			set(i, append([]byte(nil), arr.Value(i)...))
		}
	case *array.Date32:
		for i := range rows {
			set(i, int32(arr.Value(i)))
		}
	case *array.Date64:
		for i := range rows {
			set(i, int64(arr.Value(i))*1000)
		}
	case *array.Timestamp:
		unit := col.DataType().(*arrow.TimestampType).Unit
		for i := range rows {
			set(i, toMicros(int64(arr.Value(i)), unit))
		}
	default:
		return fmt.Errorf("%w: unsupported column type %s for %q", ErrMalformedPayload, col.DataType(), name)
	}
	return nil
}

func widen(v any, t schema.Type) any {
	switch t {
	case schema.TypeLong:
		if n, ok := v.(int32); ok {
			return int64(n)
		}
	case schema.TypeDouble:
		if f, ok := v.(float32); ok {
			return float64(f)
		}
	}
	return v
}

func toMicros(v int64, unit arrow.TimeUnit) int64 {
	switch unit {
	case arrow.Second:
		return v * 1_000_000
	case arrow.Millisecond:
		return v * 1_000
	case arrow.Nanosecond:
		return v / 1_000
	default:
		return v
	}
}
