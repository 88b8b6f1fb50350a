package iceberg

import (
	"bytes"
	"encoding/binary"
	"math"

	"iceberg-ingress/schema"
)

// truncateBoundsTo caps string/binary bounds, mirroring the
// write.metadata.metrics.default=truncate(16) table property.
const truncateBoundsTo = 16

// boundsTracker accumulates per-column min/max and null counts in the same
// pass that serializes rows, so no read-back of the written file is needed.
type boundsTracker struct {
	table *schema.Table
	cols  map[string]*colBounds
}

type colBounds struct {
	typ   schema.Type
	min   any
	max   any
	nulls int64
}

func newBoundsTracker(table *schema.Table) *boundsTracker {
	cols := make(map[string]*colBounds, len(table.Columns))
	for _, c := range table.Columns {
		cols[c.Name] = &colBounds{typ: c.Type}
	}
	return &boundsTracker{table: table, cols: cols}
}

func (t *boundsTracker) observe(row schema.Row) {
	for name, cb := range t.cols {
		v := row[name]
		if v == nil {
			cb.nulls++
			continue
		}
		if cb.min == nil || compareValues(cb.typ, v, cb.min) < 0 {
			cb.min = v
		}
		if cb.max == nil || compareValues(cb.typ, v, cb.max) > 0 {
			cb.max = v
		}
	}
}

// metrics encodes the accumulated bounds keyed by schema field ID.
func (t *boundsTracker) metrics(rowCount int64) FileMetrics {
	m := FileMetrics{
		ValueCounts:     make(map[int]int64, len(t.table.Columns)),
		NullValueCounts: make(map[int]int64, len(t.table.Columns)),
		LowerBounds:     make(map[int][]byte),
		UpperBounds:     make(map[int][]byte),
	}
	for _, col := range t.table.Columns {
		cb := t.cols[col.Name]
		m.ValueCounts[col.ID] = rowCount
		m.NullValueCounts[col.ID] = cb.nulls
		if cb.min != nil {
			m.LowerBounds[col.ID] = encodeBound(cb.typ, cb.min, false)
		}
		if cb.max != nil {
			m.UpperBounds[col.ID] = encodeBound(cb.typ, cb.max, true)
		}
	}
	return m
}

func compareValues(t schema.Type, a, b any) int {
	switch t {
	case schema.TypeBoolean:
		av, bv := a.(bool), b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case schema.TypeInt, schema.TypeDate:
		return cmpOrdered(asInt64(a), asInt64(b))
	case schema.TypeLong, schema.TypeTimestamp:
		return cmpOrdered(asInt64(a), asInt64(b))
	case schema.TypeFloat, schema.TypeDouble:
		return cmpOrdered(asFloat64(a), asFloat64(b))
	case schema.TypeString:
		return bytes.Compare([]byte(a.(string)), []byte(b.(string)))
	case schema.TypeBinary:
		return bytes.Compare(a.([]byte), b.([]byte))
	default:
		return 0
	}
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

// encodeBound serializes a value with the Iceberg single-value binary
// encoding: little-endian fixed width for numerics, raw UTF-8/bytes
// (truncated) for strings and binary. upper selects the truncation that
// keeps the stored bound at or above the value.
func encodeBound(t schema.Type, v any, upper bool) []byte {
	switch t {
	case schema.TypeBoolean:
		if v.(bool) {
			return []byte{1}
		}
		return []byte{0}
	case schema.TypeInt, schema.TypeDate:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(int32(asInt64(v))))
		return buf
	case schema.TypeLong, schema.TypeTimestamp:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(asInt64(v)))
		return buf
	case schema.TypeFloat:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v.(float32)))
		return buf
	case schema.TypeDouble:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.(float64)))
		return buf
	case schema.TypeString:
		return truncateBound([]byte(v.(string)), upper)
	case schema.TypeBinary:
		return truncateBound(v.([]byte), upper)
	default:
		return nil
	}
}

// truncateBound caps a variable-length bound at truncateBoundsTo bytes. A
// lower bound keeps the plain prefix. An upper bound must stay at or above
// every value it covers, so the truncated prefix is incremented at its last
// non-0xFF byte; if every byte is 0xFF the full value is kept instead.
func truncateBound(b []byte, upper bool) []byte {
	if len(b) <= truncateBoundsTo {
		return append([]byte(nil), b...)
	}
	if !upper {
		return append([]byte(nil), b[:truncateBoundsTo]...)
	}

	t := append([]byte(nil), b[:truncateBoundsTo]...)
	for i := len(t) - 1; i >= 0; i-- {
		if t[i] != 0xFF {
			t[i]++
			return t[:i+1]
		}
	}
	return append([]byte(nil), b...)
}
