package schema

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Type is the semantic column type as it appears in Iceberg table metadata.
type Type string

const (
	TypeBoolean   Type = "boolean"
	TypeInt       Type = "int"
	TypeLong      Type = "long"
	TypeFloat     Type = "float"
	TypeDouble    Type = "double"
	TypeDate      Type = "date"
	TypeTimestamp Type = "timestamp"
	TypeString    Type = "string"
	TypeBinary    Type = "binary"
)

type Column struct {
	ID       int
	Name     string
	Type     Type
	Required bool
}

// Table is the ordered column layout a commit is validated against. It is
// immutable for the lifetime of one ingest request.
type Table struct {
	Columns []Column
}

func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// CheckArrow verifies that an Arrow schema carries the same columns, in the
// same order, with types convertible to each column's semantic type.
func (t *Table) CheckArrow(as *arrow.Schema) error {
	if len(as.Fields()) != len(t.Columns) {
		return fmt.Errorf("payload has %d columns, table has %d", len(as.Fields()), len(t.Columns))
	}
	for i, f := range as.Fields() {
		col := t.Columns[i]
		if f.Name != col.Name {
			return fmt.Errorf("column %d is %q, table expects %q", i, f.Name, col.Name)
		}
		got, err := FromArrow(f.Type)
		if err != nil {
			return fmt.Errorf("column %q: %w", f.Name, err)
		}
		if !compatible(got, col.Type) {
			return fmt.Errorf("column %q has type %s, table expects %s", f.Name, got, col.Type)
		}
	}
	return nil
}

// FromArrow maps an Arrow data type to its semantic type, following the
// widening rules used when tables are created from Arrow payloads.
func FromArrow(dt arrow.DataType) (Type, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return TypeBoolean, nil
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.UINT8, arrow.UINT16:
		return TypeInt, nil
	case arrow.INT64, arrow.UINT32, arrow.UINT64:
		return TypeLong, nil
	case arrow.FLOAT32:
		return TypeFloat, nil
	case arrow.FLOAT64:
		return TypeDouble, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return TypeString, nil
	case arrow.BINARY, arrow.LARGE_BINARY:
		return TypeBinary, nil
	case arrow.DATE32:
		return TypeDate, nil
	case arrow.DATE64, arrow.TIMESTAMP:
		return TypeTimestamp, nil
	default:
		return "", fmt.Errorf("unsupported arrow type %s", dt)
	}
}

// compatible reports whether a decoded type can be stored into a declared
// column type. Ints widen to longs, floats to doubles.
func compatible(got, want Type) bool {
	if got == want {
		return true
	}
	switch want {
	case TypeLong:
		return got == TypeInt
	case TypeDouble:
		return got == TypeFloat
	}
	return false
}
