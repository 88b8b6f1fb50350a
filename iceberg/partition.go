package iceberg

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"iceberg-ingress/schema"
)

const (
	microsPerHour = int64(3_600_000_000)
	microsPerDay  = int64(86_400_000_000)
)

// PartitionKey is one tuple of transformed partition values. Partitions are
// plain data; two rows with equal transformed values land in the same group
// regardless of which request produced them.
type PartitionKey struct {
	fields []PartitionField
	values []any
}

// Values returns the partition tuple keyed by partition field name, in the
// encoding manifests store (transformed values, nil for null).
func (k PartitionKey) Values() map[string]any {
	out := make(map[string]any, len(k.fields))
	for i, f := range k.fields {
		out[f.Name] = k.values[i]
	}
	return out
}

// Path renders the key as Hive-style path segments, e.g.
// "ts_hour=2026-08-23-10". Empty for an unpartitioned table.
func (k PartitionKey) Path() string {
	segs := make([]string, len(k.fields))
	for i, f := range k.fields {
		segs[i] = f.Name + "=" + humanValue(f.Transform, k.values[i])
	}
	return strings.Join(segs, "/")
}

// canonical is the grouping map key. It must distinguish nil from the
// string "null" and 1 (int) from "1".
func (k PartitionKey) canonical() string {
	parts := make([]string, len(k.values))
	for i, v := range k.values {
		if v == nil {
			parts[i] = "\x00"
			continue
		}
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return strings.Join(parts, "\x1f")
}

type PartitionGroup struct {
	Key  PartitionKey
	Rows []schema.Row
}

// Partitioner groups rows by their partition key. Group order is the
// insertion order of each key's first occurrence; row order inside a group
// follows the input.
type Partitioner struct {
	fields []PartitionField
	source []string // column name per partition field
	groups map[string]*PartitionGroup
	order  []string
}

func NewPartitioner(meta *TableMetadata) (*Partitioner, error) {
	spec, err := meta.DefaultSpec()
	if err != nil {
		return nil, err
	}
	sch, err := meta.CurrentSchema()
	if err != nil {
		return nil, err
	}

	source := make([]string, len(spec.Fields))
	for i, pf := range spec.Fields {
		f, err := sch.fieldByID(pf.SourceID)
		if err != nil {
			return nil, fmt.Errorf("partition field %q: %w", pf.Name, err)
		}
		source[i] = f.Name
	}

	return &Partitioner{
		fields: spec.Fields,
		source: source,
		groups: make(map[string]*PartitionGroup),
	}, nil
}

func (p *Partitioner) Add(batch *schema.Batch) error {
	for _, row := range batch.Rows {
		key, err := p.keyFor(row)
		if err != nil {
			return err
		}
		ck := key.canonical()
		g, ok := p.groups[ck]
		if !ok {
			g = &PartitionGroup{Key: key}
			p.groups[ck] = g
			p.order = append(p.order, ck)
		}
		g.Rows = append(g.Rows, row)
	}
	return nil
}

func (p *Partitioner) Groups() []*PartitionGroup {
	out := make([]*PartitionGroup, 0, len(p.order))
	for _, ck := range p.order {
		out = append(out, p.groups[ck])
	}
	return out
}

func (p *Partitioner) keyFor(row schema.Row) (PartitionKey, error) {
	values := make([]any, len(p.fields))
	for i, pf := range p.fields {
		v, err := applyTransform(pf.Transform, row[p.source[i]])
		if err != nil {
			return PartitionKey{}, fmt.Errorf("partition field %q: %w", pf.Name, err)
		}
		values[i] = v
	}
	return PartitionKey{fields: p.fields, values: values}, nil
}

// applyTransform evaluates one partition transform. Time transforms take
// timestamps as UTC microseconds since epoch (the decoder's normal form)
// and produce the epoch-unit ints the Iceberg spec mandates, so an hour key
// identifies the full hour instant, not an hour-of-day. A null source value
// yields a null partition component.
func applyTransform(transform string, v any) (any, error) {
	if transform == "identity" {
		return v, nil
	}
	if v == nil {
		return nil, nil
	}

	switch transform {
	case "hour":
		us, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("hour transform needs a timestamp, got %T", v)
		}
		return int32(floorDiv(us, microsPerHour)), nil
	case "day":
		switch t := v.(type) {
		case int64:
			return int32(floorDiv(t, microsPerDay)), nil
		case int32: // date column, already days since epoch
			return t, nil
		default:
			return nil, fmt.Errorf("day transform needs a timestamp or date, got %T", v)
		}
	case "month":
		t, err := asTime(v)
		if err != nil {
			return nil, fmt.Errorf("month transform: %w", err)
		}
		return int32((t.Year()-1970)*12 + int(t.Month()) - 1), nil
	case "year":
		t, err := asTime(v)
		if err != nil {
			return nil, fmt.Errorf("year transform: %w", err)
		}
		return int32(t.Year() - 1970), nil
	default:
		return nil, fmt.Errorf("unsupported transform %q", transform)
	}
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case int64:
		return time.UnixMicro(t).UTC(), nil
	case int32:
		return time.Unix(int64(t)*86400, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("needs a timestamp or date, got %T", v)
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func humanValue(transform string, v any) string {
	if v == nil {
		return "null"
	}
	switch transform {
	case "hour":
		return time.Unix(int64(v.(int32))*3600, 0).UTC().Format("2006-01-02-15")
	case "day":
		return time.Unix(int64(v.(int32))*86400, 0).UTC().Format("2006-01-02")
	case "month":
		m := int(v.(int32))
		y, mo := 1970+m/12, m%12
		if mo < 0 {
			mo += 12
			y--
		}
		return fmt.Sprintf("%04d-%02d", y, mo+1)
	case "year":
		return fmt.Sprintf("%04d", 1970+int(v.(int32)))
	default:
		return url.PathEscape(fmt.Sprint(v))
	}
}
