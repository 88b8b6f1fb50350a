package schema

// Row holds one record keyed by column name. Values use a fixed Go
// representation per semantic type: boolean→bool, int→int32, long→int64,
// float→float32, double→float64, string→string, binary→[]byte,
// date→int32 (days since epoch), timestamp→int64 (UTC microseconds since
// epoch). Absent or null columns are nil.
type Row map[string]any

// Batch is a decoded, schema-validated block of rows. It is owned by the
// request that decoded it; nothing retains it past the commit step.
type Batch struct {
	Table *Table
	Rows  []Row
}

func (b *Batch) NumRows() int {
	return len(b.Rows)
}
