package iceberg

import (
	"fmt"

	"iceberg-ingress/schema"
)

type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

type PartitionField struct {
	SourceID  int    `json:"source-id"` // ID from the schema
	FieldID   int    `json:"field-id"`  // Unique ID for partition field
	Name      string `json:"name"`      // Partition name (e.g. "ts_hour")
	Transform string `json:"transform"` // identity, year, month, day, hour
}

type SchemaV2 struct {
	Type     string  `json:"type"`
	SchemaID int     `json:"schema-id"`
	Fields   []Field `json:"fields"`
}

type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMs      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list"`
	Summary          map[string]string `json:"summary"`
	SchemaID         int               `json:"schema-id"`
}

type SnapshotLogEntry struct {
	TimestampMs int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

type MetadataLogEntry struct {
	TimestampMs  int64  `json:"timestamp-ms"`
	MetadataFile string `json:"metadata-file"`
}

// TableMetadata is the format-version-2 table metadata document. Field
// names follow the Iceberg table spec so that independent readers (query
// engines) can open what the committer writes.
type TableMetadata struct {
	FormatVersion      int                `json:"format-version"`
	TableUUID          string             `json:"table-uuid"`
	Location           string             `json:"location"`
	LastSequenceNumber int64              `json:"last-sequence-number"`
	LastUpdatedMs      int64              `json:"last-updated-ms"`
	LastColumnID       int                `json:"last-column-id"`
	CurrentSchemaID    int                `json:"current-schema-id"`
	Schemas            []SchemaV2         `json:"schemas"`
	DefaultSpecID      int                `json:"default-spec-id"`
	PartitionSpecs     []PartitionSpec    `json:"partition-specs"`
	LastPartitionID    int                `json:"last-partition-id"`
	Properties         map[string]string  `json:"properties,omitempty"`
	CurrentSnapshotID  *int64             `json:"current-snapshot-id,omitempty"`
	Snapshots          []*Snapshot        `json:"snapshots,omitempty"`
	SnapshotLog        []SnapshotLogEntry `json:"snapshot-log,omitempty"`
	MetadataLog        []MetadataLogEntry `json:"metadata-log,omitempty"`
}

// CurrentSnapshot returns the snapshot the current-snapshot-id points at,
// or nil for a table with no commits yet.
func (m *TableMetadata) CurrentSnapshot() *Snapshot {
	if m.CurrentSnapshotID == nil {
		return nil
	}
	for _, s := range m.Snapshots {
		if s.SnapshotID == *m.CurrentSnapshotID {
			return s
		}
	}
	return nil
}

func (m *TableMetadata) CurrentSchema() (*SchemaV2, error) {
	for i := range m.Schemas {
		if m.Schemas[i].SchemaID == m.CurrentSchemaID {
			return &m.Schemas[i], nil
		}
	}
	return nil, fmt.Errorf("schema %d not found in table metadata", m.CurrentSchemaID)
}

func (m *TableMetadata) DefaultSpec() (*PartitionSpec, error) {
	for i := range m.PartitionSpecs {
		if m.PartitionSpecs[i].SpecID == m.DefaultSpecID {
			return &m.PartitionSpecs[i], nil
		}
	}
	return nil, fmt.Errorf("partition spec %d not found in table metadata", m.DefaultSpecID)
}

// TableSchema converts the current metadata schema into the semantic table
// schema the decoder validates payloads against.
func (m *TableMetadata) TableSchema() (*schema.Table, error) {
	s, err := m.CurrentSchema()
	if err != nil {
		return nil, err
	}

	table := &schema.Table{Columns: make([]schema.Column, 0, len(s.Fields))}
	for _, f := range s.Fields {
		table.Columns = append(table.Columns, schema.Column{
			ID:       f.ID,
			Name:     f.Name,
			Type:     schema.Type(f.Type),
			Required: f.Required,
		})
	}
	return table, nil
}

func (s *SchemaV2) fieldByID(id int) (*Field, error) {
	for i := range s.Fields {
		if s.Fields[i].ID == id {
			return &s.Fields[i], nil
		}
	}
	return nil, fmt.Errorf("field %d not found in schema %d", id, s.SchemaID)
}
