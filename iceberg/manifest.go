package iceberg

// Manifest entry status codes from the Iceberg spec.
const (
	EntryStatusAdded    int32 = 1
	EntryStatusExisting int32 = 2
	EntryStatusDeleted  int32 = 3
)

const FormatParquet = "PARQUET"

type ManifestEntry struct {
	Status       int32    `avro:"status" json:"status"`
	SnapshotID   int64    `avro:"snapshot_id" json:"snapshot_id"`
	SequenceNum  int64    `avro:"sequence_number" json:"sequence_number"`
	FileSequence int64    `avro:"file_sequence_number" json:"file_sequence_number"`
	DataFile     DataFile `avro:"data_file" json:"data_file"`
}

// DataFile describes one immutable parquet object. It is created once by
// the file writer and referenced by exactly one manifest entry.
type DataFile struct {
	Content       int32          `avro:"content" json:"content"` // 0 = data
	FilePath      string         `avro:"file_path" json:"file_path"`
	FileFormat    string         `avro:"file_format" json:"file_format"`
	Partition     map[string]any `avro:"partition" json:"partition"`
	RecordCount   int64          `avro:"record_count" json:"record_count"`
	FileSizeBytes int64          `avro:"file_size_in_bytes" json:"file_size_in_bytes"`
	FileMetrics
}

type FileMetrics struct {
	ValueCounts     map[int]int64  `avro:"value_counts" json:"value_counts,omitempty"`
	NullValueCounts map[int]int64  `avro:"null_value_counts" json:"null_value_counts,omitempty"`
	LowerBounds     map[int][]byte `avro:"lower_bounds" json:"lower_bounds,omitempty"`
	UpperBounds     map[int][]byte `avro:"upper_bounds" json:"upper_bounds,omitempty"`
}

// ManifestFile is one manifest-list entry pointing at a persisted manifest.
type ManifestFile struct {
	ManifestPath       string `avro:"manifest_path" json:"manifest_path"`
	ManifestLength     int64  `avro:"manifest_length" json:"manifest_length"`
	PartitionSpecID    int    `avro:"partition_spec_id" json:"partition_spec_id"`
	Content            int32  `avro:"content" json:"content"`
	SequenceNumber     int64  `avro:"sequence_number" json:"sequence_number"`
	MinSequenceNumber  int64  `avro:"min_sequence_number" json:"min_sequence_number"`
	AddedSnapshotID    int64  `avro:"added_snapshot_id" json:"added_snapshot_id"`
	AddedFilesCount    int32  `avro:"added_files_count" json:"added_files_count"`
	ExistingFilesCount int32  `avro:"existing_files_count" json:"existing_files_count"`
	DeletedFilesCount  int32  `avro:"deleted_files_count" json:"deleted_files_count"`
	AddedRowsCount     int64  `avro:"added_rows_count" json:"added_rows_count"`
	ExistingRowsCount  int64  `avro:"existing_rows_count" json:"existing_rows_count"`
	DeletedRowsCount   int64  `avro:"deleted_rows_count" json:"deleted_rows_count"`
}

// Manifest is the in-memory manifest for one ingest: every data file the
// request produced, all marked added. Snapshot id and sequence numbers are
// stamped by the committer per attempt, since each retry builds a fresh
// snapshot. Nothing is persisted until the commit step.
type Manifest struct {
	Entries    []ManifestEntry
	AddedFiles int32
	AddedRows  int64
}

// BuildManifest wraps the data files written for one ingest request.
func BuildManifest(files []*DataFile) *Manifest {
	m := &Manifest{Entries: make([]ManifestEntry, 0, len(files))}
	for _, f := range files {
		m.Entries = append(m.Entries, ManifestEntry{
			Status:   EntryStatusAdded,
			DataFile: *f,
		})
		m.AddedFiles++
		m.AddedRows += f.RecordCount
	}
	return m
}

// stamp sets the snapshot ownership fields on every entry for one commit
// attempt.
func (m *Manifest) stamp(snapshotID, sequence int64) {
	for i := range m.Entries {
		m.Entries[i].SnapshotID = snapshotID
		m.Entries[i].SequenceNum = sequence
		m.Entries[i].FileSequence = sequence
	}
}
