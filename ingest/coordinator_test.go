package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"iceberg-ingress/catalog"
	"iceberg-ingress/config"
	"iceberg-ingress/iceberg"
	"iceberg-ingress/storage"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Ingest.DefaultNamespace = "default"
	cfg.Ingest.RequestTimeout = 10 * time.Second
	cfg.Ingest.CommitRetries = 10
	cfg.Ingest.CommitBackoff = time.Millisecond
	cfg.Ingest.WriteRetries = 1
	return cfg
}

func eventsMetadata() *iceberg.TableMetadata {
	return &iceberg.TableMetadata{
		FormatVersion:   2,
		TableUUID:       "9c2f7f6a-0df1-4f0e-8d2a-98b4f9a34c11",
		Location:        "s3://warehouse/analytics/events",
		LastColumnID:    3,
		CurrentSchemaID: 0,
		Schemas: []iceberg.SchemaV2{{
			Type:     "struct",
			SchemaID: 0,
			Fields: []iceberg.Field{
				{ID: 1, Name: "id", Type: "long", Required: true},
				{ID: 2, Name: "ts", Type: "timestamp"},
				{ID: 3, Name: "msg", Type: "string"},
			},
		}},
		DefaultSpecID: 0,
		PartitionSpecs: []iceberg.PartitionSpec{{
			SpecID: 0,
			Fields: []iceberg.PartitionField{
				{SourceID: 2, FieldID: 1000, Name: "ts_hour", Transform: "hour"},
			},
		}},
		LastPartitionID: 1000,
	}
}

// fakeCatalog serves one table with a compare-and-swap metadata pointer.
type fakeCatalog struct {
	mu       sync.Mutex
	store    storage.Storage
	meta     *iceberg.TableMetadata
	location string
}

func newFakeCatalog(store storage.Storage, meta *iceberg.TableMetadata) *fakeCatalog {
	return &fakeCatalog{
		store:    store,
		meta:     meta,
		location: meta.Location + "/metadata/00000-init.metadata.json",
	}
}

func (f *fakeCatalog) LoadTable(ctx context.Context, namespace, table string) (*iceberg.TableMetadata, string, error) {
	if table != "events" {
		return nil, "", fmt.Errorf("%w: %s.%s", catalog.ErrTableNotFound, namespace, table)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.Marshal(f.meta)
	if err != nil {
		return nil, "", err
	}
	var clone iceberg.TableMetadata
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, "", err
	}
	return &clone, f.location, nil
}

func (f *fakeCatalog) CommitTable(ctx context.Context, namespace, table, newLocation, expectedLocation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if expectedLocation != f.location {
		return fmt.Errorf("%w: stale metadata location", iceberg.ErrCommitConflict)
	}

	rc, err := f.store.Read(ctx, storage.ObjectKey(newLocation))
	if err != nil {
		return err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}

	var meta iceberg.TableMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return err
	}
	f.meta = &meta
	f.location = newLocation
	return nil
}

func eventsPayload(t *testing.T, ids []int64, stamps []time.Time, msgs []string) []byte {
	t.Helper()
	sch := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "ts", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
		{Name: "msg", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, sch)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(ids, nil)
	tsb := b.Field(1).(*array.TimestampBuilder)
	for _, s := range stamps {
		tsb.Append(arrow.Timestamp(s.UnixMicro()))
	}
	msgb := b.Field(2).(*array.StringBuilder)
	for _, m := range msgs {
		msgb.Append(m)
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(sch))
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readManifest(t *testing.T, store storage.Storage, list []iceberg.ManifestFile, i int) []iceberg.ManifestEntry {
	t.Helper()
	rc, err := store.Read(context.Background(), storage.ObjectKey(list[i].ManifestPath))
	require.NoError(t, err)
	defer rc.Close()
	var entries []iceberg.ManifestEntry
	require.NoError(t, json.NewDecoder(rc).Decode(&entries))
	return entries
}

func readManifestList(t *testing.T, store storage.Storage, snap *iceberg.Snapshot) []iceberg.ManifestFile {
	t.Helper()
	rc, err := store.Read(context.Background(), storage.ObjectKey(snap.ManifestList))
	require.NoError(t, err)
	defer rc.Close()
	var list []iceberg.ManifestFile
	require.NoError(t, json.NewDecoder(rc).Decode(&list))
	return list
}

func TestIngestHourPartitionedScenario(t *testing.T) {
	store := storage.NewMemoryStorage()
	cat := newFakeCatalog(store, eventsMetadata())
	c := NewCoordinator(testConfig(), cat, store, zap.NewNop())

	day := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	payload := eventsPayload(t,
		[]int64{1, 2, 3},
		[]time.Time{
			day.Add(10*time.Hour + 15*time.Minute + 30*time.Second),
			day.Add(10*time.Hour + 45*time.Minute + 20*time.Second),
			day.Add(11*time.Hour + 20*time.Minute + 15*time.Second),
		},
		[]string{"a", "b", "c"})

	result, err := c.Ingest(context.Background(), "analytics", "events", payload)
	require.NoError(t, err)
	require.Equal(t, int64(3), result.Rows)
	require.Equal(t, 2, result.Files)
	require.NotNil(t, result.Snapshot)
	require.Nil(t, result.Snapshot.ParentSnapshotID)

	list := readManifestList(t, store, result.Snapshot)
	require.Len(t, list, 1)
	require.Equal(t, int32(2), list[0].AddedFilesCount)
	require.Equal(t, int64(3), list[0].AddedRowsCount)

	entries := readManifest(t, store, list, 0)
	require.Len(t, entries, 2)
	require.Equal(t, int64(2), entries[0].DataFile.RecordCount)
	require.Equal(t, int64(1), entries[1].DataFile.RecordCount)
	for _, e := range entries {
		require.Equal(t, result.Snapshot.SnapshotID, e.SnapshotID)
		require.Equal(t, iceberg.EntryStatusAdded, e.Status)
	}
}

func TestIngestZeroRowsIsNoOp(t *testing.T) {
	store := storage.NewMemoryStorage()
	cat := newFakeCatalog(store, eventsMetadata())
	c := NewCoordinator(testConfig(), cat, store, zap.NewNop())

	before := cat.location
	result, err := c.Ingest(context.Background(), "analytics", "events", eventsPayload(t, nil, nil, nil))
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Rows)
	require.Nil(t, result.Snapshot)
	require.Equal(t, before, cat.location, "zero-row ingest must not advance the table")

	files, err := store.List(context.Background(), "analytics/events/")
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestIngestSchemaOnlyStreamIsNoOp(t *testing.T) {
	store := storage.NewMemoryStorage()
	cat := newFakeCatalog(store, eventsMetadata())
	c := NewCoordinator(testConfig(), cat, store, zap.NewNop())

	sch := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "ts", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
		{Name: "msg", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(sch))
	require.NoError(t, w.Close())

	before := cat.location
	result, err := c.Ingest(context.Background(), "analytics", "events", buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Rows)
	require.Nil(t, result.Snapshot)
	require.Equal(t, before, cat.location)
}

func TestIngestCancelledRequestIsNotTimeout(t *testing.T) {
	store := storage.NewMemoryStorage()
	cat := newFakeCatalog(store, eventsMetadata())
	c := NewCoordinator(testConfig(), cat, store, zap.NewNop())

	day := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	payload := eventsPayload(t, []int64{1}, []time.Time{day.Add(10 * time.Hour)}, []string{"a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Ingest(ctx, "analytics", "events", payload)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.NotEqual(t, KindTimeout, Classify(err))
}

func TestIngestConcurrentRequestsUnion(t *testing.T) {
	store := storage.NewMemoryStorage()
	cat := newFakeCatalog(store, eventsMetadata())

	day := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	stamps := []time.Time{
		day.Add(9 * time.Hour), day.Add(9*time.Hour + 30*time.Minute), day.Add(10 * time.Hour),
	}

	const requests = 2
	var wg sync.WaitGroup
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewCoordinator(testConfig(), cat, store, zap.NewNop())
			base := int64(i * 100)
			payload := eventsPayload(t,
				[]int64{base + 1, base + 2, base + 3}, stamps, []string{"x", "y", "z"})
			_, errs[i] = c.Ingest(context.Background(), "analytics", "events", payload)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "request %d", i)
	}

	final, _, err := cat.LoadTable(context.Background(), "analytics", "events")
	require.NoError(t, err)
	snap := final.CurrentSnapshot()
	require.NotNil(t, snap)
	require.Equal(t, "6", snap.Summary["total-records"])

	list := readManifestList(t, store, snap)
	require.Len(t, list, requests)
	var rows int64
	var files int32
	for _, mf := range list {
		rows += mf.AddedRowsCount
		files += mf.AddedFilesCount
	}
	require.Equal(t, int64(6), rows)
	require.GreaterOrEqual(t, files, int32(2))
}

func TestIngestSchemaMismatch(t *testing.T) {
	store := storage.NewMemoryStorage()
	cat := newFakeCatalog(store, eventsMetadata())
	c := NewCoordinator(testConfig(), cat, store, zap.NewNop())

	sch := arrow.NewSchema([]arrow.Field{
		{Name: "wrong", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, sch)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(1)
	rec := b.NewRecord()
	defer rec.Release()
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(sch))
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())

	_, err := c.Ingest(context.Background(), "analytics", "events", buf.Bytes())
	require.Error(t, err)
	require.Equal(t, KindSchemaMismatch, Classify(err))

	// Fail-fast: nothing was written.
	files, listErr := store.List(context.Background(), "analytics/events/")
	require.NoError(t, listErr)
	require.Empty(t, files)
}

func TestIngestMalformedPayload(t *testing.T) {
	store := storage.NewMemoryStorage()
	cat := newFakeCatalog(store, eventsMetadata())
	c := NewCoordinator(testConfig(), cat, store, zap.NewNop())

	_, err := c.Ingest(context.Background(), "analytics", "events", []byte("junk"))
	require.Error(t, err)
	require.Equal(t, KindMalformedPayload, Classify(err))
}

func TestIngestTableNotFound(t *testing.T) {
	store := storage.NewMemoryStorage()
	cat := newFakeCatalog(store, eventsMetadata())
	c := NewCoordinator(testConfig(), cat, store, zap.NewNop())

	_, err := c.Ingest(context.Background(), "analytics", "missing", nil)
	require.Error(t, err)
	require.Equal(t, KindTableNotFound, Classify(err))
}
