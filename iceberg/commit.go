package iceberg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"iceberg-ingress/metrics"
	"iceberg-ingress/storage"
)

// Catalog is the external service of record for a table's current metadata
// pointer. The conditional update must be atomic: exactly one writer wins
// per token.
type Catalog interface {
	// LoadTable returns the current table metadata and its version token
	// (the current metadata location).
	LoadTable(ctx context.Context, namespace, table string) (*TableMetadata, string, error)

	// CommitTable swaps the table's metadata pointer to newLocation if the
	// current pointer still equals expectedLocation, and returns
	// ErrCommitConflict otherwise.
	CommitTable(ctx context.Context, namespace, table, newLocation, expectedLocation string) error
}

// Committer atomically extends a table's snapshot history with one new
// manifest, tolerating concurrent writers through a bounded optimistic
// retry loop. It holds no per-table state; all coordination lives in the
// catalog's compare-and-swap.
type Committer struct {
	catalog Catalog
	store   storage.Storage
	retries int
	backoff time.Duration
	log     *zap.Logger
}

func NewCommitter(cat Catalog, store storage.Storage, retries int, backoff time.Duration, log *zap.Logger) *Committer {
	return &Committer{
		catalog: cat,
		store:   store,
		retries: retries,
		backoff: backoff,
		log:     log,
	}
}

// Commit builds a snapshot on top of the current table state and submits it
// via the catalog's conditional swap. On a version conflict the locally
// built objects are abandoned, fresh metadata is fetched, and the snapshot
// is rebuilt against the new parent. Objects written by losing attempts
// remain on storage as unreferenced garbage; they cost space, not
// correctness, since visibility is gated by the catalog pointer.
func (c *Committer) Commit(ctx context.Context, namespace, table string, meta *TableMetadata, token string, manifest *Manifest) (*Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt); err != nil {
				return nil, err
			}
			var err error
			meta, token, err = c.catalog.LoadTable(ctx, namespace, table)
			if err != nil {
				return nil, fmt.Errorf("refreshing table metadata: %w", err)
			}
		}

		newLocation, snapshot, err := c.prepare(ctx, meta, token, manifest)
		if err != nil {
			return nil, err
		}

		err = c.catalog.CommitTable(ctx, namespace, table, newLocation, token)
		if err == nil {
			c.log.Info("committed snapshot",
				zap.String("namespace", namespace),
				zap.String("table", table),
				zap.Int64("snapshot-id", snapshot.SnapshotID),
				zap.Int64("sequence-number", snapshot.SequenceNumber),
				zap.Int("attempt", attempt+1))
			return snapshot, nil
		}
		if errors.Is(err, ErrCommitAmbiguous) {
			// The swap may already be applied; rebuilding here would land
			// the same manifest twice.
			return nil, fmt.Errorf("aborting commit: %w", err)
		}
		if !errors.Is(err, ErrCommitConflict) {
			return nil, fmt.Errorf("updating catalog: %w", err)
		}

		metrics.CommitConflicts.Inc()
		c.log.Warn("commit conflict, rebuilding against current snapshot",
			zap.String("namespace", namespace),
			zap.String("table", table),
			zap.Int("attempt", attempt+1))
		lastErr = err
	}

	return nil, fmt.Errorf("%w: exhausted %d attempts: %v", ErrCommitConflict, c.retries+1, lastErr)
}

// prepare persists the manifest, manifest list, and new metadata document
// for one attempt, all at fresh uuid-derived names so no existing object is
// ever overwritten.
func (c *Committer) prepare(ctx context.Context, meta *TableMetadata, token string, manifest *Manifest) (string, *Snapshot, error) {
	snapshotID := newSnapshotID()
	sequence := meta.LastSequenceNumber + 1
	commitUUID := uuid.New().String()
	now := time.Now().UnixMilli()

	manifest.stamp(snapshotID, sequence)

	manifestPath := fmt.Sprintf("%s/metadata/%s-m0.avro", meta.Location, commitUUID)
	manifestLen, err := c.writeJSON(ctx, manifestPath, manifest.Entries)
	if err != nil {
		return "", nil, fmt.Errorf("writing manifest: %w", err)
	}

	parentList, err := c.parentManifests(ctx, meta)
	if err != nil {
		return "", nil, err
	}
	manifestList := append(parentList, ManifestFile{
		ManifestPath:      manifestPath,
		ManifestLength:    manifestLen,
		PartitionSpecID:   meta.DefaultSpecID,
		Content:           0,
		SequenceNumber:    sequence,
		MinSequenceNumber: sequence,
		AddedSnapshotID:   snapshotID,
		AddedFilesCount:   manifest.AddedFiles,
		AddedRowsCount:    manifest.AddedRows,
	})

	listPath := fmt.Sprintf("%s/metadata/snap-%d-%s.avro", meta.Location, snapshotID, commitUUID)
	if _, err := c.writeJSON(ctx, listPath, manifestList); err != nil {
		return "", nil, fmt.Errorf("writing manifest list: %w", err)
	}

	snapshot := &Snapshot{
		SnapshotID:       snapshotID,
		ParentSnapshotID: meta.CurrentSnapshotID,
		SequenceNumber:   sequence,
		TimestampMs:      now,
		ManifestList:     listPath,
		Summary:          summarize(meta.CurrentSnapshot(), manifest),
		SchemaID:         meta.CurrentSchemaID,
	}

	newMeta := *meta
	newMeta.LastSequenceNumber = sequence
	newMeta.LastUpdatedMs = now
	newMeta.CurrentSnapshotID = &snapshotID
	newMeta.Snapshots = append(append([]*Snapshot(nil), meta.Snapshots...), snapshot)
	newMeta.SnapshotLog = append(append([]SnapshotLogEntry(nil), meta.SnapshotLog...),
		SnapshotLogEntry{TimestampMs: now, SnapshotID: snapshotID})
	newMeta.MetadataLog = append([]MetadataLogEntry(nil), meta.MetadataLog...)
	if token != "" {
		newMeta.MetadataLog = append(newMeta.MetadataLog, MetadataLogEntry{TimestampMs: now, MetadataFile: token})
	}

	metadataPath := fmt.Sprintf("%s/metadata/%05d-%s.metadata.json",
		meta.Location, len(newMeta.MetadataLog)+1, commitUUID)
	if _, err := c.writeJSON(ctx, metadataPath, &newMeta); err != nil {
		return "", nil, fmt.Errorf("writing table metadata: %w", err)
	}

	return metadataPath, snapshot, nil
}

// parentManifests reads the current snapshot's manifest list; the new
// snapshot's list is append-only relative to it.
func (c *Committer) parentManifests(ctx context.Context, meta *TableMetadata) ([]ManifestFile, error) {
	parent := meta.CurrentSnapshot()
	if parent == nil {
		return nil, nil
	}

	rc, err := c.store.Read(ctx, storage.ObjectKey(parent.ManifestList))
	if err != nil {
		return nil, fmt.Errorf("reading parent manifest list: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading parent manifest list: %w", err)
	}

	var list []ManifestFile
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decoding parent manifest list: %w", err)
	}
	return list, nil
}

func (c *Committer) writeJSON(ctx context.Context, location string, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	if err := c.store.Write(ctx, storage.ObjectKey(location), bytes.NewReader(data)); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (c *Committer) wait(ctx context.Context, attempt int) error {
	d := c.backoff << (attempt - 1)
	if d > time.Second {
		d = time.Second
	}
	// Half fixed, half jitter, to spread racing writers apart.
	d = d/2 + rand.N(d/2+1)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func summarize(parent *Snapshot, manifest *Manifest) map[string]string {
	totalFiles := int64(manifest.AddedFiles)
	totalRows := manifest.AddedRows
	if parent != nil {
		totalFiles += parseSummaryInt(parent.Summary, "total-data-files")
		totalRows += parseSummaryInt(parent.Summary, "total-records")
	}
	return map[string]string{
		"operation":        "append",
		"added-data-files": strconv.FormatInt(int64(manifest.AddedFiles), 10),
		"added-records":    strconv.FormatInt(manifest.AddedRows, 10),
		"total-data-files": strconv.FormatInt(totalFiles, 10),
		"total-records":    strconv.FormatInt(totalRows, 10),
	}
}

func parseSummaryInt(summary map[string]string, key string) int64 {
	n, err := strconv.ParseInt(summary[key], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// newSnapshotID returns a random positive snapshot id, unique per commit
// attempt so losing attempts never alias winning ones.
func newSnapshotID() int64 {
	for {
		if id := rand.Int64(); id > 0 {
			return id
		}
	}
}
