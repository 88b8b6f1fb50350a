package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"iceberg-ingress/arrowio"
	"iceberg-ingress/config"
	"iceberg-ingress/iceberg"
	"iceberg-ingress/metrics"
	"iceberg-ingress/storage"
)

// Coordinator runs one ingest request end to end: decode, partition, write
// data files, build the manifest, commit. Requests are independent units of
// work; any number may run concurrently, including against the same table.
// No state is shared across requests; the only coordination point is the
// catalog's compare-and-swap, inside the committer.
type Coordinator struct {
	catalog   iceberg.Catalog
	decoder   *arrowio.Decoder
	writer    *iceberg.FileWriter
	committer *iceberg.Committer
	timeout   time.Duration
	log       *zap.Logger
}

func NewCoordinator(cfg *config.Config, cat iceberg.Catalog, store storage.Storage, log *zap.Logger) *Coordinator {
	return &Coordinator{
		catalog:   cat,
		decoder:   arrowio.NewDecoder(),
		writer:    iceberg.NewFileWriter(store, cfg.Ingest.WriteRetries),
		committer: iceberg.NewCommitter(cat, store, cfg.Ingest.CommitRetries, cfg.Ingest.CommitBackoff, log),
		timeout:   cfg.Ingest.RequestTimeout,
		log:       log,
	}
}

// Result reports a successful ingest. Snapshot is nil for a zero-row
// payload, which commits nothing.
type Result struct {
	Rows     int64
	Files    int
	Snapshot *iceberg.Snapshot
}

// Ingest commits one payload into one table. On failure nothing becomes
// visible: data files already written stay on storage as unreferenced
// garbage, and the snapshot pointer is untouched. Commit is all-or-nothing
// at the snapshot level; partial success cannot occur.
func (c *Coordinator) Ingest(ctx context.Context, namespace, table string, payload []byte) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.run(ctx, namespace, table, payload)
	if err != nil {
		// A stage may report its own failure mode when the real cause is
		// the request deadline firing mid-I/O. A client cancellation is
		// not a timeout and passes through untouched.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("request deadline exceeded: %w", context.DeadlineExceeded)
		}
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, namespace, table string, payload []byte) (*Result, error) {
	meta, token, err := c.catalog.LoadTable(ctx, namespace, table)
	if err != nil {
		return nil, err
	}

	tbl, err := meta.TableSchema()
	if err != nil {
		return nil, err
	}

	// Validation happens here and nowhere later; a bad payload fails
	// before anything touches storage.
	batches, err := c.decoder.Decode(payload, tbl)
	if err != nil {
		return nil, err
	}

	partitioner, err := iceberg.NewPartitioner(meta)
	if err != nil {
		return nil, err
	}

	var rows int64
	for _, b := range batches {
		rows += int64(b.NumRows())
		if err := partitioner.Add(b); err != nil {
			return nil, err
		}
	}
	if rows == 0 {
		c.log.Info("zero-row payload, skipping commit",
			zap.String("namespace", namespace), zap.String("table", table))
		return &Result{}, nil
	}

	groups := partitioner.Groups()

	// Partition groups have no ordering dependency; write them in
	// parallel. Each file path is unique, so a failed sibling leaves no
	// half-written file that anything will ever reference.
	files := make([]*iceberg.DataFile, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		g.Go(func() error {
			df, err := c.writer.WriteGroup(gctx, meta, tbl, group)
			if err != nil {
				return err
			}
			files[i] = df
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.DataFilesWritten.Add(float64(len(files)))

	manifest := iceberg.BuildManifest(files)

	snapshot, err := c.committer.Commit(ctx, namespace, table, meta, token, manifest)
	if err != nil {
		return nil, err
	}

	metrics.RowsIngested.Add(float64(rows))
	c.log.Info("ingest committed",
		zap.String("namespace", namespace),
		zap.String("table", table),
		zap.Int64("rows", rows),
		zap.Int("data-files", len(files)),
		zap.Int64("snapshot-id", snapshot.SnapshotID))

	return &Result{Rows: rows, Files: len(files), Snapshot: snapshot}, nil
}
