package storage

import (
	"context"
	"io"
	"strings"
)

// Storage is write-once object storage: callers always choose fresh unique
// keys, and no implementation mutates or appends to an existing object.
type Storage interface {
	Write(ctx context.Context, filepath string, data io.Reader) error
	Read(ctx context.Context, filepath string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ObjectKey converts a warehouse location URI (s3://bucket/key) into the
// object key addressed by a Storage rooted at that bucket. Bare keys pass
// through unchanged.
func ObjectKey(location string) string {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return strings.TrimPrefix(location, "/")
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return ""
}
