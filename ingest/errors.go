package ingest

import (
	"context"
	"errors"

	"iceberg-ingress/arrowio"
	"iceberg-ingress/catalog"
	"iceberg-ingress/iceberg"
)

// Kind is the error taxonomy surfaced to callers. Every failed ingest
// response carries exactly one kind plus a human-readable message.
type Kind string

const (
	KindNone             Kind = ""
	KindMalformedPayload Kind = "MalformedPayload"
	KindSchemaMismatch   Kind = "SchemaMismatch"
	KindTableNotFound    Kind = "TableNotFound"
	KindWriteFailure     Kind = "WriteFailure"
	KindCommitConflict   Kind = "CommitConflict"
	KindTimeout          Kind = "Timeout"
	KindInternal         Kind = "Internal"
)

// Classify maps an ingest error to its kind. Timeout wins over everything:
// a deadline can surface through any stage's wrapped error.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, arrowio.ErrMalformedPayload):
		return KindMalformedPayload
	case errors.Is(err, arrowio.ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, catalog.ErrTableNotFound):
		return KindTableNotFound
	case errors.Is(err, iceberg.ErrWriteFailure):
		return KindWriteFailure
	case errors.Is(err, iceberg.ErrCommitConflict):
		return KindCommitConflict
	default:
		return KindInternal
	}
}
