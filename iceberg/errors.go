package iceberg

import "errors"

var (
	// ErrWriteFailure marks storage I/O errors that survived the file
	// writer's bounded re-attempts.
	ErrWriteFailure = errors.New("write failure")

	// ErrCommitConflict marks a catalog compare-and-swap that lost to a
	// concurrent writer. The committer retries these internally; callers
	// only see it once retries are exhausted.
	ErrCommitConflict = errors.New("commit conflict")

	// ErrCommitAmbiguous marks a swap whose outcome is unknown: the request
	// may have been applied before the response was lost. Never retried;
	// rebuilding on top of an applied swap would commit the same manifest
	// twice.
	ErrCommitAmbiguous = errors.New("commit outcome unknown")
)
