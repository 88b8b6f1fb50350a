package iceberg

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"iceberg-ingress/schema"
	"iceberg-ingress/storage"
)

func TestUpperBoundStaysAboveLongValues(t *testing.T) {
	store := storage.NewMemoryStorage()
	ts := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC).UnixMicro()
	long := strings.Repeat("a", truncateBoundsTo) + "b"

	df := writeTestGroup(t, store, []schema.Row{
		eventRow(1, ts, "aaa"),
		eventRow(2, ts, long),
	})

	upper := df.UpperBounds[3]
	require.LessOrEqual(t, len(upper), truncateBoundsTo)
	require.GreaterOrEqual(t, bytes.Compare(upper, []byte(long)), 0,
		"stored upper bound must not be below the column maximum")

	// Lower bounds keep the plain prefix.
	require.Equal(t, []byte("aaa"), df.LowerBounds[3])
}

func TestTruncateBound(t *testing.T) {
	short := []byte("abc")
	require.Equal(t, short, truncateBound(short, false))
	require.Equal(t, short, truncateBound(short, true))

	long := append(bytes.Repeat([]byte{'a'}, truncateBoundsTo), 'z', 'z')
	require.Equal(t, bytes.Repeat([]byte{'a'}, truncateBoundsTo), truncateBound(long, false))

	upper := truncateBound(long, true)
	require.Len(t, upper, truncateBoundsTo)
	require.Greater(t, bytes.Compare(upper, long), 0)

	// A trailing 0xFF in the prefix pushes the increment one byte left.
	ff := append(bytes.Repeat([]byte{'a'}, truncateBoundsTo-1), 0xFF, 'z', 'z')
	upper = truncateBound(ff, true)
	require.Len(t, upper, truncateBoundsTo-1)
	require.Greater(t, bytes.Compare(upper, ff), 0)

	// All-0xFF prefix cannot be incremented; the full value is kept.
	all := bytes.Repeat([]byte{0xFF}, truncateBoundsTo+3)
	require.Equal(t, all, truncateBound(all, true))
}
