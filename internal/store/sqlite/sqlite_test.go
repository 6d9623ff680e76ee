package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glesdbg/glesdbg/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestAppendAndQueryCalls(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		err := s.AppendCall(ctx, store.CallRecord{
			SessionID:   "sess",
			Timestamp:   base.Add(time.Duration(i) * time.Millisecond),
			ContextID:   uint64(i + 1),
			Function:    uint32(i),
			Name:        "glClear",
			DurationMS:  1.5,
			Invocations: 1,
		})
		require.NoError(t, err)
	}

	n, err := s.CountCalls(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	recent, err := s.RecentCalls(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(3), recent[0].ContextID, "most recent first")
	assert.NotEmpty(t, recent[0].ID, "missing IDs are assigned")
	assert.Equal(t, "glClear", recent[0].Name)
}

func TestRecentCallsDefaultLimit(t *testing.T) {
	s := openTestStore(t)
	recent, err := s.RecentCalls(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
