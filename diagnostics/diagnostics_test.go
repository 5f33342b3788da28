package diagnostics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStore_RecordsAndCounts(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.sqlite")
	store, err := OpenEventStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Record(Event{Kind: EventOverCapacity, TreeID: 1, ChunkID: 2, Detail: "pool full"}))
	require.NoError(t, store.Record(Event{Kind: EventChunkDecodeFailed, TreeID: 1, ChunkID: 3, Detail: "bad crc"}))
	require.NoError(t, store.Record(Event{Kind: EventOverCapacity, TreeID: 2, ChunkID: 0, Detail: "pool full"}))

	require.Eventually(t, func() bool {
		n, err := store.CountByKind(EventOverCapacity)
		return err == nil && n == 2
	}, time.Second, 5*time.Millisecond)

	n, err := store.CountByKind(EventChunkDecodeFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDiagnostics_ReportsFeedEventStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.sqlite")
	store, err := OpenEventStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	d := New(WithEventStore(store))
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", d.InstanceID.String())

	d.ReportOverCapacity(1, 2, "pool full")
	d.ReportChunkDecodeFailed(1, 3, "bad crc")

	require.Eventually(t, func() bool {
		n, err := store.CountByKind(EventOverCapacity)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFrameStats_SummaryFormatsCounts(t *testing.T) {
	s := FrameStats{SplatsDrawn: 1234567, PagesResident: 42, FetchQueueDepth: 3, SortLatency: 2500 * time.Microsecond}
	summary := s.Summary()
	assert.Contains(t, summary, "1,234,567")
	assert.Contains(t, summary, "42")
}

func TestHub_BroadcastDropsWhenNoClients(t *testing.T) {
	h := NewHub()
	defer h.Close()
	// Must not panic or block with zero connected clients.
	h.Broadcast(FrameStats{SplatsDrawn: 10})
}
