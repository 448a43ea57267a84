package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracdap/platform-gateway/internal/apperror"
)

func TestMemoryEngine_OpenNewTicketAddEntryLifecycle(t *testing.T) {
	e := NewMemoryEngine(time.Hour)
	defer e.Close()
	ctx := context.Background()

	ticket, err := e.OpenNewTicket(ctx, "jobs", "job-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ticket.Revision)

	entry, err := e.AddEntry(ctx, ticket.ID, "READY", []byte("payload-v1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Revision)
	assert.Equal(t, EntryStatus("READY"), entry.Status)

	got, err := e.GetEntry(ctx, "jobs", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "payload-v1", string(got.Value))
}

func TestMemoryEngine_OpenNewTicket_KeyExists(t *testing.T) {
	e := NewMemoryEngine(time.Hour)
	defer e.Close()
	ctx := context.Background()

	ticket, err := e.OpenNewTicket(ctx, "jobs", "dup", time.Minute)
	require.NoError(t, err)
	_, err = e.AddEntry(ctx, ticket.ID, "READY", []byte("v1"))
	require.NoError(t, err)

	_, err = e.OpenNewTicket(ctx, "jobs", "dup", time.Minute)
	assert.Equal(t, apperror.CodeKeyExists, apperror.Code(err))
}

func TestMemoryEngine_UpdateEntry_ExclusiveTicketAdvancesRevision(t *testing.T) {
	e := NewMemoryEngine(time.Hour)
	defer e.Close()
	ctx := context.Background()

	newTicket, err := e.OpenNewTicket(ctx, "jobs", "job-2", time.Minute)
	require.NoError(t, err)
	_, err = e.AddEntry(ctx, newTicket.ID, "READY", []byte("v1"))
	require.NoError(t, err)

	t1, err := e.OpenTicket(ctx, "jobs", "job-2", time.Minute)
	require.NoError(t, err)

	// A second OpenTicket attempt must be refused while t1 is outstanding.
	_, err = e.OpenTicket(ctx, "jobs", "job-2", time.Minute)
	assert.Equal(t, apperror.CodeTicketConflict, apperror.Code(err))

	updated, err := e.UpdateEntry(ctx, t1.ID, "RUNNING", []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)
	assert.Equal(t, EntryStatus("RUNNING"), updated.Status)

	// t1 has been consumed; using it again must fail.
	_, err = e.UpdateEntry(ctx, t1.ID, "RUNNING", []byte("v3"))
	assert.Equal(t, apperror.CodeTicketNotFound, apperror.Code(err))
}

func TestMemoryEngine_ConcurrentOpenTicket_OnlyOneWins(t *testing.T) {
	e := NewMemoryEngine(time.Hour)
	defer e.Close()
	ctx := context.Background()

	newTicket, err := e.OpenNewTicket(ctx, "jobs", "contended", time.Minute)
	require.NoError(t, err)
	_, err = e.AddEntry(ctx, newTicket.ID, "READY", []byte("v1"))
	require.NoError(t, err)

	const attempts = 20
	var wg sync.WaitGroup
	successes := make(chan string, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := e.OpenTicket(ctx, "jobs", "contended", time.Minute)
			if err == nil {
				successes <- ticket.ID
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count, "concurrent OpenTicket calls should succeed exactly once")
}

func TestMemoryEngine_RemoveEntry(t *testing.T) {
	e := NewMemoryEngine(time.Hour)
	defer e.Close()
	ctx := context.Background()

	newTicket, err := e.OpenNewTicket(ctx, "jobs", "to-delete", time.Minute)
	require.NoError(t, err)
	_, err = e.AddEntry(ctx, newTicket.ID, "READY", []byte("v1"))
	require.NoError(t, err)

	delTicket, err := e.OpenTicket(ctx, "jobs", "to-delete", time.Minute)
	require.NoError(t, err)
	require.NoError(t, e.RemoveEntry(ctx, delTicket.ID))

	_, err = e.GetEntry(ctx, "jobs", "to-delete")
	assert.Equal(t, apperror.CodeEntryNotFound, apperror.Code(err))
}

func TestMemoryEngine_CloseTicketWithoutCommit(t *testing.T) {
	e := NewMemoryEngine(time.Hour)
	defer e.Close()
	ctx := context.Background()

	ticket, err := e.OpenNewTicket(ctx, "jobs", "abandoned", time.Minute)
	require.NoError(t, err)
	require.NoError(t, e.CloseTicket(ctx, ticket.ID))

	// Key must be free again since nothing was ever committed.
	_, err = e.OpenNewTicket(ctx, "jobs", "abandoned", time.Minute)
	assert.NoError(t, err, "re-opening after CloseTicket should succeed")
}

func TestMemoryEngine_TicketExpirySweep(t *testing.T) {
	e := NewMemoryEngine(time.Hour) // background sweep interval irrelevant; we sweep inline
	defer e.Close()
	ctx := context.Background()

	ticket, err := e.OpenNewTicket(ctx, "jobs", "expiring", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	// Opening a different ticket triggers the inline expiry sweep, freeing
	// the expired "expiring" ticket for reuse.
	_, err = e.OpenNewTicket(ctx, "jobs", "other-key", time.Minute)
	require.NoError(t, err)

	_, err = e.AddEntry(ctx, ticket.ID, "READY", []byte("too-late"))
	assert.Error(t, err, "AddEntry on an expired ticket should fail")
}

func TestMemoryEngine_ListKeysAndTicketStatus(t *testing.T) {
	e := NewMemoryEngine(time.Hour)
	defer e.Close()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		ticket, err := e.OpenNewTicket(ctx, "batch", key, time.Minute)
		require.NoError(t, err)
		_, err = e.AddEntry(ctx, ticket.ID, "READY", []byte(key))
		require.NoError(t, err)
	}

	keys, err := e.ListKeys(ctx, "batch")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	open, _, err := e.TicketStatus(ctx, "batch", "a")
	require.NoError(t, err)
	assert.False(t, open, "TicketStatus should report no outstanding ticket")

	t2, err := e.OpenTicket(ctx, "batch", "a", time.Minute)
	require.NoError(t, err)
	open, id, err := e.TicketStatus(ctx, "batch", "a")
	require.NoError(t, err)
	assert.True(t, open)
	assert.Equal(t, t2.ID, id)
}

func TestMemoryEngine_QueryStatus_FiltersByStatusAndOpenTicket(t *testing.T) {
	e := NewMemoryEngine(time.Hour)
	defer e.Close()
	ctx := context.Background()

	seed := func(key string, status EntryStatus) {
		ticket, err := e.OpenNewTicket(ctx, "batch", key, time.Minute)
		require.NoError(t, err)
		_, err = e.AddEntry(ctx, ticket.ID, status, []byte(key))
		require.NoError(t, err)
	}
	seed("ready-1", "READY")
	seed("ready-2", "READY")
	seed("running-1", "RUNNING")

	// Open a ticket against one of the READY entries; it should be
	// excluded when includeOpenTickets is false.
	_, err := e.OpenTicket(ctx, "batch", "ready-1", time.Minute)
	require.NoError(t, err)

	excluding, err := e.QueryStatus(ctx, "batch", []EntryStatus{"READY"}, false)
	require.NoError(t, err)
	require.Len(t, excluding, 1)
	assert.Equal(t, "ready-2", excluding[0].Key)

	including, err := e.QueryStatus(ctx, "batch", []EntryStatus{"READY"}, true)
	require.NoError(t, err)
	assert.Len(t, including, 2)

	mixed, err := e.QueryStatus(ctx, "batch", []EntryStatus{"READY", "RUNNING"}, true)
	require.NoError(t, err)
	assert.Len(t, mixed, 3)
}
