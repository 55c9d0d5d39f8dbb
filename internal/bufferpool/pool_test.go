package bufferpool

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbcore/novadb/internal/bufferpool/replacement"
	"github.com/dbcore/novadb/internal/storage"
)

// newTestPool creates a temporary directory, StorageManager and buffer pool for testing.
// It returns the pool and a cleanup function.
func newTestPool(t *testing.T, capacity int) (*Pool, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "novasql-bp-*")
	require.NoError(t, err)

	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{
		Dir:  dir,
		Base: "testtable",
	}

	pool := NewPool(sm, fs, capacity)

	cleanup := func() {
		_ = os.RemoveAll(dir)
	}

	return pool, cleanup
}

func TestPool_GetPage_LoadsAndPins(t *testing.T) {
	pool, cleanup := newTestPool(t, 4)
	defer cleanup()

	page1, err := pool.GetPage(0)
	require.NoError(t, err)
	require.NotNil(t, page1)
	require.Equal(t, uint32(0), page1.PageID())

	idx, ok := pool.pageTable[0]
	require.True(t, ok)
	require.True(t, pool.cache[idx].valid)
	require.Equal(t, int32(1), pool.ctl.Frame(idx).RefCount)
	require.False(t, pool.cache[idx].dirty)

	// Second GetPage for the same page should return the same pointer and increase pin count.
	page2, err := pool.GetPage(0)
	require.NoError(t, err)
	require.Same(t, page1, page2)
	require.Equal(t, int32(2), pool.ctl.Frame(idx).RefCount)
}

func TestPool_GetPage_Full_NoFreeFrameError(t *testing.T) {
	pool, cleanup := newTestPool(t, 1)
	defer cleanup()

	// Fill the only frame with page 0 and keep it pinned.
	page0, err := pool.GetPage(0)
	require.NoError(t, err)
	require.NotNil(t, page0)
	idx := pool.pageTable[0]
	require.Equal(t, int32(1), pool.ctl.Frame(idx).RefCount)

	// Try to get a different page without unpinning the first one -> no free frame.
	_, err = pool.GetPage(1)
	require.ErrorIs(t, err, ErrNoFreeFrame)
}

func TestPool_EvictDirtyFrameAndFlush(t *testing.T) {
	pool, cleanup := newTestPool(t, 1)
	defer cleanup()

	// Step 1: Load page 0 and modify its content.
	page0, err := pool.GetPage(0)
	require.NoError(t, err)
	require.NotNil(t, page0)

	buf := page0.Buf
	require.NotEmpty(t, buf)
	buf[0] = 42

	// Unpin with dirty = true so the frame is marked dirty and evictable.
	err = pool.Unpin(page0, true)
	require.NoError(t, err)
	idx0 := pool.pageTable[0]
	require.Equal(t, int32(0), pool.ctl.Frame(idx0).RefCount)
	require.True(t, pool.cache[idx0].dirty)

	// Step 2: Request page 1, forcing eviction of page 0.
	page1, err := pool.GetPage(1)
	require.NoError(t, err)
	require.NotNil(t, page1)

	// At this point page 0 should have been flushed to disk by eviction.
	sm := pool.sm
	fs := pool.fs

	reloaded, err := sm.LoadPage(fs, 0)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	require.Equal(t, byte(42), reloaded.Buf[0])
}

func TestPool_FlushAll_WritesDirtyFrames(t *testing.T) {
	pool, cleanup := newTestPool(t, 2)
	defer cleanup()

	page0, err := pool.GetPage(0)
	require.NoError(t, err)
	page1, err := pool.GetPage(1)
	require.NoError(t, err)

	page0.Buf[10] = 11
	page1.Buf[20] = 22

	require.NoError(t, pool.Unpin(page0, true))
	require.NoError(t, pool.Unpin(page1, true))

	err = pool.FlushAll()
	require.NoError(t, err)
	require.False(t, pool.cache[pool.pageTable[0]].dirty)
	require.False(t, pool.cache[pool.pageTable[1]].dirty)

	sm := pool.sm
	fs := pool.fs

	reloaded0, err := sm.LoadPage(fs, 0)
	require.NoError(t, err)
	require.Equal(t, byte(11), reloaded0.Buf[10])

	reloaded1, err := sm.LoadPage(fs, 1)
	require.NoError(t, err)
	require.Equal(t, byte(22), reloaded1.Buf[20])
}

func TestPool_DeletePageFromBuffer_RefusesPinned(t *testing.T) {
	pool, cleanup := newTestPool(t, 2)
	defer cleanup()

	page0, err := pool.GetPage(0)
	require.NoError(t, err)
	require.NotNil(t, page0)

	err = pool.DeletePageFromBuffer(0)
	require.ErrorIs(t, err, ErrPagePinned)

	require.NoError(t, pool.Unpin(page0, false))
	require.NoError(t, pool.DeletePageFromBuffer(0))
	_, ok := pool.pageTable[0]
	require.False(t, ok)
}

// newTestPoolWithPolicy is newTestPool with an explicit replacement policy,
// for tests that must exercise a specific victim-selection algorithm.
func newTestPoolWithPolicy(t *testing.T, capacity int, policy replacement.Policy) (*Pool, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "novasql-bp-*")
	require.NoError(t, err)

	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "testtable"}

	pool := NewPoolWithPolicy(sm, fs, capacity, policy)

	cleanup := func() { _ = os.RemoveAll(dir) }
	return pool, cleanup
}

// TestPool_MissEvictReload_AllPolicies fills a 2-frame pool, unpins both
// pages (making them evictable) and then misses on a third page, forcing the
// configured policy to pick a victim. Whichever page gets evicted must have
// been flushed with its dirty content; whichever survives must still be
// served from the same in-memory buffer.
func TestPool_MissEvictReload_AllPolicies(t *testing.T) {
	policies := []replacement.Policy{replacement.CLOCK, replacement.LRU, replacement.MRU, replacement.TwoQ}

	for _, policy := range policies {
		t.Run(replacement.PolicyName(policy), func(t *testing.T) {
			pool, cleanup := newTestPoolWithPolicy(t, 2, policy)
			defer cleanup()

			page0, err := pool.GetPage(0)
			require.NoError(t, err)
			page0.Buf[0] = 10
			require.NoError(t, pool.Unpin(page0, true))

			page1, err := pool.GetPage(1)
			require.NoError(t, err)
			page1.Buf[0] = 20
			require.NoError(t, pool.Unpin(page1, true))

			page2, err := pool.GetPage(2)
			require.NoError(t, err)
			require.NotNil(t, page2)
			require.Equal(t, uint32(2), page2.PageID())
			require.NoError(t, pool.Unpin(page2, false))

			if idx, ok := pool.pageTable[0]; ok {
				require.Equal(t, byte(10), pool.cache[idx].page.Buf[0])
			} else {
				reloaded, err := pool.sm.LoadPage(pool.fs, 0)
				require.NoError(t, err)
				require.Equal(t, byte(10), reloaded.Buf[0])
			}

			if idx, ok := pool.pageTable[1]; ok {
				require.Equal(t, byte(20), pool.cache[idx].page.Buf[0])
			} else {
				reloaded, err := pool.sm.LoadPage(pool.fs, 1)
				require.NoError(t, err)
				require.Equal(t, byte(20), reloaded.Buf[0])
			}
		})
	}
}

// Optional: verify default capacity is used when capacity <= 0.
func TestNewPool_DefaultCapacity(t *testing.T) {
	sm := storage.NewStorageManager()
	dir := t.TempDir()
	fs := storage.LocalFileSet{
		Dir:  dir,
		Base: "testtable",
	}

	pool := NewPool(sm, fs, 0)
	require.Equal(t, 16, pool.capacity)

	// Sanity: can still use the pool.
	page, err := pool.GetPage(0)
	require.NoError(t, err)
	require.NotNil(t, page)
}
