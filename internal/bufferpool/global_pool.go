package bufferpool

import (
	"errors"

	"github.com/dbcore/novadb/internal/bufferpool/replacement"
	"github.com/dbcore/novadb/internal/storage"
)

// ErrUnsupportedFileSet is returned when GlobalPool cannot work with a FileSet implementation.
var ErrUnsupportedFileSet = errors.New("bufferpool: unsupported FileSet (global pool requires LocalFileSet)")

// PageTag uniquely identifies a page in the global pool.
type PageTag struct {
	FSKey  string
	PageID uint32
}

// cachedEntry is the page-contents half of a global-pool frame; the
// replacement package owns pin/usage counters and queue links.
type cachedEntry struct {
	tag   PageTag
	fs    storage.LocalFileSet
	page  *storage.Page
	dirty bool
	valid bool
}

// GlobalPool is a single shared buffer pool for ALL relations (heap/index/ovf),
// backed by a pluggable replacement policy. It mimics PostgreSQL shared_buffers
// at a high level, down to confining bulk scans to a bounded AccessStrategy
// ring instead of letting them flush the whole pool's queue ordering.
type GlobalPool struct {
	sm *storage.StorageManager

	ctl *replacement.Control

	// Guarded by ctl's pool lock (LockPool/UnlockPool).
	cache []cachedEntry
	table map[PageTag]int
}

func NewGlobalPool(sm *storage.StorageManager, capacity int) *GlobalPool {
	return NewGlobalPoolWithPolicy(sm, capacity, replacement.DefaultPolicy)
}

// NewGlobalPoolWithPolicy is NewGlobalPool with an explicit replacement
// policy, for callers that read it from configuration.
func NewGlobalPoolWithPolicy(sm *storage.StorageManager, capacity int, policy replacement.Policy) *GlobalPool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &GlobalPool{
		sm:    sm,
		ctl:   replacement.Init(capacity, policy),
		cache: make([]cachedEntry, capacity),
		table: make(map[PageTag]int),
	}
}

// NotifyBgwriter registers latch to be signaled (once) by the next victim
// search that goes past a strategy ring, before the free list is consulted,
// letting a background writer run ahead of demand without the caller ever
// blocking on it.
func (g *GlobalPool) NotifyBgwriter(latch replacement.Latch) {
	g.ctl.NotifyBgwriter(latch)
}

// SyncStart reports the clock hand position and pass/alloc counters a
// background writer cycle reads at startup, resetting the alloc counter.
func (g *GlobalPool) SyncStart() (startIdx int, completePasses, numAllocs uint64) {
	return g.ctl.SyncStart()
}

// GetPage pins and returns the page (fs,pageID).
func (g *GlobalPool) GetPage(fs storage.FileSet, pageID uint32) (*storage.Page, error) {
	return g.getPage(fs, pageID, nil)
}

// GetPageWithStrategy is GetPage for a caller running a bulk scan, VACUUM or
// bulk write: strategy confines the frames it touches to a small bounded ring
// instead of the full pool.
func (g *GlobalPool) GetPageWithStrategy(fs storage.FileSet, pageID uint32, strategy *replacement.AccessStrategy) (*storage.Page, error) {
	return g.getPage(fs, pageID, strategy)
}

func (g *GlobalPool) getPage(fs storage.FileSet, pageID uint32, strategy *replacement.AccessStrategy) (*storage.Page, error) {
	key, lfs, ok := storage.FsKeyOf(fs)
	if !ok {
		return nil, ErrUnsupportedFileSet
	}
	tag := PageTag{FSKey: key, PageID: pageID}

	g.ctl.LockPool()
	if idx, ok := g.table[tag]; ok {
		// Hold the pool lock across the lookup and the RefCount bump so a
		// concurrent GetVictim can't select this frame (RefCount==0 is legal
		// while queued) between the lookup and the pin.
		page := g.cache[idx].page
		fd := g.ctl.Frame(idx)
		fd.Lock()
		fd.RefCount++
		fd.UsageCount++
		fd.Unlock()
		g.ctl.UnlockPool()
		return page, nil
	}
	g.ctl.UnlockPool()

	for {
		victim, poolLocked, err := g.ctl.GetVictim(strategy)
		if err != nil {
			return nil, ErrNoFreeFrame
		}
		idx := victim.BufID

		old := g.cache[idx]
		if old.valid {
			if old.dirty {
				// BULKREAD never flushes a dirty ring victim itself: reject it
				// back to the ring and draw a fresh victim instead of stalling
				// the scan on a write.
				if strategy != nil && strategy.BType() == replacement.BulkRead && strategy.Reject(victim) {
					victim.Unlock()
					if poolLocked {
						g.ctl.UnlockPool()
					}
					continue
				}
				if err := g.sm.SavePage(old.fs, old.tag.PageID, *old.page); err != nil {
					victim.Unlock()
					if poolLocked {
						g.ctl.UnlockPool()
					}
					return nil, err
				}
			}
			delete(g.table, old.tag)
		}

		page, err := g.sm.LoadPage(lfs, pageID)
		if err != nil {
			victim.Unlock()
			if poolLocked {
				g.ctl.UnlockPool()
			}
			return nil, err
		}

		g.cache[idx] = cachedEntry{tag: tag, fs: lfs, page: page, dirty: false, valid: true}
		g.table[tag] = idx

		victim.RefCount = 1
		victim.UsageCount = 1
		victim.Unlock()
		if poolLocked {
			g.ctl.UnlockPool()
		}
		return page, nil
	}
}

// Unpin decreases pin count and marks dirty optionally.
func (g *GlobalPool) Unpin(fs storage.FileSet, page *storage.Page, dirty bool) error {
	if page == nil {
		return nil
	}
	key, _, ok := storage.FsKeyOf(fs)
	if !ok {
		return ErrUnsupportedFileSet
	}
	tag := PageTag{FSKey: key, PageID: page.PageID()}

	g.ctl.LockPool()
	idx, ok := g.table[tag]
	if !ok {
		g.ctl.UnlockPool()
		return nil
	}
	if dirty {
		g.cache[idx].dirty = true
	}
	g.ctl.UnlockPool()

	fd := g.ctl.Frame(idx)
	fd.Lock()
	if fd.RefCount > 0 {
		fd.RefCount--
	}
	lastPin := fd.RefCount == 0
	fd.Unlock()

	if lastPin {
		g.ctl.OnUnpinned(idx)
	}
	return nil
}

// FlushAll flushes all dirty pages in the global pool.
func (g *GlobalPool) FlushAll() error {
	g.ctl.LockPool()
	defer g.ctl.UnlockPool()

	for idx := range g.cache {
		e := &g.cache[idx]
		if !e.valid || !e.dirty {
			continue
		}
		if err := g.sm.SavePage(e.fs, e.tag.PageID, *e.page); err != nil {
			return err
		}
		e.dirty = false
	}
	return nil
}

// FlushFileSet flushes dirty pages belonging to a single relation (FileSet).
func (g *GlobalPool) FlushFileSet(fs storage.FileSet) error {
	key, _, ok := storage.FsKeyOf(fs)
	if !ok {
		return ErrUnsupportedFileSet
	}

	g.ctl.LockPool()
	defer g.ctl.UnlockPool()

	for idx := range g.cache {
		e := &g.cache[idx]
		if !e.valid || !e.dirty || e.tag.FSKey != key {
			continue
		}
		if err := g.sm.SavePage(e.fs, e.tag.PageID, *e.page); err != nil {
			return err
		}
		e.dirty = false
	}
	return nil
}

// WALLogger is the subset of *wal.Manager the background writer needs to log
// a page image before it hits disk. Kept as an interface so bufferpool never
// imports the wal package directly.
type WALLogger interface {
	AppendPageImage(dir, base string, pageID uint32, pageBytes []byte) (uint64, error)
	Flush(upto uint64) error
}

// FlushFrom scans up to maxPages cache slots starting at start (wrapping
// around), write-ahead-logging and flushing every dirty page it finds, and
// reports how many it wrote. It is the background writer's unit of work,
// paired with SyncStart's clock-hand position so the writer sweeps ahead of
// where the next victim search will look.
func (g *GlobalPool) FlushFrom(start int, maxPages int, logger WALLogger) (int, error) {
	g.ctl.LockPool()
	defer g.ctl.UnlockPool()

	n := len(g.cache)
	if n == 0 || maxPages <= 0 {
		return 0, nil
	}
	if start < 0 || start >= n {
		start = 0
	}

	flushed := 0
	for i := 0; i < n && flushed < maxPages; i++ {
		idx := (start + i) % n
		e := &g.cache[idx]
		if !e.valid || !e.dirty {
			continue
		}
		if logger != nil {
			if lsn, err := logger.AppendPageImage(e.fs.Dir, e.fs.Base, e.tag.PageID, e.page.Buf); err == nil {
				_ = logger.Flush(lsn)
			}
		}
		if err := g.sm.SavePage(e.fs, e.tag.PageID, *e.page); err != nil {
			return flushed, err
		}
		e.dirty = false
		flushed++
	}
	return flushed, nil
}

// DropFileSet removes ALL pages of a relation from the global pool.
//
// IMPORTANT: This must be called before deleting/renaming underlying files.
// If any page is pinned, ErrPagePinned is returned.
func (g *GlobalPool) DropFileSet(fs storage.FileSet) error {
	key, _, ok := storage.FsKeyOf(fs)
	if !ok {
		return ErrUnsupportedFileSet
	}

	g.ctl.LockPool()

	// First pass: detect pinned.
	for idx := range g.cache {
		e := &g.cache[idx]
		if !e.valid || e.tag.FSKey != key {
			continue
		}
		fd := g.ctl.Frame(idx)
		fd.Lock()
		pinned := fd.Pinned()
		fd.Unlock()
		if pinned {
			g.ctl.UnlockPool()
			return ErrPagePinned
		}
	}

	// Second pass: flush + remove. FreeBuffer takes the pool lock itself, so
	// the frames are handed back only after it is released.
	var freed []*replacement.FrameDescriptor
	for idx := range g.cache {
		e := &g.cache[idx]
		if !e.valid || e.tag.FSKey != key {
			continue
		}
		if e.dirty {
			if err := g.sm.SavePage(e.fs, e.tag.PageID, *e.page); err != nil {
				g.ctl.UnlockPool()
				return err
			}
		}
		delete(g.table, e.tag)
		freed = append(freed, g.ctl.Frame(idx))
		*e = cachedEntry{}
	}
	g.ctl.UnlockPool()

	for _, fd := range freed {
		g.ctl.FreeBuffer(fd)
	}
	return nil
}
