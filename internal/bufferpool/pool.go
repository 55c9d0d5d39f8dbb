package bufferpool

import (
	"errors"
	"log/slog"

	"github.com/dbcore/novadb/internal/bufferpool/replacement"
	"github.com/dbcore/novadb/internal/storage"
)

var (
	logDebugPrefix  = "bufferpool: "
	DefaultCapacity = 128

	// ErrNoFreeFrame is returned when no unpinned frame is available for replacement.
	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")

	// ErrPagePinned is returned when trying to evict/delete a pinned page.
	ErrPagePinned = errors.New("bufferpool: page is pinned")
)

// Manager is a simple buffer pool interface for table-level usage.
type Manager interface {
	// GetPage returns a page from the buffer pool (pin count is increased).
	GetPage(pageID uint32) (*storage.Page, error)

	// Unpin decreases pin count and marks the page dirty if needed.
	Unpin(page *storage.Page, dirty bool) error

	// FlushAll flushes all dirty pages to disk.
	FlushAll() error
}

var _ Manager = (*Pool)(nil)

// cachedPage is the page-contents half of a frame: the replacement package
// owns pin/usage counters and queue links (replacement.FrameDescriptor), this
// half owns what is actually cached. The two are joined by frame index.
type cachedPage struct {
	pageID uint32
	page   *storage.Page
	dirty  bool
	valid  bool
}

// Pool is a fixed-size buffer pool bound to one FileSet, backed by a
// pluggable replacement policy (CLOCK, LRU, MRU or 2Q).
type Pool struct {
	sm *storage.StorageManager
	fs storage.FileSet

	ctl *replacement.Control

	// Guarded by ctl's pool lock (LockPool/UnlockPool), same as the free list
	// and policy queues: cache and pageTable are the page-table half of the
	// shared state the replacement spec describes as living next to it.
	cache     []cachedPage
	pageTable map[uint32]int

	capacity int
}

// NewPool creates a new buffer pool with the given capacity, using the
// default replacement policy. If capacity <= 0, a small default is used.
func NewPool(sm *storage.StorageManager, fs storage.FileSet, capacity int) *Pool {
	return NewPoolWithPolicy(sm, fs, capacity, replacement.DefaultPolicy)
}

// NewPoolWithPolicy is NewPool with an explicit replacement policy, for
// callers that read it from configuration.
func NewPoolWithPolicy(sm *storage.StorageManager, fs storage.FileSet, capacity int, policy replacement.Policy) *Pool {
	if capacity <= 0 {
		capacity = 16
	}
	return &Pool{
		sm:        sm,
		fs:        fs,
		ctl:       replacement.Init(capacity, policy),
		cache:     make([]cachedPage, capacity),
		pageTable: make(map[uint32]int),
		capacity:  capacity,
	}
}

// GetPage returns a page from the buffer pool and increases its pin count.
// If the page does not exist in memory, it is loaded from disk, evicting a
// victim frame chosen by the pool's configured replacement policy if needed.
func (p *Pool) GetPage(pageID uint32) (*storage.Page, error) {
	slog.Debug(logDebugPrefix+"GetPage called", "pageID", pageID)

	p.ctl.LockPool()
	if idx, ok := p.pageTable[pageID]; ok {
		cp := &p.cache[idx]
		page := cp.page

		// Hold the pool lock across the lookup and the RefCount bump so a
		// concurrent GetVictim can't select this frame (RefCount==0 is legal
		// while queued) between the lookup and the pin.
		fd := p.ctl.Frame(idx)
		fd.Lock()
		fd.RefCount++
		fd.UsageCount++
		fd.Unlock()
		p.ctl.UnlockPool()

		slog.Debug(logDebugPrefix+"found page in buffer", "pageID", pageID, "frameIdx", idx)
		return page, nil
	}
	p.ctl.UnlockPool()

	victim, poolLocked, err := p.ctl.GetVictim(nil)
	if err != nil {
		slog.Debug(logDebugPrefix+"no victim available", "pageID", pageID, "err", err)
		return nil, ErrNoFreeFrame
	}
	idx := victim.BufID

	old := p.cache[idx]
	if old.valid {
		slog.Debug(logDebugPrefix+"selected victim frame", "victimPageID", old.pageID, "frameIdx", idx, "dirty", old.dirty)
		if old.dirty {
			if err := p.sm.SavePage(p.fs, old.pageID, *old.page); err != nil {
				victim.Unlock()
				if poolLocked {
					p.ctl.UnlockPool()
				}
				return nil, err
			}
		}
		delete(p.pageTable, old.pageID)
	}

	page, err := p.sm.LoadPage(p.fs, pageID)
	if err != nil {
		victim.Unlock()
		if poolLocked {
			p.ctl.UnlockPool()
		}
		return nil, err
	}

	p.cache[idx] = cachedPage{pageID: pageID, page: page, dirty: false, valid: true}
	p.pageTable[pageID] = idx

	victim.RefCount = 1
	victim.UsageCount = 1
	victim.Unlock()
	if poolLocked {
		p.ctl.UnlockPool()
	}

	slog.Debug(logDebugPrefix+"reused victim frame for new page", "pageID", pageID, "frameIdx", idx)
	return page, nil
}

// Unpin decreases the pin count of a page and marks it dirty if needed.
func (p *Pool) Unpin(page *storage.Page, dirty bool) error {
	if page == nil {
		return nil
	}
	pageID := page.PageID()

	p.ctl.LockPool()
	idx, ok := p.pageTable[pageID]
	if !ok {
		p.ctl.UnlockPool()
		slog.Debug(logDebugPrefix+"Unpin ignored, page not in pool", "pageID", pageID)
		return nil
	}
	if dirty {
		p.cache[idx].dirty = true
	}
	p.ctl.UnlockPool()

	fd := p.ctl.Frame(idx)
	fd.Lock()
	if fd.RefCount > 0 {
		fd.RefCount--
	}
	lastPin := fd.RefCount == 0
	fd.Unlock()

	if lastPin {
		p.ctl.OnUnpinned(idx)
	}

	slog.Debug(logDebugPrefix+"Unpin", "pageID", pageID, "frameIdx", idx, "dirty", dirty)
	return nil
}

// FlushAll flushes all dirty frames to disk.
func (p *Pool) FlushAll() error {
	p.ctl.LockPool()
	defer p.ctl.UnlockPool()

	slog.Debug(logDebugPrefix + "FlushAll started")
	for idx := range p.cache {
		cp := &p.cache[idx]
		if !cp.valid || !cp.dirty {
			continue
		}
		slog.Debug(logDebugPrefix+"flushing frame", "pageID", cp.pageID, "frameIdx", idx)
		if err := p.sm.SavePage(p.fs, cp.pageID, *cp.page); err != nil {
			return err
		}
		cp.dirty = false
	}
	slog.Debug(logDebugPrefix + "FlushAll completed")
	return nil
}

// DeletePageFromBuffer removes a page from the buffer pool (buffer only, not
// disk). It fails if the page is currently pinned.
func (p *Pool) DeletePageFromBuffer(pageID uint32) error {
	p.ctl.LockPool()
	idx, ok := p.pageTable[pageID]
	if !ok {
		p.ctl.UnlockPool()
		slog.Debug(logDebugPrefix+"DeletePageFromBuffer: page not in pool", "pageID", pageID)
		return nil
	}
	cp := p.cache[idx]
	p.ctl.UnlockPool()

	fd := p.ctl.Frame(idx)
	fd.Lock()
	if fd.Pinned() {
		fd.Unlock()
		slog.Debug(logDebugPrefix+"DeletePageFromBuffer: page is pinned", "pageID", pageID, "frameIdx", idx)
		return ErrPagePinned
	}
	fd.Unlock()

	if cp.dirty {
		slog.Debug(logDebugPrefix+"DeletePageFromBuffer: flushing dirty page before remove", "pageID", pageID)
		if err := p.sm.SavePage(p.fs, cp.pageID, *cp.page); err != nil {
			return err
		}
	}

	p.ctl.LockPool()
	delete(p.pageTable, pageID)
	p.cache[idx] = cachedPage{}
	p.ctl.UnlockPool()

	p.ctl.FreeBuffer(fd)

	slog.Debug(logDebugPrefix+"DeletePageFromBuffer: freeing frame", "pageID", pageID, "frameIdx", idx)
	return nil
}
