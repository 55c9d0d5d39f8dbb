package replacement

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoUnpinnedBuffers is returned when every frame considered by the chosen
// policy's walk is pinned. This is pool exhaustion: the caller's transaction
// aborts, it is never retried here.
var ErrNoUnpinnedBuffers = errors.New("no unpinned buffers available")

// Latch is the background writer's wakeup handle. Signal must not block the
// caller for long; Control releases its pool lock before calling it.
type Latch interface {
	Signal()
}

// Control is the process-wide (here: per-pool) shared replacement state:
// the free list, the clock hand, the Am/A1 queues, and the bgwriter latch.
// Every mutation of its fields, and of frame queue links, happens under mu.
type Control struct {
	mu sync.Mutex

	frames []*FrameDescriptor

	policy Policy

	nextVictim int

	firstFree int
	lastFree  int

	completePasses uint64
	numAllocs      uint64

	bgwriterLatch Latch

	amHead, amTail int
	a1Head, a1Tail int
}

// Init constructs a Control for nBuffers frames, all pre-linked into the free
// list, as if a frame allocator had just zero-initialized shared memory.
// Called once per pool.
func Init(nBuffers int, policy Policy) *Control {
	if nBuffers <= 0 {
		panic("replacement: nBuffers must be positive")
	}

	frames := make([]*FrameDescriptor, nBuffers)
	for i := range frames {
		frames[i] = NewFrameDescriptor(i)
		if i < nBuffers-1 {
			frames[i].FreeNext = i + 1
		} else {
			frames[i].FreeNext = endOfChain
		}
	}

	return &Control{
		frames:     frames,
		policy:     policy,
		nextVictim: 0,
		firstFree:  0,
		lastFree:   nBuffers - 1,
		amHead:     noLink,
		amTail:     noLink,
		a1Head:     noLink,
		a1Tail:     noLink,
	}
}

// NumFrames returns the fixed size of the frame array.
func (c *Control) NumFrames() int { return len(c.frames) }

// Frame returns the descriptor for a given frame index.
func (c *Control) Frame(idx int) *FrameDescriptor { return c.frames[idx] }

// Policy returns the configured replacement policy.
func (c *Control) Policy() Policy { return c.policy }

// ShmemSize estimates the shared-memory footprint of nBuffers frames' worth
// of replacement bookkeeping plus a rough hash-table estimate for the
// (relation, block) -> frame map, which this package does not itself own.
// Mirrors the external contract in the buffer pool spec's interface list.
func ShmemSize(nBuffers int) int {
	const frameDescriptorSize = 40 // BufID + latch + counters + links, word-aligned
	const hashEntryEstimate = 64   // rough per-entry cost of the external page table
	const partitions = 16

	controlSize := frameDescriptorSize*nBuffers + 64 // + Control's own fields, aligned
	hashTableSize := hashEntryEstimate * (nBuffers + partitions)
	return controlSize + hashTableSize
}

// FreeBuffer prepends frame to the free list unless it is already listed.
// Idempotent: a second call with the same frame is a no-op.
func (c *Control) FreeBuffer(f *FrameDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.FreeNext != NotInList {
		return
	}
	if c.firstFree < 0 {
		c.lastFree = f.BufID
	}
	f.FreeNext = c.firstFree
	c.firstFree = f.BufID
}

// drainFreeList pops entries off the free list until it finds one that is
// genuinely unpinned and untouched, or the list runs dry. The returned
// frame's latch is held. Must be called with mu held.
func (c *Control) drainFreeList() (*FrameDescriptor, bool) {
	for c.firstFree >= 0 {
		idx := c.firstFree
		f := c.frames[idx]

		c.firstFree = f.FreeNext
		if c.firstFree < 0 {
			c.lastFree = endOfChain
		}
		f.FreeNext = NotInList

		f.Lock()
		if f.RefCount == 0 && f.UsageCount == 0 {
			return f, true
		}
		f.Unlock()
	}
	return nil, false
}

// GetVictim selects a victim frame for replacement.
//
// If strategy is non-nil and its ring already holds a reusable frame, that
// frame is returned immediately with only its own latch held and poolLocked
// false. Otherwise the pool lock is acquired, the free list is drained, and
// on miss the configured policy is consulted; in every one of those paths
// the pool lock remains held on return (poolLocked is true) so the caller
// can finish installing the new page under it. Callers must call Unlock on
// the pool via UnlockPool when poolLocked is true.
func (c *Control) GetVictim(strategy *AccessStrategy) (frame *FrameDescriptor, poolLocked bool, err error) {
	if strategy != nil {
		if f, ok := strategy.get(c); ok {
			return f, false, nil
		}
	}

	c.mu.Lock()
	c.numAllocs++

	if c.bgwriterLatch != nil {
		latch := c.bgwriterLatch
		c.bgwriterLatch = nil
		c.mu.Unlock()
		latch.Signal()
		c.mu.Lock()
	}

	if f, ok := c.drainFreeList(); ok {
		if strategy != nil {
			strategy.put(f)
		}
		return f, true, nil
	}

	f, err := c.selectByPolicy()
	if err != nil {
		c.mu.Unlock()
		return nil, false, err
	}
	if f == nil {
		c.mu.Unlock()
		panic("reached end of get_victim() without selecting a buffer")
	}

	if strategy != nil {
		strategy.put(f)
	}
	return f, true, nil
}

// UnlockPool releases the pool lock after a GetVictim call returned with
// poolLocked == true and the caller has finished updating shared state
// (page table, frame contents) under it.
func (c *Control) UnlockPool() { c.mu.Unlock() }

// LockPool acquires the same pool-wide lock GetVictim manages internally, for
// callers that need to consult or update shared state (the page table) on a
// cache hit, without going through victim selection at all.
func (c *Control) LockPool() { c.mu.Lock() }

func (c *Control) selectByPolicy() (*FrameDescriptor, error) {
	switch c.policy {
	case CLOCK:
		return c.victimClock()
	case LRU:
		return c.victimLRU()
	case MRU:
		return c.victimMRU()
	case TwoQ:
		return c.victim2Q()
	default:
		panic(fmt.Sprintf("invalid buffer pool replacement policy %d", c.policy))
	}
}

// victimClock sweeps the clock hand, giving every referenced frame one
// second chance per sweep before giving up after a full pass with nothing
// freed up.
func (c *Control) victimClock() (*FrameDescriptor, error) {
	n := len(c.frames)
	tryCounter := n

	for {
		f := c.frames[c.nextVictim]
		c.nextVictim++
		if c.nextVictim >= n {
			c.nextVictim = 0
			c.completePasses++
		}

		f.Lock()
		if f.RefCount == 0 {
			if f.UsageCount > 0 {
				f.UsageCount--
				tryCounter = n
				f.Unlock()
				continue
			}
			return f, nil
		}
		f.Unlock()

		tryCounter--
		if tryCounter == 0 {
			return nil, ErrNoUnpinnedBuffers
		}
	}
}

// victimLRU walks the Am queue from its head (least recently unpinned) and
// returns the first unpinned frame. A frame found pinned is unlocked and
// skipped. On exhaustion it fails without a spurious unlock, unlike the
// historical C implementation this traces to.
func (c *Control) victimLRU() (*FrameDescriptor, error) {
	for idx := c.amHead; idx != noLink; {
		f := c.frames[idx]
		next := f.next

		f.Lock()
		if f.RefCount == 0 {
			return f, nil
		}
		f.Unlock()

		idx = next
	}
	return nil, ErrNoUnpinnedBuffers
}

// victimMRU is victimLRU walking from the Am tail backward instead.
func (c *Control) victimMRU() (*FrameDescriptor, error) {
	for idx := c.amTail; idx != noLink; {
		f := c.frames[idx]
		prev := f.prev

		f.Lock()
		if f.RefCount == 0 {
			return f, nil
		}
		f.Unlock()

		idx = prev
	}
	return nil, ErrNoUnpinnedBuffers
}

// victim2Q picks A1 when it has grown to at least half the pool or Am is
// empty, else Am; it does not fall back to the other queue if the chosen
// one turns out to be all pinned (see the open question this preserves).
func (c *Control) victim2Q() (*FrameDescriptor, error) {
	n := len(c.frames)
	thres := n / 2
	sizeA1 := c.queueLen(c.a1Head)

	if sizeA1 >= thres || c.amHead == noLink {
		return c.scanAndUnlink(&c.a1Head, &c.a1Tail)
	}
	return c.scanAndUnlink(&c.amHead, &c.amTail)
}

func (c *Control) queueLen(head int) int {
	n := 0
	for idx := head; idx != noLink; idx = c.frames[idx].next {
		n++
	}
	return n
}

// scanAndUnlink walks the given queue from its head, taking the frame latch
// uniformly (the source only did this for LRU/MRU and not 2Q; this port
// acquires it everywhere for consistency) and returns + unlinks the first
// unpinned frame found.
func (c *Control) scanAndUnlink(head, tail *int) (*FrameDescriptor, error) {
	for idx := *head; idx != noLink; {
		f := c.frames[idx]
		next := f.next

		f.Lock()
		if f.RefCount == 0 {
			c.unlinkFrame(f, head, tail)
			return f, nil
		}
		f.Unlock()

		idx = next
	}
	return nil, ErrNoUnpinnedBuffers
}

// unlinkFrame removes f from the queue identified by head/tail, fixing up
// its neighbours. Must be called with mu held.
func (c *Control) unlinkFrame(f *FrameDescriptor, head, tail *int) {
	p, n := f.prev, f.next
	if p != noLink {
		c.frames[p].next = n
	} else {
		*head = n
	}
	if n != noLink {
		c.frames[n].prev = p
	} else {
		*tail = p
	}
	f.prev, f.next = noLink, noLink
}

// appendTail appends f to the queue identified by head/tail. Must be called
// with mu held.
func (c *Control) appendTail(f *FrameDescriptor, head, tail *int) {
	f.next = noLink
	if *head == noLink {
		f.prev = noLink
		*head = f.BufID
		*tail = f.BufID
		return
	}
	f.prev = *tail
	c.frames[*tail].next = f.BufID
	*tail = f.BufID
}

// isQueued reports whether f is linked into some queue using only O(1)
// pointer/head/tail checks (valid for policies with a single queue, Am).
func (c *Control) isQueued(f *FrameDescriptor, head, tail int) bool {
	return f.prev != noLink || f.next != noLink || head == f.BufID || tail == f.BufID
}

// OnUnpinned is invoked when a frame's last pin is dropped. It best-effort
// acquires the pool lock; under contention it silently skips the update,
// leaving the frame in whatever queue it last occupied (or none). The
// frame's RefCount remains authoritative, so this never affects correctness,
// only how stale the queue ordering gets under load.
func (c *Control) OnUnpinned(idx int) {
	if !c.mu.TryLock() {
		return
	}
	defer c.mu.Unlock()

	f := c.frames[idx]

	if c.policy == TwoQ {
		c.onUnpinned2Q(f)
		return
	}

	if c.isQueued(f, c.amHead, c.amTail) {
		c.unlinkFrame(f, &c.amHead, &c.amTail)
	}
	c.appendTail(f, &c.amHead, &c.amTail)
}

func (c *Control) onUnpinned2Q(f *FrameDescriptor) {
	if c.queueContains(c.amHead, f.BufID) {
		c.unlinkFrame(f, &c.amHead, &c.amTail)
		c.appendTail(f, &c.amHead, &c.amTail)
		return
	}
	if c.queueContains(c.a1Head, f.BufID) {
		c.unlinkFrame(f, &c.a1Head, &c.a1Tail)
		c.appendTail(f, &c.amHead, &c.amTail) // promotion A1 -> Am
		return
	}
	c.appendTail(f, &c.a1Head, &c.a1Tail) // fresh admission
}

func (c *Control) queueContains(head, bufID int) bool {
	for idx := head; idx != noLink; idx = c.frames[idx].next {
		if idx == bufID {
			return true
		}
	}
	return false
}

// NotifyBgwriter stores (or, passed nil, cancels) a pending wakeup for the
// background writer; the next GetVictim call signals and clears it.
func (c *Control) NotifyBgwriter(latch Latch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bgwriterLatch = latch
}

// SyncStart returns the clock hand position and pass/alloc counters, and
// resets the allocation counter, mirroring what the background writer reads
// at the start of each cleaning cycle.
func (c *Control) SyncStart() (startIdx int, completePasses, numAllocs uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	startIdx = c.nextVictim
	completePasses = c.completePasses
	numAllocs = c.numAllocs
	c.numAllocs = 0
	return
}
