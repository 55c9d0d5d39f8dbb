package replacement

import "sync"

// endOfChain terminates the free list's singly linked chain: it is what the
// tail frame's FreeNext holds, and what Control.firstFree/lastFree hold when
// the list is empty.
const endOfChain = -1

// NotInList marks a frame that is not currently linked into the free list at
// all (distinct from endOfChain, which means "linked, and is the tail") so
// FreeBuffer can tell the two states apart and stay idempotent.
const NotInList = -2

// noLink marks the absence of a queue neighbour (Am or A1, whichever the
// frame currently belongs to).
const noLink = -1

// FrameDescriptor is the per-frame state the replacement engine needs:
// pin/usage counters and the intrusive free-list/queue links. It is the
// "external, referenced" frame descriptor from the data model section of the
// buffer pool spec; the page contents, dirty bit and (relation, block) tag
// live one layer up, in the caller's own frame struct.
//
// A frame's prev/next pair is shared between the Am and A1 queues: a frame
// is a member of at most one of them at a time (see Control's membership
// invariant), so one pair of links suffices.
type FrameDescriptor struct {
	BufID int

	latch sync.Mutex

	RefCount   int32
	UsageCount int32

	FreeNext int

	prev, next int
}

// NewFrameDescriptor returns a descriptor for frame index id, not currently
// queued or pinned.
func NewFrameDescriptor(id int) *FrameDescriptor {
	return &FrameDescriptor{
		BufID:    id,
		FreeNext: NotInList,
		prev:     noLink,
		next:     noLink,
	}
}

// Lock acquires the frame's latch, guarding RefCount and UsageCount. Queue
// link mutations are guarded by the pool lock instead (see Control), so
// walking prev/next does not require taking this latch.
func (f *FrameDescriptor) Lock() { f.latch.Lock() }

// Unlock releases the frame latch.
func (f *FrameDescriptor) Unlock() { f.latch.Unlock() }

// Pinned reports whether the frame currently has any active pins. Callers
// must hold the frame latch.
func (f *FrameDescriptor) Pinned() bool { return f.RefCount > 0 }
