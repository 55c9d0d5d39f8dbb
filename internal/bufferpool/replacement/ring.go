package replacement

import "fmt"

// BType selects how an AccessStrategy ring is sized.
type BType int

const (
	// Normal requests no ring at all; MakeStrategy returns nil for it.
	Normal BType = iota
	BulkRead
	BulkWrite
	Vacuum
)

const (
	bulkReadRingBytes  = 256 * 1024
	vacuumRingBytes    = 256 * 1024
	bulkWriteRingBytes = 16 * 1024 * 1024
)

// AccessStrategy is a per-caller bounded ring of frame numbers that confines
// a bulk scan (sequential scan, VACUUM, bulk write) to a small rotating set
// of frames instead of flushing the whole pool's Am/A1 ordering. It lives in
// the caller's memory, is populated lazily as get_victim calls flow through
// it, and is explicitly released with Free.
type AccessStrategy struct {
	btype            BType
	buffers          []int // NotInList = empty slot, else a frame index
	current          int
	currentWasInRing bool
}

// ringSize computes the slot count for btype given pageSize and nFrames,
// capped at nFrames/8 as PostgreSQL's bulk-read/vacuum/bulk-write strategies
// are.
func ringSize(btype BType, pageSize, nFrames int) int {
	var budget int
	switch btype {
	case BulkRead:
		budget = bulkReadRingBytes
	case Vacuum:
		budget = vacuumRingBytes
	case BulkWrite:
		budget = bulkWriteRingBytes
	default:
		panic(fmt.Sprintf("unrecognized buffer access strategy: %d", btype))
	}

	size := budget / pageSize
	if size < 1 {
		size = 1
	}
	if cap := nFrames / 8; cap > 0 && size > cap {
		size = cap
	}
	return size
}

// MakeStrategy returns nil for Normal (callers use the default path
// directly) or a freshly allocated ring otherwise.
func MakeStrategy(btype BType, pageSize, nFrames int) *AccessStrategy {
	if btype == Normal {
		return nil
	}
	size := ringSize(btype, pageSize, nFrames)
	buffers := make([]int, size)
	for i := range buffers {
		buffers[i] = NotInList
	}
	return &AccessStrategy{btype: btype, buffers: buffers, current: -1}
}

// Free releases the strategy's references to frames early; the ring itself
// is ordinary caller-owned memory and needs no other teardown.
func (s *AccessStrategy) Free() {
	for i := range s.buffers {
		s.buffers[i] = NotInList
	}
}

// BType reports which kind of ring this is.
func (s *AccessStrategy) BType() BType { return s.btype }

// get advances the ring cursor and returns a reusable frame if the slot it
// lands on holds one that is still unpinned and has at most our own prior
// touch recorded against it.
func (s *AccessStrategy) get(c *Control) (*FrameDescriptor, bool) {
	s.current++
	if s.current >= len(s.buffers) {
		s.current = 0
	}

	slot := s.buffers[s.current]
	if slot == NotInList {
		s.currentWasInRing = false
		return nil, false
	}

	f := c.Frame(slot)
	f.Lock()
	if f.RefCount == 0 && f.UsageCount <= 1 {
		s.currentWasInRing = true
		return f, true
	}
	f.Unlock()
	s.currentWasInRing = false
	return nil, false
}

// put stores the frame the caller ended up with into the current ring slot,
// evicting whatever reference used to live there.
func (s *AccessStrategy) put(f *FrameDescriptor) {
	if s == nil || s.current < 0 {
		return
	}
	s.buffers[s.current] = f.BufID
}

// Reject is only meaningful for BulkRead: if frame is the current slot and
// it was actually drawn from the ring (not freshly installed by put), clear
// the slot and report true so the manager tries another victim instead of
// stalling on a dirty-frame flush. Non-BulkRead callers are expected to
// write the frame back and reuse it, so Reject always reports false there.
func (s *AccessStrategy) Reject(frame *FrameDescriptor) bool {
	if s.btype != BulkRead {
		return false
	}
	if s.current >= 0 && s.buffers[s.current] == frame.BufID && s.currentWasInRing {
		s.buffers[s.current] = NotInList
		return true
	}
	return false
}
