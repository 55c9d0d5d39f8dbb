// Package replacement implements the buffer pool victim-selection core shared
// by every novasql buffer pool: the fixed-size frame array, the free list, the
// CLOCK/LRU/MRU/2Q policy engine, the unpin-driven queue maintenance, and the
// per-caller access strategy ring used to confine bulk scans.
//
// The hash table mapping (relation, block) -> frame index, the background
// writer itself, and per-frame I/O all live above this package; replacement
// only tracks which frame to hand back next and keeps its queues consistent.
package replacement

import "fmt"

// Policy selects which replacement algorithm the Control dispatches to.
type Policy int

const (
	// CLOCK is the second-chance sweep over all frames.
	CLOCK Policy = iota
	// LRU evicts the least-recently-unpinned frame first.
	LRU
	// MRU evicts the most-recently-unpinned frame first.
	MRU
	// TwoQ combines an A1 probationary FIFO with an Am warm LRU list.
	TwoQ
)

// DefaultPolicy is used when no policy is configured explicitly.
const DefaultPolicy = TwoQ

// PolicyName returns the stable, lowercase name used in config and logs.
func PolicyName(p Policy) string {
	switch p {
	case CLOCK:
		return "clock"
	case LRU:
		return "lru"
	case MRU:
		return "mru"
	case TwoQ:
		return "2q"
	default:
		panic(fmt.Sprintf("invalid buffer pool replacement policy %d", p))
	}
}

// ParsePolicy maps a config string onto a Policy. Unknown values are the
// caller's responsibility to reject; ParsePolicy itself panics, matching the
// "invalid buffer pool replacement policy" invariant-violation surface used
// by the rest of this package.
func ParsePolicy(s string) Policy {
	switch s {
	case "", "2q":
		return TwoQ
	case "clock":
		return CLOCK
	case "lru":
		return LRU
	case "mru":
		return MRU
	default:
		panic(fmt.Sprintf("invalid buffer pool replacement policy %s", s))
	}
}
