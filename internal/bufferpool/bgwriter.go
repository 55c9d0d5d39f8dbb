package bufferpool

import (
	"context"
	"log/slog"
	"time"

	"github.com/dbcore/novadb/internal/bufferpool/replacement"
)

// WakeupLatch is the concrete replacement.Latch the background writer hands
// to GlobalPool.NotifyBgwriter: a one-shot, non-blocking wakeup channel.
type WakeupLatch struct {
	ch chan struct{}
}

func NewWakeupLatch() *WakeupLatch {
	return &WakeupLatch{ch: make(chan struct{}, 1)}
}

// Signal implements replacement.Latch. Safe to call from GetVictim's caller
// goroutine; never blocks.
func (l *WakeupLatch) Signal() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

var _ replacement.Latch = (*WakeupLatch)(nil)

// BgWriter periodically sweeps the global pool ahead of the clock hand,
// write-ahead-logging and flushing dirty frames so foreground backends rarely
// block on a dirty victim. It re-arms NotifyBgwriter after every cycle so the
// next victim search that goes past a strategy ring wakes it early.
type BgWriter struct {
	gp       *GlobalPool
	wal      WALLogger
	latch    *WakeupLatch
	interval time.Duration
	maxPages int
}

// NewBgWriter builds a background writer for gp. wal may be nil, in which
// case pages are flushed without a write-ahead log record. maxPages bounds
// the number of dirty frames flushed per cycle; <= 0 defaults to 64. An
// interval <= 0 defaults to 200ms.
func NewBgWriter(gp *GlobalPool, wal WALLogger, interval time.Duration, maxPages int) *BgWriter {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if maxPages <= 0 {
		maxPages = 64
	}
	return &BgWriter{
		gp:       gp,
		wal:      wal,
		latch:    NewWakeupLatch(),
		interval: interval,
		maxPages: maxPages,
	}
}

// Run blocks, sweeping on a fixed timer and on early wakeups from
// GetVictim, until ctx is canceled.
func (b *BgWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.gp.NotifyBgwriter(b.latch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.cycle()
		case <-b.latch.ch:
			b.cycle()
		}
	}
}

func (b *BgWriter) cycle() {
	start, completePasses, numAllocs := b.gp.SyncStart()
	if numAllocs == 0 {
		b.gp.NotifyBgwriter(b.latch)
		return
	}
	n, err := b.gp.FlushFrom(start, b.maxPages, b.wal)
	if err != nil {
		slog.Warn("bgwriter: flush cycle error", "err", err)
	}
	slog.Debug("bgwriter: cycle complete", "flushed", n, "complete_passes", completePasses, "since_last", numAllocs)
	b.gp.NotifyBgwriter(b.latch)
}
