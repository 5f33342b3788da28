package accumulator

import "sync"

// Pool owns the three rotating accumulators and enforces the
// displayed/current/queued/free discipline the Render Driver depends on.
// Exactly one accumulator is displayed at any time; zero or one is
// current (awaiting a sort before it can become displayed); zero or one
// more is queued behind it (composed, but not yet promoted to current
// because a sort for the current one is already pending or in flight);
// the rest sit free for the next frame's composition. A later-prepared
// composition never supersedes an earlier one whose sort has not yet
// begun — it queues instead, and PopFree naturally refuses further work
// once both current and queued are occupied, since that accounts for all
// but the displayed accumulator.
type Pool struct {
	mu sync.Mutex

	displayed *Accumulator
	current   *Accumulator
	queued    *Accumulator
	free      []*Accumulator

	nextVersion uint64
}

// NewPool allocates the three accumulators, all empty, one displayed and two
// free.
func NewPool() *Pool {
	// The displayed accumulator starts with the empty composition's mapping
	// version so a driver that composes nothing new sees no composition
	// change, rather than spuriously retaining a "current" forever.
	emptyMapping := computeMappingVersion(nil)
	p := &Pool{
		displayed: &Accumulator{MappingVersion: emptyMapping},
		free:      []*Accumulator{{}, {}},
	}
	return p
}

// NextVersion hands out a monotonically increasing composition version for
// Accumulator.Prepare.
func (p *Pool) NextVersion() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextVersion++
	return p.nextVersion
}

// PopFree removes and returns one accumulator from the free list, or
// ok=false if current and queued are both already occupied (the driver
// should skip this frame's composition rather than block).
func (p *Pool) PopFree() (*Accumulator, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, false
	}
	acc := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return acc, true
}

// Release returns acc to the free list unused, for the gating path where
// the driver decides this frame needs no new composition.
func (p *Pool) Release(acc *Accumulator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, acc)
}

// Displayed returns the currently displayed accumulator.
func (p *Pool) Displayed() *Accumulator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayed
}

// Current returns the accumulator awaiting a sort before it can be
// displayed, and whether one is pending.
func (p *Pool) Current() (*Accumulator, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.current != nil
}

// SwapDisplayed promotes acc to displayed immediately, reusing the
// existing sort ordering; the prior displayed accumulator returns to
// free. Used when the new composition's mapping version matches the
// displayed one, so no new sort is needed.
func (p *Pool) SwapDisplayed(acc *Accumulator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, p.displayed)
	p.displayed = acc
}

// SetCurrent hands acc to the current/queued slot while a fresh sort is
// scheduled. If current is empty, acc becomes current directly. If
// current is already occupied (its sort has not yet begun or is still in
// flight), acc queues behind it rather than superseding it; any
// previously queued accumulator (now stale, since acc supersedes only the
// queue slot, not current) returns to free.
func (p *Pool) SetCurrent(acc *Accumulator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		p.current = acc
		return
	}
	if p.queued != nil {
		p.free = append(p.free, p.queued)
	}
	p.queued = acc
}

// PromoteCurrent is called once the Sort Worker's ordering for the current
// accumulator lands: current becomes displayed, the old displayed returns
// to free, and a queued accumulator (if any) immediately becomes the new
// current so its sort can be scheduled without waiting for another
// SetCurrent call.
func (p *Pool) PromoteCurrent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	p.free = append(p.free, p.displayed)
	p.displayed = p.current
	p.current = p.queued
	p.queued = nil
}
