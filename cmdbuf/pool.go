// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cmdbuf

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/gviegas/scene/driver"
	"github.com/gviegas/scene/internal/bitm"
)

// Pool capacity bounds (spec.md §3, YF_CMDPMIN/YF_CMDPMAX).
const (
	CmdPoolMin = 1
	CmdPoolMax = 32
)

// CmdRes is a resource borrowed from a CmdPool: a recorder plus the
// index identifying its entry (spec.md §3). ResID < 0 means
// unassigned.
type CmdRes struct {
	Recorder driver.CmdBuffer
	ResID    int
}

// prioCallback is a pending priority-submission callback (spec.md §4.2).
type prioCallback struct {
	fn  func(result error)
	arg any
}

// CmdPool allocates, tracks and recycles low-level recorders, and
// hosts the distinguished priority recorder used for out-of-band work
// (spec.md §4.2, component C2).
type CmdPool struct {
	ctx *Context

	mu      sync.Mutex
	entries []driver.CmdBuffer
	inUse   bitm.Bitm[uint64]
	lastI   int
	curN    int

	sem *semaphore.Weighted // Sized to len(entries); backs ObtainWait.

	prio     CmdRes
	prioOpen bool
	prioCbs  []prioCallback
}

// newCmdPool creates a new command pool of the given capacity,
// clamped to [CmdPoolMin, CmdPoolMax] (spec.md §4.2 create).
func newCmdPool(ctx *Context, capacity int) (*CmdPool, error) {
	if capacity < CmdPoolMin {
		capacity = CmdPoolMin
	} else if capacity > CmdPoolMax {
		capacity = CmdPoolMax
	}
	p := &CmdPool{
		ctx:    ctx,
		sem:    semaphore.NewWeighted(int64(capacity)),
		prio:   CmdRes{ResID: -1},
	}
	p.inUse.Grow((capacity + 63) / 64)
	for i := 0; i < capacity; i++ {
		cb, err := ctx.gpu.NewCmdBuffer()
		if err != nil {
			p.close()
			return nil, wrapError(DEVGEN, "NewCmdBuffer", err)
		}
		p.entries = append(p.entries, cb)
	}
	return p, nil
}

// close destroys every recorder owned by the pool.
func (p *CmdPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cb := range p.entries {
		if cb != nil {
			cb.Destroy()
		}
	}
	p.entries = nil
}

// Obtain scans from the round-robin hint for a free entry. On success
// it marks the entry in use and returns it; on a full pool it fails
// with INUSE (spec.md §4.2 obtain). kind is accepted for symmetry
// with the original API; this implementation does not segregate
// entries by kind.
//
// Obtain and ObtainWait share the pool's semaphore accounting (every
// successful Obtain/ObtainWait acquires it, every Yield releases it),
// so the two may be mixed freely without over-releasing the semaphore.
func (p *CmdPool) Obtain(kind Kind) (CmdRes, error) {
	if !p.sem.TryAcquire(1) {
		return CmdRes{ResID: -1}, newError(INUSE, "command pool exhausted")
	}
	p.mu.Lock()
	res, err := p.obtainLocked()
	p.mu.Unlock()
	if err != nil {
		p.sem.Release(1)
	}
	return res, err
}

func (p *CmdPool) obtainLocked() (CmdRes, error) {
	n := len(p.entries)
	for i := 0; i < n; i++ {
		idx := (p.lastI + i) % n
		if !p.inUse.IsSet(idx) {
			p.inUse.Set(idx)
			p.lastI = (idx + 1) % n
			p.curN++
			return CmdRes{Recorder: p.entries[idx], ResID: idx}, nil
		}
	}
	return CmdRes{ResID: -1}, newError(INUSE, "command pool exhausted")
}

// ObtainWait behaves like Obtain, but blocks until a recorder is
// available instead of failing, using a semaphore sized to the
// pool's capacity (grounded on golang.org/x/sync/semaphore; see
// SPEC_FULL.md's DOMAIN STACK).
func (p *CmdPool) ObtainWait(ctx context.Context, kind Kind) (CmdRes, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return CmdRes{ResID: -1}, wrapError(INUSE, "ObtainWait", err)
	}
	p.mu.Lock()
	res, err := p.obtainLocked()
	p.mu.Unlock()
	if err != nil {
		p.sem.Release(1)
	}
	return res, err
}

// Yield returns a previously obtained resource to the pool (spec.md
// §4.2 yield). It is a no-op if res.ResID < 0.
func (p *CmdPool) Yield(res *CmdRes) {
	if res.ResID < 0 {
		return
	}
	p.mu.Lock()
	if !p.inUse.IsSet(res.ResID) {
		p.mu.Unlock()
		panic("cmdbuf: Yield of an entry that is not in use")
	}
	p.inUse.Unset(res.ResID)
	p.lastI = res.ResID
	p.curN--
	wasPrio := p.prioOpen && p.prio.ResID == res.ResID
	if wasPrio {
		p.prio = CmdRes{ResID: -1}
		p.prioOpen = false
	}
	p.mu.Unlock()
	p.sem.Release(1)
	*res = CmdRes{ResID: -1}
}

// Reset resets the GPU-side recorder of res, releasing pool-internal
// resources, then yields it (spec.md §4.2 reset).
func (p *CmdPool) Reset(res *CmdRes) error {
	if res.ResID < 0 {
		return nil
	}
	err := res.Recorder.Reset()
	p.Yield(res)
	if err != nil {
		return wrapError(DEVGEN, "Reset", err)
	}
	return nil
}

// GetPrio returns the shared priority recorder, opening it for
// one-time-submit recording if it is not already held, and appends
// callb/arg to the pending priority callback list if callb is
// non-nil (spec.md §4.2 get_prio).
func (p *CmdPool) GetPrio(kind Kind, callb func(result error), arg any) (*CmdRes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.prioOpen {
		if !p.sem.TryAcquire(1) {
			return nil, newError(INUSE, "command pool exhausted")
		}
		res, err := p.obtainLocked()
		if err != nil {
			p.sem.Release(1)
			return nil, err
		}
		if err := res.Recorder.Begin(); err != nil {
			p.inUse.Unset(res.ResID)
			p.curN--
			p.sem.Release(1)
			return nil, wrapError(DEVGEN, "Begin", err)
		}
		p.prio = res
		p.prioOpen = true
	}
	if callb != nil {
		p.prioCbs = append(p.prioCbs, prioCallback{fn: callb, arg: arg})
	}
	res := p.prio
	return &res, nil
}

// CheckPrio returns the priority recorder if one is pending, and how
// many (0 or 1), mirroring spec.md §4.2 check_prio.
func (p *CmdPool) CheckPrio() ([]CmdRes, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prioOpen {
		return []CmdRes{p.prio}, 1
	}
	return nil, 0
}

// NotifyPrio yields the priority recorder and fires every pending
// callback, in insertion order, with result (spec.md §4.2
// notify_prio).
func (p *CmdPool) NotifyPrio(result error) {
	p.mu.Lock()
	res := p.prio
	cbs := p.prioCbs
	p.prioCbs = nil
	p.mu.Unlock()

	p.Yield(&res)

	for _, cb := range cbs {
		cb.fn(result)
	}
}

// CurN returns the number of entries currently in use.
func (p *CmdPool) CurN() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curN
}
