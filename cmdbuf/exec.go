// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cmdbuf

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gviegas/scene/driver"
)

// Execution queue capacity bounds (spec.md §3, YF_CMDEMIN/YF_CMDEMAX).
const (
	CmdExecMin = 2
	CmdExecMax = 32
)

// pendingEntry is one submission waiting to be drained from a
// sub-queue (spec.md §3).
type pendingEntry struct {
	res      CmdRes
	callback func(result error)
}

// subQueue is one submission lane of the execution queue, keyed by a
// GPU queue family (spec.md §3). Multiple Kinds route into the same
// subQueue when they share a family.
type subQueue struct {
	family   int
	capacity int
	pending  []pendingEntry
}

// full reports whether q has no room for another entry.
func (q *subQueue) full() bool { return len(q.pending) >= q.capacity }

// ExecQueue batches recorder submissions per GPU queue, drives
// fence-based waiting and fires per-entry callbacks (spec.md §4.3,
// component C3).
type ExecQueue struct {
	ctx *Context

	mu   sync.Mutex
	main []*subQueue // One entry per distinct queue family in use.
	prio *subQueue

	waitList []func() error // Set by WaitFor; consumed by the next ExecPrio.
}

// newExecQueue creates a new execution queue. capacity is the main
// sub-queue capacity, clamped to [CmdExecMin, CmdExecMax]; the
// priority sub-queue always has minimum capacity (spec.md §4.3
// create).
func newExecQueue(ctx *Context, capacity int) (*ExecQueue, error) {
	if capacity < CmdExecMin {
		capacity = CmdExecMin
	} else if capacity > CmdExecMax {
		capacity = CmdExecMax
	}
	e := &ExecQueue{
		ctx:  ctx,
		prio: &subQueue{family: ctx.GraphicsFamily, capacity: CmdExecMin},
	}
	families := []int{ctx.GraphicsFamily}
	if ctx.ComputeFamily != ctx.GraphicsFamily {
		families = append(families, ctx.ComputeFamily)
	}
	for _, fam := range families {
		e.main = append(e.main, &subQueue{family: fam, capacity: capacity})
	}
	return e, nil
}

// close discards any pending entries without running callbacks; it is
// called only from Context teardown, after which no caller may
// observe the missed callbacks.
func (e *ExecQueue) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, q := range e.main {
		q.pending = nil
	}
	e.prio.pending = nil
}

// subQueueFor returns the sub-queue serving family, creating none (a
// family not present at construction time never gains one).
func (e *ExecQueue) subQueueFor(family int) *subQueue {
	for _, q := range e.main {
		if q.family == family {
			return q
		}
	}
	return nil
}

// Enqueue routes res into the sub-queue matching its source family,
// recording callback to be invoked once the batch containing it
// completes (spec.md §4.3 enqueue).
func (e *ExecQueue) Enqueue(res CmdRes, family int, callback func(result error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.subQueueFor(family)
	if q == nil {
		return newError(NOTFND, "no sub-queue for family")
	}
	if q.full() {
		return newError(QFULL, "execution queue full")
	}
	q.pending = append(q.pending, pendingEntry{res: res, callback: callback})
	return nil
}

// WaitFor appends fn to the shared wait list; the next ExecPrio call
// blocks on every pending entry before submitting new priority work
// (spec.md §4.3 wait_for). fn stands in for the original's raw
// semaphore wait, adapted to the driver package's vocabulary: calling
// it must block until the awaited condition is satisfied (see
// SPEC_FULL.md's SUPPLEMENTED FEATURES).
func (e *ExecQueue) WaitFor(fn func() error) {
	e.mu.Lock()
	e.waitList = append(e.waitList, fn)
	e.mu.Unlock()
}

// drain submits every non-empty sub-queue in qs once, waits for every
// submission to complete, then yields recorders and fires callbacks
// in submission order (spec.md §4.3's "detailed draining").
func (e *ExecQueue) drain(qs []*subQueue) error {
	type batch struct {
		q       *subQueue
		entries []pendingEntry
		err     error
	}
	batches := make([]*batch, 0, len(qs))
	for _, q := range qs {
		if len(q.pending) == 0 {
			continue
		}
		batches = append(batches, &batch{q: q, entries: q.pending})
		q.pending = nil
	}
	if len(batches) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, b := range batches {
		b := b
		g.Go(func() error {
			recorders := make([]driver.CmdBuffer, len(b.entries))
			for i, pe := range b.entries {
				recorders[i] = pe.res.Recorder
			}
			ch := make(chan error, 1)
			e.ctx.gpu.Commit(recorders, ch)
			b.err = <-ch
			return nil
		})
	}
	// The errgroup above never returns a non-nil error itself (each
	// worker stores its own result in b.err so every sub-queue still
	// drains its callbacks even if another sub-queue's submission
	// failed); Wait only serves to join the goroutines.
	_ = g.Wait()

	var first error
	for _, b := range batches {
		for _, pe := range b.entries {
			res := pe.res
			e.ctx.pool.Yield(&res)
			if pe.callback != nil {
				pe.callback(b.err)
			}
		}
		if b.err != nil && first == nil {
			first = b.err
		}
	}
	return first
}

// Exec drains every pending priority entry first; on priority failure
// the main sub-queues are Reset (discarding their pending entries with
// failure) and Exec returns that failure. Otherwise it drains the main
// sub-queues (spec.md §4.3 exec).
func (e *ExecQueue) Exec() error {
	if err := e.ExecPrio(); err != nil {
		e.Reset()
		return err
	}
	e.mu.Lock()
	qs := append([]*subQueue(nil), e.main...)
	e.mu.Unlock()
	return e.drain(qs)
}

// ExecPrio waits on the shared wait list, closes and enqueues any
// pending priority recorder, submits and waits on the priority
// sub-queue, then notifies the command pool's priority callbacks
// (spec.md §4.3 exec_prio).
func (e *ExecQueue) ExecPrio() error {
	e.mu.Lock()
	waits := e.waitList
	e.waitList = nil
	e.mu.Unlock()
	for _, fn := range waits {
		if err := fn(); err != nil {
			return wrapError(DEVGEN, "ExecPrio wait", err)
		}
	}

	recs, n := e.ctx.pool.CheckPrio()
	if n == 0 {
		return nil
	}
	res := recs[0]
	if err := res.Recorder.End(); err != nil {
		e.ctx.pool.NotifyPrio(err)
		return wrapError(DEVGEN, "End priority recorder", err)
	}

	e.mu.Lock()
	if e.prio.full() {
		e.mu.Unlock()
		e.ctx.pool.NotifyPrio(newError(QFULL, "priority queue full"))
		return newError(QFULL, "priority queue full")
	}
	e.prio.pending = append(e.prio.pending, pendingEntry{res: res})
	qs := []*subQueue{e.prio}
	e.mu.Unlock()

	err := e.drainPrio(qs[0])
	e.ctx.pool.NotifyPrio(err)
	return err
}

// drainPrio is like drain, but reports the batch result instead of
// yielding through per-entry callbacks (the priority recorder is
// yielded by CmdPool.NotifyPrio instead).
func (e *ExecQueue) drainPrio(q *subQueue) error {
	entries := q.pending
	q.pending = nil
	if len(entries) == 0 {
		return nil
	}
	recorders := make([]driver.CmdBuffer, len(entries))
	for i, pe := range entries {
		recorders[i] = pe.res.Recorder
	}
	ch := make(chan error, 1)
	e.ctx.gpu.Commit(recorders, ch)
	return <-ch
}

// Reset discards all pending main-queue entries: each recorder is
// pool-reset and its callback invoked with failure; the priority
// sub-queue is untouched (spec.md §4.3 reset).
func (e *ExecQueue) Reset() {
	e.mu.Lock()
	qs := append([]*subQueue(nil), e.main...)
	e.mu.Unlock()
	e.resetQueues(qs)
}

// ResetPrio discards all pending priority entries the same way Reset
// discards main entries (spec.md §4.3 reset_prio).
func (e *ExecQueue) ResetPrio() {
	e.mu.Lock()
	q := e.prio
	e.mu.Unlock()
	e.resetQueues([]*subQueue{q})
}

func (e *ExecQueue) resetQueues(qs []*subQueue) {
	failure := newError(DEVGEN, "reset")
	for _, q := range qs {
		e.mu.Lock()
		entries := q.pending
		q.pending = nil
		e.mu.Unlock()
		for _, pe := range entries {
			res := pe.res
			e.ctx.pool.Reset(&res)
			if pe.callback != nil {
				pe.callback(failure)
			}
		}
	}
}
