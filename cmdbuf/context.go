// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package cmdbuf implements a two-stage command buffer subsystem on
// top of the driver.GPU abstraction: an encoder that records typed
// drawing/compute/transfer operations without touching the GPU, and a
// decoder that replays those operations against a pooled, fence-based
// execution queue.
package cmdbuf

import (
	"sync"

	"github.com/gviegas/scene/driver"
)

// NoFamily identifies the absence of a queue family, mirroring the
// "-1 means absent" convention of spec.md §3.
const NoFamily = -1

// managedSlot is a (used, teardown) pair, mirroring the original's
// per-subsystem private-pointer/teardown convention (yf-core's
// context.c). Slots are torn down in reverse order of first use.
type managedSlot struct {
	used     bool
	teardown func()
}

// Context is the minimal view over a device that the command pool,
// execution queue and command buffers share (spec.md §4.1, component
// C1). A Context owns exactly one CmdPool and one ExecQueue, created
// together with it.
type Context struct {
	gpu driver.GPU

	// GraphicsFamily and ComputeFamily identify the queue family used
	// for each kind of work. Either may equal NoFamily, but not both.
	// When they are equal, graphics and compute work share a single
	// sub-queue in the execution queue, as spec.md §4.3 allows.
	// driver.GPU currently exposes a single combined queue (see
	// driver/vk/driver.go), so both default to family 0.
	GraphicsFamily int
	ComputeFamily  int

	limitsOnce sync.Once
	limits     Limits

	mu    sync.Mutex // Guards pool/exec and the managed slots.
	slots []managedSlot

	pool *CmdPool
	exec *ExecQueue

	// decoding tracks the single in-flight decode per Kind, standing
	// in for the original's thread-local decoder-state slot (see
	// DESIGN.md for why this is context-wide rather than per-OS-thread).
	decoding [nKind]bool
	decMu    sync.Mutex
}

// NewContext creates a new Context backed by gpu. poolCap and
// queueCap are the command pool and execution queue capacities,
// clamped as CmdPool/ExecQueue document.
func NewContext(gpu driver.GPU, poolCap, queueCap int) (*Context, error) {
	c := &Context{
		gpu:            gpu,
		GraphicsFamily: 0,
		ComputeFamily:  0,
	}
	pool, err := newCmdPool(c, poolCap)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	c.useSlot(func() { c.pool.close() })

	exec, err := newExecQueue(c, queueCap)
	if err != nil {
		c.teardown()
		return nil, err
	}
	c.exec = exec
	c.useSlot(func() { c.exec.close() })

	return c, nil
}

// useSlot registers a teardown function, to be invoked in reverse
// order from Close/teardown. It mirrors yf-core's per-subsystem
// managed-slot registration (context.c).
func (c *Context) useSlot(teardown func()) {
	c.slots = append(c.slots, managedSlot{used: true, teardown: teardown})
}

// teardown runs every registered slot's teardown function in reverse
// registration order. Each teardown must tolerate partial
// initialization of the state it guards.
func (c *Context) teardown() {
	for i := len(c.slots) - 1; i >= 0; i-- {
		if c.slots[i].used {
			c.slots[i].teardown()
		}
	}
	c.slots = nil
}

// Close releases the pool and execution queue owned by c.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
}

// GPU returns the driver.GPU backing c.
func (c *Context) GPU() driver.GPU { return c.gpu }

// Pool returns the command pool owned by c.
func (c *Context) Pool() *CmdPool { return c.pool }

// Exec returns the execution queue owned by c.
func (c *Context) Exec() *ExecQueue { return c.exec }

// Limits returns the subsystem limits derived from the underlying
// driver.Limits. The value is computed once and cached (spec.md §4.1).
func (c *Context) Limits() Limits {
	c.limitsOnce.Do(func() {
		c.limits = deriveLimits(c.gpu.Limits())
	})
	return c.limits
}

// familyFor returns the queue family that recorders of the given kind
// must be submitted to.
func (c *Context) familyFor(k Kind) int {
	switch k {
	case Graphics:
		return c.GraphicsFamily
	case Compute:
		return c.ComputeFamily
	}
	panic("cmdbuf: invalid Kind")
}

// acquireDecoder claims the single decode slot for k, returning false
// if a decode for this kind is already in flight (spec.md §4.4,
// "in use").
func (c *Context) acquireDecoder(k Kind) bool {
	c.decMu.Lock()
	defer c.decMu.Unlock()
	if c.decoding[k] {
		return false
	}
	c.decoding[k] = true
	return true
}

// releaseDecoder clears the decode slot for k. Called unconditionally
// once decode finishes, success or failure, mirroring the original's
// "thread-local slot is cleared" invariant.
func (c *Context) releaseDecoder(k Kind) {
	c.decMu.Lock()
	c.decoding[k] = false
	c.decMu.Unlock()
}
