// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cmdbuf

import (
	"math"

	"github.com/gviegas/scene/driver"
)

// initialCmdCap is the initial command list capacity a CmdBuf is
// created with (spec.md §4.4 get).
const initialCmdCap = 128

// CmdBuf records typed commands for later translation into GPU calls
// (spec.md §3, component C4's encode side). A CmdBuf is single
// threaded and owned by its client for its whole lifetime, from Get
// to End.
type CmdBuf struct {
	ctx     *Context
	kind    Kind
	cmds    []Cmd
	invalid bool
	err     error // First error recorded while encoding.
}

// Get allocates a new command buffer of the given kind (spec.md §4.4
// get).
func Get(ctx *Context, kind Kind) (*CmdBuf, error) {
	if kind != Graphics && kind != Compute {
		return nil, newError(INVARG, "invalid kind")
	}
	return &CmdBuf{
		ctx:  ctx,
		kind: kind,
		cmds: make([]Cmd, 0, initialCmdCap),
	}, nil
}

// Kind returns b's kind.
func (b *CmdBuf) Kind() Kind { return b.kind }

// Invalid reports whether encoding onto b has already failed.
func (b *CmdBuf) Invalid() bool { return b.invalid }

// setInvalid marks b invalid and records the first failure's cause,
// matching spec.md §4.4's "a mismatch sets invalid = true".
func (b *CmdBuf) setInvalid(err error) {
	if !b.invalid {
		b.invalid = true
		b.err = err
	}
}

// append validates op against b.kind and appends cmd to b's list,
// growing the list by doubling (falling back to +1 on overflow) when
// full (spec.md §4.4, §9 grow policy). Every typed encode method below
// is a thin wrapper around this.
func (b *CmdBuf) append(op cmdOp, data any) {
	if b.invalid {
		return
	}
	if !op.allowedFor(b.kind) {
		b.setInvalid(newError(INVARG, "command not permitted for this kind"))
		return
	}
	if len(b.cmds) == cap(b.cmds) {
		newCap := cap(b.cmds) * 2
		if newCap <= cap(b.cmds) {
			newCap = cap(b.cmds) + 1
		}
		if newCap < 0 || newCap > math.MaxInt32 {
			b.setInvalid(newError(LIMIT, "command list growth exceeds maximum capacity"))
			return
		}
		grown := make([]Cmd, len(b.cmds), newCap)
		copy(grown, b.cmds)
		b.cmds = grown
	}
	b.cmds = append(b.cmds, Cmd{op: op, Data: data})
}

// SetGState binds a graphics pipeline state.
func (b *CmdBuf) SetGState(s *GState) {
	b.append(opSetGState, GStateParams{State: s})
}

// SetCState binds a compute pipeline state.
func (b *CmdBuf) SetCState(s *CState) {
	b.append(opSetCState, CStateParams{State: s})
}

// SetTarget binds a render target.
func (b *CmdBuf) SetTarget(t *Target) {
	b.append(opSetTarget, TargetParams{Target: t})
}

// SetViewport sets a single viewport.
func (b *CmdBuf) SetViewport(index int, vp driver.Viewport) {
	b.append(opSetViewport, ViewportParams{Index: index, Viewport: vp})
}

// SetScissor sets a single scissor rectangle.
func (b *CmdBuf) SetScissor(index int, r driver.Scissor) {
	b.append(opSetScissor, ScissorParams{Index: index, Rect: r})
}

// SetDTable binds a descriptor table allocation slot to a set index.
// The descriptor table itself is the one declared by the currently
// bound GState/CState at that index; alloc selects which heap copy
// to bind.
func (b *CmdBuf) SetDTable(index int, alloc int) {
	b.append(opSetDTable, DTableParams{Index: index, Alloc: alloc})
}

// SetVBuf binds a vertex buffer.
func (b *CmdBuf) SetVBuf(index int, buf driver.Buffer, off int64) {
	b.append(opSetVBuf, VBufParams{Index: index, Buffer: buf, Offset: off})
}

// SetIBuf binds the index buffer. stride must be 2 or 4.
func (b *CmdBuf) SetIBuf(buf driver.Buffer, off int64, stride int) {
	if stride != 2 && stride != 4 {
		b.setInvalid(newError(INVARG, "index stride must be 2 or 4"))
		return
	}
	b.append(opSetIBuf, IBufParams{Buffer: buf, Offset: off, Stride: stride})
}

// ClearColor records a deferred color clear for a target attachment.
func (b *CmdBuf) ClearColor(index int, color [4]float32) {
	b.append(opClearColor, ClearColorParams{Index: index, Color: color})
}

// ClearDepth records a deferred depth clear.
func (b *CmdBuf) ClearDepth(value float32) {
	b.append(opClearDepth, ClearDepthParams{Value: value})
}

// ClearStencil records a deferred stencil clear.
func (b *CmdBuf) ClearStencil(value uint32) {
	b.append(opClearStencil, ClearStencilParams{Value: value})
}

// Draw records a draw call. For indexed draws, indexBase selects the
// first index, vertIDOrOff is the base vertex offset; for
// non-indexed draws, vertIDOrOff is the first vertex.
func (b *CmdBuf) Draw(indexed bool, indexBase, vertCount, instCount, vertIDOrOff, instID int) {
	b.append(opDraw, DrawParams{
		Indexed:     indexed,
		IndexBase:   indexBase,
		VertCount:   vertCount,
		InstCount:   instCount,
		VertIDOrOff: vertIDOrOff,
		InstID:      instID,
	})
}

// Dispatch records a compute dispatch. width, height and depth must
// be positive.
func (b *CmdBuf) Dispatch(width, height, depth int) {
	if width <= 0 || height <= 0 || depth <= 0 {
		b.setInvalid(newError(INVARG, "dispatch dimensions must be positive"))
		return
	}
	b.append(opDispatch, DispatchParams{Width: width, Height: height, Depth: depth})
}

// CopyBuf records a buffer-to-buffer copy.
func (b *CmdBuf) CopyBuf(p CopyBufParams) {
	b.append(opCopyBuf, p)
}

// CopyImg records an image-to-image copy.
func (b *CmdBuf) CopyImg(p CopyImgParams) {
	b.append(opCopyImg, p)
}

// Sync records a full memory barrier.
func (b *CmdBuf) Sync() {
	b.append(opSync, nil)
}

// End terminates encoding. If b is invalid, its storage is released
// and End returns that failure without decoding. Otherwise it runs
// decode and releases storage regardless of the outcome (spec.md §4.4
// end).
func (b *CmdBuf) End() error {
	if b.invalid {
		b.cmds = nil
		if b.err != nil {
			return b.err
		}
		return newError(INVARG, "command buffer is invalid")
	}
	var err error
	switch b.kind {
	case Graphics:
		err = decodeGraphics(b)
	case Compute:
		err = decodeCompute(b)
	}
	b.cmds = nil
	return err
}

// Exec forwards to the context's execution queue (spec.md §4.4 exec).
func Exec(ctx *Context) error { return ctx.exec.Exec() }

// Reset forwards to the context's execution queue (spec.md §4.4
// reset).
func Reset(ctx *Context) { ctx.exec.Reset() }
