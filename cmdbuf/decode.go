// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cmdbuf

import (
	"github.com/gviegas/scene/driver"
	"github.com/gviegas/scene/internal/bitvec"
)

// decBits records which pieces of graphics state have been observed
// at least once during a decode, used to validate that Draw has
// everything it needs bound (spec.md §4.4).
type decBits int

const (
	bitGState decBits = 1 << iota
	bitTarget
	bitViewport
	bitScissor
	bitVBuf
	bitIBuf
)

// dtbState is the deferred descriptor-table binding state shared by
// the graphics and compute decode loops (spec.md §4.4 "Descriptor
// tables").
type dtbState struct {
	pending bool
	allocs  map[int]int // set index -> heap copy
	used    bitvec.V[uint32]
}

func (s *dtbState) set(index, alloc int) {
	if s.allocs == nil {
		s.allocs = make(map[int]int)
	}
	s.allocs[index] = alloc
	for s.used.Len() <= index {
		s.used.Grow(1)
	}
	s.used.Set(index)
	s.pending = true
}

func (s *dtbState) clear() {
	s.pending = false
	for i, ok := range s.used.All() {
		if ok {
			s.used.Unset(i)
		}
	}
}

// bindDTables binds one descriptor table range per pending set index,
// validating each against the bound state's declared tables
// (spec.md §4.4 "Descriptor tables"). Shared by the graphics and
// compute loops.
func bindDTables(cb driver.CmdBuffer, dtables []*DTable, dtb *dtbState, graphics bool) error {
	for i, ok := range dtb.used.All() {
		if !ok {
			continue
		}
		if i >= len(dtables) {
			return newError(INVARG, "descriptor table index exceeds bound state's table count")
		}
		t := dtables[i]
		alloc := dtb.allocs[i]
		if alloc >= t.SetCount {
			return newError(INVARG, "descriptor table allocation index out of range")
		}
		if graphics {
			cb.SetDescTableGraph(t.Table, i, []int{alloc})
		} else {
			cb.SetDescTableComp(t.Table, i, []int{alloc})
		}
	}
	dtb.clear()
	return nil
}

// clearState is the deferred clear-value state of the graphics decode
// loop (spec.md §4.4 "Deferred clears").
type clearState struct {
	pending bool
	colors  map[int][4]float32
	used    bitvec.V[uint32]
	depth   *float32
	stencil *uint32
}

func (s *clearState) setColor(index int, color [4]float32) {
	if s.colors == nil {
		s.colors = make(map[int][4]float32)
	}
	s.colors[index] = color
	for s.used.Len() <= index {
		s.used.Grow(1)
	}
	s.used.Set(index)
	s.pending = true
}

func (s *clearState) setDepth(v float32) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.depth = &v
	s.pending = true
}

func (s *clearState) setStencil(v uint32) {
	s.stencil = &v
	s.pending = true
}

func (s *clearState) reset() {
	for i, ok := range s.used.All() {
		if ok {
			s.used.Unset(i)
		}
	}
	s.colors = nil
	s.depth = nil
	s.stencil = nil
	s.pending = false
}

// buildClearValues produces the ClearValue slice BeginPass expects
// from the currently pending clear state; attachments with no
// pending clear are left zeroed.
func (s *clearState) buildClearValues(pass *Pass) []driver.ClearValue {
	cv := make([]driver.ClearValue, pass.ColorCount+pass.DepthCount)
	for i, ok := range s.used.All() {
		if ok && i < pass.ColorCount {
			cv[i] = driver.ClearValue{Color: s.colors[i]}
		}
	}
	if pass.DepthCount > 0 && (s.depth != nil || s.stencil != nil) {
		var d float32
		var st uint32
		if s.depth != nil {
			d = *s.depth
		}
		if s.stencil != nil {
			st = *s.stencil
		}
		cv[pass.ColorCount] = driver.ClearValue{Depth: d, Stencil: st}
	}
	return cv
}

// gdec is the graphics decode loop's local state (spec.md §4.4
// "Graphics decode loop state").
type gdec struct {
	gst      *GState
	tgt      *Target
	bits     decBits
	dtb      dtbState
	clear    clearState
	passOpen bool
	blitOpen bool

	// boundGState is the state last bound on the recorder itself,
	// as opposed to gst, which is merely the last one recorded by
	// SetGState; the two can differ when SetGState is called more
	// than once before the next Draw.
	boundGState *GState
}

// endBlit closes an open blit scope, if any.
func (d *gdec) endBlit(cb driver.CmdBuffer) {
	if d.blitOpen {
		cb.EndBlit()
		d.blitOpen = false
	}
}

// beginBlit closes an open render pass, if any, and opens a blit
// scope if one is not already open. Logical blocks never nest
// (driver.CmdBuffer's usage contract).
func (d *gdec) beginBlit(cb driver.CmdBuffer) {
	if d.passOpen {
		cb.EndPass()
		d.passOpen = false
	}
	if !d.blitOpen {
		cb.BeginBlit(false)
		d.blitOpen = true
	}
}

// decodeGraphics runs the encode/decode/execute pipeline for a
// graphics CmdBuf (spec.md §4.4).
func decodeGraphics(b *CmdBuf) error {
	ctx := b.ctx
	if !ctx.acquireDecoder(Graphics) {
		return newError(INUSE, "graphics decoder already in use")
	}
	defer ctx.releaseDecoder(Graphics)

	res, err := ctx.pool.Obtain(Graphics)
	if err != nil {
		return err
	}
	if err := res.Recorder.Begin(); err != nil {
		ctx.pool.Yield(&res)
		return wrapError(DEVGEN, "Begin", err)
	}

	var d gdec
	cb := res.Recorder
	decErr := runGraphicsLoop(ctx, cb, &d, b.cmds)

	d.endBlit(cb)
	if d.passOpen {
		cb.EndPass()
		d.passOpen = false
	}
	if decErr == nil && d.clear.pending {
		decErr = flushEndOfStreamClears(cb, &d)
	}

	if endErr := cb.End(); decErr == nil && endErr != nil {
		decErr = wrapError(DEVGEN, "End", endErr)
	}
	if decErr != nil {
		ctx.pool.Yield(&res)
		return decErr
	}
	if err := ctx.exec.Enqueue(res, ctx.familyFor(Graphics), nil); err != nil {
		ctx.pool.Yield(&res)
		return err
	}
	return nil
}

// runGraphicsLoop dispatches each recorded command to its handler,
// stopping at the first failure.
func runGraphicsLoop(ctx *Context, cb driver.CmdBuffer, d *gdec, cmds []Cmd) error {
	for _, c := range cmds {
		var err error
		switch c.op {
		case opSetGState:
			err = decSetGState(d, c.Data.(GStateParams))
		case opSetTarget:
			err = decSetTarget(cb, d, c.Data.(TargetParams))
		case opSetViewport:
			err = decSetViewport(ctx, cb, d, c.Data.(ViewportParams))
		case opSetScissor:
			decSetScissor(cb, d, c.Data.(ScissorParams))
		case opSetDTable:
			err = decSetDTable(ctx, &d.dtb, c.Data.(DTableParams))
		case opSetVBuf:
			err = decSetVBuf(ctx, cb, d, c.Data.(VBufParams))
		case opSetIBuf:
			decSetIBuf(cb, d, c.Data.(IBufParams))
		case opClearColor:
			err = decClearColor(d, c.Data.(ClearColorParams))
		case opClearDepth:
			d.clear.setDepth(c.Data.(ClearDepthParams).Value)
		case opClearStencil:
			d.clear.setStencil(c.Data.(ClearStencilParams).Value)
		case opDraw:
			err = decDraw(cb, d, c.Data.(DrawParams))
		case opCopyBuf:
			d.beginBlit(cb)
			decCopyBuf(cb, c.Data.(CopyBufParams))
		case opCopyImg:
			d.beginBlit(cb)
			err = decCopyImg(cb, c.Data.(CopyImgParams))
		case opSync:
			d.endBlit(cb)
			if d.passOpen {
				cb.EndPass()
				d.passOpen = false
			}
			decSync(cb)
		default:
			err = newError(UNSUP, "command not valid for graphics decode")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decSetGState(d *gdec, p GStateParams) error {
	if p.State == nil {
		return newError(INVARG, "nil graphics state")
	}
	d.gst = p.State
	d.bits |= bitGState
	return nil
}

// decSetTarget binds a new render target. If it differs from the one
// currently bound, any render pass already begun is ended, since the
// pass was begun against the previous target's framebuffer (spec.md
// §4.4 "SetTarget": "ends any currently begun render pass (since the
// target changed)").
func decSetTarget(cb driver.CmdBuffer, d *gdec, p TargetParams) error {
	if p.Target == nil {
		return newError(INVARG, "nil target")
	}
	if d.passOpen && d.tgt != p.Target {
		cb.EndPass()
		d.passOpen = false
	}
	d.tgt = p.Target
	d.bits |= bitTarget
	return nil
}

func decSetViewport(ctx *Context, cb driver.CmdBuffer, d *gdec, p ViewportParams) error {
	lim := ctx.Limits()
	if p.Index >= lim.ViewportMax {
		return newError(LIMIT, "viewport index exceeds device maximum")
	}
	v := p.Viewport
	if v.Width <= 0 || v.Height <= 0 {
		return newError(INVARG, "viewport width/height must be positive")
	}
	if v.Znear < 0 || v.Znear > 1 || v.Zfar < 0 || v.Zfar > 1 {
		return newError(INVARG, "viewport depth range out of [0,1]")
	}
	if v.X < lim.BoundsMin || v.Y < lim.BoundsMin ||
		v.X+v.Width > lim.BoundsMax || v.Y+v.Height > lim.BoundsMax {
		return newError(INVARG, "viewport bounds out of range")
	}
	cb.SetViewport([]driver.Viewport{v})
	d.bits |= bitViewport
	return nil
}

func decSetScissor(cb driver.CmdBuffer, d *gdec, p ScissorParams) {
	cb.SetScissor([]driver.Scissor{p.Rect})
	d.bits |= bitScissor
}

// decSetDTable validates the set index against the device-wide
// descriptor table limit and records the pending bind. Shared in
// shape between the graphics and compute loops.
func decSetDTable(ctx *Context, dtb *dtbState, p DTableParams) error {
	if p.Index >= ctx.Limits().DTableMax {
		return newError(LIMIT, "descriptor table index exceeds device maximum")
	}
	dtb.set(p.Index, p.Alloc)
	return nil
}

func decSetVBuf(ctx *Context, cb driver.CmdBuffer, d *gdec, p VBufParams) error {
	if p.Index >= ctx.Limits().VInputMax {
		return newError(LIMIT, "vertex input index exceeds device maximum")
	}
	cb.SetVertexBuf(p.Index, []driver.Buffer{p.Buffer}, []int64{p.Offset})
	d.bits |= bitVBuf
	return nil
}

func decSetIBuf(cb driver.CmdBuffer, d *gdec, p IBufParams) {
	fmtv := driver.Index32
	if p.Stride == 2 {
		fmtv = driver.Index16
	}
	cb.SetIndexBuf(fmtv, p.Buffer, p.Offset)
	d.bits |= bitIBuf
}

func decClearColor(d *gdec, p ClearColorParams) error {
	if d.tgt == nil {
		return newError(INVCMD, "ClearColor without a bound target")
	}
	if p.Index >= d.tgt.Pass.ColorCount {
		return newError(INVARG, "clear color index exceeds pass color count")
	}
	d.clear.setColor(p.Index, p.Color)
	return nil
}

// requiredBits returns the decBits a Draw of the given shape requires
// to have been observed (spec.md §4.4 Draw requirements).
func requiredBits(indexed bool) decBits {
	req := bitGState | bitTarget | bitViewport | bitScissor | bitVBuf
	if indexed {
		req |= bitIBuf
	}
	return req
}

func decDraw(cb driver.CmdBuffer, d *gdec, p DrawParams) error {
	req := requiredBits(p.Indexed)
	if d.bits&req != req {
		return newError(INVCMD, "Draw missing required state")
	}
	if d.tgt.Pass != d.gst.Pass {
		return newError(INVARG, "target pass does not match bound state's pass")
	}

	d.endBlit(cb)

	if !d.passOpen {
		cb.BeginPass(d.tgt.Pass.RenderPass, d.tgt.Framebuf, d.clear.buildClearValues(d.tgt.Pass))
		d.clear.reset()
		d.passOpen = true
	} else if d.clear.pending {
		cb.EndPass()
		cb.BeginPass(d.tgt.Pass.RenderPass, d.tgt.Framebuf, d.clear.buildClearValues(d.tgt.Pass))
		d.clear.reset()
	}
	if d.boundGState != d.gst {
		cb.SetPipeline(d.gst.Pipeline)
		d.boundGState = d.gst
	}

	if d.dtb.pending {
		if err := bindDTables(cb, d.gst.DTables, &d.dtb, true); err != nil {
			return err
		}
	}

	if p.Indexed {
		cb.DrawIndexed(p.VertCount, p.InstCount, p.IndexBase, p.VertIDOrOff, p.InstID)
	} else {
		cb.Draw(p.VertCount, p.InstCount, p.VertIDOrOff, p.InstID)
	}
	return nil
}

// flushEndOfStreamClears handles clears that were pending when the
// command stream ended without an intervening Draw having applied
// them: it issues a clear-only pass against the bound target
// (spec.md §4.4 "End-of-stream handling").
func flushEndOfStreamClears(cb driver.CmdBuffer, d *gdec) error {
	if d.tgt == nil {
		return newError(INVCMD, "pending clear with no bound target")
	}
	cb.BeginPass(d.tgt.Pass.RenderPass, d.tgt.Framebuf, d.clear.buildClearValues(d.tgt.Pass))
	cb.EndPass()
	d.clear.reset()
	return nil
}

func decCopyBuf(cb driver.CmdBuffer, p CopyBufParams) {
	cb.CopyBuffer(&driver.BufferCopy{
		From:    p.Src,
		FromOff: p.SrcOff,
		To:      p.Dst,
		ToOff:   p.DstOff,
		Size:    p.Size,
	})
}

// decCopyImg pre-transitions both images to the general layout
// through their tracked NextLayout, via the shared priority recorder,
// then emits the copy itself against the main recorder (spec.md §4.4
// "CopyImg"). ChangeLayout is a no-op once NextLayout already targets
// the general layout, so repeated copies against already-transitioned
// images do not re-stage priority work.
func decCopyImg(cb driver.CmdBuffer, p CopyImgParams) error {
	if err := p.Dst.ChangeLayout(driver.LCommon); err != nil {
		return err
	}
	if err := p.Src.ChangeLayout(driver.LCommon); err != nil {
		return err
	}
	cb.CopyImage(&driver.ImageCopy{
		From:      p.Src.Img,
		FromOff:   p.SrcOff,
		FromLayer: p.SrcLayer,
		FromLevel: p.SrcLevel,
		To:        p.Dst.Img,
		ToOff:     p.DstOff,
		ToLayer:   p.DstLayer,
		ToLevel:   p.DstLevel,
		Size:      p.Extent,
		Layers:    p.Layers,
	})
	return nil
}

func decSync(cb driver.CmdBuffer) {
	cb.Barrier([]driver.Barrier{{
		SyncBefore:   driver.SAll,
		SyncAfter:    driver.SAll,
		AccessBefore: driver.AAnyWrite,
		AccessAfter:  driver.AAnyRead | driver.AAnyWrite,
	}})
}

// cdec is the compute decode loop's local state (spec.md §4.4
// "Compute decode loop state").
type cdec struct {
	cst      *CState
	dtb      dtbState
	workOpen bool
	blitOpen bool

	// boundCState is the compute state whose pipeline is currently
	// bound in cb, distinct from cst (the one SetCState last recorded)
	// so Dispatch only re-binds when the pipeline actually changed.
	boundCState *CState
}

func (d *cdec) endBlit(cb driver.CmdBuffer) {
	if d.blitOpen {
		cb.EndBlit()
		d.blitOpen = false
	}
}

func (d *cdec) beginBlit(cb driver.CmdBuffer) {
	if d.workOpen {
		cb.EndWork()
		d.workOpen = false
	}
	if !d.blitOpen {
		cb.BeginBlit(false)
		d.blitOpen = true
	}
}

// decodeCompute runs the encode/decode/execute pipeline for a compute
// CmdBuf (spec.md §4.4).
func decodeCompute(b *CmdBuf) error {
	ctx := b.ctx
	if !ctx.acquireDecoder(Compute) {
		return newError(INUSE, "compute decoder already in use")
	}
	defer ctx.releaseDecoder(Compute)

	res, err := ctx.pool.Obtain(Compute)
	if err != nil {
		return err
	}
	if err := res.Recorder.Begin(); err != nil {
		ctx.pool.Yield(&res)
		return wrapError(DEVGEN, "Begin", err)
	}

	var d cdec
	cb := res.Recorder
	decErr := runComputeLoop(ctx, cb, &d, b.cmds)

	d.endBlit(cb)
	if d.workOpen {
		cb.EndWork()
		d.workOpen = false
	}

	if endErr := cb.End(); decErr == nil && endErr != nil {
		decErr = wrapError(DEVGEN, "End", endErr)
	}
	if decErr != nil {
		ctx.pool.Yield(&res)
		return decErr
	}
	if err := ctx.exec.Enqueue(res, ctx.familyFor(Compute), nil); err != nil {
		ctx.pool.Yield(&res)
		return err
	}
	return nil
}

func runComputeLoop(ctx *Context, cb driver.CmdBuffer, d *cdec, cmds []Cmd) error {
	for _, c := range cmds {
		var err error
		switch c.op {
		case opSetCState:
			err = decSetCState(d, c.Data.(CStateParams))
		case opSetDTable:
			err = decSetDTable(ctx, &d.dtb, c.Data.(DTableParams))
		case opDispatch:
			err = decDispatch(ctx, cb, d, c.Data.(DispatchParams))
		case opCopyBuf:
			d.beginBlit(cb)
			decCopyBuf(cb, c.Data.(CopyBufParams))
		case opCopyImg:
			d.beginBlit(cb)
			err = decCopyImg(cb, c.Data.(CopyImgParams))
		case opSync:
			d.endBlit(cb)
			if d.workOpen {
				cb.EndWork()
				d.workOpen = false
			}
			decSync(cb)
		default:
			err = newError(UNSUP, "command not valid for compute decode")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decSetCState(d *cdec, p CStateParams) error {
	if p.State == nil {
		return newError(INVARG, "nil compute state")
	}
	d.cst = p.State
	return nil
}

func decDispatch(ctx *Context, cb driver.CmdBuffer, d *cdec, p DispatchParams) error {
	if d.cst == nil {
		return newError(INVCMD, "Dispatch without a bound compute state")
	}
	lim := ctx.Limits()
	if p.Width > lim.DispDimMax[0] || p.Height > lim.DispDimMax[1] || p.Depth > lim.DispDimMax[2] {
		return newError(LIMIT, "dispatch dimensions exceed device maximum")
	}

	d.endBlit(cb)
	if !d.workOpen {
		cb.BeginWork(false)
		d.workOpen = true
	}
	if d.boundCState != d.cst {
		cb.SetPipeline(d.cst.Pipeline)
		d.boundCState = d.cst
	}

	if d.dtb.pending {
		if err := bindDTables(cb, d.cst.DTables, &d.dtb, false); err != nil {
			return err
		}
	}

	cb.Dispatch(p.Width, p.Height, p.Depth)
	return nil
}
