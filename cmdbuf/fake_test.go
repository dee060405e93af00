// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cmdbuf_test

import (
	"errors"

	"github.com/gviegas/scene/driver"
)

// fakeGPU is an in-memory driver.GPU double recording every recorder's
// calls so tests can assert on the sequence decode produces, without a
// real graphics device (the existing driver/driver-vk tests drive a
// real Vulkan device, which is not available in this environment).
type fakeGPU struct {
	limits     driver.Limits
	commits    [][]*fakeRecorder
	commitErrs []error // Popped in order by Commit; nil if exhausted.

	// cmdBufLimit, when positive, makes NewCmdBuffer fail once that
	// many recorders have been created.
	cmdBufLimit int
	cmdBufs     int
}

func newFakeGPU() *fakeGPU {
	return &fakeGPU{
		limits: driver.Limits{
			MaxDescHeaps:  4,
			MaxColorTargets: 4,
			MaxFBSize:     [2]int{4096, 4096},
			MaxViewports:  16,
			MaxVertexIn:   16,
			MaxFragmentIn: 16,
			MaxDispatch:   [3]int{65535, 65535, 65535},
		},
	}
}

func (g *fakeGPU) Driver() driver.Driver { return nil }

func (g *fakeGPU) Commit(cb []driver.CmdBuffer, ch chan<- error) {
	recs := make([]*fakeRecorder, len(cb))
	for i, c := range cb {
		recs[i] = c.(*fakeRecorder)
		recs[i].committed = true
	}
	g.commits = append(g.commits, recs)
	var err error
	if len(g.commitErrs) > 0 {
		err = g.commitErrs[0]
		g.commitErrs = g.commitErrs[1:]
	}
	ch <- err
}

func (g *fakeGPU) NewCmdBuffer() (driver.CmdBuffer, error) {
	if g.cmdBufLimit > 0 && g.cmdBufs >= g.cmdBufLimit {
		return nil, errors.New("fakeGPU: NewCmdBuffer limit reached")
	}
	g.cmdBufs++
	return &fakeRecorder{}, nil
}

func (g *fakeGPU) NewRenderPass(att []driver.Attachment, sub []driver.Subpass) (driver.RenderPass, error) {
	return &fakeRenderPass{}, nil
}

func (g *fakeGPU) NewShaderCode(data []byte) (driver.ShaderCode, error) { return fakeDestroyer{}, nil }

func (g *fakeGPU) NewDescHeap(ds []driver.Descriptor) (driver.DescHeap, error) { return nil, nil }

func (g *fakeGPU) NewDescTable(dh []driver.DescHeap) (driver.DescTable, error) {
	return fakeDestroyer{}, nil
}

func (g *fakeGPU) NewPipeline(state any) (driver.Pipeline, error) { return fakeDestroyer{}, nil }

func (g *fakeGPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	return nil, nil
}

func (g *fakeGPU) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	return &fakeImage{}, nil
}

func (g *fakeGPU) NewSampler(spln *driver.Sampling) (driver.Sampler, error) { return nil, nil }

func (g *fakeGPU) Limits() driver.Limits { return g.limits }

type fakeDestroyer struct{}

func (fakeDestroyer) Destroy() {}

// fakeImage is an in-memory driver.Image double; NewView always
// succeeds with a plain fakeDestroyer-backed view.
type fakeImage struct{ fakeDestroyer }

func (im *fakeImage) NewView(typ driver.ViewType, layer, layers, level, levels int) (driver.ImageView, error) {
	return fakeDestroyer{}, nil
}

type fakeRenderPass struct{ fakeDestroyer }

func (p *fakeRenderPass) NewFB(iv []driver.ImageView, width, height, layers int) (driver.Framebuf, error) {
	return fakeDestroyer{}, nil
}

// call is one recorded CmdBuffer method invocation.
type call struct {
	name string
	args []any
}

// fakeRecorder is an in-memory driver.CmdBuffer double.
type fakeRecorder struct {
	calls      []call
	began      bool
	ended      bool
	committed  bool
	beginErr   error
	endErr     error
	resetErr   error
	passDepth  int
	workDepth  int
	blitDepth  int
}

func (r *fakeRecorder) Destroy() {}

func (r *fakeRecorder) Begin() error {
	if r.beginErr != nil {
		return r.beginErr
	}
	r.began = true
	r.calls = append(r.calls, call{"Begin", nil})
	return nil
}

func (r *fakeRecorder) BeginPass(pass driver.RenderPass, fb driver.Framebuf, clear []driver.ClearValue) {
	r.passDepth++
	cp := append([]driver.ClearValue(nil), clear...)
	r.calls = append(r.calls, call{"BeginPass", []any{cp}})
}

func (r *fakeRecorder) NextSubpass() { r.calls = append(r.calls, call{"NextSubpass", nil}) }

func (r *fakeRecorder) EndPass() {
	r.passDepth--
	r.calls = append(r.calls, call{"EndPass", nil})
}

func (r *fakeRecorder) BeginWork(wait bool) {
	r.workDepth++
	r.calls = append(r.calls, call{"BeginWork", []any{wait}})
}

func (r *fakeRecorder) EndWork() {
	r.workDepth--
	r.calls = append(r.calls, call{"EndWork", nil})
}

func (r *fakeRecorder) BeginBlit(wait bool) {
	r.blitDepth++
	r.calls = append(r.calls, call{"BeginBlit", []any{wait}})
}

func (r *fakeRecorder) EndBlit() {
	r.blitDepth--
	r.calls = append(r.calls, call{"EndBlit", nil})
}

func (r *fakeRecorder) SetPipeline(pl driver.Pipeline) {
	r.calls = append(r.calls, call{"SetPipeline", []any{pl}})
}

func (r *fakeRecorder) SetViewport(vp []driver.Viewport) {
	r.calls = append(r.calls, call{"SetViewport", []any{append([]driver.Viewport(nil), vp...)}})
}

func (r *fakeRecorder) SetScissor(sciss []driver.Scissor) {
	r.calls = append(r.calls, call{"SetScissor", []any{append([]driver.Scissor(nil), sciss...)}})
}

func (r *fakeRecorder) SetBlendColor(rc, g, b, a float32) {
	r.calls = append(r.calls, call{"SetBlendColor", []any{rc, g, b, a}})
}

func (r *fakeRecorder) SetStencilRef(value uint32) {
	r.calls = append(r.calls, call{"SetStencilRef", []any{value}})
}

func (r *fakeRecorder) SetVertexBuf(start int, buf []driver.Buffer, off []int64) {
	r.calls = append(r.calls, call{"SetVertexBuf", []any{start, off[0]}})
}

func (r *fakeRecorder) SetIndexBuf(format driver.IndexFmt, buf driver.Buffer, off int64) {
	r.calls = append(r.calls, call{"SetIndexBuf", []any{format, off}})
}

func (r *fakeRecorder) SetDescTableGraph(table driver.DescTable, start int, heapCopy []int) {
	r.calls = append(r.calls, call{"SetDescTableGraph", []any{start, append([]int(nil), heapCopy...)}})
}

func (r *fakeRecorder) SetDescTableComp(table driver.DescTable, start int, heapCopy []int) {
	r.calls = append(r.calls, call{"SetDescTableComp", []any{start, append([]int(nil), heapCopy...)}})
}

func (r *fakeRecorder) Draw(vertCount, instCount, baseVert, baseInst int) {
	r.calls = append(r.calls, call{"Draw", []any{vertCount, instCount, baseVert, baseInst}})
}

func (r *fakeRecorder) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	r.calls = append(r.calls, call{"DrawIndexed", []any{idxCount, instCount, baseIdx, vertOff, baseInst}})
}

func (r *fakeRecorder) Dispatch(x, y, z int) {
	r.calls = append(r.calls, call{"Dispatch", []any{x, y, z}})
}

func (r *fakeRecorder) CopyBuffer(param *driver.BufferCopy) {
	r.calls = append(r.calls, call{"CopyBuffer", []any{*param}})
}

func (r *fakeRecorder) CopyImage(param *driver.ImageCopy) {
	r.calls = append(r.calls, call{"CopyImage", []any{*param}})
}

func (r *fakeRecorder) CopyBufToImg(param *driver.BufImgCopy) {
	r.calls = append(r.calls, call{"CopyBufToImg", []any{*param}})
}

func (r *fakeRecorder) CopyImgToBuf(param *driver.BufImgCopy) {
	r.calls = append(r.calls, call{"CopyImgToBuf", []any{*param}})
}

func (r *fakeRecorder) Fill(buf driver.Buffer, off int64, value byte, size int64) {
	r.calls = append(r.calls, call{"Fill", []any{off, value, size}})
}

func (r *fakeRecorder) Barrier(b []driver.Barrier) {
	r.calls = append(r.calls, call{"Barrier", []any{append([]driver.Barrier(nil), b...)}})
}

func (r *fakeRecorder) Transition(t []driver.Transition) {
	r.calls = append(r.calls, call{"Transition", []any{len(t)}})
}

func (r *fakeRecorder) End() error {
	if r.endErr != nil {
		return r.endErr
	}
	r.ended = true
	r.calls = append(r.calls, call{"End", nil})
	return nil
}

func (r *fakeRecorder) Reset() error {
	r.calls = nil
	r.began, r.ended, r.committed = false, false, false
	return r.resetErr
}

// names returns the sequence of recorded call names, for compact
// assertions against the expected decode shape.
func (r *fakeRecorder) names() []string {
	ns := make([]string, len(r.calls))
	for i, c := range r.calls {
		ns[i] = c.name
	}
	return ns
}
