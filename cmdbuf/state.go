// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cmdbuf

import (
	"sync"

	"github.com/gviegas/scene/driver"
)

// Pass wraps a driver.RenderPass with the attachment counts the
// decoder needs to validate clears and framebuffer compatibility.
// ColorCount is the number of color attachments; DepthCount is 0 or 1.
type Pass struct {
	RenderPass driver.RenderPass
	ColorCount int
	DepthCount int
}

// NewPass creates a new render pass.
// att and sub describe the pass exactly as driver.GPU.NewRenderPass
// expects; ColorCount/DepthCount are derived from sub[0] (the first
// subpass establishes the color/depth-stencil attachment counts that
// every subsequent Draw against this pass is validated against).
func (c *Context) NewPass(att []driver.Attachment, sub []driver.Subpass) (*Pass, error) {
	rp, err := c.gpu.NewRenderPass(att, sub)
	if err != nil {
		return nil, wrapError(DEVGEN, "NewRenderPass", err)
	}
	p := &Pass{RenderPass: rp, ColorCount: 0, DepthCount: 0}
	if len(sub) > 0 {
		p.ColorCount = len(sub[0].Color)
		if sub[0].DS >= 0 {
			p.DepthCount = 1
		}
	}
	return p, nil
}

// Destroy destroys the underlying render pass.
func (p *Pass) Destroy() {
	if p == nil {
		return
	}
	p.RenderPass.Destroy()
}

// Target binds a Pass to a concrete set of images through a
// framebuffer, mirroring the Target contract of spec.md §6.1.
type Target struct {
	Pass       *Pass
	Framebuf   driver.Framebuf
	Width      int
	Height     int
	Layers     int
	Images     []driver.Image
	BaseLayers []int
}

// NewTarget creates a new render target.
// iv provides one image view per attachment, in attachment order;
// images/baseLayers record, per color/depth-stencil attachment, the
// owning image and base array layer, used by the decoder's
// end-of-stream deferred-clear fallback (spec.md §4.4).
func (c *Context) NewTarget(pass *Pass, iv []driver.ImageView, width, height, layers int,
	images []driver.Image, baseLayers []int) (*Target, error) {

	fb, err := pass.RenderPass.NewFB(iv, width, height, layers)
	if err != nil {
		return nil, wrapError(DEVGEN, "NewFB", err)
	}
	return &Target{
		Pass:       pass,
		Framebuf:   fb,
		Width:      width,
		Height:     height,
		Layers:     layers,
		Images:     images,
		BaseLayers: baseLayers,
	}, nil
}

// Destroy destroys the underlying framebuffer. It does not destroy
// the Pass, which may be shared by other targets.
func (t *Target) Destroy() {
	if t == nil {
		return
	}
	t.Framebuf.Destroy()
}

// DTable wraps a driver.DescTable with the allocation-set count the
// decoder needs to validate SetDTable's alloc index.
type DTable struct {
	Table    driver.DescTable
	SetCount int
}

// Destroy destroys the underlying descriptor table.
func (d *DTable) Destroy() {
	if d == nil {
		return
	}
	d.Table.Destroy()
}

// GState is a graphics pipeline state bundled with the pass it is
// valid against and the descriptor tables it binds, mirroring the
// GState contract of spec.md §6.1.
type GState struct {
	Pipeline driver.Pipeline
	Pass     *Pass
	DTables  []*DTable
}

// NewGState creates a new graphics state.
// gs.Pass and gs.Subpass must already identify a render pass created
// through Context.NewPass; pass is that same *Pass, kept alongside
// the pipeline so the decoder can detect pass changes on SetGState.
func (c *Context) NewGState(gs *driver.GraphState, pass *Pass, dtables []*DTable) (*GState, error) {
	pl, err := c.gpu.NewPipeline(gs)
	if err != nil {
		return nil, wrapError(DEVGEN, "NewPipeline", err)
	}
	return &GState{Pipeline: pl, Pass: pass, DTables: dtables}, nil
}

// Destroy destroys the underlying pipeline.
func (g *GState) Destroy() {
	if g == nil {
		return
	}
	g.Pipeline.Destroy()
}

// CState is a compute pipeline state bundled with the descriptor
// tables it binds, mirroring the CState contract of spec.md §6.1.
type CState struct {
	Pipeline driver.Pipeline
	DTables  []*DTable
}

// NewCState creates a new compute state.
func (c *Context) NewCState(cs *driver.CompState, dtables []*DTable) (*CState, error) {
	pl, err := c.gpu.NewPipeline(cs)
	if err != nil {
		return nil, wrapError(DEVGEN, "NewPipeline", err)
	}
	return &CState{Pipeline: pl, DTables: dtables}, nil
}

// Destroy destroys the underlying pipeline.
func (c *CState) Destroy() {
	if c == nil {
		return
	}
	c.Pipeline.Destroy()
}

// Image wraps a driver.Image with the current/next layout bookkeeping
// of spec.md §6.1's Image contract: CurrentLayout is the layout the
// image presently sits in; NextLayout is the layout a pending
// ChangeLayout targets until that priority submission completes (the
// two are equal whenever no transition is in flight). View is a
// full-resource view used for the transition barrier itself.
type Image struct {
	ctx *Context

	Img  driver.Image
	View driver.ImageView

	mu            sync.Mutex
	CurrentLayout driver.Layout
	NextLayout    driver.Layout
}

// NewImage creates a new image and a full-resource view of it,
// mirroring driver/vk/image.go's own post-creation behavior of
// settling every image at its internal "general" layout before
// returning it: CurrentLayout and NextLayout both start at
// driver.LCommon, the closest equivalent this package's Layout
// vocabulary has to that state.
func (c *Context) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int,
	usg driver.Usage, typ driver.ViewType) (*Image, error) {

	img, err := c.gpu.NewImage(pf, size, layers, levels, samples, usg)
	if err != nil {
		return nil, wrapError(DEVGEN, "NewImage", err)
	}
	view, err := img.NewView(typ, 0, layers, 0, levels)
	if err != nil {
		img.Destroy()
		return nil, wrapError(DEVGEN, "NewView", err)
	}
	return &Image{
		ctx:           c,
		Img:           img,
		View:          view,
		CurrentLayout: driver.LCommon,
		NextLayout:    driver.LCommon,
	}, nil
}

// Destroy destroys the underlying view and image.
func (im *Image) Destroy() {
	if im == nil {
		return
	}
	im.View.Destroy()
	im.Img.Destroy()
}

// ChangeLayout requests a transition to target (spec.md §6.1
// Image.change_layout). It stages a Transition command in the shared
// priority recorder and returns immediately; NextLayout is updated
// right away so a later caller sees the pending target, while
// CurrentLayout only catches up once the priority submission that
// carries it actually completes, via the callback passed to
// CmdPool.GetPrio. If NextLayout already equals target there is
// nothing left to transition, and the call is a no-op.
func (im *Image) ChangeLayout(target driver.Layout) error {
	im.mu.Lock()
	if im.NextLayout == target {
		im.mu.Unlock()
		return nil
	}
	before := im.CurrentLayout
	im.NextLayout = target
	im.mu.Unlock()

	res, err := im.ctx.pool.GetPrio(Graphics, func(result error) {
		im.mu.Lock()
		if result == nil {
			im.CurrentLayout = target
		} else {
			im.NextLayout = im.CurrentLayout
		}
		im.mu.Unlock()
	}, nil)
	if err != nil {
		im.mu.Lock()
		im.NextLayout = before
		im.mu.Unlock()
		return err
	}

	res.Recorder.Transition([]driver.Transition{{
		Barrier: driver.Barrier{
			SyncBefore:   driver.SAll,
			SyncAfter:    driver.SAll,
			AccessBefore: driver.AAnyWrite,
			AccessAfter:  driver.AAnyRead | driver.AAnyWrite,
		},
		LayoutBefore: before,
		LayoutAfter:  target,
		IView:        im.View,
	}})
	return nil
}
