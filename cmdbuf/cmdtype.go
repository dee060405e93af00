// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cmdbuf

import "github.com/gviegas/scene/driver"

// Kind identifies the family of commands a CmdBuf may record
// (spec.md §3, §4.4).
type Kind int

// Command buffer kinds.
const (
	Graphics Kind = iota
	Compute
	nKind
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Graphics:
		return "graphics"
	case Compute:
		return "compute"
	}
	return "invalid"
}

// cmdOp identifies the shape held by a Cmd's Data field.
type cmdOp int

const (
	opSetGState cmdOp = iota
	opSetCState
	opSetTarget
	opSetViewport
	opSetScissor
	opSetDTable
	opSetVBuf
	opSetIBuf
	opClearColor
	opClearDepth
	opClearStencil
	opDraw
	opDispatch
	opCopyBuf
	opCopyImg
	opSync
)

// kindMask allows checking whether a cmdOp may appear in a CmdBuf of
// a given Kind (spec.md §4.4's permitted-kind matrix).
type kindMask int

const (
	forGraphics kindMask = 1 << iota
	forCompute
	forAny = forGraphics | forCompute
)

// permittedIn reports the kinds allowed for a given cmdOp.
func (op cmdOp) permittedIn() kindMask {
	switch op {
	case opSetGState, opSetTarget, opSetViewport, opSetScissor, opSetVBuf,
		opSetIBuf, opClearColor, opClearDepth, opClearStencil, opDraw:
		return forGraphics
	case opSetCState, opDispatch:
		return forCompute
	case opSetDTable, opCopyBuf, opCopyImg, opSync:
		return forAny
	}
	panic("cmdbuf: invalid cmdOp")
}

// allowedFor reports whether op may be recorded into a buffer of kind k.
func (op cmdOp) allowedFor(k Kind) bool {
	switch k {
	case Graphics:
		return op.permittedIn()&forGraphics != 0
	case Compute:
		return op.permittedIn()&forCompute != 0
	}
	return false
}

// Cmd is a single recorded command: an op tag plus the parameter
// shape it carries in Data, one of the *Params types below
// (spec.md §3's tagged Cmd variant).
type Cmd struct {
	op   cmdOp
	Data any
}

// GStateParams are the parameters of a SetGState command.
type GStateParams struct{ State *GState }

// CStateParams are the parameters of a SetCState command.
type CStateParams struct{ State *CState }

// TargetParams are the parameters of a SetTarget command.
type TargetParams struct{ Target *Target }

// ViewportParams are the parameters of a SetViewport command.
type ViewportParams struct {
	Index    int
	Viewport driver.Viewport
}

// ScissorParams are the parameters of a SetScissor command.
type ScissorParams struct {
	Index int
	Rect  driver.Scissor
}

// DTableParams are the parameters of a SetDTable command. The
// descriptor table object itself comes from the currently bound
// GState/CState; Alloc selects which heap copy of that table to bind.
type DTableParams struct {
	Index int
	Alloc int
}

// VBufParams are the parameters of a SetVBuf command.
type VBufParams struct {
	Index  int
	Buffer driver.Buffer
	Offset int64
}

// IBufParams are the parameters of a SetIBuf command.
type IBufParams struct {
	Buffer driver.Buffer
	Offset int64
	Stride int
}

// ClearColorParams are the parameters of a ClearColor command.
type ClearColorParams struct {
	Index int
	Color [4]float32
}

// ClearDepthParams are the parameters of a ClearDepth command.
type ClearDepthParams struct{ Value float32 }

// ClearStencilParams are the parameters of a ClearStencil command.
type ClearStencilParams struct{ Value uint32 }

// DrawParams are the parameters of a Draw command.
type DrawParams struct {
	Indexed     bool
	IndexBase   int
	VertCount   int
	InstCount   int
	VertIDOrOff int
	InstID      int
}

// DispatchParams are the parameters of a Dispatch command.
type DispatchParams struct{ Width, Height, Depth int }

// CopyBufParams are the parameters of a CopyBuf command.
type CopyBufParams struct {
	Dst, Src       driver.Buffer
	DstOff, SrcOff int64
	Size           int64
}

// CopyImgParams are the parameters of a CopyImg command. Dst/Src are
// this package's Image wrapper rather than a bare driver.Image, since
// the decoder must consult (and update) their tracked layout to
// perform the pre-transition spec.md §4.4 requires.
type CopyImgParams struct {
	Dst, Src           *Image
	DstOff, SrcOff     driver.Off3D
	DstLayer, SrcLayer int
	DstLevel, SrcLevel int
	Extent             driver.Dim3D
	Layers             int
}
