// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cmdbuf

import "github.com/gviegas/scene/driver"

// Limits describes the constraints the encoder and decoder enforce,
// derived from the underlying driver.Limits (spec.md §4.1).
type Limits struct {
	// DTableMax bounds the descriptor table index that may be bound
	// through SetDTable (indices must be less than it), derived from
	// the device's maximum descriptor heap count per table.
	DTableMax int
	// VInputMax bounds the vertex buffer binding index (indices must
	// be less than it), derived from the device's maximum vertex
	// shader input count.
	VInputMax int
	// DispDimMax is the maximum work-group count per dispatch
	// dimension.
	DispDimMax [3]int
	// ViewportMax is the maximum number of distinct viewports.
	ViewportMax int
	// BoundsMin/BoundsMax bound a viewport's x, y, width and height
	// (and their sums), derived from the device's maximum framebuffer
	// dimensions since driver.Limits does not report a separate
	// viewport coordinate range.
	BoundsMin float32
	BoundsMax float32
	// ColorMax is the maximum number of color render targets in a
	// subpass, used as an upper bound when a Pass does not further
	// restrict it.
	ColorMax int
}

// deriveLimits computes a Limits from the driver-reported limits.
func deriveLimits(dl driver.Limits) Limits {
	return Limits{
		DTableMax:   dl.MaxDescHeaps,
		VInputMax:   dl.MaxVertexIn,
		DispDimMax:  dl.MaxDispatch,
		ViewportMax: dl.MaxViewports,
		BoundsMin:   0,
		BoundsMax:   float32(max(dl.MaxFBSize[0], dl.MaxFBSize[1])),
		ColorMax:    dl.MaxColorTargets,
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
