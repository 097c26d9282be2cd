// Package traverse implements a generic breadth-first walk over the
// HEALPix quad-tree, plus the render-order selection formula and a
// rendering-traversal wrapper built on top of it.
package traverse

import "math"

// Visit is the caller-supplied callback for Walk. It returns one of
// Skip, Stop, or Descend for the tile at (order, pix).
type Visit func(order int, pix int64) Decision

// Decision is a visitor's verdict for a single tile, encoded by the
// original as 0 (Skip), negative (Stop), and 1 (Descend).
type Decision int

const (
	Skip    Decision = 0
	Stop    Decision = -1
	Descend Decision = 1
)

// queueCapacity is the fixed ring-buffer capacity the BFS queue never
// grows past.
const queueCapacity = 1024

// baseTileCount is the number of order-0 HEALPix base pixels the walk
// seeds the queue with.
const baseTileCount = 12

// position is a single queued (order, pix) coordinate.
type position struct {
	order int
	pix   int64
}

// ring is a fixed-capacity FIFO used as the BFS frontier. It never
// reallocates; push reports false once full instead of growing.
type ring struct {
	buf        [queueCapacity]position
	head, size int
}

func (r *ring) push(p position) bool {
	if r.size == queueCapacity {
		return false
	}
	tail := (r.head + r.size) % queueCapacity
	r.buf[tail] = p
	r.size++
	return true
}

func (r *ring) pop() (position, bool) {
	if r.size == 0 {
		return position{}, false
	}
	p := r.buf[r.head]
	r.head = (r.head + 1) % queueCapacity
	r.size--
	return p, true
}

// Walk runs a breadth-first traversal: it starts with the 12 base
// pixels at order 0, and on Descend enqueues the 4 children. It visits
// breadth-first and stops early on Stop. Returns false if the queue
// overflowed before the walk could finish; the caller should treat
// that as a dropped frame, not a panic, and simply try again next
// frame.
func Walk(visit Visit) (completed bool) {
	var q ring
	for p := int64(0); p < baseTileCount; p++ {
		if !q.push(position{order: 0, pix: p}) {
			return false
		}
	}

	for {
		p, ok := q.pop()
		if !ok {
			return true
		}

		switch visit(p.order, p.pix) {
		case Stop:
			return true
		case Descend:
			base := p.pix * 4
			for i := int64(0); i < 4; i++ {
				if !q.push(position{order: p.order + 1, pix: base + i}) {
					return false
				}
			}
		case Skip:
			// nothing further
		}
	}
}

// maxRenderOrder is the hard ceiling render-order selection never
// exceeds, regardless of order_max.
const maxRenderOrder = 9

// RenderOrderParams is the input to SelectRenderOrder.
type RenderOrderParams struct {
	// FramebufferWidth is the painter's pixel width (fb_width).
	FramebufferWidth float64
	// ProjScalingX is the painter's horizontal projection scale factor.
	ProjScalingX float64
	// AngleRadius is the angular radius of the visible region, in
	// radians.
	AngleRadius float64
	// TileWidth is the survey's tile width in pixels.
	TileWidth float64
	// OrderMin and OrderMax bound the clamp; OrderMaxKnown false means
	// no upper clamp beyond maxRenderOrder is applied.
	OrderMin      int
	OrderMax      int
	OrderMaxKnown bool
}

// SelectRenderOrder computes the render order from the painter's
// field of view:
//
//	pix_per_rad := fb_width / atan(proj_scaling_x) / 2
//	desired_order := round(log2((pix_per_rad * angle) / (4*sqrt(2) * tile_width)))
//
// clamped to [order_min, order_max] and a hard ceiling of 9.
func SelectRenderOrder(p RenderOrderParams) int {
	pixPerRad := p.FramebufferWidth / math.Atan(p.ProjScalingX) / 2
	ratio := (pixPerRad * p.AngleRadius) / (4 * math.Sqrt2 * p.TileWidth)

	desired := math.Round(math.Log2(ratio))
	order := int(desired)

	if order < p.OrderMin {
		order = p.OrderMin
	}
	ceiling := maxRenderOrder
	if p.OrderMaxKnown && p.OrderMax < ceiling {
		ceiling = p.OrderMax
	}
	if order > ceiling {
		order = ceiling
	}
	return order
}

// lowZoomThreshold is the render_order below which the all-sky
// fallback kicks in.
const lowZoomThreshold = -5

// RenderFlags mirrors the loader package's all-sky fallback flag bit;
// kept as its own tiny type so this package has no dependency on loader.
type RenderFlags uint8

const (
	ForceUseAllsky RenderFlags = 1 << iota
)

// RenderParams is the input to the rendering traversal wrapper.
type RenderParams struct {
	RenderOrder int
	// SplitOrder is the order at which tiles are considered "final
	// resolution" for tessellation purposes; see the Split field of
	// RenderVisit's callback.
	SplitOrder int
	// AllSkyAvailable reports whether the survey has a usable all-sky
	// image, gating the low-zoom fallback.
	AllSkyAvailable bool
}

// Clip reports whether the tile at (order, pix) is entirely outside
// the painter's current view and can be skipped without descending
// further.
type Clip func(order int, pix int64) bool

// RenderVisit is called once per tile the rendering traversal decides
// to actually draw, with its tessellation split factor.
type RenderVisit func(order int, pix int64, split int)

// Render is a thin layer over Walk that clips against the view,
// descends until render_order is reached, and otherwise calls render
// for a tile with its split factor. It also applies the low-zoom
// all-sky fallback, returning the (possibly adjusted) split order and
// whether the all-sky fallback should be forced for the resolver calls
// this frame.
func Render(params RenderParams, clip Clip, render RenderVisit) (effectiveSplitOrder int, flags RenderFlags) {
	renderOrder := params.RenderOrder
	splitOrder := params.SplitOrder
	if splitOrder == 0 {
		splitOrder = 3
	}

	if renderOrder < lowZoomThreshold && params.AllSkyAvailable {
		flags |= ForceUseAllsky
		if splitOrder > 2 {
			splitOrder = 2
		}
	}

	Walk(func(order int, pix int64) Decision {
		if clip != nil && clip(order, pix) {
			return Skip
		}
		if order < renderOrder {
			return Descend
		}
		split := 1
		if splitOrder > renderOrder {
			split = 1 << uint(splitOrder-renderOrder)
		}
		render(order, pix, split)
		return Skip
	})

	return splitOrder, flags
}
