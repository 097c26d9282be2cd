// Package resolver implements the best-tile resolver: given a requested
// (order, pix), it returns the best texture currently available, the
// tile itself, an ancestor's sub-rectangle, or a carved all-sky
// sub-texture, plus the UV transform and HEALPix projector needed to
// draw it. It always returns a projector and UV quad, even with no
// texture, so the renderer can draw a placeholder footprint.
package resolver

import (
	"image"
	"sync"

	"github.com/skyatlas/hipscore/healpix"
	"github.com/skyatlas/hipscore/loader"
	"github.com/skyatlas/hipscore/tile"
)

// Flags modifies a Resolve call.
type Flags uint8

const (
	// Planet requests the "inside viewing" UV winding instead of the
	// default "outside viewing" (sky) winding.
	Planet Flags = 1 << iota
	// ForceUseAllsky requests the carved all-sky sub-texture fallback
	// when no real tile texture is available at order_min.
	ForceUseAllsky
)

// Survey is the slice of survey.Survey the resolver depends on, beyond
// what package loader already requires.
type Survey interface {
	loader.Survey
	AllSkyImage() image.Image
}

// TextureUploader lazily uploads a decoded CPU-side image to the GPU,
// returning an opaque texture handle. See package gputex for the ebiten
// implementation.
type TextureUploader interface {
	Upload(img image.Image) any
}

// payloadImage is the shape tilecodec.Payload exposes; resolver only
// needs to read it, never to construct one.
type payloadImage interface {
	DecodedImage() image.Image
	SetTexture(tex any)
	GetTexture() any
}

// Result is the outcome of a Resolve call.
type Result struct {
	Texture         any
	UVQuad          healpix.Quad
	Projector       healpix.Projector
	Fade            float64
	LoadingComplete bool
}

// Resolver holds the per-survey carved-all-sky-subtexture cache; a
// fresh carve only happens once per (survey, pix) pair.
type Resolver struct {
	uploader TextureUploader

	mu     sync.Mutex
	carved map[carveKey]any
}

type carveKey struct {
	surveyHash uint32
	pix        int64
}

// New creates a Resolver that uploads textures through uploader.
func New(uploader TextureUploader) *Resolver {
	return &Resolver{uploader: uploader, carved: map[carveKey]any{}}
}

// Resolve returns the best available texture and draw transform for
// (order, pix).
func (r *Resolver) Resolve(s Survey, order int, pix int64, flags Flags) Result {
	result := defaultResult(order, pix, flags)
	orderMin := s.OrderMin()

	if !s.IsReady() {
		return result
	}

	entry, status := loader.Load(s, order, pix, 0)

	if entry == nil && status != loader.StatusStillLoading && status != loader.StatusPending {
		result.LoadingComplete = true
		r.applyAllSkyFallback(s, &result, flags, orderMin, order, pix)
		return result
	}

	o, p := order, pix
	m := healpix.Identity
	found := entry

	orderMax, orderMaxKnown := s.OrderMax()

	for found == nil && o > orderMin {
		childIdx := p % 4
		m = m.Mul(healpix.ChildUV(childIdx))
		o--
		p /= 4

		if !orderMaxKnown || o <= orderMax {
			ancestorEntry, _ := loader.Load(s, o, p, 0)
			if ancestorEntry != nil {
				found = ancestorEntry
			}
		}
	}

	if found == nil {
		result.Projector = healpix.NewProjector(order, pix)
		r.applyAllSkyFallback(s, &result, flags, orderMin, o, p)
		return result
	}

	minOrder := order
	if orderMaxKnown && orderMax < minOrder {
		minOrder = orderMax
	}
	if o == minOrder {
		result.LoadingComplete = true
	}

	result.UVQuad = result.UVQuad.Transform(m)
	result.Projector = healpix.NewProjector(o, p)

	if tex := r.uploadedTexture(found); tex != nil {
		result.Texture = tex
	}

	r.applyAllSkyFallback(s, &result, flags, orderMin, o, p)

	return result
}

// applyAllSkyFallback: when ForceUseAllsky is set and the resolved order
// is exactly order_min and no tile texture has been found yet, confirm
// the order -1 pseudo-tile for pix's base face is still cache-resident
// (seeded tiles carry no loader and can be evicted under pressure like
// any other entry), then carve and upload the all-sky sub-texture for
// the base tile pix occupies (memoized per survey+pix so it is only
// carved once).
func (r *Resolver) applyAllSkyFallback(s Survey, result *Result, flags Flags, orderMin, resolvedOrder int, pix int64) {
	if result.Texture != nil {
		return
	}
	if flags&ForceUseAllsky == 0 || resolvedOrder != orderMin {
		return
	}
	baseFace := pix >> uint(2*orderMin)
	if pseudo, _ := loader.Load(s, tile.AllSkyOrder, baseFace, loader.ForceUseAllsky); pseudo == nil {
		return
	}
	if tex := r.carveAllSky(s, orderMin, pix); tex != nil {
		result.Texture = tex
	}
}

func defaultResult(order int, pix int64, flags Flags) Result {
	quad := healpix.UnitQuadSky
	if flags&Planet != 0 {
		quad = healpix.UnitQuadPlanet
	}
	return Result{
		UVQuad:    quad,
		Projector: healpix.NewProjector(order, pix),
		Fade:      1.0,
	}
}

// uploadedTexture returns the GPU texture for found's payload, uploading
// it lazily on first use and discarding nothing CPU-side beyond what the
// payload implementation itself chooses to free.
func (r *Resolver) uploadedTexture(found *tile.Entry) any {
	pi, ok := found.Payload.(payloadImage)
	if !ok {
		return nil
	}
	if tex := pi.GetTexture(); tex != nil {
		return tex
	}
	img := pi.DecodedImage()
	if img == nil {
		return nil
	}
	tex := r.uploader.Upload(img)
	pi.SetTexture(tex)
	return tex
}

// carveAllSky carves the sub-rectangle of the all-sky image occupied by
// base tile pix, memoizing the result so a given (survey, pix) is only
// carved and uploaded once.
func (r *Resolver) carveAllSky(s Survey, orderMin int, pix int64) any {
	key := carveKey{surveyHash: s.Hash(), pix: pix}

	r.mu.Lock()
	if tex, ok := r.carved[key]; ok {
		r.mu.Unlock()
		return tex
	}
	r.mu.Unlock()

	allSky := s.AllSkyImage()
	if allSky == nil {
		return nil
	}

	n := healpix.AllSkyTilesPerRow(orderMin)
	if n <= 0 {
		return nil
	}

	bounds := allSky.Bounds()
	w := bounds.Dx() / n
	if w <= 0 {
		return nil
	}
	col := pix % int64(n)
	row := pix / int64(n)

	rect := image.Rect(
		bounds.Min.X+int(col)*w,
		bounds.Min.Y+int(row)*w,
		bounds.Min.X+int(col)*w+w,
		bounds.Min.Y+int(row)*w+w,
	)

	sub := subImage(allSky, rect)
	tex := r.uploader.Upload(sub)

	r.mu.Lock()
	r.carved[key] = tex
	r.mu.Unlock()

	return tex
}

// subImage extracts rect from img via the SubImage method most standard
// image types implement, falling back to a fresh copy for types that
// don't (e.g. some decoders' custom image.Image implementations).
func subImage(img image.Image, rect image.Rectangle) image.Image {
	if simg, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return simg.SubImage(rect)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x-rect.Min.X, y-rect.Min.Y, img.At(x, y))
		}
	}
	return dst
}
