// Package tilecodec implements the default survey-configurable decode
// callback: decode a fetched tile's bytes into an RGB(A) buffer,
// compute the per-quadrant transparency mask, and report a byte cost.
package tilecodec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"

	"github.com/skyatlas/hipscore/tile"
	"github.com/skyatlas/hipscore/tilecache"
)

// Payload is what Default.CreateTile stores as a tile.Entry's Payload:
// the decoded image plus a lazily-allocated GPU texture handle slot the
// resolver fills in on first use.
type Payload struct {
	Image   image.Image
	Texture any // filled in by the resolver on first GPU upload
}

// DecodedImage implements the resolver's texture-upload duck interface.
func (p *Payload) DecodedImage() image.Image { return p.Image }

// SetTexture implements the resolver's texture-upload duck interface.
func (p *Payload) SetTexture(tex any) { p.Texture = tex }

// GetTexture implements the resolver's texture-upload duck interface.
func (p *Payload) GetTexture() any { return p.Texture }

// emptyPayload is the sentinel for order -1 (all-sky pseudo-tiles) and
// the "eph" ephemeris format, both of which carry no image data.
type emptyPayload struct{}

// Default is the default CreateTile/DeleteTile pair for image surveys.
type Default struct{}

// CreateTile decodes data (in the given HiPS tile format) and reports
// its cost and per-quadrant transparency. Order tile.AllSkyOrder and
// format "eph" always yield the empty payload sentinel.
func (Default) CreateTile(order int, pix int64, data []byte, format string) (payload any, cost int64, flags tile.Flags, err error) {
	if order == tile.AllSkyOrder || format == "eph" {
		return emptyPayload{}, 0, 0, nil
	}

	var img image.Image
	switch format {
	case "jpg", "jpeg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	case "png":
		img, err = png.Decode(bytes.NewReader(data))
	case "webp":
		img, err = webp.Decode(bytes.NewReader(data))
	default:
		return nil, 0, 0, fmt.Errorf("tilecodec: unsupported tile format %q", format)
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("tilecodec: decode %s tile: %w", format, err)
	}

	bpp := bytesPerPixel(img)
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	cost = int64(w) * int64(h) * int64(bpp)

	flags = quadrantTransparencyFlags(img, bpp)

	return &Payload{Image: img}, cost, flags, nil
}

// DeleteTile releases a decoded payload. Image surveys have nothing
// that must outlive the cache entry once dropped, so the default always
// allows the drop; a survey holding a GPU texture still referenced by
// the renderer should supply its own delete_tile that returns KEEP
// while that reference is live.
func (Default) DeleteTile(payload any) tilecache.Verdict {
	return tilecache.Drop
}

// bytesPerPixel reports how many bytes the w*h*bpp cost formula should
// use for img's color model: 4 for the RGBA, NRGBA, RGBA64 and NRGBA64
// models, 3 for every other model.
func bytesPerPixel(img image.Image) int {
	switch img.ColorModel() {
	case image.RGBAModel, image.NRGBAModel, image.RGBA64Model, image.NRGBA64Model:
		return 4
	default:
		return 3
	}
}

// quadrantTransparencyFlags reports, for each of the 4 quadrants of img,
// whether every pixel in that quadrant has alpha==0, meaning that
// quadrant is definitionally childless. Only meaningful when bpp>=4;
// RGB-only images have no alpha channel and so never set a NoChild bit
// here.
func quadrantTransparencyFlags(img image.Image, bpp int) tile.Flags {
	if bpp < 4 {
		return 0
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 2 || h < 2 {
		return 0
	}
	midX := bounds.Min.X + w/2
	midY := bounds.Min.Y + h/2

	// Quadrant i occupies pixel column band (i%2) and row band (i/2),
	// matching the UV quadrant bit layout healpix.ChildUV uses: x bit is
	// i%2, y bit is i/2, with the image's top-left pixel at UV (0,0).
	quadrants := [4]image.Rectangle{
		image.Rect(bounds.Min.X, bounds.Min.Y, midX, midY),         // i=0: x low,  y low
		image.Rect(midX, bounds.Min.Y, bounds.Max.X, midY),         // i=1: x high, y low
		image.Rect(bounds.Min.X, midY, midX, bounds.Max.Y),         // i=2: x low,  y high
		image.Rect(midX, midY, bounds.Max.X, bounds.Max.Y),         // i=3: x high, y high
	}

	var flags tile.Flags
	for i, q := range quadrants {
		if allTransparent(img, q) {
			flags = flags.WithNoChild(int64(i))
		}
	}
	return flags
}

func allTransparent(img image.Image, rect image.Rectangle) bool {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a != 0 {
				return false
			}
		}
	}
	return true
}
