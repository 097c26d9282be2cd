// Package gputex adapts a decoded CPU-side image to a GPU texture
// handle, implementing resolver.TextureUploader with ebiten.
package gputex

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"
)

// EbitenUploader uploads decoded images to *ebiten.Image textures.
// The zero value is ready to use; it holds no state of its own since
// the resolver is responsible for caching the returned handle on the
// tile payload.
type EbitenUploader struct{}

// Upload implements resolver.TextureUploader.
func (EbitenUploader) Upload(img image.Image) any {
	return ebiten.NewImageFromImage(img)
}
