// Package hud is a small status overlay for the demo viewer: survey
// label, resolved order/pix, cache occupancy, and a button toggling
// the all-sky fallback.
package hud

import (
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
)

// Status is the per-frame snapshot the overlay renders. The viewer
// fills this in after each traverse/resolve pass.
type Status struct {
	SurveyLabel    string
	Order          int
	Pix            int64
	CacheBytes     int64
	CacheBudget    int64
	ForceUseAllsky bool
}

const (
	toggleWidth  = 160.0
	toggleHeight = 28.0
	margin       = 8.0
)

// Overlay is a small fixed-position HUD: a status text block plus a
// single toggle button, drawn in screen space (not affected by the
// sky painter's camera transform).
type Overlay struct {
	x, y float64

	isHovered bool
	isPressed bool

	// forceAllsky mirrors the viewer's own all-sky-fallback state; the
	// viewer owns the flag and pushes updates via SetForceUseAllsky, so
	// a single toggle button can drive multiple resolver calls without
	// the overlay depending on resolver/traverse types.
	forceAllsky bool
	onToggle    func(next bool)
}

// New creates an overlay anchored at (x, y) in screen coordinates,
// calling onToggle whenever the all-sky button is clicked.
func New(x, y float64, onToggle func(next bool)) *Overlay {
	return &Overlay{x: x, y: y, onToggle: onToggle}
}

// SetForceUseAllsky syncs the button's toggle state (the value the next
// click flips) with the viewer's actual flag, for cases other than a
// direct click (e.g. the traverser itself forcing it on at low zoom).
// What Draw shows comes from Status.ForceUseAllsky, not from this state.
func (o *Overlay) SetForceUseAllsky(v bool) {
	o.forceAllsky = v
}

// HandleInput processes a single pointer event and reports whether the
// overlay consumed it (so the viewer's own camera controls can ignore
// clicks landing on the HUD).
func (o *Overlay) HandleInput(x, y float64, pressed bool) bool {
	bx, by := o.x, o.y+statusLines*lineHeight+margin
	if x >= bx && x <= bx+toggleWidth && y >= by && y <= by+toggleHeight {
		o.isHovered = true
		if pressed {
			o.isPressed = true
		} else if o.isPressed {
			o.isPressed = false
			o.forceAllsky = !o.forceAllsky
			if o.onToggle != nil {
				o.onToggle(o.forceAllsky)
			}
		}
		return true
	}
	o.isHovered = false
	o.isPressed = false
	return false
}

const (
	statusLines = 3
	lineHeight  = 16.0
)

// Draw renders the status block and toggle button to screen.
func (o *Overlay) Draw(screen *ebiten.Image, status Status) {
	lines := fmt.Sprintf(
		"survey: %s\norder/pix: %d/%d\ncache: %d/%d bytes",
		status.SurveyLabel, status.Order, status.Pix, status.CacheBytes, status.CacheBudget,
	)
	ebitenutil.DebugPrintAt(screen, lines, int(o.x), int(o.y))

	bx, by := o.x, o.y+statusLines*lineHeight+margin
	bg := color.RGBA{R: 150, G: 150, B: 150, A: 255}
	switch {
	case o.isPressed:
		bg = color.RGBA{R: 100, G: 100, B: 100, A: 255}
	case o.isHovered:
		bg = color.RGBA{R: 180, G: 180, B: 180, A: 255}
	}
	if status.ForceUseAllsky {
		bg = color.RGBA{R: 80, G: 150, B: 80, A: 255}
	}

	vector.DrawFilledRect(screen, float32(bx), float32(by), float32(toggleWidth), float32(toggleHeight), bg, true)
	vector.StrokeRect(screen, float32(bx), float32(by), float32(toggleWidth), float32(toggleHeight), 1, color.Black, true)

	label := "force all-sky: off"
	if status.ForceUseAllsky {
		label = "force all-sky: on"
	}
	ebitenutil.DebugPrintAt(screen, label, int(bx)+4, int(by)+8)
}
