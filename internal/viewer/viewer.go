// Package viewer wires survey, loader, resolver, traverse, tilecache,
// assetfetch, gputex, and hud into a runnable ebiten.Game. The real
// sphere-projection painter is an external collaborator; this viewer
// instead demonstrates the engine by progressively drilling into a
// single focus tile and drawing whatever texture the resolver
// currently has for it, scaled to fill the window, exercising every
// wired component under real frame-by-frame polling.
package viewer

import (
	"fmt"
	"image/color"
	"log/slog"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/skyatlas/hipscore/assetfetch"
	"github.com/skyatlas/hipscore/asyncjob"
	"github.com/skyatlas/hipscore/gputex"
	"github.com/skyatlas/hipscore/hud"
	"github.com/skyatlas/hipscore/resolver"
	"github.com/skyatlas/hipscore/survey"
	"github.com/skyatlas/hipscore/tilecache"
	"github.com/skyatlas/hipscore/tilecodec"
	"github.com/skyatlas/hipscore/traverse"
)

// Config configures a Viewer.
type Config struct {
	ServiceURL   string
	CacheBudget  int64
	PoolWorkers  int64
	ScreenWidth  int
	ScreenHeight int
}

// Viewer is the demo ebiten.Game. It holds exactly one survey;
// multi-survey compositing is a painter concern it doesn't implement.
type Viewer struct {
	survey   *survey.Survey
	resolver *resolver.Resolver
	overlay  *hud.Overlay

	focusOrder int
	focusPix   int64
	nextChild  int64

	forceAllsky bool

	screenW, screenH int
}

// New builds a Viewer from cfg, constructing the shared cache, worker
// pool, and HTTP fetcher.
func New(cfg Config) *Viewer {
	if cfg.CacheBudget <= 0 {
		cfg.CacheBudget = tilecache.DefaultBudget
	}
	if cfg.PoolWorkers <= 0 {
		cfg.PoolWorkers = 10
	}

	cache := tilecache.New(cfg.CacheBudget)
	pool := asyncjob.NewPool(cfg.PoolWorkers)
	fetcher := assetfetch.NewHTTPFetcher()

	var codec tilecodec.Default
	s := survey.New(cfg.ServiceURL, cfg.ServiceURL, fetcher, cache, pool, codec.CreateTile, codec.DeleteTile)

	v := &Viewer{
		survey:     s,
		resolver:   resolver.New(gputex.EbitenUploader{}),
		screenW:    cfg.ScreenWidth,
		screenH:    cfg.ScreenHeight,
		focusOrder: 0,
		focusPix:   0,
	}
	v.overlay = hud.New(8, 8, func(next bool) { v.forceAllsky = next })
	return v
}

// Update implements ebiten.Game. It ticks the survey's properties/
// all-sky state machine once per frame, reads navigation input, and
// forwards clicks to the HUD.
func (v *Viewer) Update() error {
	v.survey.Update()

	x, y := ebiten.CursorPosition()
	pressed := ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)
	v.overlay.HandleInput(float64(x), float64(y), pressed)

	orderMax, known := v.survey.OrderMax()
	maxOrder := 9
	if known && orderMax < maxOrder {
		maxOrder = orderMax
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyEqual) || inpututil.IsKeyJustPressed(ebiten.KeyKPAdd) {
		if v.focusOrder < maxOrder {
			v.focusOrder++
			v.focusPix = v.focusPix*4 + v.nextChild
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyMinus) || inpututil.IsKeyJustPressed(ebiten.KeyKPSubtract) {
		if v.focusOrder > v.survey.OrderMin() {
			v.nextChild = v.focusPix % 4
			v.focusOrder--
			v.focusPix /= 4
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyRight) {
		v.nextChild = (v.nextChild + 1) % 4
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyLeft) {
		v.nextChild = (v.nextChild + 3) % 4
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		v.forceAllsky = !v.forceAllsky
		v.overlay.SetForceUseAllsky(v.forceAllsky)
	}

	return nil
}

// focusAncestor returns the ancestor of the current focus tile at
// order o (o <= v.focusOrder).
func (v *Viewer) focusAncestor(o int) int64 {
	shift := uint(2 * (v.focusOrder - o))
	return v.focusPix >> shift
}

// Draw implements ebiten.Game. It computes the render-order selection
// formula purely for informational display (navigation here is
// keyboard-driven, since the real view-frustum/projection painter
// isn't part of this engine), then drives the real pyramid traverser
// down a single path toward the focus tile, resolving and drawing
// whatever texture is currently available for it.
func (v *Viewer) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{R: 16, G: 16, B: 24, A: 255})

	orderMax, orderMaxKnown := v.survey.OrderMax()
	desiredOrder := traverse.SelectRenderOrder(traverse.RenderOrderParams{
		FramebufferWidth: float64(v.screenW),
		ProjScalingX:      1.0,
		AngleRadius:       demoAngleForOrder(v.focusOrder),
		TileWidth:         float64(v.survey.TileWidth()),
		OrderMin:          v.survey.OrderMin(),
		OrderMax:          orderMax,
		OrderMaxKnown:     orderMaxKnown,
	})

	clip := func(order int, pix int64) bool {
		if order > v.focusOrder {
			return true
		}
		return pix != v.focusAncestor(order)
	}

	var drawn bool
	var flags resolver.Flags
	if v.forceAllsky {
		flags |= resolver.ForceUseAllsky
	}

	_, traverseFlags := traverse.Render(traverse.RenderParams{
		RenderOrder:     v.focusOrder,
		SplitOrder:      3,
		AllSkyAvailable: v.survey.AllSkyImage() != nil,
	}, clip, func(order int, pix int64, split int) {
		result := v.resolver.Resolve(v.survey, order, pix, flags)
		if result.Texture == nil {
			return
		}
		tex, ok := result.Texture.(*ebiten.Image)
		if !ok {
			return
		}
		drawFullscreen(screen, tex, v.screenW, v.screenH)
		drawn = true
	})
	if traverseFlags&traverse.ForceUseAllsky != 0 {
		v.overlay.SetForceUseAllsky(true)
	}

	if !drawn {
		ebitenutil.DebugPrintAt(screen, "loading...", v.screenW/2-32, v.screenH/2)
	}

	status := hud.Status{
		SurveyLabel:    v.survey.Label(),
		Order:          v.focusOrder,
		Pix:            v.focusPix,
		CacheBytes:     v.survey.Cache().TotalCost(),
		CacheBudget:    v.survey.Cache().Budget(),
		ForceUseAllsky: v.forceAllsky,
	}
	v.overlay.Draw(screen, status)
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("render_order (formula): %d", desiredOrder), 8, v.screenH-36)

	if err := v.survey.Err(); err != nil {
		slog.Warn("survey in error state", "err", err)
		ebitenutil.DebugPrintAt(screen, fmt.Sprintf("survey error: %v", err), 8, v.screenH-20)
	}
}

// Layout implements ebiten.Game.
func (v *Viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	v.screenW, v.screenH = outsideWidth, outsideHeight
	return outsideWidth, outsideHeight
}

// demoAngleForOrder synthesizes a plausible angular radius for the
// render-order formula's display: it shrinks geometrically with the
// keyboard-driven focus order, standing in for what a real camera's
// field of view would report as the user zooms in.
func demoAngleForOrder(order int) float64 {
	base := 1.0 // radians, full hemisphere-ish at order 0
	for i := 0; i < order; i++ {
		base /= 2
	}
	return base
}

// drawFullscreen blits tex scaled to fill the window, a stand-in for
// the real sphere-projection painter.
func drawFullscreen(screen *ebiten.Image, tex *ebiten.Image, w, h int) {
	bounds := tex.Bounds()
	tw, th := bounds.Dx(), bounds.Dy()
	if tw == 0 || th == 0 {
		return
	}
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(w)/float64(tw), float64(h)/float64(th))
	screen.DrawImage(tex, op)
}
