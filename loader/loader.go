// Package loader implements the tile loader: given a survey and a tile
// position, produce a cache entry or a definitive HTTP-like status,
// handling parent-memoized 404s and async decode dispatch along the
// way.
package loader

import (
	"log/slog"

	"github.com/skyatlas/hipscore/assetfetch"
	"github.com/skyatlas/hipscore/asyncjob"
	"github.com/skyatlas/hipscore/tile"
	"github.com/skyatlas/hipscore/tilecache"
)

// Flags modifies a Load call.
type Flags uint8

const (
	// CachedOnly returns only what is already resident; never fetches.
	CachedOnly Flags = 1 << iota
	// LoadInThread dispatches the decode callback on the async pool
	// instead of running it synchronously on the caller's goroutine.
	LoadInThread
	// ForceUseAllsky substitutes order -1 into the cache key, routing
	// the request to the all-sky pseudo-tile instead of a real tile.
	ForceUseAllsky
)

// Status mirrors HTTP-like outcomes, plus the two "not resolved yet"
// sentinels shared with package assetfetch.
const (
	StatusPending      = assetfetch.StatusPending
	StatusStillLoading = assetfetch.StatusStillLoading
	StatusOK           = 200
)

// Survey is the slice of survey.Survey the loader depends on. A narrow
// interface keeps loader independent of survey's concrete type and
// testable with a stub.
type Survey interface {
	tile.SurveyRef
	IsReady() bool
	OrderMin() int
	OrderMax() (order int, known bool)
	Extension() string
	URLFor(order int, pix int64, ext string) string
	CreateTileFn() func(order int, pix int64, data []byte, format string) (payload any, cost int64, flags tile.Flags, err error)
	Fetcher() assetfetch.Fetcher
	Cache() *tilecache.Cache
	Pool() *asyncjob.Pool
	OnEvict() tilecache.OnEvict
}

// Load resolves a tile position to a cache entry or a definitive
// status. It never blocks: every "not yet known" outcome returns
// (nil, 0) immediately, and the caller is expected to call again later
// (typically next frame).
func Load(s Survey, order int, pix int64, flags Flags) (*tile.Entry, int) {
	keyOrder := order
	keyPix := pix
	if flags&ForceUseAllsky != 0 {
		keyOrder = tile.AllSkyOrder
		keyPix = pix
	}
	key := tile.KeyFor(s.Hash(), tile.Position{Order: keyOrder, Pix: keyPix})

	if entry, ok := s.Cache().Get(key); ok {
		return resolveCacheHit(s, key, entry)
	}

	if flags&CachedOnly != 0 {
		return nil, StatusPending
	}

	if !s.IsReady() {
		return nil, StatusPending
	}

	orderMin := s.OrderMin()
	if order < orderMin {
		return nil, 404
	}
	if orderMax, known := s.OrderMax(); known && order > orderMax {
		return nil, 404
	}

	if order > orderMin {
		parentFlags := flags &^ LoadInThread
		parentEntry, _ := Load(s, order-1, pix/4, parentFlags)
		if parentEntry == nil {
			return nil, StatusPending
		}
		if parentEntry.Flags.HasNoChild(pix % 4) {
			return nil, 404
		}
	}

	ext := s.Extension()
	url := s.URLFor(order, pix, ext)

	fetchFlags := assetfetch.Accept404
	if order > 0 {
		fetchFlags |= assetfetch.Delay
	}

	data, status := s.Fetcher().Fetch(url, fetchFlags)

	switch {
	case status == StatusPending:
		return nil, StatusPending
	case status >= 400 && status < 500:
		markParentNoChild(s, order, pix)
		s.Fetcher().Release(url)
		return nil, status
	case status != StatusStillLoading && (status < 200 || status >= 300 || len(data) == 0):
		slog.Warn("loader: unexpected fetch status", "url", url, "status", status)
		s.Fetcher().Release(url)
		return nil, status
	case status == StatusStillLoading:
		return nil, StatusPending
	}

	entry := &tile.Entry{
		Position: tile.Position{Order: order, Pix: pix},
		Survey:   s,
	}

	const provisionalCost = 1
	s.Cache().Put(key, entry, provisionalCost, s.OnEvict())

	createTile := s.CreateTileFn()

	if flags&LoadInThread != 0 {
		job := s.Pool().Start(func() (any, int64, tile.Flags, error) {
			return createTile(order, pix, data, ext)
		})
		s.Fetcher().Release(url)
		entry.Loader = job
		return nil, StatusPending
	}

	payload, cost, decodedFlags, err := createTile(order, pix, data, ext)
	s.Fetcher().Release(url)
	if err != nil {
		slog.Warn("loader: decode failed", "url", url, "error", err)
		entry.Flags |= tile.LoadError
		s.Cache().SetCost(key, provisionalCost)
		return entry, StatusOK
	}

	entry.Payload = payload
	entry.Flags |= decodedFlags
	s.Cache().SetCost(key, cost)
	return entry, StatusOK
}

// resolveCacheHit handles step 2 of the algorithm: poll a pending
// loader, adopting its result on completion, or return the resident
// entry outright.
func resolveCacheHit(s Survey, key tile.Key, entry *tile.Entry) (*tile.Entry, int) {
	if entry.Loader == nil {
		return entry, StatusOK
	}

	if !entry.Loader.Poll() {
		return nil, StatusPending
	}

	payload, cost, flags, err := entry.Loader.Result()
	entry.Loader = nil
	if err != nil {
		entry.Flags |= tile.LoadError
	} else {
		entry.Payload = payload
		entry.Flags |= flags
	}
	s.Cache().SetCost(key, cost)
	return entry, StatusOK
}

// markParentNoChild memoizes a definitive 404 on the parent tile's
// NO_CHILD_{pix mod 4} bit, if the parent happens to be resident.
func markParentNoChild(s Survey, order int, pix int64) {
	if order <= s.OrderMin() {
		return
	}
	parentKey := tile.KeyFor(s.Hash(), tile.Position{Order: order - 1, Pix: pix / 4})
	parentEntry, ok := s.Cache().Get(parentKey)
	if !ok {
		return
	}
	parentEntry.Flags = parentEntry.Flags.WithNoChild(pix % 4)
}
