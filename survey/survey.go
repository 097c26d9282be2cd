// Package survey implements the per-survey descriptor: properties
// acquisition, all-sky image acquisition, URL synthesis, and manual
// tile installation. Created externally and torn down only when the
// renderer does; tiles hold a non-owning reference to their survey via
// the narrow tile.SurveyRef interface, never a raw back-pointer.
package survey

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/skyatlas/hipscore/assetfetch"
	"github.com/skyatlas/hipscore/asyncjob"
	"github.com/skyatlas/hipscore/mjd"
	"github.com/skyatlas/hipscore/tile"
	"github.com/skyatlas/hipscore/tilecache"
)

// PropsState tracks properties acquisition.
type PropsState int

const (
	PropsUnknown PropsState = iota
	PropsFetching
	PropsReady
	PropsError
)

// AllSkyState tracks all-sky image acquisition:
// UNKNOWN -> FETCHING_BYTES -> DECODING -> READY|NOT_AVAILABLE.
type AllSkyState int

const (
	AllSkyUnknown AllSkyState = iota
	AllSkyFetchingBytes
	AllSkyDecoding
	AllSkyReady
	AllSkyNotAvailable
)

// CreateTileFunc decodes fetched bytes into a tile payload, reporting
// cost and per-quadrant transparency. See package tilecodec for the
// default image-survey implementation.
type CreateTileFunc func(order int, pix int64, data []byte, format string) (payload any, cost int64, flags tile.Flags, err error)

// DeleteTileFunc releases a payload when its cache entry is dropped.
type DeleteTileFunc func(payload any) tilecache.Verdict

// defaultOrderMin is used when hips_order_min is absent from properties.
const defaultOrderMin = 3

// defaultTileWidth is used when hips_tile_width is absent from properties.
const defaultTileWidth = 256

// Survey is the per-survey descriptor.
type Survey struct {
	BaseURL    string
	ServiceURL string

	CreateTile CreateTileFunc
	DeleteTile DeleteTileFunc

	fetcher assetfetch.Fetcher
	cache   *tilecache.Cache
	pool    *asyncjob.Pool

	mu sync.Mutex

	extension   string // jpg|png|webp|eph
	releaseDate float64
	label       string
	orderMin    int
	orderMax    *int
	tileWidth   int
	properties  map[string]string

	// serviceURLOverride is parsed from the properties file's
	// hips_service_url key but deliberately never consulted by URLFor,
	// since switching base URLs mid-session raises HTTP<->HTTPS
	// consistency concerns for in-flight requests. TODO: honor this once
	// that switching concern is resolved.
	serviceURLOverride string

	propsState  PropsState
	propsErr    error
	allSkyState AllSkyState
	allSkyJob   *asyncjob.Job
	allSkyImage image.Image
}

// New creates a survey descriptor. baseURL/serviceURL identify the
// HiPS service; fetcher/cache/pool are the shared collaborators;
// createTile/deleteTile are the survey's decode callbacks (pass
// tilecodec.Default for ordinary image surveys).
func New(baseURL, serviceURL string, fetcher assetfetch.Fetcher, cache *tilecache.Cache, pool *asyncjob.Pool, createTile CreateTileFunc, deleteTile DeleteTileFunc) *Survey {
	return &Survey{
		BaseURL:    baseURL,
		ServiceURL: serviceURL,
		fetcher:    fetcher,
		cache:      cache,
		pool:       pool,
		CreateTile: createTile,
		DeleteTile: deleteTile,
		extension:  "jpg",
		orderMin:   defaultOrderMin,
		tileWidth:  defaultTileWidth,
		properties: map[string]string{},
	}
}

// Hash implements tile.SurveyRef.
func (s *Survey) Hash() uint32 { return tile.SurveyHash(s.ServiceURL) }

// Fetcher returns the survey's asset fetcher, for use by package loader.
func (s *Survey) Fetcher() assetfetch.Fetcher { return s.fetcher }

// Cache returns the shared tile cache this survey stores into.
func (s *Survey) Cache() *tilecache.Cache { return s.cache }

// Pool returns the async decode pool this survey dispatches jobs on.
func (s *Survey) Pool() *asyncjob.Pool { return s.pool }

// CreateTileFn returns the survey's decode callback, for use by package
// loader's decode-dispatch step.
func (s *Survey) CreateTileFn() func(order int, pix int64, data []byte, format string) (payload any, cost int64, flags tile.Flags, err error) {
	return s.CreateTile
}

// Label implements tile.SurveyRef.
func (s *Survey) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

// OrderMin returns the minimum resident order (default 3 until
// properties say otherwise).
func (s *Survey) OrderMin() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderMin
}

// OrderMax returns the maximum order and whether it is known yet.
func (s *Survey) OrderMax() (order int, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orderMax == nil {
		return 0, false
	}
	return *s.orderMax, true
}

// Extension returns the tile file extension (jpg|png|webp|eph).
func (s *Survey) Extension() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extension
}

// TileWidth returns the tile edge length in pixels.
func (s *Survey) TileWidth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tileWidth
}

// AllSkyImage returns the decoded all-sky image once AllSkyState is
// Ready, for the resolver's all-sky carve fallback. Returns nil
// otherwise.
func (s *Survey) AllSkyImage() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allSkyImage
}

// AllSkyStateValue reports the all-sky acquisition sub-state.
func (s *Survey) AllSkyStateValue() AllSkyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allSkyState
}

// IsReady reports whether properties have arrived and the all-sky
// sub-state has left UNKNOWN/FETCHING_BYTES/DECODING.
func (s *Survey) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.propsState != PropsReady {
		return false
	}
	switch s.allSkyState {
	case AllSkyReady, AllSkyNotAvailable:
		return true
	default:
		return false
	}
}

// Err returns the permanent failure, if any (PROPERTIES_FAIL).
func (s *Survey) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.propsErr
}

// URLFor synthesizes the tile URL:
//
//	{service_url}/Norder{order}/Dir{(pix/10000)*10000}/Npix{pix}.{ext}[?v={release_date_as_int}]
func (s *Survey) URLFor(order int, pix int64, ext string) string {
	s.mu.Lock()
	release := s.releaseDate
	service := s.ServiceURL
	s.mu.Unlock()

	dir := (pix / 10000) * 10000
	url := fmt.Sprintf("%s/Norder%d/Dir%d/Npix%d.%s", service, order, dir, pix, ext)
	if release != 0 && isHTTP(service) {
		url = fmt.Sprintf("%s?v=%d", url, mjd.AsQueryInt(release))
	}
	return url
}

func isHTTP(url string) bool {
	return len(url) >= 7 && (url[:7] == "http://" || (len(url) >= 8 && url[:8] == "https://"))
}

func (s *Survey) propertiesURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ServiceURL + "/properties"
}

func (s *Survey) allSkyURL() string {
	s.mu.Lock()
	ext := s.extension
	min := s.orderMin
	release := s.releaseDate
	service := s.ServiceURL
	s.mu.Unlock()

	url := fmt.Sprintf("%s/Norder%d/Allsky.%s", service, min, ext)
	if release != 0 && isHTTP(service) {
		url = fmt.Sprintf("%s?v=%d", url, mjd.AsQueryInt(release))
	}
	return url
}

// Update drives the properties/all-sky acquisition state machine one
// tick. It never blocks: every "not ready yet" case returns
// immediately and expects to be called again next frame.
func (s *Survey) Update() {
	s.mu.Lock()
	propsState := s.propsState
	s.mu.Unlock()

	switch propsState {
	case PropsUnknown:
		s.mu.Lock()
		s.propsState = PropsFetching
		s.mu.Unlock()
	case PropsFetching:
		s.tickProperties()
	case PropsReady:
		s.tickAllSky()
	case PropsError:
		// permanently not-ready; nothing to do.
	}
}

func (s *Survey) tickProperties() {
	url := s.propertiesURL()
	data, status := s.fetcher.Fetch(url, 0)

	switch {
	case status == assetfetch.StatusPending || status == assetfetch.StatusStillLoading:
		return
	case status >= 200 && status < 300:
		s.fetcher.Release(url)
		if err := s.applyProperties(data); err != nil {
			s.mu.Lock()
			s.propsState = PropsError
			s.propsErr = errors.Wrap(err, "survey: parse properties")
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		s.propsState = PropsReady
		s.mu.Unlock()
	default:
		s.fetcher.Release(url)
		s.mu.Lock()
		s.propsState = PropsError
		s.propsErr = errors.Errorf("survey: fetch properties: http status %d", status)
		s.mu.Unlock()
	}
}

// applyProperties parses data as the flat key=value properties
// document and updates the survey's metadata fields.
func (s *Survey) applyProperties(data []byte) error {
	props := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitKeyValue(line)
		if !ok {
			continue
		}
		props[key] = value
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.properties = props

	if v, ok := props["hips_order"]; ok {
		if order, err := strconv.Atoi(v); err == nil {
			s.orderMax = &order
		}
	}
	if v, ok := props["hips_order_min"]; ok {
		if order, err := strconv.Atoi(v); err == nil {
			s.orderMin = order
		}
	} else {
		s.orderMin = defaultOrderMin
	}
	if v, ok := props["hips_tile_width"]; ok {
		if w, err := strconv.Atoi(v); err == nil {
			s.tileWidth = w
		}
	}
	if v, ok := props["hips_release_date"]; ok {
		s.releaseDate = mjd.Parse(v)
	}
	if v, ok := props["hips_tile_format"]; ok {
		s.extension = pickExtension(v)
	}
	if v, ok := props["hips_service_url"]; ok {
		s.serviceURLOverride = v
	}

	switch {
	case props["obs_collection"] != "":
		s.label = props["obs_collection"]
	case props["obs_title"] != "":
		s.label = props["obs_title"]
	default:
		s.label = s.ServiceURL
	}

	return nil
}

// pickExtension picks the first recognized format out of a
// whitespace-separated hips_tile_format value: webp, jpeg (normalized
// to "jpg"), png, eph. Falls back to "jpg" when nothing recognized is
// present; unrecognized formats are simply skipped over.
func pickExtension(formats string) string {
	for _, f := range strings.Fields(formats) {
		switch strings.ToLower(f) {
		case "webp":
			return "webp"
		case "jpeg", "jpg":
			return "jpg"
		case "png":
			return "png"
		case "eph":
			return "eph"
		}
	}
	return "jpg"
}

func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, '=')
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	return key, value, key != ""
}

func (s *Survey) tickAllSky() {
	s.mu.Lock()
	ext := s.extension
	state := s.allSkyState
	s.mu.Unlock()

	if ext == "eph" {
		s.mu.Lock()
		s.allSkyState = AllSkyNotAvailable
		s.mu.Unlock()
		return
	}

	switch state {
	case AllSkyUnknown:
		s.mu.Lock()
		s.allSkyState = AllSkyFetchingBytes
		s.mu.Unlock()
	case AllSkyFetchingBytes:
		s.tickAllSkyFetch()
	case AllSkyDecoding:
		s.tickAllSkyDecode()
	}
}

func (s *Survey) tickAllSkyFetch() {
	url := s.allSkyURL()
	data, status := s.fetcher.Fetch(url, assetfetch.Accept404)

	switch {
	case status == assetfetch.StatusPending || status == assetfetch.StatusStillLoading:
		return
	case status >= 200 && status < 300 && len(data) > 0:
		s.fetcher.Release(url)
		orderMin := s.OrderMin()
		job := s.pool.Start(func() (any, int64, tile.Flags, error) {
			payload, cost, flags, err := s.CreateTile(orderMin, 0, data, s.extensionSnapshot())
			return payload, cost, flags, err
		})
		s.mu.Lock()
		s.allSkyJob = job
		s.allSkyState = AllSkyDecoding
		s.mu.Unlock()
	default:
		s.fetcher.Release(url)
		s.mu.Lock()
		s.allSkyState = AllSkyNotAvailable
		s.mu.Unlock()
	}
}

func (s *Survey) extensionSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extension
}

func (s *Survey) tickAllSkyDecode() {
	s.mu.Lock()
	job := s.allSkyJob
	s.mu.Unlock()

	if job == nil || !job.Poll() {
		return
	}

	payload, _, _, err := job.Result()
	if err != nil {
		s.mu.Lock()
		s.allSkyState = AllSkyNotAvailable
		s.mu.Unlock()
		return
	}

	// The all-sky bytes go through the decode callback as an ordinary
	// tile at order_min (order -1 would yield the empty pseudo-tile
	// sentinel), so the result may be a plain image or the callback's
	// payload wrapper; unwrap either shape.
	img := unwrapImage(payload)
	if img == nil {
		s.mu.Lock()
		s.allSkyState = AllSkyNotAvailable
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.allSkyImage = img
	s.allSkyState = AllSkyReady
	s.mu.Unlock()

	s.seedAllSkyPseudoTiles()
}

// seedAllSkyPseudoTiles installs the 12 order=-1 base-face pseudo-tiles.
// Their payload is always empty; they exist purely so a loader's
// cache-hit path can report an all-sky tile as present without routing
// pixel access through the cache. The resolver reaches the real pixels
// via AllSkyImage.
func (s *Survey) seedAllSkyPseudoTiles() {
	for i := int64(0); i < 12; i++ {
		s.AddManualTile(tile.AllSkyOrder, i, nil)
	}
}

// AddManualTile installs a pre-supplied tile directly into the cache,
// bypassing the fetcher. Used to seed the 12 all-sky pseudo-tiles at
// order -1.
func (s *Survey) AddManualTile(order int, pix int64, data []byte) {
	payload, cost, flags, err := s.CreateTile(order, pix, data, s.extensionSnapshot())
	if err != nil {
		return
	}

	entry := &tile.Entry{
		Position: tile.Position{Order: order, Pix: pix},
		Survey:   s,
		Flags:    flags,
		Payload:  payload,
	}

	key := tile.KeyFor(s.Hash(), entry.Position)
	s.cache.Put(key, entry, cost, s.makeOnEvict())
}

func (s *Survey) makeOnEvict() tilecache.OnEvict {
	return func(_ tile.Key, entry *tile.Entry) tilecache.Verdict {
		if entry.Loader != nil {
			return tilecache.Keep
		}
		if s.DeleteTile != nil {
			return s.DeleteTile(entry.Payload)
		}
		return tilecache.Drop
	}
}

// OnEvict exposes the survey's veto callback for use by loaders that
// insert tiles directly into the shared cache.
func (s *Survey) OnEvict() tilecache.OnEvict {
	return s.makeOnEvict()
}

func unwrapImage(payload any) image.Image {
	if img, ok := payload.(image.Image); ok {
		return img
	}
	if wrapper, ok := payload.(interface{ DecodedImage() image.Image }); ok {
		return wrapper.DecodedImage()
	}
	return nil
}
