package loader

import (
	"fmt"
	"sync"
	"testing"

	"github.com/skyatlas/hipscore/assetfetch"
	"github.com/skyatlas/hipscore/asyncjob"
	"github.com/skyatlas/hipscore/tile"
	"github.com/skyatlas/hipscore/tilecache"
)

// stubSurvey is a minimal loader.Survey for exercising Load in
// isolation from the real survey state machine.
type stubSurvey struct {
	hash       uint32
	ready      bool
	orderMin   int
	orderMax   int
	orderKnown bool
	ext        string

	fetcher assetfetch.Fetcher
	cache   *tilecache.Cache
	pool    *asyncjob.Pool
	create  func(order int, pix int64, data []byte, format string) (any, int64, tile.Flags, error)
}

func (s *stubSurvey) Hash() uint32  { return s.hash }
func (s *stubSurvey) Label() string { return "stub" }
func (s *stubSurvey) IsReady() bool { return s.ready }
func (s *stubSurvey) OrderMin() int { return s.orderMin }
func (s *stubSurvey) OrderMax() (int, bool) {
	return s.orderMax, s.orderKnown
}
func (s *stubSurvey) Extension() string { return s.ext }
func (s *stubSurvey) URLFor(order int, pix int64, ext string) string {
	return fmt.Sprintf("o%d/p%d.%s", order, pix, ext)
}
func (s *stubSurvey) CreateTileFn() func(order int, pix int64, data []byte, format string) (any, int64, tile.Flags, error) {
	return s.create
}
func (s *stubSurvey) Fetcher() assetfetch.Fetcher    { return s.fetcher }
func (s *stubSurvey) Cache() *tilecache.Cache        { return s.cache }
func (s *stubSurvey) Pool() *asyncjob.Pool           { return s.pool }
func (s *stubSurvey) OnEvict() tilecache.OnEvict {
	return func(tile.Key, *tile.Entry) tilecache.Verdict { return tilecache.Drop }
}

func newStubSurvey(fetcher assetfetch.Fetcher) *stubSurvey {
	return &stubSurvey{
		hash:     1,
		ready:    true,
		orderMin: 0,
		ext:      "jpg",
		fetcher:  fetcher,
		cache:    tilecache.New(tilecache.DefaultBudget),
		pool:     asyncjob.NewPool(4),
		create: func(order int, pix int64, data []byte, format string) (any, int64, tile.Flags, error) {
			return string(data), int64(len(data)), 0, nil
		},
	}
}

// queueFetcher serves a canned sequence of (data, status) per URL; each
// call advances to the next entry, sticking on the last.
type queueFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	scripts map[string][]fakeResponse
	seen    map[string]int
}

type fakeResponse struct {
	data   []byte
	status int
}

func newQueueFetcher() *queueFetcher {
	return &queueFetcher{calls: map[string]int{}, scripts: map[string][]fakeResponse{}, seen: map[string]int{}}
}

func (q *queueFetcher) stub(url string, responses ...fakeResponse) {
	q.scripts[url] = responses
}

func (q *queueFetcher) Fetch(url string, _ assetfetch.Flag) ([]byte, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seen[url]++
	responses, ok := q.scripts[url]
	if !ok {
		return nil, 404
	}
	i := q.calls[url]
	if i >= len(responses) {
		i = len(responses) - 1
	}
	q.calls[url]++
	r := responses[i]
	return r.data, r.status
}

func (q *queueFetcher) Release(string) {}

func (q *queueFetcher) callCount(url string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seen[url]
}

func TestLoadColdMissSynchronousHit(t *testing.T) {
	fetcher := newQueueFetcher()
	fetcher.stub("o3/p0.jpg", fakeResponse{data: []byte("bytes"), status: 200})
	// parent chain 2/0, 1/0, 0/0 must also resolve before order 3 is tried.
	fetcher.stub("o2/p0.jpg", fakeResponse{data: []byte("a"), status: 200})
	fetcher.stub("o1/p0.jpg", fakeResponse{data: []byte("b"), status: 200})
	fetcher.stub("o0/p0.jpg", fakeResponse{data: []byte("c"), status: 200})

	s := newStubSurvey(fetcher)

	entry, status := Load(s, 3, 0, 0)
	if status != StatusOK {
		t.Fatalf("expected status 200, got %d", status)
	}
	if entry == nil || entry.Payload != "bytes" {
		t.Fatalf("expected decoded payload, got %+v", entry)
	}
}

func TestLoad404MemoizesParent(t *testing.T) {
	fetcher := newQueueFetcher()
	fetcher.stub("o0/p0.jpg", fakeResponse{data: []byte("a"), status: 200})
	fetcher.stub("o1/p0.jpg", fakeResponse{data: []byte("b"), status: 200})
	fetcher.stub("o2/p0.jpg", fakeResponse{data: []byte("c"), status: 200})
	fetcher.stub("o3/p1.jpg", fakeResponse{data: []byte("d"), status: 200})
	fetcher.stub("o4/p7.jpg", fakeResponse{status: 404})

	s := newStubSurvey(fetcher)

	entry, status := Load(s, 4, 7, 0)
	if status != 404 {
		t.Fatalf("expected 404, got %d (entry=%+v)", status, entry)
	}

	parentKey := tile.KeyFor(s.Hash(), tile.Position{Order: 3, Pix: 1})
	parent, ok := s.Cache().Get(parentKey)
	if !ok {
		t.Fatalf("expected parent tile (3,1) to be cached")
	}
	if !parent.Flags.HasNoChild(7 % 4) {
		t.Fatalf("expected parent to have NoChild%d set, flags=%v", 7%4, parent.Flags)
	}

	calls := fetcher.callCount("o4/p7.jpg")

	entry2, status2 := Load(s, 4, 7, 0)
	if entry2 != nil || status2 != 404 {
		t.Fatalf("expected memoized 404 without fetch, got entry=%+v status=%d", entry2, status2)
	}
	if fetcher.callCount("o4/p7.jpg") != calls {
		t.Fatalf("expected no additional fetcher call for memoized 404")
	}
}

func TestLoadPendingFetchReturnsZeroStatus(t *testing.T) {
	fetcher := newQueueFetcher()
	fetcher.stub("o0/p0.jpg", fakeResponse{status: assetfetch.StatusPending})

	s := newStubSurvey(fetcher)
	entry, status := Load(s, 0, 0, 0)
	if entry != nil || status != StatusPending {
		t.Fatalf("expected (nil, pending), got entry=%+v status=%d", entry, status)
	}
}

func TestLoadCachedOnlyNeverFetches(t *testing.T) {
	fetcher := newQueueFetcher()
	s := newStubSurvey(fetcher)

	entry, status := Load(s, 0, 0, CachedOnly)
	if entry != nil || status != StatusPending {
		t.Fatalf("expected (nil, pending) for CachedOnly miss, got entry=%+v status=%d", entry, status)
	}
	if fetcher.callCount("o0/p0.jpg") != 0 {
		t.Fatalf("expected CachedOnly to never call the fetcher")
	}
}

func TestLoadSurveyNotReady(t *testing.T) {
	fetcher := newQueueFetcher()
	s := newStubSurvey(fetcher)
	s.ready = false

	entry, status := Load(s, 0, 0, 0)
	if entry != nil || status != StatusPending {
		t.Fatalf("expected (nil, pending) when survey not ready, got entry=%+v status=%d", entry, status)
	}
}

func TestLoadRangeCheckBelowOrderMin(t *testing.T) {
	fetcher := newQueueFetcher()
	s := newStubSurvey(fetcher)
	s.orderMin = 3

	entry, status := Load(s, 1, 0, 0)
	if entry != nil || status != 404 {
		t.Fatalf("expected (nil, 404) below order_min, got entry=%+v status=%d", entry, status)
	}
}

func TestLoadRangeCheckAboveOrderMax(t *testing.T) {
	fetcher := newQueueFetcher()
	s := newStubSurvey(fetcher)
	s.orderMax = 2
	s.orderKnown = true

	entry, status := Load(s, 5, 0, 0)
	if entry != nil || status != 404 {
		t.Fatalf("expected (nil, 404) above order_max, got entry=%+v status=%d", entry, status)
	}
}

func TestLoadInThreadDispatchesAsyncAndCompletesOnPoll(t *testing.T) {
	fetcher := newQueueFetcher()
	fetcher.stub("o0/p0.jpg", fakeResponse{data: []byte("payload"), status: 200})
	s := newStubSurvey(fetcher)

	entry, status := Load(s, 0, 0, LoadInThread)
	if entry != nil || status != StatusPending {
		t.Fatalf("expected (nil, pending) immediately after async dispatch, got entry=%+v status=%d", entry, status)
	}

	var finalEntry *tile.Entry
	var finalStatus int
	for deadline := 0; deadline < 100000; deadline++ {
		finalEntry, finalStatus = Load(s, 0, 0, CachedOnly)
		if finalStatus == StatusOK {
			break
		}
	}

	if finalStatus != StatusOK {
		t.Fatalf("expected status 200 once async decode completes, got %d", finalStatus)
	}
	if finalEntry == nil || finalEntry.Payload != "payload" {
		t.Fatalf("expected decoded payload after async completion, got %+v", finalEntry)
	}
}
