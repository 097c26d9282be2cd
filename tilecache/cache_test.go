package tilecache

import (
	"testing"

	"github.com/skyatlas/hipscore/tile"
)

func key(o int, p int64) tile.Key {
	return tile.Key{SurveyHash: 1, Order: o, Pix: p}
}

func TestGetPutUniqueness(t *testing.T) {
	c := New(1 << 20)
	k := key(3, 5)
	c.Put(k, &tile.Entry{Position: tile.Position{Order: 3, Pix: 5}}, 100, nil)
	c.Put(k, &tile.Entry{Position: tile.Position{Order: 3, Pix: 5}}, 200, nil)

	if c.Len() != 1 {
		t.Fatalf("expected 1 entry after re-insert, got %d", c.Len())
	}
	if got := c.TotalCost(); got != 200 {
		t.Fatalf("expected total cost 200 after replace, got %d", got)
	}
}

func TestEvictionLRU(t *testing.T) {
	c := New(1024 * 1024) // 1 MiB
	const tiles = 10
	const cost = 200 * 1024 // 200 KiB

	for i := 0; i < tiles; i++ {
		k := key(3, int64(i))
		c.Put(k, &tile.Entry{Position: tile.Position{Order: 3, Pix: int64(i)}}, cost, nil)
	}

	if c.TotalCost() > c.Budget() {
		t.Fatalf("cache over budget with no vetoes: %d > %d", c.TotalCost(), c.Budget())
	}
	// Oldest tiles should have been evicted; the most recent must remain.
	if _, ok := c.Get(key(3, tiles-1)); !ok {
		t.Fatalf("most recently inserted tile was evicted")
	}
	if _, ok := c.Get(key(3, 0)); ok {
		t.Fatalf("oldest tile should have been evicted")
	}
}

func TestEvictionVetoKeepsOverBudget(t *testing.T) {
	c := New(1024 * 1024)
	const cost = 200 * 1024

	alwaysKeep := func(tile.Key, *tile.Entry) Verdict { return Keep }

	for i := 0; i < 10; i++ {
		c.Put(key(3, int64(i)), &tile.Entry{}, cost, alwaysKeep)
	}

	if c.Len() != 10 {
		t.Fatalf("expected all 10 vetoing entries to survive, got %d", c.Len())
	}
	if c.TotalCost() <= c.Budget() {
		t.Fatalf("expected cache to remain over budget when every entry vetoes")
	}
}

func TestSetCostTriggersEviction(t *testing.T) {
	c := New(1000)
	c.Put(key(3, 1), &tile.Entry{}, 100, nil) // least recently used
	c.Put(key(3, 2), &tile.Entry{}, 100, nil) // most recently used

	c.SetCost(key(3, 1), 2000)

	if _, ok := c.Get(key(3, 1)); ok {
		t.Fatalf("expected the least-recently-used entry to be evicted once its cost blew the budget")
	}
	if _, ok := c.Get(key(3, 2)); !ok {
		t.Fatalf("the more recently used entry should survive eviction")
	}
}
