package pipeline

import (
	"sort"
	"sync"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/models"
)

// collector accumulates mapped candidates from concurrent tile workers.
// Each entry keeps its provenance so the final list can be re-sorted
// into canonical tile/model order, making fusion tie-breaks independent
// of worker scheduling.
type collector struct {
	mu      sync.Mutex
	entries []collectedEntry
}

type collectedEntry struct {
	tile, model, seq int
	detection        models.Detection
}

func newCollector() *collector {
	return &collector{}
}

func (c *collector) add(tile, model, seq int, d models.Detection) {
	c.mu.Lock()
	c.entries = append(c.entries, collectedEntry{tile: tile, model: model, seq: seq, detection: d})
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// canonical returns the detections ordered by (tile, model, candidate),
// the order a sequential row-major run would have produced.
func (c *collector) canonical() []models.Detection {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.Slice(c.entries, func(a, b int) bool {
		ea, eb := c.entries[a], c.entries[b]
		if ea.tile != eb.tile {
			return ea.tile < eb.tile
		}
		if ea.model != eb.model {
			return ea.model < eb.model
		}
		return ea.seq < eb.seq
	})

	out := make([]models.Detection, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.detection
	}
	return out
}
