package catalog

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduper reports product ids already seen during an ingest run. The bloom
// filter answers most first sightings without touching the exact set; a
// positive answer is confirmed against the set so no id is dropped by a
// false positive.
type Deduper struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}

	falsePositives uint64
}

// NewDeduper sizes the filter for expected ids at false positive rate fpr.
func NewDeduper(expected uint, fpr float64) *Deduper {
	return &Deduper{
		filter: bloom.NewWithEstimates(expected, fpr),
		exact:  make(map[string]struct{}, expected),
	}
}

// Seen records id and reports whether it had been recorded before.
func (d *Deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestAndAddString(id) {
		if _, ok := d.exact[id]; ok {
			return true
		}
		d.falsePositives++
	}
	d.exact[id] = struct{}{}
	return false
}

// FalsePositives returns how many bloom hits the exact set overruled.
func (d *Deduper) FalsePositives() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.falsePositives
}
