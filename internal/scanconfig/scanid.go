package scanconfig

import (
	"math/rand"
	"sync"
	"time"
)

const (
	minScanID = 10
	maxScanID = 1000
)

// ScanIDFactory hands out random scan ids, never repeating an id within the
// lifetime of the factory. Scan ids share a namespace with directory names
// on the recording mount, so uniqueness per test session is enough.
type ScanIDFactory struct {
	mu   sync.Mutex
	rng  *rand.Rand
	used map[uint64]struct{}
}

// NewScanIDFactory creates a factory seeded from the wall clock.
func NewScanIDFactory() *ScanIDFactory {
	return NewSeededScanIDFactory(time.Now().UnixNano())
}

// NewSeededScanIDFactory creates a factory with a fixed seed for
// reproducible tests.
func NewSeededScanIDFactory(seed int64) *ScanIDFactory {
	return &ScanIDFactory{
		rng:  rand.New(rand.NewSource(seed)),
		used: map[uint64]struct{}{},
	}
}

// Next returns a scan id in [10, 1000] that this factory has not returned
// before.
func (f *ScanIDFactory) Next() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		id := uint64(f.rng.Intn(maxScanID-minScanID+1) + minScanID)
		if _, ok := f.used[id]; !ok {
			f.used[id] = struct{}{}
			return id
		}
	}
}
