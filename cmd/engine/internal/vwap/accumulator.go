package vwap

import (
	"math"
	"sync"
)

const (
	DefaultWindowSize  = 50
	DefaultResyncEvery = 4096
)

type pair struct {
	price  float64
	volume float64
}

// Accumulator keeps a rolling VWAP over the last windowSize trades of one symbol.
//
// The window is a ring buffer; the running sums are adjusted by the exact
// values that were added when an entry is evicted, so Update is O(1).
// Every resyncEvery updates the sums are rebuilt from the window to cancel
// floating-point drift.
type Accumulator struct {
	mu sync.Mutex

	window []pair
	head   int // oldest entry
	size   int

	sumPV float64
	sumV  float64

	// held entries with volume != 0; when it drops to zero the sums are exactly zero
	nonZero int

	resyncEvery int
	sinceResync int
}

// NewAccumulator returns an empty accumulator. windowSize <= 0 falls back to DefaultWindowSize,
// resyncEvery <= 0 disables resynchronisation.
func NewAccumulator(windowSize, resyncEvery int) *Accumulator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Accumulator{
		window:      make([]pair, windowSize),
		resyncEvery: resyncEvery,
	}
}

// Update admits a trade and returns the VWAP of the current window.
// ok is false while the window holds no volume. Zero-volume trades still
// take a slot and evict the oldest entry. A trade whose price*volume is not
// finite is not admitted; the current value is returned unchanged.
func (a *Accumulator) Update(price, volume float64) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// one Inf in the sums would turn into NaN on eviction
	if pv := price * volume; math.IsNaN(pv) || math.IsInf(pv, 0) || math.IsNaN(volume) || math.IsInf(volume, 0) {
		return a.vwap()
	}

	capacity := len(a.window)
	if a.size == capacity {
		old := a.window[a.head]
		a.sumPV -= old.price * old.volume
		a.sumV -= old.volume
		if old.volume != 0 {
			a.nonZero--
		}
		a.head = (a.head + 1) % capacity
		a.size--
	}

	tail := (a.head + a.size) % capacity
	a.window[tail] = pair{price: price, volume: volume}
	a.size++
	a.sumPV += price * volume
	a.sumV += volume
	if volume != 0 {
		a.nonZero++
	}

	if a.nonZero == 0 {
		a.sumPV, a.sumV = 0, 0
	}

	if a.resyncEvery > 0 {
		a.sinceResync++
		if a.sinceResync >= a.resyncEvery {
			a.resync()
		}
	}

	return a.vwap()
}

// VWAP returns the current value without admitting a trade
func (a *Accumulator) VWAP() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vwap()
}

// Len is the number of entries currently held
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

func (a *Accumulator) WindowSize() int {
	return len(a.window)
}

// Sums returns the running sum of price*volume and of volume
func (a *Accumulator) Sums() (priceVolume, volume float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sumPV, a.sumV
}

func (a *Accumulator) vwap() (float64, bool) {
	if a.sumV == 0 {
		return 0, false
	}
	return a.sumPV / a.sumV, true
}

// resync rebuilds the sums from the held entries. Caller holds mu.
func (a *Accumulator) resync() {
	var pv, v float64
	capacity := len(a.window)
	for i := 0; i < a.size; i++ {
		p := a.window[(a.head+i)%capacity]
		pv += p.price * p.volume
		v += p.volume
	}
	a.sumPV, a.sumV = pv, v
	a.sinceResync = 0
}
