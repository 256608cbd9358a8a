package vwap

import (
	"sort"
	"sync"
)

// Store maps each symbol to its accumulator. Symbols are never removed.
type Store struct {
	mu           sync.RWMutex
	accumulators map[string]*Accumulator
	windowSize   int
	resyncEvery  int
}

func NewStore(windowSize, resyncEvery int) *Store {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Store{
		accumulators: make(map[string]*Accumulator),
		windowSize:   windowSize,
		resyncEvery:  resyncEvery,
	}
}

// GetOrCreate returns the symbol's accumulator, creating it on first use
func (s *Store) GetOrCreate(symbol string) *Accumulator {
	s.mu.RLock()
	acc, ok := s.accumulators[symbol]
	s.mu.RUnlock()
	if ok {
		return acc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another goroutine may have won the race between the two locks
	if acc, ok = s.accumulators[symbol]; ok {
		return acc
	}
	acc = NewAccumulator(s.windowSize, s.resyncEvery)
	s.accumulators[symbol] = acc
	return acc
}

// Update feeds one trade into the symbol's accumulator
func (s *Store) Update(symbol string, price, volume float64) (float64, bool) {
	return s.GetOrCreate(symbol).Update(price, volume)
}

// Len is the number of symbols seen so far
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accumulators)
}

func (s *Store) Symbols() []string {
	s.mu.RLock()
	symbols := make([]string, 0, len(s.accumulators))
	for sym := range s.accumulators {
		symbols = append(symbols, sym)
	}
	s.mu.RUnlock()

	sort.Strings(symbols)
	return symbols
}

// SymbolStat is a point-in-time view of one accumulator
type SymbolStat struct {
	Symbol string   `json:"symbol"`
	Trades int      `json:"trades_in_window"`
	VWAP   *float64 `json:"vwap"`
}

// Snapshot reads every accumulator's current VWAP, sorted by symbol
func (s *Store) Snapshot() []SymbolStat {
	symbols := s.Symbols()
	stats := make([]SymbolStat, 0, len(symbols))
	for _, sym := range symbols {
		acc := s.GetOrCreate(sym)
		stat := SymbolStat{Symbol: sym, Trades: acc.Len()}
		if v, ok := acc.VWAP(); ok {
			stat.VWAP = &v
		}
		stats = append(stats, stat)
	}
	return stats
}
