package vwap_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubham-shewale/vwap-stream/cmd/engine/internal/vwap"
)

func TestStore_GetOrCreateIsIdempotent(t *testing.T) {
	store := vwap.NewStore(5, 0)

	a := store.GetOrCreate("AAPL")
	b := store.GetOrCreate("AAPL")
	assert.Same(t, a, b)
	assert.Equal(t, 5, a.WindowSize())
	assert.Equal(t, 1, store.Len())
}

func TestStore_ConcurrentGetOrCreate(t *testing.T) {
	store := vwap.NewStore(vwap.DefaultWindowSize, 0)

	const goroutines = 32
	got := make([]*vwap.Accumulator, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = store.GetOrCreate("TSLA")
			store.GetOrCreate(fmt.Sprintf("SYM%d", i%4))
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		require.Same(t, got[0], got[i])
	}
	assert.Equal(t, 5, store.Len())
}

func TestStore_Snapshot(t *testing.T) {
	store := vwap.NewStore(2, 0)
	store.Update("MSFT", 300, 2)
	store.Update("AAPL", 100, 0)

	snap := store.Snapshot()
	require.Len(t, snap, 2)

	assert.Equal(t, "AAPL", snap[0].Symbol)
	assert.Nil(t, snap[0].VWAP)

	assert.Equal(t, "MSFT", snap[1].Symbol)
	require.NotNil(t, snap[1].VWAP)
	assert.InDelta(t, 300.0, *snap[1].VWAP, 1e-9)
	assert.Equal(t, 1, snap[1].Trades)
}
