package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCacheSetGet(t *testing.T) {
	c := NewPriceCache()
	c.Set("btc", 100, 2)

	q, ok := c.Get("BTC")
	require.True(t, ok)
	assert.InDelta(t, 100, q.Price, 1e-9)
	assert.InDelta(t, 2, q.Volume, 1e-9)

	c.Delete("Btc")
	_, ok = c.Get("BTC")
	assert.False(t, ok)
}

func TestPriceCacheExpireAndRetain(t *testing.T) {
	c := NewPriceCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.Set("OLD", 1, 0)
	now = now.Add(time.Minute)
	c.Set("NEW", 2, 0)
	c.Set("XRP", 3, 0)

	_, age, ok := c.Price("OLD")
	require.True(t, ok)
	assert.Equal(t, time.Minute, age)

	assert.Equal(t, 1, c.Expire(30*time.Second))
	assert.Equal(t, 1, c.Retain([]string{"new"}))
	assert.Equal(t, map[string]float64{"NEW": 2}, c.Prices())
}

func TestPriceCacheConcurrent(t *testing.T) {
	c := NewPriceCache()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sym := fmt.Sprintf("S%d", i%8)
			c.Set(sym, float64(i), 0)
			_, _ = c.Get(sym)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, c.Len())
}
