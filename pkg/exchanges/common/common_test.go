package common

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus(t *testing.T) {
	require.NoError(t, CheckStatus(StatusOK, ""))

	err := CheckStatus("5600", "insufficient balance")
	require.Error(t, err)
	assert.Equal(t, "5600", StatusOf(err))
	assert.Equal(t, "5600", StatusOf(fmt.Errorf("market buy: %w", err)))
	assert.Equal(t, "", StatusOf(fmt.Errorf("plain")))
}

func TestOrderDetailAvgPrice(t *testing.T) {
	d := OrderDetail{Contracts: []Contract{
		{Price: 100, Units: 1},
		{Price: 110, Units: 3},
	}}
	assert.InDelta(t, 107.5, d.AvgPrice(), 1e-9)
	assert.InDelta(t, 4.0, d.FilledUnits(), 1e-9)
	assert.Zero(t, OrderDetail{}.AvgPrice())
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(1000, 2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	allowed, waited := rl.GetUsage()
	assert.Equal(t, uint64(5), allowed+waited)

	var nilLimiter *RateLimiter
	assert.NoError(t, nilLimiter.Wait(ctx))
}
