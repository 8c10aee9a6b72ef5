package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderRequestValidate(t *testing.T) {
	zero := 0
	three := 3
	negPrice := -1.0

	tests := []struct {
		name    string
		req     OrderRequest
		wantErr bool
	}{
		{"valid spot market", OrderRequest{Symbol: "BTCUSDT", Market: MarketSpot, Quantity: 0.01}, false},
		{"valid futures with leverage", OrderRequest{Symbol: "BTCUSDT", Market: MarketFutures, Quantity: 1, Leverage: &three}, false},
		{"zero quantity", OrderRequest{Symbol: "BTCUSDT", Quantity: 0}, true},
		{"negative quantity", OrderRequest{Symbol: "BTCUSDT", Quantity: -1}, true},
		{"empty symbol", OrderRequest{Quantity: 1}, true},
		{"futures leverage zero", OrderRequest{Symbol: "BTCUSDT", Market: MarketFutures, Quantity: 1, Leverage: &zero}, true},
		{"negative limit price", OrderRequest{Symbol: "BTCUSDT", Quantity: 1, Price: &negPrice}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOrder)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRealizedPnL(t *testing.T) {
	assert.InDelta(t, 20.0, RealizedPnL(PositionSideLong, 100, 120, 1), 1e-9)
	assert.InDelta(t, -20.0, RealizedPnL(PositionSideShort, 100, 120, 1), 1e-9)
	assert.InDelta(t, 5.0, RealizedPnL(PositionSideShort, 110, 100, 0.5), 1e-9)
}

func TestComputeTradeStats(t *testing.T) {
	stats := ComputeTradeStats([]ClosedTrade{{PnL: 10}, {PnL: -4}, {PnL: 2}, {PnL: 0}})
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 2, stats.Losses)
	assert.InDelta(t, 0.5, stats.WinRate, 1e-9)
	assert.InDelta(t, 8.0, stats.TotalPnL, 1e-9)

	empty := ComputeTradeStats(nil)
	assert.Equal(t, 0, empty.Total)
	assert.Zero(t, empty.WinRate)
}
