package sizing

import (
	"bytes"
	"testing"

	"CryptoSignalEngine/config"
	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/models"
	"CryptoSignalEngine/internal/services/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSignal(dir strategy.Direction, trend, entry int) *strategy.Signal {
	return &strategy.Signal{
		Symbol:      "BTCUSDT",
		Direction:   dir,
		TrendScore:  trend,
		EntryScore:  entry,
		Diagnostics: strategy.Diagnostics{strategy.KeyMode: config.ModeEmaDivergence},
	}
}

func TestSizeOrderRaisesToMinQuantity(t *testing.T) {
	var buf bytes.Buffer
	s := NewSizer(config.DefaultParams().Sizing, logger.NewWithWriter("info", &buf))
	sig := newSignal(strategy.DirectionLong, 0, 0)

	order, err := s.SizeOrder(sig, SizingInput{
		Env:            models.EnvPaper,
		ReferencePrice: 25000,
		Instrument:     models.Instrument{Symbol: "BTCUSDT", MinQuantity: 0.01},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.01, order.Quantity)
	assert.Equal(t, 0.002, sig.Diagnostics[KeyRawQuantity])
	assert.Equal(t, AdjustedToMinQty, sig.Diagnostics[KeyQtyAdjustment])
	assert.Contains(t, buf.String(), "raised to minimum")
}

func TestSizeOrderFutures(t *testing.T) {
	s := NewSizer(config.DefaultParams().Sizing, nil)

	order, err := s.SizeOrder(newSignal(strategy.DirectionShort, 2, 1), SizingInput{
		Env:            models.EnvLive,
		ReferencePrice: 100,
		Instrument:     models.Instrument{Symbol: "BTCUSDT", StepSize: 0.1},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SideSell, order.Side)
	assert.Equal(t, models.PositionSideShort, order.PositionSide)
	assert.Equal(t, models.MarketFutures, order.Market)
	assert.Equal(t, models.EnvLive, order.Env)
	assert.Equal(t, 0.5, order.Quantity)
	require.NotNil(t, order.Leverage)
	assert.Equal(t, 5, *order.Leverage)
	assert.True(t, order.IsMarket())
	assert.Contains(t, order.Reason, "ema_divergence short")
}

func TestSizeOrderSpotCarriesNoLeverage(t *testing.T) {
	params := config.DefaultParams().Sizing
	params.Market = models.MarketSpot
	s := NewSizer(params, nil)

	order, err := s.SizeOrder(newSignal(strategy.DirectionLong, 2, 2), SizingInput{ReferencePrice: 50})
	require.NoError(t, err)
	assert.Equal(t, models.SideBuy, order.Side)
	assert.Nil(t, order.Leverage)
	assert.Empty(t, order.PositionSide)
	assert.Equal(t, 1.0, order.Quantity)
}

func TestSizeOrderRoundsDownToStep(t *testing.T) {
	s := NewSizer(config.DefaultParams().Sizing, nil)
	sig := newSignal(strategy.DirectionLong, 0, 0)

	order, err := s.SizeOrder(sig, SizingInput{
		ReferencePrice: 30000,
		Instrument:     models.Instrument{MinQuantity: 0.001, StepSize: 0.001},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.001, order.Quantity)
	assert.Equal(t, AdjustedToStep, sig.Diagnostics[KeyQtyAdjustment])
}

func TestSizeOrderTargetOverride(t *testing.T) {
	s := NewSizer(config.DefaultParams().Sizing, nil)
	order, err := s.SizeOrder(newSignal(strategy.DirectionLong, 0, 0), SizingInput{ReferencePrice: 10, TargetNotional: 200})
	require.NoError(t, err)
	assert.Equal(t, 20.0, order.Quantity)
}

func TestSizeOrderContractMultiplier(t *testing.T) {
	s := NewSizer(config.DefaultParams().Sizing, nil)
	order, err := s.SizeOrder(newSignal(strategy.DirectionLong, 0, 0), SizingInput{
		ReferencePrice: 10,
		Instrument:     models.Instrument{ContractMultiplier: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, order.Quantity)
}

func TestSizeOrderDegenerate(t *testing.T) {
	s := NewSizer(config.DefaultParams().Sizing, nil)

	tests := []struct {
		name string
		sig  *strategy.Signal
		in   SizingInput
	}{
		{"nil signal", nil, SizingInput{ReferencePrice: 100}},
		{"none signal", newSignal(strategy.DirectionNone, 0, 0), SizingInput{ReferencePrice: 100}},
		{"zero price", newSignal(strategy.DirectionLong, 0, 0), SizingInput{ReferencePrice: 0}},
		{"negative price", newSignal(strategy.DirectionLong, 0, 0), SizingInput{ReferencePrice: -5}},
		{"step swallows quantity", newSignal(strategy.DirectionLong, 0, 0), SizingInput{
			ReferencePrice: 25000,
			Instrument:     models.Instrument{StepSize: 0.01},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := s.SizeOrder(tt.sig, tt.in)
			assert.Nil(t, order)
			assert.ErrorIs(t, err, ErrDegenerateSizing)
		})
	}
}

func TestLeverageFor(t *testing.T) {
	s := NewSizer(config.DefaultParams().Sizing, nil)

	tests := []struct {
		score int
		want  int
	}{
		{-1, 2}, {0, 2}, {1, 2}, {2, 3}, {3, 5}, {4, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.LeverageFor(tt.score), "score %d", tt.score)
	}

	// monotonic in score
	prev := 0
	for score := 0; score <= 6; score++ {
		lev := s.LeverageFor(score)
		assert.GreaterOrEqual(t, lev, prev)
		prev = lev
	}

	assert.Equal(t, 1, NewSizer(config.SizingParams{}, nil).LeverageFor(3))
}
