package notify

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestFormatOrderResult(t *testing.T) {
	lev := 3
	res := models.OrderResult{
		Request: models.OrderRequest{
			Env:          models.EnvPaper,
			Market:       models.MarketFutures,
			Symbol:       "BTCUSDT",
			Side:         models.SideBuy,
			Quantity:     0.01,
			Leverage:     &lev,
			PositionSide: models.PositionSideLong,
			Reason:       "ema_divergence long trend=2 entry=0",
		},
		Success: true,
		OrderID: "123",
	}

	want := strings.Join([]string{
		"[TEST] [FUTURES] OK",
		"Symbol: BTCUSDT",
		"Direction: long / buy",
		"Quantity: 0.01",
		"Price: market",
		"Leverage: 3x",
		"Reason: ema_divergence long trend=2 entry=0",
		"Order ID: 123",
	}, "\n")
	assert.Equal(t, want, FormatOrderResult(res))
}

func TestFormatOrderResultFailure(t *testing.T) {
	price := 25000.5
	res := models.OrderResult{
		Request: models.OrderRequest{
			Env:      models.EnvLive,
			Market:   models.MarketSpot,
			Symbol:   "ETHUSDT",
			Side:     models.SideSell,
			Quantity: 1,
			Price:    &price,
		},
		Error: "insufficient balance",
	}

	msg := FormatOrderResult(res)
	assert.Contains(t, msg, "[LIVE] [SPOT] FAILED")
	assert.Contains(t, msg, "Direction: spot / sell")
	assert.Contains(t, msg, "Price: 25000.5")
	assert.Contains(t, msg, "Error: insufficient balance")
}

func TestFormatRunSummary(t *testing.T) {
	stats := models.ComputeTradeStats([]models.ClosedTrade{{PnL: 5}, {PnL: -1}})
	msg := FormatRunSummary(RunSummary{
		Env:     models.EnvPaper,
		Signals: map[string]string{"ETHUSDT": "none", "BTCUSDT": "long"},
		Vetoes:  map[string]string{"ETHUSDT": "rsi"},
		Skipped: map[string]string{"SOLUSDT": "region restricted"},
		Orders:  []models.OrderResult{{Success: true}, {Success: false}},
		Trades: []models.ClosedTrade{{
			Env: models.EnvPaper, Symbol: "BTCUSDT", Side: models.PositionSideShort,
			Quantity: 1, EntryPrice: 100, ExitPrice: 90, PnL: 10,
		}},
		Stats: &stats,
	})

	lines := strings.Split(msg, "\n")
	assert.Equal(t, "[TEST] run summary", lines[0])
	assert.Equal(t, "BTCUSDT: long", lines[1])
	assert.Equal(t, "ETHUSDT: none (vetoed by rsi)", lines[2])
	assert.Equal(t, "SOLUSDT: skipped, region restricted", lines[3])
	assert.Equal(t, "Orders: 1 ok, 1 failed", lines[4])
	assert.Equal(t, "[TEST] closed BTCUSDT short qty=1 entry=100 exit=90 pnl=10.0000", lines[5])
	assert.Equal(t, "Trades: 2, win rate 50.0%, total pnl 4.0000", lines[6])
}

func TestFormatRunSummaryBalance(t *testing.T) {
	bal := &models.Balance{Asset: "USDT", Total: 1000, Free: 800, LastUpdated: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}

	tests := []struct {
		name  string
		stale bool
		want  string
	}{
		{"fresh", false, "Balance: 1000 total, 800 free USDT"},
		{"stored snapshot", true, "Balance: 1000 total, 800 free USDT (as of 2024-03-01 09:30)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FormatRunSummary(RunSummary{Env: models.EnvLive, Balance: bal, BalanceStale: tt.stale})
			assert.Contains(t, strings.Split(msg, "\n"), tt.want)
		})
	}
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	parts := splitMessage("aaaa\nbbbb\ncccc", 9)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts)

	parts = splitMessage("abcdefghij\nxy", 4)
	assert.Equal(t, []string{"abcd", "efgh", "ij", "xy"}, parts)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 4)
	}
}

func TestSplitMessageKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"accents", "héllo wörld", 4, []string{"héll", "o wö", "rld"}},
		{"emoji", "📈📈📈📉📉", 2, []string{"📈📈", "📈📉", "📉"}},
		{"fits by runes", "ééé\nüü", 3, []string{"ééé", "üü"}},
		{"short", "€", 1, []string{"€"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := splitMessage(tt.text, tt.max)
			assert.Equal(t, tt.want, parts)
			for _, p := range parts {
				assert.True(t, utf8.ValidString(p))
				assert.LessOrEqual(t, utf8.RuneCountInString(p), tt.max)
			}
		})
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	NewLogNotifier(logger.NewWithWriter("info", &buf)).Notify("hello")
	assert.Contains(t, buf.String(), "hello")
}
