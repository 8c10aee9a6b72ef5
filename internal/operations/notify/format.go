package notify

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"CryptoSignalEngine/internal/models"
)

// RunSummary is what one run reports at the end.
type RunSummary struct {
	Env      models.Env
	Signals  map[string]string // symbol -> final direction
	Vetoes   map[string]string // symbol -> vetoing filter
	Skipped  map[string]string // symbol -> reason
	Orders   []models.OrderResult
	Trades   []models.ClosedTrade
	Stats    *models.TradeStats
	Rejected string
	// Balance is the live account balance; BalanceStale marks a stored
	// snapshot used because the exchange could not be read.
	Balance      *models.Balance
	BalanceStale bool
}

func envTag(env models.Env) string {
	if env == models.EnvLive {
		return "LIVE"
	}
	return "TEST"
}

func marketTag(m models.Market) string {
	if m == models.MarketSpot {
		return "SPOT"
	}
	return "FUTURES"
}

// FormatOrderResult renders one submission outcome.
func FormatOrderResult(res models.OrderResult) string {
	req := res.Request

	posDesc := "spot"
	if req.Market == models.MarketFutures {
		switch req.PositionSide {
		case models.PositionSideLong:
			posDesc = "long"
		case models.PositionSideShort:
			posDesc = "short"
		default:
			posDesc = "futures"
		}
	}

	status := "OK"
	if !res.Success {
		status = "FAILED"
	} else if res.Simulated {
		status = "OK (dry run)"
	}

	lines := []string{
		fmt.Sprintf("[%s] [%s] %s", envTag(req.Env), marketTag(req.Market), status),
		"Symbol: " + req.Symbol,
		fmt.Sprintf("Direction: %s / %s", posDesc, req.Side),
		"Quantity: " + formatNumber(req.Quantity),
	}

	if req.Price != nil {
		lines = append(lines, "Price: "+formatNumber(*req.Price))
	} else {
		lines = append(lines, "Price: market")
	}
	if req.Leverage != nil {
		lines = append(lines, fmt.Sprintf("Leverage: %dx", *req.Leverage))
	}
	if req.ReduceOnly {
		lines = append(lines, "Reduce only")
	}
	if req.Reason != "" {
		lines = append(lines, "Reason: "+req.Reason)
	}
	if res.FillPrice > 0 {
		lines = append(lines, "Fill: "+formatNumber(res.FillPrice))
	}
	if res.OrderID != "" {
		lines = append(lines, "Order ID: "+res.OrderID)
	}
	if !res.Success && res.Error != "" {
		lines = append(lines, "Error: "+res.Error)
	}
	return strings.Join(lines, "\n")
}

// FormatClosedTrade renders one realized virtual trade.
func FormatClosedTrade(t models.ClosedTrade) string {
	return fmt.Sprintf("[%s] closed %s %s qty=%s entry=%s exit=%s pnl=%s",
		envTag(t.Env), t.Symbol, t.Side,
		formatNumber(t.Quantity), formatNumber(t.EntryPrice), formatNumber(t.ExitPrice),
		strconv.FormatFloat(t.PnL, 'f', 4, 64))
}

// FormatRunSummary renders the end-of-run message.
func FormatRunSummary(s RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] run summary\n", envTag(s.Env))

	for _, symbol := range sortedKeys(s.Signals) {
		line := fmt.Sprintf("%s: %s", symbol, s.Signals[symbol])
		if filter, ok := s.Vetoes[symbol]; ok {
			line += " (vetoed by " + filter + ")"
		}
		b.WriteString(line + "\n")
	}
	for _, symbol := range sortedKeys(s.Skipped) {
		fmt.Fprintf(&b, "%s: skipped, %s\n", symbol, s.Skipped[symbol])
	}

	if s.Rejected != "" {
		b.WriteString("Orders rejected: " + s.Rejected + "\n")
	}

	placed, failed := 0, 0
	for _, o := range s.Orders {
		if o.Success {
			placed++
		} else {
			failed++
		}
	}
	fmt.Fprintf(&b, "Orders: %d ok, %d failed\n", placed, failed)

	for _, t := range s.Trades {
		b.WriteString(FormatClosedTrade(t) + "\n")
	}

	if s.Balance != nil {
		line := fmt.Sprintf("Balance: %s total, %s free %s", formatNumber(s.Balance.Total), formatNumber(s.Balance.Free), s.Balance.Asset)
		if s.BalanceStale {
			line += " (as of " + s.Balance.LastUpdated.UTC().Format("2006-01-02 15:04") + ")"
		}
		b.WriteString(line + "\n")
	}

	if s.Stats != nil && s.Stats.Total > 0 {
		fmt.Fprintf(&b, "Trades: %d, win rate %.1f%%, total pnl %.4f\n",
			s.Stats.Total, s.Stats.WinRate*100, s.Stats.TotalPnL)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
