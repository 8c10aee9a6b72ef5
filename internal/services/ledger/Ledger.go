package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"CryptoSignalEngine/config"
	"CryptoSignalEngine/internal/logger"
	"CryptoSignalEngine/internal/models"
)

var (
	// ErrMissingPositionSide marks a fill the ledger cannot attribute to a direction.
	ErrMissingPositionSide = errors.New("order has no position side")
	ErrInvalidFill         = errors.New("invalid fill")
)

type State string

const (
	StateFlat  State = "flat"
	StateLong  State = "long"
	StateShort State = "short"
)

// PositionStore persists open virtual positions between runs.
type PositionStore interface {
	LoadPositions(env models.Env) ([]models.VirtualPosition, error)
	SavePosition(pos *models.VirtualPosition) error
	DeletePosition(env models.Env, symbol string) error
}

// TradeSink receives every closed trade.
type TradeSink interface {
	AppendTrade(trade *models.ClosedTrade) error
}

// Ledger keeps one net virtual position per symbol for one environment
// and realizes PnL when a fill goes against it. It is only used for PnL
// measurement and must never drive order routing. Not safe for
// concurrent use; the runner touches it from one goroutine.
type Ledger struct {
	env       models.Env
	flipMode  string
	positions map[string]*models.VirtualPosition
	store     PositionStore
	sink      TradeSink
	log       *logger.Logger
}

// NewLedger builds an empty ledger. store and sink may be nil.
func NewLedger(env models.Env, flipMode string, store PositionStore, sink TradeSink, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Discard()
	}
	if flipMode == "" {
		flipMode = config.FlipModeReopen
	}
	return &Ledger{
		env:       env,
		flipMode:  flipMode,
		positions: make(map[string]*models.VirtualPosition),
		store:     store,
		sink:      sink,
		log:       log,
	}
}

// Load replaces the in-memory positions with the stored ones.
func (l *Ledger) Load() error {
	if l.store == nil {
		return nil
	}
	stored, err := l.store.LoadPositions(l.env)
	if err != nil {
		return fmt.Errorf("failed to load virtual positions: %w", err)
	}
	l.positions = make(map[string]*models.VirtualPosition, len(stored))
	for i := range stored {
		pos := stored[i]
		l.positions[pos.Symbol] = &pos
	}
	l.log.Info("ledger %s: loaded %d open positions", l.env, len(l.positions))
	return nil
}

func (l *Ledger) Env() models.Env {
	return l.env
}

// Position returns a copy of the symbol's position.
func (l *Ledger) Position(symbol string) (models.VirtualPosition, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return models.VirtualPosition{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions ordered by symbol.
func (l *Ledger) Positions() []models.VirtualPosition {
	out := make([]models.VirtualPosition, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *Ledger) State(symbol string) State {
	pos, ok := l.positions[symbol]
	if !ok {
		return StateFlat
	}
	if pos.Side == models.PositionSideLong {
		return StateLong
	}
	return StateShort
}

// OnFill applies a confirmed fill. It returns the realized trade when the
// fill closed (part of) a position. The in-memory state is updated even
// when persisting fails; the error reports the persistence failure.
func (l *Ledger) OnFill(order models.OrderRequest, fillPrice float64, at time.Time) (*models.ClosedTrade, error) {
	if order.PositionSide == "" {
		return nil, ErrMissingPositionSide
	}
	if !(fillPrice > 0) || !(order.Quantity > 0) {
		return nil, fmt.Errorf("%w: %s qty=%v price=%v", ErrInvalidFill, order.Symbol, order.Quantity, fillPrice)
	}

	current, open := l.positions[order.Symbol]

	if order.ReduceOnly {
		if !open || fillDirection(order) == current.Side {
			l.log.Debug("ledger %s: reduce-only fill on %s has nothing to reduce", l.env, order.Symbol)
			return nil, nil
		}
		qty := order.Quantity
		if qty > current.Quantity {
			qty = current.Quantity
		}
		return l.close(current, qty, fillPrice, at, order.Reason)
	}

	side := order.PositionSide

	if !open {
		return nil, l.open(order.Symbol, side, order.Quantity, fillPrice, at, order.Reason)
	}

	if current.Side == side {
		newQty := current.Quantity + order.Quantity
		current.EntryPrice = (current.EntryPrice*current.Quantity + fillPrice*order.Quantity) / newQty
		current.Quantity = newQty
		l.log.Info("ledger %s: added %.8f to %s %s, avg entry %.8f", l.env, order.Quantity, order.Symbol, side, current.EntryPrice)
		return nil, l.save(current)
	}

	if l.flipMode == config.FlipModeNet {
		return l.net(current, order, fillPrice, at)
	}

	// reopen: close the whole old position, open with the full incoming quantity
	trade, closeErr := l.close(current, current.Quantity, fillPrice, at, order.Reason)
	openErr := l.open(order.Symbol, side, order.Quantity, fillPrice, at, order.Reason)
	return trade, errors.Join(closeErr, openErr)
}

// net offsets the fill against the position and opens only the residual.
func (l *Ledger) net(current *models.VirtualPosition, order models.OrderRequest, fillPrice float64, at time.Time) (*models.ClosedTrade, error) {
	closeQty := order.Quantity
	if closeQty > current.Quantity {
		closeQty = current.Quantity
	}
	residual := order.Quantity - closeQty

	trade, err := l.close(current, closeQty, fillPrice, at, order.Reason)
	if residual <= 0 {
		return trade, err
	}
	return trade, errors.Join(err, l.open(order.Symbol, order.PositionSide, residual, fillPrice, at, order.Reason))
}

func (l *Ledger) open(symbol string, side models.PositionSide, qty, price float64, at time.Time, reason string) error {
	pos := &models.VirtualPosition{
		Env:        l.env,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: price,
		OpenTime:   at,
		OpenReason: reason,
	}
	l.positions[symbol] = pos
	l.log.Info("ledger %s: opened %s %s qty=%.8f @ %.8f", l.env, symbol, side, qty, price)
	return l.save(pos)
}

// close realizes qty of pos at price. A full close removes the position.
func (l *Ledger) close(pos *models.VirtualPosition, qty, price float64, at time.Time, reason string) (*models.ClosedTrade, error) {
	trade := &models.ClosedTrade{
		Env:         l.env,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Quantity:    qty,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   price,
		OpenTime:    pos.OpenTime,
		CloseTime:   at,
		PnL:         models.RealizedPnL(pos.Side, pos.EntryPrice, price, qty),
		OpenReason:  pos.OpenReason,
		CloseReason: reason,
	}
	l.log.Info("ledger %s: closed %s %s qty=%.8f entry=%.8f exit=%.8f pnl=%.4f",
		l.env, pos.Symbol, pos.Side, qty, pos.EntryPrice, price, trade.PnL)

	var errs []error
	if l.sink != nil {
		if err := l.sink.AppendTrade(trade); err != nil {
			errs = append(errs, fmt.Errorf("failed to record closed trade: %w", err))
		}
	}

	remaining := pos.Quantity - qty
	if remaining <= 0 {
		delete(l.positions, pos.Symbol)
		if l.store != nil {
			if err := l.store.DeletePosition(l.env, pos.Symbol); err != nil {
				errs = append(errs, fmt.Errorf("failed to delete virtual position: %w", err))
			}
		}
	} else {
		pos.Quantity = remaining
		if err := l.save(pos); err != nil {
			errs = append(errs, err)
		}
	}
	return trade, errors.Join(errs...)
}

func (l *Ledger) save(pos *models.VirtualPosition) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.SavePosition(pos); err != nil {
		return fmt.Errorf("failed to save virtual position: %w", err)
	}
	return nil
}

// fillDirection is the exposure a fill adds: buys add long, sells add short.
func fillDirection(order models.OrderRequest) models.PositionSide {
	if order.Side == models.SideBuy {
		return models.PositionSideLong
	}
	return models.PositionSideShort
}
