package ledger

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"CryptoSignalEngine/internal/models"
)

const csvTimeLayout = "2006-01-02 15:04:05"

// TradeColumns is the closed-trade CSV header.
var TradeColumns = []string{
	"symbol", "side", "quantity", "entry_price", "exit_price",
	"open_time", "close_time", "pnl", "open_reason", "close_reason",
}

// FileStore keeps positions in a JSON snapshot and appends closed trades
// to a CSV log, one pair of files per environment under dir.
type FileStore struct {
	dir       string
	positions map[models.Env]map[string]models.VirtualPosition
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{
		dir:       dir,
		positions: make(map[models.Env]map[string]models.VirtualPosition),
	}, nil
}

func (s *FileStore) PositionsPath(env models.Env) string {
	return filepath.Join(s.dir, fmt.Sprintf("virtual_positions_%s.json", env))
}

func (s *FileStore) TradesPath(env models.Env) string {
	return filepath.Join(s.dir, fmt.Sprintf("virtual_trades_%s.csv", env))
}

func (s *FileStore) LoadPositions(env models.Env) ([]models.VirtualPosition, error) {
	data, err := os.ReadFile(s.PositionsPath(env))
	if errors.Is(err, os.ErrNotExist) {
		s.positions[env] = make(map[string]models.VirtualPosition)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var list []models.VirtualPosition
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("corrupt positions file %s: %w", s.PositionsPath(env), err)
	}

	byEnv := make(map[string]models.VirtualPosition, len(list))
	for _, p := range list {
		byEnv[p.Symbol] = p
	}
	s.positions[env] = byEnv
	return list, nil
}

func (s *FileStore) SavePosition(pos *models.VirtualPosition) error {
	byEnv, err := s.envPositions(pos.Env)
	if err != nil {
		return err
	}
	byEnv[pos.Symbol] = *pos
	return s.flush(pos.Env)
}

func (s *FileStore) DeletePosition(env models.Env, symbol string) error {
	byEnv, err := s.envPositions(env)
	if err != nil {
		return err
	}
	delete(byEnv, symbol)
	return s.flush(env)
}

// envPositions reads the snapshot on first use so a write never drops
// positions that were stored by an earlier run.
func (s *FileStore) envPositions(env models.Env) (map[string]models.VirtualPosition, error) {
	if byEnv, ok := s.positions[env]; ok {
		return byEnv, nil
	}
	if _, err := s.LoadPositions(env); err != nil {
		return nil, err
	}
	return s.positions[env], nil
}

func (s *FileStore) flush(env models.Env) error {
	list := make([]models.VirtualPosition, 0, len(s.positions[env]))
	for _, p := range s.positions[env] {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.PositionsPath(env), data, 0o600)
}

// AppendTrade appends one row, writing the header on first use.
func (s *FileStore) AppendTrade(trade *models.ClosedTrade) error {
	path := s.TradesPath(trade.Env)
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(TradeColumns); err != nil {
			return err
		}
	}
	if err := w.Write(tradeRow(trade)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// ReadTrades parses the closed-trade log of env. A missing file is empty.
func (s *FileStore) ReadTrades(env models.Env) ([]models.ClosedTrade, error) {
	f, err := os.Open(s.TradesPath(env))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTrades(f, env)
}

// Stats summarizes the closed-trade log of env.
func (s *FileStore) Stats(env models.Env) (models.TradeStats, error) {
	trades, err := s.ReadTrades(env)
	if err != nil {
		return models.TradeStats{}, err
	}
	return models.ComputeTradeStats(trades), nil
}

func tradeRow(t *models.ClosedTrade) []string {
	return []string{
		t.Symbol,
		string(t.Side),
		formatFloat(t.Quantity),
		formatFloat(t.EntryPrice),
		formatFloat(t.ExitPrice),
		t.OpenTime.UTC().Format(csvTimeLayout),
		t.CloseTime.UTC().Format(csvTimeLayout),
		formatFloat(t.PnL),
		oneLine(t.OpenReason),
		oneLine(t.CloseReason),
	}
}

func parseTrades(r io.Reader, env models.Env) ([]models.ClosedTrade, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(TradeColumns)

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read trade log: %w", err)
	}

	var trades []models.ClosedTrade
	for i, row := range rows {
		if i == 0 && row[0] == TradeColumns[0] {
			continue
		}
		t, err := parseTradeRow(row)
		if err != nil {
			return nil, fmt.Errorf("trade log line %d: %w", i+1, err)
		}
		t.Env = env
		trades = append(trades, t)
	}
	return trades, nil
}

func parseTradeRow(row []string) (models.ClosedTrade, error) {
	var t models.ClosedTrade
	var err error

	t.Symbol = row[0]
	t.Side = models.PositionSide(row[1])
	floats := []*float64{&t.Quantity, &t.EntryPrice, &t.ExitPrice}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(row[2+i], 64); err != nil {
			return t, err
		}
	}
	if t.OpenTime, err = time.Parse(csvTimeLayout, row[5]); err != nil {
		return t, err
	}
	if t.CloseTime, err = time.Parse(csvTimeLayout, row[6]); err != nil {
		return t, err
	}
	if t.PnL, err = strconv.ParseFloat(row[7], 64); err != nil {
		return t, err
	}
	t.OpenReason = row[8]
	t.CloseReason = row[9]
	return t, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " | ")
}

// writeFileAtomic writes via a temp file, fsync and rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
