package usecase_test

import (
	"context"
	"sync"

	"github.com/vitos/trade_alert_engine/internal/domain"
)

// MockGateway records every call and returns canned values. Zero value is a
// gateway where everything succeeds with empty results.
type MockGateway struct {
	mu sync.Mutex

	UID        string
	UIDErr     error
	Balances   map[string]float64
	BalanceErr error

	TransferStatus string
	TransferErr    error
	TransferCalls  []TransferCall

	Transferable    map[string]string
	TransferableErr error

	OrderID    string
	OrderErr   error
	Orders     []domain.OrderRequest
	BatchCalls [][]domain.OrderRequest
	BatchErr   error

	Position    *domain.Position
	PositionErr error

	Price    float64
	PriceErr error

	Instrument *domain.Instrument

	LeverageCalls   int
	MarginModeCalls int
	CancelAllCalls  int
	TradingStops    []float64
}

type TransferCall struct {
	TransferID string
	FromUID    string
	ToUID      string
	Amount     float64
	Coin       string
}

func (m *MockGateway) GetAccountUID(ctx context.Context) (string, error) {
	return m.UID, m.UIDErr
}

func (m *MockGateway) GetWalletBalance(ctx context.Context, coin string) (float64, error) {
	if m.BalanceErr != nil {
		return 0, m.BalanceErr
	}
	return m.Balances[coin], nil
}

func (m *MockGateway) GetTransferableAmount(ctx context.Context, coins []string) (map[string]string, error) {
	return m.Transferable, m.TransferableErr
}

func (m *MockGateway) TransferFunds(ctx context.Context, transferID, fromUID, toUID string, amount float64, coin string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TransferCalls = append(m.TransferCalls, TransferCall{
		TransferID: transferID,
		FromUID:    fromUID,
		ToUID:      toUID,
		Amount:     amount,
		Coin:       coin,
	})
	if m.TransferErr != nil {
		return "", m.TransferErr
	}
	return m.TransferStatus, nil
}

func (m *MockGateway) TransferCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.TransferCalls)
}

func (m *MockGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders = append(m.Orders, req)
	if m.OrderErr != nil {
		return "", m.OrderErr
	}
	return m.OrderID, nil
}

func (m *MockGateway) PlaceBatchOrders(ctx context.Context, category string, reqs []domain.OrderRequest) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls = append(m.BatchCalls, reqs)
	if m.BatchErr != nil {
		return nil, m.BatchErr
	}
	ids := make([]string, len(reqs))
	return ids, nil
}

func (m *MockGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.LeverageCalls++
	return nil
}

func (m *MockGateway) SetMarginMode(ctx context.Context, symbol, marginType string, leverage int) error {
	m.MarginModeCalls++
	return nil
}

func (m *MockGateway) CancelAllOrders(ctx context.Context, symbol, category string) error {
	m.CancelAllCalls++
	return nil
}

func (m *MockGateway) GetPositionInfo(ctx context.Context, symbol, category string) (*domain.Position, error) {
	return m.Position, m.PositionErr
}

func (m *MockGateway) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return m.Price, m.PriceErr
}

func (m *MockGateway) AmendStopLoss(ctx context.Context, symbol, orderID string, stopLoss float64) error {
	return nil
}

func (m *MockGateway) SetTradingStop(ctx context.Context, symbol string, positionIdx int, stopLoss float64) error {
	m.TradingStops = append(m.TradingStops, stopLoss)
	return nil
}

func (m *MockGateway) GetInstrumentInfo(ctx context.Context, symbol, category string) (*domain.Instrument, error) {
	return m.Instrument, nil
}

// MockAccountSource serves accounts from a map keyed by name.
type MockAccountSource struct {
	mu          sync.Mutex
	Accounts    map[string]*domain.Account
	Err         error
	ByNameCalls int
}

func (m *MockAccountSource) GetActiveAccounts(ctx context.Context) ([]*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*domain.Account
	for _, acc := range m.Accounts {
		if acc.IsActive {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (m *MockAccountSource) GetAccountByName(ctx context.Context, name string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ByNameCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Accounts[name], nil
}

func (m *MockAccountSource) SetActive(name string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accounts[name].IsActive = active
}

// MockTradeStore collects upserted trades.
type MockTradeStore struct {
	mu     sync.Mutex
	Trades map[string]*domain.Trade
	Err    error
}

func (m *MockTradeStore) UpsertTrade(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.Trades == nil {
		m.Trades = make(map[string]*domain.Trade)
	}
	m.Trades[trade.OrderID] = trade
	return nil
}

func (m *MockTradeStore) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.Trades {
		out = append(out, t)
	}
	return out, nil
}

func (m *MockTradeStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Trades)
}

func (m *MockTradeStore) Get(orderID string) *domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Trades[orderID]
}

// MockAlertLog records appended payloads.
type MockAlertLog struct {
	Entries map[string][]byte
	Err     error
}

func (m *MockAlertLog) AppendAlertLog(ctx context.Context, alertID string, raw []byte) error {
	if m.Err != nil {
		return m.Err
	}
	if m.Entries == nil {
		m.Entries = make(map[string][]byte)
	}
	m.Entries[alertID] = raw
	return nil
}

// MockPublisher swallows everything.
type MockPublisher struct {
	mu     sync.Mutex
	Trades []*domain.Trade
	Logs   []string
}

func (m *MockPublisher) PublishTrade(ctx context.Context, trade *domain.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trades = append(m.Trades, trade)
}

func (m *MockPublisher) PublishLog(ctx context.Context, level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, level+": "+message)
}

// MockStream satisfies domain.PrivateStream without a socket.
type MockStream struct {
	mu         sync.Mutex
	ConnectErr error
	connects   int
	closes     int
}

func (m *MockStream) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return m.ConnectErr
}

func (m *MockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *MockStream) ConnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *MockStream) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}
