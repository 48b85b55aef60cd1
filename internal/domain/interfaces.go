package domain

import "context"

// Gateway is the capability surface of one exchange API credential pair. It
// hides the wire protocol; every call may fail with an *ExchangeError.
type Gateway interface {
	GetAccountUID(ctx context.Context) (string, error)
	GetWalletBalance(ctx context.Context, coin string) (float64, error)
	GetTransferableAmount(ctx context.Context, coins []string) (map[string]string, error)
	// TransferFunds moves amount between two UIDs under the same master
	// account. transferID is the idempotency key and is owned by the caller so
	// one logical transfer keeps a single key across retries.
	TransferFunds(ctx context.Context, transferID, fromUID, toUID string, amount float64, coin string) (string, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	PlaceBatchOrders(ctx context.Context, category string, reqs []OrderRequest) ([]string, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol, marginType string, leverage int) error
	CancelAllOrders(ctx context.Context, symbol, category string) error
	// GetPositionInfo returns nil when no position is open for the symbol.
	GetPositionInfo(ctx context.Context, symbol, category string) (*Position, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	AmendStopLoss(ctx context.Context, symbol, orderID string, stopLoss float64) error
	// SetTradingStop amends the position's stop loss in place (no
	// cancel/replace of the position).
	SetTradingStop(ctx context.Context, symbol string, positionIdx int, stopLoss float64) error
	GetInstrumentInfo(ctx context.Context, symbol, category string) (*Instrument, error)
}

// GatewayFactory builds a Gateway for one credential pair.
type GatewayFactory func(creds Credentials) Gateway

// TradeStore persists reconciliation records.
type TradeStore interface {
	UpsertTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, limit int) ([]*Trade, error)
}

// AccountSource resolves trading accounts. Backed by the accounts table the
// external CRUD maintains.
type AccountSource interface {
	GetActiveAccounts(ctx context.Context) ([]*Account, error)
	GetAccountByName(ctx context.Context, name string) (*Account, error)
}

// AlertLog is the durable append-only record of every inbound alert, written
// before execution starts.
type AlertLog interface {
	AppendAlertLog(ctx context.Context, alertID string, raw []byte) error
}

// Publisher fans trade updates and log lines out to external consumers
// (dashboard, log viewer). Delivery is best effort; failures are logged and
// swallowed, never propagated into execution.
type Publisher interface {
	PublishTrade(ctx context.Context, trade *Trade)
	PublishLog(ctx context.Context, level, message string)
}

// StreamHandler receives events from one account's private stream. Event
// payloads stay as raw maps because the exchange pushes every numeric as a
// string and partial data must not abort handling.
type StreamHandler interface {
	HandleOrderEvent(account string, event map[string]interface{})
	HandleWalletEvent(account string, event map[string]interface{})
	HandleDisconnect(account string, err error)
}

// PrivateStream is one persistent private event stream (orders + wallet).
type PrivateStream interface {
	Connect(ctx context.Context) error
	Close() error
}

// StreamFactory builds a PrivateStream for one account.
type StreamFactory func(account string, creds Credentials, handler StreamHandler) PrivateStream
