package domain

import "time"

// Trade is the reconciliation record for one exchange order. The order id is
// the primary key: the same id always overwrites the existing row, so
// redelivered or duplicated push events are harmless.
//
// Numeric fields are pointers because the exchange occasionally pushes empty
// strings for them; an unparseable value degrades to NULL instead of dropping
// the whole event.
type Trade struct {
	OrderID      string     `gorm:"primaryKey;column:order_id" json:"order_id"`
	AccountName  string     `gorm:"column:account_name;index" json:"account_name"`
	Symbol       string     `gorm:"column:symbol;index" json:"symbol"`
	Side         string     `gorm:"column:side" json:"side"`
	OrderType    string     `gorm:"column:order_type" json:"order_type"`
	Price        *float64   `gorm:"column:price" json:"price"`
	Qty          *float64   `gorm:"column:qty" json:"qty"`
	Status       string     `gorm:"column:status" json:"status"`
	AvgPrice     *float64   `gorm:"column:avg_price" json:"avg_price"`
	CumExecQty   *float64   `gorm:"column:cum_exec_qty" json:"cum_exec_qty"`
	CumExecValue *float64   `gorm:"column:cum_exec_value" json:"cum_exec_value"`
	CumExecFee   *float64   `gorm:"column:cum_exec_fee" json:"cum_exec_fee"`
	ClosedPnL    *float64   `gorm:"column:closed_pnl" json:"closed_pnl"`
	Category     string     `gorm:"column:category" json:"category"`
	CreatedTime  *time.Time `gorm:"column:created_time" json:"created_time"`
	UpdatedTime  *time.Time `gorm:"column:updated_time" json:"updated_time"`
	RawEvent     string     `gorm:"column:raw_event;type:text" json:"raw_event"`
}

func (Trade) TableName() string { return "trades" }

// Position is an open position on the exchange.
type Position struct {
	Symbol        string
	Side          Side
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
	MarginType    string
	PositionIdx   int
}

// Side is the exchange order side.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the closing side for a position side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderRequest describes one order for the gateway.
type OrderRequest struct {
	Category    string
	Symbol      string
	Side        Side
	OrderType   string // "Market" or "Limit"
	Qty         float64
	Price       float64
	StopLoss    float64
	TimeInForce string
	ReduceOnly  bool
	MarketUnit  string // "baseCoin" for market orders sized in base units
}
