package domain

type Instrument struct {
	Symbol      string  `json:"symbol"`
	BaseCoin    string  `json:"base_coin"`
	QuoteCoin   string  `json:"quote_coin"`
	Status      string  `json:"status"`
	MinOrderQty float64 `json:"min_order_qty"`
	QtyStep     float64 `json:"qty_step"`
}
