package domain

type AlertAction string

const (
	ActionOpen    AlertAction = "OPEN"
	ActionSell    AlertAction = "SELL"
	ActionClose   AlertAction = "CLOSE"
	ActionTrailSL AlertAction = "TRAIL_SL"
)

type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

const (
	DefaultCommissionPct = 0.00055
	DefaultRiskPct       = 1.0
	DefaultMarginType    = "cross"
)

// Alert is one inbound trading signal. It is immutable once accepted: the raw
// payload is appended to the alert log before any side effect runs.
type Alert struct {
	ID                   string       `json:"id,omitempty"`
	Account              string       `json:"account"`
	Action               AlertAction  `json:"action"`
	Symbol               string       `json:"symbol"`
	Side                 PositionSide `json:"side,omitempty"`
	MarginType           string       `json:"margin_type,omitempty"`
	EntryPrice           float64      `json:"entry_price,omitempty"`
	StopLoss             float64      `json:"stop_loss,omitempty"`
	RiskPercentage       float64      `json:"risk_percentage,omitempty"`
	Leverage             int          `json:"leverage,omitempty"`
	CommissionPercentage float64      `json:"commission_percentage,omitempty"`
	TPs                  []float64    `json:"tps,omitempty"`
	TPSizes              []float64    `json:"tp_sizes,omitempty"`
}

// Normalize fills the defaults the ingestion layer is allowed to omit.
func (a *Alert) Normalize() {
	if a.MarginType == "" {
		a.MarginType = DefaultMarginType
	}
	if a.RiskPercentage == 0 {
		a.RiskPercentage = DefaultRiskPct
	}
	if a.Leverage == 0 {
		a.Leverage = 1
	}
	if a.CommissionPercentage == 0 {
		a.CommissionPercentage = DefaultCommissionPct
	}
}

// Validate checks the shape of the alert. Price/side consistency (stop on the
// wrong side of entry) is checked later against the concrete direction, but
// everything here is fatal and never retried.
func (a *Alert) Validate() error {
	if a.Account == "" {
		return NewValidationError("missing account")
	}
	if a.Symbol == "" {
		return NewValidationError("missing symbol")
	}
	switch a.Action {
	case ActionOpen:
		if a.Side != PositionLong && a.Side != PositionShort {
			return NewValidationError("invalid side %q: must be long or short", a.Side)
		}
		if a.EntryPrice <= 0 || a.StopLoss <= 0 {
			return NewValidationError("missing entry_price or stop_loss")
		}
		if len(a.TPs) != len(a.TPSizes) {
			return NewValidationError("tps and tp_sizes length mismatch: %d vs %d", len(a.TPs), len(a.TPSizes))
		}
		var total float64
		for _, sz := range a.TPSizes {
			if sz <= 0 {
				return NewValidationError("tp size must be positive")
			}
			total += sz
		}
		if total > 100 {
			return NewValidationError("tp sizes sum %.2f exceeds 100%%", total)
		}
	case ActionSell, ActionClose:
		// Symbol and account are enough.
	case ActionTrailSL:
		if a.StopLoss <= 0 {
			return NewValidationError("missing stop_loss for TRAIL_SL")
		}
	default:
		return NewValidationError("unsupported action: %q", a.Action)
	}
	return nil
}
