package usecase

import (
	"math"

	"github.com/vitos/trade_alert_engine/internal/domain"
)

// PositionSize returns the order size in quote currency for a risk-based
// entry.
//
// riskPct is the percentage of balance to put at risk (1 = 1%).
// stopLossDistance is |entry - stop| / entry. commissionPct is the taker fee
// as a decimal fraction and widens the effective stop distance. Leverage is
// accepted but deliberately not part of the formula: it changes the margin
// requirement at order time, not the amount of equity at risk.
func PositionSize(balance, riskPct, stopLossDistance, leverage, commissionPct float64) float64 {
	_ = leverage
	riskAmount := balance * riskPct / 100
	return riskAmount / (stopLossDistance + commissionPct)
}

// StopLossDistance validates stop placement for the direction and returns the
// relative distance. A stop on the wrong side of entry would fill immediately,
// so it is rejected before anything touches the exchange.
func StopLossDistance(entryPrice, stopLoss float64, side domain.PositionSide) (float64, error) {
	if entryPrice <= 0 || stopLoss <= 0 {
		return 0, domain.NewValidationError("entry_price and stop_loss must be positive")
	}
	switch side {
	case domain.PositionLong:
		if stopLoss >= entryPrice {
			return 0, domain.NewValidationError("stop loss must be below entry price for long positions")
		}
	case domain.PositionShort:
		if stopLoss <= entryPrice {
			return 0, domain.NewValidationError("stop loss must be above entry price for short positions")
		}
	default:
		return 0, domain.NewValidationError("invalid side %q: must be long or short", side)
	}
	return math.Abs(entryPrice-stopLoss) / entryPrice, nil
}
