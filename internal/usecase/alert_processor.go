package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitos/trade_alert_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	categoryLinear = "linear"
	categorySpot   = "spot"

	defaultQuoteCoin = "USDT"
)

// ExecutionResult summarizes what one alert did. Status is a short machine
// readable outcome; handlers that find nothing to do still return a result so
// the task wrapper treats them as complete, not failed.
type ExecutionResult struct {
	AlertID        string  `json:"alert_id"`
	Account        string  `json:"account"`
	Action         string  `json:"action"`
	Symbol         string  `json:"symbol"`
	Status         string  `json:"status"`
	OrderID        string  `json:"order_id,omitempty"`
	Qty            float64 `json:"qty,omitempty"`
	TransferAmount float64 `json:"transfer_amount,omitempty"`
	Message        string  `json:"message,omitempty"`
}

const (
	StatusExecuted      = "executed"
	StatusNothingToSell = "nothing_to_sell"
	StatusNoPosition    = "no_position_found"
	StatusStopUpdated   = "stop_updated"
)

// AlertProcessor turns validated alerts into exchange calls. One processor
// serves all accounts; per-alert state lives in executionContext.
type AlertProcessor struct {
	accounts    domain.AccountSource
	factory     domain.GatewayFactory
	transfers   *TransferManager
	logger      *zap.Logger
	mainAccount string
	quoteCoin   string
}

func NewAlertProcessor(accounts domain.AccountSource, factory domain.GatewayFactory, transfers *TransferManager, logger *zap.Logger, mainAccount, quoteCoin string) *AlertProcessor {
	if quoteCoin == "" {
		quoteCoin = defaultQuoteCoin
	}
	return &AlertProcessor{
		accounts:    accounts,
		factory:     factory,
		transfers:   transfers,
		logger:      logger,
		mainAccount: mainAccount,
		quoteCoin:   quoteCoin,
	}
}

// executionContext is everything one alert needs after account resolution.
// Capital always sizes against main; orders go to target. For alerts aimed at
// the main account the two refs are the same.
type executionContext struct {
	alert  *domain.Alert
	main   domain.AccountRef
	target domain.AccountRef
}

// Process validates the alert, resolves its accounts and dispatches on the
// action. Validation failures come back as *ValidationError so the caller
// knows not to retry.
func (p *AlertProcessor) Process(ctx context.Context, alert *domain.Alert) (*ExecutionResult, error) {
	acc, err := p.accounts.GetAccountByName(ctx, alert.Account)
	if err != nil {
		return nil, fmt.Errorf("resolve account %q: %w", alert.Account, err)
	}
	if acc == nil || !acc.IsActive {
		return nil, &domain.CredentialError{Account: alert.Account, Msg: "account not found or inactive"}
	}

	// Account-level defaults win over the global ones but lose to values the
	// alert carries explicitly.
	if alert.RiskPercentage == 0 && acc.RiskPercentage > 0 {
		alert.RiskPercentage = acc.RiskPercentage
	}
	if alert.Leverage == 0 && acc.Leverage > 0 {
		alert.Leverage = int(acc.Leverage)
	}
	alert.Normalize()
	if err := alert.Validate(); err != nil {
		return nil, err
	}

	ec := &executionContext{alert: alert}
	ec.target, err = p.resolveRef(acc)
	if err != nil {
		return nil, err
	}
	if ec.target.IsMain() {
		ec.main = ec.target
	} else {
		mainAcc, err := p.accounts.GetAccountByName(ctx, p.mainAccount)
		if err != nil {
			return nil, fmt.Errorf("resolve main account %q: %w", p.mainAccount, err)
		}
		if mainAcc == nil {
			return nil, &domain.CredentialError{Account: p.mainAccount, Msg: "main account not found"}
		}
		ec.main, err = p.resolveRef(mainAcc)
		if err != nil {
			return nil, err
		}
	}

	p.logger.Info("Processing alert",
		zap.String("alert_id", alert.ID),
		zap.String("account", alert.Account),
		zap.String("action", string(alert.Action)),
		zap.String("symbol", alert.Symbol))

	switch alert.Action {
	case domain.ActionOpen:
		return p.handleOpen(ctx, ec)
	case domain.ActionSell:
		return p.handleSell(ctx, ec)
	case domain.ActionClose:
		return p.handleClose(ctx, ec)
	case domain.ActionTrailSL:
		return p.handleTrailSL(ctx, ec)
	default:
		return nil, domain.NewValidationError("unsupported action: %q", alert.Action)
	}
}

func (p *AlertProcessor) resolveRef(acc *domain.Account) (domain.AccountRef, error) {
	creds := acc.Credentials()
	if !creds.Complete() {
		return domain.AccountRef{}, &domain.CredentialError{Account: acc.Name, Msg: "missing API key or secret"}
	}
	return domain.AccountRef{
		Name:    acc.Name,
		Role:    acc.Role,
		Gateway: p.factory(creds),
	}, nil
}

func (p *AlertProcessor) ensureUID(ctx context.Context, ref *domain.AccountRef) error {
	if ref.UID != "" {
		return nil
	}
	uid, err := ref.Gateway.GetAccountUID(ctx)
	if err != nil {
		return fmt.Errorf("fetch UID for %q: %w", ref.Name, err)
	}
	ref.UID = uid
	return nil
}

// handleOpen sizes a derivatives entry against the main wallet, funds the
// sub-account when the target is not main, then places the market entry with
// its protective stop and the take-profit ladder.
func (p *AlertProcessor) handleOpen(ctx context.Context, ec *executionContext) (*ExecutionResult, error) {
	a := ec.alert

	distance, err := StopLossDistance(a.EntryPrice, a.StopLoss, a.Side)
	if err != nil {
		return nil, err
	}

	balance, err := ec.main.Gateway.GetWalletBalance(ctx, p.quoteCoin)
	if err != nil {
		return nil, fmt.Errorf("main wallet balance: %w", err)
	}

	size := PositionSize(balance, a.RiskPercentage, distance, float64(a.Leverage), a.CommissionPercentage)
	if size <= 0 {
		return nil, fmt.Errorf("insufficient balance %.2f %s to size position", balance, p.quoteCoin)
	}

	// Instrument checks run before the funding transfer; a bad symbol must
	// not strand capital on the sub-account.
	inst, err := ec.target.Gateway.GetInstrumentInfo(ctx, a.Symbol, categoryLinear)
	if err != nil {
		return nil, fmt.Errorf("instrument info: %w", err)
	}
	if inst == nil {
		return nil, domain.NewValidationError("unknown instrument %s", a.Symbol)
	}
	qty := roundToStep(size/a.EntryPrice, inst.QtyStep)
	if inst.MinOrderQty > 0 && qty < inst.MinOrderQty {
		return nil, domain.NewValidationError("qty %.8f below minimum order qty %.8f for %s", qty, inst.MinOrderQty, a.Symbol)
	}

	result := &ExecutionResult{
		AlertID: a.ID,
		Account: a.Account,
		Action:  string(a.Action),
		Symbol:  a.Symbol,
	}

	if !ec.target.IsMain() {
		if err := p.ensureUID(ctx, &ec.main); err != nil {
			return nil, err
		}
		if err := p.ensureUID(ctx, &ec.target); err != nil {
			return nil, err
		}
		status := p.transfers.TransferUIDs(ctx, ec.main.Gateway, ec.main.UID, ec.target.UID, size, p.quoteCoin)
		if status != TransferSuccess {
			return nil, &domain.TransferError{Status: string(status), From: ec.main.Name, To: ec.target.Name}
		}
		result.TransferAmount = size
	}

	// Margin mode and leverage are account-sticky; the exchange rejects a
	// no-op change with a dedicated retCode, so failures here only get logged.
	if err := ec.target.Gateway.SetMarginMode(ctx, a.Symbol, a.MarginType, a.Leverage); err != nil {
		p.logger.Warn("Set margin mode failed", zap.String("symbol", a.Symbol), zap.Error(err))
	}
	if err := ec.target.Gateway.SetLeverage(ctx, a.Symbol, a.Leverage); err != nil {
		p.logger.Warn("Set leverage failed", zap.String("symbol", a.Symbol), zap.Error(err))
	}

	side := domain.SideBuy
	if a.Side == domain.PositionShort {
		side = domain.SideSell
	}

	orderID, err := ec.target.Gateway.PlaceOrder(ctx, domain.OrderRequest{
		Category:    categoryLinear,
		Symbol:      a.Symbol,
		Side:        side,
		OrderType:   "Market",
		Qty:         qty,
		StopLoss:    a.StopLoss,
		TimeInForce: "GTC",
		MarketUnit:  "baseCoin",
	})
	if err != nil {
		return nil, fmt.Errorf("place entry order: %w", err)
	}

	p.logger.Info("Entry order placed",
		zap.String("alert_id", a.ID),
		zap.String("order_id", orderID),
		zap.String("symbol", a.Symbol),
		zap.Float64("qty", qty),
		zap.Float64("stop_loss", a.StopLoss))

	if len(a.TPs) > 0 {
		if err := p.placeTakeProfits(ctx, ec, side.Opposite(), qty); err != nil {
			// Position is already open; a failed ladder must not fail the alert.
			p.logger.Error("Take-profit ladder failed", zap.String("alert_id", a.ID), zap.Error(err))
			result.Message = "take-profit ladder failed: " + err.Error()
		}
	}

	result.Status = StatusExecuted
	result.OrderID = orderID
	result.Qty = qty
	return result, nil
}

func (p *AlertProcessor) placeTakeProfits(ctx context.Context, ec *executionContext, side domain.Side, qty float64) error {
	a := ec.alert
	reqs := make([]domain.OrderRequest, 0, len(a.TPs))
	for i, tp := range a.TPs {
		reqs = append(reqs, domain.OrderRequest{
			Category:    categoryLinear,
			Symbol:      a.Symbol,
			Side:        side,
			OrderType:   "Limit",
			Qty:         qty * a.TPSizes[i] / 100,
			Price:       tp,
			TimeInForce: "GTC",
			ReduceOnly:  true,
		})
	}
	ids, err := ec.target.Gateway.PlaceBatchOrders(ctx, categoryLinear, reqs)
	if err != nil {
		return err
	}
	p.logger.Info("Take-profit ladder placed",
		zap.String("alert_id", a.ID),
		zap.String("symbol", a.Symbol),
		zap.Int("orders", len(ids)))
	return nil
}

// handleSell liquidates the spot holding of the symbol's base coin. On
// sub-accounts the freed quote balance is swept back to main afterwards; a
// failed sweep is logged, the realtime wallet sweep will pick it up later.
func (p *AlertProcessor) handleSell(ctx context.Context, ec *executionContext) (*ExecutionResult, error) {
	a := ec.alert
	base := strings.TrimSuffix(a.Symbol, p.quoteCoin)

	balance, err := ec.target.Gateway.GetWalletBalance(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("wallet balance for %s: %w", base, err)
	}

	result := &ExecutionResult{
		AlertID: a.ID,
		Account: a.Account,
		Action:  string(a.Action),
		Symbol:  a.Symbol,
	}

	if balance <= 0 {
		p.logger.Info("Nothing to sell", zap.String("account", a.Account), zap.String("coin", base))
		result.Status = StatusNothingToSell
		return result, nil
	}

	orderID, err := ec.target.Gateway.PlaceOrder(ctx, domain.OrderRequest{
		Category:   categorySpot,
		Symbol:     a.Symbol,
		Side:       domain.SideSell,
		OrderType:  "Market",
		Qty:        balance,
		MarketUnit: "baseCoin",
	})
	if err != nil {
		return nil, fmt.Errorf("place spot sell order: %w", err)
	}

	p.logger.Info("Spot sell order placed",
		zap.String("alert_id", a.ID),
		zap.String("order_id", orderID),
		zap.Float64("qty", balance))

	if !ec.target.IsMain() {
		if quoteBal, err := ec.target.Gateway.GetWalletBalance(ctx, p.quoteCoin); err != nil {
			p.logger.Warn("Post-sell balance check failed", zap.String("account", a.Account), zap.Error(err))
		} else if quoteBal > 0 {
			if err := p.ensureUID(ctx, &ec.main); err == nil {
				if err := p.ensureUID(ctx, &ec.target); err == nil {
					status := p.transfers.TransferUIDs(ctx, ec.main.Gateway, ec.target.UID, ec.main.UID, quoteBal, p.quoteCoin)
					if status == TransferSuccess {
						result.TransferAmount = quoteBal
					} else {
						p.logger.Warn("Post-sell sweep failed",
							zap.String("account", a.Account),
							zap.String("status", string(status)))
					}
				}
			}
		}
	}

	result.Status = StatusExecuted
	result.OrderID = orderID
	result.Qty = balance
	return result, nil
}

// handleClose cancels all working orders for the symbol and flattens whatever
// position remains with a reduce-only market order.
func (p *AlertProcessor) handleClose(ctx context.Context, ec *executionContext) (*ExecutionResult, error) {
	a := ec.alert

	// Orders are cancelled even when no position exists; a stale ladder with
	// no position behind it is exactly what CLOSE is for.
	if err := ec.target.Gateway.CancelAllOrders(ctx, a.Symbol, categoryLinear); err != nil {
		p.logger.Warn("Cancel all orders failed", zap.String("symbol", a.Symbol), zap.Error(err))
	}

	result := &ExecutionResult{
		AlertID: a.ID,
		Account: a.Account,
		Action:  string(a.Action),
		Symbol:  a.Symbol,
	}

	pos, err := ec.target.Gateway.GetPositionInfo(ctx, a.Symbol, categoryLinear)
	if err != nil {
		return nil, fmt.Errorf("position info: %w", err)
	}
	if pos == nil || pos.Size == 0 {
		p.logger.Info("No position to close", zap.String("account", a.Account), zap.String("symbol", a.Symbol))
		result.Status = StatusNoPosition
		return result, nil
	}

	orderID, err := ec.target.Gateway.PlaceOrder(ctx, domain.OrderRequest{
		Category:   categoryLinear,
		Symbol:     a.Symbol,
		Side:       pos.Side.Opposite(),
		OrderType:  "Market",
		Qty:        pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("place close order: %w", err)
	}

	p.logger.Info("Position closed",
		zap.String("alert_id", a.ID),
		zap.String("order_id", orderID),
		zap.String("symbol", a.Symbol),
		zap.Float64("qty", pos.Size))

	result.Status = StatusExecuted
	result.OrderID = orderID
	result.Qty = pos.Size
	return result, nil
}

// handleTrailSL moves the position's stop loss. The new stop must still be on
// the protective side of the current mark, otherwise the exchange would treat
// it as an immediate close.
func (p *AlertProcessor) handleTrailSL(ctx context.Context, ec *executionContext) (*ExecutionResult, error) {
	a := ec.alert

	result := &ExecutionResult{
		AlertID: a.ID,
		Account: a.Account,
		Action:  string(a.Action),
		Symbol:  a.Symbol,
	}

	pos, err := ec.target.Gateway.GetPositionInfo(ctx, a.Symbol, categoryLinear)
	if err != nil {
		return nil, fmt.Errorf("position info: %w", err)
	}
	if pos == nil || pos.Size == 0 {
		p.logger.Info("No position for trailing stop", zap.String("account", a.Account), zap.String("symbol", a.Symbol))
		result.Status = StatusNoPosition
		return result, nil
	}

	price, err := ec.target.Gateway.GetCurrentPrice(ctx, a.Symbol)
	if err != nil {
		return nil, fmt.Errorf("current price: %w", err)
	}

	switch pos.Side {
	case domain.SideBuy:
		if a.StopLoss >= price {
			return nil, domain.NewValidationError("stop loss %.8f must stay below current price %.8f for long positions", a.StopLoss, price)
		}
	case domain.SideSell:
		if a.StopLoss <= price {
			return nil, domain.NewValidationError("stop loss %.8f must stay above current price %.8f for short positions", a.StopLoss, price)
		}
	}

	if err := ec.target.Gateway.SetTradingStop(ctx, a.Symbol, pos.PositionIdx, a.StopLoss); err != nil {
		return nil, fmt.Errorf("set trading stop: %w", err)
	}

	p.logger.Info("Stop loss updated",
		zap.String("alert_id", a.ID),
		zap.String("symbol", a.Symbol),
		zap.Float64("stop_loss", a.StopLoss))

	result.Status = StatusStopUpdated
	return result, nil
}

// roundToStep floors qty to a multiple of step. Flooring, not rounding: the
// sized amount is the most capital the trade may use.
func roundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	out, _ := q.Div(s).Floor().Mul(s).Float64()
	return out
}
