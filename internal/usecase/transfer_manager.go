package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/trade_alert_engine/internal/domain"
	"github.com/vitos/trade_alert_engine/internal/metrics"
	"go.uber.org/zap"
)

type TransferStatus string

const (
	TransferSuccess            TransferStatus = "SUCCESS"
	TransferInvalidAmount      TransferStatus = "INVALID_AMOUNT"
	TransferMissingCredentials TransferStatus = "MISSING_CREDENTIALS"
	TransferUIDFetchFailed     TransferStatus = "UID_FETCH_FAILED"
	TransferFailed             TransferStatus = "TRANSFER_FAILED"
)

const defaultTransferRetries = 3

// Each failed attempt shrinks the requested amount by 0.5% to absorb
// exchange-side rounding and fee buffers that make the exact computed amount
// occasionally unavailable.
var transferShrinkFactor = decimal.NewFromFloat(0.995)

// TransferManager moves capital between two accounts with bounded
// retry-and-shrink. It returns terminal statuses instead of errors so callers
// can branch without exception-style control flow.
type TransferManager struct {
	factory    domain.GatewayFactory
	logger     *zap.Logger
	maxRetries int
}

func NewTransferManager(factory domain.GatewayFactory, logger *zap.Logger) *TransferManager {
	return &TransferManager{
		factory:    factory,
		logger:     logger,
		maxRetries: defaultTransferRetries,
	}
}

// Transfer resolves both accounts' UIDs and moves amount coin from one to the
// other. Used by the sweep path where only credentials are known.
func (m *TransferManager) Transfer(ctx context.Context, from, to domain.Credentials, amount float64, coin string) TransferStatus {
	if amount <= 0 {
		m.logger.Warn("Invalid transfer amount, transfer aborted", zap.Float64("amount", amount))
		return TransferInvalidAmount
	}
	if !from.Complete() || !to.Complete() {
		m.logger.Error("Incomplete credentials for transfer")
		return TransferMissingCredentials
	}

	fromGW := m.factory(from)
	toGW := m.factory(to)

	fromUID, err := fromGW.GetAccountUID(ctx)
	if err != nil {
		m.logger.Error("Failed to fetch source account UID", zap.Error(err))
		return TransferUIDFetchFailed
	}
	toUID, err := toGW.GetAccountUID(ctx)
	if err != nil {
		m.logger.Error("Failed to fetch destination account UID", zap.Error(err))
		return TransferUIDFetchFailed
	}

	return m.TransferUIDs(ctx, fromGW, fromUID, toUID, amount, coin)
}

// TransferUIDs runs the bounded retry-and-shrink sequence between two already
// resolved UIDs. One uuid is generated per logical transfer and reused across
// every retry, so a transfer that partially succeeded before reporting failure
// cannot be applied twice; only the amount may shrink between attempts.
func (m *TransferManager) TransferUIDs(ctx context.Context, gw domain.Gateway, fromUID, toUID string, amount float64, coin string) TransferStatus {
	if amount <= 0 {
		m.logger.Warn("Invalid transfer amount, transfer aborted", zap.Float64("amount", amount))
		return TransferInvalidAmount
	}

	transferID := uuid.NewString()
	current := decimal.NewFromFloat(amount).Round(2)

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		amt, _ := current.Float64()
		m.logger.Info("Initiating transfer",
			zap.String("transfer_id", transferID),
			zap.String("from_uid", fromUID),
			zap.String("to_uid", toUID),
			zap.Float64("amount", amt),
			zap.String("coin", coin),
			zap.Int("attempt", attempt))

		status, err := gw.TransferFunds(ctx, transferID, fromUID, toUID, amt, coin)
		if err == nil && status == string(TransferSuccess) {
			m.logger.Info("Transfer successful",
				zap.String("transfer_id", transferID),
				zap.Float64("amount", amt),
				zap.String("coin", coin))
			metrics.TransferCompleted(string(TransferSuccess))
			return TransferSuccess
		}
		if err != nil {
			m.logger.Warn("Transfer attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			m.logger.Warn("Transfer attempt rejected", zap.Int("attempt", attempt), zap.String("status", status))
		}

		if attempt < m.maxRetries {
			current = current.Mul(transferShrinkFactor).Round(2)
			m.logger.Info("Retrying transfer with reduced amount",
				zap.String("transfer_id", transferID),
				zap.String("amount", current.StringFixed(2)))
		}
	}

	m.logger.Error("Transfer failed after all attempts",
		zap.String("transfer_id", transferID),
		zap.Int("attempts", m.maxRetries))
	metrics.TransferCompleted(string(TransferFailed))
	return TransferFailed
}
