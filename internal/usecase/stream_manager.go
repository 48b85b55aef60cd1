package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/trade_alert_engine/internal/domain"
	"github.com/vitos/trade_alert_engine/internal/metrics"
	"go.uber.org/zap"
)

// StreamConfig tunes the realtime layer. Zero values are replaced by the
// defaults below.
type StreamConfig struct {
	MainAccount         string
	QuoteCoin           string
	SweepThreshold      float64
	SafetyBuffer        float64
	HealthCheckInterval time.Duration
	MaxSweepWorkers     int
}

const (
	defaultSweepThreshold      = 5.0
	defaultSafetyBuffer        = 0.95
	defaultHealthCheckInterval = 30 * time.Second
	defaultMaxSweepWorkers     = 4
)

func (c *StreamConfig) applyDefaults() {
	if c.QuoteCoin == "" {
		c.QuoteCoin = defaultQuoteCoin
	}
	if c.SweepThreshold == 0 {
		c.SweepThreshold = defaultSweepThreshold
	}
	if c.SafetyBuffer == 0 {
		c.SafetyBuffer = defaultSafetyBuffer
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
	if c.MaxSweepWorkers == 0 {
		c.MaxSweepWorkers = defaultMaxSweepWorkers
	}
}

type accountConn struct {
	stream    domain.PrivateStream
	creds     domain.Credentials
	role      domain.AccountRole
	connected bool
}

// StreamManager owns one private stream per active account. Order events are
// reconciled into the trade store; wallet events on sub-accounts trigger a
// sweep of idle quote balance back to the main account. A periodic health
// check reconnects dropped streams and picks up newly activated accounts.
type StreamManager struct {
	accounts  domain.AccountSource
	factory   domain.GatewayFactory
	streams   domain.StreamFactory
	transfers *TransferManager
	store     domain.TradeStore
	publisher domain.Publisher
	logger    *zap.Logger
	cfg       StreamConfig

	mu    sync.Mutex
	conns map[string]*accountConn

	mainCreds domain.Credentials
	sweepSem  chan struct{}
	wg        sync.WaitGroup
}

func NewStreamManager(accounts domain.AccountSource, factory domain.GatewayFactory, streams domain.StreamFactory, transfers *TransferManager, store domain.TradeStore, publisher domain.Publisher, logger *zap.Logger, cfg StreamConfig) *StreamManager {
	cfg.applyDefaults()
	return &StreamManager{
		accounts:  accounts,
		factory:   factory,
		streams:   streams,
		transfers: transfers,
		store:     store,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		conns:     make(map[string]*accountConn),
		sweepSem:  make(chan struct{}, cfg.MaxSweepWorkers),
	}
}

// Start connects every active account and blocks in the supervision loop
// until ctx is cancelled.
func (m *StreamManager) Start(ctx context.Context) error {
	if err := m.reconcileConnections(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return ctx.Err()
		case <-ticker.C:
			if err := m.reconcileConnections(ctx); err != nil {
				m.logger.Error("Stream health check failed", zap.Error(err))
			}
		}
	}
}

// reconcileConnections brings the connection set in line with the accounts
// table: new or dropped accounts get a fresh stream, deactivated or deleted
// accounts lose theirs, healthy ones are left alone. Network dials happen
// outside the registry lock so a slow handshake cannot stall event handling.
func (m *StreamManager) reconcileConnections(ctx context.Context) error {
	accts, err := m.accounts.GetActiveAccounts(ctx)
	if err != nil {
		return err
	}

	active := make(map[string]bool, len(accts))
	var pending []*domain.Account

	m.mu.Lock()
	for _, acc := range accts {
		creds := acc.Credentials()
		if !creds.Complete() {
			m.logger.Warn("Skipping account with incomplete credentials", zap.String("account", acc.Name))
			continue
		}
		active[acc.Name] = true
		if acc.Role == domain.RoleMain || acc.Name == m.cfg.MainAccount {
			m.mainCreds = creds
		}

		conn, ok := m.conns[acc.Name]
		if ok && conn.connected {
			continue
		}
		if ok && conn.stream != nil {
			conn.stream.Close()
		}
		pending = append(pending, acc)
	}
	for name, conn := range m.conns {
		if active[name] {
			continue
		}
		if conn.stream != nil {
			conn.stream.Close()
		}
		delete(m.conns, name)
		metrics.StreamConnected(name, false)
		m.logger.Info("Stream closed for removed account", zap.String("account", name))
	}
	m.mu.Unlock()

	// Main connects ahead of the subs so its stream is live before their
	// wallet events start arriving.
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Role == domain.RoleMain && pending[j].Role != domain.RoleMain
	})

	for _, acc := range pending {
		creds := acc.Credentials()
		stream := m.streams(acc.Name, creds, m)
		connected := true
		if err := stream.Connect(ctx); err != nil {
			m.logger.Error("Stream connect failed", zap.String("account", acc.Name), zap.Error(err))
			connected = false
		} else {
			m.logger.Info("Stream connected", zap.String("account", acc.Name))
		}
		metrics.StreamConnected(acc.Name, connected)

		m.mu.Lock()
		m.conns[acc.Name] = &accountConn{
			stream:    stream,
			creds:     creds,
			role:      acc.Role,
			connected: connected,
		}
		m.mu.Unlock()
	}
	return nil
}

// Stop closes every stream and waits for in-flight sweeps to finish.
func (m *StreamManager) Stop() {
	m.mu.Lock()
	for name, conn := range m.conns {
		if conn.stream != nil {
			conn.stream.Close()
		}
		conn.connected = false
		metrics.StreamConnected(name, false)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// HandleOrderEvent reconciles one pushed order update into the trade store.
// The order id keys the row, so redelivery just rewrites the same record.
func (m *StreamManager) HandleOrderEvent(account string, event map[string]interface{}) {
	trade := mapOrderEvent(account, event)
	if trade.OrderID == "" {
		m.logger.Warn("Order event without orderId dropped", zap.String("account", account))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.UpsertTrade(ctx, trade); err != nil {
		m.logger.Error("Trade upsert failed",
			zap.String("account", account),
			zap.String("order_id", trade.OrderID),
			zap.Error(err))
		return
	}
	metrics.TradeUpserted()
	m.publisher.PublishTrade(ctx, trade)

	m.logger.Info("Trade reconciled",
		zap.String("account", account),
		zap.String("order_id", trade.OrderID),
		zap.String("symbol", trade.Symbol),
		zap.String("status", trade.Status))
}

// HandleWalletEvent checks a sub-account's balance push for sweepable quote
// funds. Sweeps run in a bounded worker pool; when the pool is saturated the
// event is dropped, the next wallet push retriggers it.
func (m *StreamManager) HandleWalletEvent(account string, event map[string]interface{}) {
	m.mu.Lock()
	conn, ok := m.conns[account]
	m.mu.Unlock()
	if !ok {
		return
	}
	// The main account is never a sweep source, whether identified by the
	// configured name or by its role in the accounts table.
	if account == m.cfg.MainAccount || conn.role == domain.RoleMain {
		return
	}

	upl := eventFloat(event, "totalPerpUPL")

	select {
	case m.sweepSem <- struct{}{}:
	default:
		m.logger.Debug("Sweep pool saturated, wallet event dropped", zap.String("account", account))
		metrics.SweepExecuted("skipped_busy")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.sweepSem }()
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		m.sweepAccount(ctx, account, upl)
	}()
}

// HandleDisconnect marks the account's stream down; the next health check
// reconnects it.
func (m *StreamManager) HandleDisconnect(account string, err error) {
	m.logger.Warn("Stream disconnected", zap.String("account", account), zap.Error(&domain.StreamError{Account: account, Err: err}))
	m.mu.Lock()
	if conn, ok := m.conns[account]; ok {
		conn.connected = false
	}
	m.mu.Unlock()
	metrics.StreamConnected(account, false)
}

// sweepAccount moves the account's idle quote balance back to main. With open
// exposure (non-zero unrealized PnL) only a buffered fraction of the
// transferable amount moves, so a fill between the query and the transfer
// cannot strand the position without margin.
func (m *StreamManager) sweepAccount(ctx context.Context, account string, unrealizedPnL float64) {
	m.mu.Lock()
	conn, ok := m.conns[account]
	mainCreds := m.mainCreds
	m.mu.Unlock()
	if !ok {
		metrics.SweepExecuted("unknown_account")
		return
	}
	if !mainCreds.Complete() {
		m.logger.Error("Sweep skipped, main account credentials unavailable", zap.String("account", account))
		metrics.SweepExecuted("no_main_credentials")
		return
	}

	gw := m.factory(conn.creds)
	amounts, err := gw.GetTransferableAmount(ctx, []string{m.cfg.QuoteCoin})
	if err != nil {
		m.logger.Error("Transferable amount query failed", zap.String("account", account), zap.Error(err))
		metrics.SweepExecuted("query_failed")
		return
	}
	transferable, err := strconv.ParseFloat(amounts[m.cfg.QuoteCoin], 64)
	if err != nil || transferable <= 0 {
		metrics.SweepExecuted("nothing_transferable")
		return
	}

	eligible := transferable
	if unrealizedPnL != 0 {
		eligible, _ = decimal.NewFromFloat(transferable).
			Mul(decimal.NewFromFloat(m.cfg.SafetyBuffer)).
			Round(2).Float64()
	}
	if eligible <= m.cfg.SweepThreshold {
		metrics.SweepExecuted("below_threshold")
		return
	}

	m.logger.Info("Sweeping idle balance to main",
		zap.String("account", account),
		zap.Float64("amount", eligible),
		zap.Float64("unrealized_pnl", unrealizedPnL))

	status := m.transfers.Transfer(ctx, conn.creds, mainCreds, eligible, m.cfg.QuoteCoin)
	if status != TransferSuccess {
		m.logger.Error("Sweep transfer failed",
			zap.String("account", account),
			zap.String("status", string(status)))
		metrics.SweepExecuted("transfer_failed")
		return
	}
	metrics.SweepExecuted("swept")
	m.publisher.PublishLog(ctx, "info", "swept idle balance from "+account)
}

// mapOrderEvent converts a raw pushed order update into a Trade. Every numeric
// arrives as a string and may be empty; unparseable values become NULL columns
// rather than dropping the event.
func mapOrderEvent(account string, event map[string]interface{}) *domain.Trade {
	raw, _ := json.Marshal(event)
	return &domain.Trade{
		OrderID:      eventString(event, "orderId"),
		AccountName:  account,
		Symbol:       eventString(event, "symbol"),
		Side:         eventString(event, "side"),
		OrderType:    eventString(event, "orderType"),
		Price:        eventFloatPtr(event, "price"),
		Qty:          eventFloatPtr(event, "qty"),
		Status:       eventString(event, "orderStatus"),
		AvgPrice:     eventFloatPtr(event, "avgPrice"),
		CumExecQty:   eventFloatPtr(event, "cumExecQty"),
		CumExecValue: eventFloatPtr(event, "cumExecValue"),
		CumExecFee:   eventFloatPtr(event, "cumExecFee"),
		ClosedPnL:    eventFloatPtr(event, "closedPnl"),
		Category:     eventString(event, "category"),
		CreatedTime:  eventTimePtr(event, "createdTime"),
		UpdatedTime:  eventTimePtr(event, "updatedTime"),
		RawEvent:     string(raw),
	}
}

func eventString(event map[string]interface{}, key string) string {
	if v, ok := event[key].(string); ok {
		return v
	}
	return ""
}

func eventFloat(event map[string]interface{}, key string) float64 {
	switch v := event[key].(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	}
	return 0
}

func eventFloatPtr(event map[string]interface{}, key string) *float64 {
	switch v := event[key].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &f
	case float64:
		return &v
	}
	return nil
}

func eventTimePtr(event map[string]interface{}, key string) *time.Time {
	ms := eventFloat(event, key)
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(int64(ms)).UTC()
	return &t
}
