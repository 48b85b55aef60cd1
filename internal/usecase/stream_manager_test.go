package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/trade_alert_engine/internal/domain"
	"github.com/vitos/trade_alert_engine/internal/usecase"
	"go.uber.org/zap"
)

type streamFixture struct {
	manager  *usecase.StreamManager
	accounts *MockAccountSource
	store    *MockTradeStore
	pub      *MockPublisher
	mainGW   *MockGateway
	subGW    *MockGateway
	streams  map[string]*MockStream
	cancel   context.CancelFunc
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()

	mainGW := &MockGateway{UID: "100", TransferStatus: "SUCCESS"}
	subGW := &MockGateway{
		UID:            "200",
		TransferStatus: "SUCCESS",
		Transferable:   map[string]string{"USDT": "100.00"},
	}

	accounts := &MockAccountSource{Accounts: map[string]*domain.Account{
		"main": {
			Name: "main", Role: domain.RoleMain,
			APIKey: "mk", APISecret: "ms", IsActive: true,
		},
		"sub1": {
			Name: "sub1", Role: domain.RoleSub,
			APIKey: "sk", APISecret: "ss", IsActive: true,
		},
	}}

	factory := func(creds domain.Credentials) domain.Gateway {
		if creds.APIKey == "mk" {
			return mainGW
		}
		return subGW
	}

	var streamsMu sync.Mutex
	streams := make(map[string]*MockStream)
	streamFactory := func(account string, creds domain.Credentials, handler domain.StreamHandler) domain.PrivateStream {
		streamsMu.Lock()
		defer streamsMu.Unlock()
		if s, ok := streams[account]; ok {
			return s
		}
		s := &MockStream{}
		streams[account] = s
		return s
	}

	store := &MockTradeStore{}
	pub := &MockPublisher{}
	transfers := usecase.NewTransferManager(factory, zap.NewNop())
	manager := usecase.NewStreamManager(accounts, factory, streamFactory, transfers, store, pub, zap.NewNop(), usecase.StreamConfig{
		MainAccount:         "main",
		SweepThreshold:      5,
		HealthCheckInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)
	t.Cleanup(cancel)

	require.Eventually(t, func() bool {
		streamsMu.Lock()
		defer streamsMu.Unlock()
		return len(streams) == 2
	}, time.Second, 5*time.Millisecond, "both account streams should connect")

	return &streamFixture{
		manager: manager, accounts: accounts, store: store, pub: pub,
		mainGW: mainGW, subGW: subGW, streams: streams, cancel: cancel,
	}
}

func orderEvent(orderID string) map[string]interface{} {
	return map[string]interface{}{
		"orderId":     orderID,
		"symbol":      "BTCUSDT",
		"side":        "Buy",
		"orderType":   "Market",
		"price":       "100.5",
		"qty":         "0.25",
		"orderStatus": "Filled",
		"avgPrice":    "100.6",
		"cumExecQty":  "0.25",
		"category":    "linear",
		"createdTime": "1700000000000",
		"updatedTime": "1700000001000",
	}
}

func TestHandleOrderEvent_Reconciles(t *testing.T) {
	f := newStreamFixture(t)

	f.manager.HandleOrderEvent("sub1", orderEvent("ord-1"))

	trade := f.store.Get("ord-1")
	require.NotNil(t, trade)
	assert.Equal(t, "sub1", trade.AccountName)
	assert.Equal(t, "BTCUSDT", trade.Symbol)
	assert.Equal(t, "Filled", trade.Status)
	require.NotNil(t, trade.Price)
	assert.Equal(t, 100.5, *trade.Price)
	require.NotNil(t, trade.CreatedTime)
	assert.Equal(t, int64(1700000000000), trade.CreatedTime.UnixMilli())
	require.Len(t, f.pub.Trades, 1)
}

func TestHandleOrderEvent_RedeliveryIsIdempotent(t *testing.T) {
	f := newStreamFixture(t)

	f.manager.HandleOrderEvent("sub1", orderEvent("ord-1"))
	ev := orderEvent("ord-1")
	ev["orderStatus"] = "PartiallyFilled"
	f.manager.HandleOrderEvent("sub1", ev)

	assert.Equal(t, 1, f.store.Count())
	assert.Equal(t, "PartiallyFilled", f.store.Get("ord-1").Status)
}

func TestHandleOrderEvent_EmptyNumericsDegradeToNull(t *testing.T) {
	f := newStreamFixture(t)

	ev := orderEvent("ord-2")
	ev["price"] = ""
	ev["avgPrice"] = ""
	f.manager.HandleOrderEvent("sub1", ev)

	trade := f.store.Get("ord-2")
	require.NotNil(t, trade)
	assert.Nil(t, trade.Price)
	assert.Nil(t, trade.AvgPrice)
	assert.Equal(t, "Filled", trade.Status)
}

func TestHandleOrderEvent_MissingOrderIDDropped(t *testing.T) {
	f := newStreamFixture(t)

	ev := orderEvent("")
	delete(ev, "orderId")
	f.manager.HandleOrderEvent("sub1", ev)

	assert.Zero(t, f.store.Count())
}

func TestHandleWalletEvent_MainAccountNeverSwept(t *testing.T) {
	f := newStreamFixture(t)

	f.manager.HandleWalletEvent("main", map[string]interface{}{"totalPerpUPL": "0"})
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, f.subGW.TransferCallCount())
	assert.Zero(t, f.mainGW.TransferCallCount())
}

func TestHandleWalletEvent_SweepsFullAmountWhenFlat(t *testing.T) {
	f := newStreamFixture(t)

	f.manager.HandleWalletEvent("sub1", map[string]interface{}{"totalPerpUPL": "0"})

	require.Eventually(t, func() bool {
		return f.subGW.TransferCallCount() == 1
	}, time.Second, 5*time.Millisecond)

	call := f.subGW.TransferCalls[0]
	assert.Equal(t, "200", call.FromUID)
	assert.Equal(t, "100", call.ToUID)
	assert.Equal(t, 100.0, call.Amount)
}

func TestHandleWalletEvent_BuffersWithOpenExposure(t *testing.T) {
	f := newStreamFixture(t)

	f.manager.HandleWalletEvent("sub1", map[string]interface{}{"totalPerpUPL": "12.5"})

	require.Eventually(t, func() bool {
		return f.subGW.TransferCallCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 95.0, f.subGW.TransferCalls[0].Amount)
}

func TestHandleWalletEvent_BelowThresholdSkipped(t *testing.T) {
	f := newStreamFixture(t)
	f.subGW.Transferable = map[string]string{"USDT": "4.50"}

	f.manager.HandleWalletEvent("sub1", map[string]interface{}{"totalPerpUPL": "0"})
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, f.subGW.TransferCallCount())
}

func TestReconcile_DeactivatedAccountStreamClosed(t *testing.T) {
	f := newStreamFixture(t)
	sub := f.streams["sub1"]

	f.accounts.SetActive("sub1", false)

	require.Eventually(t, func() bool {
		return sub.CloseCount() > 0
	}, time.Second, 5*time.Millisecond, "deactivated account must lose its stream")

	// the registry entry is gone too, so wallet pushes for it do nothing
	f.manager.HandleWalletEvent("sub1", map[string]interface{}{"totalPerpUPL": "0"})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.subGW.TransferCallCount())
}

func TestHandleWalletEvent_MainRoleExcludedRegardlessOfName(t *testing.T) {
	mainGW := &MockGateway{
		UID:            "100",
		TransferStatus: "SUCCESS",
		Transferable:   map[string]string{"USDT": "100.00"},
	}
	accounts := &MockAccountSource{Accounts: map[string]*domain.Account{
		"primary": {
			Name: "primary", Role: domain.RoleMain,
			APIKey: "mk", APISecret: "ms", IsActive: true,
		},
	}}
	factory := func(creds domain.Credentials) domain.Gateway { return mainGW }
	ms := &MockStream{}
	streamFactory := func(account string, creds domain.Credentials, handler domain.StreamHandler) domain.PrivateStream {
		return ms
	}
	transfers := usecase.NewTransferManager(factory, zap.NewNop())
	manager := usecase.NewStreamManager(accounts, factory, streamFactory, transfers, &MockTradeStore{}, &MockPublisher{}, zap.NewNop(), usecase.StreamConfig{
		MainAccount:         "main",
		HealthCheckInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)
	t.Cleanup(cancel)

	require.Eventually(t, func() bool {
		return ms.ConnectCount() > 0
	}, time.Second, 5*time.Millisecond)

	manager.HandleWalletEvent("primary", map[string]interface{}{"totalPerpUPL": "0"})
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, mainGW.TransferCallCount(),
		"a main-role account must never be a sweep source, whatever its name")
}

// blockingStream holds Connect until released, standing in for a dial that
// hangs on a dead endpoint.
type blockingStream struct {
	release chan struct{}
}

func (b *blockingStream) Connect(ctx context.Context) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func (b *blockingStream) Close() error { return nil }

func TestReconcile_SlowDialDoesNotBlockHandlers(t *testing.T) {
	mainGW := &MockGateway{UID: "100"}
	accounts := &MockAccountSource{Accounts: map[string]*domain.Account{
		"main": {
			Name: "main", Role: domain.RoleMain,
			APIKey: "mk", APISecret: "ms", IsActive: true,
		},
		"sub1": {
			Name: "sub1", Role: domain.RoleSub,
			APIKey: "sk", APISecret: "ss", IsActive: true,
		},
	}}
	factory := func(creds domain.Credentials) domain.Gateway { return mainGW }

	stuck := &blockingStream{release: make(chan struct{})}
	mainStream := &MockStream{}
	streamFactory := func(account string, creds domain.Credentials, handler domain.StreamHandler) domain.PrivateStream {
		if account == "sub1" {
			return stuck
		}
		return mainStream
	}

	transfers := usecase.NewTransferManager(factory, zap.NewNop())
	store := &MockTradeStore{}
	manager := usecase.NewStreamManager(accounts, factory, streamFactory, transfers, store, &MockPublisher{}, zap.NewNop(), usecase.StreamConfig{
		MainAccount:         "main",
		HealthCheckInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Start(ctx)
	t.Cleanup(func() { close(stuck.release) })

	require.Eventually(t, func() bool {
		return mainStream.ConnectCount() > 0
	}, time.Second, 5*time.Millisecond)

	// sub1's dial is still hanging; event handling must not wait on it
	done := make(chan struct{})
	go func() {
		defer close(done)
		ev := orderEvent("ord-slow")
		ev["symbol"] = "ETHUSDT"
		manager.HandleOrderEvent("main", ev)
		manager.HandleDisconnect("main", assert.AnError)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event handlers blocked behind an in-flight dial")
	}
	assert.Equal(t, 1, store.Count())
}

func TestHandleDisconnect_Reconnects(t *testing.T) {
	f := newStreamFixture(t)
	sub := f.streams["sub1"]
	before := sub.ConnectCount()

	f.manager.HandleDisconnect("sub1", assert.AnError)

	require.Eventually(t, func() bool {
		return sub.ConnectCount() > before
	}, time.Second, 5*time.Millisecond, "health check should redial a dropped stream")
}
