package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/trade_alert_engine/internal/domain"
	"github.com/vitos/trade_alert_engine/internal/infrastructure/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return store
}

func floatPtr(v float64) *float64 { return &v }

func TestUpsertTrade_InsertThenOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := &domain.Trade{
		OrderID:     "ord-1",
		AccountName: "sub1",
		Symbol:      "BTCUSDT",
		Side:        "Buy",
		Status:      "New",
		Price:       floatPtr(100.5),
	}
	require.NoError(t, store.UpsertTrade(ctx, trade))

	trade.Status = "Filled"
	trade.AvgPrice = floatPtr(100.6)
	require.NoError(t, store.UpsertTrade(ctx, trade))

	trades, err := store.ListTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "Filled", trades[0].Status)
	require.NotNil(t, trades[0].AvgPrice)
	assert.Equal(t, 100.6, *trades[0].AvgPrice)
}

func TestUpsertTrade_NullNumerics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTrade(ctx, &domain.Trade{
		OrderID: "ord-2",
		Symbol:  "ETHUSDT",
	}))

	trades, err := store.ListTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Nil(t, trades[0].Price)
	assert.Nil(t, trades[0].Qty)
}

func TestGetAccountByName_MissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	acc, err := store.GetAccountByName(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestGetActiveAccounts_FiltersInactive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// the accounts table is maintained externally, seed it directly
	db := store.DB()
	require.NoError(t, db.Create(&domain.Account{
		Name: "main", Role: domain.RoleMain, APIKey: "k", APISecret: "s",
		IsActive: true, CreatedAt: time.Now(),
	}).Error)
	require.NoError(t, db.Create(&domain.Account{
		Name: "dormant", Role: domain.RoleSub, APIKey: "k2", APISecret: "s2",
		IsActive: false, CreatedAt: time.Now(),
	}).Error)

	active, err := store.GetActiveAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "main", active[0].Name)

	byName, err := store.GetAccountByName(ctx, "dormant")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.False(t, byName.IsActive)
}

func TestAppendAlertLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendAlertLog(ctx, "a1", []byte(`{"action":"OPEN"}`)))
	require.NoError(t, store.AppendAlertLog(ctx, "a1", []byte(`{"action":"OPEN"}`)))
}
