package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/trade_alert_engine/internal/domain"
	"github.com/vitos/trade_alert_engine/internal/usecase"
	"go.uber.org/zap"
)

type runnerFixture struct {
	runner   *usecase.TaskRunner
	accounts *MockAccountSource
	gw       *MockGateway
	alertLog *MockAlertLog
	pub      *MockPublisher
}

func newRunnerFixture() *runnerFixture {
	gw := &MockGateway{
		UID: "100", TransferStatus: "SUCCESS", OrderID: "ord-1",
		Instrument: &domain.Instrument{Symbol: "BTCUSDT"},
	}
	accounts := &MockAccountSource{Accounts: map[string]*domain.Account{
		"main": {
			Name: "main", Role: domain.RoleMain,
			APIKey: "mk", APISecret: "ms",
			RiskPercentage: 1, IsActive: true,
		},
	}}
	factory := func(creds domain.Credentials) domain.Gateway { return gw }
	transfers := usecase.NewTransferManager(factory, zap.NewNop())
	processor := usecase.NewAlertProcessor(accounts, factory, transfers, zap.NewNop(), "main", "USDT")

	alertLog := &MockAlertLog{}
	pub := &MockPublisher{}
	runner := usecase.NewTaskRunner(processor, alertLog, pub, zap.NewNop())
	runner.SetRetryPolicy(3, time.Millisecond)
	return &runnerFixture{runner: runner, accounts: accounts, gw: gw, alertLog: alertLog, pub: pub}
}

func marshalAlert(t *testing.T, alert *domain.Alert) []byte {
	t.Helper()
	raw, err := json.Marshal(alert)
	require.NoError(t, err)
	return raw
}

func TestRun_UndecodablePayloadNotRetried(t *testing.T) {
	f := newRunnerFixture()

	err := f.runner.Run(context.Background(), []byte("{not json"))
	require.Error(t, err)
	assert.Zero(t, f.accounts.ByNameCalls)
	assert.Empty(t, f.alertLog.Entries)
}

func TestRun_ValidationFailureSingleAttempt(t *testing.T) {
	f := newRunnerFixture()
	raw := marshalAlert(t, &domain.Alert{
		ID: "a1", Account: "main", Action: domain.ActionOpen,
		Symbol: "BTCUSDT", Side: "sideways", EntryPrice: 100, StopLoss: 95,
	})

	err := f.runner.Run(context.Background(), raw)
	require.Error(t, err)
	assert.Equal(t, 1, f.accounts.ByNameCalls, "validation failures must not be retried")
}

func TestRun_RetryableFailureUsesAllAttempts(t *testing.T) {
	f := newRunnerFixture()
	f.accounts.Err = errors.New("db unavailable")
	raw := marshalAlert(t, &domain.Alert{
		ID: "a1", Account: "main", Action: domain.ActionClose, Symbol: "BTCUSDT",
	})

	err := f.runner.Run(context.Background(), raw)
	require.Error(t, err)
	assert.Equal(t, 3, f.accounts.ByNameCalls)
}

func TestRun_SuccessLogsAndPublishes(t *testing.T) {
	f := newRunnerFixture()
	f.gw.Balances = map[string]float64{"USDT": 1000}
	raw := marshalAlert(t, &domain.Alert{
		ID: "a1", Account: "main", Action: domain.ActionOpen,
		Symbol: "BTCUSDT", Side: domain.PositionLong, EntryPrice: 100, StopLoss: 95,
	})

	err := f.runner.Run(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, raw, f.alertLog.Entries["a1"])
	require.NotEmpty(t, f.pub.Logs)
	assert.Contains(t, f.pub.Logs[0], "executed")
}

func TestRun_AssignsAlertID(t *testing.T) {
	f := newRunnerFixture()
	raw := marshalAlert(t, &domain.Alert{
		Account: "main", Action: domain.ActionClose, Symbol: "BTCUSDT",
	})

	err := f.runner.Run(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, f.alertLog.Entries, 1)
	for id := range f.alertLog.Entries {
		assert.NotEmpty(t, id)
	}
}

func TestRun_AlertLogFailureDoesNotBlockExecution(t *testing.T) {
	f := newRunnerFixture()
	f.alertLog.Err = errors.New("disk full")
	raw := marshalAlert(t, &domain.Alert{
		ID: "a1", Account: "main", Action: domain.ActionClose, Symbol: "BTCUSDT",
	})

	err := f.runner.Run(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, 1, f.accounts.ByNameCalls)
}
