package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardenq/fleettrader/internal/config"
	"github.com/ardenq/fleettrader/internal/ipc"
	"github.com/ardenq/fleettrader/internal/position"
	"github.com/ardenq/fleettrader/internal/terminal"
)

const testDoc = `
version: 1
defaults:
  risk: {risk_percent: 1, max_position_size: 5, min_position_size: 0.01, max_concurrent_trades: 10, portfolio_risk_percent: 5}
  execution: {interval_seconds: 1, parallel_execution: true, max_workers: 2, use_intelligent_position_manager: true, use_ml_enhancement: false, use_sentiment_filter: false}
  trading_rules: {cooldown_seconds: 0, trade_on_signal_change: true, min_signal_confidence: 0}
  strategy: {kind: ma_crossover, timeframe: H1, fast_period: 3, slow_period: 8, sl_pips: 20, tp_pips: 40}
  position_management:
    enable_breakeven: true
    breakeven_trigger_pips: 20
    breakeven_offset_pips: 2
    enable_trailing_stop: true
    trailing_activation_pips: 25
    trailing_stop_pips: 15
    enable_partial_close: false
    partial_close_trigger_pips: 30
    partial_close_percent: 50
    enable_dynamic_tp: false
    tp_extension_trigger_percent: 80
    tp_extension_pips: 10
  emergency:
    emergency_stop: false
    close_all_on_emergency: false
    max_daily_loss_percent: 5
accounts:
  7:
    symbols:
      - symbol: EURUSD
        enabled: true
`

func loadTestConfig(t *testing.T) *config.ConfigurationSet {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDoc), 0o600))
	set, err := config.Load(path)
	require.NoError(t, err)
	return set
}

func TestEngine_ConnectEmitsReady(t *testing.T) {
	fake := terminal.NewFake()
	cmdCh := make(chan ipc.Command, 4)
	resultCh := make(chan ipc.Result, 4)
	log := logrus.NewEntry(logrus.New())

	e := New(7, fake, log, cmdCh, resultCh, func() bool { return false })
	require.NoError(t, e.Connect(context.Background(), "login", "pw", "server"))

	select {
	case res := <-resultCh:
		require.Equal(t, ipc.ResReady, res.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a Ready result")
	}
}

func TestEngine_RunHandlesShutdownCommand(t *testing.T) {
	fake := terminal.NewFake()
	cmdCh := make(chan ipc.Command, 4)
	resultCh := make(chan ipc.Result, 16)
	log := logrus.NewEntry(logrus.New())

	e := New(7, fake, log, cmdCh, resultCh, func() bool { return false })
	require.NoError(t, e.Connect(context.Background(), "login", "pw", "server"))
	<-resultCh // drain Ready

	set := loadTestConfig(t)

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- e.Run(ctx, set, 1) }()

	cmdCh <- ipc.NewCommand(7, ipc.CmdShutdown, nil)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not shut down")
	}
	cancel()
}

func TestEngine_CmdGetStatus_ReportsStateAndOpenPositions(t *testing.T) {
	fake := terminal.NewFake()
	cmdCh := make(chan ipc.Command, 4)
	resultCh := make(chan ipc.Result, 16)
	log := logrus.NewEntry(logrus.New())

	e := New(7, fake, log, cmdCh, resultCh, func() bool { return false })
	require.NoError(t, e.Connect(context.Background(), "login", "pw", "server"))
	<-resultCh // drain Ready

	e.handleCommand(context.Background(), ipc.NewCommand(7, ipc.CmdGetStatus, nil))

	select {
	case res := <-resultCh:
		require.Equal(t, ipc.ResStatusUpdate, res.Type)
		var payload ipc.StatusUpdatePayload
		require.NoError(t, ipc.Decode(res.Payload, &payload))
		assert.Equal(t, "paused", payload.State)
		assert.Equal(t, 0, payload.OpenPositions)
	case <-time.After(time.Second):
		t.Fatal("expected a StatusUpdate result")
	}
}

func TestEngine_CmdStart_EnablesTradingState(t *testing.T) {
	fake := terminal.NewFake()
	cmdCh := make(chan ipc.Command, 4)
	resultCh := make(chan ipc.Result, 16)
	log := logrus.NewEntry(logrus.New())

	e := New(7, fake, log, cmdCh, resultCh, func() bool { return false })
	require.NoError(t, e.Connect(context.Background(), "login", "pw", "server"))
	<-resultCh // drain Ready

	e.handleCommand(context.Background(), ipc.NewCommand(7, ipc.CmdStart, nil))
	e.handleCommand(context.Background(), ipc.NewCommand(7, ipc.CmdGetStatus, nil))

	res := <-resultCh
	var payload ipc.StatusUpdatePayload
	require.NoError(t, ipc.Decode(res.Payload, &payload))
	assert.Equal(t, "trading", payload.State)

	e.handleCommand(context.Background(), ipc.NewCommand(7, ipc.CmdStop, nil))
	e.handleCommand(context.Background(), ipc.NewCommand(7, ipc.CmdGetStatus, nil))

	res = <-resultCh
	require.NoError(t, ipc.Decode(res.Payload, &payload))
	assert.Equal(t, "paused", payload.State, "Stop must disable trading without touching positions")
}

func TestEngine_CmdCheckAutoTrading_EncodesRealResult(t *testing.T) {
	fake := terminal.NewFake()
	fake.AutoTrading = terminal.AutoTrading{Enabled: true, TradeAllowed: true, Message: "ok"}
	cmdCh := make(chan ipc.Command, 4)
	resultCh := make(chan ipc.Result, 16)
	log := logrus.NewEntry(logrus.New())

	e := New(7, fake, log, cmdCh, resultCh, func() bool { return false })
	require.NoError(t, e.Connect(context.Background(), "login", "pw", "server"))
	<-resultCh // drain Ready

	e.handleCommand(context.Background(), ipc.NewCommand(7, ipc.CmdCheckAutoTrading, nil))

	res := <-resultCh
	require.Equal(t, ipc.ResAutoTradingStatus, res.Type)
	var payload ipc.AutoTradingStatusPayload
	require.NoError(t, ipc.Decode(res.Payload, &payload))
	assert.True(t, payload.Enabled)
	assert.True(t, payload.TradeAllowed)
	assert.Equal(t, "ok", payload.Message)
}

func TestEngine_CmdSetEmergencyStop_CloseAllClosesEveryPosition(t *testing.T) {
	fake := terminal.NewFake()
	fake.Syms["EURUSD"] = terminal.SymbolInfo{Digits: 5, Point: 0.00001, ContractSize: 100000, MinLot: 0.01, LotStep: 0.01}
	fake.SetTick("EURUSD", 1.1000, 1.1002)
	cmdCh := make(chan ipc.Command, 4)
	resultCh := make(chan ipc.Result, 16)
	log := logrus.NewEntry(logrus.New())

	e := New(7, fake, log, cmdCh, resultCh, func() bool { return false })
	require.NoError(t, e.Connect(context.Background(), "login", "pw", "server"))
	<-resultCh // drain Ready

	ticket, err := fake.SendOrder(context.Background(), terminal.OrderRequest{Symbol: "EURUSD", Side: terminal.SideBuy, Volume: 0.1, SL: 1.0900, TP: 1.1100})
	require.NoError(t, err)
	e.registry.Register("EURUSD", position.OpenPosition{Ticket: ticket.Ticket, Symbol: "EURUSD", Side: terminal.SideBuy, Volume: 0.1})
	require.Equal(t, 1, e.registry.OpenPositionsTotal())

	payload, err := ipc.Encode(ipc.EmergencyStopPayload{Enabled: true, CloseAll: true})
	require.NoError(t, err)
	e.handleCommand(context.Background(), ipc.NewCommand(7, ipc.CmdSetEmergencyStop, payload))

	assert.Equal(t, 0, e.registry.OpenPositionsTotal())
	open, err := fake.ListPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}
