// Package engine implements the Account Engine / worker body (C6): the
// code that runs inside one isolated worker for one account, hosting
// C2-C5 and driving the cooperative cycle loop (spec.md §4.6).
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ardenq/fleettrader/internal/config"
	"github.com/ardenq/fleettrader/internal/ipc"
	"github.com/ardenq/fleettrader/internal/logging"
	"github.com/ardenq/fleettrader/internal/position"
	"github.com/ardenq/fleettrader/internal/signal"
	"github.com/ardenq/fleettrader/internal/terminal"
	"github.com/ardenq/fleettrader/internal/trader"
)

// DefaultPositionManagementInterval is the finer sub-interval C4 runs
// at even when no cycle would otherwise fire (spec.md §4.6 step 4).
const DefaultPositionManagementInterval = 5 * time.Second

// DefaultShutdownGrace bounds how long in-flight symbol passes are
// given to finish on Shutdown (spec.md §4.6 step 5).
const DefaultShutdownGrace = 10 * time.Second

// EnhancerFactory and SentimentFactory let the engine build per-symbol
// capabilities according to the effective config's use_ml_enhancement
// / use_sentiment_filter flags, defaulting to the null implementations
// (spec.md §4.3 "supply a null implementation by default").
type EnhancerFactory func(eff *config.EffectiveSymbolConfig) signal.Enhancer
type SentimentFactory func(eff *config.EffectiveSymbolConfig) signal.SentimentFilter

// Engine hosts C2-C6 for exactly one account inside one worker process.
type Engine struct {
	accountID int64
	session   terminal.Session
	log       *logrus.Entry

	registry *positionRegistry
	traders  map[string]*trader.Trader

	enhancerFactory  EnhancerFactory
	sentimentFactory SentimentFactory

	positionInterval time.Duration
	shutdownGrace    time.Duration

	paused         atomic.Bool
	tradingEnabled atomic.Bool
	emergencyFlag  atomic.Bool
	emergencyStop  func() bool
	lastCycleAt    atomic.Int64

	cmdCh    <-chan ipc.Command
	resultCh chan<- ipc.Result

	mu  sync.Mutex
	set *config.ConfigurationSet
}

// New builds an Account Engine. emergencyStop is an optional local
// override polled once per tick alongside the emergencyFlag replicated
// from the control plane via a SetEmergencyStop command; either source
// reporting true skips order placement for the whole account (spec.md
// §4.10 emergency_stop, §5 "replicated ... into each worker on reload").
// tradingEnabled starts false: a worker reaches Ready on Connect but
// places no orders until an explicit Start command arrives (spec.md §6
// "start trading").
func New(accountID int64, session terminal.Session, log *logrus.Entry, cmdCh <-chan ipc.Command, resultCh chan<- ipc.Result, emergencyStop func() bool) *Engine {
	return &Engine{
		accountID:        accountID,
		session:          session,
		log:              log,
		registry:         newPositionRegistry(),
		traders:          map[string]*trader.Trader{},
		enhancerFactory:  func(eff *config.EffectiveSymbolConfig) signal.Enhancer { return signal.NullEnhancer() },
		sentimentFactory: func(eff *config.EffectiveSymbolConfig) signal.SentimentFilter { return signal.NullSentimentFilter() },
		positionInterval: DefaultPositionManagementInterval,
		shutdownGrace:    DefaultShutdownGrace,
		emergencyStop:    emergencyStop,
		cmdCh:            cmdCh,
		resultCh:         resultCh,
	}
}

// SetCapabilityFactories overrides the default null ML/sentiment
// capabilities, e.g. to wire signal.NewRegressionEnhancer when
// use_ml_enhancement is true.
func (e *Engine) SetCapabilityFactories(enh EnhancerFactory, sent SentimentFactory) {
	if enh != nil {
		e.enhancerFactory = enh
	}
	if sent != nil {
		e.sentimentFactory = sent
	}
}

func (e *Engine) traderFor(eff *config.EffectiveSymbolConfig) (*trader.Trader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.traders[eff.Symbol]; ok {
		return t, nil
	}
	strat, err := signal.NewStrategy(eff)
	if err != nil {
		return nil, err
	}
	composer := signal.NewComposer(eff, strat, e.enhancerFactory(eff), e.sentimentFactory(eff))
	mgr := position.NewManager(e.session)
	t := trader.New(e.session, composer, mgr, eff.MaxConcurrentTrades)
	e.traders[eff.Symbol] = t
	return t, nil
}

// Connect establishes the terminal session and emits Ready (spec.md §4.6 step 2).
func (e *Engine) Connect(ctx context.Context, login, password, server string) error {
	if err := e.session.Connect(ctx, login, password, server); err != nil {
		return fmt.Errorf("engine: connect: %w", err)
	}
	e.emit(ipc.ResReady, nil)
	return nil
}

// Run drives the cooperative loop: cycle ticks, finer position
// management ticks, and non-blocking command draining, until ctx is
// cancelled (spec.md §4.6 steps 3-4).
func (e *Engine) Run(ctx context.Context, set *config.ConfigurationSet, intervalSeconds int) error {
	e.set = set
	cycleTicker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer cycleTicker.Stop()
	posTicker := time.NewTicker(e.positionInterval)
	defer posTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.shutdown(set)
		case cmd := <-e.cmdCh:
			if stop := e.handleCommand(ctx, cmd); stop {
				return e.shutdown(set)
			}
		case <-cycleTicker.C:
			e.runCycle(ctx, set)
		case <-posTicker.C:
			e.runPositionManagementOnly(ctx, set)
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd ipc.Command) (shutdown bool) {
	switch cmd.Type {
	case ipc.CmdStart:
		e.tradingEnabled.Store(true)
	case ipc.CmdStop:
		// Disables new order placement only; does not touch open
		// positions (spec.md §4.10 "does not close open positions").
		e.tradingEnabled.Store(false)
	case ipc.CmdPause:
		e.paused.Store(true)
	case ipc.CmdResume:
		e.paused.Store(false)
	case ipc.CmdExecuteCycle:
		if e.set != nil {
			e.runCycle(ctx, e.set)
		}
	case ipc.CmdGetStatus:
		e.emit(ipc.ResStatusUpdate, e.statusPayload())
	case ipc.CmdCheckAutoTrading:
		at, err := e.session.CheckAutoTrading(ctx)
		if err != nil {
			e.emitError("check_auto_trading_failed", err)
			break
		}
		payload, err := ipc.Encode(ipc.AutoTradingStatusPayload{
			Enabled:      at.Enabled,
			TradeAllowed: at.TradeAllowed,
			Message:      at.Message,
		})
		if err != nil {
			e.log.WithError(err).Warn("encode auto trading status")
			break
		}
		e.emit(ipc.ResAutoTradingStatus, payload)
	case ipc.CmdSetEmergencyStop:
		var payload ipc.EmergencyStopPayload
		if err := ipc.Decode(cmd.Payload, &payload); err != nil {
			e.log.WithError(err).Warn("decode emergency stop payload")
			break
		}
		e.emergencyFlag.Store(payload.Enabled)
		if payload.Enabled && payload.CloseAll {
			e.closeAllOpenPositions(ctx)
		}
	case ipc.CmdShutdown:
		return true
	default:
		e.log.WithField("command", cmd.Type).Warn("unrecognized command")
	}
	return false
}

// statusPayload builds the StatusUpdate payload spec.md §3/§6 require:
// {state, open_positions, last_cycle_at}, plus process RSS as a
// diagnostic.
func (e *Engine) statusPayload() []byte {
	state := "paused"
	if e.tradingEnabled.Load() && !e.paused.Load() && !e.emergencyFlag.Load() {
		state = "trading"
	}
	payload, err := ipc.Encode(ipc.StatusUpdatePayload{
		State:          state,
		OpenPositions:  e.registry.OpenPositionsTotal(),
		LastCycleAtUTC: e.lastCycleAt.Load(),
		RSSBytes:       processRSS(),
	})
	if err != nil {
		e.log.WithError(err).Warn("encode status update")
		return nil
	}
	return payload
}

func processRSS() uint64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}

func (e *Engine) emitError(kind string, err error) {
	payload, encErr := ipc.Encode(ipc.ErrorPayload{Kind: kind, Detail: err.Error()})
	if encErr != nil {
		e.log.WithError(encErr).Warn("encode error payload")
		return
	}
	e.emit(ipc.ResError, payload)
}

// closeAllOpenPositions closes every open position across every symbol
// this account holds, in response to an emergency stop with close-all
// requested (spec.md §4.10, §8 scenario 6).
func (e *Engine) closeAllOpenPositions(ctx context.Context) {
	for _, symbol := range e.registry.allSymbols() {
		e.closeSymbolPositions(ctx, symbol)
	}
}

func (e *Engine) closeSymbolPositions(ctx context.Context, symbol string) {
	for _, pos := range e.registry.OpenForSymbol(symbol) {
		if err := e.session.ClosePosition(ctx, pos.Ticket, nil); err != nil {
			e.log.WithError(err).WithField(logging.FieldSymbol, symbol).Warn("emergency close failed")
			continue
		}
		e.registry.Remove(symbol, pos.Ticket)
	}
}

// runCycle runs every enabled symbol's trader, fanned out to a bounded
// concurrency pool of size execution.max_workers when
// execution.parallel_execution is true and one symbol at a time otherwise
// (spec.md §4.6 step 3), then reports the pass as a single CycleComplete
// result.
func (e *Engine) runCycle(ctx context.Context, set *config.ConfigurationSet) {
	symbols := set.SymbolNames(e.accountID)
	if len(symbols) == 0 {
		return
	}
	maxWorkers := 1
	if eff, err := set.Resolve(e.accountID, symbols[0]); err == nil && eff.ParallelExecution && eff.MaxWorkers > 0 {
		maxWorkers = eff.MaxWorkers
	}

	sem := semaphore.NewWeighted(int64(maxWorkers))
	g, gctx := errgroup.WithContext(ctx)
	paused := e.paused.Load() || e.emergencyFlag.Load() || !e.tradingEnabled.Load() || (e.emergencyStop != nil && e.emergencyStop())

	var mu sync.Mutex
	var trades, signals int
	var cycleErrs []string

	for _, symbol := range symbols {
		symbol := symbol
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			traded, signaled, errMsg := e.runSymbol(gctx, set, symbol, paused)
			mu.Lock()
			if traded {
				trades++
			}
			if signaled {
				signals++
			}
			if errMsg != "" {
				cycleErrs = append(cycleErrs, errMsg)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	e.lastCycleAt.Store(time.Now().Unix())
	payload, err := ipc.Encode(ipc.CycleCompletePayload{Trades: trades, Signals: signals, Errors: cycleErrs})
	if err != nil {
		e.log.WithError(err).Warn("encode cycle complete")
		return
	}
	e.emit(ipc.ResCycleComplete, payload)
}

// runSymbol runs one symbol's trader pass and reports whether it traded,
// whether a non-flat signal was produced, and a diagnostic message if
// the pass failed (spec.md §4.5, §4.6 step 3).
func (e *Engine) runSymbol(ctx context.Context, set *config.ConfigurationSet, symbol string, paused bool) (traded, signaled bool, errMsg string) {
	eff, err := set.Resolve(e.accountID, symbol)
	if err != nil {
		e.log.WithError(err).Warn("resolve effective config")
		return false, false, err.Error()
	}

	// Config-driven emergency stop (spec.md §6 emergency, §8 scenario
	// 6): takes effect at the next cycle boundary without a worker
	// restart, independent of the control plane's SetEmergencyStop.
	if eff.EmergencyStop {
		paused = true
		if eff.CloseAllOnEmergency {
			e.closeSymbolPositions(ctx, symbol)
		}
	}

	t, err := e.traderFor(eff)
	if err != nil {
		e.log.WithError(err).Warn("build trader")
		return false, false, err.Error()
	}
	outcome, err := t.Run(ctx, eff, e.registry, e.registry, paused)
	if err != nil {
		e.log.WithError(err).WithField(logging.FieldSymbol, symbol).Warn("cycle error")
		e.emitError("cycle_error", err)
		return false, false, err.Error()
	}
	return outcome.Traded, outcome.Signal.Direction != signal.DirFlat, ""
}

// runPositionManagementOnly runs C4 over every symbol's open positions
// without evaluating a new signal, for the finer sub-interval tick.
func (e *Engine) runPositionManagementOnly(ctx context.Context, set *config.ConfigurationSet) {
	for _, symbol := range e.registry.allSymbols() {
		eff, err := set.Resolve(e.accountID, symbol)
		if err != nil {
			continue
		}
		t, err := e.traderFor(eff)
		if err != nil {
			continue
		}
		_, _ = t.Run(ctx, eff, e.registry, e.registry, true)
	}
}

// shutdown disconnects and emits Closed. runCycle waits for its whole
// symbol fan-out (g.Wait) before the next select iteration, so by the
// time Run observes cancellation or Shutdown no symbol pass is still in
// flight; shutdownGrace is not consulted here.
func (e *Engine) shutdown(set *config.ConfigurationSet) error {
	e.session.Disconnect()
	e.emit(ipc.ResClosed, nil)
	return nil
}

func (e *Engine) emit(typ ipc.ResultType, payload []byte) {
	if e.resultCh == nil {
		return
	}
	select {
	case e.resultCh <- ipc.Result{Type: typ, AccountID: e.accountID, Payload: payload}:
	default:
		e.log.Warn("result channel full, dropping event")
	}
}
