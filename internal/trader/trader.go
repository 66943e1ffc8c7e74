// Package trader implements the Symbol Trader (C5): one invocation per
// cycle per (account_id, symbol), running the full skip-check, signal,
// sizing, caps, order and position-management sequence (spec.md §4.5).
package trader

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ardenq/fleettrader/internal/config"
	"github.com/ardenq/fleettrader/internal/position"
	"github.com/ardenq/fleettrader/internal/signal"
	"github.com/ardenq/fleettrader/internal/terminal"
)

// CycleError is a per-symbol diagnostic that never aborts the worker
// or other symbols in the same account (spec.md §4.5 failure model).
type CycleError struct {
	Symbol string
	Reason string
	Err    error
}

func (e *CycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("trader: %s: %s: %v", e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("trader: %s: %s", e.Symbol, e.Reason)
}

func (e *CycleError) Unwrap() error { return e.Err }

// maxPositionsPerSymbol is the per-symbol concurrency cap; see the step 5
// note in Run on why it is a fixed constant rather than a config field.
const maxPositionsPerSymbol = 1

// PortfolioView answers the open-position caps needed at step 5; the
// Account Engine supplies a live view over all symbols in the account.
type PortfolioView interface {
	OpenPositionsTotal() int
	OpenPositionsForSymbol(symbol string) int
}

// Registrar is how the trader hands a freshly-filled order to
// whatever tracks live OpenPositions for this account (typically the
// Account Engine, which holds the Position Manager's registry).
type Registrar interface {
	Register(symbol string, pos position.OpenPosition)
	OpenForSymbol(symbol string) []position.OpenPosition
	Update(symbol string, pos position.OpenPosition)
}

// CycleOutcome summarizes one trader pass for observability/IPC status
// reporting (spec.md §3 CycleCompletePayload).
type CycleOutcome struct {
	Symbol  string
	Traded  bool
	Signal  signal.Result
	Skipped string
}

// Trader runs the C5 sequence for one (account, symbol) pair.
type Trader struct {
	session    terminal.Session
	composer   *signal.Composer
	posManager *position.Manager

	globalMaxConcurrentTrades int
}

// New builds a Symbol Trader bound to one symbol's composer and the
// account's shared terminal session and position manager.
func New(session terminal.Session, composer *signal.Composer, posManager *position.Manager, globalMaxConcurrentTrades int) *Trader {
	return &Trader{
		session:                   session,
		composer:                  composer,
		posManager:                posManager,
		globalMaxConcurrentTrades: globalMaxConcurrentTrades,
	}
}

// Run executes one full cycle pass for the symbol (spec.md §4.5 steps 1-9).
func (t *Trader) Run(ctx context.Context, eff *config.EffectiveSymbolConfig, portfolio PortfolioView, reg Registrar, paused bool) (CycleOutcome, error) {
	out := CycleOutcome{Symbol: eff.Symbol}

	// 1. Skip if disabled.
	if !eff.Enabled {
		out.Skipped = "symbol disabled"
		return out, nil
	}

	// 2. Fetch bars and tick.
	bars, err := t.session.GetOHLC(ctx, eff.Symbol, string(eff.Timeframe), eff.SlowPeriod+50)
	if err != nil {
		return out, &CycleError{Symbol: eff.Symbol, Reason: "data unavailable", Err: err}
	}
	tick, err := t.session.GetTick(ctx, eff.Symbol)
	if err != nil {
		return out, &CycleError{Symbol: eff.Symbol, Reason: "data unavailable", Err: err}
	}

	// 3. Signal.
	result, err := t.composer.Compose(eff.Symbol, bars)
	if err != nil {
		return out, &CycleError{Symbol: eff.Symbol, Reason: "signal computation failed", Err: err}
	}
	out.Signal = result
	if result.Direction == signal.DirFlat {
		return t.runPositionManagement(ctx, eff, reg, out)
	}

	// 4. Lot sizing.
	info, err := t.session.GetSymbolInfo(ctx, eff.Symbol)
	if err != nil {
		return out, &CycleError{Symbol: eff.Symbol, Reason: "data unavailable", Err: err}
	}
	state, err := t.session.GetAccountState(ctx)
	if err != nil {
		return out, &CycleError{Symbol: eff.Symbol, Reason: "data unavailable", Err: err}
	}
	lot, ok := sizeLot(state.Equity, eff, info)
	if !ok {
		out.Skipped = "risk too small"
		return t.runPositionManagement(ctx, eff, reg, out)
	}

	// 5. Portfolio caps. Configuration carries no explicit
	// max_positions_per_symbol knob (spec.md §6 lists only the
	// account-level max_concurrent_trades); one open position per
	// symbol is the sensible per-symbol cap in its absence.
	if portfolio.OpenPositionsTotal() >= eff.MaxConcurrentTrades || portfolio.OpenPositionsForSymbol(eff.Symbol) >= maxPositionsPerSymbol {
		out.Skipped = "portfolio caps reached"
		return t.runPositionManagement(ctx, eff, reg, out)
	}

	// 6. Paused accounts skip placement but still run C4.
	if paused {
		out.Skipped = "account paused"
		return t.runPositionManagement(ctx, eff, reg, out)
	}

	// 7. Place the order.
	side := terminal.SideBuy
	if result.Direction == signal.DirSell {
		side = terminal.SideSell
	}
	ref := tick.Ask
	if side == terminal.SideSell {
		ref = tick.Bid
	}
	pip := pipValue(info)
	slPrice, tpPrice := slTp(side, ref, eff.SLPips, eff.TPPips, pip)

	res, err := t.session.SendOrder(ctx, terminal.OrderRequest{
		Symbol: eff.Symbol, Side: side, Volume: lot, SL: slPrice, TP: tpPrice,
	})
	if err != nil {
		return out, &CycleError{Symbol: eff.Symbol, Reason: "order rejected", Err: err}
	}
	out.Traded = true

	// 8. Register the position.
	reg.Register(eff.Symbol, position.OpenPosition{
		Ticket: res.Ticket, Symbol: eff.Symbol, Side: side,
		EntryPrice: res.FillPrice, Volume: lot, SL: slPrice, TP: tpPrice,
	})

	// 9. Run C4 over every open position for this symbol.
	return t.runPositionManagement(ctx, eff, reg, out)
}

func (t *Trader) runPositionManagement(ctx context.Context, eff *config.EffectiveSymbolConfig, reg Registrar, out CycleOutcome) (CycleOutcome, error) {
	info, err := t.session.GetSymbolInfo(ctx, eff.Symbol)
	if err != nil {
		return out, nil // data unavailable is non-fatal for the management pass
	}
	tick, err := t.session.GetTick(ctx, eff.Symbol)
	if err != nil {
		return out, nil
	}
	for _, pos := range reg.OpenForSymbol(eff.Symbol) {
		updated, err := t.posManager.Evaluate(ctx, pos, info, tick, eff)
		if err != nil {
			return out, &CycleError{Symbol: eff.Symbol, Reason: "position management failed", Err: err}
		}
		reg.Update(eff.Symbol, updated)
	}
	return out, nil
}

// pipValue derives the pip size the same way the Position Manager does.
func pipValue(info terminal.SymbolInfo) decimal.Decimal {
	point := decimal.NewFromFloat(info.Point)
	if info.Digits == 3 || info.Digits == 5 {
		return point.Mul(decimal.NewFromInt(10))
	}
	return point
}

func slTp(side terminal.Side, ref float64, slPips, tpPips float64, pip decimal.Decimal) (float64, float64) {
	r := decimal.NewFromFloat(ref)
	slDist := decimal.NewFromFloat(slPips).Mul(pip)
	tpDist := decimal.NewFromFloat(tpPips).Mul(pip)
	if side == terminal.SideBuy {
		sl, _ := r.Sub(slDist).Float64()
		tp, _ := r.Add(tpDist).Float64()
		return sl, tp
	}
	sl, _ := r.Add(slDist).Float64()
	tp, _ := r.Sub(tpDist).Float64()
	return sl, tp
}

// sizeLot computes the risk-sized lot per spec.md §4.5 step 4, rounded
// down to the symbol's lot_step and clamped to [min_lot,
// max_position_size], where min_lot is the larger of the symbol's min_lot
// and the configured min_position_size. Returns ok=false if the clamped
// lot would still fall below min_lot (risk amount too small to cover SL
// distance).
func sizeLot(equity float64, eff *config.EffectiveSymbolConfig, info terminal.SymbolInfo) (float64, bool) {
	if eff.SLPips <= 0 {
		return 0, false
	}
	riskAmount := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(eff.RiskPercent)).Div(decimal.NewFromInt(100))
	pip := pipValue(info)
	pipMonetaryValue := pip.Mul(decimal.NewFromFloat(info.ContractSize))
	slDistMonetary := decimal.NewFromFloat(eff.SLPips).Mul(pipMonetaryValue)
	if slDistMonetary.IsZero() {
		return 0, false
	}

	rawLot := riskAmount.Div(slDistMonetary)

	step := decimal.NewFromFloat(info.LotStep)
	if step.IsZero() {
		step = decimal.NewFromFloat(0.01)
	}
	steps := rawLot.Div(step).Floor()
	lot := steps.Mul(step)

	minLot := decimal.NewFromFloat(info.MinLot)
	if cfgMin := decimal.NewFromFloat(eff.MinPositionSize); cfgMin.GreaterThan(minLot) {
		minLot = cfgMin
	}
	maxLot := decimal.NewFromFloat(eff.MaxPositionSize)
	if lot.GreaterThan(maxLot) {
		lot = maxLot
	}
	if lot.LessThan(minLot) {
		return 0, false
	}
	f, _ := lot.Float64()
	return f, true
}
