// Package position implements the Position Manager (C4): the post-trade
// per-position state machine driving break-even, partial close,
// trailing stop and dynamic take-profit (spec.md §4.4).
package position

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ardenq/fleettrader/internal/config"
	"github.com/ardenq/fleettrader/internal/terminal"
)

// OpenPosition tracks the fields C4 owns for one live position
// (spec.md §2 OpenPosition).
type OpenPosition struct {
	Ticket     int64
	Symbol     string
	Side       terminal.Side
	EntryPrice float64
	Volume     float64
	SL         float64
	TP         float64

	HighestProfitPips float64
	BreakevenSet      bool
	TrailingActive    bool
	PartialClosed     bool
}

// pipSize derives the pip size from the symbol's decimal precision,
// matching the conventional "fractional pip" broker convention (3 and
// 5 digit quotes carry one extra fractional digit).
func pipSize(info terminal.SymbolInfo) decimal.Decimal {
	point := decimal.NewFromFloat(info.Point)
	if info.Digits == 3 || info.Digits == 5 {
		return point.Mul(decimal.NewFromInt(10))
	}
	return point
}

func profitPips(side terminal.Side, entry, current float64, pip decimal.Decimal) decimal.Decimal {
	e := decimal.NewFromFloat(entry)
	c := decimal.NewFromFloat(current)
	var diff decimal.Decimal
	if side == terminal.SideBuy {
		diff = c.Sub(e)
	} else {
		diff = e.Sub(c)
	}
	if pip.IsZero() {
		return decimal.Zero
	}
	return diff.Div(pip)
}

func shiftPrice(side terminal.Side, price decimal.Decimal, pips decimal.Decimal, pip decimal.Decimal) decimal.Decimal {
	delta := pips.Mul(pip)
	if side == terminal.SideBuy {
		return price.Add(delta)
	}
	return price.Sub(delta)
}

// improves reports whether candidate SL is strictly better than
// current for the position's side (spec.md §4.4 step 4: "never
// worsens it").
func improves(side terminal.Side, current, candidate decimal.Decimal) bool {
	if side == terminal.SideBuy {
		return candidate.GreaterThan(current)
	}
	return candidate.LessThan(current)
}

// Manager runs the C4 state machine for every open position of one
// account, applying at most one modification per rule per pass, in
// the fixed order break-even, partial close, trailing activation,
// trailing adjustment, dynamic TP (spec.md §4.4).
type Manager struct {
	session terminal.Session
}

// NewManager builds a Position Manager bound to one account's terminal session.
func NewManager(session terminal.Session) *Manager {
	return &Manager{session: session}
}

// Evaluate runs the C4 pass for a single position against the current
// tick and effective configuration, applying terminal-side
// modify/close calls as needed and returning the updated position.
func (m *Manager) Evaluate(ctx context.Context, pos OpenPosition, info terminal.SymbolInfo, tick terminal.Tick, eff *config.EffectiveSymbolConfig) (OpenPosition, error) {
	current := tick.Bid
	if pos.Side == terminal.SideBuy {
		current = tick.Bid
	} else {
		current = tick.Ask
	}

	pip := pipSize(info)
	profit := profitPips(pos.Side, pos.EntryPrice, current, pip)
	profitF, _ := profit.Float64()
	if profitF > pos.HighestProfitPips {
		pos.HighestProfitPips = profitF
	}

	sl := decimal.NewFromFloat(pos.SL)

	// 1. Break-even.
	if !pos.BreakevenSet && profitF >= eff.BreakevenTriggerPips {
		newSL := shiftPrice(pos.Side, decimal.NewFromFloat(pos.EntryPrice), decimal.NewFromFloat(eff.BreakevenOffsetPips), pip)
		if err := m.modifySL(ctx, pos.Ticket, newSL); err != nil {
			return pos, err
		}
		pos.SL = round(newSL, info.Digits)
		pos.BreakevenSet = true
		return pos, nil
	}

	// 2. Partial close.
	if eff.EnablePartialClose && !pos.PartialClosed && profitF >= eff.PartialCloseTriggerPips {
		closeVolume := pos.Volume * eff.PartialClosePercent / 100
		if err := m.session.ClosePosition(ctx, pos.Ticket, &closeVolume); err != nil {
			return pos, fmt.Errorf("position: partial close: %w", err)
		}
		pos.Volume -= closeVolume
		pos.PartialClosed = true
		return pos, nil
	}

	// 3. Trailing activation. Setting the flag is bookkeeping, not a
	// terminal modification, so activation falls through into the
	// trailing adjustment rule and both take effect in the same pass
	// (spec.md §8 scenario 3).
	if !pos.TrailingActive && profitF >= eff.TrailingActivationPips {
		pos.TrailingActive = true
	}

	// 4. Trailing adjustment.
	if pos.TrailingActive {
		candidate := shiftPrice(pos.Side, decimal.NewFromFloat(current), decimal.NewFromFloat(eff.TrailingStopPips), pip)
		if improves(pos.Side, sl, candidate) {
			if err := m.modifySL(ctx, pos.Ticket, candidate); err != nil {
				return pos, err
			}
			pos.SL = round(candidate, info.Digits)
			return pos, nil
		}
	}

	// 5. Dynamic TP extension.
	if eff.EnableDynamicTP && pos.TP != 0 {
		entry := decimal.NewFromFloat(pos.EntryPrice)
		tp := decimal.NewFromFloat(pos.TP)
		totalDist := tp.Sub(entry).Abs()
		if !totalDist.IsZero() {
			advanced := decimal.NewFromFloat(current).Sub(entry).Abs()
			pct := advanced.Div(totalDist).Mul(decimal.NewFromInt(100))
			pctF, _ := pct.Float64()
			if pctF >= eff.TPExtensionTriggerPercent {
				newTP := shiftPrice(pos.Side, tp, decimal.NewFromFloat(eff.TPExtensionPips), pip)
				if err := m.modifyTP(ctx, pos.Ticket, newTP); err != nil {
					return pos, err
				}
				pos.TP = round(newTP, info.Digits)
			}
		}
	}

	return pos, nil
}

func (m *Manager) modifySL(ctx context.Context, ticket int64, sl decimal.Decimal) error {
	v, _ := sl.Float64()
	return m.session.ModifyPosition(ctx, ticket, &v, nil)
}

func (m *Manager) modifyTP(ctx context.Context, ticket int64, tp decimal.Decimal) error {
	v, _ := tp.Float64()
	return m.session.ModifyPosition(ctx, ticket, nil, &v)
}

func round(d decimal.Decimal, digits int) float64 {
	v, _ := d.Round(int32(digits)).Float64()
	return v
}
