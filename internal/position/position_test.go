package position

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardenq/fleettrader/internal/config"
	"github.com/ardenq/fleettrader/internal/terminal"
)

func testEff() *config.EffectiveSymbolConfig {
	return &config.EffectiveSymbolConfig{
		BreakevenTriggerPips:      20,
		BreakevenOffsetPips:       2,
		TrailingActivationPips:    25,
		TrailingStopPips:          15,
		EnablePartialClose:        false,
		PartialCloseTriggerPips:  30,
		PartialClosePercent:      50,
		EnableDynamicTP:          false,
		TPExtensionTriggerPercent: 80,
		TPExtensionPips:          10,
	}
}

func symInfo() terminal.SymbolInfo {
	return terminal.SymbolInfo{Digits: 5, Point: 0.00001}
}

// Mirrors spec.md §8 scenario 2/3 worked example.
func TestEvaluate_BreakevenThenTrailing(t *testing.T) {
	fake := terminal.NewFake()
	mgr := NewManager(fake)
	eff := testEff()
	info := symInfo()
	ctx := context.Background()

	// The fake rejects unknown tickets, so open ticket 1 on it first.
	seeded, err := fake.SendOrder(ctx, terminal.OrderRequest{Symbol: "EURUSD", Side: terminal.SideBuy, Volume: 0.1, SL: 1.08300, TP: 1.08900})
	require.NoError(t, err)
	require.Equal(t, int64(1), seeded.Ticket)

	pos := OpenPosition{
		Ticket: 1, Symbol: "EURUSD", Side: terminal.SideBuy,
		EntryPrice: 1.08500, Volume: 0.1, SL: 1.08300, TP: 1.08900,
	}
	fake.Bars = map[string][]terminal.Bar{}

	// Feed 1.08700 -> break-even fires once.
	pos, err = mgr.Evaluate(ctx, pos, info, terminal.Tick{Bid: 1.08700, Ask: 1.08702}, eff)
	require.NoError(t, err)
	assert.True(t, pos.BreakevenSet)
	assert.InDelta(t, 1.08520, pos.SL, 1e-9)

	// Feed 1.08720 -> break-even rule does not refire.
	slBefore := pos.SL
	pos, err = mgr.Evaluate(ctx, pos, info, terminal.Tick{Bid: 1.08720, Ask: 1.08722}, eff)
	require.NoError(t, err)
	assert.Equal(t, slBefore, pos.SL)

	// Feed 1.08760 -> trailing activates and its first SL adjustment to
	// 1.08610 both happen on this same pass (spec.md §8 scenario 3):
	// setting trailing_active is bookkeeping, not a terminal modification.
	pos, err = mgr.Evaluate(ctx, pos, info, terminal.Tick{Bid: 1.08760, Ask: 1.08762}, eff)
	require.NoError(t, err)
	assert.True(t, pos.TrailingActive)
	assert.InDelta(t, 1.08610, pos.SL, 1e-9)

	// Feed 1.08740 -> would worsen SL, no modification.
	slBefore = pos.SL
	pos, err = mgr.Evaluate(ctx, pos, info, terminal.Tick{Bid: 1.08740, Ask: 1.08742}, eff)
	require.NoError(t, err)
	assert.Equal(t, slBefore, pos.SL)

	// Feed 1.08800 -> SL advances to 1.08650.
	pos, err = mgr.Evaluate(ctx, pos, info, terminal.Tick{Bid: 1.08800, Ask: 1.08802}, eff)
	require.NoError(t, err)
	assert.InDelta(t, 1.08650, pos.SL, 1e-9)
}

func TestEvaluate_PartialCloseReducesVolumeOnce(t *testing.T) {
	fake := terminal.NewFake()
	mgr := NewManager(fake)
	eff := testEff()
	eff.EnablePartialClose = true
	info := symInfo()
	ctx := context.Background()

	// The fake rejects unknown tickets, so open ticket 1 on it first.
	seeded, err := fake.SendOrder(ctx, terminal.OrderRequest{Symbol: "EURUSD", Side: terminal.SideBuy, Volume: 0.20, SL: 1.08300, TP: 1.08900})
	require.NoError(t, err)
	require.Equal(t, int64(1), seeded.Ticket)

	pos := OpenPosition{
		Ticket: 1, Symbol: "EURUSD", Side: terminal.SideBuy,
		EntryPrice: 1.08500, Volume: 0.20, SL: 1.08300, TP: 1.08900,
	}

	// +31 pips: break-even is checked first and is the one modification
	// of the first pass; the partial close fires on the second pass.
	pos, err = mgr.Evaluate(ctx, pos, info, terminal.Tick{Bid: 1.08810, Ask: 1.08812}, eff)
	require.NoError(t, err)
	require.True(t, pos.BreakevenSet)
	pos, err = mgr.Evaluate(ctx, pos, info, terminal.Tick{Bid: 1.08810, Ask: 1.08812}, eff)
	require.NoError(t, err)
	assert.True(t, pos.PartialClosed)
	assert.InDelta(t, 0.10, pos.Volume, 1e-9)

	// A further pass does not close again.
	pos, err = mgr.Evaluate(ctx, pos, info, terminal.Tick{Bid: 1.08810, Ask: 1.08812}, eff)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, pos.Volume, 1e-9)
}

func TestEvaluate_DynamicTPExtendsNearTarget(t *testing.T) {
	fake := terminal.NewFake()
	mgr := NewManager(fake)
	eff := testEff()
	eff.EnableDynamicTP = true
	eff.TPExtensionTriggerPercent = 80
	eff.TPExtensionPips = 10
	info := symInfo()
	ctx := context.Background()

	// The fake rejects unknown tickets, so open ticket 1 on it first.
	seeded, err := fake.SendOrder(ctx, terminal.OrderRequest{Symbol: "EURUSD", Side: terminal.SideBuy, Volume: 0.1, SL: 1.08610, TP: 1.08900})
	require.NoError(t, err)
	require.Equal(t, int64(1), seeded.Ticket)

	pos := OpenPosition{
		Ticket: 1, Symbol: "EURUSD", Side: terminal.SideBuy,
		EntryPrice: 1.08500, Volume: 0.1, SL: 1.08610, TP: 1.08900,
		BreakevenSet: true, TrailingActive: true,
	}

	// 80% of the 40-pip distance to TP is 1.08820. The first pass at this
	// tick still improves the trailing SL (at most one modification per
	// pass), so the dynamic TP rule only fires on a second pass once the
	// trailing SL has settled.
	pos, err = mgr.Evaluate(ctx, pos, info, terminal.Tick{Bid: 1.08820, Ask: 1.08822}, eff)
	require.NoError(t, err)
	pos, err = mgr.Evaluate(ctx, pos, info, terminal.Tick{Bid: 1.08820, Ask: 1.08822}, eff)
	require.NoError(t, err)
	assert.InDelta(t, 1.09000, pos.TP, 1e-9)
}
