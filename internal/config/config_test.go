package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const baseDoc = `
version: 1
defaults:
  risk:
    risk_percent: 1
    max_position_size: 5
    min_position_size: 0.01
    max_concurrent_trades: 10
    portfolio_risk_percent: 5
  execution:
    interval_seconds: 60
    parallel_execution: false
    max_workers: 4
    use_intelligent_position_manager: true
    use_ml_enhancement: false
    use_sentiment_filter: false
  trading_rules:
    cooldown_seconds: 300
    trade_on_signal_change: true
    min_signal_confidence: 0.5
  strategy:
    kind: ma_crossover
    timeframe: H1
    fast_period: 10
    slow_period: 20
    sl_pips: 20
    tp_pips: 40
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
  1:
    strategy:
      sl_pips: 30
    symbols:
      - symbol: EURUSD
        enabled: true
        strategy:
          tp_pips: 80
`

func TestResolve_DefaultsAccountSymbolOverride(t *testing.T) {
	path := writeConfig(t, baseDoc)
	set, err := Load(path)
	require.NoError(t, err)

	eff, err := set.Resolve(1, "EURUSD")
	require.NoError(t, err)

	assert.Equal(t, StrategyMACrossover, eff.StrategyKind)
	assert.Equal(t, 10, eff.FastPeriod)
	assert.Equal(t, 20, eff.SlowPeriod)
	assert.Equal(t, 30.0, eff.SLPips) // account override
	assert.Equal(t, 80.0, eff.TPPips) // symbol override
}

func TestResolve_Idempotent(t *testing.T) {
	path := writeConfig(t, baseDoc)
	set, err := Load(path)
	require.NoError(t, err)

	first, err := set.Resolve(1, "EURUSD")
	require.NoError(t, err)
	second, err := set.Resolve(1, "EURUSD")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResolve_NotFound(t *testing.T) {
	path := writeConfig(t, baseDoc)
	set, err := Load(path)
	require.NoError(t, err)

	_, err = set.Resolve(999, "EURUSD")
	require.Error(t, err)

	_, err = set.Resolve(1, "GBPUSD")
	require.Error(t, err)
}

func TestLoad_InvalidVersionIsFatal(t *testing.T) {
	path := writeConfig(t, "version: 2\ndefaults: {}\naccounts: {}\n")
	_, err := Load(path)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, "version: 1\ndefaults: {}\naccounts: {}\nbogus_top_level: true\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_FastSlowInvariant(t *testing.T) {
	bad := `
version: 1
defaults:
  risk: {risk_percent: 1, max_position_size: 5, min_position_size: 0.01, max_concurrent_trades: 10, portfolio_risk_percent: 5}
  execution: {interval_seconds: 60, max_workers: 4}
  trading_rules: {cooldown_seconds: 300, min_signal_confidence: 0.5}
  strategy: {kind: ma_crossover, timeframe: H1, fast_period: 30, slow_period: 20, sl_pips: 20, tp_pips: 40}
  position_management: {}
  emergency: {}
accounts:
  1:
    symbols:
      - symbol: EURUSD
        enabled: true
`
	path := writeConfig(t, bad)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast_period")
}

func TestReloadIfChanged_HashBasedNotMtime(t *testing.T) {
	path := writeConfig(t, baseDoc)
	set, err := Load(path)
	require.NoError(t, err)

	// Rewrite with identical semantic content but different formatting/whitespace.
	reformatted := baseDoc + "\n\n"
	require.NoError(t, os.WriteFile(path, []byte(reformatted), 0o600))

	_, outcome, err := ReloadIfChanged(path, set)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
}

func TestReloadIfChanged_DetectsRealChange(t *testing.T) {
	path := writeConfig(t, baseDoc)
	set, err := Load(path)
	require.NoError(t, err)

	changed := baseDoc
	changed = changed[:len(changed)-1] + "        enabled: false\n" // won't parse cleanly; use simpler mutation below
	_ = changed

	mutated := baseDoc[:len(baseDoc)]
	mutated = mutatedReplaceSLPips(mutated)
	require.NoError(t, os.WriteFile(path, []byte(mutated), 0o600))

	next, outcome, err := ReloadIfChanged(path, set)
	require.NoError(t, err)
	assert.Equal(t, Changed, outcome)
	eff, err := next.Resolve(1, "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 35.0, eff.SLPips)
}

func mutatedReplaceSLPips(doc string) string {
	return replaceOnce(doc, "sl_pips: 30", "sl_pips: 35")
}

func replaceOnce(s, old, new string) string {
	idx := -1
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}

func TestReloadIfChanged_ConfigErrorRetainsPrevious(t *testing.T) {
	path := writeConfig(t, baseDoc)
	set, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o600))

	prev, outcome, err := ReloadIfChanged(path, set)
	require.Error(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Same(t, set, prev)
}
