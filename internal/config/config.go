// Package config implements the Configuration Resolver (C1): loading,
// validating, hot-reloading and hierarchically resolving the
// defaults -> account -> symbol configuration document described in
// spec.md §4.1 and §6.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	yaml "gopkg.in/yaml.v3"
)

// SupportedMajorVersion is the only config document major version this
// resolver accepts; the document's version tag must match it.
const SupportedMajorVersion = 1

// StrategyKind enumerates the closed set of supported strategy kinds.
type StrategyKind string

const (
	StrategyMACrossover    StrategyKind = "ma_crossover"
	StrategyPosition       StrategyKind = "position"
	StrategyRSI            StrategyKind = "rsi"
	StrategyMACD           StrategyKind = "macd"
	StrategyBollinger      StrategyKind = "bollinger"
	StrategyMultiIndicator StrategyKind = "multi_indicator"
)

var validStrategyKinds = map[StrategyKind]bool{
	StrategyMACrossover:    true,
	StrategyPosition:       true,
	StrategyRSI:            true,
	StrategyMACD:           true,
	StrategyBollinger:      true,
	StrategyMultiIndicator: true,
}

// Timeframe enumerates the closed set of supported bar timeframes.
type Timeframe string

const (
	TF_M1  Timeframe = "M1"
	TF_M5  Timeframe = "M5"
	TF_M15 Timeframe = "M15"
	TF_M30 Timeframe = "M30"
	TF_H1  Timeframe = "H1"
	TF_H4  Timeframe = "H4"
	TF_D1  Timeframe = "D1"
)

var validTimeframes = map[Timeframe]bool{
	TF_M1: true, TF_M5: true, TF_M15: true, TF_M30: true, TF_H1: true, TF_H4: true, TF_D1: true,
}

// RiskConfig mirrors spec.md §6 "risk" section. Pointer fields are nil
// when unset so merge can distinguish "inherit" from "zero".
type RiskConfig struct {
	RiskPercent          *float64 `yaml:"risk_percent"`
	MaxPositionSize      *float64 `yaml:"max_position_size"`
	MinPositionSize      *float64 `yaml:"min_position_size"`
	MaxConcurrentTrades  *int     `yaml:"max_concurrent_trades"`
	PortfolioRiskPercent *float64 `yaml:"portfolio_risk_percent"`
}

// ExecutionConfig mirrors spec.md §6 "execution" section.
type ExecutionConfig struct {
	IntervalSeconds      *int  `yaml:"interval_seconds"`
	ParallelExecution    *bool `yaml:"parallel_execution"`
	MaxWorkers           *int  `yaml:"max_workers"`
	UseIntelligentPosMgr *bool `yaml:"use_intelligent_position_manager"`
	UseMLEnhancement     *bool `yaml:"use_ml_enhancement"`
	UseSentimentFilter   *bool `yaml:"use_sentiment_filter"`
}

// TradingRulesConfig mirrors spec.md §6 "trading_rules" section.
type TradingRulesConfig struct {
	CooldownSeconds     *int     `yaml:"cooldown_seconds"`
	TradeOnSignalChange *bool    `yaml:"trade_on_signal_change"`
	MinSignalConfidence *float64 `yaml:"min_signal_confidence"`
}

// StrategyConfig mirrors spec.md §6 "strategy" section.
type StrategyConfig struct {
	Kind       *StrategyKind `yaml:"kind"`
	Timeframe  *Timeframe    `yaml:"timeframe"`
	FastPeriod *int          `yaml:"fast_period"`
	SlowPeriod *int          `yaml:"slow_period"`
	SLPips     *float64      `yaml:"sl_pips"`
	TPPips     *float64      `yaml:"tp_pips"`
}

// PositionManagementConfig mirrors spec.md §6 "position_management".
type PositionManagementConfig struct {
	EnableBreakeven           *bool    `yaml:"enable_breakeven"`
	BreakevenTriggerPips      *float64 `yaml:"breakeven_trigger_pips"`
	BreakevenOffsetPips       *float64 `yaml:"breakeven_offset_pips"`
	EnableTrailingStop        *bool    `yaml:"enable_trailing_stop"`
	TrailingActivationPips    *float64 `yaml:"trailing_activation_pips"`
	TrailingStopPips          *float64 `yaml:"trailing_stop_pips"`
	EnablePartialClose        *bool    `yaml:"enable_partial_close"`
	PartialCloseTriggerPips   *float64 `yaml:"partial_close_trigger_pips"`
	PartialClosePercent       *float64 `yaml:"partial_close_percent"`
	EnableDynamicTP           *bool    `yaml:"enable_dynamic_tp"`
	TPExtensionTriggerPercent *float64 `yaml:"tp_extension_trigger_percent"`
	TPExtensionPips           *float64 `yaml:"tp_extension_pips"`
}

// EmergencyConfig mirrors spec.md §6 "emergency" section.
type EmergencyConfig struct {
	EmergencyStop       *bool    `yaml:"emergency_stop"`
	CloseAllOnEmergency *bool    `yaml:"close_all_on_emergency"`
	MaxDailyLossPercent *float64 `yaml:"max_daily_loss_percent"`
}

// SymbolConfig is one symbol entry under an account, with optional
// per-field overrides (spec.md §3 SymbolConfig).
type SymbolConfig struct {
	Symbol             string                    `yaml:"symbol"`
	Enabled            bool                      `yaml:"enabled"`
	Risk               *RiskConfig               `yaml:"risk"`
	Strategy           *StrategyConfig           `yaml:"strategy"`
	TradingRules       *TradingRulesConfig       `yaml:"trading_rules"`
	PositionManagement *PositionManagementConfig `yaml:"position_management"`
}

// AccountConfig is one account's overrides plus its symbol list
// (spec.md §3 AccountConfig).
type AccountConfig struct {
	Risk               *RiskConfig               `yaml:"risk"`
	Execution          *ExecutionConfig          `yaml:"execution"`
	TradingRules       *TradingRulesConfig       `yaml:"trading_rules"`
	Strategy           *StrategyConfig           `yaml:"strategy"`
	PositionManagement *PositionManagementConfig `yaml:"position_management"`
	Emergency          *EmergencyConfig          `yaml:"emergency"`
	Symbols            []SymbolConfig            `yaml:"symbols"`
}

// Defaults is the top-level fallback layer.
type Defaults struct {
	Risk               RiskConfig               `yaml:"risk"`
	Execution          ExecutionConfig          `yaml:"execution"`
	TradingRules       TradingRulesConfig       `yaml:"trading_rules"`
	Strategy           StrategyConfig           `yaml:"strategy"`
	PositionManagement PositionManagementConfig `yaml:"position_management"`
	Emergency          EmergencyConfig          `yaml:"emergency"`
}

// Document is the raw, as-parsed configuration document (spec.md §6).
type Document struct {
	Version  int                     `yaml:"version"`
	Defaults Defaults                `yaml:"defaults"`
	Accounts map[int64]AccountConfig `yaml:"accounts"`
}

// ConfigurationSet is the immutable, validated result of Load. A reload
// replaces it wholesale; it is never mutated in place (spec.md §3).
type ConfigurationSet struct {
	Defaults Defaults
	Accounts map[int64]AccountConfig
	hash     [32]byte
}

// ConfigError marks a condition fatal to the first load (spec.md §4.1
// Failure model); on reload it is logged and the previous set retained.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error loading %q: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError is one rule violation surfaced by Validate. Validate
// never fails fast: every violation in the document is reported.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func canonicalHash(raw []byte) ([32]byte, error) {
	// Re-marshal through a generic map so key order and formatting noise
	// never change the fingerprint, only semantic content does.
	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return [32]byte{}, err
	}
	canonical := canonicalize(generic)
	b, err := yaml.Marshal(canonical)
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(b)
}

// canonicalize rebuilds the decoded document recursively as plain maps and
// slices. yaml.v3 emits map keys in sorted order, so yaml.Marshal always
// emits the same byte stream for semantically identical documents.
func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = canonicalize(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

// Load reads and parses the hierarchical document at path, validates it,
// and returns an immutable ConfigurationSet. A ConfigError here is fatal
// to the process per spec.md §4.1.
func Load(path string) (*ConfigurationSet, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied config location
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	expanded := os.ExpandEnv(string(raw))

	var doc Document
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("parsing: %w", err)}
	}

	if doc.Version != SupportedMajorVersion {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("unsupported config version %d, want %d", doc.Version, SupportedMajorVersion)}
	}

	set := &ConfigurationSet{Defaults: doc.Defaults, Accounts: doc.Accounts}
	if errs := Validate(set); len(errs) > 0 {
		joined := make([]string, len(errs))
		for i, e := range errs {
			joined[i] = e.Error()
		}
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("%d validation error(s): %s", len(errs), strings.Join(joined, "; "))}
	}

	hash, err := canonicalHash([]byte(expanded))
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	set.hash = hash

	return set, nil
}

// ReloadOutcome is the result of ReloadIfChanged.
type ReloadOutcome int

const (
	Unchanged ReloadOutcome = iota
	Changed
)

// ReloadIfChanged reloads path and compares its content hash against
// current. On a hash match it returns Unchanged and the original set. On a
// ConfigError it returns the previous set unchanged; the caller is
// responsible for logging (spec.md §4.1).
func ReloadIfChanged(path string, current *ConfigurationSet) (*ConfigurationSet, ReloadOutcome, error) {
	next, err := Load(path)
	if err != nil {
		return current, Unchanged, err
	}
	if current != nil && next.hash == current.hash {
		return current, Unchanged, nil
	}
	return next, Changed, nil
}

// NotFoundError indicates Resolve could not find the account or symbol.
type NotFoundError struct {
	AccountID int64
	Symbol    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no effective config for account %d symbol %q", e.AccountID, e.Symbol)
}

// EffectiveSymbolConfig is the fully-populated, strongly-typed view
// presented to the Symbol Trader (spec.md §3).
type EffectiveSymbolConfig struct {
	AccountID int64
	Symbol    string
	Enabled   bool

	RiskPercent          float64
	MaxPositionSize      float64
	MinPositionSize      float64
	MaxConcurrentTrades  int
	PortfolioRiskPercent float64

	IntervalSeconds      int
	ParallelExecution    bool
	MaxWorkers           int
	UseIntelligentPosMgr bool
	UseMLEnhancement     bool
	UseSentimentFilter   bool

	CooldownSeconds     int
	TradeOnSignalChange bool
	MinSignalConfidence float64

	StrategyKind StrategyKind
	Timeframe    Timeframe
	FastPeriod   int
	SlowPeriod   int
	SLPips       float64
	TPPips       float64

	EnableBreakeven           bool
	BreakevenTriggerPips      float64
	BreakevenOffsetPips       float64
	EnableTrailingStop        bool
	TrailingActivationPips    float64
	TrailingStopPips          float64
	EnablePartialClose        bool
	PartialCloseTriggerPips   float64
	PartialClosePercent       float64
	EnableDynamicTP           bool
	TPExtensionTriggerPercent float64
	TPExtensionPips           float64

	EmergencyStop       bool
	CloseAllOnEmergency bool
	MaxDailyLossPercent float64
}

// Resolve merges Defaults <- AccountConfig <- SymbolConfig, child taking
// precedence per leaf field, and returns NotFound if the symbol is absent
// or the account unknown (spec.md §4.1). Resolve is idempotent: calling it
// twice on the same set returns an equal value (spec.md §8).
func (set *ConfigurationSet) Resolve(accountID int64, symbol string) (*EffectiveSymbolConfig, error) {
	acc, ok := set.Accounts[accountID]
	if !ok {
		return nil, &NotFoundError{AccountID: accountID, Symbol: symbol}
	}

	var sym *SymbolConfig
	for i := range acc.Symbols {
		if acc.Symbols[i].Symbol == symbol {
			sym = &acc.Symbols[i]
			break
		}
	}
	if sym == nil {
		return nil, &NotFoundError{AccountID: accountID, Symbol: symbol}
	}

	eff := &EffectiveSymbolConfig{AccountID: accountID, Symbol: symbol, Enabled: sym.Enabled}

	risk := mergeRisk(&set.Defaults.Risk, acc.Risk, sym.Risk)
	eff.RiskPercent = *risk.RiskPercent
	eff.MaxPositionSize = *risk.MaxPositionSize
	eff.MinPositionSize = *risk.MinPositionSize
	eff.MaxConcurrentTrades = *risk.MaxConcurrentTrades
	eff.PortfolioRiskPercent = *risk.PortfolioRiskPercent

	exec := mergeExecution(&set.Defaults.Execution, acc.Execution)
	eff.IntervalSeconds = *exec.IntervalSeconds
	eff.ParallelExecution = *exec.ParallelExecution
	eff.MaxWorkers = *exec.MaxWorkers
	eff.UseIntelligentPosMgr = *exec.UseIntelligentPosMgr
	eff.UseMLEnhancement = *exec.UseMLEnhancement
	eff.UseSentimentFilter = *exec.UseSentimentFilter

	rules := mergeTradingRules(&set.Defaults.TradingRules, acc.TradingRules, sym.TradingRules)
	eff.CooldownSeconds = *rules.CooldownSeconds
	eff.TradeOnSignalChange = *rules.TradeOnSignalChange
	eff.MinSignalConfidence = *rules.MinSignalConfidence

	strat := mergeStrategy(&set.Defaults.Strategy, acc.Strategy, sym.Strategy)
	eff.StrategyKind = *strat.Kind
	eff.Timeframe = *strat.Timeframe
	eff.FastPeriod = *strat.FastPeriod
	eff.SlowPeriod = *strat.SlowPeriod
	eff.SLPips = *strat.SLPips
	eff.TPPips = *strat.TPPips

	pm := mergePositionManagement(&set.Defaults.PositionManagement, acc.PositionManagement, sym.PositionManagement)
	eff.EnableBreakeven = *pm.EnableBreakeven
	eff.BreakevenTriggerPips = *pm.BreakevenTriggerPips
	eff.BreakevenOffsetPips = *pm.BreakevenOffsetPips
	eff.EnableTrailingStop = *pm.EnableTrailingStop
	eff.TrailingActivationPips = *pm.TrailingActivationPips
	eff.TrailingStopPips = *pm.TrailingStopPips
	eff.EnablePartialClose = *pm.EnablePartialClose
	eff.PartialCloseTriggerPips = *pm.PartialCloseTriggerPips
	eff.PartialClosePercent = *pm.PartialClosePercent
	eff.EnableDynamicTP = *pm.EnableDynamicTP
	eff.TPExtensionTriggerPercent = *pm.TPExtensionTriggerPercent
	eff.TPExtensionPips = *pm.TPExtensionPips

	em := mergeEmergency(&set.Defaults.Emergency, acc.Emergency)
	eff.EmergencyStop = *em.EmergencyStop
	eff.CloseAllOnEmergency = *em.CloseAllOnEmergency
	eff.MaxDailyLossPercent = *em.MaxDailyLossPercent

	return eff, nil
}

// SymbolNames returns every symbol configured for an account, in document
// order, regardless of enabled state.
func (set *ConfigurationSet) SymbolNames(accountID int64) []string {
	acc, ok := set.Accounts[accountID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(acc.Symbols))
	for _, s := range acc.Symbols {
		names = append(names, s.Symbol)
	}
	return names
}

func boolPtr(b bool) *bool                        { return &b }
func intPtr(i int) *int                           { return &i }
func floatPtr(f float64) *float64                 { return &f }
func strategyKindPtr(k StrategyKind) *StrategyKind { return &k }
func timeframePtr(t Timeframe) *Timeframe          { return &t }

func coalesceFloat(layers ...*float64) *float64 {
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] != nil {
			return layers[i]
		}
	}
	return floatPtr(0)
}

func coalesceInt(layers ...*int) *int {
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] != nil {
			return layers[i]
		}
	}
	return intPtr(0)
}

func coalesceBool(layers ...*bool) *bool {
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] != nil {
			return layers[i]
		}
	}
	return boolPtr(false)
}

func mergeRisk(d *RiskConfig, layers ...*RiskConfig) RiskConfig {
	get := func(f func(*RiskConfig) *float64) *float64 {
		vals := []*float64{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceFloat(vals...)
	}
	getInt := func(f func(*RiskConfig) *int) *int {
		vals := []*int{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceInt(vals...)
	}
	return RiskConfig{
		RiskPercent:          get(func(r *RiskConfig) *float64 { return r.RiskPercent }),
		MaxPositionSize:      get(func(r *RiskConfig) *float64 { return r.MaxPositionSize }),
		MinPositionSize:      get(func(r *RiskConfig) *float64 { return r.MinPositionSize }),
		MaxConcurrentTrades:  getInt(func(r *RiskConfig) *int { return r.MaxConcurrentTrades }),
		PortfolioRiskPercent: get(func(r *RiskConfig) *float64 { return r.PortfolioRiskPercent }),
	}
}

func mergeExecution(d *ExecutionConfig, layers ...*ExecutionConfig) ExecutionConfig {
	getBool := func(f func(*ExecutionConfig) *bool) *bool {
		vals := []*bool{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceBool(vals...)
	}
	getInt := func(f func(*ExecutionConfig) *int) *int {
		vals := []*int{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceInt(vals...)
	}
	return ExecutionConfig{
		IntervalSeconds:      getInt(func(e *ExecutionConfig) *int { return e.IntervalSeconds }),
		ParallelExecution:    getBool(func(e *ExecutionConfig) *bool { return e.ParallelExecution }),
		MaxWorkers:           getInt(func(e *ExecutionConfig) *int { return e.MaxWorkers }),
		UseIntelligentPosMgr: getBool(func(e *ExecutionConfig) *bool { return e.UseIntelligentPosMgr }),
		UseMLEnhancement:     getBool(func(e *ExecutionConfig) *bool { return e.UseMLEnhancement }),
		UseSentimentFilter:   getBool(func(e *ExecutionConfig) *bool { return e.UseSentimentFilter }),
	}
}

func mergeTradingRules(d *TradingRulesConfig, layers ...*TradingRulesConfig) TradingRulesConfig {
	getBool := func(f func(*TradingRulesConfig) *bool) *bool {
		vals := []*bool{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceBool(vals...)
	}
	getInt := func(f func(*TradingRulesConfig) *int) *int {
		vals := []*int{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceInt(vals...)
	}
	getFloat := func(f func(*TradingRulesConfig) *float64) *float64 {
		vals := []*float64{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceFloat(vals...)
	}
	return TradingRulesConfig{
		CooldownSeconds:     getInt(func(t *TradingRulesConfig) *int { return t.CooldownSeconds }),
		TradeOnSignalChange: getBool(func(t *TradingRulesConfig) *bool { return t.TradeOnSignalChange }),
		MinSignalConfidence: getFloat(func(t *TradingRulesConfig) *float64 { return t.MinSignalConfidence }),
	}
}

func mergeStrategy(d *StrategyConfig, layers ...*StrategyConfig) StrategyConfig {
	kind := d.Kind
	tf := d.Timeframe
	for _, l := range layers {
		if l == nil {
			continue
		}
		if l.Kind != nil {
			kind = l.Kind
		}
		if l.Timeframe != nil {
			tf = l.Timeframe
		}
	}
	if kind == nil {
		kind = strategyKindPtr(StrategyMACrossover)
	}
	if tf == nil {
		tf = timeframePtr(TF_H1)
	}
	getInt := func(f func(*StrategyConfig) *int) *int {
		vals := []*int{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceInt(vals...)
	}
	getFloat := func(f func(*StrategyConfig) *float64) *float64 {
		vals := []*float64{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceFloat(vals...)
	}
	return StrategyConfig{
		Kind:       kind,
		Timeframe:  tf,
		FastPeriod: getInt(func(s *StrategyConfig) *int { return s.FastPeriod }),
		SlowPeriod: getInt(func(s *StrategyConfig) *int { return s.SlowPeriod }),
		SLPips:     getFloat(func(s *StrategyConfig) *float64 { return s.SLPips }),
		TPPips:     getFloat(func(s *StrategyConfig) *float64 { return s.TPPips }),
	}
}

func mergePositionManagement(d *PositionManagementConfig, layers ...*PositionManagementConfig) PositionManagementConfig {
	getBool := func(f func(*PositionManagementConfig) *bool) *bool {
		vals := []*bool{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceBool(vals...)
	}
	getFloat := func(f func(*PositionManagementConfig) *float64) *float64 {
		vals := []*float64{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceFloat(vals...)
	}
	return PositionManagementConfig{
		EnableBreakeven:           getBool(func(p *PositionManagementConfig) *bool { return p.EnableBreakeven }),
		BreakevenTriggerPips:      getFloat(func(p *PositionManagementConfig) *float64 { return p.BreakevenTriggerPips }),
		BreakevenOffsetPips:       getFloat(func(p *PositionManagementConfig) *float64 { return p.BreakevenOffsetPips }),
		EnableTrailingStop:        getBool(func(p *PositionManagementConfig) *bool { return p.EnableTrailingStop }),
		TrailingActivationPips:    getFloat(func(p *PositionManagementConfig) *float64 { return p.TrailingActivationPips }),
		TrailingStopPips:          getFloat(func(p *PositionManagementConfig) *float64 { return p.TrailingStopPips }),
		EnablePartialClose:        getBool(func(p *PositionManagementConfig) *bool { return p.EnablePartialClose }),
		PartialCloseTriggerPips:   getFloat(func(p *PositionManagementConfig) *float64 { return p.PartialCloseTriggerPips }),
		PartialClosePercent:       getFloat(func(p *PositionManagementConfig) *float64 { return p.PartialClosePercent }),
		EnableDynamicTP:           getBool(func(p *PositionManagementConfig) *bool { return p.EnableDynamicTP }),
		TPExtensionTriggerPercent: getFloat(func(p *PositionManagementConfig) *float64 { return p.TPExtensionTriggerPercent }),
		TPExtensionPips:           getFloat(func(p *PositionManagementConfig) *float64 { return p.TPExtensionPips }),
	}
}

func mergeEmergency(d *EmergencyConfig, layers ...*EmergencyConfig) EmergencyConfig {
	getBool := func(f func(*EmergencyConfig) *bool) *bool {
		vals := []*bool{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceBool(vals...)
	}
	getFloat := func(f func(*EmergencyConfig) *float64) *float64 {
		vals := []*float64{f(d)}
		for _, l := range layers {
			if l != nil {
				vals = append(vals, f(l))
			}
		}
		return coalesceFloat(vals...)
	}
	return EmergencyConfig{
		EmergencyStop:       getBool(func(e *EmergencyConfig) *bool { return e.EmergencyStop }),
		CloseAllOnEmergency: getBool(func(e *EmergencyConfig) *bool { return e.CloseAllOnEmergency }),
		MaxDailyLossPercent: getFloat(func(e *EmergencyConfig) *float64 { return e.MaxDailyLossPercent }),
	}
}

// Validate enumerates every rule violation in the document; it never
// fails fast (spec.md §4.1).
func Validate(set *ConfigurationSet) []ValidationError {
	var errs []ValidationError

	for accountID, acc := range set.Accounts {
		for _, sym := range acc.Symbols {
			if !sym.Enabled {
				continue
			}
			eff, err := set.Resolve(accountID, sym.Symbol)
			if err != nil {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("accounts[%d].symbols[%s]", accountID, sym.Symbol),
					Message: err.Error(),
				})
				continue
			}
			path := fmt.Sprintf("accounts[%d].symbols[%s]", accountID, sym.Symbol)
			if eff.RiskPercent <= 0 || eff.RiskPercent > 10 {
				errs = append(errs, ValidationError{Path: path + ".risk_percent", Message: "must be in (0,10]"})
			}
			if eff.SLPips <= 0 {
				errs = append(errs, ValidationError{Path: path + ".sl_pips", Message: "must be > 0"})
			}
			if eff.TPPips <= 0 {
				errs = append(errs, ValidationError{Path: path + ".tp_pips", Message: "must be > 0"})
			}
			if eff.FastPeriod >= eff.SlowPeriod {
				errs = append(errs, ValidationError{Path: path + ".strategy", Message: "fast_period must be < slow_period"})
			}
			if !validStrategyKinds[eff.StrategyKind] {
				errs = append(errs, ValidationError{Path: path + ".strategy.kind", Message: fmt.Sprintf("unrecognized strategy kind %q", eff.StrategyKind)})
			}
			if !validTimeframes[eff.Timeframe] {
				errs = append(errs, ValidationError{Path: path + ".strategy.timeframe", Message: fmt.Sprintf("unrecognized timeframe %q", eff.Timeframe)})
			}
		}
	}

	return errs
}

// ReloadPollInterval is the default coarse poll cadence for
// reload_if_changed (spec.md §4.1: default 60s).
const ReloadPollInterval = 60 * time.Second
