// Package signal implements the Strategy & Signal Composer (C3): turns
// a symbol's recent bars into a directional trading signal, optionally
// adjusted by an ML confidence enhancer and a sentiment filter, with
// per-symbol cooldown and signal-change gating (spec.md §4.3).
package signal

import (
	"fmt"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/ardenq/fleettrader/internal/config"
	"github.com/ardenq/fleettrader/internal/terminal"
)

// Direction is the raw directional call a strategy produces.
type Direction int

const (
	DirFlat Direction = iota
	DirBuy
	DirSell
)

func (d Direction) String() string {
	switch d {
	case DirBuy:
		return "buy"
	case DirSell:
		return "sell"
	default:
		return "flat"
	}
}

// Raw is the strategy's unfiltered output before ML/sentiment
// adjustment (spec.md §4.3).
type Raw struct {
	Direction  Direction
	Confidence float64 // 0..1
}

// Result is the Composer's final output for a symbol pass.
type Result struct {
	Direction  Direction
	Confidence float64
	Reason     string
}

// Strategy computes a Raw signal from a bar series. Implementations
// must be side-effect free: all cooldown/change-gating state lives in
// the Composer, not the strategy.
type Strategy interface {
	OnBar(bars []terminal.Bar) (Raw, error)
}

// Enhancer adjusts a Raw signal's confidence, e.g. with a learned
// model. The null enhancer is the identity function.
type Enhancer interface {
	Enhance(bars []terminal.Bar, raw Raw) (Raw, error)
}

// SentimentFilter can veto or dampen a signal based on external
// sentiment. The null filter passes everything through unchanged.
type SentimentFilter interface {
	Filter(symbol string, raw Raw) (Raw, error)
}

type nullEnhancer struct{}

func (nullEnhancer) Enhance(_ []terminal.Bar, raw Raw) (Raw, error) { return raw, nil }

// NullEnhancer is the no-op Enhancer used when use_ml_enhancement is false.
func NullEnhancer() Enhancer { return nullEnhancer{} }

type nullSentimentFilter struct{}

func (nullSentimentFilter) Filter(_ string, raw Raw) (Raw, error) { return raw, nil }

// NullSentimentFilter is the no-op SentimentFilter used when
// use_sentiment_filter is false.
func NullSentimentFilter() SentimentFilter { return nullSentimentFilter{} }

func closes(bars []terminal.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// maCrossover emits buy while the fast SMA is above the slow SMA, sell
// while it is below, and flat when they are equal or history is short.
type maCrossover struct {
	fast, slow int
}

// NewMACrossover builds the ma_crossover strategy (spec.md §4.3,
// invariant fast_period < slow_period enforced at config validation).
func NewMACrossover(fast, slow int) Strategy { return maCrossover{fast: fast, slow: slow} }

func (s maCrossover) OnBar(bars []terminal.Bar) (Raw, error) {
	c := closes(bars)
	if len(c) < s.slow+2 {
		return Raw{Direction: DirFlat}, nil
	}
	fastMA := talib.Sma(c, s.fast)
	slowMA := talib.Sma(c, s.slow)
	n := len(c)
	curFast, curSlow := fastMA[n-1], slowMA[n-1]

	switch {
	case curFast > curSlow:
		return Raw{Direction: DirBuy, Confidence: 0.6}, nil
	case curFast < curSlow:
		return Raw{Direction: DirSell, Confidence: 0.6}, nil
	default:
		return Raw{Direction: DirFlat}, nil
	}
}

// rsiStrategy emits buy below the oversold threshold, sell above the
// overbought threshold.
type rsiStrategy struct {
	period              int
	oversold, overbought float64
}

// NewRSI builds the rsi strategy with conventional 30/70 thresholds.
func NewRSI(period int) Strategy {
	return rsiStrategy{period: period, oversold: 30, overbought: 70}
}

func (s rsiStrategy) OnBar(bars []terminal.Bar) (Raw, error) {
	c := closes(bars)
	if len(c) < s.period+1 {
		return Raw{Direction: DirFlat}, nil
	}
	rsi := talib.Rsi(c, s.period)
	last := rsi[len(rsi)-1]
	switch {
	case last <= s.oversold:
		return Raw{Direction: DirBuy, Confidence: (s.oversold - last) / s.oversold}, nil
	case last >= s.overbought:
		return Raw{Direction: DirSell, Confidence: (last - s.overbought) / (100 - s.overbought)}, nil
	default:
		return Raw{Direction: DirFlat}, nil
	}
}

// macdStrategy emits on MACD/signal-line crossover.
type macdStrategy struct {
	fast, slow, signal int
}

// NewMACD builds the macd strategy with the conventional 12/26/9 tuning
// overridden by fast/slow from config.
func NewMACD(fast, slow int) Strategy {
	return macdStrategy{fast: fast, slow: slow, signal: 9}
}

func (s macdStrategy) OnBar(bars []terminal.Bar) (Raw, error) {
	c := closes(bars)
	if len(c) < s.slow+s.signal+2 {
		return Raw{Direction: DirFlat}, nil
	}
	macd, signal, _ := talib.Macd(c, s.fast, s.slow, s.signal)
	n := len(macd)
	prevDiff := macd[n-2] - signal[n-2]
	curDiff := macd[n-1] - signal[n-1]
	switch {
	case prevDiff <= 0 && curDiff > 0:
		return Raw{Direction: DirBuy, Confidence: 0.55}, nil
	case prevDiff >= 0 && curDiff < 0:
		return Raw{Direction: DirSell, Confidence: 0.55}, nil
	default:
		return Raw{Direction: DirFlat}, nil
	}
}

// bollingerStrategy emits buy at the lower band, sell at the upper
// band (mean-reversion read, matching aristath-sentinel's formula).
type bollingerStrategy struct {
	period int
	stdDev float64
}

// NewBollinger builds the bollinger strategy with the conventional
// 2-sigma band width.
func NewBollinger(period int) Strategy {
	return bollingerStrategy{period: period, stdDev: 2.0}
}

func (s bollingerStrategy) OnBar(bars []terminal.Bar) (Raw, error) {
	c := closes(bars)
	if len(c) < s.period {
		return Raw{Direction: DirFlat}, nil
	}
	upper, _, lower := talib.BBands(c, s.period, s.stdDev, s.stdDev, 0)
	last := c[len(c)-1]
	switch {
	case last <= lower[len(lower)-1]:
		return Raw{Direction: DirBuy, Confidence: 0.5}, nil
	case last >= upper[len(upper)-1]:
		return Raw{Direction: DirSell, Confidence: 0.5}, nil
	default:
		return Raw{Direction: DirFlat}, nil
	}
}

// multiIndicator votes across ma_crossover, rsi and macd; a direction
// wins only with a strict majority, otherwise flat.
type multiIndicator struct {
	members []Strategy
}

// NewMultiIndicator builds the multi_indicator composite strategy.
func NewMultiIndicator(fast, slow int) Strategy {
	return multiIndicator{members: []Strategy{
		NewMACrossover(fast, slow),
		NewRSI(14),
		NewMACD(fast, slow),
	}}
}

func (s multiIndicator) OnBar(bars []terminal.Bar) (Raw, error) {
	var buys, sells int
	var confSum float64
	for _, m := range s.members {
		r, err := m.OnBar(bars)
		if err != nil {
			return Raw{}, err
		}
		switch r.Direction {
		case DirBuy:
			buys++
			confSum += r.Confidence
		case DirSell:
			sells++
			confSum += r.Confidence
		}
	}
	n := len(s.members)
	switch {
	case buys*2 > n:
		return Raw{Direction: DirBuy, Confidence: confSum / float64(buys)}, nil
	case sells*2 > n:
		return Raw{Direction: DirSell, Confidence: confSum / float64(sells)}, nil
	default:
		return Raw{Direction: DirFlat}, nil
	}
}

// NewStrategy builds the Strategy named by eff.StrategyKind (spec.md §6).
func NewStrategy(eff *config.EffectiveSymbolConfig) (Strategy, error) {
	switch eff.StrategyKind {
	case config.StrategyMACrossover:
		return NewMACrossover(eff.FastPeriod, eff.SlowPeriod), nil
	case config.StrategyRSI:
		return NewRSI(eff.FastPeriod), nil
	case config.StrategyMACD:
		return NewMACD(eff.FastPeriod, eff.SlowPeriod), nil
	case config.StrategyBollinger:
		return NewBollinger(eff.SlowPeriod), nil
	case config.StrategyMultiIndicator:
		return NewMultiIndicator(eff.FastPeriod, eff.SlowPeriod), nil
	default:
		return nil, fmt.Errorf("signal: unsupported strategy kind %q", eff.StrategyKind)
	}
}

// cooldownState tracks per-symbol cooldown and last-emitted direction
// so the Composer can apply spec.md §4.3's change-gating rules.
type cooldownState struct {
	lastEmittedAt time.Time
	lastDirection Direction
}

// Composer wraps a Strategy with an Enhancer, a SentimentFilter and
// per-symbol cooldown/change gating (spec.md §4.3).
type Composer struct {
	strategy  Strategy
	enhancer  Enhancer
	sentiment SentimentFilter

	cooldown            time.Duration
	tradeOnSignalChange bool
	minConfidence       float64

	state map[string]*cooldownState
	now   func() time.Time
}

// NewComposer builds a Composer from the effective per-symbol config.
func NewComposer(eff *config.EffectiveSymbolConfig, strategy Strategy, enhancer Enhancer, sentiment SentimentFilter) *Composer {
	if enhancer == nil {
		enhancer = NullEnhancer()
	}
	if sentiment == nil {
		sentiment = NullSentimentFilter()
	}
	return &Composer{
		strategy:            strategy,
		enhancer:            enhancer,
		sentiment:           sentiment,
		cooldown:            time.Duration(eff.CooldownSeconds) * time.Second,
		tradeOnSignalChange: eff.TradeOnSignalChange,
		minConfidence:       eff.MinSignalConfidence,
		state:               map[string]*cooldownState{},
		now:                 time.Now,
	}
}

// Compose runs the strategy, applies the enhancer and sentiment
// filter, then gates the result by confidence threshold, cooldown and
// (if enabled) signal-change requirements.
func (c *Composer) Compose(symbol string, bars []terminal.Bar) (Result, error) {
	raw, err := c.strategy.OnBar(bars)
	if err != nil {
		return Result{}, fmt.Errorf("signal: strategy: %w", err)
	}
	raw, err = c.enhancer.Enhance(bars, raw)
	if err != nil {
		return Result{}, fmt.Errorf("signal: enhancer: %w", err)
	}
	raw, err = c.sentiment.Filter(symbol, raw)
	if err != nil {
		return Result{}, fmt.Errorf("signal: sentiment filter: %w", err)
	}

	if raw.Direction == DirFlat {
		return Result{Direction: DirFlat, Reason: "strategy flat"}, nil
	}
	if raw.Confidence < c.minConfidence {
		return Result{Direction: DirFlat, Reason: "below min_signal_confidence"}, nil
	}

	st := c.state[symbol]
	if st == nil {
		st = &cooldownState{}
		c.state[symbol] = st
	}

	now := c.now()
	if !st.lastEmittedAt.IsZero() && now.Sub(st.lastEmittedAt) < c.cooldown {
		if !(c.tradeOnSignalChange && raw.Direction != st.lastDirection) {
			return Result{Direction: DirFlat, Reason: "cooldown active"}, nil
		}
	}

	st.lastEmittedAt = now
	st.lastDirection = raw.Direction
	return Result{Direction: raw.Direction, Confidence: raw.Confidence, Reason: "emitted"}, nil
}
