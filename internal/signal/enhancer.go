package signal

import (
	"gonum.org/v1/gonum/stat"

	"github.com/ardenq/fleettrader/internal/terminal"
)

// RegressionEnhancer fits a linear trend to recent closes and shifts
// confidence by 0.15 times the fit's R²: up when the slope agrees with
// the signal's direction, down when it disagrees. This is a deliberately
// simple stand-in for use_ml_enhancement (spec.md §6) — a full model
// is out of scope, but the capability point it plugs into is real.
type RegressionEnhancer struct {
	lookback int
}

// NewRegressionEnhancer builds the gonum-backed Enhancer used when
// use_ml_enhancement is true.
func NewRegressionEnhancer(lookback int) Enhancer {
	if lookback < 3 {
		lookback = 20
	}
	return RegressionEnhancer{lookback: lookback}
}

func (e RegressionEnhancer) Enhance(bars []terminal.Bar, raw Raw) (Raw, error) {
	if raw.Direction == DirFlat || len(bars) < e.lookback {
		return raw, nil
	}
	window := bars[len(bars)-e.lookback:]
	xs := make([]float64, len(window))
	ys := make([]float64, len(window))
	for i, b := range window {
		xs[i] = float64(i)
		ys[i] = b.Close
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, func(x float64) float64 {
		return ys[0] + slope*x
	})

	trendsUp := slope > 0
	aligned := (raw.Direction == DirBuy && trendsUp) || (raw.Direction == DirSell && !trendsUp)

	adjusted := raw.Confidence
	if aligned {
		adjusted = clamp01(raw.Confidence + 0.15*r2)
	} else {
		adjusted = clamp01(raw.Confidence - 0.15*r2)
	}
	return Raw{Direction: raw.Direction, Confidence: adjusted}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
