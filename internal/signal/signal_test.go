package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardenq/fleettrader/internal/config"
	"github.com/ardenq/fleettrader/internal/terminal"
)

func makeBars(closes []float64) []terminal.Bar {
	bars := make([]terminal.Bar, len(closes))
	base := time.Unix(0, 0)
	for i, c := range closes {
		bars[i] = terminal.Bar{Time: base.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c}
	}
	return bars
}

func TestMACrossover_EmitsBuyOnGoldenCross(t *testing.T) {
	closes := make([]float64, 0, 30)
	for i := 0; i < 15; i++ {
		closes = append(closes, 100-float64(i)*0.5)
	}
	for i := 0; i < 15; i++ {
		closes = append(closes, 92.5+float64(i)*2)
	}
	s := NewMACrossover(3, 8)
	raw, err := s.OnBar(makeBars(closes))
	require.NoError(t, err)
	assert.Equal(t, DirBuy, raw.Direction)
}

func TestMACrossover_FlatWithInsufficientData(t *testing.T) {
	s := NewMACrossover(10, 20)
	raw, err := s.OnBar(makeBars([]float64{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, DirFlat, raw.Direction)
}

func TestComposer_CooldownSuppressesRepeat(t *testing.T) {
	eff := &config.EffectiveSymbolConfig{
		CooldownSeconds:     300,
		TradeOnSignalChange: true,
		MinSignalConfidence: 0.1,
	}
	c := NewComposer(eff, constStrategy{Raw{Direction: DirBuy, Confidence: 0.9}}, nil, nil)
	fixed := time.Unix(1000, 0)
	c.now = func() time.Time { return fixed }

	first, err := c.Compose("EURUSD", makeBars([]float64{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, DirBuy, first.Direction)

	second, err := c.Compose("EURUSD", makeBars([]float64{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, DirFlat, second.Direction)
	assert.Equal(t, "cooldown active", second.Reason)
}

func TestComposer_TradeOnSignalChangeBypassesCooldown(t *testing.T) {
	eff := &config.EffectiveSymbolConfig{
		CooldownSeconds:     300,
		TradeOnSignalChange: true,
		MinSignalConfidence: 0.1,
	}
	strat := &switchableStrategy{r: Raw{Direction: DirBuy, Confidence: 0.9}}
	c := NewComposer(eff, strat, nil, nil)
	fixed := time.Unix(1000, 0)
	c.now = func() time.Time { return fixed }

	first, err := c.Compose("EURUSD", makeBars([]float64{1}))
	require.NoError(t, err)
	assert.Equal(t, DirBuy, first.Direction)

	strat.r = Raw{Direction: DirSell, Confidence: 0.9}
	second, err := c.Compose("EURUSD", makeBars([]float64{1}))
	require.NoError(t, err)
	assert.Equal(t, DirSell, second.Direction)
}

func TestComposer_BelowMinConfidenceIsFlat(t *testing.T) {
	eff := &config.EffectiveSymbolConfig{CooldownSeconds: 0, MinSignalConfidence: 0.8}
	c := NewComposer(eff, constStrategy{Raw{Direction: DirBuy, Confidence: 0.5}}, nil, nil)
	result, err := c.Compose("EURUSD", makeBars([]float64{1}))
	require.NoError(t, err)
	assert.Equal(t, DirFlat, result.Direction)
}

type constStrategy struct{ r Raw }

func (s constStrategy) OnBar(_ []terminal.Bar) (Raw, error) { return s.r, nil }

type switchableStrategy struct{ r Raw }

func (s *switchableStrategy) OnBar(_ []terminal.Bar) (Raw, error) { return s.r, nil }
