package strategy

import (
	"testing"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{TsMs: int64(i) * 60_000, Close: c}
	}
	return out
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

var pctx = service.ProviderContext{Product: "EURUSD", Timeframe: 1, PayoutPct: 90}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, []int{IDEMARSI, IDRSIReversal, IDEMACrossover}, r.IDs())

	meta := r.Metadata()
	require.Len(t, meta, 3)
	assert.Equal(t, "ema_rsi", meta[0].Name)
	assert.Equal(t, 7.0, meta[0].Defaults["rsi_len"])
	assert.Equal(t, IDEMACrossover, meta[2].ID)

	all, err := r.BuildAll(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRegistryErrors(t *testing.T) {
	r := NewDefaultRegistry()

	err := r.Register(IDEMARSI, Metadata{Name: "dup"}, NewEMARSI)
	assert.ErrorIs(t, err, ErrDuplicateStrategy)

	_, err = r.Build(99, nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = r.Build(IDEMACrossover, map[string]float64{"fast": 30, "slow": 10})
	assert.Error(t, err)
}

func TestBuildOverridesDefaults(t *testing.T) {
	p, err := NewDefaultRegistry().Build(IDEMACrossover, map[string]float64{"slow": 30})
	require.NoError(t, err)
	assert.Equal(t, 32, p.WarmupBars())
	assert.Equal(t, IDEMACrossover, p.ID())
}

func TestEMACrossoverDetectsCross(t *testing.T) {
	p, err := NewDefaultRegistry().Build(IDEMACrossover, nil)
	require.NoError(t, err)

	up := append(linear(39, 100, -0.1), 110)
	v, err := p.Evaluate(series(up...), nil, pctx)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 1, v.Vote)
	assert.Greater(t, v.Score, 0.0)

	down := append(linear(39, 100, 0.1), 90)
	v, err = p.Evaluate(series(down...), nil, pctx)
	require.NoError(t, err)
	assert.Equal(t, -1, v.Vote)
	assert.Greater(t, v.Score, 0.0)

	v, err = p.Evaluate(series(linear(40, 100, 0.1)...), nil, pctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Vote, "steady trend has no fresh cross")
}

func TestEMACrossoverNeedsWarmup(t *testing.T) {
	p, _ := NewDefaultRegistry().Build(IDEMACrossover, nil)
	v, err := p.Evaluate(series(linear(10, 1, 1)...), nil, pctx)
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestEMARSIFollowsConfirmedTrend(t *testing.T) {
	p, err := NewDefaultRegistry().Build(IDEMARSI, nil)
	require.NoError(t, err)

	v, err := p.Evaluate(series(linear(40, 100, 0.5)...), nil, pctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Vote)
	assert.Greater(t, v.Score, 0.0)

	v, err = p.Evaluate(series(linear(40, 100, -0.5)...), nil, pctx)
	require.NoError(t, err)
	assert.Equal(t, -1, v.Vote)
	assert.Greater(t, v.Score, 0.0)

	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 100
	}
	v, err = p.Evaluate(series(flat...), nil, pctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Vote)
}

func TestRSIReversal(t *testing.T) {
	p, err := NewDefaultRegistry().Build(IDRSIReversal, nil)
	require.NoError(t, err)

	v, err := p.Evaluate(series(linear(30, 100, -1)...), nil, pctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Vote)
	assert.InDelta(t, 1.0, v.Score, 1e-9)

	v, err = p.Evaluate(series(linear(30, 100, 1)...), nil, pctx)
	require.NoError(t, err)
	assert.Equal(t, -1, v.Vote)
}
