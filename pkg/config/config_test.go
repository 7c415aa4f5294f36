package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
environment: test
accounts:
  - id: acc1
products:
  - product: EURUSD
    strategies: [14, 5]
    timeframes:
      - tf: 1
        permit_min: 85
        permit_max: 95
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, 250*time.Millisecond, c.Engine.TickInterval)
	assert.Equal(t, 300, c.Engine.Lookback)
	assert.Equal(t, 5000, c.Engine.MaxBacktestBars)
	assert.Equal(t, "fixed", c.Amount.Mode)
	assert.Equal(t, 10.0, c.Amount.ACap)
	assert.Equal(t, 3, c.Executor.MaxSendAttempts)
	assert.Equal(t, 120*time.Second, c.Executor.ConfirmTimeout)
	assert.Equal(t, 10*time.Minute, c.Guardrails.CBCooldown)
	assert.Equal(t, "sqlite", c.Storage.Driver)
	assert.Equal(t, 1000.0, c.Accounts[0].Balance)
	assert.False(t, c.Accounts[0].Disabled)
	assert.True(t, c.Features.TradeEnabled)
	assert.True(t, c.Features.PaperMode)

	tf := c.TimeframeFor("EURUSD", 1)
	assert.Equal(t, 0.70, tf.WinThreshold)
	assert.Equal(t, 85.0, tf.PermitMin)
	assert.Equal(t, []int{14, 5}, c.StrategiesFor("EURUSD"))

	def := c.TimeframeFor("GBPUSD", 5)
	assert.Equal(t, 89.0, def.PermitMin)
	assert.Equal(t, 93.0, def.PermitMax)
}

func TestParseKeepsExplicitFalse(t *testing.T) {
	c, err := Parse([]byte(`
features:
  trade_enabled: false
  paper_mode: false
accounts:
  - id: live-1
    disabled: true
    balance: 250
`))
	require.NoError(t, err)

	assert.False(t, c.Features.TradeEnabled)
	assert.False(t, c.Features.PaperMode)
	assert.True(t, c.Accounts[0].Disabled)
	assert.Equal(t, 250.0, c.Accounts[0].Balance)
}

func TestParseRejectsInvalidPermitWindow(t *testing.T) {
	_, err := Parse([]byte(`
products:
  - product: EURUSD
    timeframes:
      - tf: 1
        permit_min: 95
        permit_max: 90
`))
	require.Error(t, err)
}

func TestParseRejectsUnknownTimeframe(t *testing.T) {
	_, err := Parse([]byte(`
products:
  - product: EURUSD
    timeframes:
      - tf: 3
`))
	require.Error(t, err)
}

func TestParseRejectsDuplicateAccounts(t *testing.T) {
	_, err := Parse([]byte(`
accounts:
  - id: a
  - id: a
`))
	require.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	t.Setenv("FT_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("FT_KILL_SWITCH", "true")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", c.Storage.SQLitePath)
	assert.True(t, c.Guardrails.KillSwitch)
}
