package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalYAML = `
market:
  primary:
    name: fakequote
    base_url: https://quote.example.com
`

func TestLoad_MinimalAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "app.yaml", minimalYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9980", cfg.App.HTTPAddr)

	assert.Equal(t, "fakequote", cfg.Market.Primary.Name)
	assert.Equal(t, 10, cfg.Market.Primary.TimeoutSeconds)
	assert.InDelta(t, 5.0, cfg.Market.RatePerSec, 1e-9)
	assert.Equal(t, 10, cfg.Market.RateBurst)
	assert.Equal(t, 5, cfg.Market.BreakerThreshold)
	assert.False(t, cfg.Market.HasSecondary())

	assert.Equal(t, "paper", cfg.Broker.Mode)
	assert.InDelta(t, 0.65, cfg.Broker.CommissionPerContract, 1e-9)

	assert.Equal(t, "5m", cfg.Engine.Interval)
	assert.Equal(t, 5, cfg.Engine.OffsetSeconds)
	assert.Equal(t, 4, cfg.Engine.Parallelism)
	assert.Equal(t, 260, cfg.Engine.Lookback)
	assert.Equal(t, 120, cfg.Engine.ReconcileAfterSeconds)
	assert.Equal(t, 3, cfg.Engine.RetryAttempts)

	// 权重组全空时整组套默认值，且各自总和为 1。
	sigSum := cfg.Signal.MAShort + cfg.Signal.MAMid + cfg.Signal.MALong +
		cfg.Signal.RSI + cfg.Signal.MACD + cfg.Signal.Volume + cfg.Signal.YearRange
	assert.InDelta(t, 1.0, sigSum, 1e-9)
	assert.InDelta(t, 0.45, cfg.Matcher.Delta, 1e-9)
	assert.InDelta(t, 1.0, cfg.Matcher.Delta+cfg.Matcher.DTE+cfg.Matcher.Liquidity+cfg.Matcher.Spread, 1e-9)

	assert.Equal(t, 600, cfg.Monitor.StuckTimeoutSeconds)
	assert.Equal(t, "America/New_York", cfg.Calendar.Timezone)
	assert.Equal(t, "09:30", cfg.Calendar.OpenTime)
	assert.Equal(t, "16:00", cfg.Calendar.CloseTime)
	assert.Equal(t, "data/db/ledger.db", cfg.Store.LedgerPath)
	assert.Equal(t, "data/db/cycles.db", cfg.Store.CycleLogPath)
	assert.Equal(t, "configs/strategies.yaml", cfg.Strategy.CatalogPath)
}

func TestLoad_ExplicitZeroNotOverriddenByDefault(t *testing.T) {
	// 显式写 0 表示用户的选择，不得被默认值吞掉。
	path := writeConfigFile(t, t.TempDir(), "app.yaml", minimalYAML+`
engine:
  offset_seconds: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Engine.OffsetSeconds)
	assert.Equal(t, "5m", cfg.Engine.Interval) // 未设置的字段照常取默认
}

func TestLoad_PartialSignalWeightsKept(t *testing.T) {
	// 任一权重显式设置即视为整组自定义，不再补默认。
	path := writeConfigFile(t, t.TempDir(), "app.yaml", minimalYAML+`
signal:
  macd: 1.0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cfg.Signal.MACD, 1e-9)
	assert.Zero(t, cfg.Signal.MAShort)
	assert.Zero(t, cfg.Signal.RSI)
}

func TestLoad_IncludeChain(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "base.yaml", `
app:
  log_level: debug
engine:
  interval: 15m
  lookback: 300
`)
	// 主文件最后合并，同名键覆盖 include 的值。
	path := writeConfigFile(t, dir, "app.yaml", `
include:
  - base.yaml
`+minimalYAML+`
engine:
  interval: 1h
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "1h", cfg.Engine.Interval)
	assert.Equal(t, 300, cfg.Engine.Lookback)
}

func TestLoad_IncludeCycleRejected(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", `
include: [b.yaml]
`)
	path := writeConfigFile(t, dir, "b.yaml", `
include: [a.yaml]
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoad_PathErrors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "missing primary base_url",
			yaml:    "app:\n  env: dev\n",
			wantMsg: "market.primary.base_url",
		},
		{
			name:    "missing primary name",
			yaml:    "market:\n  primary:\n    base_url: https://quote.example.com\n",
			wantMsg: "market.primary.name",
		},
		{
			name:    "secondary without name",
			yaml:    minimalYAML + "  secondary:\n    base_url: https://backup.example.com\n",
			wantMsg: "market.secondary.name",
		},
		{
			name:    "unsupported broker mode",
			yaml:    minimalYAML + "broker:\n  mode: live\n",
			wantMsg: "broker.mode",
		},
		{
			name:    "slippage out of range",
			yaml:    minimalYAML + "broker:\n  slippage_pct: 0.5\n",
			wantMsg: "slippage_pct",
		},
		{
			name:    "invalid interval",
			yaml:    minimalYAML + "engine:\n  interval: 7x\n",
			wantMsg: "engine.interval",
		},
		{
			name:    "negative matcher weight",
			yaml:    minimalYAML + "matcher:\n  delta: -0.1\n  dte: 0.5\n",
			wantMsg: "matcher weights",
		},
		{
			name:    "telegram enabled without token",
			yaml:    minimalYAML + "notify:\n  telegram:\n    enabled: true\n    chat_id: \"123\"\n",
			wantMsg: "bot_token",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, t.TempDir(), "app.yaml", tc.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}
