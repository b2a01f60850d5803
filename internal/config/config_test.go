package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresBrokerCredentials(t *testing.T) {
	t.Setenv("BROKER_API_KEY", "")
	t.Setenv("BROKER_USERNAME", "")
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "risk.db"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKER_API_KEY")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Setenv("BROKER_API_KEY", "key")
	t.Setenv("BROKER_USERNAME", "user")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("RULES_PATH", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./data/risk.db", cfg.DatabasePath)
	assert.Equal(t, "./config/rules.yaml", cfg.RulesPath)
}

const validRulesYAML = `
general:
  instruments: [ES, NQ]
  timezone: America/New_York
  ticks:
    ES:
      tick_size: 0.25
      tick_value: 12.50
rules:
  max_contracts:
    enabled: true
    limit: 10
  daily_realized_loss:
    enabled: true
    limit: -1000
  trade_frequency_limit:
    enabled: true
    limits:
      per_minute: 5
      per_hour: 20
    cooldown_duration_seconds: 300
  cooldown_after_loss:
    enabled: true
    loss_thresholds:
      - loss_amount: 300
        cooldown_duration: 300
  session_block_outside:
    enabled: true
    allowed_hours:
      start: "09:30"
      end: "16:00"
    timezone: America/New_York
    weekdays: [1, 2, 3, 4, 5]
timers:
  daily_reset:
    time: "17:00"
    timezone: America/New_York
`

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRules_ValidDocument(t *testing.T) {
	path := writeRulesFile(t, validRulesYAML)

	doc, err := LoadRules(path)
	require.NoError(t, err)

	cfg := doc.ToRulesConfig()
	assert.True(t, cfg.MaxContracts.Enabled)
	assert.EqualValues(t, 10, cfg.MaxContracts.Limit)
	assert.True(t, cfg.DailyRealizedLoss.Enabled)
	assert.Equal(t, "-1000.00", cfg.DailyRealizedLoss.Limit.String())
	require.Len(t, cfg.TradeFrequencyLimit.Tiers, 2)
	assert.Equal(t, "per_minute", cfg.TradeFrequencyLimit.Tiers[0].Name)

	engineCfg := doc.ToEngineConfig()
	assert.Equal(t, "17:00", engineCfg.ResetTime)
	assert.Equal(t, "America/New_York", engineCfg.Timezone)
	assert.Contains(t, engineCfg.Ticks, "ES")

	resetCfg := doc.ToResetConfig()
	assert.Equal(t, "17:00", resetCfg.ResetTime)
}

func TestLoadRules_MissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestValidator_RejectsMissingGeneralSection(t *testing.T) {
	doc := &RulesDocument{}
	doc.Timers.DailyReset.Time = "17:00"
	doc.Timers.DailyReset.Timezone = "America/New_York"

	err := NewValidator().Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "general.timezone")
	assert.Contains(t, err.Error(), "general.instruments")
}

func TestValidator_RejectsPositiveLossLimit(t *testing.T) {
	doc := &RulesDocument{}
	doc.General.Timezone = "America/New_York"
	doc.General.Instruments = []string{"ES"}
	doc.Timers.DailyReset.Time = "17:00"
	doc.Timers.DailyReset.Timezone = "America/New_York"
	doc.Rules.DailyRealizedLoss.Enabled = true
	doc.Rules.DailyRealizedLoss.Limit = 500 // should be negative

	err := NewValidator().Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rules.daily_realized_loss.limit")
}

func TestValidator_ValidateQuick_SkipsRuleDetail(t *testing.T) {
	doc := &RulesDocument{}
	doc.General.Timezone = "America/New_York"
	doc.Timers.DailyReset.Time = "17:00"
	// Rule-level errors (e.g. a positive loss limit) are not caught by
	// ValidateQuick; only full Validate catches them.
	doc.Rules.DailyRealizedLoss.Enabled = true
	doc.Rules.DailyRealizedLoss.Limit = 500

	require.NoError(t, NewValidator().ValidateQuick(doc))
}
