package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/internal/engine"
	"github.com/aristath/risk-manager/internal/reset"
	"github.com/aristath/risk-manager/internal/rules"
	"github.com/aristath/risk-manager/pkg/money"
)

// RulesDocument is the decoded shape of the YAML rule-configuration file
// (spec §6: "general", "rules" with one subsection per rule, and
// "timers.daily_reset"). Money fields are decoded as plain float64 here
// and converted to money.Money once validated, since YAML has no native
// fixed-point type.
type RulesDocument struct {
	General GeneralSection           `yaml:"general"`
	Rules   RulesSection             `yaml:"rules"`
	Timers  TimersSection            `yaml:"timers"`
}

type GeneralSection struct {
	Instruments []string            `yaml:"instruments"`
	Timezone    string              `yaml:"timezone"`
	StatusBar   bool                `yaml:"status_bar"`
	Ticks       map[string]TickYAML `yaml:"ticks"`
}

type TickYAML struct {
	TickSize  float64 `yaml:"tick_size"`
	TickValue float64 `yaml:"tick_value"`
}

type TimersSection struct {
	DailyReset DailyResetYAML `yaml:"daily_reset"`
}

type DailyResetYAML struct {
	Time     string `yaml:"time"`
	Timezone string `yaml:"timezone"`
}

type RulesSection struct {
	MaxContracts              MaxContractsYAML              `yaml:"max_contracts"`
	MaxContractsPerInstrument MaxContractsPerInstrumentYAML  `yaml:"max_contracts_per_instrument"`
	DailyRealizedLoss         RealizedPnLYAML                `yaml:"daily_realized_loss"`
	DailyRealizedProfit       RealizedPnLYAML                `yaml:"daily_realized_profit"`
	DailyUnrealizedLoss       UnrealizedYAML                 `yaml:"daily_unrealized_loss"`
	MaxUnrealizedProfit       UnrealizedYAML                 `yaml:"max_unrealized_profit"`
	TradeFrequencyLimit       TradeFrequencyYAML             `yaml:"trade_frequency_limit"`
	CooldownAfterLoss         CooldownAfterLossYAML          `yaml:"cooldown_after_loss"`
	NoStopLossGrace           NoStopLossGraceYAML            `yaml:"no_stop_loss_grace"`
	SessionBlockOutside       SessionBlockYAML               `yaml:"session_block_outside"`
	AuthLossGuard             SimpleToggleYAML               `yaml:"auth_loss_guard"`
	SymbolBlocks              SymbolBlocksYAML                `yaml:"symbol_blocks"`
	TradeManagement           TradeManagementYAML            `yaml:"trade_management"`
}

type SimpleToggleYAML struct {
	Enabled bool `yaml:"enabled"`
}

type MaxContractsYAML struct {
	Enabled bool  `yaml:"enabled"`
	Limit   int64 `yaml:"limit"`
}

type MaxContractsPerInstrumentYAML struct {
	Enabled          bool             `yaml:"enabled"`
	DefaultLimit     int64            `yaml:"default_limit"`
	InstrumentLimits map[string]int64 `yaml:"instrument_limits"`
}

type RealizedPnLYAML struct {
	Enabled bool    `yaml:"enabled"`
	Limit   float64 `yaml:"limit"`
	Target  float64 `yaml:"target"`
}

type UnrealizedYAML struct {
	Enabled bool    `yaml:"enabled"`
	Limit   float64 `yaml:"limit"`
}

type FrequencyLimitsYAML struct {
	PerMinute  int `yaml:"per_minute"`
	PerHour    int `yaml:"per_hour"`
	PerSession int `yaml:"per_session"`
}

type TradeFrequencyYAML struct {
	Enabled          bool                `yaml:"enabled"`
	Limits           FrequencyLimitsYAML `yaml:"limits"`
	CooldownDuration int                 `yaml:"cooldown_duration_seconds"`
}

type LossThresholdYAML struct {
	LossAmount       float64 `yaml:"loss_amount"`
	CooldownDuration int     `yaml:"cooldown_duration"` // seconds
}

type CooldownAfterLossYAML struct {
	Enabled        bool                `yaml:"enabled"`
	LossThresholds []LossThresholdYAML `yaml:"loss_thresholds"`
}

type NoStopLossGraceYAML struct {
	Enabled              bool `yaml:"enabled"`
	RequireWithinSeconds int  `yaml:"require_within_seconds"`
}

type AllowedHoursYAML struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type SessionBlockYAML struct {
	Enabled      bool             `yaml:"enabled"`
	AllowedHours AllowedHoursYAML `yaml:"allowed_hours"`
	Timezone     string           `yaml:"timezone"`
	Weekdays     []int            `yaml:"weekdays"` // 0=Sunday..6=Saturday
}

type SymbolBlocksYAML struct {
	Enabled        bool     `yaml:"enabled"`
	BlockedSymbols []string `yaml:"blocked_symbols"`
}

type DistanceYAML struct {
	Enabled  bool  `yaml:"enabled"`
	Distance int64 `yaml:"distance"`
}

type TradeManagementYAML struct {
	Enabled             bool         `yaml:"enabled"`
	AutoStopLoss        DistanceYAML `yaml:"auto_stop_loss"`
	AutoTakeProfit      DistanceYAML `yaml:"auto_take_profit"`
	TrailingStop        DistanceYAML `yaml:"trailing_stop"`
	CheckIntervalSeconds int         `yaml:"check_interval_seconds"`
}

// LoadRules reads and validates the YAML rule-configuration file at path.
func LoadRules(path string) (*RulesDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var doc RulesDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	if err := NewValidator().Validate(&doc); err != nil {
		return nil, fmt.Errorf("invalid rules configuration: %w", err)
	}

	return &doc, nil
}

// ToRulesConfig converts the decoded YAML document into the typed
// rules.Config the Rule Set registry consumes.
func (d *RulesDocument) ToRulesConfig() rules.Config {
	r := d.Rules
	cfg := rules.Config{
		MaxContracts: rules.MaxContractsConfig{
			Enabled: r.MaxContracts.Enabled,
			Limit:   r.MaxContracts.Limit,
		},
		MaxContractsPerInstrument: rules.MaxContractsPerInstrumentConfig{
			Enabled:          r.MaxContractsPerInstrument.Enabled,
			DefaultLimit:     r.MaxContractsPerInstrument.DefaultLimit,
			InstrumentLimits: r.MaxContractsPerInstrument.InstrumentLimits,
		},
		DailyRealizedLoss: rules.RealizedPnLLimitConfig{
			Enabled: r.DailyRealizedLoss.Enabled,
			Limit:   money.New(r.DailyRealizedLoss.Limit),
		},
		DailyRealizedProfit: rules.RealizedPnLLimitConfig{
			Enabled: r.DailyRealizedProfit.Enabled,
			Limit:   money.New(r.DailyRealizedProfit.Target),
		},
		DailyUnrealizedLoss: rules.UnrealizedLimitConfig{
			Enabled: r.DailyUnrealizedLoss.Enabled,
			Limit:   money.New(r.DailyUnrealizedLoss.Limit),
		},
		MaxUnrealizedProfit: rules.UnrealizedLimitConfig{
			Enabled: r.MaxUnrealizedProfit.Enabled,
			Limit:   money.New(r.MaxUnrealizedProfit.Limit),
		},
		NoStopLossGrace: rules.NoStopLossGraceConfig{
			Enabled:              r.NoStopLossGrace.Enabled,
			RequireWithinSeconds: r.NoStopLossGrace.RequireWithinSeconds,
		},
		SessionBlockOutside: rules.SessionBlockConfig{
			Enabled:  r.SessionBlockOutside.Enabled,
			Start:    r.SessionBlockOutside.AllowedHours.Start,
			End:      r.SessionBlockOutside.AllowedHours.End,
			Timezone: r.SessionBlockOutside.Timezone,
			Weekdays: toWeekdays(r.SessionBlockOutside.Weekdays),
		},
		AuthLossGuard: rules.SimpleToggleConfig{Enabled: r.AuthLossGuard.Enabled},
		SymbolBlocks: rules.SymbolBlocksConfig{
			Enabled:        r.SymbolBlocks.Enabled,
			BlockedSymbols: r.SymbolBlocks.BlockedSymbols,
		},
		TradeManagement: rules.TradeManagementConfig{
			Enabled:      r.TradeManagement.Enabled,
			AutoStopLoss: rules.DistanceConfig{Enabled: r.TradeManagement.AutoStopLoss.Enabled, DistanceTicks: r.TradeManagement.AutoStopLoss.Distance},
			TakeProfit:   rules.DistanceConfig{Enabled: r.TradeManagement.AutoTakeProfit.Enabled, DistanceTicks: r.TradeManagement.AutoTakeProfit.Distance},
			TrailingStop: rules.DistanceConfig{Enabled: r.TradeManagement.TrailingStop.Enabled, DistanceTicks: r.TradeManagement.TrailingStop.Distance},
		},
	}

	cfg.TradeFrequencyLimit = rules.TradeFrequencyConfig{
		Enabled: r.TradeFrequencyLimit.Enabled,
		Tiers:   toFrequencyTiers(r.TradeFrequencyLimit),
	}
	cfg.CooldownAfterLoss = rules.CooldownAfterLossConfig{
		Enabled: r.CooldownAfterLoss.Enabled,
		Tiers:   toLossTiers(r.CooldownAfterLoss.LossThresholds),
	}

	return cfg
}

// toFrequencyTiers expands the three fixed windows (per_minute, per_hour,
// per_session) into the registry's sorted-shortest-first tier list; all
// three share one cooldown since the YAML schema (spec §6) only carries
// one `cooldown_duration_seconds` per trade_frequency_limit block.
func toFrequencyTiers(y TradeFrequencyYAML) []rules.FrequencyTier {
	cooldown := time.Duration(y.CooldownDuration) * time.Second
	var tiers []rules.FrequencyTier
	if y.Limits.PerMinute > 0 {
		tiers = append(tiers, rules.FrequencyTier{Name: "per_minute", Window: time.Minute, Limit: y.Limits.PerMinute, CooldownDuration: cooldown})
	}
	if y.Limits.PerHour > 0 {
		tiers = append(tiers, rules.FrequencyTier{Name: "per_hour", Window: time.Hour, Limit: y.Limits.PerHour, CooldownDuration: cooldown})
	}
	if y.Limits.PerSession > 0 {
		tiers = append(tiers, rules.FrequencyTier{Name: "per_session", Window: 24 * time.Hour, Limit: y.Limits.PerSession, CooldownDuration: cooldown})
	}
	return tiers
}

func toLossTiers(ys []LossThresholdYAML) []rules.LossTier {
	tiers := make([]rules.LossTier, 0, len(ys))
	for _, y := range ys {
		tiers = append(tiers, rules.LossTier{
			LossAmount:       money.New(y.LossAmount),
			CooldownDuration: time.Duration(y.CooldownDuration) * time.Second,
		})
	}
	return tiers
}

func toWeekdays(ints []int) []time.Weekday {
	days := make([]time.Weekday, 0, len(ints))
	for _, i := range ints {
		days = append(days, time.Weekday(i))
	}
	return days
}

// ToEngineConfig builds the engine's own Config from the
// "timers.daily_reset" section (reset time/timezone) and the "general"
// section's tick table, per DESIGN.md's
// decision to keep the engine's copy of reset time/timezone independent
// of the Reset Scheduler's own config struct.
func (d *RulesDocument) ToEngineConfig() engine.Config {
	ticks := make(map[string]domain.TickInfo, len(d.General.Ticks))
	for symbol, t := range d.General.Ticks {
		ticks[symbol] = domain.TickInfo{
			TickSize:  money.New(t.TickSize),
			TickValue: money.New(t.TickValue),
		}
	}
	return engine.Config{
		ResetTime: d.Timers.DailyReset.Time,
		Timezone:  d.Timers.DailyReset.Timezone,
		Ticks:     ticks,
	}
}

// ToResetConfig converts the "timers.daily_reset" section into the Reset
// Scheduler's own Config.
func (d *RulesDocument) ToResetConfig() reset.Config {
	return reset.Config{
		ResetTime: d.Timers.DailyReset.Time,
		Timezone:  d.Timers.DailyReset.Timezone,
	}
}
