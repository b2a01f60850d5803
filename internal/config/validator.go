package config

import (
	"fmt"
	"strings"
)

// ValidationError is one field-level failure found while validating a
// RulesDocument.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every ValidationError found in one pass,
// mirroring the teacher's planning/config.Validator: a misconfigured YAML
// file is reported in full rather than one field at a time.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ve := range e {
		msgs = append(msgs, ve.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator checks a decoded RulesDocument against spec §6's schema
// before it is handed to the Rule Set registry.
type Validator struct{}

// NewValidator constructs a Validator.
func NewValidator() *Validator { return &Validator{} }

// Validate runs every check and returns a ValidationErrors collecting
// every failure found, or nil if the document is well-formed.
func (v *Validator) Validate(d *RulesDocument) error {
	var errs ValidationErrors

	if d.General.Timezone == "" {
		errs = append(errs, ValidationError{"general.timezone", "is required"})
	}
	if len(d.General.Instruments) == 0 {
		errs = append(errs, ValidationError{"general.instruments", "must list at least one symbol root"})
	}
	for symbol, t := range d.General.Ticks {
		if t.TickSize <= 0 {
			errs = append(errs, ValidationError{fmt.Sprintf("general.ticks.%s.tick_size", symbol), "must be greater than 0"})
		}
		if t.TickValue <= 0 {
			errs = append(errs, ValidationError{fmt.Sprintf("general.ticks.%s.tick_value", symbol), "must be greater than 0"})
		}
	}

	if d.Timers.DailyReset.Time == "" {
		errs = append(errs, ValidationError{"timers.daily_reset.time", "is required"})
	}
	if d.Timers.DailyReset.Timezone == "" {
		errs = append(errs, ValidationError{"timers.daily_reset.timezone", "is required"})
	}

	r := d.Rules
	if r.MaxContracts.Enabled && r.MaxContracts.Limit <= 0 {
		errs = append(errs, ValidationError{"rules.max_contracts.limit", "must be greater than 0 when enabled"})
	}
	if r.MaxContractsPerInstrument.Enabled && r.MaxContractsPerInstrument.DefaultLimit <= 0 {
		errs = append(errs, ValidationError{"rules.max_contracts_per_instrument.default_limit", "must be greater than 0 when enabled"})
	}
	if r.DailyRealizedLoss.Enabled && r.DailyRealizedLoss.Limit >= 0 {
		errs = append(errs, ValidationError{"rules.daily_realized_loss.limit", "must be negative (a loss magnitude)"})
	}
	if r.DailyRealizedProfit.Enabled && r.DailyRealizedProfit.Target <= 0 {
		errs = append(errs, ValidationError{"rules.daily_realized_profit.target", "must be positive when enabled"})
	}
	if r.DailyUnrealizedLoss.Enabled && r.DailyUnrealizedLoss.Limit >= 0 {
		errs = append(errs, ValidationError{"rules.daily_unrealized_loss.limit", "must be negative (a loss magnitude)"})
	}
	if r.MaxUnrealizedProfit.Enabled && r.MaxUnrealizedProfit.Limit <= 0 {
		errs = append(errs, ValidationError{"rules.max_unrealized_profit.limit", "must be positive when enabled"})
	}
	if r.TradeFrequencyLimit.Enabled {
		l := r.TradeFrequencyLimit.Limits
		if l.PerMinute <= 0 && l.PerHour <= 0 && l.PerSession <= 0 {
			errs = append(errs, ValidationError{"rules.trade_frequency_limit.limits", "at least one of per_minute/per_hour/per_session must be set when enabled"})
		}
		if r.TradeFrequencyLimit.CooldownDuration <= 0 {
			errs = append(errs, ValidationError{"rules.trade_frequency_limit.cooldown_duration_seconds", "must be greater than 0 when enabled"})
		}
	}
	if r.CooldownAfterLoss.Enabled && len(r.CooldownAfterLoss.LossThresholds) == 0 {
		errs = append(errs, ValidationError{"rules.cooldown_after_loss.loss_thresholds", "must list at least one tier when enabled"})
	}
	for i, tier := range r.CooldownAfterLoss.LossThresholds {
		if tier.LossAmount <= 0 {
			errs = append(errs, ValidationError{fmt.Sprintf("rules.cooldown_after_loss.loss_thresholds[%d].loss_amount", i), "must be a positive magnitude"})
		}
		if tier.CooldownDuration <= 0 {
			errs = append(errs, ValidationError{fmt.Sprintf("rules.cooldown_after_loss.loss_thresholds[%d].cooldown_duration", i), "must be greater than 0"})
		}
	}
	if r.NoStopLossGrace.Enabled && r.NoStopLossGrace.RequireWithinSeconds <= 0 {
		errs = append(errs, ValidationError{"rules.no_stop_loss_grace.require_within_seconds", "must be greater than 0 when enabled"})
	}
	if r.SessionBlockOutside.Enabled {
		if r.SessionBlockOutside.AllowedHours.Start == "" || r.SessionBlockOutside.AllowedHours.End == "" {
			errs = append(errs, ValidationError{"rules.session_block_outside.allowed_hours", "start and end are required when enabled"})
		}
		if r.SessionBlockOutside.Timezone == "" {
			errs = append(errs, ValidationError{"rules.session_block_outside.timezone", "is required when enabled"})
		}
		for _, d := range r.SessionBlockOutside.Weekdays {
			if d < 0 || d > 6 {
				errs = append(errs, ValidationError{"rules.session_block_outside.weekdays", "must each be 0-6 (Sunday-Saturday)"})
				break
			}
		}
	}
	if r.SymbolBlocks.Enabled && len(r.SymbolBlocks.BlockedSymbols) == 0 {
		errs = append(errs, ValidationError{"rules.symbol_blocks.blocked_symbols", "must list at least one symbol when enabled"})
	}
	if r.TradeManagement.Enabled {
		if r.TradeManagement.AutoStopLoss.Enabled && r.TradeManagement.AutoStopLoss.Distance <= 0 {
			errs = append(errs, ValidationError{"rules.trade_management.auto_stop_loss.distance", "must be greater than 0 when enabled"})
		}
		if r.TradeManagement.AutoTakeProfit.Enabled && r.TradeManagement.AutoTakeProfit.Distance <= 0 {
			errs = append(errs, ValidationError{"rules.trade_management.auto_take_profit.distance", "must be greater than 0 when enabled"})
		}
		if r.TradeManagement.TrailingStop.Enabled && r.TradeManagement.TrailingStop.Distance <= 0 {
			errs = append(errs, ValidationError{"rules.trade_management.trailing_stop.distance", "must be greater than 0 when enabled"})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateQuick runs only the cheap structural checks (presence of
// required top-level sections), skipping per-rule numeric validation.
// The server's reload and validate paths and the admin CLI run the full
// Validate, not this.
func (v *Validator) ValidateQuick(d *RulesDocument) error {
	var errs ValidationErrors
	if d.General.Timezone == "" {
		errs = append(errs, ValidationError{"general.timezone", "is required"})
	}
	if d.Timers.DailyReset.Time == "" {
		errs = append(errs, ValidationError{"timers.daily_reset.time", "is required"})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
