package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/internal/protective"
	"github.com/aristath/risk-manager/internal/timers"
)

// TimerKind is the Timer Manager kind this rule registers a restart
// Factory under (spec §4.4's "Factory registry keyed by kind").
const TimerKind = "no_stop_loss_grace"

func timerName(contractID string) string { return TimerKind + "_" + contractID }

// NoStopLossGraceRule starts a grace-period timer when a position opens
// and cancels it the moment a stop-loss order is classified for that
// contract; if the timer fires first, the position is closed (spec
// §4.11 rule 8).
type NoStopLossGraceRule struct {
	cfg NoStopLossGraceConfig
}

func NewNoStopLossGraceRule(cfg NoStopLossGraceConfig) *NoStopLossGraceRule {
	return &NoStopLossGraceRule{cfg: cfg}
}

func (r *NoStopLossGraceRule) ID() string    { return "no_stop_loss_grace" }
func (r *NoStopLossGraceRule) Enabled() bool { return r.cfg.Enabled }

func (r *NoStopLossGraceRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	switch event.Kind {
	case events.PositionOpened:
		data, ok := event.Data.(events.PositionData)
		if !ok {
			return nil, nil
		}
		payload := encodeGracePayload(data.AccountID, data.Position.ContractID, data.Position.SymbolRoot)
		name := timerName(data.Position.ContractID)
		duration := time.Duration(r.cfg.RequireWithinSeconds) * time.Second
		err := ec.StartTimer(ctx, name, data.AccountID, TimerKind, payload, duration, func() {
			ec.ApplyViolation(ctx, r.graceExpiredViolation(data.AccountID, data.Position.SymbolRoot, data.Position.ContractID))
		})
		if err != nil {
			return nil, fmt.Errorf("no_stop_loss_grace: start timer: %w", err)
		}
		return nil, nil

	case events.OrderPlaced:
		data, ok := event.Data.(events.OrderData)
		if !ok {
			return nil, nil
		}
		position, found := ec.PositionByContract(data.AccountID, data.Order.ContractID)
		if !found {
			return nil, nil
		}
		if protective.Classify(data.Order, position) != protective.KindStopLoss {
			return nil, nil
		}
		if err := ec.CancelTimer(ctx, timerName(data.Order.ContractID)); err != nil {
			return nil, fmt.Errorf("no_stop_loss_grace: cancel timer: %w", err)
		}
		return nil, nil

	default:
		return nil, nil
	}
}

func (r *NoStopLossGraceRule) graceExpiredViolation(accountID, symbolRoot, contractID string) events.Violation {
	return events.Violation{
		Rule:       r.ID(),
		AccountID:  accountID,
		SymbolRoot: symbolRoot,
		ContractID: contractID,
		Action:     events.ActionClosePosition,
		Severity:   "warning",
		Message:    fmt.Sprintf("no stop-loss placed on %s within grace period", symbolRoot),
		Timestamp:  time.Now().UTC(),
	}
}

// Factory reconstructs a fired timer's callback after a process restart,
// since a closure cannot be persisted (spec §4.4). Registered once on
// ec's Timer Manager during engine wiring via RegisterRestartFactory.
func (r *NoStopLossGraceRule) Factory(ec Context) timers.Factory {
	return func(accountID, payload string) timers.Callback {
		_, contractID, symbolRoot := decodeGracePayload(payload)
		return func() {
			ec.ApplyViolation(context.Background(), r.graceExpiredViolation(accountID, symbolRoot, contractID))
		}
	}
}

func encodeGracePayload(accountID, contractID, symbolRoot string) string {
	return strings.Join([]string{accountID, contractID, symbolRoot}, "|")
}

func decodeGracePayload(payload string) (accountID, contractID, symbolRoot string) {
	parts := strings.SplitN(payload, "|", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], parts[2]
}
