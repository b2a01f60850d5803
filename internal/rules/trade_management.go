package rules

import (
	"context"
	"sync"

	"github.com/aristath/risk-manager/internal/domain"
	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/pkg/money"
)

// TradeManagementRule is automation, not enforcement (spec §4.11 rule
// 12): it never produces a Violation, only an AutomationAction the
// Enforcement Executor recognizes on its own channel.
type TradeManagementRule struct {
	cfg TradeManagementConfig

	mu     sync.Mutex
	trails map[string]float64 // contract_id -> last trailed stop price
}

func NewTradeManagementRule(cfg TradeManagementConfig) *TradeManagementRule {
	return &TradeManagementRule{cfg: cfg, trails: make(map[string]float64)}
}

func (r *TradeManagementRule) ID() string    { return "trade_management" }
func (r *TradeManagementRule) Enabled() bool { return r.cfg.Enabled }

func (r *TradeManagementRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*AutomationAction, error) {
	switch event.Kind {
	case events.PositionOpened:
		return r.onOpened(event, ec)
	case events.PositionUpdated:
		return r.onUpdated(event, ec)
	default:
		return nil, nil
	}
}

func (r *TradeManagementRule) onOpened(event events.Event, ec Context) (*AutomationAction, error) {
	data, ok := event.Data.(events.PositionData)
	if !ok {
		return nil, nil
	}
	if !r.cfg.AutoStopLoss.Enabled && !r.cfg.TakeProfit.Enabled {
		return nil, nil
	}
	tick, found := ec.TickInfo(data.Position.SymbolRoot)
	if !found {
		return nil, nil
	}

	action := &AutomationAction{
		Rule:       r.ID(),
		AccountID:  data.AccountID,
		SymbolRoot: data.Position.SymbolRoot,
		ContractID: data.Position.ContractID,
		Kind:       events.ActionPlaceBracketOrder,
		Timestamp:  ec.Now(),
	}

	if r.cfg.AutoStopLoss.Enabled {
		stop := distancePrice(data.Position, tick, r.cfg.AutoStopLoss.DistanceTicks, true)
		action.StopPrice = &stop
	}
	if r.cfg.TakeProfit.Enabled {
		target := distancePrice(data.Position, tick, r.cfg.TakeProfit.DistanceTicks, false)
		action.TargetPrice = &target
	}
	return action, nil
}

func (r *TradeManagementRule) onUpdated(event events.Event, ec Context) (*AutomationAction, error) {
	if !r.cfg.TrailingStop.Enabled {
		return nil, nil
	}
	data, ok := event.Data.(events.PositionData)
	if !ok {
		return nil, nil
	}
	tick, found := ec.TickInfo(data.Position.SymbolRoot)
	if !found {
		return nil, nil
	}

	candidate := distancePrice(data.Position, tick, r.cfg.TrailingStop.DistanceTicks, true)

	r.mu.Lock()
	prev, hasPrev := r.trails[data.Position.ContractID]
	candidateF := candidate.Float64()
	better := !hasPrev || improvesOnPrior(data.Position.Side, candidateF, prev)
	if better {
		r.trails[data.Position.ContractID] = candidateF
	}
	r.mu.Unlock()

	if !better {
		return nil, nil // never loosens a stop
	}

	return &AutomationAction{
		Rule:       r.ID(),
		AccountID:  data.AccountID,
		SymbolRoot: data.Position.SymbolRoot,
		ContractID: data.Position.ContractID,
		Kind:       events.ActionAdjustTrailing,
		TrailPrice: &candidate,
		Timestamp:  ec.Now(),
	}, nil
}

// improvesOnPrior reports whether candidate trails tighter (further
// in-profit) than prior, given the position's side.
func improvesOnPrior(side domain.Side, candidate, prior float64) bool {
	if side == domain.SideLong {
		return candidate > prior
	}
	return candidate < prior
}

// distancePrice computes a stop/target price distanceTicks away from
// entry, on the loss side (toward=true) or profit side (toward=false)
// relative to the position's direction.
func distancePrice(pos domain.Position, tick domain.TickInfo, distanceTicks int64, lossSide bool) (result money.Money) {
	offset := tick.TickSize.Mul(distanceTicks)
	longDirectionIsLoss := lossSide // for LONG, loss side is below entry
	if pos.Side == domain.SideLong {
		if longDirectionIsLoss {
			return pos.EntryPrice.Sub(offset)
		}
		return pos.EntryPrice.Add(offset)
	}
	// SHORT: loss side is above entry.
	if longDirectionIsLoss {
		return pos.EntryPrice.Add(offset)
	}
	return pos.EntryPrice.Sub(offset)
}
