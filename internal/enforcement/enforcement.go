// Package enforcement implements the Enforcement Executor (C13): the
// only component that calls broker order-placement primitives. It
// receives a resolved Violation or AutomationAction from the Risk
// Engine, translates it into one or more SDK calls with bounded retry,
// and never raises on an SDK error — every operation reports its
// outcome in an EnforcementResult instead (spec §4.13).
//
// Grounded on the teacher's yahoo client's GetCurrentPrice retry loop
// (internal/clients/yahoo/client.go) for the attempt/backoff shape,
// generalized from "retry an HTTP GET" to "retry an arbitrary SDK call"
// since the broker boundary here isn't HTTP.
package enforcement

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/risk-manager/internal/engine"
	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/internal/rules"
	"github.com/aristath/risk-manager/pkg/money"
)

// BrokerClient is the order-placement boundary the executor calls into
// (spec §4.13/§6's SDK primitives: close_position,
// reduce_position_to_limit, cancel_order, close_all_positions,
// cancel_all_orders, place_order for brackets, and a trailing-stop
// adjustment). A symbolRoot of "" on the all-* operations means every
// symbol for this client's account, matching spec §4.13's
// `close_all_positions(symbol?)` / `cancel_all_orders(symbol?)` optional
// scope.
type BrokerClient interface {
	ClosePosition(ctx context.Context, symbolRoot, contractID, reason string) error
	ReducePositionToLimit(ctx context.Context, symbolRoot, contractID string, targetAbsSize int64) error
	CancelOrder(ctx context.Context, symbolRoot, orderID string) error
	CloseAllPositions(ctx context.Context, symbolRoot string) (closedCount int, err error)
	CancelAllOrders(ctx context.Context, symbolRoot string) (cancelledCount int, err error)
	PlaceBracketOrder(ctx context.Context, symbolRoot, contractID string, stopPrice, targetPrice *money.Money) error
	AdjustTrailingStop(ctx context.Context, symbolRoot, contractID string, trailPrice money.Money) error
}

const (
	defaultMaxAttempts  = 3
	defaultPerOpTimeout = 10 * time.Second
	retryBaseDelay      = 200 * time.Millisecond
	defaultCallsPerSec  = 5 // bounds how fast the executor hammers the broker across concurrent violations
)

// Option configures an Executor.
type Option func(*Executor)

// WithMaxAttempts overrides the default bounded-retry attempt count
// (spec §7 TransientSDK policy: "default 3 attempts").
func WithMaxAttempts(n int) Option { return func(e *Executor) { e.maxAttempts = n } }

// WithPerOpTimeout overrides the default per-SDK-call timeout (spec §5:
// "default 10 s per operation").
func WithPerOpTimeout(d time.Duration) Option { return func(e *Executor) { e.perOpTimeout = d } }

// WithRateLimit overrides the default cap on SDK calls per second,
// shared across every violation and automation action this executor
// dispatches.
func WithRateLimit(callsPerSecond float64) Option {
	return func(e *Executor) { e.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), 1) }
}

// Executor is the Enforcement Executor (C13). It satisfies
// internal/engine's Enforcer and AutomationExecutor interfaces
// structurally — engine never imports this package.
type Executor struct {
	log zerolog.Logger
	sdk BrokerClient

	maxAttempts  int
	perOpTimeout time.Duration
	limiter      *rate.Limiter
}

// New creates an Executor backed by sdk.
func New(log zerolog.Logger, sdk BrokerClient, opts ...Option) *Executor {
	e := &Executor{
		log:          log.With().Str("component", "enforcement_executor").Logger(),
		sdk:          sdk,
		maxAttempts:  defaultMaxAttempts,
		perOpTimeout: defaultPerOpTimeout,
		limiter:      rate.NewLimiter(rate.Limit(defaultCallsPerSec), 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// withRetry runs fn with a per-call timeout, retrying up to maxAttempts
// times with exponential backoff plus jitter on failure (spec §7
// TransientSDK policy: "bounded retry with jitter"). Every attempt,
// including the first, waits on the shared rate limiter first so a burst
// of violations across many accounts never exceeds the configured SDK
// call rate. The final attempt's error is wrapped and returned as a
// partial failure; it is never raised as a panic or propagated as a
// crash.
func (e *Executor) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter wait: %w", op, err)
		}
		opCtx, cancel := context.WithTimeout(ctx, e.perOpTimeout)
		err := fn(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == e.maxAttempts-1 {
			break
		}
		base := retryBaseDelay * time.Duration(1<<uint(attempt))
		wait := base + time.Duration(rand.Int63n(int64(base)+1))
		e.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("wait", wait).
			Msg("sdk call failed, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", op, e.maxAttempts, lastErr)
}

// Enforce runs the SDK calls a resolved Violation requires (satisfies
// internal/engine.Enforcer). It never returns an error value; SDK
// failures surface only inside the returned EnforcementResult.
func (e *Executor) Enforce(ctx context.Context, v events.Violation) engine.EnforcementResult {
	correlationID := uuid.NewString()
	log := e.log.With().Str("correlation_id", correlationID).Str("rule", v.Rule).
		Str("account_id", v.AccountID).Logger()

	switch v.Action {
	case events.ActionClosePosition:
		return e.closePosition(ctx, log, v)
	case events.ActionFlatten:
		return e.closeAll(ctx, log, v.SymbolRoot)
	case events.ActionFlattenAndCancel:
		return e.flattenAndCancel(ctx, log, v.SymbolRoot)
	case events.ActionCancel:
		// No rule in the registered set carries a specific order id on a
		// Violation (cancel_order needs one); the closest available
		// primitive for an account/symbol-scoped cancel request is
		// cancel_all_orders for the violation's symbol.
		return e.cancelAll(ctx, log, v.SymbolRoot)
	case events.ActionCooldown, events.ActionAlertOnly:
		// Lockout application already happened in the engine; these
		// actions carry no destructive SDK call.
		return engine.EnforcementResult{Success: true}
	default:
		log.Warn().Str("action", string(v.Action)).Msg("enforcement executor received unrecognized violation action")
		return engine.EnforcementResult{Success: false, Errors: []string{"unrecognized action: " + string(v.Action)}}
	}
}

func (e *Executor) closePosition(ctx context.Context, log zerolog.Logger, v events.Violation) engine.EnforcementResult {
	err := e.withRetry(ctx, "close_position", func(ctx context.Context) error {
		return e.sdk.ClosePosition(ctx, v.SymbolRoot, v.ContractID, v.Message)
	})
	if err != nil {
		log.Error().Err(err).Msg("close_position failed")
		return engine.EnforcementResult{Success: false, Errors: []string{err.Error()}}
	}
	return engine.EnforcementResult{Success: true, Count: 1}
}

func (e *Executor) closeAll(ctx context.Context, log zerolog.Logger, symbolRoot string) engine.EnforcementResult {
	var count int
	err := e.withRetry(ctx, "close_all_positions", func(ctx context.Context) error {
		n, err := e.sdk.CloseAllPositions(ctx, symbolRoot)
		count = n
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("close_all_positions failed")
		return engine.EnforcementResult{Success: false, Count: count, Errors: []string{err.Error()}}
	}
	return engine.EnforcementResult{Success: true, Count: count}
}

func (e *Executor) cancelAll(ctx context.Context, log zerolog.Logger, symbolRoot string) engine.EnforcementResult {
	var count int
	err := e.withRetry(ctx, "cancel_all_orders", func(ctx context.Context) error {
		n, err := e.sdk.CancelAllOrders(ctx, symbolRoot)
		count = n
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("cancel_all_orders failed")
		return engine.EnforcementResult{Success: false, Count: count, Errors: []string{err.Error()}}
	}
	return engine.EnforcementResult{Success: true, Count: count}
}

// flattenAndCancel implements the flatten_and_cancel composite: both
// steps are attempted regardless of the other's outcome (spec §4.13).
func (e *Executor) flattenAndCancel(ctx context.Context, log zerolog.Logger, symbolRoot string) engine.EnforcementResult {
	var errs []string
	var count int

	var closedCount int
	closeErr := e.withRetry(ctx, "close_all_positions", func(ctx context.Context) error {
		n, err := e.sdk.CloseAllPositions(ctx, symbolRoot)
		closedCount = n
		return err
	})
	if closeErr != nil {
		log.Error().Err(closeErr).Msg("close_all_positions failed during flatten_and_cancel")
		errs = append(errs, closeErr.Error())
	}
	count += closedCount

	var cancelledCount int
	cancelErr := e.withRetry(ctx, "cancel_all_orders", func(ctx context.Context) error {
		n, err := e.sdk.CancelAllOrders(ctx, symbolRoot)
		cancelledCount = n
		return err
	})
	if cancelErr != nil {
		log.Error().Err(cancelErr).Msg("cancel_all_orders failed during flatten_and_cancel")
		errs = append(errs, cancelErr.Error())
	}
	count += cancelledCount

	return engine.EnforcementResult{Success: len(errs) == 0, Count: count, Errors: errs}
}

// ReducePositionToLimit implements the `reduce_position_to_limit` SDK
// primitive (spec §4.13: close |current| - |target| contracts). No rule
// in the registered set currently emits this as a Violation action —
// both max_contracts rules resolve to flatten_and_cancel instead — but
// the primitive is part of the executor's contract, exercised directly
// by callers needing a partial reduction instead of a full flatten.
func (e *Executor) ReducePositionToLimit(ctx context.Context, symbolRoot, contractID string, targetAbsSize int64) engine.EnforcementResult {
	err := e.withRetry(ctx, "reduce_position_to_limit", func(ctx context.Context) error {
		return e.sdk.ReducePositionToLimit(ctx, symbolRoot, contractID, targetAbsSize)
	})
	if err != nil {
		e.log.Error().Err(err).Msg("reduce_position_to_limit failed")
		return engine.EnforcementResult{Success: false, Errors: []string{err.Error()}}
	}
	return engine.EnforcementResult{Success: true, Count: 1}
}

// Execute runs the SDK call an AutomationAction requires (satisfies
// internal/engine.AutomationExecutor).
func (e *Executor) Execute(ctx context.Context, a rules.AutomationAction) engine.EnforcementResult {
	correlationID := uuid.NewString()
	log := e.log.With().Str("correlation_id", correlationID).Str("rule", a.Rule).
		Str("account_id", a.AccountID).Logger()

	switch a.Kind {
	case events.ActionPlaceBracketOrder:
		err := e.withRetry(ctx, "place_bracket_order", func(ctx context.Context) error {
			return e.sdk.PlaceBracketOrder(ctx, a.SymbolRoot, a.ContractID, a.StopPrice, a.TargetPrice)
		})
		if err != nil {
			log.Error().Err(err).Msg("place_bracket_order failed")
			return engine.EnforcementResult{Success: false, Errors: []string{err.Error()}}
		}
		return engine.EnforcementResult{Success: true, Count: 1}
	case events.ActionAdjustTrailing:
		if a.TrailPrice == nil {
			return engine.EnforcementResult{Success: false, Errors: []string{"adjust_trailing_stop: missing trail price"}}
		}
		err := e.withRetry(ctx, "adjust_trailing_stop", func(ctx context.Context) error {
			return e.sdk.AdjustTrailingStop(ctx, a.SymbolRoot, a.ContractID, *a.TrailPrice)
		})
		if err != nil {
			log.Error().Err(err).Msg("adjust_trailing_stop failed")
			return engine.EnforcementResult{Success: false, Errors: []string{err.Error()}}
		}
		return engine.EnforcementResult{Success: true, Count: 1}
	default:
		log.Warn().Str("kind", string(a.Kind)).Msg("automation executor received unrecognized action kind")
		return engine.EnforcementResult{Success: false, Errors: []string{"unrecognized automation kind: " + string(a.Kind)}}
	}
}
