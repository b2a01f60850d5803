package rules

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/risk-manager/internal/events"
)

// AuthLossGuardRule never takes a destructive action — it only alerts on
// SDK disconnect / auth failure, tracking connection state per account
// for the operational status surface (spec §4.11 rule 10). The
// flatten-on-disconnect behavior some traders might expect is explicitly
// reserved as a distinct future rule, not a toggle on this one (SPEC_FULL
// Open Question resolution #3).
type AuthLossGuardRule struct {
	cfg SimpleToggleConfig

	mu    sync.Mutex
	state map[string]connState
}

type connState struct {
	Connected bool
	Reason    string
	At        time.Time
}

func NewAuthLossGuardRule(cfg SimpleToggleConfig) *AuthLossGuardRule {
	return &AuthLossGuardRule{cfg: cfg, state: make(map[string]connState)}
}

func (r *AuthLossGuardRule) ID() string    { return "auth_loss_guard" }
func (r *AuthLossGuardRule) Enabled() bool { return r.cfg.Enabled }

func (r *AuthLossGuardRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	data, ok := event.Data.(events.ConnectionData)
	if !ok {
		return nil, nil
	}

	switch event.Kind {
	case events.SDKConnected, events.AuthSuccess:
		r.mu.Lock()
		r.state[data.AccountID] = connState{Connected: true, At: ec.Now()}
		r.mu.Unlock()
		return nil, nil
	case events.SDKDisconnected, events.AuthFailed:
		// falls through to the alert below
	default:
		return nil, nil
	}

	r.mu.Lock()
	r.state[data.AccountID] = connState{Connected: false, Reason: data.Reason, At: ec.Now()}
	r.mu.Unlock()

	return &events.Violation{
		Rule:      r.ID(),
		AccountID: data.AccountID,
		Action:    events.ActionAlertOnly,
		Severity:  "warning",
		Message:   "SDK connection lost: " + data.Reason,
		Timestamp: ec.Now(),
	}, nil
}

// ConnectionState reports the last known connection state for an
// account, for the operational `status` surface.
func (r *AuthLossGuardRule) ConnectionState(accountID string) (connected bool, reason string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state[accountID]
	if !ok {
		return true, "", time.Time{} // unseen accounts are assumed connected
	}
	return s.Connected, s.Reason, s.At
}
