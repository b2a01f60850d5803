package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/risk-manager/internal/events"
)

// SymbolBlocksRule closes any position/order touching a blocked symbol
// root; no lockout (spec §4.11 rule 11). Patterns support exact match
// and "*"-wildcards (prefix, suffix, or contains), case-insensitive.
type SymbolBlocksRule struct {
	cfg SymbolBlocksConfig
}

func NewSymbolBlocksRule(cfg SymbolBlocksConfig) *SymbolBlocksRule {
	return &SymbolBlocksRule{cfg: cfg}
}

func (r *SymbolBlocksRule) ID() string    { return "symbol_blocks" }
func (r *SymbolBlocksRule) Enabled() bool { return r.cfg.Enabled }

func (r *SymbolBlocksRule) Evaluate(ctx context.Context, event events.Event, ec Context) (*events.Violation, error) {
	accountID, symbolRoot, contractID, ok := subject(event)
	if !ok || symbolRoot == "" {
		return nil, nil
	}

	matched, pattern := matchBlocked(symbolRoot, r.cfg.BlockedSymbols)
	if !matched {
		return nil, nil
	}

	return &events.Violation{
		Rule:       r.ID(),
		AccountID:  accountID,
		SymbolRoot: symbolRoot,
		ContractID: contractID,
		Action:     events.ActionClosePosition,
		Severity:   "critical",
		Message:    fmt.Sprintf("%s matches blocked symbol pattern %q", symbolRoot, pattern),
		Timestamp:  ec.Now(),
	}, nil
}

func matchBlocked(symbolRoot string, patterns []string) (bool, string) {
	symbol := strings.ToUpper(symbolRoot)
	for _, raw := range patterns {
		pattern := strings.ToUpper(raw)
		if matchPattern(symbol, pattern) {
			return true, raw
		}
	}
	return false, ""
}

func matchPattern(symbol, pattern string) bool {
	switch {
	case pattern == symbol:
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		return strings.Contains(symbol, pattern[1:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(symbol, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(symbol, pattern[:len(pattern)-1])
	default:
		return false
	}
}
