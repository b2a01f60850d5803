package engine

import (
	"sync"

	"github.com/aristath/risk-manager/internal/domain"
)

// positionTable is the engine-owned `current_positions` state (spec
// §4.12 step 2), keyed first by account then by contract so
// OpenPositions/PositionByContract and the Market Data Subsystem's
// PositionsFor(symbol_root) can all read it without per-rule locking —
// the engine's single dispatch loop is the only writer (spec §5 "shared
// state policy").
type positionTable struct {
	mu        sync.RWMutex
	byAccount map[string]map[string]domain.Position // account_id -> contract_id -> Position
}

func newPositionTable() *positionTable {
	return &positionTable{byAccount: make(map[string]map[string]domain.Position)}
}

func (t *positionTable) upsert(p domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	contracts, ok := t.byAccount[p.AccountID]
	if !ok {
		contracts = make(map[string]domain.Position)
		t.byAccount[p.AccountID] = contracts
	}
	contracts[p.ContractID] = p
}

func (t *positionTable) remove(accountID, contractID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if contracts, ok := t.byAccount[accountID]; ok {
		delete(contracts, contractID)
	}
}

// openForAccount implements rules.Context.OpenPositions.
func (t *positionTable) openForAccount(accountID string) []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	contracts := t.byAccount[accountID]
	out := make([]domain.Position, 0, len(contracts))
	for _, p := range contracts {
		out = append(out, p)
	}
	return out
}

// byContractID implements rules.Context.PositionByContract.
func (t *positionTable) byContractID(accountID, contractID string) (domain.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byAccount[accountID][contractID]
	return p, ok
}

// forSymbolRoot implements internal/marketdata.PositionProvider's
// PositionsFor: every open position across every account on symbolRoot.
func (t *positionTable) forSymbolRoot(symbolRoot string) []domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.Position
	for _, contracts := range t.byAccount {
		for _, p := range contracts {
			if p.SymbolRoot == symbolRoot {
				out = append(out, p)
			}
		}
	}
	return out
}
