// Package store provides an in-memory TxStore implementation used by unit
// tests and development wiring. Entities are cloned on every read and write
// so callers can never mutate persisted state in place.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/IvanBritz/aidpoint-backend-sub001/aid"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	requests      map[string]*aid.AidRequest
	disbursements map[string]*aid.Disbursement
	liquidations  map[string]*aid.Liquidation
	// aid_request_id -> disbursement id, enforces exactly-once creation
	byRequest map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		requests:      make(map[string]*aid.AidRequest),
		disbursements: make(map[string]*aid.Disbursement),
		liquidations:  make(map[string]*aid.Liquidation),
		byRequest:     make(map[string]string),
	}
}

// =============================================================================
// AID REQUESTS
// =============================================================================

func (m *Memory) CreateAidRequest(_ context.Context, r *aid.AidRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *Memory) UpdateAidRequest(_ context.Context, r *aid.AidRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.ID]
	if !ok {
		return aid.ErrNotFound
	}
	if cur.Version != r.Version {
		return aid.ErrConcurrentModification
	}
	next := r.Clone()
	next.Version++
	m.requests[r.ID] = next
	return nil
}

func (m *Memory) GetAidRequest(_ context.Context, id string) (*aid.AidRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, aid.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *Memory) ListAidRequestsByBeneficiary(_ context.Context, beneficiaryID string) ([]aid.AidRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []aid.AidRequest
	for _, r := range m.requests {
		if r.BeneficiaryID == beneficiaryID {
			out = append(out, *r.Clone())
		}
	}
	sortByCreated(out, func(r aid.AidRequest) int64 { return r.CreatedAt.UnixNano() })
	return out, nil
}

func (m *Memory) FindActivePeriodRequest(_ context.Context, beneficiaryID string, p aid.Period) (*aid.AidRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.BeneficiaryID != beneficiaryID || r.Category != aid.CategoryLivingAllowance || r.Period == nil {
			continue
		}
		if *r.Period == p && !r.Rejected() {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (m *Memory) ListAidRequestsByStage(_ context.Context, stage aid.Stage, unitID string) ([]aid.AidRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []aid.AidRequest
	for _, r := range m.requests {
		if r.Stage != stage || r.Rejected() {
			continue
		}
		if unitID != "" && r.UnitID != unitID {
			continue
		}
		out = append(out, *r.Clone())
	}
	sortByCreated(out, func(r aid.AidRequest) int64 { return r.CreatedAt.UnixNano() })
	return out, nil
}

func (m *Memory) ListBeneficiariesWithPendingAllowance(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range m.requests {
		if r.RecalculationEligible() && !seen[r.BeneficiaryID] {
			seen[r.BeneficiaryID] = true
			out = append(out, r.BeneficiaryID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// =============================================================================
// DISBURSEMENTS
// =============================================================================

func (m *Memory) CreateDisbursement(_ context.Context, d *aid.Disbursement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byRequest[d.AidRequestID]; exists {
		return aid.ErrDisbursementExists
	}
	m.disbursements[d.ID] = d.Clone()
	m.byRequest[d.AidRequestID] = d.ID
	return nil
}

func (m *Memory) UpdateDisbursement(_ context.Context, d *aid.Disbursement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.disbursements[d.ID]
	if !ok {
		return aid.ErrNotFound
	}
	if cur.Version != d.Version {
		return aid.ErrConcurrentModification
	}
	next := d.Clone()
	next.Version++
	m.disbursements[d.ID] = next
	return nil
}

func (m *Memory) GetDisbursement(_ context.Context, id string) (*aid.Disbursement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disbursements[id]
	if !ok {
		return nil, aid.ErrNotFound
	}
	return d.Clone(), nil
}

func (m *Memory) GetDisbursementByRequest(_ context.Context, aidRequestID string) (*aid.Disbursement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRequest[aidRequestID]
	if !ok {
		return nil, aid.ErrNotFound
	}
	return m.disbursements[id].Clone(), nil
}

func (m *Memory) ListDisbursementsByStatus(_ context.Context, status aid.DisbursementStatus, unitID string) ([]aid.Disbursement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []aid.Disbursement
	for _, d := range m.disbursements {
		if d.Status != status {
			continue
		}
		if unitID != "" && d.UnitID != unitID {
			continue
		}
		out = append(out, *d.Clone())
	}
	sortByCreated(out, func(d aid.Disbursement) int64 { return d.CreatedAt.UnixNano() })
	return out, nil
}

func (m *Memory) ListDisbursementIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.disbursements))
	for id := range m.disbursements {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) DeleteDisbursement(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disbursements[id]
	if !ok {
		return aid.ErrNotFound
	}
	delete(m.disbursements, id)
	delete(m.byRequest, d.AidRequestID)
	return nil
}

// =============================================================================
// LIQUIDATIONS
// =============================================================================

func (m *Memory) CreateLiquidation(_ context.Context, l *aid.Liquidation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidations[l.ID] = l.Clone()
	return nil
}

func (m *Memory) UpdateLiquidation(_ context.Context, l *aid.Liquidation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.liquidations[l.ID]
	if !ok {
		return aid.ErrNotFound
	}
	if cur.Version != l.Version {
		return aid.ErrConcurrentModification
	}
	next := l.Clone()
	next.Version++
	m.liquidations[l.ID] = next
	return nil
}

func (m *Memory) GetLiquidation(_ context.Context, id string) (*aid.Liquidation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.liquidations[id]
	if !ok {
		return nil, aid.ErrNotFound
	}
	return l.Clone(), nil
}

func (m *Memory) ListLiquidationsByDisbursement(_ context.Context, disbursementID string) ([]aid.Liquidation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []aid.Liquidation
	for _, l := range m.liquidations {
		if l.DisbursementID == disbursementID {
			out = append(out, *l.Clone())
		}
	}
	sortByCreated(out, func(l aid.Liquidation) int64 { return l.CreatedAt.UnixNano() })
	return out, nil
}

func (m *Memory) ListLiquidationsByStatus(_ context.Context, status aid.LiquidationStatus, unitID string) ([]aid.Liquidation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []aid.Liquidation
	for _, l := range m.liquidations {
		if l.Status != status {
			continue
		}
		if unitID != "" && l.UnitID != unitID {
			continue
		}
		out = append(out, *l.Clone())
	}
	sortByCreated(out, func(l aid.Liquidation) int64 { return l.CreatedAt.UnixNano() })
	return out, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot and restore on failure
// =============================================================================

// WithTx snapshots the maps, runs fn, and restores the snapshot when fn
// fails. The store's own methods stay safe because every entity is cloned
// on the way in and out; the snapshot only has to capture map membership
// plus the entity pointers, which are never mutated in place.
func (m *Memory) WithTx(_ context.Context, fn func(aid.Store) error) error {
	m.mu.Lock()
	requests := snapshot(m.requests)
	disbursements := snapshot(m.disbursements)
	liquidations := snapshot(m.liquidations)
	byRequest := snapshot(m.byRequest)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.requests = requests
		m.disbursements = disbursements
		m.liquidations = liquidations
		m.byRequest = byRequest
		m.mu.Unlock()
		return err
	}
	return nil
}

func snapshot[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sortByCreated[T any](items []T, key func(T) int64) {
	sort.Slice(items, func(i, j int) bool { return key(items[i]) < key(items[j]) })
}
