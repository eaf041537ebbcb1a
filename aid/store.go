/*
store.go - Persistence interfaces for the approval engine

PURPOSE:
  Defines the interface between the domain logic and the database. State
  machines are pure; the service layer loads entities, applies transitions,
  and commits results through these interfaces.

KEY INTERFACES:
  Store:   per-entity CRUD with optimistic versioning
  TxStore: Store plus WithTx for atomic multi-write operations

TRANSACTION CONTRACT:
  Every state-transition operation executes inside a single WithTx scope
  over the aggregate it mutates (one request, one disbursement plus its
  affected liquidation, one liquidation plus its receipts). Partial writes
  are never observable.

OPTIMISTIC CONCURRENCY:
  Update* methods match on the entity's Version and bump it. A mismatch
  returns ErrConcurrentModification. Races that survive the version check
  still lose on the transition preconditions (AlreadyDecided,
  LiquidationAlreadyTerminal), evaluated inside the same transaction.

IMPLEMENTATIONS:
  - store/sqlite:   production store (WAL, BEGIN IMMEDIATE)
  - aid/store:      in-memory store for tests and development

SEE ALSO:
  - service.go: the only consumer
*/
package aid

import "context"

// =============================================================================
// STORE - Entity persistence
// =============================================================================

type Store interface {
	// Aid requests
	CreateAidRequest(ctx context.Context, r *AidRequest) error
	// UpdateAidRequest matches on r.Version and bumps it; a stale version
	// returns ErrConcurrentModification.
	UpdateAidRequest(ctx context.Context, r *AidRequest) error
	GetAidRequest(ctx context.Context, id string) (*AidRequest, error)
	ListAidRequestsByBeneficiary(ctx context.Context, beneficiaryID string) ([]AidRequest, error)
	// FindActivePeriodRequest returns the non-rejected allowance request for
	// a beneficiary and period, or nil.
	FindActivePeriodRequest(ctx context.Context, beneficiaryID string, p Period) (*AidRequest, error)
	// ListAidRequestsByStage returns requests whose cursor sits at stage,
	// optionally scoped to a unit ("" means all units).
	ListAidRequestsByStage(ctx context.Context, stage Stage, unitID string) ([]AidRequest, error)
	// ListBeneficiariesWithPendingAllowance returns the distinct owners of
	// allowance requests still eligible for recalculation.
	ListBeneficiariesWithPendingAllowance(ctx context.Context) ([]string, error)

	// Disbursements
	// CreateDisbursement fails with ErrDisbursementExists when the aid
	// request already has one (exactly-once creation).
	CreateDisbursement(ctx context.Context, d *Disbursement) error
	UpdateDisbursement(ctx context.Context, d *Disbursement) error
	GetDisbursement(ctx context.Context, id string) (*Disbursement, error)
	GetDisbursementByRequest(ctx context.Context, aidRequestID string) (*Disbursement, error)
	ListDisbursementsByStatus(ctx context.Context, status DisbursementStatus, unitID string) ([]Disbursement, error)
	ListDisbursementIDs(ctx context.Context) ([]string, error)
	DeleteDisbursement(ctx context.Context, id string) error

	// Liquidations (receipts ride along with their liquidation)
	CreateLiquidation(ctx context.Context, l *Liquidation) error
	UpdateLiquidation(ctx context.Context, l *Liquidation) error
	GetLiquidation(ctx context.Context, id string) (*Liquidation, error)
	ListLiquidationsByDisbursement(ctx context.Context, disbursementID string) ([]Liquidation, error)
	ListLiquidationsByStatus(ctx context.Context, status LiquidationStatus, unitID string) ([]Liquidation, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
