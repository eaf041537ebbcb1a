/*
Package aid implements the disbursement and liquidation approval engine:
the chain of state machines that move money from an approved aid request,
through a finance officer, to a caseworker, to a beneficiary, and then
reconcile the beneficiary's expense receipts through a three-tier approval
chain.

KEY CONCEPTS IN THIS FILE (types.go):
  - Role:          closed enum of actors (no open-ended string checks)
  - AidRequest:    funding request with a stage cursor and per-stage decisions
  - Disbursement:  forward-only funds handoff with derived ledger fields
  - Liquidation:   receipt-backed spend accounting with three-tier approval
  - Receipt:       a single piece of evidence owned by its liquidation

OWNERSHIP:
  AidRequest 1--0..1 Disbursement 1--0..N Liquidation 1--1..N Receipt.
  Parent deletion is denied at the service layer while children with
  non-terminal status exist.

STATE MACHINES:
  Every transition is a pure function (entity in, decision in -> entity out
  or typed error). Persistence is a separate concern; see service.go.

SEE ALSO:
  - request.go:      AidRequest stage machine
  - disbursement.go: Disbursement stage machine
  - liquidation.go:  Liquidation stage machine and receipts
  - reconcile.go:    derived ledger recomputation (single writer)
*/
package aid

import (
	"fmt"
	"time"

	"github.com/IvanBritz/aidpoint-backend-sub001/money"
)

// =============================================================================
// ROLES - Closed actor enum
// =============================================================================

type Role string

const (
	RoleBeneficiary Role = "beneficiary"
	RoleCaseworker  Role = "caseworker"
	RoleFinance     Role = "finance"
	RoleDirector    Role = "director"
	RoleAdmin       Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBeneficiary, RoleCaseworker, RoleFinance, RoleDirector, RoleAdmin:
		return true
	}
	return false
}

// Reviewer reports whether the role reviews requests or liquidations.
func (r Role) Reviewer() bool {
	switch r {
	case RoleCaseworker, RoleFinance, RoleDirector, RoleAdmin:
		return true
	}
	return false
}

// =============================================================================
// FUND CATEGORIES AND PERIODS
// =============================================================================

type FundCategory string

const (
	CategoryTuition         FundCategory = "tuition"
	CategoryLivingAllowance FundCategory = "cost_of_living_allowance"
	CategoryOther           FundCategory = "other"
)

func (c FundCategory) Valid() bool {
	switch c {
	case CategoryTuition, CategoryLivingAllowance, CategoryOther:
		return true
	}
	return false
}

// Period identifies the month a cost-of-living-allowance request covers.
type Period struct {
	Month time.Month
	Year  int
}

func (p Period) Valid() bool {
	return p.Month >= time.January && p.Month <= time.December && p.Year > 0
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// =============================================================================
// AID REQUEST - Three-stage review of a funding request
// =============================================================================

// Stage is the cursor indicating which reviewer role owns the next decision.
type Stage string

const (
	StageCaseworker Stage = "caseworker"
	StageFinance    Stage = "finance"
	StageDirector   Stage = "director"
	StageDone       Stage = "done"
)

// ReviewStages in decision order. StageDone is terminal, not a review stage.
var ReviewStages = []Stage{StageCaseworker, StageFinance, StageDirector}

// Next returns the stage after s, or false when s is terminal.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageCaseworker:
		return StageFinance, true
	case StageFinance:
		return StageDirector, true
	case StageDirector:
		return StageDone, true
	}
	return s, false
}

// ReviewerRole returns the role that decides at stage s.
func (s Stage) ReviewerRole() (Role, bool) {
	switch s {
	case StageCaseworker:
		return RoleCaseworker, true
	case StageFinance:
		return RoleFinance, true
	case StageDirector:
		return RoleDirector, true
	}
	return "", false
}

type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// StageDecision records one reviewer's decision at one stage.
type StageDecision struct {
	Decision   Decision
	ReviewerID string
	Notes      string
	DecidedAt  *time.Time
}

// AidRequest is a beneficiary's funding request under three-stage review.
// Decisions must be made in stage order; a rejection at any stage freezes
// the cursor permanently.
type AidRequest struct {
	ID            string
	BeneficiaryID string
	UnitID        string
	Category      FundCategory
	Amount        money.Amount
	Period        *Period // set only for cost-of-living-allowance requests
	Purpose       string

	Stage      Stage
	Caseworker StageDecision
	Finance    StageDecision
	Director   StageDecision

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DecisionFor returns the decision record for a review stage.
func (r *AidRequest) DecisionFor(stage Stage) *StageDecision {
	switch stage {
	case StageCaseworker:
		return &r.Caseworker
	case StageFinance:
		return &r.Finance
	case StageDirector:
		return &r.Director
	}
	return nil
}

// FullyApproved reports whether all three stages approved.
func (r *AidRequest) FullyApproved() bool {
	return r.Stage == StageDone &&
		r.Caseworker.Decision == DecisionApproved &&
		r.Finance.Decision == DecisionApproved &&
		r.Director.Decision == DecisionApproved
}

// Rejected reports whether any stage rejected the request.
func (r *AidRequest) Rejected() bool {
	return r.Caseworker.Decision == DecisionRejected ||
		r.Finance.Decision == DecisionRejected ||
		r.Director.Decision == DecisionRejected
}

// RecalculationEligible reports whether the claim amount may still be
// re-derived from attendance data: only allowance requests that no reviewer
// has touched yet.
func (r *AidRequest) RecalculationEligible() bool {
	return r.Category == CategoryLivingAllowance &&
		r.Stage == StageCaseworker &&
		r.Caseworker.Decision == DecisionPending
}

// Clone returns a deep copy. Store implementations hand out clones so
// callers can never mutate persisted state in place.
func (r *AidRequest) Clone() *AidRequest {
	c := *r
	if r.Period != nil {
		p := *r.Period
		c.Period = &p
	}
	c.Caseworker = cloneStageDecision(r.Caseworker)
	c.Finance = cloneStageDecision(r.Finance)
	c.Director = cloneStageDecision(r.Director)
	return &c
}

func cloneStageDecision(d StageDecision) StageDecision {
	if d.DecidedAt != nil {
		t := *d.DecidedAt
		d.DecidedAt = &t
	}
	return d
}

// =============================================================================
// DISBURSEMENT - Forward-only funds handoff
// =============================================================================

type DisbursementStatus string

const (
	// DisbursementPending is the creation state, before finance releases funds.
	DisbursementPending             DisbursementStatus = "pending"
	DisbursementFinanceDisbursed    DisbursementStatus = "finance_disbursed"
	DisbursementCaseworkerReceived  DisbursementStatus = "caseworker_received"
	DisbursementCaseworkerDisbursed DisbursementStatus = "caseworker_disbursed"
	DisbursementBeneficiaryReceived DisbursementStatus = "beneficiary_received"
)

// disbursementOrder is the only legal status sequence. Transitions may never
// skip or reverse.
var disbursementOrder = []DisbursementStatus{
	DisbursementPending,
	DisbursementFinanceDisbursed,
	DisbursementCaseworkerReceived,
	DisbursementCaseworkerDisbursed,
	DisbursementBeneficiaryReceived,
}

func (s DisbursementStatus) Valid() bool {
	for _, o := range disbursementOrder {
		if s == o {
			return true
		}
	}
	return false
}

// Predecessor returns the status that must be current before advancing to s.
func (s DisbursementStatus) Predecessor() (DisbursementStatus, bool) {
	for i := 1; i < len(disbursementOrder); i++ {
		if disbursementOrder[i] == s {
			return disbursementOrder[i-1], true
		}
	}
	return "", false
}

// ActorRole returns the role that performs the transition into s.
func (s DisbursementStatus) ActorRole() (Role, bool) {
	switch s {
	case DisbursementFinanceDisbursed:
		return RoleFinance, true
	case DisbursementCaseworkerReceived, DisbursementCaseworkerDisbursed:
		return RoleCaseworker, true
	case DisbursementBeneficiaryReceived:
		return RoleBeneficiary, true
	}
	return "", false
}

// HandoffRecord captures who performed a disbursement transition, and when.
type HandoffRecord struct {
	ActorID string
	At      *time.Time
}

// Disbursement is a single funds handoff tied 1:1 to a fully-approved
// AidRequest. The liquidation fields are derived state written exclusively
// by RecomputeDisbursement; every other component treats them as read-only.
type Disbursement struct {
	ID            string
	AidRequestID  string
	BeneficiaryID string
	UnitID        string
	Category      FundCategory
	Amount        money.Amount
	Status        DisbursementStatus
	ReferenceNo   string
	Notes         string

	FinanceDisbursed    HandoffRecord
	CaseworkerReceived  HandoffRecord
	CaseworkerDisbursed HandoffRecord
	BeneficiaryReceived HandoffRecord

	// Derived ledger fields. Single writer: reconcile.go.
	LiquidatedAmount     money.Amount
	RemainingToLiquidate money.Amount
	FullyLiquidated      bool
	FullyLiquidatedAt    *time.Time

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// handoffFor returns the record slot for a transition target status.
func (d *Disbursement) handoffFor(s DisbursementStatus) *HandoffRecord {
	switch s {
	case DisbursementFinanceDisbursed:
		return &d.FinanceDisbursed
	case DisbursementCaseworkerReceived:
		return &d.CaseworkerReceived
	case DisbursementCaseworkerDisbursed:
		return &d.CaseworkerDisbursed
	case DisbursementBeneficiaryReceived:
		return &d.BeneficiaryReceived
	}
	return nil
}

// Liquidatable reports whether the beneficiary may open liquidations yet.
func (d *Disbursement) Liquidatable() bool {
	return d.Status == DisbursementBeneficiaryReceived
}

func (d *Disbursement) Clone() *Disbursement {
	c := *d
	c.FinanceDisbursed = cloneHandoff(d.FinanceDisbursed)
	c.CaseworkerReceived = cloneHandoff(d.CaseworkerReceived)
	c.CaseworkerDisbursed = cloneHandoff(d.CaseworkerDisbursed)
	c.BeneficiaryReceived = cloneHandoff(d.BeneficiaryReceived)
	if d.FullyLiquidatedAt != nil {
		t := *d.FullyLiquidatedAt
		c.FullyLiquidatedAt = &t
	}
	return &c
}

func cloneHandoff(h HandoffRecord) HandoffRecord {
	if h.At != nil {
		t := *h.At
		h.At = &t
	}
	return h
}

// =============================================================================
// LIQUIDATION - Receipt-backed spend accounting with three-tier approval
// =============================================================================

type LiquidationStatus string

const (
	LiquidationPending           LiquidationStatus = "pending"
	LiquidationInProgress        LiquidationStatus = "in_progress"
	LiquidationComplete          LiquidationStatus = "complete"
	LiquidationPendingCaseworker LiquidationStatus = "pending_caseworker_approval"
	LiquidationPendingFinance    LiquidationStatus = "pending_finance_approval"
	LiquidationPendingDirector   LiquidationStatus = "pending_director_approval"
	LiquidationApproved          LiquidationStatus = "approved"
	LiquidationRejected          LiquidationStatus = "rejected"
)

// Terminal reports whether no further action is accepted for this status.
func (s LiquidationStatus) Terminal() bool {
	return s == LiquidationApproved || s == LiquidationRejected
}

// UnderApproval reports whether the liquidation is inside the approval chain
// (receipt amounts are frozen from this point on).
func (s LiquidationStatus) UnderApproval() bool {
	switch s {
	case LiquidationPendingCaseworker, LiquidationPendingFinance, LiquidationPendingDirector:
		return true
	}
	return false
}

// ApprovalLevel is one tier of the liquidation approval chain.
type ApprovalLevel string

const (
	LevelCaseworker ApprovalLevel = "caseworker"
	LevelFinance    ApprovalLevel = "finance"
	LevelDirector   ApprovalLevel = "director"
)

func (l ApprovalLevel) Valid() bool {
	switch l {
	case LevelCaseworker, LevelFinance, LevelDirector:
		return true
	}
	return false
}

// PendingLevel returns the approval level implied by a pending-approval
// status (e.g. pending_finance_approval accepts only level=finance).
func (s LiquidationStatus) PendingLevel() (ApprovalLevel, bool) {
	switch s {
	case LiquidationPendingCaseworker:
		return LevelCaseworker, true
	case LiquidationPendingFinance:
		return LevelFinance, true
	case LiquidationPendingDirector:
		return LevelDirector, true
	}
	return "", false
}

// afterApproval returns the status reached when level approves.
func (l ApprovalLevel) afterApproval() LiquidationStatus {
	switch l {
	case LevelCaseworker:
		return LiquidationPendingFinance
	case LevelFinance:
		return LiquidationPendingDirector
	case LevelDirector:
		return LiquidationApproved
	}
	return LiquidationRejected
}

// LevelApproval records one tier's sign-off on a liquidation.
type LevelApproval struct {
	ApproverID string
	Notes      string
	At         *time.Time
}

// Liquidation is a beneficiary's claim that a disbursement's funds were
// spent, substantiated by receipts and subject to three-tier approval.
// A rejection at any level is terminal; the beneficiary starts a new one.
type Liquidation struct {
	ID             string
	DisbursementID string
	BeneficiaryID  string
	UnitID         string
	Category       FundCategory // copied from the disbursement for display

	DisbursedAmount    money.Amount // amount the beneficiary claims to account for
	TotalReceiptAmount money.Amount
	RemainingAmount    money.Amount // disbursed - receipts, floor zero
	IsComplete         bool

	Status             LiquidationStatus
	CaseworkerApproval LevelApproval
	FinanceApproval    LevelApproval
	DirectorApproval   LevelApproval

	RejectedAtLevel ApprovalLevel
	RejectionReason string
	RejectedBy      string
	RejectedAt      *time.Time

	Receipts []Receipt

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ApprovalFor returns the sign-off record for a level.
func (l *Liquidation) ApprovalFor(level ApprovalLevel) *LevelApproval {
	switch level {
	case LevelCaseworker:
		return &l.CaseworkerApproval
	case LevelFinance:
		return &l.FinanceApproval
	case LevelDirector:
		return &l.DirectorApproval
	}
	return nil
}

// Terminal reports whether the liquidation accepts no further actions.
func (l *Liquidation) Terminal() bool {
	return l.Status.Terminal()
}

func (l *Liquidation) Clone() *Liquidation {
	c := *l
	c.CaseworkerApproval = cloneLevelApproval(l.CaseworkerApproval)
	c.FinanceApproval = cloneLevelApproval(l.FinanceApproval)
	c.DirectorApproval = cloneLevelApproval(l.DirectorApproval)
	if l.RejectedAt != nil {
		t := *l.RejectedAt
		c.RejectedAt = &t
	}
	c.Receipts = make([]Receipt, len(l.Receipts))
	copy(c.Receipts, l.Receipts)
	return &c
}

func cloneLevelApproval(a LevelApproval) LevelApproval {
	if a.At != nil {
		t := *a.At
		a.At = &t
	}
	return a
}

// =============================================================================
// RECEIPT - Evidence attached to a liquidation
// =============================================================================

type VerificationStatus string

const (
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
	VerificationQuestioned VerificationStatus = "questioned"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationPending, VerificationVerified, VerificationQuestioned:
		return true
	}
	return false
}

// Receipt is a single piece of evidence. The amount is immutable once the
// owning liquidation enters the approval chain; only verification status and
// notes may change after that, and only by a reviewer.
type Receipt struct {
	ID            string
	LiquidationID string
	Amount        money.Amount
	ReceiptNo     string
	ReceiptDate   time.Time
	Description   string
	FileRef       string // opaque handle owned by the external file store
	Verification  VerificationStatus
	VerifyNotes   string
	CreatedAt     time.Time
}
