/*
request.go - AidRequest stage machine

PURPOSE:
  Pure transition functions for the three-stage review of a funding request:

    caseworker ──approve──▶ finance ──approve──▶ director ──approve──▶ done
        │                      │                     │
     reject                 reject                reject
        ▼                      ▼                     ▼
                    frozen (no further transitions)

INVARIANTS:
  1. Decisions are made in stage order; a later stage stays pending until
     every earlier stage approved.
  2. Only the reviewer role matching the current stage cursor may decide.
  3. Rejection at any stage freezes the cursor permanently.
  4. The claim amount of an allowance request may only be re-derived while
     the request is still untouched by reviewers.

PURITY:
  Functions take an entity and return a modified copy or a typed error.
  Nothing here persists; service.go commits results inside a transaction.
  This keeps the machine unit-testable without a database.

SEE ALSO:
  - service.go:   transaction scoping and disbursement creation on approval
  - allowance.go: attendance-derived amount recalculation
*/
package aid

import (
	"fmt"
	"time"

	"github.com/IvanBritz/aidpoint-backend-sub001/money"
)

// =============================================================================
// CREATION
// =============================================================================

// NewAidRequest builds a request at the caseworker stage with all decisions
// pending. Period is required for cost-of-living-allowance requests and
// forbidden otherwise.
func NewAidRequest(
	id string,
	beneficiaryID string,
	unitID string,
	category FundCategory,
	amount money.Amount,
	period *Period,
	purpose string,
	now time.Time,
) (*AidRequest, error) {
	if beneficiaryID == "" {
		return nil, fmt.Errorf("%w: beneficiary id required", ErrInvalidInput)
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown fund category %q", ErrInvalidInput, category)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if category == CategoryLivingAllowance {
		if period == nil || !period.Valid() {
			return nil, fmt.Errorf("%w: allowance requests require a valid period", ErrInvalidInput)
		}
	} else if period != nil {
		return nil, fmt.Errorf("%w: period is only valid for allowance requests", ErrInvalidInput)
	}

	r := &AidRequest{
		ID:            id,
		BeneficiaryID: beneficiaryID,
		UnitID:        unitID,
		Category:      category,
		Amount:        amount,
		Purpose:       purpose,
		Stage:         StageCaseworker,
		Caseworker:    StageDecision{Decision: DecisionPending},
		Finance:       StageDecision{Decision: DecisionPending},
		Director:      StageDecision{Decision: DecisionPending},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if period != nil {
		p := *period
		r.Period = &p
	}
	return r, nil
}

// =============================================================================
// REVIEW - One stage decision, in stage order
// =============================================================================

// ReviewRequest records a decision for the request's current stage.
// On approval the cursor advances (or reaches done after director); on
// rejection the cursor freezes. Returns a modified copy.
//
// Fails with:
//   - ErrInvalidStageTransition when role does not own the current stage
//     (including any review attempt once the cursor is done or frozen by an
//     earlier rejection at a different stage)
//   - ErrAlreadyDecided when the current stage's decision is not pending
//   - ErrInvalidDecision for anything other than approved/rejected
func ReviewRequest(r *AidRequest, role Role, decision Decision, reviewerID, notes string, now time.Time) (*AidRequest, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	reviewer, ok := r.Stage.ReviewerRole()
	if !ok || role != reviewer {
		return nil, &StageTransitionError{RequestID: r.ID, Stage: r.Stage, Role: role}
	}

	current := r.DecisionFor(r.Stage)
	if current.Decision != DecisionPending {
		return nil, &AlreadyDecidedError{
			RequestID: r.ID,
			Stage:     r.Stage,
			Decision:  current.Decision,
			DecidedBy: current.ReviewerID,
			DecidedAt: current.DecidedAt,
		}
	}

	out := r.Clone()
	d := out.DecisionFor(out.Stage)
	d.Decision = decision
	d.ReviewerID = reviewerID
	d.Notes = notes
	t := now
	d.DecidedAt = &t

	if decision == DecisionApproved {
		next, _ := out.Stage.Next()
		out.Stage = next
	}
	// On rejection the cursor stays put; Rejected() freezes all later stages.

	out.UpdatedAt = now
	return out, nil
}

// =============================================================================
// AMOUNT RECALCULATION - Idempotent, always derived from source data
// =============================================================================

// ApplyRecalculatedAmount replaces the claim amount of a still-pending
// allowance request. The amount is derived (rate x attended days) rather
// than accumulated, so applying the same inputs twice is a no-op.
// Returns (request, changed).
func ApplyRecalculatedAmount(r *AidRequest, amount money.Amount, now time.Time) (*AidRequest, bool, error) {
	if !r.RecalculationEligible() {
		return nil, false, fmt.Errorf("%w: request %s is not pending recalculation", ErrInvalidInput, r.ID)
	}
	if !amount.IsPositive() {
		return nil, false, fmt.Errorf("%w: recalculated amount must be positive", ErrInvalidInput)
	}
	if r.Amount.Equal(amount) {
		return r.Clone(), false, nil
	}
	out := r.Clone()
	out.Amount = amount
	out.UpdatedAt = now
	return out, true, nil
}
