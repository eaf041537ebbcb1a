/*
disbursement.go - Disbursement stage machine

PURPOSE:
  Pure transitions for the physical handoff of approved funds:

    pending ─▶ finance_disbursed ─▶ caseworker_received
                                          │
                                          ▼
    beneficiary_received ◀─ caseworker_disbursed

INVARIANTS:
  1. Strictly forward-only: every observed status history is a subsequence
     of the order above. No skips, no reversals.
  2. Each transition records actor and timestamp.
  3. Creation requires the aid request to be fully approved, and happens
     exactly once per request (uniqueness enforced by the store).
  4. The derived liquidation fields are never touched here; reconcile.go is
     their single writer.

SEE ALSO:
  - reconcile.go: liquidated/remaining recomputation
  - service.go:   atomic persistence and creation on director approval
*/
package aid

import (
	"fmt"
	"time"

	"github.com/IvanBritz/aidpoint-backend-sub001/money"
)

// =============================================================================
// CREATION - Exactly once per fully-approved request
// =============================================================================

// NewDisbursement builds the handoff record for a fully-approved request.
// Amount is copied from the approved request; the ledger starts fully
// unliquidated. Fails with ErrRequestNotFullyApproved otherwise.
func NewDisbursement(id string, r *AidRequest, referenceNo string, now time.Time) (*Disbursement, error) {
	if !r.FullyApproved() {
		return nil, fmt.Errorf("%w: request %s is at stage %q", ErrRequestNotFullyApproved, r.ID, r.Stage)
	}
	return &Disbursement{
		ID:                   id,
		AidRequestID:         r.ID,
		BeneficiaryID:        r.BeneficiaryID,
		UnitID:               r.UnitID,
		Category:             r.Category,
		Amount:               r.Amount,
		Status:               DisbursementPending,
		ReferenceNo:          referenceNo,
		LiquidatedAmount:     money.Zero(),
		RemainingToLiquidate: r.Amount,
		FullyLiquidated:      false,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// =============================================================================
// ADVANCE - One forward step, by the right actor
// =============================================================================

// AdvanceDisbursement moves the disbursement to the target status. The
// current status must be the target's immediate predecessor and the role
// must be the actor that owns that step; otherwise the transition fails
// with ErrInvalidDisbursementTransition. Returns a modified copy with the
// actor and timestamp recorded.
func AdvanceDisbursement(d *Disbursement, to DisbursementStatus, role Role, actorID, notes string, now time.Time) (*Disbursement, error) {
	pred, ok := to.Predecessor()
	if !ok {
		return nil, &DisbursementTransitionError{DisbursementID: d.ID, Current: d.Status, Attempted: to, Role: role}
	}
	actor, ok := to.ActorRole()
	if !ok || role != actor {
		return nil, &DisbursementTransitionError{DisbursementID: d.ID, Current: d.Status, Attempted: to, Role: role}
	}
	if d.Status != pred {
		return nil, &DisbursementTransitionError{DisbursementID: d.ID, Current: d.Status, Attempted: to, Role: role}
	}
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor id required", ErrInvalidInput)
	}

	out := d.Clone()
	out.Status = to
	rec := out.handoffFor(to)
	rec.ActorID = actorID
	t := now
	rec.At = &t
	if notes != "" {
		if out.Notes != "" {
			out.Notes += "\n"
		}
		out.Notes += notes
	}
	out.UpdatedAt = now
	return out, nil
}
