/*
liquidation.go - Liquidation stage machine and receipts

PURPOSE:
  Pure transitions for a beneficiary's accounting of spent funds:

    pending ─▶ in_progress ─▶ complete ─▶ pending_caseworker_approval
                                                   │
                              pending_finance_approval
                                                   │
                              pending_director_approval
                                                   │
                                         ┌─────────┴─────────┐
                                         ▼                   ▼
                                      approved            rejected

INVARIANTS:
  1. The receipt aggregate may never exceed the funds still liquidatable on
     the parent disbursement; the available remainder is computed by the
     caller over every non-rejected sibling (see AvailableToClaim) and a
     violation leaves existing receipts untouched.
  2. Approvals advance caseworker -> finance -> director; every earlier
     level must already be approved.
  3. Rejection at any level is terminal. The level and reason are recorded;
     the beneficiary creates a new liquidation, this one never reopens.
  4. Receipt amounts freeze once the approval chain starts; only
     verification status and notes may change, and only by a reviewer.

SEE ALSO:
  - reconcile.go: rolls approved liquidations into the disbursement ledger
  - service.go:   computes the available remainder and persists atomically
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

// NewLiquidation opens a claim against a disbursement the beneficiary has
// received. The claimed amount must fit inside `available`, the remainder
// not yet held by any non-rejected sibling liquidation.
func NewLiquidation(id string, d *Disbursement, beneficiaryID string, claimed, available money.Amount, now time.Time) (*Liquidation, error) {
	if !d.Liquidatable() {
		return nil, fmt.Errorf("%w: disbursement %s is %q", ErrDisbursementNotReceived, d.ID, d.Status)
	}
	if beneficiaryID == "" {
		return nil, fmt.Errorf("%w: beneficiary id required", ErrInvalidInput)
	}
	if !claimed.IsPositive() {
		return nil, fmt.Errorf("%w: claimed amount must be positive", ErrInvalidInput)
	}
	if claimed.GreaterThan(available) {
		return nil, &OverLiquidationError{DisbursementID: d.ID, Requested: claimed, Available: available}
	}
	return &Liquidation{
		ID:                 id,
		DisbursementID:     d.ID,
		BeneficiaryID:      beneficiaryID,
		UnitID:             d.UnitID,
		Category:           d.Category,
		DisbursedAmount:    claimed,
		TotalReceiptAmount: money.Zero(),
		RemainingAmount:    claimed,
		IsComplete:         false,
		Status:             LiquidationPending,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// =============================================================================
// RECEIPTS
// =============================================================================

// AttachReceipt appends a receipt and recomputes the aggregate and the
// remaining amount. Status moves pending -> in_progress on the first
// receipt and to complete when the remainder reaches zero.
//
// `available` is the parent disbursement's amount minus every non-rejected
// sibling's receipt total (excluding this liquidation); a new aggregate
// beyond it fails with ErrOverLiquidation and changes nothing.
func AttachReceipt(l *Liquidation, rc Receipt, available money.Amount, now time.Time) (*Liquidation, error) {
	if l.Terminal() {
		return nil, terminalErr(l)
	}
	if l.Status.UnderApproval() {
		return nil, fmt.Errorf("%w: liquidation %s is %q", ErrLiquidationLocked, l.ID, l.Status)
	}
	if !rc.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: receipt amount must be positive", ErrInvalidInput)
	}

	aggregate := l.TotalReceiptAmount.Add(rc.Amount)
	if aggregate.GreaterThan(available) {
		return nil, &OverLiquidationError{
			DisbursementID: l.DisbursementID,
			Requested:      aggregate,
			Available:      available,
		}
	}

	out := l.Clone()
	rc.LiquidationID = out.ID
	if rc.Verification == "" {
		rc.Verification = VerificationPending
	}
	rc.CreatedAt = now
	out.Receipts = append(out.Receipts, rc)

	out.TotalReceiptAmount = aggregate
	out.RemainingAmount = out.DisbursedAmount.SubFloorZero(aggregate)
	out.IsComplete = out.RemainingAmount.IsZero()

	switch {
	case out.IsComplete:
		out.Status = LiquidationComplete
	case out.Status == LiquidationPending:
		out.Status = LiquidationInProgress
	}
	out.UpdatedAt = now
	return out, nil
}

// VerifyReceipt updates a receipt's verification status and notes. Allowed
// at any non-terminal point and after final approval (reviewers may settle
// questioned receipts during audit); never after rejection.
func VerifyReceipt(l *Liquidation, receiptID string, role Role, status VerificationStatus, notes string, now time.Time) (*Liquidation, error) {
	if l.Status == LiquidationRejected {
		return nil, terminalErr(l)
	}
	if !role.Reviewer() {
		return nil, fmt.Errorf("%w: role %q cannot verify receipts", ErrInvalidInput, role)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown verification status %q", ErrInvalidInput, status)
	}

	out := l.Clone()
	for i := range out.Receipts {
		if out.Receipts[i].ID == receiptID {
			out.Receipts[i].Verification = status
			out.Receipts[i].VerifyNotes = notes
			out.UpdatedAt = now
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: receipt %s", ErrNotFound, receiptID)
}

// =============================================================================
// SUBMISSION AND APPROVAL CHAIN
// =============================================================================

// SubmitLiquidation moves a complete liquidation into the approval chain.
func SubmitLiquidation(l *Liquidation, now time.Time) (*Liquidation, error) {
	if l.Terminal() {
		return nil, terminalErr(l)
	}
	if l.Status != LiquidationComplete {
		return nil, fmt.Errorf("%w: liquidation %s is %q (remaining %s)",
			ErrLiquidationNotComplete, l.ID, l.Status, l.RemainingAmount)
	}
	out := l.Clone()
	out.Status = LiquidationPendingCaseworker
	out.UpdatedAt = now
	return out, nil
}

// ApproveLiquidation records one tier's approval. The level must equal the
// level implied by the current status. After the director, the liquidation
// is approved; the caller must then run reconciliation in the same
// transaction.
func ApproveLiquidation(l *Liquidation, level ApprovalLevel, approverID, notes string, now time.Time) (*Liquidation, error) {
	if err := checkLevel(l, level); err != nil {
		return nil, err
	}
	if approverID == "" {
		return nil, fmt.Errorf("%w: approver id required", ErrInvalidInput)
	}

	out := l.Clone()
	a := out.ApprovalFor(level)
	a.ApproverID = approverID
	a.Notes = notes
	t := now
	a.At = &t
	out.Status = level.afterApproval()
	out.UpdatedAt = now
	return out, nil
}

// RejectLiquidation terminates the liquidation at the given level, recording
// which level rejected and why. Terminal: subsequent actions fail with
// ErrLiquidationTerminal.
func RejectLiquidation(l *Liquidation, level ApprovalLevel, approverID, reason string, now time.Time) (*Liquidation, error) {
	if err := checkLevel(l, level); err != nil {
		return nil, err
	}
	if approverID == "" {
		return nil, fmt.Errorf("%w: approver id required", ErrInvalidInput)
	}

	out := l.Clone()
	out.Status = LiquidationRejected
	out.RejectedAtLevel = level
	out.RejectionReason = reason
	out.RejectedBy = approverID
	t := now
	out.RejectedAt = &t
	out.UpdatedAt = now
	return out, nil
}

func checkLevel(l *Liquidation, level ApprovalLevel) error {
	if l.Terminal() {
		return terminalErr(l)
	}
	if !level.Valid() {
		return &ApprovalLevelError{LiquidationID: l.ID, Status: l.Status, Level: level}
	}
	pending, ok := l.Status.PendingLevel()
	if !ok || pending != level {
		return &ApprovalLevelError{LiquidationID: l.ID, Status: l.Status, Level: level}
	}
	return nil
}

func terminalErr(l *Liquidation) error {
	return &TerminalLiquidationError{
		LiquidationID:   l.ID,
		Status:          l.Status,
		RejectedAtLevel: l.RejectedAtLevel,
		Reason:          l.RejectionReason,
	}
}
