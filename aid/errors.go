/*
errors.go - Centralized error types for the approval engine

PURPOSE:
  All domain errors in one place. Every state machine returns typed errors
  so callers (handlers, jobs) can map them without string matching.

ERROR CATEGORIES:
  1. Transition errors  - wrong actor or wrong point in an ordered machine
  2. Conflict errors    - lost a race or repeated a completed action
  3. Business rules     - over-liquidation, duplicate period, premature ops
  4. Store errors       - not found, optimistic concurrency conflicts

USAGE:
  Structured errors unwrap to sentinels:

    if errors.Is(err, aid.ErrOverLiquidation) {
        var ol *aid.OverLiquidationError
        errors.As(err, &ol) // ol.Available is the exact remainder
    }

SEE ALSO:
  - request.go, disbursement.go, liquidation.go: producers
  - api/handlers.go: HTTP status mapping via the Is* helpers
*/
package aid

import (
	"errors"
	"fmt"
	"time"

	"github.com/IvanBritz/aidpoint-backend-sub001/money"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidStageTransition is returned when a review is attempted by a
	// role that does not own the request's current stage cursor.
	ErrInvalidStageTransition = errors.New("invalid stage transition")

	// ErrAlreadyDecided is returned when a stage decision is no longer
	// pending: either a repeat call or the losing side of a race.
	ErrAlreadyDecided = errors.New("stage already decided")

	// ErrInvalidDisbursementTransition is returned when a disbursement
	// advance skips, reverses, or is performed by the wrong role.
	ErrInvalidDisbursementTransition = errors.New("invalid disbursement transition")

	// ErrLiquidationTerminal is returned for any action on an approved or
	// rejected liquidation.
	ErrLiquidationTerminal = errors.New("liquidation already terminal")

	// ErrInvalidApprovalLevel is returned when an approve/reject level does
	// not match the level implied by the liquidation's current status.
	ErrInvalidApprovalLevel = errors.New("approval level does not match current status")

	// ErrOverLiquidation is returned when a receipt aggregate would exceed
	// the disbursement's remaining liquidatable amount.
	ErrOverLiquidation = errors.New("receipts exceed remaining liquidatable amount")

	// ErrDuplicatePeriodRequest is returned when a non-rejected allowance
	// request already exists for the beneficiary and period.
	ErrDuplicatePeriodRequest = errors.New("duplicate request for period")

	// ErrRequestNotFullyApproved is returned when creating a disbursement
	// before all three stages approved.
	ErrRequestNotFullyApproved = errors.New("aid request not fully approved")

	// ErrDisbursementExists is returned when a request already has its
	// disbursement (creation is exactly-once).
	ErrDisbursementExists = errors.New("disbursement already exists for request")

	// ErrDisbursementNotReceived is returned when opening a liquidation
	// before the beneficiary received the funds.
	ErrDisbursementNotReceived = errors.New("disbursement not yet received by beneficiary")

	// ErrLiquidationNotComplete is returned when submitting a liquidation
	// whose receipts do not yet cover the claimed amount.
	ErrLiquidationNotComplete = errors.New("liquidation not complete")

	// ErrLiquidationLocked is returned when attaching receipts to a
	// liquidation that already entered the approval chain.
	ErrLiquidationLocked = errors.New("liquidation locked for approval")

	// ErrOpenLiquidations is returned when deleting a disbursement that
	// still has non-terminal liquidations.
	ErrOpenLiquidations = errors.New("disbursement has open liquidations")

	// ErrInvalidDecision is returned for a review decision other than
	// approved or rejected.
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrInvalidInput is returned for malformed entity attributes.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConcurrentModification is returned when optimistic locking detects
	// a version conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StageTransitionError reports a review attempted by the wrong role.
type StageTransitionError struct {
	RequestID string
	Stage     Stage
	Role      Role
}

func (e *StageTransitionError) Error() string {
	return fmt.Sprintf("request %s: stage %q is not reviewed by role %q", e.RequestID, e.Stage, e.Role)
}

func (e *StageTransitionError) Unwrap() error { return ErrInvalidStageTransition }

// AlreadyDecidedError reports who decided the stage, and when.
type AlreadyDecidedError struct {
	RequestID string
	Stage     Stage
	Decision  Decision
	DecidedBy string
	DecidedAt *time.Time
}

func (e *AlreadyDecidedError) Error() string {
	if e.DecidedAt != nil {
		return fmt.Sprintf("request %s: stage %q already %s by %s at %s",
			e.RequestID, e.Stage, e.Decision, e.DecidedBy, e.DecidedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("request %s: stage %q already %s", e.RequestID, e.Stage, e.Decision)
}

func (e *AlreadyDecidedError) Unwrap() error { return ErrAlreadyDecided }

// DisbursementTransitionError reports an out-of-order or wrong-role advance.
type DisbursementTransitionError struct {
	DisbursementID string
	Current        DisbursementStatus
	Attempted      DisbursementStatus
	Role           Role
}

func (e *DisbursementTransitionError) Error() string {
	return fmt.Sprintf("disbursement %s: cannot move %q -> %q as role %q",
		e.DisbursementID, e.Current, e.Attempted, e.Role)
}

func (e *DisbursementTransitionError) Unwrap() error { return ErrInvalidDisbursementTransition }

// TerminalLiquidationError reports an action on a finished liquidation.
type TerminalLiquidationError struct {
	LiquidationID   string
	Status          LiquidationStatus
	RejectedAtLevel ApprovalLevel
	Reason          string
}

func (e *TerminalLiquidationError) Error() string {
	if e.Status == LiquidationRejected {
		return fmt.Sprintf("liquidation %s: rejected at %q level: %s", e.LiquidationID, e.RejectedAtLevel, e.Reason)
	}
	return fmt.Sprintf("liquidation %s: already %s", e.LiquidationID, e.Status)
}

func (e *TerminalLiquidationError) Unwrap() error { return ErrLiquidationTerminal }

// ApprovalLevelError reports an approve/reject at the wrong tier.
type ApprovalLevelError struct {
	LiquidationID string
	Status        LiquidationStatus
	Level         ApprovalLevel
}

func (e *ApprovalLevelError) Error() string {
	return fmt.Sprintf("liquidation %s: status %q does not accept level %q", e.LiquidationID, e.Status, e.Level)
}

func (e *ApprovalLevelError) Unwrap() error { return ErrInvalidApprovalLevel }

// OverLiquidationError reports the exact remainder the beneficiary may still
// submit receipts against.
type OverLiquidationError struct {
	DisbursementID string
	Requested      money.Amount
	Available      money.Amount
}

func (e *OverLiquidationError) Error() string {
	return fmt.Sprintf("disbursement %s: requested %s exceeds remaining liquidatable %s",
		e.DisbursementID, e.Requested, e.Available)
}

func (e *OverLiquidationError) Unwrap() error { return ErrOverLiquidation }

// DuplicatePeriodError reports the existing request blocking a submission.
type DuplicatePeriodError struct {
	BeneficiaryID string
	Period        Period
	ExistingID    string
}

func (e *DuplicatePeriodError) Error() string {
	return fmt.Sprintf("beneficiary %s already has request %s for period %s",
		e.BeneficiaryID, e.ExistingID, e.Period)
}

func (e *DuplicatePeriodError) Unwrap() error { return ErrDuplicatePeriodRequest }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input or
// a logic/authorization mistake. No retry will help.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidStageTransition) ||
		errors.Is(err, ErrInvalidDisbursementTransition) ||
		errors.Is(err, ErrInvalidApprovalLevel) ||
		errors.Is(err, ErrOverLiquidation) ||
		errors.Is(err, ErrDuplicatePeriodRequest) ||
		errors.Is(err, ErrRequestNotFullyApproved) ||
		errors.Is(err, ErrDisbursementNotReceived) ||
		errors.Is(err, ErrLiquidationNotComplete) ||
		errors.Is(err, ErrLiquidationLocked) ||
		errors.Is(err, ErrOpenLiquidations) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrInvalidInput)
}

// IsConflict returns true if the caller lost a race or repeated a completed
// action. Surfaced as a conflict, never silently ignored.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrLiquidationTerminal) ||
		errors.Is(err, ErrDisbursementExists) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the operation might succeed on retry.
// Domain state only advances, so retrying after a partial failure is safe.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
