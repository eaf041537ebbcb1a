/*
service.go - Orchestration of the approval engine

PURPOSE:
  The Service is the only component that persists state. Every operation
  follows the same shape:

    WithTx(load aggregate -> pure transition -> save)
    then: best-effort notification + audit (never inside the transaction)

  Transition preconditions are evaluated inside the same transaction as the
  write, so two actors racing to decide the same stage resolve to exactly
  one winner; the loser gets AlreadyDecided / LiquidationAlreadyTerminal,
  not a generic conflict.

KEY FLOWS:
  SubmitRequest       duplicate-period guard, allowance-derived amounts
  ReviewRequest       stage machine + disbursement creation on final approval
  FinanceDisburse...  forward-only disbursement advances
  OpenLiquidation     claim guard against every non-rejected sibling
  AttachReceipt       over-liquidation guard, completeness tracking
  Approve/Reject      three-tier chain; approval reconciles in the same tx
  RecomputeDisbursement / RepairLedgers   idempotent repair, one code path
  RecalculateAmount / RunRecalculation    best-effort allowance refresh

SEE ALSO:
  - request.go, disbursement.go, liquidation.go, reconcile.go: transitions
  - store.go: transaction contract
*/
package aid

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/IvanBritz/aidpoint-backend-sub001/money"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store     TxStore
	allowance AllowanceProvider
	notifier  Notifier
	audit     AuditLog
	log       *logrus.Logger

	now   func() time.Time
	newID func() string
}

// Config carries the optional collaborators. Zero values get safe defaults.
type Config struct {
	Allowance AllowanceProvider
	Notifier  Notifier
	Audit     AuditLog
	Log       *logrus.Logger
}

func NewService(store TxStore, cfg Config) *Service {
	s := &Service{
		store:     store,
		allowance: cfg.Allowance,
		notifier:  cfg.Notifier,
		audit:     cfg.Audit,
		log:       cfg.Log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.audit == nil {
		s.audit = NopAudit{}
	}
	if s.log == nil {
		s.log = logrus.New()
	}
	return s
}

// =============================================================================
// AID REQUESTS
// =============================================================================

// SubmitRequestInput is the beneficiary's submission.
type SubmitRequestInput struct {
	BeneficiaryID string
	UnitID        string
	Category      FundCategory
	Amount        money.Amount
	Period        *Period
	Purpose       string
}

// SubmitRequest creates a request at the caseworker stage. Allowance
// requests are checked against the one-active-request-per-period rule and,
// when an attendance provider is wired, their amount is derived from
// attendance instead of trusting the submitted figure.
func (s *Service) SubmitRequest(ctx context.Context, in SubmitRequestInput) (*AidRequest, error) {
	now := s.now()
	amount := in.Amount

	if in.Category == CategoryLivingAllowance && in.Period != nil && s.allowance != nil {
		att, err := s.allowance.Attendance(ctx, in.BeneficiaryID, *in.Period)
		if err != nil {
			return nil, fmt.Errorf("allowance lookup: %w", err)
		}
		if derived := att.Allowance(); derived.IsPositive() {
			amount = derived
		}
	}

	req, err := NewAidRequest(s.newID(), in.BeneficiaryID, in.UnitID, in.Category, amount, in.Period, in.Purpose, now)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(st Store) error {
		if req.Category == CategoryLivingAllowance {
			existing, err := st.FindActivePeriodRequest(ctx, req.BeneficiaryID, *req.Period)
			if err != nil {
				return err
			}
			if existing != nil {
				return &DuplicatePeriodError{
					BeneficiaryID: req.BeneficiaryID,
					Period:        *req.Period,
					ExistingID:    existing.ID,
				}
			}
		}
		return st.CreateAidRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Notification{
		RecipientID: req.BeneficiaryID,
		Kind:        EventRequestSubmitted,
		Payload:     map[string]string{"request_id": req.ID, "amount": req.Amount.String()},
	})
	s.recordAudit(ctx, AuditEntry{
		ActorID: req.BeneficiaryID, Action: "request_submitted",
		EntityType: "aid_request", EntityID: req.ID,
		After: string(req.Stage),
	})
	return req, nil
}

// ReviewRequest records a stage decision. When the director approves, the
// disbursement is created inside the same transaction through the same
// exactly-once path CreateDisbursement uses.
func (s *Service) ReviewRequest(ctx context.Context, requestID string, role Role, decision Decision, reviewerID, notes string) (*AidRequest, error) {
	now := s.now()
	var (
		updated *AidRequest
		before  Stage
	)

	err := s.store.WithTx(ctx, func(st Store) error {
		req, err := st.GetAidRequest(ctx, requestID)
		if err != nil {
			return err
		}
		before = req.Stage

		next, err := ReviewRequest(req, role, decision, reviewerID, notes, now)
		if err != nil {
			return err
		}
		if err := st.UpdateAidRequest(ctx, next); err != nil {
			return err
		}

		if next.FullyApproved() {
			d, err := NewDisbursement(s.newID(), next, s.referenceNo(now), now)
			if err != nil {
				return err
			}
			if err := st.CreateDisbursement(ctx, d); err != nil {
				return err
			}
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := EventRequestStageApproved
	switch {
	case decision == DecisionRejected:
		kind = EventRequestRejected
	case updated.FullyApproved():
		kind = EventRequestApproved
	}
	s.emit(ctx, Notification{
		RecipientID: updated.BeneficiaryID,
		Kind:        kind,
		Payload:     map[string]string{"request_id": updated.ID, "stage": string(before), "decision": string(decision)},
	})
	s.recordAudit(ctx, AuditEntry{
		ActorID: reviewerID, Action: "request_" + string(decision),
		EntityType: "aid_request", EntityID: updated.ID,
		Before: string(before), After: string(updated.Stage),
	})
	return updated, nil
}

// RecalculateAmount re-derives the claim amount of every still-pending
// allowance request of one beneficiary from current attendance data.
// Idempotent; returns the number of requests whose amount changed.
func (s *Service) RecalculateAmount(ctx context.Context, beneficiaryID string) (int, error) {
	if s.allowance == nil {
		return 0, fmt.Errorf("%w: no allowance provider configured", ErrInvalidInput)
	}
	now := s.now()
	updated := 0

	err := s.store.WithTx(ctx, func(st Store) error {
		reqs, err := st.ListAidRequestsByBeneficiary(ctx, beneficiaryID)
		if err != nil {
			return err
		}
		for i := range reqs {
			r := &reqs[i]
			if !r.RecalculationEligible() {
				continue
			}
			att, err := s.allowance.Attendance(ctx, beneficiaryID, *r.Period)
			if err != nil {
				return fmt.Errorf("attendance for %s: %w", r.Period, err)
			}
			amount := att.Allowance()
			if !amount.IsPositive() {
				continue
			}
			next, changed, err := ApplyRecalculatedAmount(r, amount, now)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			if err := st.UpdateAidRequest(ctx, next); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// RunRecalculation recalculates each target beneficiary independently.
// A nil target list means every beneficiary with a pending allowance
// request. One failure never aborts the rest.
func (s *Service) RunRecalculation(ctx context.Context, beneficiaryIDs []string) RecalculationReport {
	report := RecalculationReport{}

	if beneficiaryIDs == nil {
		ids, err := s.store.ListBeneficiariesWithPendingAllowance(ctx)
		if err != nil {
			report.Failures = append(report.Failures, ItemError{ID: "*", Err: err.Error()})
			return report
		}
		beneficiaryIDs = ids
	}

	for _, id := range beneficiaryIDs {
		report.Beneficiaries++
		n, err := s.RecalculateAmount(ctx, id)
		if err != nil {
			s.log.WithFields(logrus.Fields{"beneficiary": id}).WithError(err).Warn("recalculation failed")
			report.Failures = append(report.Failures, ItemError{ID: id, Err: err.Error()})
			continue
		}
		report.RequestsUpdated += n
	}
	return report
}

// =============================================================================
// DISBURSEMENTS
// =============================================================================

// CreateDisbursement is the explicit exactly-once creation path. Normally
// the director's approval creates the disbursement; this method backstops
// administrative fix-ups and fails with ErrDisbursementExists on repeats.
func (s *Service) CreateDisbursement(ctx context.Context, aidRequestID string) (*Disbursement, error) {
	now := s.now()
	var out *Disbursement
	err := s.store.WithTx(ctx, func(st Store) error {
		req, err := st.GetAidRequest(ctx, aidRequestID)
		if err != nil {
			return err
		}
		d, err := NewDisbursement(s.newID(), req, s.referenceNo(now), now)
		if err != nil {
			return err
		}
		if err := st.CreateDisbursement(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, AuditEntry{
		Action: "disbursement_created", EntityType: "disbursement", EntityID: out.ID,
		After: string(out.Status),
	})
	return out, nil
}

// FinanceDisburse releases the funds from finance. The reference number, if
// given, replaces the generated one.
func (s *Service) FinanceDisburse(ctx context.Context, id, actorID, referenceNo, notes string) (*Disbursement, error) {
	return s.advance(ctx, id, DisbursementFinanceDisbursed, RoleFinance, actorID, notes, referenceNo)
}

func (s *Service) CaseworkerReceive(ctx context.Context, id, actorID, notes string) (*Disbursement, error) {
	return s.advance(ctx, id, DisbursementCaseworkerReceived, RoleCaseworker, actorID, notes, "")
}

func (s *Service) CaseworkerDisburse(ctx context.Context, id, actorID, notes string) (*Disbursement, error) {
	return s.advance(ctx, id, DisbursementCaseworkerDisbursed, RoleCaseworker, actorID, notes, "")
}

func (s *Service) BeneficiaryReceive(ctx context.Context, id, actorID, notes string) (*Disbursement, error) {
	return s.advance(ctx, id, DisbursementBeneficiaryReceived, RoleBeneficiary, actorID, notes, "")
}

func (s *Service) advance(ctx context.Context, id string, to DisbursementStatus, role Role, actorID, notes, referenceNo string) (*Disbursement, error) {
	now := s.now()
	var (
		out    *Disbursement
		before DisbursementStatus
	)
	err := s.store.WithTx(ctx, func(st Store) error {
		d, err := st.GetDisbursement(ctx, id)
		if err != nil {
			return err
		}
		before = d.Status

		next, err := AdvanceDisbursement(d, to, role, actorID, notes, now)
		if err != nil {
			return err
		}
		if referenceNo != "" {
			next.ReferenceNo = referenceNo
		}
		if err := st.UpdateDisbursement(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Notification{
		RecipientID: out.BeneficiaryID,
		Kind:        EventDisbursementAdvanced,
		Payload:     map[string]string{"disbursement_id": out.ID, "status": string(out.Status)},
	})
	s.recordAudit(ctx, AuditEntry{
		ActorID: actorID, Action: "disbursement_advanced",
		EntityType: "disbursement", EntityID: out.ID,
		Before: string(before), After: string(out.Status),
	})
	return out, nil
}

// DeleteDisbursement removes a disbursement that never entered liquidation.
// The cascade rule is an explicit precondition, not a storage-engine
// foreign-key behavior: any non-terminal liquidation denies the delete.
func (s *Service) DeleteDisbursement(ctx context.Context, id string) error {
	err := s.store.WithTx(ctx, func(st Store) error {
		if _, err := st.GetDisbursement(ctx, id); err != nil {
			return err
		}
		liqs, err := st.ListLiquidationsByDisbursement(ctx, id)
		if err != nil {
			return err
		}
		for i := range liqs {
			if !liqs[i].Terminal() {
				return fmt.Errorf("%w: liquidation %s is %q", ErrOpenLiquidations, liqs[i].ID, liqs[i].Status)
			}
		}
		return st.DeleteDisbursement(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, AuditEntry{Action: "disbursement_deleted", EntityType: "disbursement", EntityID: id})
	return nil
}

// =============================================================================
// LIQUIDATIONS
// =============================================================================

// OpenLiquidation starts a claim against a received disbursement. The
// claimed amount must fit inside what no other non-rejected liquidation
// already holds.
func (s *Service) OpenLiquidation(ctx context.Context, disbursementID, beneficiaryID string, claimed money.Amount) (*Liquidation, error) {
	now := s.now()
	var out *Liquidation
	err := s.store.WithTx(ctx, func(st Store) error {
		d, err := st.GetDisbursement(ctx, disbursementID)
		if err != nil {
			return err
		}
		siblings, err := st.ListLiquidationsByDisbursement(ctx, disbursementID)
		if err != nil {
			return err
		}
		available := AvailableToClaim(d, siblings, "")

		l, err := NewLiquidation(s.newID(), d, beneficiaryID, claimed, available, now)
		if err != nil {
			return err
		}
		if err := st.CreateLiquidation(ctx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, AuditEntry{
		ActorID: beneficiaryID, Action: "liquidation_opened",
		EntityType: "liquidation", EntityID: out.ID,
		After: string(out.Status),
	})
	return out, nil
}

// ReceiptInput is one piece of evidence submitted by the beneficiary.
type ReceiptInput struct {
	Amount      money.Amount
	ReceiptNo   string
	ReceiptDate time.Time
	Description string
	FileRef     string
}

// AttachReceipt appends a receipt, guarded against over-liquidation across
// every non-rejected liquidation of the parent disbursement.
func (s *Service) AttachReceipt(ctx context.Context, liquidationID string, in ReceiptInput) (*Liquidation, error) {
	now := s.now()
	var out *Liquidation
	err := s.store.WithTx(ctx, func(st Store) error {
		l, err := st.GetLiquidation(ctx, liquidationID)
		if err != nil {
			return err
		}
		d, err := st.GetDisbursement(ctx, l.DisbursementID)
		if err != nil {
			return err
		}
		siblings, err := st.ListLiquidationsByDisbursement(ctx, l.DisbursementID)
		if err != nil {
			return err
		}
		available := AvailableToClaim(d, siblings, l.ID)

		rc := Receipt{
			ID:          s.newID(),
			Amount:      in.Amount,
			ReceiptNo:   in.ReceiptNo,
			ReceiptDate: in.ReceiptDate,
			Description: in.Description,
			FileRef:     in.FileRef,
		}
		next, err := AttachReceipt(l, rc, available, now)
		if err != nil {
			return err
		}
		if err := st.UpdateLiquidation(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitLiquidation moves a complete liquidation into the approval chain.
func (s *Service) SubmitLiquidation(ctx context.Context, liquidationID string) (*Liquidation, error) {
	now := s.now()
	var out *Liquidation
	err := s.store.WithTx(ctx, func(st Store) error {
		l, err := st.GetLiquidation(ctx, liquidationID)
		if err != nil {
			return err
		}
		next, err := SubmitLiquidation(l, now)
		if err != nil {
			return err
		}
		if err := st.UpdateLiquidation(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, Notification{
		RecipientID: out.BeneficiaryID,
		Kind:        EventLiquidationSubmitted,
		Payload:     map[string]string{"liquidation_id": out.ID},
	})
	s.recordAudit(ctx, AuditEntry{
		ActorID: out.BeneficiaryID, Action: "liquidation_submitted",
		EntityType: "liquidation", EntityID: out.ID,
		Before: string(LiquidationComplete), After: string(out.Status),
	})
	return out, nil
}

// ApproveLiquidation records one tier's approval. When the director signs
// off, the parent disbursement's ledger fields are reconciled inside the
// same transaction.
func (s *Service) ApproveLiquidation(ctx context.Context, liquidationID string, level ApprovalLevel, approverID, notes string) (*Liquidation, error) {
	now := s.now()
	var (
		out    *Liquidation
		before LiquidationStatus
	)
	err := s.store.WithTx(ctx, func(st Store) error {
		l, err := st.GetLiquidation(ctx, liquidationID)
		if err != nil {
			return err
		}
		before = l.Status

		next, err := ApproveLiquidation(l, level, approverID, notes, now)
		if err != nil {
			return err
		}
		if err := st.UpdateLiquidation(ctx, next); err != nil {
			return err
		}
		if next.Status == LiquidationApproved {
			if err := s.reconcileLocked(ctx, st, next.DisbursementID, now); err != nil {
				return err
			}
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Status == LiquidationApproved {
		s.emit(ctx, Notification{
			RecipientID: out.BeneficiaryID,
			Kind:        EventLiquidationApproved,
			Payload:     map[string]string{"liquidation_id": out.ID},
		})
	}
	s.recordAudit(ctx, AuditEntry{
		ActorID: approverID, Action: "liquidation_approved_" + string(level),
		EntityType: "liquidation", EntityID: out.ID,
		Before: string(before), After: string(out.Status),
	})
	return out, nil
}

// RejectLiquidation terminates the liquidation at the given level. The
// ledger is reconciled in the same transaction so the derived fields stay
// fresh even though a rejected liquidation contributes nothing.
func (s *Service) RejectLiquidation(ctx context.Context, liquidationID string, level ApprovalLevel, approverID, reason string) (*Liquidation, error) {
	now := s.now()
	var (
		out    *Liquidation
		before LiquidationStatus
	)
	err := s.store.WithTx(ctx, func(st Store) error {
		l, err := st.GetLiquidation(ctx, liquidationID)
		if err != nil {
			return err
		}
		before = l.Status

		next, err := RejectLiquidation(l, level, approverID, reason, now)
		if err != nil {
			return err
		}
		if err := st.UpdateLiquidation(ctx, next); err != nil {
			return err
		}
		if err := s.reconcileLocked(ctx, st, next.DisbursementID, now); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, Notification{
		RecipientID: out.BeneficiaryID,
		Kind:        EventLiquidationRejected,
		Payload:     map[string]string{"liquidation_id": out.ID, "level": string(level), "reason": reason},
	})
	s.recordAudit(ctx, AuditEntry{
		ActorID: approverID, Action: "liquidation_rejected_" + string(level),
		EntityType: "liquidation", EntityID: out.ID,
		Before: string(before), After: string(out.Status),
	})
	return out, nil
}

// VerifyReceipt lets a reviewer mark one receipt verified or questioned.
func (s *Service) VerifyReceipt(ctx context.Context, liquidationID, receiptID string, role Role, status VerificationStatus, notes string) (*Liquidation, error) {
	now := s.now()
	var out *Liquidation
	err := s.store.WithTx(ctx, func(st Store) error {
		l, err := st.GetLiquidation(ctx, liquidationID)
		if err != nil {
			return err
		}
		next, err := VerifyReceipt(l, receiptID, role, status, notes, now)
		if err != nil {
			return err
		}
		if err := st.UpdateLiquidation(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// RECONCILIATION - One code path for inline, admin, and bulk repair
// =============================================================================

// RecomputeDisbursement re-derives one disbursement's ledger fields from
// its liquidations, under the same per-disbursement transaction discipline
// as an in-flight approval. Reports whether anything changed.
func (s *Service) RecomputeDisbursement(ctx context.Context, disbursementID string) (bool, error) {
	now := s.now()
	changed := false
	err := s.store.WithTx(ctx, func(st Store) error {
		d, err := st.GetDisbursement(ctx, disbursementID)
		if err != nil {
			return err
		}
		liqs, err := st.ListLiquidationsByDisbursement(ctx, disbursementID)
		if err != nil {
			return err
		}
		next, c := RecomputeDisbursement(d, liqs, now)
		if !c {
			return nil
		}
		changed = true
		return st.UpdateDisbursement(ctx, next)
	})
	return changed, err
}

// reconcileLocked recomputes inside an already-open transaction.
func (s *Service) reconcileLocked(ctx context.Context, st Store, disbursementID string, now time.Time) error {
	d, err := st.GetDisbursement(ctx, disbursementID)
	if err != nil {
		return err
	}
	liqs, err := st.ListLiquidationsByDisbursement(ctx, disbursementID)
	if err != nil {
		return err
	}
	next, changed := RecomputeDisbursement(d, liqs, now)
	if !changed {
		return nil
	}
	return st.UpdateDisbursement(ctx, next)
}

// RepairLedgers re-derives every disbursement's ledger fields from the
// authoritative liquidation rows. Each disbursement is an independent unit;
// failures are captured per item.
func (s *Service) RepairLedgers(ctx context.Context) RepairReport {
	report := RepairReport{}
	ids, err := s.store.ListDisbursementIDs(ctx)
	if err != nil {
		report.Failures = append(report.Failures, ItemError{ID: "*", Err: err.Error()})
		return report
	}
	for _, id := range ids {
		report.Disbursements++
		changed, err := s.RecomputeDisbursement(ctx, id)
		if err != nil {
			s.log.WithFields(logrus.Fields{"disbursement": id}).WithError(err).Warn("ledger repair failed")
			report.Failures = append(report.Failures, ItemError{ID: id, Err: err.Error()})
			continue
		}
		if changed {
			report.Changed++
		}
	}
	return report
}

// =============================================================================
// QUERY SURFACE
// =============================================================================

// PendingWork is everything waiting on one role, optionally scoped to a
// unit supplied by the identity collaborator.
type PendingWork struct {
	Requests      []AidRequest
	Disbursements []Disbursement
	Liquidations  []Liquidation
}

// PendingForRole returns the work queue for a role.
func (s *Service) PendingForRole(ctx context.Context, role Role, unitID string) (*PendingWork, error) {
	w := &PendingWork{}
	var err error

	switch role {
	case RoleCaseworker:
		if w.Requests, err = s.store.ListAidRequestsByStage(ctx, StageCaseworker, unitID); err != nil {
			return nil, err
		}
		toReceive, err := s.store.ListDisbursementsByStatus(ctx, DisbursementFinanceDisbursed, unitID)
		if err != nil {
			return nil, err
		}
		toHand, err := s.store.ListDisbursementsByStatus(ctx, DisbursementCaseworkerReceived, unitID)
		if err != nil {
			return nil, err
		}
		w.Disbursements = append(toReceive, toHand...)
		if w.Liquidations, err = s.store.ListLiquidationsByStatus(ctx, LiquidationPendingCaseworker, unitID); err != nil {
			return nil, err
		}
	case RoleFinance:
		if w.Requests, err = s.store.ListAidRequestsByStage(ctx, StageFinance, unitID); err != nil {
			return nil, err
		}
		if w.Disbursements, err = s.store.ListDisbursementsByStatus(ctx, DisbursementPending, unitID); err != nil {
			return nil, err
		}
		if w.Liquidations, err = s.store.ListLiquidationsByStatus(ctx, LiquidationPendingFinance, unitID); err != nil {
			return nil, err
		}
	case RoleDirector:
		if w.Requests, err = s.store.ListAidRequestsByStage(ctx, StageDirector, unitID); err != nil {
			return nil, err
		}
		if w.Liquidations, err = s.store.ListLiquidationsByStatus(ctx, LiquidationPendingDirector, unitID); err != nil {
			return nil, err
		}
	case RoleBeneficiary:
		if w.Disbursements, err = s.store.ListDisbursementsByStatus(ctx, DisbursementCaseworkerDisbursed, unitID); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: role %q has no work queue", ErrInvalidInput, role)
	}
	return w, nil
}

// DecisionRecord is one step of an approval history.
type DecisionRecord struct {
	Level    string
	Decision string
	ActorID  string
	Notes    string
	At       *time.Time
}

// RequestHistory returns the full decision history of an aid request.
func (s *Service) RequestHistory(ctx context.Context, requestID string) ([]DecisionRecord, error) {
	req, err := s.store.GetAidRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	var out []DecisionRecord
	for _, stage := range ReviewStages {
		d := req.DecisionFor(stage)
		out = append(out, DecisionRecord{
			Level:    string(stage),
			Decision: string(d.Decision),
			ActorID:  d.ReviewerID,
			Notes:    d.Notes,
			At:       d.DecidedAt,
		})
	}
	return out, nil
}

// LiquidationHistory returns the full approval history of a liquidation,
// including the rejection record when one exists.
func (s *Service) LiquidationHistory(ctx context.Context, liquidationID string) ([]DecisionRecord, error) {
	l, err := s.store.GetLiquidation(ctx, liquidationID)
	if err != nil {
		return nil, err
	}
	var out []DecisionRecord
	for _, level := range []ApprovalLevel{LevelCaseworker, LevelFinance, LevelDirector} {
		a := l.ApprovalFor(level)
		rec := DecisionRecord{Level: string(level), Decision: string(DecisionPending)}
		if a.At != nil {
			rec.Decision = string(DecisionApproved)
			rec.ActorID = a.ApproverID
			rec.Notes = a.Notes
			rec.At = a.At
		}
		if l.RejectedAtLevel == level {
			rec.Decision = string(DecisionRejected)
			rec.ActorID = l.RejectedBy
			rec.Notes = l.RejectionReason
			rec.At = l.RejectedAt
		}
		out = append(out, rec)
	}
	return out, nil
}

// LedgerSnapshot is the current reconciliation state of one disbursement.
type LedgerSnapshot struct {
	Disbursement Disbursement
	Liquidations []Liquidation
	Available    money.Amount // not yet held by any non-rejected liquidation
}

// Ledger returns the current ledger snapshot for a disbursement.
func (s *Service) Ledger(ctx context.Context, disbursementID string) (*LedgerSnapshot, error) {
	d, err := s.store.GetDisbursement(ctx, disbursementID)
	if err != nil {
		return nil, err
	}
	liqs, err := s.store.ListLiquidationsByDisbursement(ctx, disbursementID)
	if err != nil {
		return nil, err
	}
	return &LedgerSnapshot{
		Disbursement: *d,
		Liquidations: liqs,
		Available:    AvailableToClaim(d, liqs, ""),
	}, nil
}

// GetAidRequest, GetDisbursement, GetLiquidation: plain reads.
func (s *Service) GetAidRequest(ctx context.Context, id string) (*AidRequest, error) {
	return s.store.GetAidRequest(ctx, id)
}

func (s *Service) GetDisbursement(ctx context.Context, id string) (*Disbursement, error) {
	return s.store.GetDisbursement(ctx, id)
}

func (s *Service) GetLiquidation(ctx context.Context, id string) (*Liquidation, error) {
	return s.store.GetLiquidation(ctx, id)
}

func (s *Service) ListRequestsByBeneficiary(ctx context.Context, beneficiaryID string) ([]AidRequest, error) {
	return s.store.ListAidRequestsByBeneficiary(ctx, beneficiaryID)
}

// =============================================================================
// INTERNAL
// =============================================================================

// emit delivers a notification after commit. Failures are logged and
// swallowed; notification is best-effort by contract.
func (s *Service) emit(ctx context.Context, n Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.WithFields(logrus.Fields{
			"recipient": n.RecipientID,
			"kind":      n.Kind,
		}).WithError(err).Warn("notification delivery failed")
	}
}

// recordAudit emits an audit record after commit. Same best-effort rule.
func (s *Service) recordAudit(ctx context.Context, e AuditEntry) {
	if err := s.audit.Record(ctx, e); err != nil {
		s.log.WithFields(logrus.Fields{
			"action":    e.Action,
			"entity_id": e.EntityID,
		}).WithError(err).Warn("audit record failed")
	}
}

func (s *Service) referenceNo(now time.Time) string {
	id := s.newID()
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("DSB-%d-%s", now.Year(), id)
}
