/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validator struct tags; handlers run them through a
  shared *validator.Validate before touching domain logic. Amounts travel
  as decimal strings and are parsed by money.Parse, never float64.

SEE ALSO:
  - handlers.go: Uses these types
  - aid/types.go: The domain entities these map from
*/
package api

import (
	"time"

	"github.com/IvanBritz/aidpoint-backend-sub001/aid"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// PeriodRequest identifies one allowance month.
type PeriodRequest struct {
	Month int `json:"month" validate:"required,min=1,max=12"`
	Year  int `json:"year" validate:"required,min=2000,max=2200"`
}

// SubmitRequestRequest creates an aid request at the caseworker stage.
type SubmitRequestRequest struct {
	BeneficiaryID string         `json:"beneficiary_id" validate:"required"`
	UnitID        string         `json:"unit_id"`
	Category      string         `json:"category" validate:"required,oneof=tuition cost_of_living_allowance other"`
	Amount        string         `json:"amount" validate:"required"`
	Period        *PeriodRequest `json:"period,omitempty"`
	Purpose       string         `json:"purpose"`
}

// ReviewRequestRequest records one stage decision.
type ReviewRequestRequest struct {
	Role       string `json:"role" validate:"required,oneof=caseworker finance director"`
	Decision   string `json:"decision" validate:"required,oneof=approved rejected"`
	ReviewerID string `json:"reviewer_id" validate:"required"`
	Notes      string `json:"notes"`
}

// AdvanceDisbursementRequest moves a disbursement one step forward.
// ReferenceNo is only honored on the finance release step.
type AdvanceDisbursementRequest struct {
	ActorID     string `json:"actor_id" validate:"required"`
	ReferenceNo string `json:"reference_no"`
	Notes       string `json:"notes"`
}

// OpenLiquidationRequest starts a claim against a disbursement.
type OpenLiquidationRequest struct {
	BeneficiaryID string `json:"beneficiary_id" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
}

// AttachReceiptRequest adds one receipt to an open liquidation.
type AttachReceiptRequest struct {
	Amount      string `json:"amount" validate:"required"`
	ReceiptNo   string `json:"receipt_no"`
	ReceiptDate string `json:"receipt_date" validate:"required"` // YYYY-MM-DD
	Description string `json:"description"`
	FileRef     string `json:"file_ref"`
}

// ApproveLiquidationRequest records one tier's sign-off.
type ApproveLiquidationRequest struct {
	Level      string `json:"level" validate:"required,oneof=caseworker finance director"`
	ApproverID string `json:"approver_id" validate:"required"`
	Notes      string `json:"notes"`
}

// RejectLiquidationRequest terminates the liquidation at one tier.
type RejectLiquidationRequest struct {
	Level      string `json:"level" validate:"required,oneof=caseworker finance director"`
	ApproverID string `json:"approver_id" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

// VerifyReceiptRequest marks one receipt verified or questioned.
type VerifyReceiptRequest struct {
	Role   string `json:"role" validate:"required,oneof=caseworker finance director admin"`
	Status string `json:"status" validate:"required,oneof=verified questioned"`
	Notes  string `json:"notes"`
}

// CreateDisbursementRequest is the admin backstop creation path.
type CreateDisbursementRequest struct {
	AidRequestID string `json:"aid_request_id" validate:"required"`
}

// RecalculateRequest targets specific beneficiaries; empty means all
// beneficiaries with a pending allowance request.
type RecalculateRequest struct {
	BeneficiaryIDs []string `json:"beneficiary_ids"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// StageDecisionDTO is one review stage's outcome.
type StageDecisionDTO struct {
	Decision   string  `json:"decision"`
	ReviewerID string  `json:"reviewer_id,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	DecidedAt  *string `json:"decided_at,omitempty"`
}

// AidRequestDTO represents an aid request in API responses.
type AidRequestDTO struct {
	ID            string           `json:"id"`
	BeneficiaryID string           `json:"beneficiary_id"`
	UnitID        string           `json:"unit_id,omitempty"`
	Category      string           `json:"category"`
	Amount        string           `json:"amount"`
	Period        *PeriodRequest   `json:"period,omitempty"`
	Purpose       string           `json:"purpose,omitempty"`
	Stage         string           `json:"stage"`
	Caseworker    StageDecisionDTO `json:"caseworker"`
	Finance       StageDecisionDTO `json:"finance"`
	Director      StageDecisionDTO `json:"director"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
}

// HandoffDTO is one custody step of a disbursement.
type HandoffDTO struct {
	ActorID string  `json:"actor_id,omitempty"`
	At      *string `json:"at,omitempty"`
}

// DisbursementDTO represents a disbursement in API responses.
type DisbursementDTO struct {
	ID                   string     `json:"id"`
	AidRequestID         string     `json:"aid_request_id"`
	BeneficiaryID        string     `json:"beneficiary_id"`
	UnitID               string     `json:"unit_id,omitempty"`
	Category             string     `json:"category"`
	Amount               string     `json:"amount"`
	Status               string     `json:"status"`
	ReferenceNo          string     `json:"reference_no,omitempty"`
	Notes                string     `json:"notes,omitempty"`
	FinanceDisbursed     HandoffDTO `json:"finance_disbursed"`
	CaseworkerReceived   HandoffDTO `json:"caseworker_received"`
	CaseworkerDisbursed  HandoffDTO `json:"caseworker_disbursed"`
	BeneficiaryReceived  HandoffDTO `json:"beneficiary_received"`
	LiquidatedAmount     string     `json:"liquidated_amount"`
	RemainingToLiquidate string     `json:"remaining_to_liquidate"`
	FullyLiquidated      bool       `json:"fully_liquidated"`
	FullyLiquidatedAt    *string    `json:"fully_liquidated_at,omitempty"`
	CreatedAt            string     `json:"created_at"`
	UpdatedAt            string     `json:"updated_at"`
}

// ReceiptDTO is one receipt in API responses.
type ReceiptDTO struct {
	ID           string `json:"id"`
	Amount       string `json:"amount"`
	ReceiptNo    string `json:"receipt_no,omitempty"`
	ReceiptDate  string `json:"receipt_date"`
	Description  string `json:"description,omitempty"`
	FileRef      string `json:"file_ref,omitempty"`
	Verification string `json:"verification"`
	VerifyNotes  string `json:"verify_notes,omitempty"`
}

// ApprovalDTO is one tier's sign-off in API responses.
type ApprovalDTO struct {
	ApproverID string  `json:"approver_id,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	At         *string `json:"at,omitempty"`
}

// LiquidationDTO represents a liquidation in API responses.
type LiquidationDTO struct {
	ID                 string       `json:"id"`
	DisbursementID     string       `json:"disbursement_id"`
	BeneficiaryID      string       `json:"beneficiary_id"`
	Category           string       `json:"category"`
	DisbursedAmount    string       `json:"disbursed_amount"`
	TotalReceiptAmount string       `json:"total_receipt_amount"`
	RemainingAmount    string       `json:"remaining_amount"`
	IsComplete         bool         `json:"is_complete"`
	Status             string       `json:"status"`
	CaseworkerApproval ApprovalDTO  `json:"caseworker_approval"`
	FinanceApproval    ApprovalDTO  `json:"finance_approval"`
	DirectorApproval   ApprovalDTO  `json:"director_approval"`
	RejectedAtLevel    string       `json:"rejected_at_level,omitempty"`
	RejectionReason    string       `json:"rejection_reason,omitempty"`
	RejectedBy         string       `json:"rejected_by,omitempty"`
	RejectedAt         *string      `json:"rejected_at,omitempty"`
	Receipts           []ReceiptDTO `json:"receipts"`
	CreatedAt          string       `json:"created_at"`
	UpdatedAt          string       `json:"updated_at"`
}

// DecisionRecordDTO is one step of an approval history.
type DecisionRecordDTO struct {
	Level    string  `json:"level"`
	Decision string  `json:"decision"`
	ActorID  string  `json:"actor_id,omitempty"`
	Notes    string  `json:"notes,omitempty"`
	At       *string `json:"at,omitempty"`
}

// LedgerDTO is the reconciliation snapshot of one disbursement.
type LedgerDTO struct {
	Disbursement DisbursementDTO  `json:"disbursement"`
	Liquidations []LiquidationDTO `json:"liquidations"`
	Available    string           `json:"available_to_claim"`
}

// PendingWorkDTO is everything waiting on one role.
type PendingWorkDTO struct {
	Requests      []AidRequestDTO   `json:"requests"`
	Disbursements []DisbursementDTO `json:"disbursements"`
	Liquidations  []LiquidationDTO  `json:"liquidations"`
}

// ItemErrorDTO is one item's failure inside a best-effort run.
type ItemErrorDTO struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// RecalculationReportDTO summarizes an allowance recalculation run.
type RecalculationReportDTO struct {
	Beneficiaries   int            `json:"beneficiaries"`
	RequestsUpdated int            `json:"requests_updated"`
	Failures        []ItemErrorDTO `json:"failures,omitempty"`
}

// RepairReportDTO summarizes a ledger repair sweep.
type RepairReportDTO struct {
	Disbursements int            `json:"disbursements"`
	Changed       int            `json:"changed"`
	Failures      []ItemErrorDTO `json:"failures,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS - Domain entities to DTOs
// =============================================================================

func fmtRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtRFC3339Ptr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtRFC3339(*t)
	return &s
}

func toStageDecisionDTO(d aid.StageDecision) StageDecisionDTO {
	return StageDecisionDTO{
		Decision:   string(d.Decision),
		ReviewerID: d.ReviewerID,
		Notes:      d.Notes,
		DecidedAt:  fmtRFC3339Ptr(d.DecidedAt),
	}
}

func toAidRequestDTO(r *aid.AidRequest) AidRequestDTO {
	dto := AidRequestDTO{
		ID:            r.ID,
		BeneficiaryID: r.BeneficiaryID,
		UnitID:        r.UnitID,
		Category:      string(r.Category),
		Amount:        r.Amount.String(),
		Purpose:       r.Purpose,
		Stage:         string(r.Stage),
		Caseworker:    toStageDecisionDTO(r.Caseworker),
		Finance:       toStageDecisionDTO(r.Finance),
		Director:      toStageDecisionDTO(r.Director),
		CreatedAt:     fmtRFC3339(r.CreatedAt),
		UpdatedAt:     fmtRFC3339(r.UpdatedAt),
	}
	if r.Period != nil {
		dto.Period = &PeriodRequest{Month: int(r.Period.Month), Year: r.Period.Year}
	}
	return dto
}

func toAidRequestDTOs(reqs []aid.AidRequest) []AidRequestDTO {
	out := make([]AidRequestDTO, len(reqs))
	for i := range reqs {
		out[i] = toAidRequestDTO(&reqs[i])
	}
	return out
}

func toHandoffDTO(h aid.HandoffRecord) HandoffDTO {
	return HandoffDTO{ActorID: h.ActorID, At: fmtRFC3339Ptr(h.At)}
}

func toDisbursementDTO(d *aid.Disbursement) DisbursementDTO {
	return DisbursementDTO{
		ID:                   d.ID,
		AidRequestID:         d.AidRequestID,
		BeneficiaryID:        d.BeneficiaryID,
		UnitID:               d.UnitID,
		Category:             string(d.Category),
		Amount:               d.Amount.String(),
		Status:               string(d.Status),
		ReferenceNo:          d.ReferenceNo,
		Notes:                d.Notes,
		FinanceDisbursed:     toHandoffDTO(d.FinanceDisbursed),
		CaseworkerReceived:   toHandoffDTO(d.CaseworkerReceived),
		CaseworkerDisbursed:  toHandoffDTO(d.CaseworkerDisbursed),
		BeneficiaryReceived:  toHandoffDTO(d.BeneficiaryReceived),
		LiquidatedAmount:     d.LiquidatedAmount.String(),
		RemainingToLiquidate: d.RemainingToLiquidate.String(),
		FullyLiquidated:      d.FullyLiquidated,
		FullyLiquidatedAt:    fmtRFC3339Ptr(d.FullyLiquidatedAt),
		CreatedAt:            fmtRFC3339(d.CreatedAt),
		UpdatedAt:            fmtRFC3339(d.UpdatedAt),
	}
}

func toDisbursementDTOs(ds []aid.Disbursement) []DisbursementDTO {
	out := make([]DisbursementDTO, len(ds))
	for i := range ds {
		out[i] = toDisbursementDTO(&ds[i])
	}
	return out
}

func toReceiptDTO(rc aid.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ID:           rc.ID,
		Amount:       rc.Amount.String(),
		ReceiptNo:    rc.ReceiptNo,
		ReceiptDate:  rc.ReceiptDate.UTC().Format("2006-01-02"),
		Description:  rc.Description,
		FileRef:      rc.FileRef,
		Verification: string(rc.Verification),
		VerifyNotes:  rc.VerifyNotes,
	}
}

func toApprovalDTO(a aid.LevelApproval) ApprovalDTO {
	return ApprovalDTO{ApproverID: a.ApproverID, Notes: a.Notes, At: fmtRFC3339Ptr(a.At)}
}

func toLiquidationDTO(l *aid.Liquidation) LiquidationDTO {
	receipts := make([]ReceiptDTO, len(l.Receipts))
	for i, rc := range l.Receipts {
		receipts[i] = toReceiptDTO(rc)
	}
	return LiquidationDTO{
		ID:                 l.ID,
		DisbursementID:     l.DisbursementID,
		BeneficiaryID:      l.BeneficiaryID,
		Category:           string(l.Category),
		DisbursedAmount:    l.DisbursedAmount.String(),
		TotalReceiptAmount: l.TotalReceiptAmount.String(),
		RemainingAmount:    l.RemainingAmount.String(),
		IsComplete:         l.IsComplete,
		Status:             string(l.Status),
		CaseworkerApproval: toApprovalDTO(l.CaseworkerApproval),
		FinanceApproval:    toApprovalDTO(l.FinanceApproval),
		DirectorApproval:   toApprovalDTO(l.DirectorApproval),
		RejectedAtLevel:    string(l.RejectedAtLevel),
		RejectionReason:    l.RejectionReason,
		RejectedBy:         l.RejectedBy,
		RejectedAt:         fmtRFC3339Ptr(l.RejectedAt),
		Receipts:           receipts,
		CreatedAt:          fmtRFC3339(l.CreatedAt),
		UpdatedAt:          fmtRFC3339(l.UpdatedAt),
	}
}

func toLiquidationDTOs(ls []aid.Liquidation) []LiquidationDTO {
	out := make([]LiquidationDTO, len(ls))
	for i := range ls {
		out[i] = toLiquidationDTO(&ls[i])
	}
	return out
}

func toDecisionRecordDTOs(recs []aid.DecisionRecord) []DecisionRecordDTO {
	out := make([]DecisionRecordDTO, len(recs))
	for i, rec := range recs {
		out[i] = DecisionRecordDTO{
			Level:    rec.Level,
			Decision: rec.Decision,
			ActorID:  rec.ActorID,
			Notes:    rec.Notes,
			At:       fmtRFC3339Ptr(rec.At),
		}
	}
	return out
}

func toItemErrorDTOs(items []aid.ItemError) []ItemErrorDTO {
	if len(items) == 0 {
		return nil
	}
	out := make([]ItemErrorDTO, len(items))
	for i, it := range items {
		out[i] = ItemErrorDTO{ID: it.ID, Error: it.Err}
	}
	return out
}
