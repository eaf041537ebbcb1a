/*
handlers.go - HTTP API handlers for the approval engine

PURPOSE:
  Exposes the disbursement and liquidation engine via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the domain
  service.

ENDPOINTS:
  Requests:
    POST   /api/requests                      Submit aid request
    GET    /api/requests/{id}                 Get request
    GET    /api/requests/{id}/history         Decision history
    POST   /api/requests/{id}/review          Record a stage decision
    GET    /api/requests?beneficiary_id=...   List by beneficiary

  Disbursements:
    GET    /api/disbursements/{id}                    Get disbursement
    GET    /api/disbursements/{id}/ledger             Ledger snapshot
    POST   /api/disbursements/{id}/finance-disburse   Finance releases funds
    POST   /api/disbursements/{id}/receive            Caseworker takes custody
    POST   /api/disbursements/{id}/release            Caseworker hands over
    POST   /api/disbursements/{id}/confirm            Beneficiary confirms
    POST   /api/disbursements/{id}/liquidations       Open a claim
    DELETE /api/disbursements/{id}                    Delete (guarded)

  Liquidations:
    GET    /api/liquidations/{id}                     Get liquidation
    GET    /api/liquidations/{id}/history             Approval history
    POST   /api/liquidations/{id}/receipts            Attach receipt
    POST   /api/liquidations/{id}/receipts/{rid}/verify  Verify receipt
    POST   /api/liquidations/{id}/submit              Enter approval chain
    POST   /api/liquidations/{id}/approve             Tier approval
    POST   /api/liquidations/{id}/reject              Tier rejection

  Work queues and admin:
    GET    /api/pending?role=...&unit=...             Role work queue
    POST   /api/admin/disbursements                   Backstop creation
    POST   /api/admin/disbursements/{id}/recompute    Idempotent recompute
    POST   /api/admin/repair                          Full ledger repair
    POST   /api/admin/recalculate                     Allowance recalculation

ERROR HANDLING:
  Domain errors map to HTTP status by classification:
  - 400: validation and precondition failures (invalid transition, over-
         liquidation, duplicate period, terminal liquidation)
  - 404: unknown entity
  - 409: concurrent modification, disbursement already exists
  - 500: everything else

SECURITY NOTE:
  Role comes from the request body; there is no authentication layer here.
  Production deployments put an identity-aware gateway in front and feed
  the resolved role through the same fields.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/IvanBritz/aidpoint-backend-sub001/aid"
	"github.com/IvanBritz/aidpoint-backend-sub001/money"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *aid.Service
	Validate *validator.Validate
	Log      *logrus.Logger
}

// NewHandler creates a new handler around the domain service.
func NewHandler(svc *aid.Service, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Service:  svc,
		Validate: validator.New(),
		Log:      log,
	}
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.Validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// AID REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates an aid request at the caseworker stage.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequestRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	in := aid.SubmitRequestInput{
		BeneficiaryID: req.BeneficiaryID,
		UnitID:        req.UnitID,
		Category:      aid.FundCategory(req.Category),
		Amount:        amount,
		Purpose:       req.Purpose,
	}
	if req.Period != nil {
		in.Period = &aid.Period{Month: time.Month(req.Period.Month), Year: req.Period.Year}
	}

	created, err := h.Service.SubmitRequest(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to submit request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAidRequestDTO(created))
}

// GetRequest returns a single aid request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetAidRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, toAidRequestDTO(req))
}

// ListRequests returns the requests of one beneficiary.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	beneficiaryID := r.URL.Query().Get("beneficiary_id")
	if beneficiaryID == "" {
		writeError(w, http.StatusBadRequest, "beneficiary_id query parameter is required", nil)
		return
	}
	reqs, err := h.Service.ListRequestsByBeneficiary(r.Context(), beneficiaryID)
	if err != nil {
		writeDomainError(w, "Failed to list requests", err)
		return
	}
	writeJSON(w, http.StatusOK, toAidRequestDTOs(reqs))
}

// RequestHistory returns the full decision history of a request.
func (h *Handler) RequestHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Service.RequestHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get request history", err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionRecordDTOs(recs))
}

// ReviewRequest records one stage decision.
func (h *Handler) ReviewRequest(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequestRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.Service.ReviewRequest(
		r.Context(), chi.URLParam(r, "id"),
		aid.Role(req.Role), aid.Decision(req.Decision),
		req.ReviewerID, req.Notes,
	)
	if err != nil {
		writeDomainError(w, "Failed to review request", err)
		return
	}
	writeJSON(w, http.StatusOK, toAidRequestDTO(updated))
}

// =============================================================================
// DISBURSEMENT HANDLERS
// =============================================================================

// GetDisbursement returns a single disbursement.
func (h *Handler) GetDisbursement(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.GetDisbursement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get disbursement", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisbursementDTO(d))
}

// GetLedger returns the reconciliation snapshot of one disbursement.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.Ledger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, LedgerDTO{
		Disbursement: toDisbursementDTO(&snap.Disbursement),
		Liquidations: toLiquidationDTOs(snap.Liquidations),
		Available:    snap.Available.String(),
	})
}

// FinanceDisburse releases funds from finance custody.
func (h *Handler) FinanceDisburse(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, func(id string, req AdvanceDisbursementRequest) (*aid.Disbursement, error) {
		return h.Service.FinanceDisburse(r.Context(), id, req.ActorID, req.ReferenceNo, req.Notes)
	})
}

// CaseworkerReceive confirms the caseworker took custody.
func (h *Handler) CaseworkerReceive(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, func(id string, req AdvanceDisbursementRequest) (*aid.Disbursement, error) {
		return h.Service.CaseworkerReceive(r.Context(), id, req.ActorID, req.Notes)
	})
}

// CaseworkerDisburse confirms the caseworker handed over the funds.
func (h *Handler) CaseworkerDisburse(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, func(id string, req AdvanceDisbursementRequest) (*aid.Disbursement, error) {
		return h.Service.CaseworkerDisburse(r.Context(), id, req.ActorID, req.Notes)
	})
}

// BeneficiaryReceive confirms the beneficiary received the funds.
func (h *Handler) BeneficiaryReceive(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, func(id string, req AdvanceDisbursementRequest) (*aid.Disbursement, error) {
		return h.Service.BeneficiaryReceive(r.Context(), id, req.ActorID, req.Notes)
	})
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request, step func(string, AdvanceDisbursementRequest) (*aid.Disbursement, error)) {
	var req AdvanceDisbursementRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := step(chi.URLParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, "Failed to advance disbursement", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisbursementDTO(d))
}

// DeleteDisbursement removes a disbursement with no open liquidations.
func (h *Handler) DeleteDisbursement(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteDisbursement(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete disbursement", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LIQUIDATION HANDLERS
// =============================================================================

// OpenLiquidation starts a claim against a received disbursement.
func (h *Handler) OpenLiquidation(w http.ResponseWriter, r *http.Request) {
	var req OpenLiquidationRequest
	if !h.decode(w, r, &req) {
		return
	}
	claimed, err := money.Parse(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	l, err := h.Service.OpenLiquidation(r.Context(), chi.URLParam(r, "id"), req.BeneficiaryID, claimed)
	if err != nil {
		writeDomainError(w, "Failed to open liquidation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLiquidationDTO(l))
}

// GetLiquidation returns a single liquidation with its receipts.
func (h *Handler) GetLiquidation(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.GetLiquidation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get liquidation", err)
		return
	}
	writeJSON(w, http.StatusOK, toLiquidationDTO(l))
}

// LiquidationHistory returns the approval history of a liquidation.
func (h *Handler) LiquidationHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Service.LiquidationHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get liquidation history", err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionRecordDTOs(recs))
}

// AttachReceipt appends one receipt to an open liquidation.
func (h *Handler) AttachReceipt(w http.ResponseWriter, r *http.Request) {
	var req AttachReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	receiptDate, err := time.Parse("2006-01-02", req.ReceiptDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid receipt_date format (use YYYY-MM-DD)", err)
		return
	}

	l, err := h.Service.AttachReceipt(r.Context(), chi.URLParam(r, "id"), aid.ReceiptInput{
		Amount:      amount,
		ReceiptNo:   req.ReceiptNo,
		ReceiptDate: receiptDate,
		Description: req.Description,
		FileRef:     req.FileRef,
	})
	if err != nil {
		writeDomainError(w, "Failed to attach receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, toLiquidationDTO(l))
}

// VerifyReceipt marks one receipt verified or questioned.
func (h *Handler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	var req VerifyReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.Service.VerifyReceipt(
		r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "receiptID"),
		aid.Role(req.Role), aid.VerificationStatus(req.Status), req.Notes,
	)
	if err != nil {
		writeDomainError(w, "Failed to verify receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, toLiquidationDTO(l))
}

// SubmitLiquidation moves a complete liquidation into the approval chain.
func (h *Handler) SubmitLiquidation(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.SubmitLiquidation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to submit liquidation", err)
		return
	}
	writeJSON(w, http.StatusOK, toLiquidationDTO(l))
}

// ApproveLiquidation records one tier's approval.
func (h *Handler) ApproveLiquidation(w http.ResponseWriter, r *http.Request) {
	var req ApproveLiquidationRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.Service.ApproveLiquidation(
		r.Context(), chi.URLParam(r, "id"),
		aid.ApprovalLevel(req.Level), req.ApproverID, req.Notes,
	)
	if err != nil {
		writeDomainError(w, "Failed to approve liquidation", err)
		return
	}
	writeJSON(w, http.StatusOK, toLiquidationDTO(l))
}

// RejectLiquidation terminates the liquidation at one tier.
func (h *Handler) RejectLiquidation(w http.ResponseWriter, r *http.Request) {
	var req RejectLiquidationRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.Service.RejectLiquidation(
		r.Context(), chi.URLParam(r, "id"),
		aid.ApprovalLevel(req.Level), req.ApproverID, req.Reason,
	)
	if err != nil {
		writeDomainError(w, "Failed to reject liquidation", err)
		return
	}
	writeJSON(w, http.StatusOK, toLiquidationDTO(l))
}

// =============================================================================
// WORK QUEUE HANDLERS
// =============================================================================

// PendingWork returns everything waiting on one role.
func (h *Handler) PendingWork(w http.ResponseWriter, r *http.Request) {
	role := aid.Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown role", nil)
		return
	}
	work, err := h.Service.PendingForRole(r.Context(), role, r.URL.Query().Get("unit"))
	if err != nil {
		writeDomainError(w, "Failed to load pending work", err)
		return
	}
	writeJSON(w, http.StatusOK, PendingWorkDTO{
		Requests:      toAidRequestDTOs(work.Requests),
		Disbursements: toDisbursementDTOs(work.Disbursements),
		Liquidations:  toLiquidationDTOs(work.Liquidations),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateDisbursement is the explicit exactly-once creation backstop.
func (h *Handler) CreateDisbursement(w http.ResponseWriter, r *http.Request) {
	var req CreateDisbursementRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.Service.CreateDisbursement(r.Context(), req.AidRequestID)
	if err != nil {
		writeDomainError(w, "Failed to create disbursement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisbursementDTO(d))
}

// RecomputeDisbursement re-derives one disbursement's ledger fields.
func (h *Handler) RecomputeDisbursement(w http.ResponseWriter, r *http.Request) {
	changed, err := h.Service.RecomputeDisbursement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to recompute disbursement", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

// RepairLedgers sweeps every disbursement through the recompute path.
func (h *Handler) RepairLedgers(w http.ResponseWriter, r *http.Request) {
	report := h.Service.RepairLedgers(r.Context())
	writeJSON(w, http.StatusOK, RepairReportDTO{
		Disbursements: report.Disbursements,
		Changed:       report.Changed,
		Failures:      toItemErrorDTOs(report.Failures),
	})
}

// Recalculate re-derives allowance amounts from attendance data.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	report := h.Service.RunRecalculation(r.Context(), req.BeneficiaryIDs)
	writeJSON(w, http.StatusOK, RecalculationReportDTO{
		Beneficiaries:   report.Beneficiaries,
		RequestsUpdated: report.RequestsUpdated,
		Failures:        toItemErrorDTOs(report.Failures),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error onto an HTTP status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case aid.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case aid.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case aid.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
