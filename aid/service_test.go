package aid_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBritz/aidpoint-backend-sub001/aid"
	"github.com/IvanBritz/aidpoint-backend-sub001/aid/store"
	"github.com/IvanBritz/aidpoint-backend-sub001/money"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeAllowance serves per-beneficiary attendance and can fail on demand.
type fakeAllowance struct {
	days int
	rate money.Amount
	fail map[string]bool
}

func (f *fakeAllowance) Attendance(_ context.Context, beneficiaryID string, _ aid.Period) (aid.Attendance, error) {
	if f.fail[beneficiaryID] {
		return aid.Attendance{}, errors.New("attendance system unavailable")
	}
	return aid.Attendance{DaysAttended: f.days, DailyRate: f.rate}, nil
}

// failingNotifier always errors; deliveries must never be load-bearing.
type failingNotifier struct{ calls int }

func (n *failingNotifier) Notify(context.Context, aid.Notification) error {
	n.calls++
	return errors.New("smtp down")
}

func newTestService(t *testing.T, cfg aid.Config) *aid.Service {
	t.Helper()
	return aid.NewService(store.NewMemory(), cfg)
}

// approveRequest walks a request through all three review stages.
func approveRequest(t *testing.T, svc *aid.Service, id string) *aid.AidRequest {
	t.Helper()
	ctx := context.Background()
	_, err := svc.ReviewRequest(ctx, id, aid.RoleCaseworker, aid.DecisionApproved, "cw-1", "")
	require.NoError(t, err)
	_, err = svc.ReviewRequest(ctx, id, aid.RoleFinance, aid.DecisionApproved, "fin-1", "")
	require.NoError(t, err)
	r, err := svc.ReviewRequest(ctx, id, aid.RoleDirector, aid.DecisionApproved, "dir-1", "")
	require.NoError(t, err)
	return r
}

// deliveredDisbursement submits a tuition request, approves it, and walks
// the disbursement to the beneficiary.
func deliveredDisbursement(t *testing.T, svc *aid.Service) *aid.Disbursement {
	t.Helper()
	ctx := context.Background()

	req, err := svc.SubmitRequest(ctx, aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryTuition,
		Amount:        money.NewFromInt(1000),
		Purpose:       "spring tuition",
	})
	require.NoError(t, err)
	approveRequest(t, svc, req.ID)

	d, err := svc.GetDisbursement(ctx, mustDisbursementID(t, svc, req.ID))
	require.NoError(t, err)

	d, err = svc.FinanceDisburse(ctx, d.ID, "fin-1", "CHK-1001", "")
	require.NoError(t, err)
	d, err = svc.CaseworkerReceive(ctx, d.ID, "cw-1", "")
	require.NoError(t, err)
	d, err = svc.CaseworkerDisburse(ctx, d.ID, "cw-1", "")
	require.NoError(t, err)
	d, err = svc.BeneficiaryReceive(ctx, d.ID, "ben-1", "")
	require.NoError(t, err)
	return d
}

func mustDisbursementID(t *testing.T, svc *aid.Service, requestID string) string {
	t.Helper()
	snap, err := svc.GetAidRequest(context.Background(), requestID)
	require.NoError(t, err)
	require.True(t, snap.FullyApproved())

	// The disbursement was created in the director's approval transaction.
	work, err := svc.PendingForRole(context.Background(), aid.RoleFinance, "")
	require.NoError(t, err)
	for _, d := range work.Disbursements {
		if d.AidRequestID == requestID {
			return d.ID
		}
	}
	t.Fatalf("no disbursement found for request %s", requestID)
	return ""
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestService_DirectorApprovalCreatesDisbursement(t *testing.T) {
	// GIVEN: A submitted tuition request
	// WHEN: All three stages approve
	// THEN: A pending disbursement exists, carrying the approved amount

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()

	req, err := svc.SubmitRequest(ctx, aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryTuition,
		Amount:        money.NewFromInt(1000),
	})
	require.NoError(t, err)
	approveRequest(t, svc, req.ID)

	d, err := svc.GetDisbursement(ctx, mustDisbursementID(t, svc, req.ID))
	require.NoError(t, err)
	assert.Equal(t, aid.DisbursementPending, d.Status)
	assert.True(t, d.Amount.Equal(money.NewFromInt(1000)))
	assert.NotEmpty(t, d.ReferenceNo)
}

func TestService_ExplicitCreateAfterAutoCreate_Conflicts(t *testing.T) {
	// GIVEN: A fully-approved request whose disbursement already exists
	// WHEN: The admin backstop creation runs for the same request
	// THEN: It fails with the exactly-once error

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()

	req, err := svc.SubmitRequest(ctx, aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryTuition,
		Amount:        money.NewFromInt(500),
	})
	require.NoError(t, err)
	approveRequest(t, svc, req.ID)

	_, err = svc.CreateDisbursement(ctx, req.ID)
	assert.ErrorIs(t, err, aid.ErrDisbursementExists)
}

func TestService_DuplicatePeriodRequest_Rejected(t *testing.T) {
	// GIVEN: An active allowance request for March 2025
	// WHEN: The same beneficiary submits another March 2025 request
	// THEN: The duplicate is refused and names the existing request

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()
	p := aid.Period{Month: time.March, Year: 2025}

	first, err := svc.SubmitRequest(ctx, aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryLivingAllowance,
		Amount:        money.NewFromInt(3000),
		Period:        &p,
	})
	require.NoError(t, err)

	_, err = svc.SubmitRequest(ctx, aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryLivingAllowance,
		Amount:        money.NewFromInt(3000),
		Period:        &p,
	})

	assert.ErrorIs(t, err, aid.ErrDuplicatePeriodRequest)
	var dupErr *aid.DuplicatePeriodError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, first.ID, dupErr.ExistingID)
}

func TestService_RejectedPeriodRequest_AllowsResubmission(t *testing.T) {
	// GIVEN: A March request rejected by the caseworker
	// WHEN: The beneficiary submits a new March request
	// THEN: The new submission is accepted

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()
	p := aid.Period{Month: time.March, Year: 2025}

	first, err := svc.SubmitRequest(ctx, aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryLivingAllowance,
		Amount:        money.NewFromInt(3000),
		Period:        &p,
	})
	require.NoError(t, err)
	_, err = svc.ReviewRequest(ctx, first.ID, aid.RoleCaseworker, aid.DecisionRejected, "cw-1", "missing documents")
	require.NoError(t, err)

	_, err = svc.SubmitRequest(ctx, aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryLivingAllowance,
		Amount:        money.NewFromInt(3000),
		Period:        &p,
	})
	assert.NoError(t, err)
}

func TestService_SubmitAllowance_DerivesAmountFromAttendance(t *testing.T) {
	// GIVEN: An attendance provider reporting 20 days at 150/day
	// WHEN: A beneficiary submits an allowance request for any figure
	// THEN: The stored amount is the derived 3000, not the submitted one

	svc := newTestService(t, aid.Config{
		Allowance: &fakeAllowance{days: 20, rate: money.NewFromInt(150)},
	})
	p := aid.Period{Month: time.March, Year: 2025}

	req, err := svc.SubmitRequest(context.Background(), aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryLivingAllowance,
		Amount:        money.NewFromInt(9999),
		Period:        &p,
	})
	require.NoError(t, err)
	assert.True(t, req.Amount.Equal(money.NewFromInt(3000)))
}

// =============================================================================
// LIQUIDATION LIFECYCLE END TO END
// =============================================================================

func TestService_FullLiquidationFlow(t *testing.T) {
	// GIVEN: A delivered 1000 disbursement
	// WHEN: The beneficiary liquidates the full amount through receipts and
	//       the three-tier chain approves
	// THEN: The disbursement ledger shows fully liquidated

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()
	d := deliveredDisbursement(t, svc)

	l, err := svc.OpenLiquidation(ctx, d.ID, "ben-1", money.NewFromInt(1000))
	require.NoError(t, err)

	l, err = svc.AttachReceipt(ctx, l.ID, aid.ReceiptInput{
		Amount:      money.NewFromInt(600),
		ReceiptNo:   "OR-1",
		ReceiptDate: time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	l, err = svc.AttachReceipt(ctx, l.ID, aid.ReceiptInput{
		Amount:      money.NewFromInt(400),
		ReceiptNo:   "OR-2",
		ReceiptDate: time.Date(2025, time.March, 6, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, aid.LiquidationComplete, l.Status)

	l, err = svc.SubmitLiquidation(ctx, l.ID)
	require.NoError(t, err)
	_, err = svc.ApproveLiquidation(ctx, l.ID, aid.LevelCaseworker, "cw-1", "")
	require.NoError(t, err)
	_, err = svc.ApproveLiquidation(ctx, l.ID, aid.LevelFinance, "fin-1", "")
	require.NoError(t, err)
	l, err = svc.ApproveLiquidation(ctx, l.ID, aid.LevelDirector, "dir-1", "")
	require.NoError(t, err)
	assert.Equal(t, aid.LiquidationApproved, l.Status)

	// Final approval reconciled the parent in the same transaction.
	d, err = svc.GetDisbursement(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, d.FullyLiquidated)
	assert.True(t, d.RemainingToLiquidate.IsZero())
	require.NotNil(t, d.FullyLiquidatedAt)
}

func TestService_ConcurrentClaims_CannotOvercommit(t *testing.T) {
	// GIVEN: A 1000 disbursement with an open 600 claim
	// WHEN: A second 500 claim is opened
	// THEN: The second claim is refused even though neither has receipts

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()
	d := deliveredDisbursement(t, svc)

	_, err := svc.OpenLiquidation(ctx, d.ID, "ben-1", money.NewFromInt(600))
	require.NoError(t, err)

	_, err = svc.OpenLiquidation(ctx, d.ID, "ben-1", money.NewFromInt(500))
	assert.ErrorIs(t, err, aid.ErrOverLiquidation)

	_, err = svc.OpenLiquidation(ctx, d.ID, "ben-1", money.NewFromInt(400))
	assert.NoError(t, err)
}

func TestService_RejectionReleasesHeldFunds(t *testing.T) {
	// GIVEN: A 600 claim rejected at the caseworker tier
	// WHEN: A new 600 claim is opened
	// THEN: The rejected claim no longer holds funds

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()
	d := deliveredDisbursement(t, svc)

	l, err := svc.OpenLiquidation(ctx, d.ID, "ben-1", money.NewFromInt(600))
	require.NoError(t, err)
	_, err = svc.AttachReceipt(ctx, l.ID, aid.ReceiptInput{
		Amount:      money.NewFromInt(600),
		ReceiptDate: time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = svc.SubmitLiquidation(ctx, l.ID)
	require.NoError(t, err)
	_, err = svc.RejectLiquidation(ctx, l.ID, aid.LevelCaseworker, "cw-1", "wrong vendor")
	require.NoError(t, err)

	_, err = svc.OpenLiquidation(ctx, d.ID, "ben-1", money.NewFromInt(600))
	assert.NoError(t, err)
}

func TestService_DeleteDisbursement_DeniedWithOpenLiquidation(t *testing.T) {
	// GIVEN: A disbursement with a non-terminal liquidation
	// WHEN: Deleting the disbursement
	// THEN: The delete is denied until the liquidation terminates

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()
	d := deliveredDisbursement(t, svc)

	l, err := svc.OpenLiquidation(ctx, d.ID, "ben-1", money.NewFromInt(200))
	require.NoError(t, err)

	err = svc.DeleteDisbursement(ctx, d.ID)
	assert.ErrorIs(t, err, aid.ErrOpenLiquidations)

	_, err = svc.AttachReceipt(ctx, l.ID, aid.ReceiptInput{
		Amount:      money.NewFromInt(200),
		ReceiptDate: time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = svc.SubmitLiquidation(ctx, l.ID)
	require.NoError(t, err)
	_, err = svc.RejectLiquidation(ctx, l.ID, aid.LevelCaseworker, "cw-1", "withdrawn")
	require.NoError(t, err)

	assert.NoError(t, svc.DeleteDisbursement(ctx, d.ID))
}

// =============================================================================
// RECONCILIATION AND REPAIR
// =============================================================================

func TestService_RecomputeIsIdempotent(t *testing.T) {
	// GIVEN: A disbursement whose ledger is already fresh
	// WHEN: The admin recompute runs twice
	// THEN: Neither run reports a change

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()
	d := deliveredDisbursement(t, svc)

	changed, err := svc.RecomputeDisbursement(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = svc.RecomputeDisbursement(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestService_RepairLedgers_ReportsPerDisbursement(t *testing.T) {
	svc := newTestService(t, aid.Config{})
	d := deliveredDisbursement(t, svc)
	_ = d

	report := svc.RepairLedgers(context.Background())
	assert.Equal(t, 1, report.Disbursements)
	assert.Equal(t, 0, report.Changed)
	assert.Empty(t, report.Failures)
}

// =============================================================================
// PERIODIC RECALCULATION
// =============================================================================

func TestService_RunRecalculation_IsolatesFailures(t *testing.T) {
	// GIVEN: Two beneficiaries with pending allowance requests, one of whose
	//        attendance lookups fails
	// WHEN: The bulk recalculation runs
	// THEN: The healthy beneficiary is updated; the failure is reported

	provider := &fakeAllowance{days: 20, rate: money.NewFromInt(150)}
	svc := newTestService(t, aid.Config{Allowance: provider})
	ctx := context.Background()
	p := aid.Period{Month: time.March, Year: 2025}

	for _, ben := range []string{"ben-1", "ben-2"} {
		_, err := svc.SubmitRequest(ctx, aid.SubmitRequestInput{
			BeneficiaryID: ben,
			Category:      aid.CategoryLivingAllowance,
			Amount:        money.NewFromInt(1),
			Period:        &p,
		})
		require.NoError(t, err)
	}

	// Attendance changed since submission, but ben-2's lookup now fails.
	provider.days = 22
	provider.fail = map[string]bool{"ben-2": true}

	report := svc.RunRecalculation(ctx, nil)

	assert.Equal(t, 2, report.Beneficiaries)
	assert.Equal(t, 1, report.RequestsUpdated)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "ben-2", report.Failures[0].ID)

	reqs, err := svc.ListRequestsByBeneficiary(ctx, "ben-1")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Amount.Equal(money.NewFromInt(3300)))
}

func TestService_RunRecalculation_SecondRunIsNoop(t *testing.T) {
	// GIVEN: A completed recalculation run
	// WHEN: The job runs again with unchanged attendance data
	// THEN: Nothing is updated

	provider := &fakeAllowance{days: 20, rate: money.NewFromInt(150)}
	svc := newTestService(t, aid.Config{Allowance: provider})
	ctx := context.Background()
	p := aid.Period{Month: time.March, Year: 2025}

	_, err := svc.SubmitRequest(ctx, aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryLivingAllowance,
		Amount:        money.NewFromInt(1),
		Period:        &p,
	})
	require.NoError(t, err)

	provider.days = 22
	first := svc.RunRecalculation(ctx, nil)
	require.Equal(t, 1, first.RequestsUpdated)

	second := svc.RunRecalculation(ctx, nil)
	assert.Equal(t, 0, second.RequestsUpdated)
	assert.Empty(t, second.Failures)
}

// =============================================================================
// WORK QUEUES AND COLLABORATORS
// =============================================================================

func TestService_PendingForRole(t *testing.T) {
	// GIVEN: A request at the finance stage and a pending disbursement
	// WHEN: Each role asks for its queue
	// THEN: Work lands in the right queues

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()

	req, err := svc.SubmitRequest(ctx, aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryTuition,
		Amount:        money.NewFromInt(500),
	})
	require.NoError(t, err)

	cw, err := svc.PendingForRole(ctx, aid.RoleCaseworker, "")
	require.NoError(t, err)
	require.Len(t, cw.Requests, 1)
	assert.Equal(t, req.ID, cw.Requests[0].ID)

	_, err = svc.ReviewRequest(ctx, req.ID, aid.RoleCaseworker, aid.DecisionApproved, "cw-1", "")
	require.NoError(t, err)

	fin, err := svc.PendingForRole(ctx, aid.RoleFinance, "")
	require.NoError(t, err)
	require.Len(t, fin.Requests, 1)

	cw, err = svc.PendingForRole(ctx, aid.RoleCaseworker, "")
	require.NoError(t, err)
	assert.Empty(t, cw.Requests)
}

func TestService_NotificationFailure_DoesNotFailOperation(t *testing.T) {
	// GIVEN: A notifier that always errors
	// WHEN: A request is submitted and reviewed
	// THEN: The operations succeed; deliveries were attempted

	notifier := &failingNotifier{}
	svc := newTestService(t, aid.Config{Notifier: notifier})

	req, err := svc.SubmitRequest(context.Background(), aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryTuition,
		Amount:        money.NewFromInt(500),
	})
	require.NoError(t, err)
	approveRequest(t, svc, req.ID)

	assert.GreaterOrEqual(t, notifier.calls, 4)
}

func TestService_Ledger_Snapshot(t *testing.T) {
	// GIVEN: A delivered disbursement with one open 600 claim
	// WHEN: Reading the ledger snapshot
	// THEN: Available reflects the held claim

	svc := newTestService(t, aid.Config{})
	ctx := context.Background()
	d := deliveredDisbursement(t, svc)

	_, err := svc.OpenLiquidation(ctx, d.ID, "ben-1", money.NewFromInt(600))
	require.NoError(t, err)

	snap, err := svc.Ledger(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Liquidations, 1)
	assert.True(t, snap.Available.Equal(money.NewFromInt(400)))
}

func TestService_Histories(t *testing.T) {
	svc := newTestService(t, aid.Config{})
	ctx := context.Background()

	req, err := svc.SubmitRequest(ctx, aid.SubmitRequestInput{
		BeneficiaryID: "ben-1",
		Category:      aid.CategoryTuition,
		Amount:        money.NewFromInt(500),
	})
	require.NoError(t, err)
	_, err = svc.ReviewRequest(ctx, req.ID, aid.RoleCaseworker, aid.DecisionRejected, "cw-1", "incomplete")
	require.NoError(t, err)

	recs, err := svc.RequestHistory(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "rejected", recs[0].Decision)
	assert.Equal(t, "cw-1", recs[0].ActorID)
	assert.Equal(t, "pending", recs[1].Decision)
}
