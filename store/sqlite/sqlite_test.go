package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBritz/aidpoint-backend-sub001/aid"
	"github.com/IvanBritz/aidpoint-backend-sub001/money"
	"github.com/IvanBritz/aidpoint-backend-sub001/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var seedNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "aidpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRequest(t *testing.T, id, beneficiaryID string) *aid.AidRequest {
	t.Helper()
	r, err := aid.NewAidRequest(id, beneficiaryID, "unit-1", aid.CategoryTuition,
		money.NewFromInt(1000), nil, "spring tuition", seedNow)
	require.NoError(t, err)
	return r
}

func seedAllowanceRequest(t *testing.T, id, beneficiaryID string, p aid.Period) *aid.AidRequest {
	t.Helper()
	r, err := aid.NewAidRequest(id, beneficiaryID, "unit-1", aid.CategoryLivingAllowance,
		money.NewFromInt(3000), &p, "", seedNow)
	require.NoError(t, err)
	return r
}

func approvedRequest(t *testing.T, id string) *aid.AidRequest {
	t.Helper()
	r := seedRequest(t, id, "ben-1")
	var err error
	r, err = aid.ReviewRequest(r, aid.RoleCaseworker, aid.DecisionApproved, "cw-1", "", seedNow)
	require.NoError(t, err)
	r, err = aid.ReviewRequest(r, aid.RoleFinance, aid.DecisionApproved, "fin-1", "", seedNow)
	require.NoError(t, err)
	r, err = aid.ReviewRequest(r, aid.RoleDirector, aid.DecisionApproved, "dir-1", "", seedNow)
	require.NoError(t, err)
	return r
}

// seedDisbursement persists an approved request and its disbursement, walked
// to the beneficiary so liquidations may open against it.
func seedDisbursement(t *testing.T, s *sqlite.Store, reqID, dsbID string) *aid.Disbursement {
	t.Helper()
	ctx := context.Background()

	r := approvedRequest(t, reqID)
	require.NoError(t, s.CreateAidRequest(ctx, r))

	d, err := aid.NewDisbursement(dsbID, r, "DSB-2025-test", seedNow)
	require.NoError(t, err)
	d, err = aid.AdvanceDisbursement(d, aid.DisbursementFinanceDisbursed, aid.RoleFinance, "fin-1", "", seedNow)
	require.NoError(t, err)
	d, err = aid.AdvanceDisbursement(d, aid.DisbursementCaseworkerReceived, aid.RoleCaseworker, "cw-1", "", seedNow)
	require.NoError(t, err)
	d, err = aid.AdvanceDisbursement(d, aid.DisbursementCaseworkerDisbursed, aid.RoleCaseworker, "cw-1", "", seedNow)
	require.NoError(t, err)
	d, err = aid.AdvanceDisbursement(d, aid.DisbursementBeneficiaryReceived, aid.RoleBeneficiary, "ben-1", "", seedNow)
	require.NoError(t, err)

	require.NoError(t, s.CreateDisbursement(ctx, d))
	return d
}

// =============================================================================
// AID REQUESTS
// =============================================================================

func TestStore_AidRequestRoundTrip(t *testing.T) {
	// GIVEN: An allowance request with a period and one recorded decision
	// WHEN: Persisting and reloading it
	// THEN: Every field survives, including the nested decision and period

	s := newTestStore(t)
	ctx := context.Background()

	r := seedAllowanceRequest(t, "req-1", "ben-1", aid.Period{Month: time.March, Year: 2025})
	r, err := aid.ReviewRequest(r, aid.RoleCaseworker, aid.DecisionApproved, "cw-1", "looks good", seedNow)
	require.NoError(t, err)

	require.NoError(t, s.CreateAidRequest(ctx, r))

	got, err := s.GetAidRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, r.BeneficiaryID, got.BeneficiaryID)
	assert.Equal(t, aid.CategoryLivingAllowance, got.Category)
	assert.True(t, got.Amount.Equal(money.NewFromInt(3000)))
	require.NotNil(t, got.Period)
	assert.Equal(t, time.March, got.Period.Month)
	assert.Equal(t, 2025, got.Period.Year)
	assert.Equal(t, aid.StageFinance, got.Stage)
	assert.Equal(t, aid.DecisionApproved, got.Caseworker.Decision)
	assert.Equal(t, "cw-1", got.Caseworker.ReviewerID)
	assert.Equal(t, "looks good", got.Caseworker.Notes)
	require.NotNil(t, got.Caseworker.DecidedAt)
	assert.True(t, got.Caseworker.DecidedAt.Equal(seedNow))
	assert.Equal(t, aid.DecisionPending, got.Finance.Decision)
}

func TestStore_GetAidRequest_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAidRequest(context.Background(), "nope")
	assert.ErrorIs(t, err, aid.ErrNotFound)
}

func TestStore_UpdateAidRequest_StaleVersionConflicts(t *testing.T) {
	// GIVEN: A persisted request updated once
	// WHEN: A second update carries the original version
	// THEN: The optimistic lock rejects it

	s := newTestStore(t)
	ctx := context.Background()

	r := seedRequest(t, "req-1", "ben-1")
	require.NoError(t, s.CreateAidRequest(ctx, r))

	next, err := aid.ReviewRequest(r, aid.RoleCaseworker, aid.DecisionApproved, "cw-1", "", seedNow)
	require.NoError(t, err)
	require.NoError(t, s.UpdateAidRequest(ctx, next))

	// Same entity, same original version: the row has moved on.
	err = s.UpdateAidRequest(ctx, next)
	assert.ErrorIs(t, err, aid.ErrConcurrentModification)

	// Reloading picks up the bumped version; the update goes through.
	fresh, err := s.GetAidRequest(ctx, "req-1")
	require.NoError(t, err)
	fresh, err = aid.ReviewRequest(fresh, aid.RoleFinance, aid.DecisionApproved, "fin-1", "", seedNow)
	require.NoError(t, err)
	assert.NoError(t, s.UpdateAidRequest(ctx, fresh))
}

func TestStore_ActivePeriodUniqueIndex(t *testing.T) {
	// GIVEN: An active allowance request for March 2025
	// WHEN: A second active request for the same beneficiary and period is
	//       inserted directly, bypassing the service check
	// THEN: The partial unique index catches it

	s := newTestStore(t)
	ctx := context.Background()
	p := aid.Period{Month: time.March, Year: 2025}

	require.NoError(t, s.CreateAidRequest(ctx, seedAllowanceRequest(t, "req-1", "ben-1", p)))

	err := s.CreateAidRequest(ctx, seedAllowanceRequest(t, "req-2", "ben-1", p))
	assert.ErrorIs(t, err, aid.ErrDuplicatePeriodRequest)

	// A different period is fine.
	april := aid.Period{Month: time.April, Year: 2025}
	assert.NoError(t, s.CreateAidRequest(ctx, seedAllowanceRequest(t, "req-3", "ben-1", april)))
}

func TestStore_FindActivePeriodRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := aid.Period{Month: time.March, Year: 2025}

	// Nothing yet.
	got, err := s.FindActivePeriodRequest(ctx, "ben-1", p)
	require.NoError(t, err)
	assert.Nil(t, got)

	// A rejected request does not count as active.
	rejected := seedAllowanceRequest(t, "req-1", "ben-1", p)
	rejected, err = aid.ReviewRequest(rejected, aid.RoleCaseworker, aid.DecisionRejected, "cw-1", "", seedNow)
	require.NoError(t, err)
	require.NoError(t, s.CreateAidRequest(ctx, rejected))

	got, err = s.FindActivePeriodRequest(ctx, "ben-1", p)
	require.NoError(t, err)
	assert.Nil(t, got)

	// An active one is found.
	require.NoError(t, s.CreateAidRequest(ctx, seedAllowanceRequest(t, "req-2", "ben-1", p)))
	got, err = s.FindActivePeriodRequest(ctx, "ben-1", p)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "req-2", got.ID)
}

func TestStore_ListBeneficiariesWithPendingAllowance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAidRequest(ctx,
		seedAllowanceRequest(t, "req-1", "ben-1", aid.Period{Month: time.March, Year: 2025})))
	require.NoError(t, s.CreateAidRequest(ctx,
		seedAllowanceRequest(t, "req-2", "ben-2", aid.Period{Month: time.March, Year: 2025})))
	require.NoError(t, s.CreateAidRequest(ctx, seedRequest(t, "req-3", "ben-3")))

	ids, err := s.ListBeneficiariesWithPendingAllowance(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ben-1", "ben-2"}, ids)
}

// =============================================================================
// DISBURSEMENTS
// =============================================================================

func TestStore_DisbursementRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := seedDisbursement(t, s, "req-1", "dsb-1")

	got, err := s.GetDisbursement(ctx, "dsb-1")
	require.NoError(t, err)
	assert.Equal(t, aid.DisbursementBeneficiaryReceived, got.Status)
	assert.Equal(t, "req-1", got.AidRequestID)
	assert.Equal(t, "fin-1", got.FinanceDisbursed.ActorID)
	require.NotNil(t, got.BeneficiaryReceived.At)
	assert.True(t, got.Amount.Equal(d.Amount))
	assert.True(t, got.LiquidatedAmount.IsZero())
	assert.True(t, got.RemainingToLiquidate.Equal(d.Amount))
	assert.False(t, got.FullyLiquidated)

	byReq, err := s.GetDisbursementByRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "dsb-1", byReq.ID)
}

func TestStore_CreateDisbursement_SecondForSameRequestConflicts(t *testing.T) {
	// GIVEN: A request whose disbursement already exists
	// WHEN: Inserting a second disbursement for the same request
	// THEN: The unique constraint surfaces the exactly-once error

	s := newTestStore(t)
	ctx := context.Background()

	seedDisbursement(t, s, "req-1", "dsb-1")

	r, err := s.GetAidRequest(ctx, "req-1")
	require.NoError(t, err)
	dup, err := aid.NewDisbursement("dsb-2", r, "DSB-2025-dup", seedNow)
	require.NoError(t, err)

	err = s.CreateDisbursement(ctx, dup)
	assert.ErrorIs(t, err, aid.ErrDisbursementExists)
}

func TestStore_DeleteDisbursement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDisbursement(t, s, "req-1", "dsb-1")

	require.NoError(t, s.DeleteDisbursement(ctx, "dsb-1"))
	_, err := s.GetDisbursement(ctx, "dsb-1")
	assert.ErrorIs(t, err, aid.ErrNotFound)

	assert.ErrorIs(t, s.DeleteDisbursement(ctx, "dsb-1"), aid.ErrNotFound)
}

func TestStore_ListDisbursementsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDisbursement(t, s, "req-1", "dsb-1")

	got, err := s.ListDisbursementsByStatus(ctx, aid.DisbursementBeneficiaryReceived, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dsb-1", got[0].ID)

	none, err := s.ListDisbursementsByStatus(ctx, aid.DisbursementPending, "")
	require.NoError(t, err)
	assert.Empty(t, none)

	// Unit scoping.
	scoped, err := s.ListDisbursementsByStatus(ctx, aid.DisbursementBeneficiaryReceived, "unit-other")
	require.NoError(t, err)
	assert.Empty(t, scoped)
}

// =============================================================================
// LIQUIDATIONS AND RECEIPTS
// =============================================================================

func TestStore_LiquidationWithReceiptsRoundTrip(t *testing.T) {
	// GIVEN: A liquidation carrying two receipts
	// WHEN: Persisting, updating, and reloading
	// THEN: Receipt rows stay in lockstep with the entity

	s := newTestStore(t)
	ctx := context.Background()
	d := seedDisbursement(t, s, "req-1", "dsb-1")

	l, err := aid.NewLiquidation("liq-1", d, "ben-1", money.NewFromInt(1000), d.Amount, seedNow)
	require.NoError(t, err)
	l, err = aid.AttachReceipt(l, aid.Receipt{
		ID: "rc-1", Amount: money.NewFromInt(600), ReceiptNo: "OR-100",
		ReceiptDate: seedNow, Description: "books",
	}, d.Amount, seedNow)
	require.NoError(t, err)

	require.NoError(t, s.CreateLiquidation(ctx, l))

	got, err := s.GetLiquidation(ctx, "liq-1")
	require.NoError(t, err)
	assert.Equal(t, aid.LiquidationInProgress, got.Status)
	assert.True(t, got.TotalReceiptAmount.Equal(money.NewFromInt(600)))
	require.Len(t, got.Receipts, 1)
	assert.Equal(t, "OR-100", got.Receipts[0].ReceiptNo)
	assert.Equal(t, "books", got.Receipts[0].Description)

	// A second receipt arrives through an update.
	got, err = aid.AttachReceipt(got, aid.Receipt{
		ID: "rc-2", Amount: money.NewFromInt(400), ReceiptNo: "OR-101", ReceiptDate: seedNow,
	}, d.Amount, seedNow)
	require.NoError(t, err)
	require.NoError(t, s.UpdateLiquidation(ctx, got))

	again, err := s.GetLiquidation(ctx, "liq-1")
	require.NoError(t, err)
	assert.Equal(t, aid.LiquidationComplete, again.Status)
	assert.True(t, again.IsComplete)
	require.Len(t, again.Receipts, 2)
	assert.Equal(t, "rc-1", again.Receipts[0].ID)
	assert.Equal(t, "rc-2", again.Receipts[1].ID)
}

func TestStore_ListLiquidationsByDisbursement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := seedDisbursement(t, s, "req-1", "dsb-1")

	l1, err := aid.NewLiquidation("liq-1", d, "ben-1", money.NewFromInt(600), d.Amount, seedNow)
	require.NoError(t, err)
	require.NoError(t, s.CreateLiquidation(ctx, l1))
	l2, err := aid.NewLiquidation("liq-2", d, "ben-1", money.NewFromInt(400), money.NewFromInt(400), seedNow)
	require.NoError(t, err)
	require.NoError(t, s.CreateLiquidation(ctx, l2))

	got, err := s.ListLiquidationsByDisbursement(ctx, "dsb-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes a request and then fails
	// WHEN: WithTx returns the error
	// THEN: The write is not observable

	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(st aid.Store) error {
		if err := st.CreateAidRequest(ctx, seedRequest(t, "req-1", "ben-1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetAidRequest(ctx, "req-1")
	assert.ErrorIs(t, err, aid.ErrNotFound)
}

func TestStore_WithTx_CommitsMultipleWrites(t *testing.T) {
	// GIVEN: A transaction writing a request and its disbursement together
	// WHEN: The transaction commits
	// THEN: Both rows are observable afterwards

	s := newTestStore(t)
	ctx := context.Background()

	r := approvedRequest(t, "req-1")
	d, err := aid.NewDisbursement("dsb-1", r, "DSB-2025-tx", seedNow)
	require.NoError(t, err)

	err = s.WithTx(ctx, func(st aid.Store) error {
		if err := st.CreateAidRequest(ctx, r); err != nil {
			return err
		}
		return st.CreateDisbursement(ctx, d)
	})
	require.NoError(t, err)

	_, err = s.GetAidRequest(ctx, "req-1")
	assert.NoError(t, err)
	_, err = s.GetDisbursement(ctx, "dsb-1")
	assert.NoError(t, err)
}
