package aid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBritz/aidpoint-backend-sub001/aid"
	"github.com/IvanBritz/aidpoint-backend-sub001/money"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newPendingDisbursement(t *testing.T) *aid.Disbursement {
	t.Helper()
	r := approveAll(t, newTuitionRequest(t))
	d, err := aid.NewDisbursement("dsb-1", r, "DSB-2025-abc", testNow)
	require.NoError(t, err)
	return d
}

// receivedDisbursement walks the handoff chain all the way to the beneficiary.
func receivedDisbursement(t *testing.T) *aid.Disbursement {
	t.Helper()
	d := newPendingDisbursement(t)
	var err error
	d, err = aid.AdvanceDisbursement(d, aid.DisbursementFinanceDisbursed, aid.RoleFinance, "fin-1", "", testNow)
	require.NoError(t, err)
	d, err = aid.AdvanceDisbursement(d, aid.DisbursementCaseworkerReceived, aid.RoleCaseworker, "cw-1", "", testNow)
	require.NoError(t, err)
	d, err = aid.AdvanceDisbursement(d, aid.DisbursementCaseworkerDisbursed, aid.RoleCaseworker, "cw-1", "", testNow)
	require.NoError(t, err)
	d, err = aid.AdvanceDisbursement(d, aid.DisbursementBeneficiaryReceived, aid.RoleBeneficiary, "ben-1", "", testNow)
	require.NoError(t, err)
	return d
}

// =============================================================================
// CREATION
// =============================================================================

func TestNewDisbursement_RequiresFullApproval(t *testing.T) {
	// GIVEN: A request still under review
	// WHEN: Creating a disbursement for it
	// THEN: Creation fails

	r := newTuitionRequest(t)

	_, err := aid.NewDisbursement("dsb-1", r, "", testNow)
	assert.ErrorIs(t, err, aid.ErrRequestNotFullyApproved)
}

func TestNewDisbursement_LedgerStartsUnliquidated(t *testing.T) {
	d := newPendingDisbursement(t)

	assert.Equal(t, aid.DisbursementPending, d.Status)
	assert.True(t, d.LiquidatedAmount.IsZero())
	assert.True(t, d.RemainingToLiquidate.Equal(d.Amount))
	assert.False(t, d.FullyLiquidated)
}

// =============================================================================
// FORWARD-ONLY ADVANCES
// =============================================================================

func TestAdvanceDisbursement_FullChain(t *testing.T) {
	// GIVEN: A freshly created disbursement
	// WHEN: Finance, caseworker (twice), and beneficiary advance it in order
	// THEN: Every step records its actor and timestamp

	d := receivedDisbursement(t)

	assert.Equal(t, aid.DisbursementBeneficiaryReceived, d.Status)
	assert.Equal(t, "fin-1", d.FinanceDisbursed.ActorID)
	assert.Equal(t, "cw-1", d.CaseworkerReceived.ActorID)
	assert.Equal(t, "cw-1", d.CaseworkerDisbursed.ActorID)
	assert.Equal(t, "ben-1", d.BeneficiaryReceived.ActorID)
	require.NotNil(t, d.BeneficiaryReceived.At)
}

func TestAdvanceDisbursement_SkipStep_Rejected(t *testing.T) {
	// GIVEN: A disbursement still pending at finance
	// WHEN: The caseworker claims receipt before finance released funds
	// THEN: The transition fails; no skips allowed

	d := newPendingDisbursement(t)

	_, err := aid.AdvanceDisbursement(d, aid.DisbursementCaseworkerReceived, aid.RoleCaseworker, "cw-1", "", testNow)

	assert.ErrorIs(t, err, aid.ErrInvalidDisbursementTransition)
	var dtErr *aid.DisbursementTransitionError
	require.ErrorAs(t, err, &dtErr)
	assert.Equal(t, aid.DisbursementPending, dtErr.Current)
	assert.Equal(t, aid.DisbursementCaseworkerReceived, dtErr.Attempted)
}

func TestAdvanceDisbursement_RepeatStep_Rejected(t *testing.T) {
	// GIVEN: Finance already released the funds
	// WHEN: Finance releases again
	// THEN: The transition fails; no reversals or repeats

	d := newPendingDisbursement(t)
	d, err := aid.AdvanceDisbursement(d, aid.DisbursementFinanceDisbursed, aid.RoleFinance, "fin-1", "", testNow)
	require.NoError(t, err)

	_, err = aid.AdvanceDisbursement(d, aid.DisbursementFinanceDisbursed, aid.RoleFinance, "fin-1", "", testNow)
	assert.ErrorIs(t, err, aid.ErrInvalidDisbursementTransition)
}

func TestAdvanceDisbursement_WrongRole_Rejected(t *testing.T) {
	// GIVEN: A pending disbursement whose next step belongs to finance
	// WHEN: The director tries to perform it
	// THEN: The transition fails

	d := newPendingDisbursement(t)

	_, err := aid.AdvanceDisbursement(d, aid.DisbursementFinanceDisbursed, aid.RoleDirector, "dir-1", "", testNow)
	assert.ErrorIs(t, err, aid.ErrInvalidDisbursementTransition)
}

func TestAdvanceDisbursement_RequiresActor(t *testing.T) {
	d := newPendingDisbursement(t)

	_, err := aid.AdvanceDisbursement(d, aid.DisbursementFinanceDisbursed, aid.RoleFinance, "", "", testNow)
	assert.ErrorIs(t, err, aid.ErrInvalidInput)
}

func TestAdvanceDisbursement_NeverTouchesLedgerFields(t *testing.T) {
	// GIVEN: A disbursement with its initial derived ledger state
	// WHEN: The handoff chain runs to the end
	// THEN: The derived fields are exactly as at creation

	d := receivedDisbursement(t)

	assert.True(t, d.LiquidatedAmount.Equal(money.Zero()))
	assert.True(t, d.RemainingToLiquidate.Equal(d.Amount))
	assert.False(t, d.FullyLiquidated)
	assert.Nil(t, d.FullyLiquidatedAt)
}
