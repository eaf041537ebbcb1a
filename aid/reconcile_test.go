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

// approvedLiquidation builds a liquidation in the approved state with the
// given receipt total, bypassing the chain (reconciliation only reads the
// status and the receipt total).
func approvedLiquidation(id string, disbursementID string, total int64) aid.Liquidation {
	return aid.Liquidation{
		ID:                 id,
		DisbursementID:     disbursementID,
		BeneficiaryID:      "ben-1",
		DisbursedAmount:    money.NewFromInt(total),
		TotalReceiptAmount: money.NewFromInt(total),
		Status:             aid.LiquidationApproved,
	}
}

func pendingLiquidation(id string, disbursementID string, claimed int64) aid.Liquidation {
	return aid.Liquidation{
		ID:                 id,
		DisbursementID:     disbursementID,
		BeneficiaryID:      "ben-1",
		DisbursedAmount:    money.NewFromInt(claimed),
		TotalReceiptAmount: money.Zero(),
		Status:             aid.LiquidationPending,
	}
}

func rejectedLiquidation(id string, disbursementID string, total int64) aid.Liquidation {
	l := approvedLiquidation(id, disbursementID, total)
	l.Status = aid.LiquidationRejected
	l.RejectedAtLevel = aid.LevelFinance
	return l
}

// =============================================================================
// RECOMPUTE - Scenario walkthroughs
// =============================================================================

func TestRecompute_FullLiquidation(t *testing.T) {
	// GIVEN: A 1000 disbursement with one approved liquidation of 1000
	// WHEN: Recomputing the ledger
	// THEN: Fully liquidated, remaining zero, timestamp stamped

	d := receivedDisbursement(t)
	liqs := []aid.Liquidation{approvedLiquidation("liq-1", d.ID, 1000)}

	next, changed := aid.RecomputeDisbursement(d, liqs, testNow)

	assert.True(t, changed)
	assert.True(t, next.LiquidatedAmount.Equal(money.NewFromInt(1000)))
	assert.True(t, next.RemainingToLiquidate.IsZero())
	assert.True(t, next.FullyLiquidated)
	require.NotNil(t, next.FullyLiquidatedAt)
}

func TestRecompute_PartialLiquidation(t *testing.T) {
	// GIVEN: A 1000 disbursement with an approved 600 liquidation
	// WHEN: Recomputing the ledger
	// THEN: 600 liquidated, 400 remaining, not fully liquidated

	d := receivedDisbursement(t)
	liqs := []aid.Liquidation{approvedLiquidation("liq-1", d.ID, 600)}

	next, changed := aid.RecomputeDisbursement(d, liqs, testNow)

	assert.True(t, changed)
	assert.True(t, next.LiquidatedAmount.Equal(money.NewFromInt(600)))
	assert.True(t, next.RemainingToLiquidate.Equal(money.NewFromInt(400)))
	assert.False(t, next.FullyLiquidated)
	assert.Nil(t, next.FullyLiquidatedAt)
}

func TestRecompute_RejectedContributesNothing(t *testing.T) {
	// GIVEN: A 1000 disbursement whose only liquidation was rejected
	// WHEN: Recomputing the ledger
	// THEN: Nothing is liquidated; the full amount remains claimable

	d := receivedDisbursement(t)
	liqs := []aid.Liquidation{rejectedLiquidation("liq-1", d.ID, 600)}

	next, _ := aid.RecomputeDisbursement(d, liqs, testNow)

	assert.True(t, next.LiquidatedAmount.IsZero())
	assert.True(t, next.RemainingToLiquidate.Equal(d.Amount))
	assert.False(t, next.FullyLiquidated)
}

func TestRecompute_MixedStatuses(t *testing.T) {
	// GIVEN: Approved 600, pending 300, rejected 100 against a 1000 amount
	// WHEN: Recomputing
	// THEN: Only the approved 600 counts

	d := receivedDisbursement(t)
	liqs := []aid.Liquidation{
		approvedLiquidation("liq-1", d.ID, 600),
		pendingLiquidation("liq-2", d.ID, 300),
		rejectedLiquidation("liq-3", d.ID, 100),
	}

	next, _ := aid.RecomputeDisbursement(d, liqs, testNow)

	assert.True(t, next.LiquidatedAmount.Equal(money.NewFromInt(600)))
	assert.True(t, next.RemainingToLiquidate.Equal(money.NewFromInt(400)))
}

// =============================================================================
// IDEMPOTENCE AND CONSERVATION
// =============================================================================

func TestRecompute_Idempotent(t *testing.T) {
	// GIVEN: A ledger already derived from the liquidation rows
	// WHEN: Recomputing again with the same inputs
	// THEN: No change is reported and the values are identical

	d := receivedDisbursement(t)
	liqs := []aid.Liquidation{approvedLiquidation("liq-1", d.ID, 600)}

	first, changed := aid.RecomputeDisbursement(d, liqs, testNow)
	require.True(t, changed)

	second, changed := aid.RecomputeDisbursement(first, liqs, testNow)
	assert.False(t, changed)
	assert.True(t, second.LiquidatedAmount.Equal(first.LiquidatedAmount))
	assert.True(t, second.RemainingToLiquidate.Equal(first.RemainingToLiquidate))
}

func TestRecompute_Conservation(t *testing.T) {
	// GIVEN: Any mix of liquidation statuses
	// WHEN: Recomputing
	// THEN: liquidated + remaining always equals the disbursed amount

	d := receivedDisbursement(t)
	cases := [][]aid.Liquidation{
		nil,
		{approvedLiquidation("a", d.ID, 250)},
		{approvedLiquidation("a", d.ID, 600), approvedLiquidation("b", d.ID, 400)},
		{approvedLiquidation("a", d.ID, 600), rejectedLiquidation("b", d.ID, 400)},
	}

	for _, liqs := range cases {
		next, _ := aid.RecomputeDisbursement(d, liqs, testNow)
		sum := next.LiquidatedAmount.Add(next.RemainingToLiquidate)
		assert.True(t, sum.Equal(d.Amount), "liquidated %s + remaining %s != amount %s",
			next.LiquidatedAmount, next.RemainingToLiquidate, d.Amount)
	}
}

func TestRecompute_ClampsOverageAtAmount(t *testing.T) {
	// GIVEN: Approved receipt totals exceeding the disbursed amount
	//        (possible only through historical bad data)
	// WHEN: Recomputing
	// THEN: Liquidated clamps at the amount, remaining floors at zero

	d := receivedDisbursement(t)
	liqs := []aid.Liquidation{approvedLiquidation("liq-1", d.ID, 1200)}

	next, _ := aid.RecomputeDisbursement(d, liqs, testNow)

	assert.True(t, next.LiquidatedAmount.Equal(d.Amount))
	assert.True(t, next.RemainingToLiquidate.IsZero())
	assert.True(t, next.FullyLiquidated)
}

func TestRecompute_RepairClearsStaleFullFlag(t *testing.T) {
	// GIVEN: A disbursement marked fully liquidated whose only supporting
	//        liquidation has since been rejected
	// WHEN: Recomputing
	// THEN: The flag and timestamp are cleared

	d := receivedDisbursement(t)
	full, _ := aid.RecomputeDisbursement(d, []aid.Liquidation{approvedLiquidation("liq-1", d.ID, 1000)}, testNow)
	require.True(t, full.FullyLiquidated)

	repaired, changed := aid.RecomputeDisbursement(full, []aid.Liquidation{rejectedLiquidation("liq-1", d.ID, 1000)}, testNow)

	assert.True(t, changed)
	assert.False(t, repaired.FullyLiquidated)
	assert.Nil(t, repaired.FullyLiquidatedAt)
	assert.True(t, repaired.RemainingToLiquidate.Equal(d.Amount))
}

// =============================================================================
// AVAILABLE TO CLAIM - Concurrent claim guard
// =============================================================================

func TestAvailableToClaim_PendingClaimsHoldFunds(t *testing.T) {
	// GIVEN: A 1000 disbursement with a pending 600 claim and no receipts
	// WHEN: Computing what a second claim may take
	// THEN: Only 400 is available; a 500 claim cannot coexist

	d := receivedDisbursement(t)
	liqs := []aid.Liquidation{pendingLiquidation("liq-1", d.ID, 600)}

	available := aid.AvailableToClaim(d, liqs, "")
	assert.True(t, available.Equal(money.NewFromInt(400)))

	_, err := aid.NewLiquidation("liq-2", d, "ben-1", money.NewFromInt(500), available, testNow)
	assert.ErrorIs(t, err, aid.ErrOverLiquidation)
}

func TestAvailableToClaim_RejectedClaimsReleaseFunds(t *testing.T) {
	// GIVEN: A rejected 600 claim next to a pending 200 claim
	// WHEN: Computing availability
	// THEN: The rejected claim holds nothing

	d := receivedDisbursement(t)
	liqs := []aid.Liquidation{
		rejectedLiquidation("liq-1", d.ID, 600),
		pendingLiquidation("liq-2", d.ID, 200),
	}

	available := aid.AvailableToClaim(d, liqs, "")
	assert.True(t, available.Equal(money.NewFromInt(800)))
}

func TestAvailableToClaim_ExcludesTheLiquidationBeingMutated(t *testing.T) {
	// GIVEN: A single 600 claim on a 1000 disbursement
	// WHEN: Computing availability for that same claim's next receipt
	// THEN: Its own hold is excluded, leaving the full 1000

	d := receivedDisbursement(t)
	liqs := []aid.Liquidation{pendingLiquidation("liq-1", d.ID, 600)}

	available := aid.AvailableToClaim(d, liqs, "liq-1")
	assert.True(t, available.Equal(money.NewFromInt(1000)))
}

func TestAvailableToClaim_ReceiptsBeyondClaimIncreaseHold(t *testing.T) {
	// GIVEN: A claim of 300 whose receipts already total 450
	// WHEN: Computing availability for a sibling
	// THEN: The larger receipt total is what the claim holds

	d := receivedDisbursement(t)
	l := pendingLiquidation("liq-1", d.ID, 300)
	l.TotalReceiptAmount = money.NewFromInt(450)

	available := aid.AvailableToClaim(d, []aid.Liquidation{l}, "")
	assert.True(t, available.Equal(money.NewFromInt(550)))
}
