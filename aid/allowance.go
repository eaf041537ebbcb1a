/*
allowance.go - Attendance-derived allowance recalculation

PURPOSE:
  Cost-of-living-allowance request amounts are derived from attendance:
  an external provider supplies the attended-day count and per-day rate for
  a beneficiary and period, and the engine re-derives pending request
  amounts from that source data. Because the amount is always derived,
  never accumulated, the recalculation is idempotent and safe to re-run
  after partial failures.

JOB SEMANTICS:
  The periodic job recalculates each beneficiary independently. One
  beneficiary's failure never aborts the others; the job captures per-item
  errors and reports an aggregate.

SEE ALSO:
  - service.go:      RecalculateAmount / RunRecalculation
  - api/scheduler.go: periodic invocation
*/
package aid

import (
	"context"

	"github.com/IvanBritz/aidpoint-backend-sub001/money"
)

// =============================================================================
// ALLOWANCE PROVIDER - External attendance/rate source
// =============================================================================

// Attendance is what the external attendance system reports for one
// beneficiary and period.
type Attendance struct {
	DaysAttended int
	DailyRate    money.Amount
}

type AllowanceProvider interface {
	Attendance(ctx context.Context, beneficiaryID string, p Period) (Attendance, error)
}

// Allowance converts an attendance record into a claim amount.
func (a Attendance) Allowance() money.Amount {
	if a.DaysAttended <= 0 {
		return money.Zero()
	}
	return a.DailyRate.MulInt(int64(a.DaysAttended))
}

// StaticAllowance serves a fixed rate and day count. Useful for development
// wiring and tests; production wires the real attendance system.
type StaticAllowance struct {
	DaysAttended int
	DailyRate    money.Amount
}

func (s StaticAllowance) Attendance(context.Context, string, Period) (Attendance, error) {
	return Attendance{DaysAttended: s.DaysAttended, DailyRate: s.DailyRate}, nil
}

// =============================================================================
// RECALCULATION REPORT
// =============================================================================

// ItemError captures one item's failure without aborting the rest of a
// best-effort run.
type ItemError struct {
	ID  string
	Err string
}

// RecalculationReport aggregates a recalculation run. Failures are keyed by
// beneficiary id.
type RecalculationReport struct {
	Beneficiaries   int
	RequestsUpdated int
	Failures        []ItemError
}

// RepairReport aggregates an administrative ledger repair sweep. Failures
// are keyed by disbursement id.
type RepairReport struct {
	Disbursements int
	Changed       int
	Failures      []ItemError
}
