/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements aid.Store and aid.TxStore using database/sql. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  aid_requests:  funding requests with stage cursor and per-stage decisions
  disbursements: fund handoffs with derived liquidation totals
  liquidations:  receipt-backed claims with three-tier approvals
  receipts:      evidence rows owned by their liquidation

UNIQUENESS:
  - disbursements.aid_request_id is UNIQUE: a request gets exactly one
    disbursement; a second create surfaces ErrDisbursementExists.
  - A partial unique index keeps at most one non-rejected allowance
    request per beneficiary and period, backstopping the service check.

CONCURRENCY:
  - WAL mode: multiple readers don't block, single writer at a time.
  - _txlock=immediate takes the write lock when a transaction begins, so
    precondition checks and writes inside WithTx commit atomically.
  - Updates match on version and bump it; a stale version surfaces
    aid.ErrConcurrentModification.

USAGE:
  store, err := sqlite.New("./data/aidpoint.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := aid.NewService(store, aid.Config{})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - aid/store.go: interface definitions
  - aid/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/IvanBritz/aidpoint-backend-sub001/aid"
	"github.com/IvanBritz/aidpoint-backend-sub001/money"
)

// Store implements aid.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{queries: &queries{db: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS aid_requests (
		id TEXT PRIMARY KEY,
		beneficiary_id TEXT NOT NULL,
		unit_id TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		period_month INTEGER,
		period_year INTEGER,
		purpose TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		cw_decision TEXT NOT NULL, cw_reviewer TEXT NOT NULL DEFAULT '', cw_notes TEXT NOT NULL DEFAULT '', cw_decided_at TEXT,
		fin_decision TEXT NOT NULL, fin_reviewer TEXT NOT NULL DEFAULT '', fin_notes TEXT NOT NULL DEFAULT '', fin_decided_at TEXT,
		dir_decision TEXT NOT NULL, dir_reviewer TEXT NOT NULL DEFAULT '', dir_notes TEXT NOT NULL DEFAULT '', dir_decided_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_beneficiary
		ON aid_requests(beneficiary_id);
	CREATE INDEX IF NOT EXISTS idx_requests_stage
		ON aid_requests(stage);

	-- At most one non-rejected allowance request per beneficiary/period.
	-- Backstops the service-level duplicate check.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_active_period
		ON aid_requests(beneficiary_id, period_year, period_month)
		WHERE category = 'cost_of_living_allowance'
		  AND cw_decision != 'rejected'
		  AND fin_decision != 'rejected'
		  AND dir_decision != 'rejected';

	CREATE TABLE IF NOT EXISTS disbursements (
		id TEXT PRIMARY KEY,
		aid_request_id TEXT NOT NULL UNIQUE,
		beneficiary_id TEXT NOT NULL,
		unit_id TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		reference_no TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		fin_disbursed_by TEXT NOT NULL DEFAULT '', fin_disbursed_at TEXT,
		cw_received_by TEXT NOT NULL DEFAULT '', cw_received_at TEXT,
		cw_disbursed_by TEXT NOT NULL DEFAULT '', cw_disbursed_at TEXT,
		ben_received_by TEXT NOT NULL DEFAULT '', ben_received_at TEXT,
		liquidated_amount TEXT NOT NULL,
		remaining_to_liquidate TEXT NOT NULL,
		fully_liquidated INTEGER NOT NULL DEFAULT 0,
		fully_liquidated_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_disbursements_status
		ON disbursements(status);
	CREATE INDEX IF NOT EXISTS idx_disbursements_beneficiary
		ON disbursements(beneficiary_id);

	CREATE TABLE IF NOT EXISTS liquidations (
		id TEXT PRIMARY KEY,
		disbursement_id TEXT NOT NULL,
		beneficiary_id TEXT NOT NULL,
		unit_id TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		disbursed_amount TEXT NOT NULL,
		total_receipt_amount TEXT NOT NULL,
		remaining_amount TEXT NOT NULL,
		is_complete INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		cw_approver TEXT NOT NULL DEFAULT '', cw_approve_notes TEXT NOT NULL DEFAULT '', cw_approved_at TEXT,
		fin_approver TEXT NOT NULL DEFAULT '', fin_approve_notes TEXT NOT NULL DEFAULT '', fin_approved_at TEXT,
		dir_approver TEXT NOT NULL DEFAULT '', dir_approve_notes TEXT NOT NULL DEFAULT '', dir_approved_at TEXT,
		rejected_at_level TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		rejected_by TEXT NOT NULL DEFAULT '',
		rejected_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (disbursement_id) REFERENCES disbursements(id)
	);

	CREATE INDEX IF NOT EXISTS idx_liquidations_disbursement
		ON liquidations(disbursement_id);
	CREATE INDEX IF NOT EXISTS idx_liquidations_status
		ON liquidations(status);

	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		liquidation_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		receipt_no TEXT NOT NULL DEFAULT '',
		receipt_date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		file_ref TEXT NOT NULL DEFAULT '',
		verification TEXT NOT NULL,
		verify_notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		FOREIGN KEY (liquidation_id) REFERENCES liquidations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_receipts_liquidation
		ON receipts(liquidation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside a single database transaction. The mutex
// serializes writers at the application level so a long transaction never
// trips SQLITE_BUSY under the connection pool.
func (s *Store) WithTx(ctx context.Context, fn func(aid.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&txStore{queries: &queries{db: tx}}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// txStore exposes the shared queries bound to an open transaction.
type txStore struct {
	*queries
}

// =============================================================================
// QUERIES - Shared by the store and its transactions
// =============================================================================

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// -----------------------------------------------------------------------------
// Aid requests
// -----------------------------------------------------------------------------

const requestCols = `id, beneficiary_id, unit_id, category, amount,
	period_month, period_year, purpose, stage,
	cw_decision, cw_reviewer, cw_notes, cw_decided_at,
	fin_decision, fin_reviewer, fin_notes, fin_decided_at,
	dir_decision, dir_reviewer, dir_notes, dir_decided_at,
	version, created_at, updated_at`

func (q *queries) CreateAidRequest(ctx context.Context, r *aid.AidRequest) error {
	var month, year any
	if r.Period != nil {
		month, year = int(r.Period.Month), r.Period.Year
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO aid_requests (`+requestCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BeneficiaryID, r.UnitID, string(r.Category), r.Amount.String(),
		month, year, r.Purpose, string(r.Stage),
		string(r.Caseworker.Decision), r.Caseworker.ReviewerID, r.Caseworker.Notes, timeOrNil(r.Caseworker.DecidedAt),
		string(r.Finance.Decision), r.Finance.ReviewerID, r.Finance.Notes, timeOrNil(r.Finance.DecidedAt),
		string(r.Director.Decision), r.Director.ReviewerID, r.Director.Notes, timeOrNil(r.Director.DecidedAt),
		r.Version, fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return aid.ErrDuplicatePeriodRequest
	}
	return err
}

func (q *queries) UpdateAidRequest(ctx context.Context, r *aid.AidRequest) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE aid_requests SET
			amount = ?, stage = ?,
			cw_decision = ?, cw_reviewer = ?, cw_notes = ?, cw_decided_at = ?,
			fin_decision = ?, fin_reviewer = ?, fin_notes = ?, fin_decided_at = ?,
			dir_decision = ?, dir_reviewer = ?, dir_notes = ?, dir_decided_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		r.Amount.String(), string(r.Stage),
		string(r.Caseworker.Decision), r.Caseworker.ReviewerID, r.Caseworker.Notes, timeOrNil(r.Caseworker.DecidedAt),
		string(r.Finance.Decision), r.Finance.ReviewerID, r.Finance.Notes, timeOrNil(r.Finance.DecidedAt),
		string(r.Director.Decision), r.Director.ReviewerID, r.Director.Notes, timeOrNil(r.Director.DecidedAt),
		fmtTime(r.UpdatedAt), r.ID, r.Version,
	)
	if err != nil {
		return err
	}
	return checkUpdated(res, r.ID)
}

func (q *queries) GetAidRequest(ctx context.Context, id string) (*aid.AidRequest, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+requestCols+` FROM aid_requests WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	list, err := collectRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, aid.ErrNotFound
	}
	return &list[0], nil
}

func (q *queries) ListAidRequestsByBeneficiary(ctx context.Context, beneficiaryID string) ([]aid.AidRequest, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+requestCols+` FROM aid_requests
		WHERE beneficiary_id = ? ORDER BY created_at`, beneficiaryID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (q *queries) FindActivePeriodRequest(ctx context.Context, beneficiaryID string, p aid.Period) (*aid.AidRequest, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+requestCols+` FROM aid_requests
		WHERE beneficiary_id = ? AND category = ? AND period_month = ? AND period_year = ?
		  AND cw_decision != 'rejected' AND fin_decision != 'rejected' AND dir_decision != 'rejected'
		LIMIT 1`,
		beneficiaryID, string(aid.CategoryLivingAllowance), int(p.Month), p.Year)
	if err != nil {
		return nil, err
	}
	list, err := collectRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (q *queries) ListAidRequestsByStage(ctx context.Context, stage aid.Stage, unitID string) ([]aid.AidRequest, error) {
	query := `
		SELECT ` + requestCols + ` FROM aid_requests
		WHERE stage = ?
		  AND cw_decision != 'rejected' AND fin_decision != 'rejected' AND dir_decision != 'rejected'`
	args := []any{string(stage)}
	if unitID != "" {
		query += ` AND unit_id = ?`
		args = append(args, unitID)
	}
	query += ` ORDER BY created_at`
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (q *queries) ListBeneficiariesWithPendingAllowance(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT DISTINCT beneficiary_id FROM aid_requests
		WHERE category = ? AND stage = ? AND cw_decision = ?
		ORDER BY beneficiary_id`,
		string(aid.CategoryLivingAllowance), string(aid.StageCaseworker), string(aid.DecisionPending))
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

func collectRequests(rows *sql.Rows) ([]aid.AidRequest, error) {
	defer rows.Close()
	var out []aid.AidRequest
	for rows.Next() {
		var (
			r                    aid.AidRequest
			category, amount     string
			month, year          sql.NullInt64
			stage                string
			cw, fin, dir         decisionCols
			createdAt, updatedAt string
		)
		err := rows.Scan(
			&r.ID, &r.BeneficiaryID, &r.UnitID, &category, &amount,
			&month, &year, &r.Purpose, &stage,
			&cw.decision, &cw.reviewer, &cw.notes, &cw.decidedAt,
			&fin.decision, &fin.reviewer, &fin.notes, &fin.decidedAt,
			&dir.decision, &dir.reviewer, &dir.notes, &dir.decidedAt,
			&r.Version, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, err
		}
		r.Category = aid.FundCategory(category)
		r.Stage = aid.Stage(stage)
		if r.Amount, err = money.Parse(amount); err != nil {
			return nil, fmt.Errorf("aid request %s: %w", r.ID, err)
		}
		if month.Valid && year.Valid {
			r.Period = &aid.Period{Month: time.Month(month.Int64), Year: int(year.Int64)}
		}
		if r.Caseworker, err = cw.toDecision(); err != nil {
			return nil, err
		}
		if r.Finance, err = fin.toDecision(); err != nil {
			return nil, err
		}
		if r.Director, err = dir.toDecision(); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type decisionCols struct {
	decision  string
	reviewer  string
	notes     string
	decidedAt sql.NullString
}

func (c decisionCols) toDecision() (aid.StageDecision, error) {
	t, err := parseNullTime(c.decidedAt)
	if err != nil {
		return aid.StageDecision{}, err
	}
	return aid.StageDecision{
		Decision:   aid.Decision(c.decision),
		ReviewerID: c.reviewer,
		Notes:      c.notes,
		DecidedAt:  t,
	}, nil
}

// -----------------------------------------------------------------------------
// Disbursements
// -----------------------------------------------------------------------------

const disbursementCols = `id, aid_request_id, beneficiary_id, unit_id, category, amount, status,
	reference_no, notes,
	fin_disbursed_by, fin_disbursed_at,
	cw_received_by, cw_received_at,
	cw_disbursed_by, cw_disbursed_at,
	ben_received_by, ben_received_at,
	liquidated_amount, remaining_to_liquidate, fully_liquidated, fully_liquidated_at,
	version, created_at, updated_at`

func (q *queries) CreateDisbursement(ctx context.Context, d *aid.Disbursement) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO disbursements (`+disbursementCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AidRequestID, d.BeneficiaryID, d.UnitID, string(d.Category), d.Amount.String(), string(d.Status),
		d.ReferenceNo, d.Notes,
		d.FinanceDisbursed.ActorID, timeOrNil(d.FinanceDisbursed.At),
		d.CaseworkerReceived.ActorID, timeOrNil(d.CaseworkerReceived.At),
		d.CaseworkerDisbursed.ActorID, timeOrNil(d.CaseworkerDisbursed.At),
		d.BeneficiaryReceived.ActorID, timeOrNil(d.BeneficiaryReceived.At),
		d.LiquidatedAmount.String(), d.RemainingToLiquidate.String(), boolToInt(d.FullyLiquidated), timeOrNil(d.FullyLiquidatedAt),
		d.Version, fmtTime(d.CreatedAt), fmtTime(d.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return aid.ErrDisbursementExists
	}
	return err
}

func (q *queries) UpdateDisbursement(ctx context.Context, d *aid.Disbursement) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE disbursements SET
			status = ?, reference_no = ?, notes = ?,
			fin_disbursed_by = ?, fin_disbursed_at = ?,
			cw_received_by = ?, cw_received_at = ?,
			cw_disbursed_by = ?, cw_disbursed_at = ?,
			ben_received_by = ?, ben_received_at = ?,
			liquidated_amount = ?, remaining_to_liquidate = ?, fully_liquidated = ?, fully_liquidated_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(d.Status), d.ReferenceNo, d.Notes,
		d.FinanceDisbursed.ActorID, timeOrNil(d.FinanceDisbursed.At),
		d.CaseworkerReceived.ActorID, timeOrNil(d.CaseworkerReceived.At),
		d.CaseworkerDisbursed.ActorID, timeOrNil(d.CaseworkerDisbursed.At),
		d.BeneficiaryReceived.ActorID, timeOrNil(d.BeneficiaryReceived.At),
		d.LiquidatedAmount.String(), d.RemainingToLiquidate.String(), boolToInt(d.FullyLiquidated), timeOrNil(d.FullyLiquidatedAt),
		fmtTime(d.UpdatedAt), d.ID, d.Version,
	)
	if err != nil {
		return err
	}
	return checkUpdated(res, d.ID)
}

func (q *queries) GetDisbursement(ctx context.Context, id string) (*aid.Disbursement, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+disbursementCols+` FROM disbursements WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return oneDisbursement(rows)
}

func (q *queries) GetDisbursementByRequest(ctx context.Context, aidRequestID string) (*aid.Disbursement, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+disbursementCols+` FROM disbursements WHERE aid_request_id = ?`, aidRequestID)
	if err != nil {
		return nil, err
	}
	return oneDisbursement(rows)
}

func (q *queries) ListDisbursementsByStatus(ctx context.Context, status aid.DisbursementStatus, unitID string) ([]aid.Disbursement, error) {
	query := `SELECT ` + disbursementCols + ` FROM disbursements WHERE status = ?`
	args := []any{string(status)}
	if unitID != "" {
		query += ` AND unit_id = ?`
		args = append(args, unitID)
	}
	query += ` ORDER BY created_at`
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectDisbursements(rows)
}

func (q *queries) ListDisbursementIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id FROM disbursements ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

func (q *queries) DeleteDisbursement(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM disbursements WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return aid.ErrNotFound
	}
	return nil
}

func oneDisbursement(rows *sql.Rows) (*aid.Disbursement, error) {
	list, err := collectDisbursements(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, aid.ErrNotFound
	}
	return &list[0], nil
}

func collectDisbursements(rows *sql.Rows) ([]aid.Disbursement, error) {
	defer rows.Close()
	var out []aid.Disbursement
	for rows.Next() {
		var (
			d                     aid.Disbursement
			category, amount      string
			status                string
			finAt, cwRecvAt       sql.NullString
			cwDisbAt, benRecvAt   sql.NullString
			liquidated, remaining string
			fully                 int
			fullyAt               sql.NullString
			createdAt, updatedAt  string
		)
		err := rows.Scan(
			&d.ID, &d.AidRequestID, &d.BeneficiaryID, &d.UnitID, &category, &amount, &status,
			&d.ReferenceNo, &d.Notes,
			&d.FinanceDisbursed.ActorID, &finAt,
			&d.CaseworkerReceived.ActorID, &cwRecvAt,
			&d.CaseworkerDisbursed.ActorID, &cwDisbAt,
			&d.BeneficiaryReceived.ActorID, &benRecvAt,
			&liquidated, &remaining, &fully, &fullyAt,
			&d.Version, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, err
		}
		d.Category = aid.FundCategory(category)
		d.Status = aid.DisbursementStatus(status)
		d.FullyLiquidated = fully != 0
		if d.Amount, err = money.Parse(amount); err != nil {
			return nil, fmt.Errorf("disbursement %s: %w", d.ID, err)
		}
		if d.LiquidatedAmount, err = money.Parse(liquidated); err != nil {
			return nil, err
		}
		if d.RemainingToLiquidate, err = money.Parse(remaining); err != nil {
			return nil, err
		}
		if d.FinanceDisbursed.At, err = parseNullTime(finAt); err != nil {
			return nil, err
		}
		if d.CaseworkerReceived.At, err = parseNullTime(cwRecvAt); err != nil {
			return nil, err
		}
		if d.CaseworkerDisbursed.At, err = parseNullTime(cwDisbAt); err != nil {
			return nil, err
		}
		if d.BeneficiaryReceived.At, err = parseNullTime(benRecvAt); err != nil {
			return nil, err
		}
		if d.FullyLiquidatedAt, err = parseNullTime(fullyAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Liquidations and receipts
// -----------------------------------------------------------------------------

const liquidationCols = `id, disbursement_id, beneficiary_id, unit_id, category,
	disbursed_amount, total_receipt_amount, remaining_amount, is_complete, status,
	cw_approver, cw_approve_notes, cw_approved_at,
	fin_approver, fin_approve_notes, fin_approved_at,
	dir_approver, dir_approve_notes, dir_approved_at,
	rejected_at_level, rejection_reason, rejected_by, rejected_at,
	version, created_at, updated_at`

func (q *queries) CreateLiquidation(ctx context.Context, l *aid.Liquidation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO liquidations (`+liquidationCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.DisbursementID, l.BeneficiaryID, l.UnitID, string(l.Category),
		l.DisbursedAmount.String(), l.TotalReceiptAmount.String(), l.RemainingAmount.String(),
		boolToInt(l.IsComplete), string(l.Status),
		l.CaseworkerApproval.ApproverID, l.CaseworkerApproval.Notes, timeOrNil(l.CaseworkerApproval.At),
		l.FinanceApproval.ApproverID, l.FinanceApproval.Notes, timeOrNil(l.FinanceApproval.At),
		l.DirectorApproval.ApproverID, l.DirectorApproval.Notes, timeOrNil(l.DirectorApproval.At),
		string(l.RejectedAtLevel), l.RejectionReason, l.RejectedBy, timeOrNil(l.RejectedAt),
		l.Version, fmtTime(l.CreatedAt), fmtTime(l.UpdatedAt),
	)
	if err != nil {
		return err
	}
	return q.replaceReceipts(ctx, l)
}

func (q *queries) UpdateLiquidation(ctx context.Context, l *aid.Liquidation) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE liquidations SET
			disbursed_amount = ?, total_receipt_amount = ?, remaining_amount = ?,
			is_complete = ?, status = ?,
			cw_approver = ?, cw_approve_notes = ?, cw_approved_at = ?,
			fin_approver = ?, fin_approve_notes = ?, fin_approved_at = ?,
			dir_approver = ?, dir_approve_notes = ?, dir_approved_at = ?,
			rejected_at_level = ?, rejection_reason = ?, rejected_by = ?, rejected_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		l.DisbursedAmount.String(), l.TotalReceiptAmount.String(), l.RemainingAmount.String(),
		boolToInt(l.IsComplete), string(l.Status),
		l.CaseworkerApproval.ApproverID, l.CaseworkerApproval.Notes, timeOrNil(l.CaseworkerApproval.At),
		l.FinanceApproval.ApproverID, l.FinanceApproval.Notes, timeOrNil(l.FinanceApproval.At),
		l.DirectorApproval.ApproverID, l.DirectorApproval.Notes, timeOrNil(l.DirectorApproval.At),
		string(l.RejectedAtLevel), l.RejectionReason, l.RejectedBy, timeOrNil(l.RejectedAt),
		fmtTime(l.UpdatedAt), l.ID, l.Version,
	)
	if err != nil {
		return err
	}
	if err := checkUpdated(res, l.ID); err != nil {
		return err
	}
	return q.replaceReceipts(ctx, l)
}

// replaceReceipts rewrites the receipt rows for a liquidation. Receipts
// ride along with their owning liquidation, so a full swap keeps the rows
// in lockstep with the entity; the caller's transaction makes it atomic.
func (q *queries) replaceReceipts(ctx context.Context, l *aid.Liquidation) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM receipts WHERE liquidation_id = ?`, l.ID); err != nil {
		return err
	}
	for i := range l.Receipts {
		rc := &l.Receipts[i]
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO receipts (id, liquidation_id, amount, receipt_no, receipt_date,
				description, file_ref, verification, verify_notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rc.ID, l.ID, rc.Amount.String(), rc.ReceiptNo, fmtTime(rc.ReceiptDate),
			rc.Description, rc.FileRef, string(rc.Verification), rc.VerifyNotes, fmtTime(rc.CreatedAt),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) GetLiquidation(ctx context.Context, id string) (*aid.Liquidation, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+liquidationCols+` FROM liquidations WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	list, err := collectLiquidations(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, aid.ErrNotFound
	}
	if err := q.attachReceipts(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (q *queries) ListLiquidationsByDisbursement(ctx context.Context, disbursementID string) ([]aid.Liquidation, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+liquidationCols+` FROM liquidations
		WHERE disbursement_id = ? ORDER BY created_at`, disbursementID)
	if err != nil {
		return nil, err
	}
	list, err := collectLiquidations(rows)
	if err != nil {
		return nil, err
	}
	if err := q.attachReceipts(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (q *queries) ListLiquidationsByStatus(ctx context.Context, status aid.LiquidationStatus, unitID string) ([]aid.Liquidation, error) {
	query := `SELECT ` + liquidationCols + ` FROM liquidations WHERE status = ?`
	args := []any{string(status)}
	if unitID != "" {
		query += ` AND unit_id = ?`
		args = append(args, unitID)
	}
	query += ` ORDER BY created_at`
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	list, err := collectLiquidations(rows)
	if err != nil {
		return nil, err
	}
	if err := q.attachReceipts(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func collectLiquidations(rows *sql.Rows) ([]aid.Liquidation, error) {
	defer rows.Close()
	var out []aid.Liquidation
	for rows.Next() {
		var (
			l                     aid.Liquidation
			category              string
			disbursed, total, rem string
			complete              int
			status                string
			cwAt, finAt, dirAt    sql.NullString
			rejectedLevel         string
			rejectedAt            sql.NullString
			createdAt, updatedAt  string
		)
		err := rows.Scan(
			&l.ID, &l.DisbursementID, &l.BeneficiaryID, &l.UnitID, &category,
			&disbursed, &total, &rem, &complete, &status,
			&l.CaseworkerApproval.ApproverID, &l.CaseworkerApproval.Notes, &cwAt,
			&l.FinanceApproval.ApproverID, &l.FinanceApproval.Notes, &finAt,
			&l.DirectorApproval.ApproverID, &l.DirectorApproval.Notes, &dirAt,
			&rejectedLevel, &l.RejectionReason, &l.RejectedBy, &rejectedAt,
			&l.Version, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, err
		}
		l.Category = aid.FundCategory(category)
		l.Status = aid.LiquidationStatus(status)
		l.IsComplete = complete != 0
		l.RejectedAtLevel = aid.ApprovalLevel(rejectedLevel)
		if l.DisbursedAmount, err = money.Parse(disbursed); err != nil {
			return nil, fmt.Errorf("liquidation %s: %w", l.ID, err)
		}
		if l.TotalReceiptAmount, err = money.Parse(total); err != nil {
			return nil, err
		}
		if l.RemainingAmount, err = money.Parse(rem); err != nil {
			return nil, err
		}
		if l.CaseworkerApproval.At, err = parseNullTime(cwAt); err != nil {
			return nil, err
		}
		if l.FinanceApproval.At, err = parseNullTime(finAt); err != nil {
			return nil, err
		}
		if l.DirectorApproval.At, err = parseNullTime(dirAt); err != nil {
			return nil, err
		}
		if l.RejectedAt, err = parseNullTime(rejectedAt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (q *queries) attachReceipts(ctx context.Context, liqs []aid.Liquidation) error {
	for i := range liqs {
		receipts, err := q.loadReceipts(ctx, liqs[i].ID)
		if err != nil {
			return err
		}
		liqs[i].Receipts = receipts
	}
	return nil
}

func (q *queries) loadReceipts(ctx context.Context, liquidationID string) ([]aid.Receipt, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, liquidation_id, amount, receipt_no, receipt_date,
			description, file_ref, verification, verify_notes, created_at
		FROM receipts WHERE liquidation_id = ? ORDER BY created_at`, liquidationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []aid.Receipt
	for rows.Next() {
		var (
			rc                   aid.Receipt
			amount, verification string
			receiptDate, created string
		)
		err := rows.Scan(&rc.ID, &rc.LiquidationID, &amount, &rc.ReceiptNo, &receiptDate,
			&rc.Description, &rc.FileRef, &verification, &rc.VerifyNotes, &created)
		if err != nil {
			return nil, err
		}
		if rc.Amount, err = money.Parse(amount); err != nil {
			return nil, err
		}
		rc.Verification = aid.VerificationStatus(verification)
		if rc.ReceiptDate, err = parseTime(receiptDate); err != nil {
			return nil, err
		}
		if rc.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func checkUpdated(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, aid.ErrConcurrentModification)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
