/*
hooks.go - Contracts with external collaborators

PURPOSE:
  The engine consumes identity, notification, and audit services through
  narrow interfaces. None of them may affect the owning transaction:
  notifications and audit records are emitted after commit, and their
  failures are logged and swallowed.

COLLABORATORS:
  IdentityProvider: user id -> role (+ optional unit scope). The core never
                    authenticates; it trusts the role it is handed.
  Notifier:         fire-and-forget events after terminal transitions and
                    disbursement milestones.
  AuditLog:         immutable record per state transition, delivered
                    asynchronously relative to the transition's own
                    transaction.

SEE ALSO:
  - service.go: emits events and audit records after commit
*/
package aid

import (
	"context"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// IDENTITY
// =============================================================================

// Identity is what the external identity/role provider knows about a user.
type Identity struct {
	UserID string
	Role   Role
	UnitID string // optional facility/unit scope for pending-work queries
}

type IdentityProvider interface {
	Lookup(ctx context.Context, userID string) (Identity, error)
}

// =============================================================================
// NOTIFICATIONS - Best-effort, decoupled from the core transaction
// =============================================================================

type EventKind string

const (
	EventRequestSubmitted     EventKind = "request_submitted"
	EventRequestStageApproved EventKind = "request_stage_approved"
	EventRequestApproved      EventKind = "request_approved"
	EventRequestRejected      EventKind = "request_rejected"
	EventDisbursementAdvanced EventKind = "disbursement_advanced"
	EventLiquidationSubmitted EventKind = "liquidation_submitted"
	EventLiquidationApproved  EventKind = "liquidation_approved"
	EventLiquidationRejected  EventKind = "liquidation_rejected"
)

type Notification struct {
	RecipientID string
	Kind        EventKind
	Payload     map[string]string
}

// Notifier delivers notifications. Implementations must not block the
// caller for long and must never be load-bearing: a lost notification is
// acceptable, a rolled-back approval is not.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Before     string // summary of prior state, e.g. old status
	After      string // summary of resulting state
}

type AuditLog interface {
	Record(ctx context.Context, e AuditEntry) error
}

// =============================================================================
// LOG-BACKED DEFAULTS
// =============================================================================

// LogNotifier writes notifications to the structured log. Used wherever a
// real push/email sink is not wired.
type LogNotifier struct {
	Log *logrus.Logger
}

func (n *LogNotifier) Notify(_ context.Context, ev Notification) error {
	n.Log.WithFields(logrus.Fields{
		"recipient": ev.RecipientID,
		"kind":      ev.Kind,
		"payload":   ev.Payload,
	}).Info("notification")
	return nil
}

// LogAuditLog writes audit entries to the structured log. Durable audit
// persistence is an external concern.
type LogAuditLog struct {
	Log *logrus.Logger
}

func (a *LogAuditLog) Record(_ context.Context, e AuditEntry) error {
	a.Log.WithFields(logrus.Fields{
		"actor":       e.ActorID,
		"action":      e.Action,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"before":      e.Before,
		"after":       e.After,
	}).Info("audit")
	return nil
}

// NopNotifier and NopAudit satisfy the interfaces for tests.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }

type NopAudit struct{}

func (NopAudit) Record(context.Context, AuditEntry) error { return nil }
