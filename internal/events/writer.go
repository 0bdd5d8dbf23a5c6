package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine. Notifications and webhooks key off them.
const (
	ProjectSubmitted     = "project.submitted"
	ProjectDrafted       = "project.drafted"
	ProjectAnalyzing     = "project.analyzing"
	QuoteIssued          = "quote.issued"
	PaymentRequested     = "payment.requested"
	PaymentCaptured      = "payment.captured"
	PaymentFailed        = "payment.failed"
	WorkerRegistered     = "worker.registered"
	WorkerAvailability   = "worker.availability_changed"
	WorkerBlacklisted    = "worker.blacklisted"
	WorkerUnblacklisted  = "worker.unblacklisted"
	AssignmentCreated    = "assignment.created"
	AssignmentDeclined   = "assignment.declined"
	AssignmentReassigned = "assignment.reassigned"
	WorkStarted          = "project.work_started"
	QCSubmitted          = "qc.submitted"
	QCStarted            = "qc.started"
	QCApproved           = "qc.approved"
	QCRejected           = "qc.rejected"
	ProjectDelivered     = "project.delivered"
	ProjectCompleted     = "project.completed"
	ProjectAutoApproved  = "project.auto_approved"
	RevisionRequested    = "revision.requested"
	RevisionStarted      = "revision.started"
	TimerArmed           = "timer.armed"
	TimerDisarmed        = "timer.disarmed"
	ProjectSettled       = "project.settled"
	ProjectCancelled     = "project.cancelled"
	ProjectRefunded      = "project.refunded"
	ActorRegistered      = "actor.registered"
	APIKeyCreated        = "api_key.created"
	APIKeyRevoked        = "api_key.revoked"
	StatusChanged        = "project.status_changed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one event inside tx so it commits or rolls back with the
// change it describes. It returns the event id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("append %s: transaction required", evtType)
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", evtType, err)
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
