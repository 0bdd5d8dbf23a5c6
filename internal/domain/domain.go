package domain

import "assignx/internal/lifecycle"

const (
	ServiceFullProject  = "full_project"
	ServiceProofreading = "proofreading"
	ServiceReport       = "report"
	ServiceConsultation = "consultation"

	UrgencyStandard = "standard"
	UrgencyUrgent   = "urgent"
	UrgencyExpress  = "express"
)

const (
	RoleClient       = "client"
	RoleWorker       = "worker"
	RoleIntermediary = "intermediary"
	RoleAdmin        = "admin"
)

const (
	QuoteActive     = "active"
	QuoteAccepted   = "accepted"
	QuoteRejected   = "rejected"
	QuoteSuperseded = "superseded"

	PaymentPending  = "pending"
	PaymentCaptured = "captured"
	PaymentFailed   = "failed"

	AssignmentActive     = "active"
	AssignmentDeclined   = "declined"
	AssignmentReassigned = "reassigned"
	AssignmentReleased   = "released"

	TimerArmed    = "armed"
	TimerDisarmed = "disarmed"
	TimerFired    = "fired"

	DeliverableQCSubmission = "qc_submission"
	DeliverableDelivery     = "delivery"
)

const (
	OwnerClient       = "client"
	OwnerWorker       = "worker"
	OwnerIntermediary = "intermediary"
	OwnerPlatform     = "platform"

	// PlatformOwnerID is the single owner of platform ledger rows.
	PlatformOwnerID = "platform"
)

const (
	LedgerCapture                = "capture"
	LedgerSettlementWorker       = "settlement_worker"
	LedgerSettlementIntermediary = "settlement_intermediary"
	LedgerSettlementPlatform     = "settlement_platform"
	LedgerRefundClient           = "refund_client"
	LedgerRefundWorker           = "refund_worker"
	LedgerRefundIntermediary     = "refund_intermediary"
	LedgerRefundPlatform         = "refund_platform"
)

type Project struct {
	ID                     string           `json:"id"`
	Number                 string           `json:"number"`
	ClientID               string           `json:"client_id"`
	IntermediaryID         string           `json:"intermediary_id,omitempty"`
	WorkerID               *string          `json:"worker_id,omitempty"`
	ServiceType            string           `json:"service_type" enum:"full_project,proofreading,report,consultation"`
	Subject                string           `json:"subject"`
	Description            string           `json:"description,omitempty"`
	WordCount              int              `json:"word_count"`
	Deadline               string           `json:"deadline" format:"date-time"`
	Urgency                string           `json:"urgency" enum:"standard,urgent,express"`
	Status                 lifecycle.Status `json:"status"`
	ClientQuote            int64            `json:"client_quote"`
	WorkerPayout           int64            `json:"worker_payout"`
	IntermediaryCommission int64            `json:"intermediary_commission"`
	PlatformFee            int64            `json:"platform_fee"`
	RevisionCount          int              `json:"revision_count"`
	QCRejectionCount       int              `json:"qc_rejection_count"`
	CancelledFrom          string           `json:"cancelled_from,omitempty"`
	Version                int64            `json:"version"`
	CreatedAt              string           `json:"created_at" format:"date-time"`
	UpdatedAt              string           `json:"updated_at" format:"date-time"`
	CompletedAt            *string          `json:"completed_at,omitempty" format:"date-time"`
}

type Quote struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Amount    int64  `json:"amount"`
	Notes     string `json:"notes,omitempty"`
	IssuedBy  string `json:"issued_by"`
	IssuedAt  string `json:"issued_at" format:"date-time"`
	State     string `json:"state" enum:"active,accepted,rejected,superseded"`
}

type Payment struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	QuoteID        string  `json:"quote_id"`
	OrderRef       string  `json:"order_ref"`
	PaymentRef     *string `json:"payment_ref,omitempty"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	State          string  `json:"state" enum:"pending,captured,failed"`
	FailedAttempts int     `json:"failed_attempts"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	CapturedAt     *string `json:"captured_at,omitempty" format:"date-time"`
}

type Worker struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Available     bool   `json:"available"`
	MaxConcurrent int    `json:"max_concurrent"`
	ActiveCount   int    `json:"active_count"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type BlacklistEntry struct {
	IntermediaryID string `json:"intermediary_id"`
	WorkerID       string `json:"worker_id"`
	Reason         string `json:"reason,omitempty"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Assignment struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	WorkerID   string  `json:"worker_id"`
	AssignedBy string  `json:"assigned_by"`
	AssignedAt string  `json:"assigned_at" format:"date-time"`
	State      string  `json:"state" enum:"active,declined,reassigned,released"`
	Reason     string  `json:"reason,omitempty"`
	ClosedAt   *string `json:"closed_at,omitempty" format:"date-time"`
}

type Revision struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	RequestedBy   string  `json:"requested_by"`
	RequesterRole string  `json:"requester_role" enum:"client,intermediary"`
	Notes         string  `json:"notes,omitempty"`
	RequestedAt   string  `json:"requested_at" format:"date-time"`
	ResolvedAt    *string `json:"resolved_at,omitempty" format:"date-time"`
}

type Deliverable struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Ref       string `json:"ref"`
	Kind      string `json:"kind" enum:"qc_submission,delivery"`
	Round     int    `json:"round"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Timer struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	ArmedAt         string  `json:"armed_at" format:"date-time"`
	FireAt          string  `json:"fire_at" format:"date-time"`
	DurationSeconds int64   `json:"duration_seconds"`
	State           string  `json:"state" enum:"armed,disarmed,fired"`
	Reason          string  `json:"reason,omitempty"`
	ClosedAt        *string `json:"closed_at,omitempty" format:"date-time"`
}

type LedgerEntry struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	OwnerKind string `json:"owner_kind" enum:"client,worker,intermediary,platform"`
	OwnerID   string `json:"owner_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Balance struct {
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
	Amount    int64  `json:"amount"`
	Entries   int    `json:"entries"`
}

// SettlementPreview is what a successful capture commits the project to.
type SettlementPreview struct {
	ProjectID              string `json:"project_id"`
	QuoteID                string `json:"quote_id"`
	PaymentID              string `json:"payment_id"`
	PaymentRef             string `json:"payment_ref"`
	ClientQuote            int64  `json:"client_quote"`
	WorkerPayout           int64  `json:"worker_payout"`
	IntermediaryCommission int64  `json:"intermediary_commission"`
	PlatformFee            int64  `json:"platform_fee"`
	AlreadyPaid            bool   `json:"already_paid"`
}

type Actor struct {
	ID        string `json:"id"`
	Role      string `json:"role" enum:"client,worker,intermediary,admin"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ProjectSummary is the wallet-style view of one project.
type ProjectSummary struct {
	Project      Project       `json:"project"`
	ActiveQuote  *Quote        `json:"active_quote,omitempty"`
	Payment      *Payment      `json:"payment,omitempty"`
	Assignment   *Assignment   `json:"assignment,omitempty"`
	Timer        *Timer        `json:"timer,omitempty"`
	Ledger       []LedgerEntry `json:"ledger"`
	LedgerTotal  int64         `json:"ledger_total"`
	Deliverables []Deliverable `json:"deliverables,omitempty"`
	Allowed      []string      `json:"allowed_events"`
}
