package server

import (
	"assignx/internal/domain"
)

// Request payloads

type SubmitProjectRequest struct {
	ClientID       string `json:"client_id,omitempty" doc:"defaults to the caller"`
	IntermediaryID string `json:"intermediary_id,omitempty"`
	ServiceType    string `json:"service_type" enum:"full_project,proofreading,report,consultation"`
	Subject        string `json:"subject" minLength:"1"`
	Description    string `json:"description,omitempty"`
	WordCount      int    `json:"word_count" minimum:"1"`
	Deadline       string `json:"deadline" format:"date-time"`
	Urgency        string `json:"urgency,omitempty" enum:"standard,urgent,express"`
	Draft          bool   `json:"draft,omitempty"`
}

type IssueQuoteRequest struct {
	Amount int64  `json:"amount" doc:"client quote in paise"`
	Notes  string `json:"notes,omitempty"`
}

type CaptureRequest struct {
	QuoteID    string `json:"quote_id"`
	PaymentRef string `json:"payment_ref"`
	Signature  string `json:"signature"`
}

type RegisterActorRequest struct {
	ID   string `json:"id"`
	Role string `json:"role" enum:"client,worker,intermediary,admin"`
	Name string `json:"name,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type RegisterWorkerRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty" doc:"defaults to 3"`
}

type AvailabilityRequest struct {
	Available bool `json:"available"`
}

type BlacklistRequest struct {
	IntermediaryID string `json:"intermediary_id,omitempty" doc:"defaults to the caller"`
	WorkerID       string `json:"worker_id"`
	Reason         string `json:"reason,omitempty"`
}

type AssignRequest struct {
	WorkerID string `json:"worker_id"`
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ReassignRequest struct {
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason,omitempty"`
}

type SubmitQCRequest struct {
	Refs  []string `json:"refs"`
	Notes string   `json:"notes,omitempty"`
}

type QCDecisionRequest struct {
	Decision string `json:"decision" enum:"approve,reject"`
	Notes    string `json:"notes,omitempty"`
}

type DeliverRequest struct {
	Refs []string `json:"refs,omitempty" doc:"defaults to the latest QC submission"`
}

type NotesRequest struct {
	Notes string `json:"notes,omitempty"`
}

type RefundRequest struct {
	Amount int64 `json:"amount" doc:"refund requested in paise"`
}

// Responses

type MeResponse struct {
	Actor       domain.Actor `json:"actor"`
	Permissions []string     `json:"permissions"`
	Source      string       `json:"source"`
}

type APIKeyResponse struct {
	Key    string        `json:"key" doc:"shown once"`
	APIKey domain.APIKey `json:"api_key"`
}

type CompletionResponse struct {
	Project domain.Project       `json:"project"`
	Ledger  []domain.LedgerEntry `json:"ledger"`
}

type FireTimersResponse struct {
	Fired int `json:"fired"`
}

type ProjectPage struct {
	Items      []domain.Project `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}
