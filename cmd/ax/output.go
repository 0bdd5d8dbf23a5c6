package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"assignx/internal/domain"
	"assignx/internal/engine"
)

// renderTable prints the list types people scan in a terminal. Anything else
// falls back to indented JSON.
func renderTable(w io.Writer, v any) bool {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	switch items := v.(type) {
	case domain.Project:
		t.AppendHeader(table.Row{"Field", "Value"})
		t.AppendRows([]table.Row{
			{"id", items.ID},
			{"number", items.Number},
			{"status", items.Status},
			{"client", items.ClientID},
			{"intermediary", items.IntermediaryID},
			{"worker", deref(items.WorkerID)},
			{"service", items.ServiceType},
			{"subject", items.Subject},
			{"words", humanize.Comma(int64(items.WordCount))},
			{"deadline", when(items.Deadline)},
			{"quote", money(items.ClientQuote)},
			{"worker payout", money(items.WorkerPayout)},
			{"commission", money(items.IntermediaryCommission)},
			{"platform fee", money(items.PlatformFee)},
			{"revisions", items.RevisionCount},
			{"qc rejections", items.QCRejectionCount},
			{"updated", when(items.UpdatedAt)},
		})
	case []domain.Project:
		t.AppendHeader(table.Row{"Number", "Status", "Client", "Worker", "Service", "Quote", "Deadline"})
		for _, p := range items {
			t.AppendRow(table.Row{p.Number, p.Status, p.ClientID, deref(p.WorkerID), p.ServiceType, money(p.ClientQuote), when(p.Deadline)})
		}
	case []domain.Quote:
		t.AppendHeader(table.Row{"ID", "Amount", "State", "Issued by", "Issued"})
		for _, q := range items {
			t.AppendRow(table.Row{q.ID, money(q.Amount), q.State, q.IssuedBy, when(q.IssuedAt)})
		}
	case []domain.Payment:
		t.AppendHeader(table.Row{"ID", "Order", "Amount", "State", "Failed", "Created"})
		for _, p := range items {
			t.AppendRow(table.Row{p.ID, p.OrderRef, money(p.Amount), p.State, p.FailedAttempts, when(p.CreatedAt)})
		}
	case []domain.Worker:
		t.AppendHeader(table.Row{"ID", "Name", "Available", "Active", "Max"})
		for _, wk := range items {
			t.AppendRow(table.Row{wk.ID, wk.Name, wk.Available, wk.ActiveCount, wk.MaxConcurrent})
		}
	case []domain.Assignment:
		t.AppendHeader(table.Row{"ID", "Worker", "State", "Assigned by", "Assigned", "Reason"})
		for _, a := range items {
			t.AppendRow(table.Row{a.ID, a.WorkerID, a.State, a.AssignedBy, when(a.AssignedAt), a.Reason})
		}
	case []domain.Timer:
		t.AppendHeader(table.Row{"ID", "State", "Fires", "Reason"})
		for _, tm := range items {
			t.AppendRow(table.Row{tm.ID, tm.State, when(tm.FireAt), tm.Reason})
		}
	case []domain.LedgerEntry:
		t.AppendHeader(table.Row{"Owner", "Kind", "Amount", "Reason", "Project", "At"})
		var total int64
		for _, e := range items {
			total += e.Amount
			t.AppendRow(table.Row{e.OwnerID, e.OwnerKind, money(e.Amount), e.Reason, e.ProjectID, when(e.CreatedAt)})
		}
		t.AppendFooter(table.Row{"", "total", money(total)})
	case engine.Completion:
		renderTable(w, items.Project)
		return renderTable(w, items.Ledger)
	case []domain.Balance:
		t.AppendHeader(table.Row{"Owner", "Kind", "Balance", "Entries"})
		for _, b := range items {
			t.AppendRow(table.Row{b.OwnerID, b.OwnerKind, money(b.Amount), b.Entries})
		}
	case []domain.Actor:
		t.AppendHeader(table.Row{"ID", "Role", "Name", "Since"})
		for _, a := range items {
			t.AppendRow(table.Row{a.ID, a.Role, a.Name, when(a.CreatedAt)})
		}
	case []domain.Event:
		t.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor"})
		for _, e := range items {
			t.AppendRow(table.Row{e.ID, when(e.TS), e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
		}
	default:
		return false
	}
	t.Render()
	return true
}

// money renders paise as rupees.
func money(paise int64) string {
	sign := ""
	if paise < 0 {
		sign, paise = "-", -paise
	}
	return fmt.Sprintf("%s₹%s.%02d", sign, humanize.Comma(paise/100), paise%100)
}

func when(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
