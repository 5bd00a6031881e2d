// Package audit provides the append-only, queryable log of every pipeline
// action. Records are immutable facts: never updated, never deleted.
package audit

import (
	"time"

	id "veriqan/pkg/domain"
)

// Action names what happened to a case.
type Action string

const (
	ActionCaseCreated       Action = "case_created"
	ActionStageCompleted    Action = "stage_completed"
	ActionStageFailed       Action = "stage_failed"
	ActionCaseSuspended     Action = "case_suspended"
	ActionCaseCancelled     Action = "case_cancelled"
	ActionCaseCompleted     Action = "case_completed"
	ActionCaseResumed       Action = "case_resumed"
	ActionDecisionSubmitted Action = "decision_submitted"
	ActionDecisionRejected  Action = "decision_rejected"
)

// Record is one immutable audit fact.
type Record struct {
	CorrelationID id.CorrelationID
	CaseID        id.CaseID
	Action        Action
	Stage         id.Stage
	Success       bool
	Timestamp     time.Time
	Details       string
	ErrorMessage  string
}

// Filter narrows a query. Zero fields match everything; pointer fields
// distinguish "unset" from a legitimate false value.
type Filter struct {
	CorrelationID *id.CorrelationID
	CaseID        *id.CaseID
	Action        Action
	Stage         id.Stage
	Success       *bool
	From          time.Time
	To            time.Time
	Limit         int
}

func (f Filter) matches(r Record) bool {
	if f.CorrelationID != nil && r.CorrelationID != *f.CorrelationID {
		return false
	}
	if f.CaseID != nil && r.CaseID != *f.CaseID {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.Stage != "" && r.Stage != f.Stage {
		return false
	}
	if f.Success != nil && r.Success != *f.Success {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	return true
}
