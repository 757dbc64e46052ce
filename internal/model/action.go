package model

import (
	"time"
)

// ActionType is the kind of intervention a triage item recommends.
type ActionType string

const (
	ActionMessage ActionType = "message"
	ActionCall    ActionType = "call"
	ActionFlag    ActionType = "flag"
	ActionUnblock ActionType = "unblock"
)

// ActionTypes lists every action type in a stable order.
var ActionTypes = []ActionType{ActionMessage, ActionCall, ActionFlag, ActionUnblock}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionMessage, ActionCall, ActionFlag, ActionUnblock:
		return true
	default:
		return false
	}
}

// Artifact is a generated, ready-to-send action payload.
type Artifact struct {
	Kind      string `json:"kind"` // email, call_script, flag_note, task
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
	Generator string `json:"generator"` // template, llm, manual
}

// TriageItem is one ranked recommendation produced by a triage run.
type TriageItem struct {
	EntityID     string     `json:"entity_id"`
	EntityName   string     `json:"entity_name,omitempty"`
	Stage        Stage      `json:"stage"`
	ActionType   ActionType `json:"action_type"`
	Priority     float64    `json:"priority"`
	ExpectedGain float64    `json:"expected_gain"`
	Probability  float64    `json:"probability"`
	Urgency      string     `json:"urgency,omitempty"`
	Reason       string     `json:"reason"`
	Artifact     Artifact   `json:"artifact"`
	Blockers     []Blocker  `json:"blockers,omitempty"`
}

// QueueKey identifies the active-entry uniqueness slot.
type QueueKey struct {
	OwnerID    string
	EntityID   string
	ActionType ActionType
}

// ActionQueueEntry is a persisted triage item awaiting execution.
type ActionQueueEntry struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	EntityID     string     `json:"entity_id"`
	ActionType   ActionType `json:"action_type"`
	Priority     float64    `json:"priority"`
	ExpectedGain float64    `json:"expected_gain"`
	Reason       string     `json:"reason"`
	Artifact     Artifact   `json:"artifact"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// Key returns the entry's uniqueness slot.
func (e *ActionQueueEntry) Key() QueueKey {
	return QueueKey{OwnerID: e.OwnerID, EntityID: e.EntityID, ActionType: e.ActionType}
}

// Active reports whether the entry is still actionable at now.
func (e *ActionQueueEntry) Active(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// ExecutionResult records what happened when an entry was executed.
type ExecutionResult string

const (
	ResultSent      ExecutionResult = "sent"
	ResultFailed    ExecutionResult = "failed"
	ResultSkipped   ExecutionResult = "skipped"
	ResultSimulated ExecutionResult = "simulated"
)

// ActionExecution is the audit record of an executed queue entry. Only the
// outcome fields change after creation.
type ActionExecution struct {
	ID                string          `json:"id"`
	QueueEntryID      string          `json:"queue_entry_id"`
	OwnerID           string          `json:"owner_id"`
	EntityID          string          `json:"entity_id"`
	ActionType        ActionType      `json:"action_type"`
	Artifact          Artifact        `json:"artifact"`
	ExecutedAt        time.Time       `json:"executed_at"`
	Result            ExecutionResult `json:"result"`
	OutcomeMeasuredAt *time.Time      `json:"outcome_measured_at,omitempty"`
	StageAdvanced     *bool           `json:"stage_advanced,omitempty"`
	DelayDays         *int            `json:"delay_days,omitempty"`
	ConversionDelta   *float64        `json:"conversion_delta,omitempty"`
}

// Outcome is the later-arriving measurement for an execution.
type Outcome struct {
	StageAdvanced   bool     `json:"stage_advanced"`
	DelayDays       int      `json:"delay_days"`
	ConversionDelta *float64 `json:"conversion_delta,omitempty"`
}
