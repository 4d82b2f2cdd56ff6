package model

import "time"

type RunStatus string

const RUN_STATUS_PENDING RunStatus = "pending"
const RUN_STATUS_WAITING RunStatus = "waiting"
const RUN_STATUS_RUNNING RunStatus = "running"
const RUN_STATUS_COMPLETED RunStatus = "completed"
const RUN_STATUS_FAILED RunStatus = "failed"
const RUN_STATUS_STOPPED RunStatus = "stopped"

func (s RunStatus) IsTerminal() bool {
	return s == RUN_STATUS_COMPLETED || s == RUN_STATUS_FAILED || s == RUN_STATUS_STOPPED
}

type Outcome string

const OUTCOME_SUCCESS Outcome = "success"
const OUTCOME_FAILURE Outcome = "failure"

type RunInstance struct {
	Id                  string            `json:"id"`
	WorkflowId          string            `json:"workflowId"`
	EntityId            string            `json:"entityId"`
	CurrentStepIndex    int               `json:"currentStepIndex"`
	Status              RunStatus         `json:"status"`
	ScheduledDispatchAt *time.Time        `json:"scheduledDispatchAt,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	CompletedAt         *time.Time        `json:"completedAt,omitempty"`
	History             []ExecutionRecord `json:"history"`
	Version             int64             `json:"version"`
	Partition           int               `json:"partition"`
	StageEnteredAt      time.Time         `json:"stageEnteredAt"`
	LastActionAt        *time.Time        `json:"lastActionAt,omitempty"`
	PendingDelayMinutes int               `json:"pendingDelayMinutes"`
	EverRan             bool              `json:"everRan"`
	ErrorReason         string            `json:"errorReason,omitempty"`
	StopReason          string            `json:"stopReason,omitempty"`
	Entity              map[string]any    `json:"entity,omitempty"`
}

type ExecutionRecord struct {
	StepIndex       int       `json:"stepIndex"`
	ActionType      string    `json:"actionType"`
	AttemptedAt     time.Time `json:"attemptedAt"`
	CompletedAt     time.Time `json:"completedAt"`
	Outcome         Outcome   `json:"outcome"`
	ErrorReason     string    `json:"errorReason,omitempty"`
	DurationSeconds float64   `json:"durationSeconds"`
	ExternalId      string    `json:"externalId,omitempty"`
}

// Clone returns a deep enough copy for stores to hand out without sharing
// history or entity maps with the caller.
func (r *RunInstance) Clone() *RunInstance {
	c := *r
	if r.ScheduledDispatchAt != nil {
		t := *r.ScheduledDispatchAt
		c.ScheduledDispatchAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.LastActionAt != nil {
		t := *r.LastActionAt
		c.LastActionAt = &t
	}
	c.History = append([]ExecutionRecord(nil), r.History...)
	if r.Entity != nil {
		c.Entity = make(map[string]any, len(r.Entity))
		for k, v := range r.Entity {
			c.Entity[k] = v
		}
	}
	return &c
}
