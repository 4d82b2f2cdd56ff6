package model

import "time"

type WorkflowStatus string

const WORKFLOW_STATUS_DRAFT WorkflowStatus = "draft"
const WORKFLOW_STATUS_ACTIVE WorkflowStatus = "active"
const WORKFLOW_STATUS_PAUSED WorkflowStatus = "paused"

type EventKind string

const EVENT_KIND_CREATED EventKind = "created"
const EVENT_KIND_MOVED EventKind = "moved"
const EVENT_KIND_BOTH EventKind = "both"

type TimingMode string

const TIMING_MODE_PREVIOUS_ACTION TimingMode = "previous_action"
const TIMING_MODE_TIME_IN_STAGE TimingMode = "time_in_stage"

type StepType string

const STEP_TYPE_DELAY StepType = "delay"
const STEP_TYPE_ACTION StepType = "action"

type Workflow struct {
	Id             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Status         WorkflowStatus `json:"status" yaml:"status"`
	Trigger        Trigger        `json:"trigger" yaml:"trigger"`
	Filters        []Filter       `json:"filters" yaml:"filters"`
	TimingMode     TimingMode     `json:"timingMode" yaml:"timingMode"`
	SendRules      SendRules      `json:"sendRules" yaml:"sendRules"`
	StopConditions []string       `json:"stopConditions" yaml:"stopConditions"`
	Steps          []Step         `json:"steps" yaml:"steps"`
	UpdatedAt      time.Time      `json:"updatedAt" yaml:"updatedAt"`
}

type Trigger struct {
	PipelineId string    `json:"pipelineId" yaml:"pipelineId"`
	StageId    string    `json:"stageId" yaml:"stageId"`
	EventKind  EventKind `json:"eventKind" yaml:"eventKind"`
}

type Filter struct {
	FieldPath string `json:"fieldPath" yaml:"fieldPath"`
	Operator  string `json:"operator" yaml:"operator"`
	Value     any    `json:"value" yaml:"value"`
}

type BusinessHours struct {
	StartHour int `json:"startHour" yaml:"startHour"`
	EndHour   int `json:"endHour" yaml:"endHour"`
}

type SendRules struct {
	BusinessHours BusinessHours `json:"businessHours" yaml:"businessHours"`
	// DaysOfWeek holds time.Weekday values, 0 is Sunday.
	DaysOfWeek   []int `json:"daysOfWeek" yaml:"daysOfWeek"`
	SkipHolidays bool  `json:"skipHolidays" yaml:"skipHolidays"`
}

// Step is either a delay or an action, selected by Type.
type Step struct {
	Type            StepType       `json:"type" yaml:"type"`
	DurationMinutes int            `json:"durationMinutes,omitempty" yaml:"durationMinutes,omitempty"`
	ActionType      string         `json:"actionType,omitempty" yaml:"actionType,omitempty"`
	Config          map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	IsActive        bool           `json:"isActive,omitempty" yaml:"isActive,omitempty"`
}

func DelayStep(minutes int) Step {
	return Step{Type: STEP_TYPE_DELAY, DurationMinutes: minutes}
}

func ActionStep(actionType string, config map[string]any) Step {
	return Step{Type: STEP_TYPE_ACTION, ActionType: actionType, Config: config, IsActive: true}
}

func (w *Workflow) IsActive() bool {
	return w.Status == WORKFLOW_STATUS_ACTIVE
}

func (w *Workflow) HasStopCondition(key string) bool {
	for _, c := range w.StopConditions {
		if c == key {
			return true
		}
	}
	return false
}
