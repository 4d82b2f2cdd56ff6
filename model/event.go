package model

import "time"

type TriggerEvent struct {
	EntityId   string         `json:"entityId"`
	PipelineId string         `json:"pipelineId"`
	StageId    string         `json:"stageId"`
	EventKind  EventKind      `json:"eventKind"`
	Timestamp  time.Time      `json:"timestamp"`
	Entity     map[string]any `json:"entity,omitempty"`
}

type ConditionEvent struct {
	EntityId     string    `json:"entityId"`
	ConditionKey string    `json:"conditionKey"`
	Timestamp    time.Time `json:"timestamp"`
}
