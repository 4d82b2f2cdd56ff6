package model

import "fmt"

// ConfigurationError marks a workflow definition that can never produce a
// valid dispatch instant or action payload.
type ConfigurationError struct {
	WorkflowId string
	Message    string
}

func (e ConfigurationError) Error() string {
	if e.WorkflowId == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error in workflow %s: %s", e.WorkflowId, e.Message)
}

type FilterEvaluationError struct {
	FieldPath string
	Message   string
}

func (e FilterEvaluationError) Error() string {
	return fmt.Sprintf("filter on %s: %s", e.FieldPath, e.Message)
}

// DispatchError wraps a capability failure or timeout.
type DispatchError struct {
	ActionType string
	Err        error
}

func (e DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s failed: %v", e.ActionType, e.Err)
}

func (e DispatchError) Unwrap() error {
	return e.Err
}
