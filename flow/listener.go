package flow

import "github.com/mohitkumar/autoflow/model"

// RunListener observes what the engine persisted. Calls happen on the
// goroutine that made the change and must not block.
type RunListener interface {
	ActionExecuted(run *model.RunInstance, record model.ExecutionRecord)
	RunFinished(run *model.RunInstance)
}

type Partitioner interface {
	GetPartition(key string) int
}

type staticPartition int

func (p staticPartition) GetPartition(string) int {
	return int(p)
}

// SinglePartition places every run in partition p.
func SinglePartition(p int) Partitioner {
	return staticPartition(p)
}
