package analytics

import (
	"time"

	"github.com/mohitkumar/autoflow/model"
)

const HISTORY_DAYS = 30

const dayFormat = "2006-01-02"

// Aggregate projects the runs of one workflow into a snapshot. Runs of other
// workflows are ignored.
func Aggregate(workflowId string, runs []*model.RunInstance, now time.Time) model.AnalyticsSnapshot {
	snapshot := model.AnalyticsSnapshot{
		WorkflowId:         workflowId,
		PerActionTypeStats: make(map[string]model.ActionTypeStats),
		DailyHistory:       make(map[string]int, HISTORY_DAYS),
	}

	today := now.UTC().Truncate(24 * time.Hour)
	oldest := today.AddDate(0, 0, -(HISTORY_DAYS - 1))
	for d := oldest; !d.After(today); d = d.AddDate(0, 0, 1) {
		snapshot.DailyHistory[d.Format(dayFormat)] = 0
	}

	type actionAcc struct {
		total     int
		succeeded int
		seconds   float64
	}
	actions := make(map[string]*actionAcc)
	completedMinutes := 0.0

	for _, run := range runs {
		if run.WorkflowId != workflowId {
			continue
		}
		if run.Status == model.RUN_STATUS_STOPPED {
			snapshot.StoppedExecutions++
		}
		if run.EverRan {
			snapshot.TotalExecutions++
			switch run.Status {
			case model.RUN_STATUS_COMPLETED:
				snapshot.SuccessfulExecutions++
				if run.CompletedAt != nil {
					completedMinutes += run.CompletedAt.Sub(run.CreatedAt).Minutes()
				}
			case model.RUN_STATUS_FAILED:
				snapshot.FailedExecutions++
			}
		}
		for _, rec := range run.History {
			acc, ok := actions[rec.ActionType]
			if !ok {
				acc = &actionAcc{}
				actions[rec.ActionType] = acc
			}
			acc.total++
			acc.seconds += rec.DurationSeconds
			if rec.Outcome == model.OUTCOME_SUCCESS {
				acc.succeeded++
			}
			day := rec.AttemptedAt.UTC().Format(dayFormat)
			if _, ok := snapshot.DailyHistory[day]; ok {
				snapshot.DailyHistory[day]++
			}
		}
	}

	if snapshot.SuccessfulExecutions > 0 {
		snapshot.AverageExecutionMinutes = completedMinutes / float64(snapshot.SuccessfulExecutions)
	}
	for actionType, acc := range actions {
		snapshot.PerActionTypeStats[actionType] = model.ActionTypeStats{
			TotalExecutions:    acc.total,
			SuccessRatePercent: float64(acc.succeeded) * 100 / float64(acc.total),
			AverageMinutes:     acc.seconds / 60 / float64(acc.total),
		}
	}
	return snapshot
}
