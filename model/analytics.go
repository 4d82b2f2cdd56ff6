package model

type ActionTypeStats struct {
	TotalExecutions    int     `json:"totalExecutions"`
	SuccessRatePercent float64 `json:"successRatePercent"`
	AverageMinutes     float64 `json:"averageMinutes"`
}

type AnalyticsSnapshot struct {
	WorkflowId              string                     `json:"workflowId"`
	TotalExecutions         int                        `json:"totalExecutions"`
	SuccessfulExecutions    int                        `json:"successfulExecutions"`
	FailedExecutions        int                        `json:"failedExecutions"`
	StoppedExecutions       int                        `json:"stoppedExecutions"`
	AverageExecutionMinutes float64                    `json:"averageExecutionMinutes"`
	PerActionTypeStats      map[string]ActionTypeStats `json:"perActionTypeStats"`
	DailyHistory            map[string]int             `json:"dailyHistory"`
}
