package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity scans the journal for balance violations.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskReportWarmup pre-computes aging and budget comparison reports.
	TaskReportWarmup = "ledger:report_warmup"
)

// GLIntegrityPayload scopes an integrity scan. A zero PeriodID scans every period.
type GLIntegrityPayload struct {
	PeriodID int64 `json:"period_id,omitempty"`
}

// NewGLIntegrityTask constructs an Asynq task.
func NewGLIntegrityTask(periodID int64) (*asynq.Task, error) {
	data, err := json.Marshal(GLIntegrityPayload{PeriodID: periodID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, data), nil
}

// ReportWarmupPayload selects the budget year to warm. Zero means the current year.
type ReportWarmupPayload struct {
	Year int `json:"year,omitempty"`
}

// NewReportWarmupTask constructs an Asynq task.
func NewReportWarmupTask(year int) (*asynq.Task, error) {
	data, err := json.Marshal(ReportWarmupPayload{Year: year})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportWarmup, data), nil
}
