package models

import "time"

// Stage is one step of a device pipeline run.
type Stage string

const (
	StageObserve   Stage = "observe"
	StageCollect   Stage = "collect"
	StageNormalize Stage = "normalize"
	StageAnalyze   Stage = "analyze"
	StageCorrelate Stage = "correlate"
	StageAlert     Stage = "alert"
	StageReport    Stage = "report"
)

// StageOrder is the fixed execution order of a run.
var StageOrder = []Stage{
	StageObserve,
	StageCollect,
	StageNormalize,
	StageAnalyze,
	StageCorrelate,
	StageAlert,
	StageReport,
}

// ParseStage maps a name onto a known stage.
func ParseStage(name string) (Stage, bool) {
	for _, s := range StageOrder {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// StageStatus is the tagged outcome of one stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageSucceeded StageStatus = "succeeded"
	StageSkipped   StageStatus = "skipped"
	StageFailed    StageStatus = "failed"
	StageNotRun    StageStatus = "not_run"
)

// RunStatus is the overall outcome of a pipeline run.
type RunStatus string

const (
	RunRunning         RunStatus = "running"
	RunCompleted       RunStatus = "completed"
	RunFailed          RunStatus = "failed"
	RunPartiallyFailed RunStatus = "partially-failed"
)

// StageResult records one stage execution.
type StageResult struct {
	Stage     Stage         `json:"stage"`
	Status    StageStatus   `json:"status"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Input     string        `json:"input,omitempty"`
	Output    string        `json:"output,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
}

// RunSummary is the REPORT view of a run.
type RunSummary struct {
	Metrics            int            `json:"metrics"`
	CommandErrors      int            `json:"command_errors"`
	ParseErrors        int            `json:"parse_errors"`
	FindingsBySeverity map[string]int `json:"findings_by_severity,omitempty"`
	HealthScore        float64        `json:"health_score"`
	HealthStatus       string         `json:"health_status,omitempty"`
	AlertDecisions     map[string]int `json:"alert_decisions,omitempty"`
	IncidentIDs        []string       `json:"incident_ids,omitempty"`
}

// PipelineRun is the audit record of one device run.
type PipelineRun struct {
	ID        string        `json:"id"`
	DeviceID  string        `json:"device_id"`
	Status    RunStatus     `json:"status"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
	Stages    []StageResult `json:"stages"`
	Summary   RunSummary    `json:"summary"`
}

// StageResult returns the recorded result for stage, if any.
func (r PipelineRun) StageResult(stage Stage) (StageResult, bool) {
	for _, res := range r.Stages {
		if res.Stage == stage {
			return res, true
		}
	}
	return StageResult{}, false
}

// HealthScore is a device's composite health.
type HealthScore struct {
	DeviceID   string             `json:"device_id"`
	Score      float64            `json:"score"`
	Status     string             `json:"status"`
	Components map[string]float64 `json:"components,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// GroupHealth aggregates member device scores.
type GroupHealth struct {
	Group        string         `json:"group"`
	Score        float64        `json:"score"`
	Average      float64        `json:"average"`
	Min          float64        `json:"min"`
	Max          float64        `json:"max"`
	Members      int            `json:"members"`
	Distribution map[string]int `json:"distribution"`
}
