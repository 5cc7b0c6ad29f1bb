package report

import (
	"sort"

	"github.com/miradorstack/mirador-netops/internal/models"
)

// Input is everything a run accumulated by the time REPORT executes. Any field may be
// empty when an earlier stage failed or was skipped.
type Input struct {
	Metrics     []models.Metric
	Collect     models.CollectResult
	ParseErrors int
	Findings    []models.Finding
	Health      *models.HealthScore
	Decisions   []models.AlertDecision
	Incidents   []models.Incident
}

// Summarize builds the run summary persisted with the run record.
func Summarize(in Input) models.RunSummary {
	summary := models.RunSummary{
		Metrics:       len(in.Metrics),
		CommandErrors: len(in.Collect.Errors),
		ParseErrors:   in.ParseErrors,
	}
	if len(in.Findings) > 0 {
		summary.FindingsBySeverity = make(map[string]int)
		for _, f := range in.Findings {
			summary.FindingsBySeverity[string(f.Severity)]++
		}
	}
	if in.Health != nil {
		summary.HealthScore = in.Health.Score
		summary.HealthStatus = in.Health.Status
	}
	if len(in.Decisions) > 0 {
		summary.AlertDecisions = make(map[string]int)
		for _, d := range in.Decisions {
			summary.AlertDecisions[string(d.Kind)]++
		}
	}
	for _, inc := range in.Incidents {
		summary.IncidentIDs = append(summary.IncidentIDs, inc.ID)
	}
	sort.Strings(summary.IncidentIDs)
	return summary
}
