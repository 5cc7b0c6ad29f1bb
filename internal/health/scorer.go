package health

import (
	"math"
	"sort"
	"time"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// Health statuses.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Scorer turns a device's latest metric snapshot and active findings into a 0-100 score.
type Scorer struct {
	variables      map[string]config.HealthVariable
	healthyAbove   float64
	warningAbove   float64
	findingPenalty bool
}

// NewScorer builds a scorer from the configured variable weights.
func NewScorer(cfg config.HealthConfig) *Scorer {
	vars := make(map[string]config.HealthVariable, len(cfg.Variables))
	for name, v := range cfg.Variables {
		if v.Weight > 0 {
			vars[name] = v
		}
	}
	s := &Scorer{
		variables:      vars,
		healthyAbove:   cfg.HealthyAbove,
		warningAbove:   cfg.WarningAbove,
		findingPenalty: cfg.FindingPenalty,
	}
	if s.healthyAbove <= 0 {
		s.healthyAbove = 90
	}
	if s.warningAbove <= 0 {
		s.warningAbove = 70
	}
	return s
}

// Merge adds variables that are not configured yet. Explicit configuration wins.
func (s *Scorer) Merge(extra map[string]config.HealthVariable) {
	for name, v := range extra {
		if _, ok := s.variables[name]; ok || v.Weight <= 0 {
			continue
		}
		s.variables[name] = v
	}
}

// Weights returns the weight of every scored variable.
func (s *Scorer) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.variables))
	for name, v := range s.variables {
		out[name] = v.Weight
	}
	return out
}

// Score computes 100 * (1 - sum(w*dev) / sum(w)) over the weighted variables present
// in the snapshot or in the findings. Unweighted variables are ignored.
func (s *Scorer) Score(deviceID string, snapshot []models.Metric, findings []models.Finding, at time.Time) models.HealthScore {
	deviations := make(map[string]float64)
	for _, m := range snapshot {
		hv, ok := s.variables[m.Variable]
		if !ok || (m.DeviceID != "" && m.DeviceID != deviceID) {
			continue
		}
		dev := deviation(hv, m)
		if prev, seen := deviations[m.Variable]; !seen || dev > prev {
			deviations[m.Variable] = dev
		}
	}
	if s.findingPenalty {
		for _, f := range findings {
			if f.DeviceID != deviceID {
				continue
			}
			if _, ok := s.variables[f.Variable]; !ok {
				continue
			}
			penalty := severityPenalty(f.Severity)
			if prev, seen := deviations[f.Variable]; !seen || penalty > prev {
				deviations[f.Variable] = penalty
			}
		}
	}

	names := make([]string, 0, len(deviations))
	for name := range deviations {
		names = append(names, name)
	}
	sort.Strings(names)

	var weighted, total float64
	for _, name := range names {
		w := s.variables[name].Weight
		weighted += w * deviations[name]
		total += w
	}
	score := 100.0
	if total > 0 {
		score = 100 * (1 - weighted/total)
	}
	score = round2(math.Max(0, math.Min(100, score)))

	return models.HealthScore{
		DeviceID:   deviceID,
		Score:      score,
		Status:     s.Status(score),
		Components: deviations,
		Timestamp:  at,
	}
}

// Status maps a score onto healthy, warning or critical.
func (s *Scorer) Status(score float64) string {
	switch {
	case score >= s.healthyAbove:
		return StatusHealthy
	case score >= s.warningAbove:
		return StatusWarning
	}
	return StatusCritical
}

// Group aggregates member scores. Score is the weighted average using weights keyed
// by device id; devices without a weight count once.
func (s *Scorer) Group(name string, scores []models.HealthScore, weights map[string]float64) models.GroupHealth {
	out := models.GroupHealth{Group: name, Members: len(scores), Distribution: map[string]int{}}
	if len(scores) == 0 {
		return out
	}
	var weighted, total, sum float64
	out.Min, out.Max = math.Inf(1), math.Inf(-1)
	for _, hs := range scores {
		w := 1.0
		if v, ok := weights[hs.DeviceID]; ok {
			w = v
		}
		weighted += w * hs.Score
		total += w
		sum += hs.Score
		out.Min = math.Min(out.Min, hs.Score)
		out.Max = math.Max(out.Max, hs.Score)
		out.Distribution[s.Status(hs.Score)]++
	}
	if total > 0 {
		out.Score = round2(weighted / total)
	}
	out.Average = round2(sum / float64(len(scores)))
	return out
}

// deviation normalises one observation to [0,1], 0 being ideal.
func deviation(hv config.HealthVariable, m models.Metric) float64 {
	if m.Type == models.MetricState || len(hv.OKStates) > 0 {
		if models.ContainsFold(hv.OKStates, m.Text) {
			return 0
		}
		return 1
	}
	span := hv.Worst - hv.Ideal
	if span == 0 {
		return 0
	}
	return math.Max(0, math.Min(1, (m.Value-hv.Ideal)/span))
}

func severityPenalty(sev models.Severity) float64 {
	switch sev {
	case models.SeverityCritical:
		return 1
	case models.SeverityWarning:
		return 0.5
	case models.SeverityInfo:
		return 0.25
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
