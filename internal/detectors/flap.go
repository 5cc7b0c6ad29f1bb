package detectors

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// flapParams bounds transition counting for one stream.
type flapParams struct {
	threshold      int
	criticalFactor int
	window         time.Duration
	stability      time.Duration
	historyLimit   int
}

func newFlapParams(cfg config.FlapConfig) flapParams {
	p := flapParams{
		threshold:      cfg.Threshold,
		criticalFactor: cfg.CriticalFactor,
		window:         cfg.Window,
		stability:      cfg.StabilityPeriod,
		historyLimit:   cfg.HistoryLimit,
	}
	if p.threshold <= 0 {
		p.threshold = 3
	}
	if p.criticalFactor <= 1 {
		p.criticalFactor = 2
	}
	if p.window <= 0 {
		p.window = 5 * time.Minute
	}
	if p.stability <= 0 {
		p.stability = 10 * time.Minute
	}
	if p.historyLimit <= 0 {
		p.historyLimit = 100
	}
	return p
}

type statePoint struct {
	at    time.Time
	state string
}

// evaluateFlap replays the state history and reports whether the newest point
// triggers a flap finding. A flap episode emits at most once per severity level;
// it re-arms only after no transition was seen for the stability period.
func evaluateFlap(points []statePoint, p flapParams) (models.Severity, int) {
	if len(points) > p.historyLimit {
		points = points[len(points)-p.historyLimit:]
	}
	if len(points) < 2 {
		return "", 0
	}

	var transitions []time.Time
	var armed models.Severity
	var fired models.Severity
	var count int
	lastIndex := len(points) - 1

	for i := 1; i < len(points); i++ {
		if points[i].state == points[i-1].state {
			continue
		}
		at := points[i].at
		if n := len(transitions); n > 0 && at.Sub(transitions[n-1]) >= p.stability {
			armed = ""
		}
		transitions = append(transitions, at)

		count = 0
		for _, t := range transitions {
			if at.Sub(t) < p.window {
				count++
			}
		}
		level := models.Severity("")
		switch {
		case count >= p.threshold*p.criticalFactor:
			level = models.SeverityCritical
		case count >= p.threshold:
			level = models.SeverityWarning
		}

		fired = ""
		if level != "" && level.Rank() > armed.Rank() {
			armed = level
			fired = level
		}
		if i == lastIndex {
			return fired, count
		}
	}
	return "", count
}

func statePoints(series Series) []statePoint {
	out := make([]statePoint, 0, len(series.Points))
	for _, p := range series.Points {
		out = append(out, statePoint{at: p.Timestamp, state: p.Text})
	}
	return out
}

// FlapDetector counts transitions of state-typed variables.
type FlapDetector struct {
	params    flapParams
	variables []string
	exclude   []string
}

// NewFlapDetector builds a flap detector. Variables listed in exclude are left to
// more specialised detectors.
func NewFlapDetector(cfg config.FlapConfig, exclude []string) *FlapDetector {
	return &FlapDetector{params: newFlapParams(cfg), variables: cfg.Variables, exclude: exclude}
}

// Kind implements Detector.
func (d *FlapDetector) Kind() models.DetectorKind { return models.DetectorFlap }

// Detect implements Detector.
func (d *FlapDetector) Detect(series Series) ([]models.Finding, error) {
	if series.Type != models.MetricState || contains(d.exclude, series.Variable) {
		return nil, nil
	}
	if len(d.variables) > 0 && !contains(d.variables, series.Variable) {
		return nil, nil
	}
	severity, changes := evaluateFlap(statePoints(series), d.params)
	if severity == "" {
		return nil, nil
	}
	point, _ := series.Latest()
	class := "flap_" + series.Variable
	if strings.HasPrefix(series.Variable, "interface") {
		class = "interface_flap"
	}
	return []models.Finding{flapFinding(d.Kind(), class, series, point, severity, changes, d.params)}, nil
}

func flapFinding(kind models.DetectorKind, class string, series Series, point models.Metric, severity models.Severity, changes int, p flapParams) models.Finding {
	finding := newFinding(kind, class, series, point, severity)
	finding.Value = float64(changes)
	finding.Threshold = float64(p.threshold)
	finding.Confidence = 1
	finding.Message = fmt.Sprintf("%s %s changed state %d times in %s (now %q)",
		series.DeviceID, series.Key(), changes, p.window, point.Text)
	finding.Metadata = map[string]string{
		"changes": strconv.Itoa(changes),
		"state":   point.Text,
		"window":  p.window.String(),
	}
	return finding
}
