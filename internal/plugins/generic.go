package plugins

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// GenericOS is the fallback plugin name.
const GenericOS = "generic"

var kvLine = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9_.\- ]*?)\s*[=:]\s*(.+?)\s*$`)

// GenericParser reads KEY=value and KEY: value lines, plus per-variable regex
// extraction for variables that declare a pattern. With an empty schema every numeric
// key is accepted as a gauge.
type GenericParser struct {
	schema VariableSchema
}

// NewGenericParser builds a parser over a validated schema.
func NewGenericParser(schema VariableSchema) *GenericParser {
	return &GenericParser{schema: schema}
}

// Parse implements Parser.
func (p *GenericParser) Parse(result models.CollectResult, device models.Device, at time.Time) ([]models.Metric, error) {
	var (
		out  []models.Metric
		errs error
		seen = make(map[string]struct{})
	)
	emit := func(m models.Metric) {
		key := m.Key()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}

	for _, cmd := range sortedCommands(result.Outputs) {
		output := result.Outputs[cmd]
		for _, name := range p.schema.Names() {
			spec := p.schema[name]
			if spec.re == nil || (spec.Command != "" && spec.Command != cmd) {
				continue
			}
			metrics, err := extractPattern(name, spec, output, device.ID, at)
			if err != nil {
				errs = multierr.Append(errs, err)
			}
			for _, m := range metrics {
				emit(m)
			}
		}

		for _, line := range strings.Split(output, "\n") {
			match := kvLine.FindStringSubmatch(line)
			if match == nil {
				continue
			}
			name := normalizeKey(match[1])
			spec, declared := p.schema[name]
			if !declared && len(p.schema) > 0 {
				continue
			}
			if declared && spec.re != nil {
				continue
			}
			if !declared {
				spec = VariableSpec{Type: models.MetricGauge}
				if _, err := parseNumber(match[2]); err != nil {
					continue
				}
			}
			m, err := buildMetric(name, spec, match[2], nil, device.ID, at)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			emit(m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, errs
}

func extractPattern(name string, spec VariableSpec, output, deviceID string, at time.Time) ([]models.Metric, error) {
	var (
		out  []models.Metric
		errs error
	)
	valueIdx := spec.re.SubexpIndex("value")
	if valueIdx < 0 {
		valueIdx = 1
	}
	for _, match := range spec.re.FindAllStringSubmatch(output, -1) {
		if valueIdx >= len(match) {
			errs = multierr.Append(errs, utils.Errorf(utils.KindParse, "variable %s: pattern has no value group", name))
			break
		}
		var labels map[string]string
		for i, group := range spec.re.SubexpNames() {
			if group == "" || group == "value" || i >= len(match) {
				continue
			}
			if labels == nil {
				labels = make(map[string]string)
			}
			labels[group] = match[i]
		}
		m, err := buildMetric(name, spec, match[valueIdx], labels, deviceID, at)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, m)
	}
	return out, errs
}

func buildMetric(name string, spec VariableSpec, raw string, labels map[string]string, deviceID string, at time.Time) (models.Metric, error) {
	m := models.Metric{
		DeviceID:  deviceID,
		Variable:  name,
		Type:      spec.Type,
		Unit:      spec.Unit,
		Labels:    labels,
		Timestamp: at,
	}
	if spec.Type == models.MetricState {
		state := strings.TrimSpace(raw)
		if len(spec.ValidStates) > 0 && !models.ContainsFold(spec.ValidStates, state) {
			return m, utils.Errorf(utils.KindParse, "variable %s: state %q not in %v", name, state, spec.ValidStates)
		}
		m.Text = strings.ToLower(state)
		return m, nil
	}
	v, err := parseNumber(raw)
	if err != nil {
		return m, utils.WithKind(utils.KindParse, fmt.Errorf("variable %s: %w", name, err))
	}
	m.Value = v
	return m, nil
}

// parseNumber accepts a leading number followed by an optional unit, e.g. "42.5%".
func parseNumber(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E' {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, fmt.Errorf("value %q is not numeric", raw)
	}
	return strconv.ParseFloat(s[:end], 64)
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(key)
}

func sortedCommands(outputs map[string]string) []string {
	cmds := make([]string, 0, len(outputs))
	for cmd := range outputs {
		cmds = append(cmds, cmd)
	}
	sort.Strings(cmds)
	return cmds
}
