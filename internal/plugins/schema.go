package plugins

import (
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/multierr"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// VariableSpec declares one variable a plugin can produce.
type VariableSpec struct {
	Type        models.MetricType `yaml:"type" json:"type"`
	Unit        string            `yaml:"unit" json:"unit,omitempty"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Weight      float64           `yaml:"weight" json:"weight,omitempty"`
	Ideal       float64           `yaml:"ideal" json:"ideal,omitempty"`
	Worst       float64           `yaml:"worst" json:"worst,omitempty"`
	ValidStates []string          `yaml:"valid_states" json:"valid_states,omitempty"`
	OKStates    []string          `yaml:"ok_states" json:"ok_states,omitempty"`
	// Pattern extracts the value from raw output. The first unnamed group, or the group
	// named "value", is the value; other named groups become labels.
	Pattern string `yaml:"pattern" json:"pattern,omitempty"`
	// Command restricts Pattern to the output of one command.
	Command string `yaml:"command" json:"command,omitempty"`

	re *regexp.Regexp
}

// VariableSchema maps variable names to their declarations.
type VariableSchema map[string]VariableSpec

// Validate checks every declaration and compiles patterns in place.
func (s VariableSchema) Validate() error {
	var errs error
	for _, name := range s.Names() {
		spec := s[name]
		if !spec.Type.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("variable %q: type %q must be gauge, counter or state", name, spec.Type))
		}
		if spec.Type == models.MetricState && len(spec.ValidStates) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("variable %q: state variables require valid_states", name))
		}
		if spec.Weight < 0 {
			errs = multierr.Append(errs, fmt.Errorf("variable %q: weight must be >= 0", name))
		}
		if spec.Pattern != "" {
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("variable %q: pattern: %w", name, err))
			} else {
				spec.re = re
				s[name] = spec
			}
		}
	}
	return errs
}

// Names returns the declared variable names in sorted order.
func (s VariableSchema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthVariables returns the weighted variables as health scorer inputs.
func (s VariableSchema) HealthVariables() map[string]config.HealthVariable {
	out := make(map[string]config.HealthVariable)
	for name, spec := range s {
		if spec.Weight <= 0 {
			continue
		}
		out[name] = config.HealthVariable{
			Weight:   spec.Weight,
			Ideal:    spec.Ideal,
			Worst:    spec.Worst,
			OKStates: append([]string(nil), spec.OKStates...),
		}
	}
	return out
}
