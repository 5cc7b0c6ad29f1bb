package alerting

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// SilenceSet holds the maintenance windows and silences consulted before routing.
type SilenceSet struct {
	mu       sync.RWMutex
	silences []models.Silence
	windows  []models.MaintenanceWindow
}

// NewSilenceSet copies the configured silences and windows.
func NewSilenceSet(silences []models.Silence, windows []models.MaintenanceWindow) *SilenceSet {
	return &SilenceSet{
		silences: append([]models.Silence(nil), silences...),
		windows:  append([]models.MaintenanceWindow(nil), windows...),
	}
}

// AddSilence registers a silence at runtime, replacing one with the same id.
func (s *SilenceSet) AddSilence(silence models.Silence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.silences {
		if s.silences[i].ID == silence.ID {
			s.silences[i] = silence
			return
		}
	}
	s.silences = append(s.silences, silence)
}

// RemoveSilence drops a silence by id.
func (s *SilenceSet) RemoveSilence(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.silences {
		if s.silences[i].ID == id {
			s.silences = append(s.silences[:i], s.silences[i+1:]...)
			return true
		}
	}
	return false
}

// Match returns the id of the first active maintenance window or silence covering sig.
// Maintenance windows are checked first.
func (s *SilenceSet) Match(sig Signal, at time.Time) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.windows {
		if w.ActiveAt(at) && filterMatches(w.SuppressionFilter, sig) {
			return "maintenance:" + w.ID, true
		}
	}
	for _, sl := range s.silences {
		if sl.ActiveAt(at) && filterMatches(sl.SuppressionFilter, sig) {
			return "silence:" + sl.ID, true
		}
	}
	return "", false
}

// Active lists the windows and silences in effect at t.
func (s *SilenceSet) Active(at time.Time) ([]models.MaintenanceWindow, []models.Silence) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var windows []models.MaintenanceWindow
	for _, w := range s.windows {
		if w.ActiveAt(at) {
			windows = append(windows, w)
		}
	}
	var silences []models.Silence
	for _, sl := range s.silences {
		if sl.ActiveAt(at) {
			silences = append(silences, sl)
		}
	}
	return windows, silences
}

func filterMatches(f models.SuppressionFilter, sig Signal) bool {
	return sig.matchesTags(f.Tags) &&
		matchesDevice(f.Devices, sig.DeviceID) &&
		sig.matchesVariable(f.Variables) &&
		matchesSeverity(f.Severities, sig.Severity)
}

// Router picks the contact group and channels for a signal.
type Router struct {
	rules    []models.RoutingRule
	fallback models.RoutingDecision
}

// NewRouter orders rules by descending priority; equal priorities keep their id order.
func NewRouter(rules []models.RoutingRule, fallback models.RoutingDecision) *Router {
	sorted := append([]models.RoutingRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	if fallback.ContactGroup == "" {
		fallback = models.RoutingDecision{RuleID: "default", ContactGroup: "default", Channels: []string{"log"}}
	}
	return &Router{rules: sorted, fallback: fallback}
}

// Route returns the decision of the first matching rule. Lower-priority rules are never
// consulted once a rule matches.
func (r *Router) Route(sig Signal) models.RoutingDecision {
	for _, rule := range r.rules {
		m := rule.Match
		if !sig.matchesTags(m.Tags) || !matchesDevice(m.Devices, sig.DeviceID) ||
			!sig.matchesVariable(m.Variables) || !matchesSeverity(m.Severities, sig.Severity) {
			continue
		}
		if len(m.Classes) > 0 && !models.ContainsFold(m.Classes, sig.Class) {
			continue
		}
		return models.RoutingDecision{
			RuleID:       rule.ID,
			ContactGroup: rule.ContactGroup,
			Channels:     append([]string(nil), rule.Channels...),
		}
	}
	out := r.fallback
	out.Channels = append([]string(nil), r.fallback.Channels...)
	return out
}

// Rules returns the ordered rules.
func (r *Router) Rules() []models.RoutingRule {
	return append([]models.RoutingRule(nil), r.rules...)
}

// RoutingFile is the YAML root of a routing rules file.
type RoutingFile struct {
	Routes []models.RoutingRule `yaml:"routes"`
}

// LoadRoutingRules reads routing rules from path. A missing file yields no rules.
func LoadRoutingRules(path string) ([]models.RoutingRule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file RoutingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse routing rules: %w", err)
	}
	for _, rule := range file.Routes {
		if rule.ID == "" || rule.ContactGroup == "" {
			return nil, fmt.Errorf("routing rule %q requires id and contact_group", rule.ID)
		}
	}
	return file.Routes, nil
}

// cooldownFor resolves the cooldown of an alert: a per-class custom cooldown wins over
// a per-severity one, which wins over the global default.
func cooldownFor(cfg config.AlertingConfig, class string, severity models.Severity) time.Duration {
	if d, ok := cfg.CustomCooldowns[class]; ok && d > 0 {
		return d
	}
	if d, ok := cfg.CooldownBySeverity[severity]; ok && d > 0 {
		return d
	}
	if cfg.Cooldown > 0 {
		return cfg.Cooldown
	}
	return 5 * time.Minute
}
