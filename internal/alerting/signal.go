package alerting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/mirador-netops/internal/models"
)

// Fingerprint is the stable dedup key of (device, variable, class). The device id is
// part of the key so identical conditions on different devices never collide.
func Fingerprint(deviceID, variable, class string) string {
	sum := sha256.Sum256([]byte(deviceID + "|" + variable + "|" + class))
	return hex.EncodeToString(sum[:16])
}

// Signal is a finding or incident presented to the alerting engine. Key, when set,
// replaces (device, variable, class) as the dedup identity.
type Signal struct {
	Source    models.SourceKind
	SourceID  string
	Key       string
	DeviceID  string
	Variable  string
	Class     string
	Severity  models.Severity
	Message   string
	Tags      []string
	Timestamp time.Time
}

// FromFinding wraps a finding; tags are the device tags used by silences and routing.
func FromFinding(f models.Finding, tags []string) Signal {
	return Signal{
		Source:    models.SourceFinding,
		SourceID:  f.ID,
		DeviceID:  f.DeviceID,
		Variable:  f.Key(),
		Class:     f.Class,
		Severity:  f.Severity,
		Message:   f.Message,
		Tags:      tags,
		Timestamp: f.Timestamp,
	}
}

// FromIncident wraps an incident. The dedup key is the incident id: members, variables,
// rule and root cause may all change while the incident stays open.
func FromIncident(inc models.Incident, tags []string) Signal {
	device := inc.RootCauseDeviceID
	if device == "" && len(inc.DeviceIDs) > 0 {
		device = inc.DeviceIDs[0]
	}
	return Signal{
		Source:   models.SourceIncident,
		SourceID: inc.ID,
		Key:      inc.ID,
		DeviceID: device,
		Variable: strings.Join(inc.Variables, ","),
		Class:    "incident_" + inc.RuleID,
		Severity: inc.Severity,
		Message: fmt.Sprintf("incident %s: %d findings on %s, root cause %s",
			inc.ID, len(inc.FindingIDs), strings.Join(inc.DeviceIDs, ","), device),
		Tags:      tags,
		Timestamp: inc.LastUpdate,
	}
}

// Fingerprint returns the dedup key of s.
func (s Signal) Fingerprint() string {
	if s.Key != "" {
		return Fingerprint(s.Key, string(s.Source), "key")
	}
	return Fingerprint(s.DeviceID, s.Variable, s.Class)
}

// BaseVariable strips the label subject, e.g. "crc_errors{interface=Gi0/1}" -> "crc_errors".
func (s Signal) BaseVariable() string {
	if idx := strings.IndexByte(s.Variable, '{'); idx > 0 {
		return s.Variable[:idx]
	}
	return s.Variable
}

// matchesVariable accepts either the bare or the subject-qualified variable name.
func (s Signal) matchesVariable(names []string) bool {
	if len(names) == 0 {
		return true
	}
	base := s.BaseVariable()
	for _, name := range names {
		if strings.EqualFold(name, s.Variable) || strings.EqualFold(name, base) {
			return true
		}
		for _, part := range strings.Split(s.Variable, ",") {
			if strings.EqualFold(name, part) {
				return true
			}
		}
	}
	return false
}

func (s Signal) matchesTags(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		if models.ContainsFold(s.Tags, want) {
			return true
		}
	}
	return false
}

func matchesDevice(devices []string, id string) bool {
	return len(devices) == 0 || models.ContainsFold(devices, id)
}

func matchesSeverity(severities []models.Severity, sev models.Severity) bool {
	return len(severities) == 0 || models.ContainsSeverity(severities, sev)
}
