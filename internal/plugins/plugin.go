package plugins

import (
	"time"

	"github.com/miradorstack/mirador-netops/internal/models"
)

// Parser turns raw command output into normalized metrics. Failures on individual
// variables are reported in the returned error while the other metrics are kept.
type Parser interface {
	Parse(result models.CollectResult, device models.Device, at time.Time) ([]models.Metric, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(result models.CollectResult, device models.Device, at time.Time) ([]models.Metric, error)

// Parse implements Parser.
func (f ParserFunc) Parse(result models.CollectResult, device models.Device, at time.Time) ([]models.Metric, error) {
	return f(result, device, at)
}

// Commands lists what to run on a device for a normal poll and for a deep audit.
type Commands struct {
	Normal []string `yaml:"normal" json:"normal"`
	Deep   []string `yaml:"deep" json:"deep,omitempty"`
}

// Plugin is the capability set registered for one device OS type.
type Plugin struct {
	OS       string
	Commands Commands
	Schema   VariableSchema
	Parser   Parser
}

// CommandsFor returns the commands to run on device. Deep audits add the deep set.
func (p Plugin) CommandsFor(device models.Device) []string {
	cmds := append([]string(nil), p.Commands.Normal...)
	if device.DeepAudit {
		cmds = append(cmds, p.Commands.Deep...)
	}
	return cmds
}
