package plugins

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-netops/internal/models"
)

// ErrUnknownOS is returned when neither the device OS nor the generic plugin is registered.
var ErrUnknownOS = errors.New("no plugin registered for device os")

// Registry resolves plugins by device OS type. Unknown OS types fall back to the generic
// plugin.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry returns a registry holding the built-in generic plugin.
func NewRegistry() *Registry {
	r := &Registry{plugins: make(map[string]Plugin)}
	_ = r.Register(GenericPlugin())
	return r
}

// GenericPlugin reads `show status`-style KEY=value output.
func GenericPlugin() Plugin {
	return Plugin{
		OS:       GenericOS,
		Commands: Commands{Normal: []string{"show status"}, Deep: []string{"show status detail"}},
		Schema:   VariableSchema{},
		Parser:   NewGenericParser(VariableSchema{}),
	}
}

// Register validates p's schema and stores it, replacing a plugin with the same OS.
func (r *Registry) Register(p Plugin) error {
	osType := strings.ToLower(strings.TrimSpace(p.OS))
	if osType == "" {
		return fmt.Errorf("plugin without os type")
	}
	if p.Schema == nil {
		p.Schema = VariableSchema{}
	}
	if err := p.Schema.Validate(); err != nil {
		return fmt.Errorf("plugin %s: %w", osType, err)
	}
	if p.Parser == nil {
		p.Parser = NewGenericParser(p.Schema)
	}
	p.OS = osType
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[osType] = p
	return nil
}

// Lookup returns the plugin for osType, or the generic plugin.
func (r *Registry) Lookup(osType string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.plugins[strings.ToLower(osType)]; ok {
		return p, nil
	}
	if p, ok := r.plugins[GenericOS]; ok {
		return p, nil
	}
	return Plugin{}, fmt.Errorf("%w: %s", ErrUnknownOS, osType)
}

// OSTypes lists registered OS types.
func (r *Registry) OSTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for osType := range r.plugins {
		out = append(out, osType)
	}
	sort.Strings(out)
	return out
}

// Schemas merges the schemas of every plugin. Later OS names win on conflicts.
func (r *Registry) Schemas() VariableSchema {
	merged := VariableSchema{}
	for _, osType := range r.OSTypes() {
		p, _ := r.Lookup(osType)
		for name, spec := range p.Schema {
			merged[name] = spec
		}
	}
	return merged
}

// Definition is the YAML form of a plugin.
type Definition struct {
	OS        string         `yaml:"os"`
	Commands  Commands       `yaml:"commands"`
	Variables VariableSchema `yaml:"variables"`
}

// LoadDir registers every *.yaml and *.yml plugin definition in dir. Definitions use the
// generic parser with their declared patterns.
func (r *Registry) LoadDir(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}
	var loaded []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		def, err := LoadDefinition(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, err
		}
		if err := r.Register(def.Plugin()); err != nil {
			return loaded, err
		}
		loaded = append(loaded, strings.ToLower(def.OS))
	}
	return loaded, nil
}

// LoadDefinition parses one plugin definition file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read plugin %s: %w", path, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse plugin %s: %w", path, err)
	}
	if def.OS == "" {
		def.OS = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}

// Plugin converts the definition. The schema is validated on registration.
func (d Definition) Plugin() Plugin {
	schema := d.Variables
	if schema == nil {
		schema = VariableSchema{}
	}
	return Plugin{
		OS:       d.OS,
		Commands: d.Commands,
		Schema:   schema,
	}
}

// CommandsFor resolves the commands for device through its OS plugin.
func (r *Registry) CommandsFor(device models.Device) ([]string, error) {
	p, err := r.Lookup(device.OS)
	if err != nil {
		return nil, err
	}
	return p.CommandsFor(device), nil
}
