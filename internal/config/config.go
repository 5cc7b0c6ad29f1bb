package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// Config captures every setting required to boot the netops engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Collector   CollectorConfig   `yaml:"collector"`
	Inventory   InventoryConfig   `yaml:"inventory"`
	Plugins     PluginsConfig     `yaml:"plugins"`
	Detectors   DetectorsConfig   `yaml:"detectors"`
	Health      HealthConfig      `yaml:"health"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Notify      NotifyConfig      `yaml:"notify"`
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Graph       GraphConfig       `yaml:"graph"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PipelineConfig controls per-run orchestration.
type PipelineConfig struct {
	SkipStages    []string      `yaml:"skipStages"`
	RunTimeout    time.Duration `yaml:"runTimeout"`
	ReportTimeout time.Duration `yaml:"reportTimeout"`
	IOTruncate    int           `yaml:"ioTruncate"`
	ReportDir     string        `yaml:"reportDir"`
}

// SchedulerConfig controls the worker pool and polling cadence.
type SchedulerConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Adaptive     bool          `yaml:"adaptive"`
	MinInterval  time.Duration `yaml:"minInterval"`
	MaxInterval  time.Duration `yaml:"maxInterval"`
	RunTimeout   time.Duration `yaml:"runTimeout"`
	Breaker      BreakerConfig `yaml:"breaker"`
	OfflineAfter int           `yaml:"offlineAfter"`
}

// BreakerConfig controls the per-device circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failureThreshold"`
	Recovery         time.Duration `yaml:"recovery"`
	HalfOpenMaxCalls uint32        `yaml:"halfOpenMaxCalls"`
}

// CollectorConfig controls remote command execution.
type CollectorConfig struct {
	ConnectTimeout        time.Duration          `yaml:"connectTimeout"`
	CommandTimeout        time.Duration          `yaml:"commandTimeout"`
	MaxConcurrentCommands int                    `yaml:"maxConcurrentCommands"`
	Retries               RetryConfig            `yaml:"retries"`
	KnownHostsPath        string                 `yaml:"knownHostsPath"`
	InsecureIgnoreHostKey bool                   `yaml:"insecureIgnoreHostKey"`
	Credentials           map[string]Credentials `yaml:"credentials"`
}

// Credentials is a username/password pair referenced by devices.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RetryConfig describes exponential backoff.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	BaseDelay  time.Duration `yaml:"baseDelay"`
	MaxDelay   time.Duration `yaml:"maxDelay"`
	Multiplier float64       `yaml:"multiplier"`
}

// InventoryConfig lists devices inline or from a YAML file.
type InventoryConfig struct {
	Path    string          `yaml:"path"`
	Devices []models.Device `yaml:"devices"`
}

// PluginsConfig points at additional plugin definitions.
type PluginsConfig struct {
	Dir string `yaml:"dir"`
}

// ThresholdLevels holds warning and critical bounds. A nil bound is unset; zero is
// a real bound.
type ThresholdLevels struct {
	Warning  *float64 `yaml:"warning"`
	Critical *float64 `yaml:"critical"`
}

// Levels returns ThresholdLevels with both bounds set.
func Levels(warning, critical float64) ThresholdLevels {
	return ThresholdLevels{Warning: Bound(warning), Critical: Bound(critical)}
}

// Bound returns a set bound of v.
func Bound(v float64) *float64 { return &v }

// Empty reports whether neither bound is set.
func (l ThresholdLevels) Empty() bool { return l.Warning == nil && l.Critical == nil }

func (l ThresholdLevels) validate() error {
	if l.Warning != nil && l.Critical != nil && *l.Warning > *l.Critical {
		return errors.New("warning above critical")
	}
	return nil
}

// ThresholdConfig is a per-variable threshold with optional tag overrides.
type ThresholdConfig struct {
	ThresholdLevels `yaml:",inline"`
	Class           string                     `yaml:"class"`
	TagOverrides    map[string]ThresholdLevels `yaml:"tagOverrides"`
}

// AnomalyConfig controls the statistical anomaly detector.
type AnomalyConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Method            string   `yaml:"method"`
	Threshold         float64  `yaml:"threshold"`
	CriticalFactor    float64  `yaml:"criticalFactor"`
	MinBaselinePoints int      `yaml:"minBaselinePoints"`
	EWMAAlpha         float64  `yaml:"ewmaAlpha"`
	Variables         []string `yaml:"variables"`
}

// TrendConfig controls time-to-threshold forecasting.
type TrendConfig struct {
	Enabled         bool               `yaml:"enabled"`
	MinPoints       int                `yaml:"minPoints"`
	Horizon         time.Duration      `yaml:"horizon"`
	CriticalHorizon time.Duration      `yaml:"criticalHorizon"`
	Targets         map[string]float64 `yaml:"targets"`
}

// FlapConfig controls state-transition counting.
type FlapConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Threshold       int           `yaml:"threshold"`
	CriticalFactor  int           `yaml:"criticalFactor"`
	Window          time.Duration `yaml:"window"`
	StabilityPeriod time.Duration `yaml:"stabilityPeriod"`
	HistoryLimit    int           `yaml:"historyLimit"`
	Variables       []string      `yaml:"variables"`
}

// InterfaceErrorConfig controls counter-delta checks on interfaces.
type InterfaceErrorConfig struct {
	Enabled          bool     `yaml:"enabled"`
	CRCWarning       float64  `yaml:"crcWarning"`
	CRCCritical      float64  `yaml:"crcCritical"`
	ErrorWarning     float64  `yaml:"errorWarning"`
	ErrorCritical    float64  `yaml:"errorCritical"`
	ErrorRateWarning float64  `yaml:"errorRateWarning"`
	CRCVariables     []string `yaml:"crcVariables"`
	ErrorVariables   []string `yaml:"errorVariables"`
	RateVariables    []string `yaml:"rateVariables"`
}

// RoutingConfig controls route-churn and neighbor-flap checks.
type RoutingConfig struct {
	Enabled           bool     `yaml:"enabled"`
	ChurnWarning      float64  `yaml:"churnWarning"`
	ChurnCritical     float64  `yaml:"churnCritical"`
	Quantum           float64  `yaml:"quantum"`
	RouteVariables    []string `yaml:"routeVariables"`
	NeighborVariables []string `yaml:"neighborVariables"`
}

// DetectorsConfig groups detector settings.
type DetectorsConfig struct {
	WindowSize      int                        `yaml:"windowSize"`
	ArenaCapacity   int                        `yaml:"arenaCapacity"`
	Parallelism     int                        `yaml:"parallelism"`
	Thresholds      map[string]ThresholdConfig `yaml:"thresholds"`
	Anomaly         AnomalyConfig              `yaml:"anomaly"`
	Trend           TrendConfig                `yaml:"trend"`
	Flap            FlapConfig                 `yaml:"flap"`
	InterfaceErrors InterfaceErrorConfig       `yaml:"interfaceErrors"`
	Routing         RoutingConfig              `yaml:"routing"`
}

// HealthVariable describes how one variable contributes to the health score.
type HealthVariable struct {
	Weight   float64  `yaml:"weight"`
	Ideal    float64  `yaml:"ideal"`
	Worst    float64  `yaml:"worst"`
	OKStates []string `yaml:"okStates"`
}

// HealthConfig controls the health scorer.
type HealthConfig struct {
	Variables      map[string]HealthVariable `yaml:"variables"`
	HealthyAbove   float64                   `yaml:"healthyAbove"`
	WarningAbove   float64                   `yaml:"warningAbove"`
	FindingPenalty bool                      `yaml:"findingPenalty"`
}

// CorrelationConfig controls incident formation.
type CorrelationConfig struct {
	Window        time.Duration            `yaml:"window"`
	MaxHops       int                      `yaml:"maxHops"`
	MinConfidence float64                  `yaml:"minConfidence"`
	Budget        time.Duration            `yaml:"budget"`
	ClosedLimit   int                      `yaml:"closedLimit"`
	Rules         []models.CorrelationRule `yaml:"rules"`
}

// DeliveryConfig controls outbound notification retries and rate limits.
type DeliveryConfig struct {
	Retry         RetryConfig        `yaml:"retry"`
	Timeout       time.Duration      `yaml:"timeout"`
	RatePerSecond map[string]float64 `yaml:"ratePerSecond"`
	Burst         int                `yaml:"burst"`
}

// AlertingConfig controls dedup, suppression, routing and escalation.
type AlertingConfig struct {
	Cooldown           time.Duration                     `yaml:"cooldown"`
	CooldownBySeverity map[models.Severity]time.Duration `yaml:"cooldownBySeverity"`
	CustomCooldowns    map[string]time.Duration          `yaml:"customCooldowns"`
	CriticalAfterN     int                               `yaml:"criticalAfterN"`
	AutoResolveAfter   time.Duration                     `yaml:"autoResolveAfter"`
	EscalationTick     time.Duration                     `yaml:"escalationTick"`
	Silences           []models.Silence                  `yaml:"silences"`
	Maintenance        []models.MaintenanceWindow        `yaml:"maintenance"`
	RoutesPath         string                            `yaml:"routesPath"`
	Routes             []models.RoutingRule              `yaml:"routes"`
	DefaultRoute       models.RoutingDecision            `yaml:"defaultRoute"`
	Escalation         []models.EscalationPolicy         `yaml:"escalation"`
	Delivery           DeliveryConfig                    `yaml:"delivery"`
}

// NotifyConfig configures notification channels.
type NotifyConfig struct {
	Webhooks map[string]string `yaml:"webhooks"`
	Timeout  time.Duration     `yaml:"timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver    string          `yaml:"driver"`
	Path      string          `yaml:"path"`
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig bounds how long stored records are kept. A zero age keeps a record
// type forever. Only resolved or suppressed alerts are pruned.
type RetentionConfig struct {
	Metrics  time.Duration `yaml:"metrics"`
	Runs     time.Duration `yaml:"runs"`
	Alerts   time.Duration `yaml:"alerts"`
	Interval time.Duration `yaml:"interval"`
}

// CacheConfig controls the Redis-backed shared cooldown store.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

// GraphConfig selects the dependency graph provider.
type GraphConfig struct {
	Provider        string        `yaml:"provider"`
	URI             string        `yaml:"uri"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	Timeout         time.Duration `yaml:"timeout"`
	SyncInventory   bool          `yaml:"syncInventory"`
}

// TracingConfig controls OpenTelemetry spans.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"serviceName"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_NETOPS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Inventory.Path != "" {
		devices, err := LoadDevices(cfg.Inventory.Path)
		if err != nil {
			return nil, err
		}
		cfg.Inventory.Devices = append(cfg.Inventory.Devices, devices...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDevices reads a YAML inventory file holding a top-level devices list.
func LoadDevices(path string) ([]models.Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	var file struct {
		Devices []models.Device `yaml:"devices"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	return file.Devices, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := utils.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Inventory.Devices))
	for _, dev := range c.Inventory.Devices {
		if dev.ID == "" {
			return fmt.Errorf("inventory: device without id")
		}
		if _, dup := seen[dev.ID]; dup {
			return fmt.Errorf("inventory: duplicate device id %q", dev.ID)
		}
		seen[dev.ID] = struct{}{}
	}
	for _, name := range c.Pipeline.SkipStages {
		if _, ok := models.ParseStage(name); !ok {
			return fmt.Errorf("pipeline: unknown stage %q in skipStages", name)
		}
	}
	for _, w := range c.Alerting.Maintenance {
		if w.Start.IsZero() || w.End.IsZero() {
			return fmt.Errorf("alerting: maintenance window %q requires start and end", w.ID)
		}
		if !w.End.After(w.Start) {
			return fmt.Errorf("alerting: maintenance window %q ends before it starts", w.ID)
		}
	}
	for name, th := range c.Detectors.Thresholds {
		if err := th.validate(); err != nil {
			return fmt.Errorf("detectors: threshold %q: %w", name, err)
		}
		for tag, override := range th.TagOverrides {
			if err := override.validate(); err != nil {
				return fmt.Errorf("detectors: threshold %q override %q: %w", name, tag, err)
			}
		}
	}
	switch strings.ToLower(c.Detectors.Anomaly.Method) {
	case "", "zscore", "mad", "iqr", "ewma":
	default:
		return fmt.Errorf("detectors: unknown anomaly method %q", c.Detectors.Anomaly.Method)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Pipeline: PipelineConfig{
			RunTimeout:    2 * time.Minute,
			ReportTimeout: 10 * time.Second,
			IOTruncate:    2048,
		},
		Scheduler: SchedulerConfig{
			Workers:      10,
			PollInterval: 60 * time.Second,
			MinInterval:  10 * time.Second,
			MaxInterval:  time.Hour,
			RunTimeout:   3 * time.Minute,
			OfflineAfter: 3,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Recovery:         30 * time.Second,
				HalfOpenMaxCalls: 3,
			},
		},
		Collector: CollectorConfig{
			ConnectTimeout:        10 * time.Second,
			CommandTimeout:        30 * time.Second,
			MaxConcurrentCommands: 4,
			Retries: RetryConfig{
				Attempts:   2,
				BaseDelay:  500 * time.Millisecond,
				MaxDelay:   5 * time.Second,
				Multiplier: 2,
			},
		},
		Detectors: DetectorsConfig{
			WindowSize:    120,
			ArenaCapacity: 10000,
			Thresholds: map[string]ThresholdConfig{
				"cpu_usage":    {ThresholdLevels: Levels(75, 90), Class: "high_cpu"},
				"memory_usage": {ThresholdLevels: Levels(80, 95), Class: "high_memory"},
				"disk_usage":   {ThresholdLevels: Levels(85, 95), Class: "disk_full"},
			},
			Anomaly: AnomalyConfig{
				Enabled:           true,
				Method:            "zscore",
				Threshold:         3.0,
				CriticalFactor:    1.5,
				MinBaselinePoints: 10,
				EWMAAlpha:         0.3,
			},
			Trend: TrendConfig{
				Enabled:         true,
				MinPoints:       10,
				Horizon:         24 * time.Hour,
				CriticalHorizon: time.Hour,
			},
			Flap: FlapConfig{
				Enabled:         true,
				Threshold:       3,
				CriticalFactor:  2,
				Window:          5 * time.Minute,
				StabilityPeriod: 10 * time.Minute,
				HistoryLimit:    100,
			},
			InterfaceErrors: InterfaceErrorConfig{
				Enabled:          true,
				CRCWarning:       10,
				CRCCritical:      100,
				ErrorWarning:     50,
				ErrorCritical:    500,
				ErrorRateWarning: 1.0,
				CRCVariables:     []string{"crc_errors"},
				ErrorVariables:   []string{"input_errors", "output_errors"},
				RateVariables:    []string{"error_rate"},
			},
			Routing: RoutingConfig{
				Enabled:           true,
				ChurnWarning:      50,
				ChurnCritical:     500,
				Quantum:           100,
				RouteVariables:    []string{"route_count"},
				NeighborVariables: []string{"bgp_neighbor_state", "ospf_neighbor_state"},
			},
		},
		Health: HealthConfig{
			Variables: map[string]HealthVariable{
				"cpu_usage":       {Weight: 0.25, Ideal: 0, Worst: 100},
				"memory_usage":    {Weight: 0.20, Ideal: 0, Worst: 100},
				"disk_usage":      {Weight: 0.20, Ideal: 0, Worst: 100},
				"error_rate":      {Weight: 0.15, Ideal: 0, Worst: 5},
				"hardware_status": {Weight: 0.10, OKStates: []string{"ok", "normal"}},
				"uptime":          {Weight: 0.10, Ideal: 86400, Worst: 0},
			},
			HealthyAbove:   90,
			WarningAbove:   70,
			FindingPenalty: true,
		},
		Correlation: CorrelationConfig{
			Window:        5 * time.Minute,
			MaxHops:       3,
			MinConfidence: 0.7,
			Budget:        2 * time.Second,
			ClosedLimit:   1000,
		},
		Alerting: AlertingConfig{
			Cooldown: 5 * time.Minute,
			CustomCooldowns: map[string]time.Duration{
				"device_offline": time.Minute,
				"interface_down": 3 * time.Minute,
				"high_cpu":       5 * time.Minute,
				"disk_full":      time.Minute,
				"bgp_flap":       time.Minute,
			},
			EscalationTick: 30 * time.Second,
			DefaultRoute: models.RoutingDecision{
				RuleID:       "default",
				ContactGroup: "default",
				Channels:     []string{"log"},
			},
			Delivery: DeliveryConfig{
				Retry: RetryConfig{
					Attempts:   3,
					BaseDelay:  time.Second,
					MaxDelay:   time.Minute,
					Multiplier: 2,
				},
				Timeout: 10 * time.Second,
				Burst:   5,
			},
		},
		Notify: NotifyConfig{Timeout: 5 * time.Second},
		Store: StoreConfig{
			Driver: "memory",
			Retention: RetentionConfig{
				Metrics:  30 * 24 * time.Hour,
				Runs:     30 * 24 * time.Hour,
				Alerts:   180 * 24 * time.Hour,
				Interval: time.Hour,
			},
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			KeyPrefix:    "mirador-netops:",
		},
		Graph: GraphConfig{
			Provider:        "static",
			Database:        "neo4j",
			RefreshInterval: 5 * time.Minute,
			Timeout:         5 * time.Second,
		},
		Tracing: TracingConfig{Enabled: false, Exporter: "stdout", ServiceName: "mirador-netops"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_NETOPS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_NETOPS_INVENTORY"); v != "" {
		cfg.Inventory.Path = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_PLUGINS_DIR"); v != "" {
		cfg.Plugins.Dir = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("MIRADOR_NETOPS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.PollInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_NETOPS_ADAPTIVE_POLLING"); v != "" {
		cfg.Scheduler.Adaptive = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MIRADOR_NETOPS_RUN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.RunTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_NETOPS_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerting.Cooldown = d
		}
	}
	if v := os.Getenv("MIRADOR_NETOPS_ROUTES_PATH"); v != "" {
		cfg.Alerting.RoutesPath = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_NETOPS_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_NETOPS_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_NETOPS_GRAPH_PROVIDER"); v != "" {
		cfg.Graph.Provider = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_NEO4J_URI"); v != "" {
		cfg.Graph.URI = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_NEO4J_USERNAME"); v != "" {
		cfg.Graph.Username = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_NEO4J_PASSWORD"); v != "" {
		cfg.Graph.Password = v
	}
	if v := os.Getenv("MIRADOR_NETOPS_TRACING"); v != "" {
		cfg.Tracing.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
}
