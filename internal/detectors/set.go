package detectors

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// Set runs every enabled detector over the series observed for a device.
type Set struct {
	detectors   []Detector
	arena       *WindowArena
	parallelism int
	logger      *slog.Logger
}

// NewSet builds the enabled detectors and the rolling window arena they read from.
func NewSet(cfg config.DetectorsConfig, logger *slog.Logger) (*Set, error) {
	logger = utils.Component(logger, "detectors")
	arena, err := NewWindowArena(cfg.ArenaCapacity, cfg.WindowSize)
	if err != nil {
		return nil, err
	}

	detectors := []Detector{NewThresholdDetector(cfg.Thresholds)}
	if cfg.Anomaly.Enabled {
		detectors = append(detectors, NewAnomalyDetector(cfg.Anomaly))
	}
	if cfg.Trend.Enabled {
		detectors = append(detectors, NewTrendDetector(cfg.Trend, cfg.Thresholds))
	}
	if cfg.Flap.Enabled {
		var exclude []string
		if cfg.Routing.Enabled {
			exclude = cfg.Routing.NeighborVariables
		}
		detectors = append(detectors, NewFlapDetector(cfg.Flap, exclude))
	}
	if cfg.InterfaceErrors.Enabled {
		detectors = append(detectors, NewInterfaceErrorDetector(cfg.InterfaceErrors))
	}
	if cfg.Routing.Enabled {
		detectors = append(detectors, NewRoutingDetector(cfg.Routing, cfg.Flap))
	}

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Set{detectors: detectors, arena: arena, parallelism: parallelism, logger: logger}, nil
}

// NewSetWith wraps explicit detectors, mainly for tests.
func NewSetWith(arena *WindowArena, logger *slog.Logger, detectors ...Detector) *Set {
	logger = utils.Component(logger, "detectors")
	return &Set{detectors: detectors, arena: arena, parallelism: 4, logger: logger}
}

// Detectors lists the active detectors.
func (s *Set) Detectors() []Detector {
	return append([]Detector(nil), s.detectors...)
}

// Arena exposes the rolling window storage.
func (s *Set) Arena() *WindowArena { return s.arena }

// Analyze feeds metrics into their rolling windows and runs every detector on the result.
func (s *Set) Analyze(ctx context.Context, device models.Device, metrics []models.Metric) ([]models.Finding, []error) {
	if s.arena == nil {
		return nil, []error{utils.Errorf(utils.KindDetector, "detector set has no window arena")}
	}
	latest := make(map[string]Series, len(metrics))
	order := make([]string, 0, len(metrics))
	for _, m := range metrics {
		series := s.arena.Observe(m, device.Tags)
		key := series.Key()
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = series
	}
	series := make([]Series, 0, len(order))
	for _, key := range order {
		series = append(series, latest[key])
	}
	return s.Run(ctx, series)
}

// Run evaluates every detector against every series. One detector failing on one
// series never prevents the others from running; failures come back as errors.
func (s *Set) Run(ctx context.Context, series []Series) ([]models.Finding, []error) {
	var (
		mu       sync.Mutex
		findings []models.Finding
		errs     []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, sr := range series {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			for _, det := range s.detectors {
				out, err := s.detect(det, sr)
				mu.Lock()
				if err != nil {
					errs = append(errs, utils.WithKind(utils.KindDetector,
						fmt.Errorf("%s on %s/%s: %w", det.Kind(), sr.DeviceID, sr.Key(), err)))
				}
				findings = append(findings, out...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, utils.WithKind(utils.KindTimeout, err))
	}

	SortFindings(findings)
	for _, err := range errs {
		s.logger.Warn("detector failed", slog.Any("error", err))
	}
	return findings, errs
}

func (s *Set) detect(det Detector, series Series) (out []models.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return det.Detect(series)
}

// SortFindings orders findings deterministically: by time, device, variable, detector, class.
func SortFindings(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		if a.Key() != b.Key() {
			return a.Key() < b.Key()
		}
		if a.Detector != b.Detector {
			return a.Detector < b.Detector
		}
		return a.Class < b.Class
	})
}
