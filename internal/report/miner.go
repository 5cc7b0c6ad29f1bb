package report

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// Store persists mined hotspots.
type Store interface {
	StoreHotspots(ctx context.Context, hotspots []models.Hotspot) error
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, hotspots []models.Hotspot) error

// StoreHotspots implements Store.
func (f StoreFunc) StoreHotspots(ctx context.Context, hotspots []models.Hotspot) error {
	return f(ctx, hotspots)
}

// Miner aggregates closed incidents into per-device hotspots.
type Miner struct {
	store  Store
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	logger = utils.Component(logger, "miner")
	return &Miner{store: store, logger: logger}
}

// Mine returns hotspots ordered by prevalence. Prevalence is the share of incidents a
// device took part in.
func (m *Miner) Mine(ctx context.Context, incidents []models.Incident) ([]models.Hotspot, error) {
	if len(incidents) == 0 {
		return nil, nil
	}

	stats := make(map[string]*deviceAggregate)
	for _, inc := range incidents {
		seen := inc.LastUpdate
		if inc.ClosedAt.After(seen) {
			seen = inc.ClosedAt
		}
		for _, device := range inc.DeviceIDs {
			agg := ensureAggregate(stats, device)
			agg.incidents++
			if device == inc.RootCauseDeviceID {
				agg.rootCauses++
			}
			for _, v := range inc.Variables {
				agg.variables[v]++
			}
			if seen.After(agg.lastSeen) {
				agg.lastSeen = seen
			}
		}
	}

	hotspots := make([]models.Hotspot, 0, len(stats))
	for device, agg := range stats {
		hotspots = append(hotspots, models.Hotspot{
			DeviceID:     device,
			Incidents:    agg.incidents,
			RootCauses:   agg.rootCauses,
			Prevalence:   float64(agg.incidents) / float64(len(incidents)),
			TopVariables: agg.topVariables(3),
			LastSeen:     agg.lastSeen,
		})
	}
	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Prevalence != hotspots[j].Prevalence {
			return hotspots[i].Prevalence > hotspots[j].Prevalence
		}
		if hotspots[i].RootCauses != hotspots[j].RootCauses {
			return hotspots[i].RootCauses > hotspots[j].RootCauses
		}
		return hotspots[i].DeviceID < hotspots[j].DeviceID
	})

	if m.store != nil {
		if err := m.store.StoreHotspots(ctx, hotspots); err != nil {
			m.logger.Warn("hotspot store failed", slog.Any("error", err))
		}
	}
	return hotspots, nil
}

type deviceAggregate struct {
	incidents  int
	rootCauses int
	lastSeen   time.Time
	variables  map[string]int
}

func ensureAggregate(m map[string]*deviceAggregate, device string) *deviceAggregate {
	if device == "" {
		device = "unknown"
	}
	agg, ok := m[device]
	if !ok {
		agg = &deviceAggregate{variables: make(map[string]int)}
		m[device] = agg
	}
	return agg
}

func (agg *deviceAggregate) topVariables(limit int) []string {
	vars := make([]string, 0, len(agg.variables))
	for v := range agg.variables {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool {
		if agg.variables[vars[i]] != agg.variables[vars[j]] {
			return agg.variables[vars[i]] > agg.variables[vars[j]]
		}
		return vars[i] < vars[j]
	})
	if len(vars) > limit {
		vars = vars[:limit]
	}
	return vars
}
