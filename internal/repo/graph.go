package repo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-netops/internal/cache"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// GraphProvider returns the current device dependency adjacency.
type GraphProvider interface {
	Graph(ctx context.Context) (models.Adjacency, error)
}

// StaticGraph serves adjacency derived from the device inventory.
type StaticGraph struct {
	mu  sync.RWMutex
	adj models.Adjacency
}

// NewStaticGraph derives edges from the depends_on and downstream fields of devices.
func NewStaticGraph(devices []models.Device) *StaticGraph {
	return &StaticGraph{adj: models.AdjacencyFromDevices(devices)}
}

// Graph implements GraphProvider.
func (g *StaticGraph) Graph(context.Context) (models.Adjacency, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyAdjacency(g.adj), nil
}

// Replace swaps the served adjacency, e.g. after an inventory reload.
func (g *StaticGraph) Replace(adj models.Adjacency) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adj = copyAdjacency(adj)
}

// CachedGraph is a read-through cache in front of a slower provider. On provider
// failure the last good adjacency is served.
type CachedGraph struct {
	source GraphProvider
	cache  cache.Provider
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	lastGood models.Adjacency
}

var graphCacheKey = cache.Graphs.Key("adjacency")

// NewCachedGraph wraps source. A nil cache stores nothing and always hits the source.
func NewCachedGraph(source GraphProvider, c cache.Provider, ttl time.Duration, logger *slog.Logger) *CachedGraph {
	if c == nil {
		c = cache.Disabled{}
	}
	return &CachedGraph{source: source, cache: c, ttl: ttl, logger: utils.Component(logger, "graph")}
}

// Graph implements GraphProvider.
func (g *CachedGraph) Graph(ctx context.Context) (models.Adjacency, error) {
	if g.ttl > 0 {
		if cached, err := cache.GetJSON[models.Adjacency](ctx, g.cache, graphCacheKey); err == nil {
			return cached, nil
		}
	}

	adj, err := g.source.Graph(ctx)
	if err != nil {
		g.mu.Lock()
		last := g.lastGood
		g.mu.Unlock()
		if last != nil {
			g.logger.Warn("dependency graph refresh failed, serving last known graph", slog.Any("error", err))
			return copyAdjacency(last), nil
		}
		return nil, err
	}

	g.mu.Lock()
	g.lastGood = copyAdjacency(adj)
	g.mu.Unlock()

	if g.ttl > 0 {
		if err := cache.SetJSON(ctx, g.cache, graphCacheKey, adj, g.ttl); err != nil {
			g.logger.Debug("dependency graph not cached", slog.Any("error", err))
		}
	}
	return adj, nil
}

func copyAdjacency(adj models.Adjacency) models.Adjacency {
	out := make(models.Adjacency, len(adj))
	for up, downs := range adj {
		out[up] = append([]string(nil), downs...)
	}
	return out
}
