package repo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

const (
	dependencyQuery = `MATCH (d:Device)-[:DEPENDS_ON]->(u:Device)
RETURN u.id AS upstream, d.id AS downstream`

	syncDevicesQuery = `UNWIND $devices AS row
MERGE (d:Device {id: row.id})
SET d.host = row.host, d.os = row.os, d.tags = row.tags`

	syncEdgesQuery = `UNWIND $edges AS edge
MERGE (u:Device {id: edge.upstream})
MERGE (d:Device {id: edge.downstream})
MERGE (d)-[:DEPENDS_ON]->(u)`
)

// Neo4jGraph reads (:Device)-[:DEPENDS_ON]->(:Device) edges from Neo4j.
type Neo4jGraph struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewNeo4jGraph connects to Neo4j and verifies connectivity.
func NewNeo4jGraph(ctx context.Context, cfg config.GraphConfig, logger *slog.Logger) (*Neo4jGraph, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j graph provider requires a uri")
	}
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionLifetime = 5 * time.Minute
			c.MaxConnectionPoolSize = 10
			c.ConnectionAcquisitionTimeout = cfg.Timeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	verifyCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	logger.Info("neo4j graph provider connected", slog.String("uri", cfg.URI), slog.String("database", cfg.Database))
	return &Neo4jGraph{driver: driver, database: cfg.Database, timeout: cfg.Timeout, logger: logger}, nil
}

// Graph implements GraphProvider.
func (g *Neo4jGraph) Graph(ctx context.Context) (models.Adjacency, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: g.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, dependencyQuery, nil)
		if err != nil {
			return nil, err
		}
		var rows []edgeRow
		for result.Next(ctx) {
			rec := result.Record()
			up, _ := rec.Get("upstream")
			down, _ := rec.Get("downstream")
			rows = append(rows, edgeRow{upstream: up, downstream: down})
		}
		return rows, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("read dependency graph: %w", err)
	}
	rows, _ := res.([]edgeRow)
	return adjacencyFromRows(rows), nil
}

// SyncDevices writes the inventory and its dependency edges into Neo4j.
func (g *Neo4jGraph) SyncDevices(ctx context.Context, devices []models.Device) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: g.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, syncDevicesQuery, map[string]any{"devices": deviceParams(devices)}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx, syncEdgesQuery, map[string]any{"edges": edgeParams(models.AdjacencyFromDevices(devices))}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("sync devices to neo4j: %w", err)
	}
	g.logger.Info("inventory synced to neo4j", slog.Int("devices", len(devices)))
	return nil
}

// Close releases the driver.
func (g *Neo4jGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Neo4jGraph) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

type edgeRow struct {
	upstream   any
	downstream any
}

func adjacencyFromRows(rows []edgeRow) models.Adjacency {
	adj := make(models.Adjacency)
	for _, row := range rows {
		up, ok1 := row.upstream.(string)
		down, ok2 := row.downstream.(string)
		if !ok1 || !ok2 {
			continue
		}
		adj.Add(up, down)
	}
	return adj
}

func deviceParams(devices []models.Device) []map[string]any {
	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		tags := make([]any, 0, len(d.Tags))
		for _, t := range d.Tags {
			tags = append(tags, t)
		}
		out = append(out, map[string]any{
			"id":   d.ID,
			"host": d.Host,
			"os":   d.OS,
			"tags": tags,
		})
	}
	return out
}

func edgeParams(adj models.Adjacency) []map[string]any {
	var out []map[string]any
	for _, up := range sortedKeys(adj) {
		for _, down := range adj[up] {
			out = append(out, map[string]any{"upstream": up, "downstream": down})
		}
	}
	return out
}

func sortedKeys(adj models.Adjacency) []string {
	keys := make([]string, 0, len(adj))
	for k := range adj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
