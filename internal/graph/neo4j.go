package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/pastoralscape/internal/sim"
)

// Exporter writes household networks to Neo4j.
type Exporter struct {
	driver neo4j.DriverWithContext
	weight float64
	logger *zap.Logger
}

// NewExporter creates a Neo4j-backed exporter. weight is the tie weight
// used for every household pair.
func NewExporter(uri, user, password string, weight float64, logger *zap.Logger) (*Exporter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Exporter{driver: driver, weight: weight, logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (e *Exporter) Ping(ctx context.Context) error {
	return e.driver.VerifyConnectivity(ctx)
}

// Close shuts down the Neo4j driver.
func (e *Exporter) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}

// Export merges the run's households, ties and final vaccination status.
// Re-exporting a run overwrites its properties.
func (e *Exporter) Export(ctx context.Context, out *sim.Output) error {
	n := BuildNetwork(out, e.weight)

	households := make([]map[string]interface{}, 0, len(n.Households))
	var statuses []map[string]interface{}
	for _, h := range n.Households {
		households = append(households, map[string]interface{}{
			"id":     int64(h.ID),
			"lambda": h.Lambda,
			"herds":  int64(h.Herds),
		})
		for topic, status := range h.Status {
			statuses = append(statuses, map[string]interface{}{
				"id":           int64(h.ID),
				"topic":        topic,
				"status":       status,
				"vaccinations": int64(h.Vaccinations[topic]),
			})
		}
	}
	ties := make([]map[string]interface{}, 0, len(n.Ties))
	for _, t := range n.Ties {
		ties = append(ties, map[string]interface{}{
			"from":   int64(t.From),
			"to":     int64(t.To),
			"weight": t.Weight,
		})
	}

	session := e.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		if _, err := tx.Run(ctx,
			`MERGE (r:Run {id: $run})
			 SET r.exported_at = datetime()
			 WITH r
			 UNWIND $households AS h
			 MERGE (x:Household {run: $run, id: h.id})
			 SET x.lambda = h.lambda, x.herds = h.herds
			 MERGE (x)-[:IN_RUN]->(r)`,
			map[string]interface{}{"run": n.RunID, "households": households}); err != nil {
			return nil, fmt.Errorf("merge households: %w", err)
		}
		if _, err := tx.Run(ctx,
			`UNWIND $ties AS t
			 MATCH (a:Household {run: $run, id: t.from}), (b:Household {run: $run, id: t.to})
			 MERGE (a)-[k:KNOWS]->(b)
			 SET k.weight = t.weight`,
			map[string]interface{}{"run": n.RunID, "ties": ties}); err != nil {
			return nil, fmt.Errorf("merge ties: %w", err)
		}
		if _, err := tx.Run(ctx,
			`UNWIND $statuses AS s
			 MATCH (x:Household {run: $run, id: s.id})
			 MERGE (v:Vaccine {name: s.topic})
			 MERGE (x)-[a:ADOPTION]->(v)
			 SET a.status = s.status, a.vaccinations = s.vaccinations`,
			map[string]interface{}{"run": n.RunID, "statuses": statuses}); err != nil {
			return nil, fmt.Errorf("merge adoption: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("export network %s: %w", n.RunID, err)
	}

	e.logger.Info("exported household network",
		zap.String("run", n.RunID),
		zap.Int("households", len(n.Households)),
		zap.Int("ties", len(n.Ties)))
	return nil
}

// Neighbours returns the household ids tied to agentID in a run.
func (e *Exporter) Neighbours(ctx context.Context, runID string, agentID int) ([]int, error) {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Household {run: $run, id: $id})-[:KNOWS]-(b:Household)
		 RETURN b.id ORDER BY b.id`,
		map[string]interface{}{"run": runID, "id": int64(agentID)})
	if err != nil {
		return nil, fmt.Errorf("get neighbours: %w", err)
	}

	var ids []int
	for result.Next(ctx) {
		v, _ := result.Record().Get("b.id")
		if id, ok := v.(int64); ok {
			ids = append(ids, int(id))
		}
	}
	return ids, result.Err()
}

// Adoption returns, per topic, how many households of a run ended in each
// status.
func (e *Exporter) Adoption(ctx context.Context, runID string) (map[string]map[string]int, error) {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (x:Household {run: $run})-[a:ADOPTION]->(v:Vaccine)
		 RETURN v.name, a.status, count(x)`,
		map[string]interface{}{"run": runID})
	if err != nil {
		return nil, fmt.Errorf("get adoption: %w", err)
	}

	out := make(map[string]map[string]int)
	for result.Next(ctx) {
		rec := result.Record()
		topic, _ := rec.Get("v.name")
		status, _ := rec.Get("a.status")
		count, _ := rec.Get("count(x)")
		t, _ := topic.(string)
		s, _ := status.(string)
		c, _ := count.(int64)
		if out[t] == nil {
			out[t] = make(map[string]int)
		}
		out[t][s] = int(c)
	}
	return out, result.Err()
}
