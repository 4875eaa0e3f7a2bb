// Package graph mirrors the interaction graph of a simulation into Neo4j:
// users, messages and the FOLLOWS, AUTHORED, LIKED and REPOSTED edges
// between them.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/platform"
	"github.com/nidhogg/agora/internal/timeutil"
)

// Graph writes platform events to Neo4j.
type Graph struct {
	driver neo4j.DriverWithContext
	runID  string
	logger *zap.Logger
}

// New connects to Neo4j. Nodes are scoped to runID so several runs can
// share a database.
func New(ctx context.Context, uri, user, password, runID string, logger *zap.Logger) (*Graph, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j: %w", err)
	}
	return &Graph{driver: driver, runID: runID, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) run(ctx context.Context, cypher string, params map[string]any) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)
	params["run"] = g.runID
	_, err := session.Run(ctx, cypher, params)
	return err
}

// SyncUsers merges every user node and its FOLLOWS edges.
func (g *Graph) SyncUsers(ctx context.Context, users []platform.User) error {
	rows := make([]map[string]any, 0, len(users))
	for _, u := range users {
		rows = append(rows, map[string]any{"id": u.ID, "following": u.Following})
	}
	err := g.run(ctx,
		`UNWIND $rows AS row
		 MERGE (u:User {run: $run, id: row.id})
		 WITH u, row
		 UNWIND row.following AS fid
		 MERGE (f:User {run: $run, id: fid})
		 MERGE (u)-[:FOLLOWS]->(f)`,
		map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("sync users: %w", err)
	}
	g.logger.Info("graph users synced", zap.Int("users", len(users)))
	return nil
}

// MessageCreated implements platform.Observer.
func (g *Graph) MessageCreated(ctx context.Context, m platform.Message) error {
	params := map[string]any{
		"user": m.AuthorID,
		"id":   m.ID,
		"type": m.Type,
		"at":   timeutil.Format(m.Timestamp),
	}
	cypher := `MERGE (u:User {run: $run, id: $user})
		 MERGE (m:Message {run: $run, id: $id})
		 SET m.type = $type, m.at = $at
		 MERGE (u)-[:AUTHORED]->(m)`
	if m.QuoteID != "" {
		params["origin"] = m.QuoteID
		cypher += `
		 MERGE (o:Message {run: $run, id: $origin})
		 MERGE (m)-[:QUOTES]->(o)
		 MERGE (u)-[r:REPOSTED]->(o)
		 SET r.at = $at`
	}
	if err := g.run(ctx, cypher, params); err != nil {
		return fmt.Errorf("graph message %s: %w", m.ID, err)
	}
	return nil
}

// ActLogged implements platform.Observer. Only likes add an edge; reposts
// arrive through MessageCreated.
func (g *Graph) ActLogged(ctx context.Context, e platform.LogEntry) error {
	if e.Act.Kind != act.KindLike || e.MessageID == "" {
		return nil
	}
	err := g.run(ctx,
		`MERGE (u:User {run: $run, id: $user})
		 MERGE (m:Message {run: $run, id: $id})
		 MERGE (u)-[r:LIKED]->(m)
		 SET r.at = $at`,
		map[string]any{"user": e.UserID, "id": e.MessageID, "at": timeutil.Format(e.Timestamp)})
	if err != nil {
		return fmt.Errorf("graph like: %w", err)
	}
	return nil
}

// CheckpointSaved implements platform.Observer.
func (g *Graph) CheckpointSaved(context.Context, time.Time, string) error { return nil }

// Influence counts engagement a user's messages received.
type Influence struct {
	UserID  string `json:"user_id"`
	Likes   int64  `json:"likes"`
	Reposts int64  `json:"reposts"`
}

// TopInfluencers returns users ordered by likes plus reposts received.
func (g *Graph) TopInfluencers(ctx context.Context, limit int) ([]Influence, error) {
	if limit <= 0 {
		limit = 10
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (u:User {run: $run})-[:AUTHORED]->(m:Message {run: $run})
		 WHERE m.type = 'post'
		 OPTIONAL MATCH (:User)-[l:LIKED]->(m)
		 WITH u, m, count(l) AS likes
		 OPTIONAL MATCH (:User)-[r:REPOSTED]->(m)
		 WITH u, m, likes, count(r) AS reposts
		 RETURN u.id AS id, sum(likes) AS likes, sum(reposts) AS reposts
		 ORDER BY likes + reposts DESC, id
		 LIMIT $limit`,
		map[string]any{"run": g.runID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("top influencers: %w", err)
	}

	var out []Influence
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		likes, _ := rec.Get("likes")
		reposts, _ := rec.Get("reposts")
		inf := Influence{}
		inf.UserID, _ = id.(string)
		inf.Likes, _ = likes.(int64)
		inf.Reposts, _ = reposts.(int64)
		out = append(out, inf)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("top influencers: %w", err)
	}
	return out, nil
}
