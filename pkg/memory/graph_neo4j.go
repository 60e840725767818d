package memory

import (
	"context"

	"github.com/mnemora/mnemora-core/pkg/clients/neo4j"
	"github.com/mnemora/mnemora-core/pkg/models"
)

// Cypher statements for the memory graph. The shape is deliberately small:
// (:User)-[:REMEMBERS]->(:Memory) and, when the memory came out of a
// conversation, (:Session)-[:PRODUCED]->(:Memory) plus
// (:User)-[:PARTICIPATED_IN]->(:Session).
const (
	cypherRelateMemory = `
		MERGE (u:User {id: $user_id})
		MERGE (m:Memory {id: $memory_id})
		SET m.kind = $kind
		MERGE (u)-[:REMEMBERS]->(m)`

	cypherRelateSession = `
		MERGE (u:User {id: $user_id})
		MERGE (s:Session {id: $session_id})
		MERGE (m:Memory {id: $memory_id})
		SET m.kind = $kind
		MERGE (u)-[:REMEMBERS]->(m)
		MERGE (u)-[:PARTICIPATED_IN]->(s)
		MERGE (s)-[:PRODUCED]->(m)`

	cypherDetachMemories = `
		MATCH (u:User {id: $user_id})-[:REMEMBERS]->(m:Memory)
		WHERE m.id IN $memory_ids
		DETACH DELETE m`

	cypherDetachUser = `
		MATCH (u:User {id: $user_id})
		OPTIONAL MATCH (u)-[:REMEMBERS]->(m:Memory)
		OPTIONAL MATCH (u)-[:PARTICIPATED_IN]->(s:Session)
		DETACH DELETE m, s, u`
)

// Neo4jGraph implements [GraphStore] on the platform Neo4j client.
type Neo4jGraph struct {
	client *neo4j.Client
}

// NewNeo4jGraph wraps an existing Neo4j client.
func NewNeo4jGraph(client *neo4j.Client) *Neo4jGraph {
	return &Neo4jGraph{client: client}
}

// Relate records the ownership edges for a memory. MERGE keeps the
// statement idempotent, so re-relating an existing memory is a no-op.
func (g *Neo4jGraph) Relate(ctx context.Context, rec *models.MemoryRecord) error {
	params := map[string]any{
		"user_id":   rec.UserID,
		"memory_id": rec.ID,
		"kind":      string(rec.Kind),
	}
	cypher := cypherRelateMemory
	if rec.SessionID != "" {
		cypher = cypherRelateSession
		params["session_id"] = rec.SessionID
	}
	_, err := g.client.ExecuteWrite(ctx, cypher, params)
	return err
}

// Detach removes the graph nodes for the given memories.
func (g *Neo4jGraph) Detach(ctx context.Context, userID string, memoryIDs ...string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	_, err := g.client.ExecuteWrite(ctx, cypherDetachMemories, map[string]any{
		"user_id":    userID,
		"memory_ids": memoryIDs,
	})
	return err
}

// DetachUser removes the user node and every memory and session attached
// to it.
func (g *Neo4jGraph) DetachUser(ctx context.Context, userID string) error {
	_, err := g.client.ExecuteWrite(ctx, cypherDetachUser, map[string]any{
		"user_id": userID,
	})
	return err
}
