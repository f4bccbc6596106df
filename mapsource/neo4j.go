package mapsource

import (
	"context"

	"git.fiblab.net/sim/traffic/network"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
)

const (
	nodeQuery = `
	MATCH (n:Intersection)
	RETURN n.id AS id, n.name AS name, n.x AS x, n.y AS y
	ORDER BY id
	`
	edgeQuery = `
	MATCH (s:Intersection)-[r:ROAD]->(t:Intersection)
	RETURN s.id AS source, t.id AS target, r.base_travel_time AS base_travel_time, r.capacity AS capacity
	`
)

// LoadNeo4j 读取(:Intersection)节点与[:ROAD]关系
func LoadNeo4j(ctx context.Context, uri, username, password string) (*network.Map, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.Wrap(err, "Neo4j driver")
	}
	defer driver.Close(ctx)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, errors.Wrap(err, "Neo4j connectivity")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	m, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (*network.Map, error) {
		m := &network.Map{}
		result, err := tx.Run(ctx, nodeQuery, nil)
		if err != nil {
			return nil, errors.Wrap(err, "Can't query intersections")
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "Can't collect intersections")
		}
		for _, record := range records {
			m.Nodes = append(m.Nodes, nodeFromValues(record.AsMap()))
		}

		result, err = tx.Run(ctx, edgeQuery, nil)
		if err != nil {
			return nil, errors.Wrap(err, "Can't query roads")
		}
		records, err = result.Collect(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "Can't collect roads")
		}
		for _, record := range records {
			m.Edges = append(m.Edges, edgeFromValues(record.AsMap()))
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("map read from neo4j %s: %d nodes, %d edges", uri, len(m.Nodes), len(m.Edges))
	return m, nil
}

func nodeFromValues(values map[string]any) network.IntersectionSpec {
	node := network.IntersectionSpec{
		ID:   asString(values["id"]),
		Name: asString(values["name"]),
	}
	if x, ok := asFloat(values["x"]); ok {
		node.X = &x
	}
	if y, ok := asFloat(values["y"]); ok {
		node.Y = &y
	}
	return node
}

// 缺失的属性保留零值，由network.Load校验或取默认值
func edgeFromValues(values map[string]any) network.RoadSpec {
	edge := network.RoadSpec{
		Source: asString(values["source"]),
		Target: asString(values["target"]),
	}
	if base, ok := asFloat(values["base_travel_time"]); ok {
		edge.BaseTravelTime = base
	}
	if capacity, ok := asFloat(values["capacity"]); ok {
		edge.Capacity = int(capacity)
	}
	return edge
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
