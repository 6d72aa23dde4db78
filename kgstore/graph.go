package kgstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultRelationPredicate = "related_to"

// GraphStore is the versioned knowledge-graph store (C5). Every entity and
// relationship is tagged with kg_version so a build writes a brand new, isolated
// snapshot that only becomes visible to readers once KGState.latest_ready_version
// is advanced by the state store.
type GraphStore struct {
	client    *Client
	graphName string
}

// NewGraphStore builds a GraphStore scoped to one logical graph name.
func NewGraphStore(client *Client, graphName string) *GraphStore {
	return &GraphStore{client: client, graphName: graphName}
}

func chunk(n, size int) [][2]int {
	if size <= 0 {
		return [][2]int{{0, n}}
	}
	var ranges [][2]int
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		ranges = append(ranges, [2]int{i, end})
	}
	return ranges
}

// Write persists an entire graph snapshot under version, batching UNWIND writes in
// groups of batchSize (0 disables batching).
func (g *GraphStore) Write(ctx context.Context, version string, graph Graph, batchSize int) error {
	nodeRows := make([]map[string]any, 0, len(graph.Entities))
	for _, e := range graph.Entities {
		nodeRows = append(nodeRows, map[string]any{
			"kg_version":   version,
			"entity_label": e.Label,
			"name":         e.Name,
			"props": map[string]any{
				"kg_version":   version,
				"entity_label": e.Label,
				"name":         e.Name,
				"embeddings":   e.Embeddings,
			},
		})
	}

	relRows := make([]map[string]any, 0, len(graph.Relationships))
	for _, r := range graph.Relationships {
		predicate := r.Predicate
		if predicate == "" {
			predicate = defaultRelationPredicate
		}
		relRows = append(relRows, map[string]any{
			"kg_version":  version,
			"start_label": r.StartLabel,
			"start_name":  r.StartName,
			"end_label":   r.EndLabel,
			"end_name":    r.EndName,
			"predicate":   predicate,
			"props": map[string]any{
				"kg_version":   version,
				"predicate":    predicate,
				"atomic_facts": r.AtomicFacts,
				"t_obs":        r.TObs,
				"t_start":      r.TStart,
				"t_end":        r.TEnd,
				"embeddings":   r.Embeddings,
			},
		})
	}

	nodeQuery := `
UNWIND $rows AS row
MERGE (e:Entity {kg_version: row.kg_version, entity_label: row.entity_label, name: row.name})
SET e += row.props
RETURN count(e) AS n
`
	relQuery := `
UNWIND $rows AS row
MATCH (s:Entity {kg_version: row.kg_version, entity_label: row.start_label, name: row.start_name})
MATCH (t:Entity {kg_version: row.kg_version, entity_label: row.end_label, name: row.end_name})
MERGE (s)-[r:REL {kg_version: row.kg_version, predicate: row.predicate}]->(t)
SET r += row.props
RETURN count(r) AS n
`

	for _, rng := range chunk(len(nodeRows), batchSize) {
		if _, err := g.client.run(ctx, neo4j.AccessModeWrite, nodeQuery, map[string]any{"rows": nodeRows[rng[0]:rng[1]]}); err != nil {
			return fmt.Errorf("write entities: %w", err)
		}
	}
	for _, rng := range chunk(len(relRows), batchSize) {
		if _, err := g.client.run(ctx, neo4j.AccessModeWrite, relQuery, map[string]any{"rows": relRows[rng[0]:rng[1]]}); err != nil {
			return fmt.Errorf("write relationships: %w", err)
		}
	}
	return nil
}

// Load reads back an entire graph snapshot for version.
func (g *GraphStore) Load(ctx context.Context, version string) (Graph, error) {
	nodeQuery := `MATCH (e:Entity {kg_version: $v}) RETURN e`
	nodeRecords, err := g.client.run(ctx, neo4j.AccessModeRead, nodeQuery, map[string]any{"v": version})
	if err != nil {
		return Graph{}, fmt.Errorf("load entities: %w", err)
	}

	type entityKey struct{ label, name string }
	entities := make([]Entity, 0, len(nodeRecords))
	index := make(map[entityKey]int, len(nodeRecords))
	for _, rec := range nodeRecords {
		n, _ := rec.Get("e")
		props, err := nodeProps(n)
		if err != nil {
			return Graph{}, fmt.Errorf("load entities: %w", err)
		}
		label, _ := props["entity_label"].(string)
		name, _ := props["name"].(string)
		ent := Entity{Label: label, Name: name, Embeddings: asFloat64Slice(props["embeddings"])}
		index[entityKey{label, name}] = len(entities)
		entities = append(entities, ent)
	}

	relQuery := `
MATCH (s:Entity {kg_version: $v})-[r:REL {kg_version: $v}]->(t:Entity {kg_version: $v})
RETURN s, properties(r) AS rp, t
`
	relRecords, err := g.client.run(ctx, neo4j.AccessModeRead, relQuery, map[string]any{"v": version})
	if err != nil {
		return Graph{}, fmt.Errorf("load relationships: %w", err)
	}

	relationships := make([]Relationship, 0, len(relRecords))
	for _, rec := range relRecords {
		sVal, _ := rec.Get("s")
		tVal, _ := rec.Get("t")
		rpVal, _ := rec.Get("rp")

		sProps, err := nodeProps(sVal)
		if err != nil {
			return Graph{}, fmt.Errorf("load relationships: %w", err)
		}
		tProps, err := nodeProps(tVal)
		if err != nil {
			return Graph{}, fmt.Errorf("load relationships: %w", err)
		}
		startLabel, _ := sProps["entity_label"].(string)
		startName, _ := sProps["name"].(string)
		endLabel, _ := tProps["entity_label"].(string)
		endName, _ := tProps["name"].(string)

		if _, ok := index[entityKey{startLabel, startName}]; !ok {
			continue
		}
		if _, ok := index[entityKey{endLabel, endName}]; !ok {
			continue
		}

		rp, _ := rpVal.(map[string]any)
		predicate, _ := rp["predicate"].(string)
		if predicate == "" {
			predicate = defaultRelationPredicate
		}

		relationships = append(relationships, Relationship{
			StartLabel:  startLabel,
			StartName:   startName,
			EndLabel:    endLabel,
			EndName:     endName,
			Predicate:   predicate,
			AtomicFacts: asStringSlice(rp["atomic_facts"]),
			TObs:        asStringSlice(rp["t_obs"]),
			TStart:      asStringSlice(rp["t_start"]),
			TEnd:        asStringSlice(rp["t_end"]),
			Embeddings:  asFloat64Slice(rp["embeddings"]),
		})
	}

	return Graph{Entities: entities, Relationships: relationships}, nil
}

// GetEntityTypes returns the distinct entity labels present in version, sorted.
func (g *GraphStore) GetEntityTypes(ctx context.Context, version string) ([]string, error) {
	query := `
MATCH (e:Entity {kg_version: $v})
RETURN DISTINCT e.entity_label AS t
ORDER BY t
`
	records, err := g.client.run(ctx, neo4j.AccessModeRead, query, map[string]any{"v": version})
	if err != nil {
		return nil, fmt.Errorf("get entity types: %w", err)
	}
	return stringColumn(records, "t"), nil
}

// GetRelationTypes returns the distinct relationship predicates present in version,
// sorted.
func (g *GraphStore) GetRelationTypes(ctx context.Context, version string) ([]string, error) {
	query := `
MATCH ()-[r:REL {kg_version: $v}]->()
RETURN DISTINCT r.predicate AS t
ORDER BY t
`
	records, err := g.client.run(ctx, neo4j.AccessModeRead, query, map[string]any{"v": version})
	if err != nil {
		return nil, fmt.Errorf("get relation types: %w", err)
	}
	return stringColumn(records, "t"), nil
}

func stringColumn(records []*neo4j.Record, key string) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		v, ok := rec.Get(key)
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetStats returns (entityCount, relationshipCount, entityTypeCount) for version.
func (g *GraphStore) GetStats(ctx context.Context, version string) (int, int, int, error) {
	entityQuery := `MATCH (e:Entity {kg_version: $v}) RETURN count(e) AS n, count(DISTINCT e.entity_label) AS t`
	relQuery := `MATCH ()-[r:REL {kg_version: $v}]->() RETURN count(r) AS n`

	entityRecords, err := g.client.run(ctx, neo4j.AccessModeRead, entityQuery, map[string]any{"v": version})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("get stats: %w", err)
	}
	relRecords, err := g.client.run(ctx, neo4j.AccessModeRead, relQuery, map[string]any{"v": version})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("get stats: %w", err)
	}
	if len(entityRecords) == 0 || len(relRecords) == 0 {
		return 0, 0, 0, nil
	}

	entityCount, _ := entityRecords[0].Get("n")
	typeCount, _ := entityRecords[0].Get("t")
	relCount, _ := relRecords[0].Get("n")

	return int(asInt64(entityCount)), int(asInt64(relCount)), int(asInt64(typeCount)), nil
}

func asInt64(v any) int64 {
	n, _ := v.(int64)
	return n
}

// CleanupOldVersions deletes entity/relationship data for versions beyond the
// retention window, keeping the newest maxVersions completed-without-error task
// versions plus the currently ready version regardless of age. Returns the deleted
// version identifiers.
func (g *GraphStore) CleanupOldVersions(ctx context.Context, maxVersions int, enableCleanup bool) ([]string, error) {
	if !enableCleanup || maxVersions <= 0 {
		return nil, nil
	}

	query := `
MATCH (s:KGState {graph_name: $graph_name})
WITH s.latest_ready_version AS latest
MATCH (t:KGTask)
WHERE t.finished_at IS NOT NULL AND (t.error IS NULL OR t.error = '')
WITH latest, collect(DISTINCT t.version) AS versions
RETURN latest, versions
`
	records, err := g.client.run(ctx, neo4j.AccessModeRead, query, map[string]any{"graph_name": g.graphName})
	if err != nil {
		return nil, fmt.Errorf("cleanup old versions: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	latest := asOptionalString(mustGet(records[0], "latest"))
	versionsRaw, _ := records[0].Get("versions")
	versions := asStringSlice(versionsRaw)

	toDelete := selectVersionsToDelete(versions, latest, maxVersions)

	for _, v := range toDelete {
		if err := g.DeleteVersionData(ctx, v); err != nil {
			return toDelete, err
		}
	}
	return toDelete, nil
}

func mustGet(rec *neo4j.Record, key string) any {
	v, _ := rec.Get(key)
	return v
}

func versionSortKey(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// selectVersionsToDelete ranks versions newest-first (by numeric value, falling
// back to 0 for non-numeric identifiers), keeps the newest maxVersions plus
// whichever version is currently ready, and returns the rest for deletion.
func selectVersionsToDelete(versions []string, latest *string, maxVersions int) []string {
	sorted := make([]string, 0, len(versions))
	for _, v := range versions {
		if v != "" {
			sorted = append(sorted, v)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return versionSortKey(sorted[i]) > versionSortKey(sorted[j])
	})

	keep := make(map[string]bool, maxVersions+1)
	limit := min(maxVersions, len(sorted))
	for _, v := range sorted[:limit] {
		keep[v] = true
	}
	if latest != nil && *latest != "" {
		keep[*latest] = true
	}

	var toDelete []string
	for _, v := range sorted {
		if !keep[v] {
			toDelete = append(toDelete, v)
		}
	}
	return toDelete
}

// DeleteVersionData removes every entity (and, via DETACH DELETE, every
// relationship touching it) tagged with version.
func (g *GraphStore) DeleteVersionData(ctx context.Context, version string) error {
	query := `
MATCH (e:Entity {kg_version: $v})
DETACH DELETE e
RETURN 1 AS _ignored
`
	if _, err := g.client.run(ctx, neo4j.AccessModeWrite, query, map[string]any{"v": version}); err != nil {
		return fmt.Errorf("delete version data: %w", err)
	}
	return nil
}

// QueryOptions controls a /kg/query projection.
type QueryOptions struct {
	Query             string
	EntityTypes       []string
	RelationTypes     []string
	LimitNodes        int
	LimitEdges        int
	Depth             int
	MaxSeedNodes      int
	IncludeProperties bool
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func nodeID(label, name string) string {
	return fmt.Sprintf("%s:%s", label, name)
}

// Query projects a bounded neighborhood of version as nodes and edges, matching
// by substring on entity name when opts.Query is non-empty, or returning a plain
// edge/node sample otherwise. truncated reports whether the result was cut down to
// the requested limits.
func (g *GraphStore) Query(ctx context.Context, version string, opts QueryOptions) ([]QueryNode, []QueryEdge, bool, error) {
	q := strings.TrimSpace(opts.Query)
	limitNodes := max(1, opts.LimitNodes)
	limitEdges := max(0, opts.LimitEdges)
	depth := max(0, opts.Depth)
	seedLimit := max(1, opts.MaxSeedNodes)

	nodes := make(map[string]QueryNode)
	nodeOrder := make([]string, 0)
	edges := make(map[string]QueryEdge)
	edgeOrder := make([]string, 0)

	addNode := func(v any) error {
		props, err := nodeProps(v)
		if err != nil {
			return err
		}
		label, _ := props["entity_label"].(string)
		name, _ := props["name"].(string)
		id := nodeID(label, name)
		if _, ok := nodes[id]; ok {
			return nil
		}
		var properties map[string]any
		if opts.IncludeProperties {
			properties = cleanProps(props)
		}
		nodes[id] = QueryNode{ID: id, Types: []string{"Entity", label}, Name: name, Properties: properties}
		nodeOrder = append(nodeOrder, id)
		return nil
	}

	addEdge := func(sVal, rVal, tVal any) error {
		sProps, err := nodeProps(sVal)
		if err != nil {
			return err
		}
		tProps, err := nodeProps(tVal)
		if err != nil {
			return err
		}
		rProps, _ := rVal.(map[string]any)

		sourceID := nodeID(fmt.Sprint(sProps["entity_label"]), fmt.Sprint(sProps["name"]))
		targetID := nodeID(fmt.Sprint(tProps["entity_label"]), fmt.Sprint(tProps["name"]))
		predicate, _ := rProps["predicate"].(string)
		if predicate == "" {
			predicate = defaultRelationPredicate
		}
		id := fmt.Sprintf("%s->%s->%s", sourceID, predicate, targetID)
		if _, ok := edges[id]; ok {
			return nil
		}
		var properties map[string]any
		if opts.IncludeProperties {
			properties = cleanProps(rProps)
		}
		edges[id] = QueryEdge{ID: id, Type: predicate, Source: sourceID, Target: targetID, Properties: properties}
		edgeOrder = append(edgeOrder, id)
		return nil
	}

	if q != "" {
		seedQuery := `
MATCH (s:Entity {kg_version: $v})
WHERE toLower(s.name) CONTAINS toLower($q)
RETURN s
LIMIT $seed_limit
`
		seedRecords, err := g.client.run(ctx, neo4j.AccessModeRead, seedQuery, map[string]any{
			"v": version, "q": q, "seed_limit": seedLimit,
		})
		if err != nil {
			return nil, nil, false, fmt.Errorf("query seed: %w", err)
		}
		for _, rec := range seedRecords {
			sVal, _ := rec.Get("s")
			if err := addNode(sVal); err != nil {
				return nil, nil, false, fmt.Errorf("query seed: %w", err)
			}
		}

		if depth > 0 && limitEdges > 0 && len(seedRecords) > 0 {
			expandQuery := fmt.Sprintf(`
MATCH (s:Entity {kg_version: $v})
WHERE toLower(s.name) CONTAINS toLower($q)
WITH s LIMIT $seed_limit
MATCH (s)-[rels:REL*1..%d]-(n:Entity {kg_version: $v})
WHERE ALL(r IN rels WHERE r.kg_version = $v)
UNWIND rels AS r
WITH DISTINCT r
LIMIT $limit_edges
MATCH (a)-[r]->(b)
RETURN a AS s, properties(r) AS rp, b AS t
`, depth)
			records, err := g.client.run(ctx, neo4j.AccessModeRead, expandQuery, map[string]any{
				"v": version, "q": q, "seed_limit": seedLimit, "limit_edges": limitEdges + 1,
			})
			if err != nil {
				return nil, nil, false, fmt.Errorf("query expand: %w", err)
			}
			for _, rec := range records {
				sVal, _ := rec.Get("s")
				tVal, _ := rec.Get("t")
				rpVal, _ := rec.Get("rp")
				if err := addNode(sVal); err != nil {
					return nil, nil, false, fmt.Errorf("query expand: %w", err)
				}
				if err := addNode(tVal); err != nil {
					return nil, nil, false, fmt.Errorf("query expand: %w", err)
				}
				if err := addEdge(sVal, rpVal, tVal); err != nil {
					return nil, nil, false, fmt.Errorf("query expand: %w", err)
				}
			}
		}
	} else {
		if limitEdges > 0 {
			edgeQuery := `
MATCH (s:Entity {kg_version: $v})-[r:REL {kg_version: $v}]->(t:Entity {kg_version: $v})
RETURN s, properties(r) AS rp, t
LIMIT $limit_edges
`
			records, err := g.client.run(ctx, neo4j.AccessModeRead, edgeQuery, map[string]any{
				"v": version, "limit_edges": limitEdges + 1,
			})
			if err != nil {
				return nil, nil, false, fmt.Errorf("query edges: %w", err)
			}
			for _, rec := range records {
				sVal, _ := rec.Get("s")
				tVal, _ := rec.Get("t")
				rpVal, _ := rec.Get("rp")
				if err := addNode(sVal); err != nil {
					return nil, nil, false, fmt.Errorf("query edges: %w", err)
				}
				if err := addNode(tVal); err != nil {
					return nil, nil, false, fmt.Errorf("query edges: %w", err)
				}
				if err := addEdge(sVal, rpVal, tVal); err != nil {
					return nil, nil, false, fmt.Errorf("query edges: %w", err)
				}
			}
		}

		if len(nodes) == 0 {
			nodeQuery := `
MATCH (e:Entity {kg_version: $v})
RETURN e
LIMIT $limit_nodes
`
			records, err := g.client.run(ctx, neo4j.AccessModeRead, nodeQuery, map[string]any{
				"v": version, "limit_nodes": limitNodes + 1,
			})
			if err != nil {
				return nil, nil, false, fmt.Errorf("query nodes: %w", err)
			}
			for _, rec := range records {
				eVal, _ := rec.Get("e")
				if err := addNode(eVal); err != nil {
					return nil, nil, false, fmt.Errorf("query nodes: %w", err)
				}
			}
		}
	}

	if len(opts.EntityTypes) > 0 {
		filtered := nodeOrder[:0:0]
		for _, id := range nodeOrder {
			label := nodes[id].Types[len(nodes[id].Types)-1]
			if containsFold(opts.EntityTypes, label) {
				filtered = append(filtered, id)
			}
		}
		nodeOrder = filtered
	}
	if len(opts.RelationTypes) > 0 {
		filtered := edgeOrder[:0:0]
		for _, id := range edgeOrder {
			if containsFold(opts.RelationTypes, edges[id].Type) {
				filtered = append(filtered, id)
			}
		}
		edgeOrder = filtered
	}

	truncated := false
	if len(nodeOrder) > limitNodes {
		truncated = true
		nodeOrder = nodeOrder[:limitNodes]
	}
	if len(edgeOrder) > limitEdges {
		truncated = true
		edgeOrder = edgeOrder[:limitEdges]
	}

	usedNodes := make(map[string]bool, len(nodeOrder))
	resultNodes := make([]QueryNode, 0, len(nodeOrder))
	for _, id := range nodeOrder {
		usedNodes[id] = true
		resultNodes = append(resultNodes, nodes[id])
	}

	resultEdges := make([]QueryEdge, 0, len(edgeOrder))
	for _, id := range edgeOrder {
		e := edges[id]
		if usedNodes[e.Source] && usedNodes[e.Target] {
			resultEdges = append(resultEdges, e)
		}
	}

	return resultNodes, resultEdges, truncated, nil
}

func cleanProps(props map[string]any) map[string]any {
	cleaned := make(map[string]any, len(props))
	for k, v := range props {
		if k == "embeddings" || k == "kg_version" {
			continue
		}
		cleaned[k] = v
	}
	return cleaned
}

