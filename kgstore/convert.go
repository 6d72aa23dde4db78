package kgstore

import (
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// asTime converts a Neo4j temporal value (returned by the driver as time.Time for
// DATETIME properties) into a time.Time, treating a missing value as the zero time.
func asTime(v any) (time.Time, error) {
	if v == nil {
		return time.Time{}, nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("expected time.Time, got %T", v)
	}
	return t, nil
}

// asOptionalString converts a possibly-nil driver value into a *string.
func asOptionalString(v any) *string {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

// asStringSlice converts a Neo4j list-of-strings property into a []string, treating a
// missing value as an empty slice.
func asStringSlice(v any) []string {
	if v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// asFloat64Slice converts a Neo4j list-of-floats property (embeddings) into a
// []float64.
func asFloat64Slice(v any) []float64 {
	if v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		switch n := item.(type) {
		case float64:
			out = append(out, n)
		case int64:
			out = append(out, float64(n))
		}
	}
	return out
}

// nodeProps extracts the property map from a node-shaped driver value.
func nodeProps(v any) (map[string]any, error) {
	node, ok := v.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("expected neo4j.Node, got %T", v)
	}
	return node.Props, nil
}

