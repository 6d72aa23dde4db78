package atom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraphsvc.evalgo.org/kgstore"
)

// fakeExtractor returns a fixed JSON triple response per prompt (by index) and a
// deterministic embedding per distinct text, so entity matching is exercised
// without a live LLM.
type fakeExtractor struct {
	responses  []string
	embeddings map[string][]float64
}

func (f *fakeExtractor) ExtractJSON(_ context.Context, _ string, prompts []string) ([]string, error) {
	out := make([]string, len(prompts))
	for i := range prompts {
		if i < len(f.responses) {
			out[i] = f.responses[i]
		} else {
			out[i] = `{"triples": []}`
		}
	}
	return out, nil
}

func (f *fakeExtractor) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if emb, ok := f.embeddings[t]; ok {
			out[i] = emb
		} else {
			out[i] = []float64{1, 0, 0}
		}
	}
	return out, nil
}

func defaultOptions() Options {
	return Options{
		EntThreshold:           0.8,
		RelThreshold:           0.7,
		EntityNameWeight:       0.8,
		EntityLabelWeight:      0.2,
		OutputLanguage:         "zh",
		RequireSameEntityLabel: true,
		UnknownEntityLabel:     "unknown",
		RelationFallbackName:   "related_to",
	}
}

func TestBuildGraph_NoPriorCreatesEntitiesAndRelationships(t *testing.T) {
	ex := &fakeExtractor{
		responses: []string{
			`{"triples": [{"source_name": "Alice", "source_label": "Person", "target_name": "Acme", "target_label": "Org", "predicate": "works_at"}]}`,
		},
	}
	b := NewBuilder(ex)

	graph, err := b.BuildGraph(t.Context(), []string{"Alice works at Acme."}, "2026-07-31T00:00:00Z", nil, defaultOptions())
	require.NoError(t, err)

	assert.Len(t, graph.Entities, 2)
	require.Len(t, graph.Relationships, 1)
	rel := graph.Relationships[0]
	assert.Equal(t, "works_at", rel.Predicate)
	assert.Equal(t, []string{"Alice works at Acme."}, rel.AtomicFacts)
}

func TestBuildGraph_EmptyFactsFails(t *testing.T) {
	b := NewBuilder(&fakeExtractor{})
	_, err := b.BuildGraph(t.Context(), nil, "2026-07-31T00:00:00Z", nil, defaultOptions())
	assert.Error(t, err)
}

func TestBuildGraph_MergesWithPriorGraphByName(t *testing.T) {
	ex := &fakeExtractor{
		embeddings: map[string][]float64{"Alice": {1, 0, 0}},
		responses: []string{
			`{"triples": [{"source_name": "Alice", "source_label": "Person", "target_name": "Acme", "target_label": "Org", "predicate": "works_at"}]}`,
		},
	}
	b := NewBuilder(ex)

	prior := &kgstore.Graph{
		Entities: []kgstore.Entity{{Label: "Person", Name: "Alice", Embeddings: []float64{1, 0, 0}}},
	}

	graph, err := b.BuildGraph(t.Context(), []string{"Alice works at Acme."}, "2026-07-31T00:00:00Z", prior, defaultOptions())
	require.NoError(t, err)

	// Alice should have matched the prior entity (same name, same embedding), Acme is new.
	assert.Len(t, graph.Entities, 2)
}

func TestBuildGraph_EmptyPredicateFallsBackToDefault(t *testing.T) {
	ex := &fakeExtractor{
		responses: []string{
			`{"triples": [{"source_name": "Alice", "source_label": "Person", "target_name": "Bob", "target_label": "Person", "predicate": ""}]}`,
		},
	}
	b := NewBuilder(ex)

	graph, err := b.BuildGraph(t.Context(), []string{"Alice knows Bob."}, "2026-07-31T00:00:00Z", nil, defaultOptions())
	require.NoError(t, err)

	require.Len(t, graph.Relationships, 1)
	assert.Equal(t, "related_to", graph.Relationships[0].Predicate)
}

func TestBuildGraph_DropsUnknownEntityLabelRelationships(t *testing.T) {
	ex := &fakeExtractor{
		responses: []string{
			`{"triples": [{"source_name": "Alice", "source_label": "", "target_name": "Bob", "target_label": "Person", "predicate": "knows"}]}`,
		},
	}
	b := NewBuilder(ex)
	opts := defaultOptions()
	opts.DropUnknownEntityLabel = true

	graph, err := b.BuildGraph(t.Context(), []string{"Alice knows Bob."}, "2026-07-31T00:00:00Z", nil, opts)
	require.NoError(t, err)

	assert.Empty(t, graph.Relationships)
}

func TestBuildGraph_RenamesRelationshipToClosestKnownPredicateByEmbedding(t *testing.T) {
	ex := &fakeExtractor{
		embeddings: map[string][]float64{
			"employed_by": {1, 0, 0},
			"works_at":    {0.99, 0.01, 0},
		},
		responses: []string{
			`{"triples": [{"source_name": "Alice", "source_label": "Person", "target_name": "Acme", "target_label": "Org", "predicate": "employed_by"}]}`,
			`{"triples": [{"source_name": "Bob", "source_label": "Person", "target_name": "Acme", "target_label": "Org", "predicate": "works_at"}]}`,
		},
	}
	b := NewBuilder(ex)
	opts := defaultOptions()
	opts.RenameRelationshipByEmbedding = true

	graph, err := b.BuildGraph(t.Context(), []string{"Alice is employed by Acme.", "Bob works at Acme."}, "2026-07-31T00:00:00Z", nil, opts)
	require.NoError(t, err)

	require.Len(t, graph.Relationships, 1)
	assert.Equal(t, "employed_by", graph.Relationships[0].Predicate)
	assert.ElementsMatch(t, []string{"Alice is employed by Acme.", "Bob works at Acme."}, graph.Relationships[0].AtomicFacts)
}

func TestBuildGraph_SourceModeKeepsDistinctPredicateNames(t *testing.T) {
	ex := &fakeExtractor{
		embeddings: map[string][]float64{
			"employed_by": {1, 0, 0},
			"works_at":    {0.99, 0.01, 0},
		},
		responses: []string{
			`{"triples": [{"source_name": "Alice", "source_label": "Person", "target_name": "Acme", "target_label": "Org", "predicate": "employed_by"}]}`,
			`{"triples": [{"source_name": "Bob", "source_label": "Person", "target_name": "Acme", "target_label": "Org", "predicate": "works_at"}]}`,
		},
	}
	b := NewBuilder(ex)
	opts := defaultOptions()
	opts.RenameRelationshipByEmbedding = false

	graph, err := b.BuildGraph(t.Context(), []string{"Alice is employed by Acme.", "Bob works at Acme."}, "2026-07-31T00:00:00Z", nil, opts)
	require.NoError(t, err)

	require.Len(t, graph.Relationships, 2)
	predicates := []string{graph.Relationships[0].Predicate, graph.Relationships[1].Predicate}
	assert.ElementsMatch(t, []string{"employed_by", "works_at"}, predicates)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity(nil, []float64{1}))
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 2}, []float64{1}))
}

func TestCanonicalizeLabel(t *testing.T) {
	opts := Options{UnknownEntityLabel: "unknown", EntityLabelAliases: map[string]string{"Co": "Org"}}
	assert.Equal(t, "unknown", canonicalizeLabel("", opts))
	assert.Equal(t, "Org", canonicalizeLabel("Co", opts))

	opts.EntityLabelAllowlist = []string{"Person"}
	assert.Equal(t, "unknown", canonicalizeLabel("Org", opts))
	assert.Equal(t, "Person", canonicalizeLabel("Person", opts))
}
