package kgstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestChunk(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 5}}, chunk(5, 0))
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, chunk(5, 2))
	assert.Equal(t, [][2]int{{0, 3}}, chunk(3, 10))
	assert.Nil(t, chunk(0, 2))
}

func TestVersionSortKey(t *testing.T) {
	assert.Equal(t, int64(1700000000000), versionSortKey("1700000000000"))
	assert.Equal(t, int64(0), versionSortKey("not-a-number"))
}

func TestSelectVersionsToDelete_KeepsNewestAndLatest(t *testing.T) {
	versions := []string{"100", "200", "300", "400", "500"}
	toDelete := selectVersionsToDelete(versions, strPtr("100"), 2)

	assert.ElementsMatch(t, []string{"300", "200"}, toDelete)
}

func TestSelectVersionsToDelete_NoLatestStillKeepsTopN(t *testing.T) {
	versions := []string{"100", "200", "300"}
	toDelete := selectVersionsToDelete(versions, nil, 2)

	assert.ElementsMatch(t, []string{"100"}, toDelete)
}

func TestSelectVersionsToDelete_FewerVersionsThanRetentionDeletesNothing(t *testing.T) {
	versions := []string{"100", "200"}
	toDelete := selectVersionsToDelete(versions, strPtr("200"), 10)

	assert.Empty(t, toDelete)
}

func TestSelectVersionsToDelete_EmptyLatestIgnored(t *testing.T) {
	versions := []string{"100", "200", "300"}
	toDelete := selectVersionsToDelete(versions, strPtr(""), 1)

	assert.ElementsMatch(t, []string{"100", "200"}, toDelete)
}

func TestCleanProps_DropsEmbeddingsAndVersion(t *testing.T) {
	props := map[string]any{
		"name":         "Alice",
		"entity_label": "Person",
		"embeddings":   []float64{0.1, 0.2},
		"kg_version":   "1700000000000",
	}
	cleaned := cleanProps(props)

	assert.Equal(t, map[string]any{"name": "Alice", "entity_label": "Person"}, cleaned)
}

func TestNodeID(t *testing.T) {
	assert.Equal(t, "Person:Alice", nodeID("Person", "Alice"))
}

func TestAsStringSlice_HandlesNilAndMixedInput(t *testing.T) {
	assert.Nil(t, asStringSlice(nil))
	assert.Equal(t, []string{"a", "b"}, asStringSlice([]any{"a", "b"}))
	assert.Equal(t, []string{"a"}, asStringSlice([]any{"a", 5}))
}

func TestAsFloat64Slice_HandlesMixedNumericTypes(t *testing.T) {
	assert.Nil(t, asFloat64Slice(nil))
	assert.Equal(t, []float64{1.5, 2}, asFloat64Slice([]any{1.5, int64(2)}))
}
