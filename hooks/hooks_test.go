package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraphsvc.evalgo.org/config"
)

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider([]string{"doc1", "doc2"}, []string{"doc3"})

	full, err := p.FetchFull(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1", "doc2"}, full)

	inc, err := p.FetchIncremental(t.Context(), "1700000000000")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc3"}, inc)
}

func TestNew_DefaultsToStatic(t *testing.T) {
	p, err := New(config.HooksConfig{})
	require.NoError(t, err)
	assert.IsType(t, &StaticProvider{}, p)
}

func TestNew_HTTPRequiresURLs(t *testing.T) {
	_, err := New(config.HooksConfig{Kind: "http"})
	assert.Error(t, err)

	p, err := New(config.HooksConfig{Kind: "http", FullURL: "http://example/full", IncrementalURL: "http://example/inc"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPProvider{}, p)
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(config.HooksConfig{Kind: "bogus"})
	assert.Error(t, err)
}
