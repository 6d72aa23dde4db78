package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	v := newTestViper()
	v.Set("server.api_key", "secret")
	v.Set("neo4j.uri", "bolt://localhost:7687")
	v.Set("neo4j.username", "neo4j")
	v.Set("neo4j.password", "password")
	v.Set("llm.api_key", "k")
	v.Set("llm.model", "gpt-4")
	v.Set("embeddings.api_key", "k")
	v.Set("embeddings.model", "text-embedding-3")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 8021, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Retention.MaxVersions)
	assert.True(t, cfg.Retention.EnableCleanup)
	assert.Equal(t, 500, cfg.Query.DefaultLimitNodes)
	assert.Equal(t, 0.8, cfg.Atom.EntThreshold)
	assert.Equal(t, "zh", cfg.Output.Language)
	assert.False(t, cfg.Atom.RequireSameEntityLabel())
	assert.True(t, cfg.Atom.RenameRelationshipByEmbedding())
}

func TestLoad_MissingRequiredFieldsFails(t *testing.T) {
	v := newTestViper()
	_, err := Load(v)
	assert.Error(t, err)
}

func TestResolveSection_EnvFallback(t *testing.T) {
	v := newTestViper()
	v.Set("neo4j.password_env", "KG_TEST_NEO4J_PASSWORD")
	require.NoError(t, os.Setenv("KG_TEST_NEO4J_PASSWORD", "from-env"))
	defer os.Unsetenv("KG_TEST_NEO4J_PASSWORD")

	v.Set("server.api_key", "secret")
	v.Set("neo4j.uri", "bolt://localhost:7687")
	v.Set("neo4j.username", "neo4j")
	v.Set("llm.api_key", "k")
	v.Set("llm.model", "gpt-4")
	v.Set("embeddings.api_key", "k")
	v.Set("embeddings.model", "text-embedding-3")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Neo4j.Password)
}

func TestAtomConfig_EntityNameModeSource(t *testing.T) {
	a := AtomConfig{EntityNameMode: "source", RelationNameMode: "source"}
	assert.True(t, a.RequireSameEntityLabel())
	assert.False(t, a.RenameRelationshipByEmbedding())
}

func TestValidator(t *testing.T) {
	val := NewValidator()
	val.RequireString("field", "")
	val.RequirePositiveInt("count", -1)
	val.RequireOneOf("mode", "bogus", []string{"a", "b"})
	assert.False(t, val.IsValid())
	assert.Len(t, val.Errors(), 3)
	assert.Error(t, val.Validate())
}
