package querycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_SameParamsSameVersionCollide(t *testing.T) {
	type params struct {
		Query string
		Depth int
	}
	k1, err := Key("1700000000000", params{Query: "acme", Depth: 2})
	require.NoError(t, err)
	k2, err := Key("1700000000000", params{Query: "acme", Depth: 2})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestKey_DifferentVersionsNeverCollide(t *testing.T) {
	type params struct{ Query string }
	k1, err := Key("1700000000000", params{Query: "acme"})
	require.NoError(t, err)
	k2, err := Key("1700000000001", params{Query: "acme"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestKey_DifferentParamsNeverCollide(t *testing.T) {
	type params struct{ Query string }
	k1, err := Key("1700000000000", params{Query: "acme"})
	require.NoError(t, err)
	k2, err := Key("1700000000000", params{Query: "other"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}
