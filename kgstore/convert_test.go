package kgstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsTime(t *testing.T) {
	zero, err := asTime(nil)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	now := time.Now()
	got, err := asTime(now)
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	_, err = asTime("not a time")
	assert.Error(t, err)
}

func TestAsOptionalString(t *testing.T) {
	assert.Nil(t, asOptionalString(nil))
	assert.Nil(t, asOptionalString(42))

	got := asOptionalString("hello")
	require.NotNil(t, got)
	assert.Equal(t, "hello", *got)
}
