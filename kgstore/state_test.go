package kgstore

import (
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateFromNode(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	node := neo4j.Node{Props: map[string]any{
		"status":               "READY",
		"latest_ready_version": "1700000000000",
		"current_task_id":      nil,
		"updated_at":           now,
	}}

	state, err := stateFromNode(node)
	require.NoError(t, err)

	assert.Equal(t, StatusReady, state.Status)
	require.NotNil(t, state.LatestReadyVersion)
	assert.Equal(t, "1700000000000", *state.LatestReadyVersion)
	assert.Nil(t, state.CurrentTaskID)
	assert.True(t, now.Equal(state.UpdatedAt))
}

func TestStateFromNode_WrongType(t *testing.T) {
	_, err := stateFromNode("not a node")
	assert.Error(t, err)
}

func TestTaskFromNode_InFlight(t *testing.T) {
	started := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	node := neo4j.Node{Props: map[string]any{
		"task_id":      "1700000000000",
		"type":         "full_build",
		"version":      "1700000000000",
		"base_version": nil,
		"started_at":   started,
		"finished_at":  nil,
		"progress":     int64(35),
		"message":      "extracting entities",
		"error":        nil,
	}}

	task, err := taskFromNode(node)
	require.NoError(t, err)

	assert.Equal(t, "1700000000000", task.TaskID)
	assert.Equal(t, TaskFullBuild, task.Type)
	assert.Nil(t, task.BaseVersion)
	assert.Nil(t, task.FinishedAt)
	require.NotNil(t, task.Progress)
	assert.Equal(t, 35, *task.Progress)
	require.NotNil(t, task.Message)
	assert.Equal(t, "extracting entities", *task.Message)
	assert.Nil(t, task.Error)
}

func TestTaskFromNode_Finished(t *testing.T) {
	started := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	finished := time.Date(2026, 7, 31, 10, 5, 0, 0, time.UTC)
	node := neo4j.Node{Props: map[string]any{
		"task_id":      "1700000000001",
		"type":         "incremental_update",
		"version":      "1700000000001",
		"base_version": "1700000000000",
		"started_at":   started,
		"finished_at":  finished,
		"progress":     int64(100),
		"message":      nil,
		"error":        "downstream hook timed out",
	}}

	task, err := taskFromNode(node)
	require.NoError(t, err)

	require.NotNil(t, task.BaseVersion)
	assert.Equal(t, "1700000000000", *task.BaseVersion)
	require.NotNil(t, task.FinishedAt)
	assert.True(t, finished.Equal(*task.FinishedAt))
	require.NotNil(t, task.Error)
	assert.Equal(t, "downstream hook timed out", *task.Error)
}

func TestConflictError_Error(t *testing.T) {
	err := &ConflictError{State: State{Status: StatusBuilding}}
	assert.Equal(t, "TASK_RUNNING", err.Error())
}
