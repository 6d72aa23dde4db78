package kgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"kgraphsvc.evalgo.org/common"
)

// StateStore is the durable state machine for the KGState singleton and its task
// rows (C4). Every operation that conditionally mutates runs as a single
// server-side Cypher statement so concurrent callers serialize through the database
// rather than through in-process locking.
type StateStore struct {
	client    *Client
	graphName string
}

// NewStateStore builds a StateStore scoped to one logical graph name.
func NewStateStore(client *Client, graphName string) *StateStore {
	return &StateStore{client: client, graphName: graphName}
}

// EnsureSchema creates the three uniqueness constraints the state machine and graph
// store rely on. Safe to call on every boot.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT kgstate_graph_name IF NOT EXISTS FOR (s:KGState) REQUIRE s.graph_name IS UNIQUE",
		"CREATE CONSTRAINT kgtask_task_id IF NOT EXISTS FOR (t:KGTask) REQUIRE t.task_id IS UNIQUE",
		"CREATE CONSTRAINT entity_unique IF NOT EXISTS FOR (e:Entity) REQUIRE (e.kg_version, e.entity_label, e.name) IS UNIQUE",
	}
	for _, stmt := range statements {
		if _, err := s.client.run(ctx, neo4j.AccessModeWrite, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		common.Logger.WithField("statement", stmt).Debug("ensured schema constraint")
	}
	return nil
}

// RecoverIfInterrupted flips a BUILDING/UPDATING state left over from a prior
// process to FAILED, stamping the referenced task with a restart error. Must be
// invoked exactly once at startup before serving any request.
func (s *StateStore) RecoverIfInterrupted(ctx context.Context) error {
	query := `
MERGE (s:KGState {graph_name: $graph_name})
ON CREATE SET
  s.status = 'IDLE',
  s.latest_ready_version = null,
  s.current_task_id = null,
  s.updated_at = datetime()
WITH s
CALL (s) {
  WITH s
  OPTIONAL MATCH (t:KGTask {task_id: s.current_task_id})
  WITH s, t
  WHERE s.status IN ['BUILDING','UPDATING']
  SET s.status = 'FAILED', s.updated_at = datetime(), s.current_task_id = null
  FOREACH (_ IN CASE WHEN t IS NULL THEN [] ELSE [1] END |
    SET t.error = coalesce(t.error, 'server restarted'), t.finished_at = datetime()
  )
  RETURN 1 AS _ignored
}
RETURN 1 AS _ignored
`
	_, err := s.client.run(ctx, neo4j.AccessModeWrite, query, map[string]any{"graph_name": s.graphName})
	if err != nil {
		return fmt.Errorf("recover if interrupted: %w", err)
	}
	return nil
}

// GetStateAndTask returns the singleton state and its currently referenced task. If
// the state is FAILED and no task is current, the most recently finished errored
// task is returned instead so /kg/status can surface the last failure.
func (s *StateStore) GetStateAndTask(ctx context.Context) (State, *Task, error) {
	query := `
MERGE (s:KGState {graph_name: $graph_name})
ON CREATE SET
  s.status = 'IDLE',
  s.latest_ready_version = null,
  s.current_task_id = null,
  s.updated_at = datetime()
WITH s
OPTIONAL MATCH (t:KGTask {task_id: s.current_task_id})
RETURN s AS state, t AS task
`
	records, err := s.client.run(ctx, neo4j.AccessModeRead, query, map[string]any{"graph_name": s.graphName})
	if err != nil {
		return State{}, nil, fmt.Errorf("get state and task: %w", err)
	}
	if len(records) == 0 {
		return State{}, nil, fmt.Errorf("get state and task: no rows returned")
	}

	stateNode, _ := records[0].Get("state")
	state, err := stateFromNode(stateNode)
	if err != nil {
		return State{}, nil, err
	}

	var task *Task
	if taskNode, ok := records[0].Get("task"); ok && taskNode != nil {
		t, err := taskFromNode(taskNode)
		if err != nil {
			return State{}, nil, err
		}
		task = t
	}

	if state.Status == StatusFailed && task == nil {
		failedQuery := `
MATCH (t:KGTask)
WHERE t.finished_at IS NOT NULL AND t.error IS NOT NULL
RETURN t
ORDER BY t.finished_at DESC
LIMIT 1
`
		failedRecords, err := s.client.run(ctx, neo4j.AccessModeRead, failedQuery, nil)
		if err != nil {
			return State{}, nil, fmt.Errorf("get last failed task: %w", err)
		}
		if len(failedRecords) > 0 {
			if taskNode, ok := failedRecords[0].Get("t"); ok && taskNode != nil {
				t, err := taskFromNode(taskNode)
				if err != nil {
					return State{}, nil, err
				}
				task = t
			}
		}
	}

	return state, task, nil
}

// TryStartTask atomically claims the right to run a task, or returns a
// *ConflictError naming the task already in flight. The branch is expressed as a
// single CALL subquery with a UNION so concurrent callers observe exactly one
// winner.
func (s *StateStore) TryStartTask(ctx context.Context, taskType TaskType, version string, baseVersion *string) (*Task, error) {
	targetStatus := string(StatusBuilding)
	if taskType == TaskIncrementalUpdate {
		targetStatus = string(StatusUpdating)
	}

	query := `
MERGE (s:KGState {graph_name: $graph_name})
ON CREATE SET
  s.status = 'IDLE',
  s.latest_ready_version = null,
  s.current_task_id = null,
  s.updated_at = datetime()
WITH s
OPTIONAL MATCH (running:KGTask {task_id: s.current_task_id})
WITH s, running
CALL (s, running) {
  WITH s, running
  WHERE s.status IN ['BUILDING','UPDATING']
  RETURN true AS conflict, s AS state, running AS task
  UNION
  WITH s, running
  WHERE NOT s.status IN ['BUILDING','UPDATING']
  MERGE (t:KGTask {task_id: $task_id})
  ON CREATE SET
    t.type = $task_type,
    t.version = $version,
    t.base_version = $base_version,
    t.started_at = datetime(),
    t.finished_at = null,
    t.progress = 0,
    t.error = null
  SET s.status = $target_status, s.current_task_id = $task_id, s.updated_at = datetime()
  RETURN false AS conflict, s AS state, t AS task
}
RETURN conflict, state, task
`
	var baseVersionParam any
	if baseVersion != nil {
		baseVersionParam = *baseVersion
	}

	result, err := s.client.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"graph_name":    s.graphName,
			"task_id":       version,
			"task_type":     string(taskType),
			"version":       version,
			"base_version":  baseVersionParam,
			"target_status": targetStatus,
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		return nil, fmt.Errorf("try start task: %w", err)
	}

	record := result.(*neo4j.Record)
	conflict, _ := record.Get("conflict")
	stateNode, _ := record.Get("state")
	taskNode, _ := record.Get("task")

	state, err := stateFromNode(stateNode)
	if err != nil {
		return nil, err
	}
	var task *Task
	if taskNode != nil {
		t, err := taskFromNode(taskNode)
		if err != nil {
			return nil, err
		}
		task = t
	}

	if conflictBool, _ := conflict.(bool); conflictBool {
		return nil, &ConflictError{State: state, Task: task}
	}
	if task == nil {
		return nil, fmt.Errorf("try start task: task row missing after successful start")
	}
	return task, nil
}

// UpdateTaskProgress is an idempotent scalar update; progress is monotonic by
// convention only, not enforced here.
func (s *StateStore) UpdateTaskProgress(ctx context.Context, taskID string, progress int, message *string) error {
	query := `
MATCH (t:KGTask {task_id: $task_id})
SET t.progress = $progress
FOREACH (_ IN CASE WHEN $message IS NULL THEN [] ELSE [1] END | SET t.message = $message)
RETURN 1 AS _ignored
`
	var messageParam any
	if message != nil {
		messageParam = *message
	}
	_, err := s.client.run(ctx, neo4j.AccessModeWrite, query, map[string]any{
		"task_id":  taskID,
		"progress": progress,
		"message":  messageParam,
	})
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

// MarkTaskSuccess transitions the state to READY and advances the version pointer.
func (s *StateStore) MarkTaskSuccess(ctx context.Context, taskID, version string) error {
	query := `
MATCH (s:KGState {graph_name: $graph_name})
MATCH (t:KGTask {task_id: $task_id})
SET
  s.status = 'READY',
  s.latest_ready_version = $version,
  s.current_task_id = null,
  s.updated_at = datetime(),
  t.finished_at = datetime(),
  t.progress = 100,
  t.error = null
RETURN 1 AS _ignored
`
	_, err := s.client.run(ctx, neo4j.AccessModeWrite, query, map[string]any{
		"graph_name": s.graphName,
		"task_id":    taskID,
		"version":    version,
	})
	if err != nil {
		return fmt.Errorf("mark task success: %w", err)
	}
	return nil
}

// MarkTaskFailed transitions the state to FAILED and records the error.
func (s *StateStore) MarkTaskFailed(ctx context.Context, taskID, errMsg string) error {
	query := `
MATCH (s:KGState {graph_name: $graph_name})
MATCH (t:KGTask {task_id: $task_id})
SET
  s.status = 'FAILED',
  s.current_task_id = null,
  s.updated_at = datetime(),
  t.finished_at = datetime(),
  t.error = $error
RETURN 1 AS _ignored
`
	_, err := s.client.run(ctx, neo4j.AccessModeWrite, query, map[string]any{
		"graph_name": s.graphName,
		"task_id":    taskID,
		"error":      errMsg,
	})
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}
	return nil
}

func stateFromNode(v any) (State, error) {
	node, ok := v.(neo4j.Node)
	if !ok {
		return State{}, fmt.Errorf("state node has unexpected type %T", v)
	}
	props := node.Props

	status, _ := props["status"].(string)
	updatedAt, err := asTime(props["updated_at"])
	if err != nil {
		return State{}, fmt.Errorf("state.updated_at: %w", err)
	}

	return State{
		Status:             Status(status),
		LatestReadyVersion: asOptionalString(props["latest_ready_version"]),
		CurrentTaskID:      asOptionalString(props["current_task_id"]),
		UpdatedAt:          updatedAt,
	}, nil
}

func taskFromNode(v any) (*Task, error) {
	node, ok := v.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("task node has unexpected type %T", v)
	}
	props := node.Props

	startedAt, err := asTime(props["started_at"])
	if err != nil {
		return nil, fmt.Errorf("task.started_at: %w", err)
	}

	var finishedAt *time.Time
	if props["finished_at"] != nil {
		ft, err := asTime(props["finished_at"])
		if err != nil {
			return nil, fmt.Errorf("task.finished_at: %w", err)
		}
		finishedAt = &ft
	}

	var progress *int
	if p, ok := props["progress"].(int64); ok {
		pi := int(p)
		progress = &pi
	}

	taskID, _ := props["task_id"].(string)
	taskType, _ := props["type"].(string)
	version, _ := props["version"].(string)

	return &Task{
		TaskID:      taskID,
		Type:        TaskType(taskType),
		Version:     version,
		BaseVersion: asOptionalString(props["base_version"]),
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Progress:    progress,
		Message:     asOptionalString(props["message"]),
		Error:       asOptionalString(props["error"]),
	}, nil
}
