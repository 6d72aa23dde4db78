package kgstore

import "time"

// Status is the KGState.status enumeration.
type Status string

const (
	StatusIdle     Status = "IDLE"
	StatusBuilding Status = "BUILDING"
	StatusUpdating Status = "UPDATING"
	StatusReady    Status = "READY"
	StatusFailed   Status = "FAILED"
)

// TaskType distinguishes a full rebuild from an incremental update.
type TaskType string

const (
	TaskFullBuild         TaskType = "full_build"
	TaskIncrementalUpdate TaskType = "incremental_update"
)

// State is the KGState singleton for one logical graph.
type State struct {
	Status             Status
	LatestReadyVersion *string
	CurrentTaskID      *string
	UpdatedAt          time.Time
}

// Task is a single build/update task row.
type Task struct {
	TaskID      string
	Type        TaskType
	Version     string
	BaseVersion *string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Progress    *int
	Message     *string
	Error       *string
}

// ConflictError is raised by TryStartTask when a task is already in flight. It
// carries the observed state and the currently running task so callers can surface
// KG_TASK_RUNNING with the winner's identity.
type ConflictError struct {
	State State
	Task  *Task
}

func (e *ConflictError) Error() string { return "TASK_RUNNING" }

// Entity is a versioned knowledge-graph node.
type Entity struct {
	Label      string
	Name       string
	Embeddings []float64
}

// Relationship is a versioned knowledge-graph edge.
type Relationship struct {
	StartLabel  string
	StartName   string
	EndLabel    string
	EndName     string
	Predicate   string
	AtomicFacts []string
	TObs        []string
	TStart      []string
	TEnd        []string
	Embeddings  []float64
}

// Graph is a snapshot of entities and relationships for one version.
type Graph struct {
	Entities      []Entity
	Relationships []Relationship
}

// QueryNode is a node in a /kg/query projection.
type QueryNode struct {
	ID         string
	Types      []string
	Name       string
	Properties map[string]any
}

// QueryEdge is an edge in a /kg/query projection.
type QueryEdge struct {
	ID         string
	Type       string
	Source     string
	Target     string
	Properties map[string]any
}
