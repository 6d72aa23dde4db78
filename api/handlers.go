package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"kgraphsvc.evalgo.org/build"
	"kgraphsvc.evalgo.org/kgstore"
	"kgraphsvc.evalgo.org/metrics"
	"kgraphsvc.evalgo.org/querycache"
	"kgraphsvc.evalgo.org/resultcode"
	"kgraphsvc.evalgo.org/version"
)

// Handlers wires the durable state machine, the versioned graph store, the build
// trigger service and the optional query cache into the HTTP surface named by the
// external interfaces design: /kg/status, /kg/build/full, /kg/update/incremental,
// /kg/types/entities, /kg/types/relations, /kg/query and /kg/stats.
type Handlers struct {
	GraphName string
	State     *kgstore.StateStore
	Graph     *kgstore.GraphStore
	Build     *build.Service
	Cache     *querycache.Cache // nil disables caching
	Metrics   *metrics.Metrics  // nil disables instrumentation

	DefaultLimitNodes int
	DefaultLimitEdges int
	DefaultDepth      int
	MaxSeedNodes      int
}

// RegisterRoutes adds the knowledge-graph endpoints to an Echo group, following the
// teacher's statemanager.Manager.RegisterRoutes(g *echo.Group) idiom.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("/kg/status", h.handleStatus)
	g.POST("/kg/build/full", h.handleBuildFull)
	g.POST("/kg/update/incremental", h.handleUpdateIncremental)
	g.GET("/kg/types/entities", h.handleEntityTypes)
	g.GET("/kg/types/relations", h.handleRelationTypes)
	g.GET("/kg/query", h.handleQuery)
	g.GET("/kg/stats", h.handleStats)
}

type statusResponse struct {
	Status             kgstore.Status `json:"status"`
	LatestReadyVersion *string        `json:"latest_ready_version"`
	CurrentTask        *kgstore.Task  `json:"current_task"`
	ServiceVersion     string         `json:"service_version"`
}

var allStatuses = []string{
	string(kgstore.StatusIdle), string(kgstore.StatusBuilding), string(kgstore.StatusUpdating),
	string(kgstore.StatusReady), string(kgstore.StatusFailed),
}

func (h *Handlers) handleStatus(c echo.Context) error {
	state, task, err := h.State.GetStateAndTask(c.Request().Context())
	if err != nil {
		return err
	}
	if h.Metrics != nil {
		h.Metrics.SetStateStatus(string(state.Status), allStatuses)
	}
	return ok(c, statusResponse{
		Status:             state.Status,
		LatestReadyVersion: state.LatestReadyVersion,
		CurrentTask:        task,
		ServiceVersion:     version.GetServiceVersion(),
	})
}

type graphNameBody struct {
	GraphName string `json:"graph_name"`
}

// checkGraphName enforces the external interfaces design's single-graph rule: a
// caller may omit graph_name, but if given it must equal the one configured name.
func (h *Handlers) checkGraphName(c echo.Context) error {
	body := graphNameBody{}
	if strings.HasPrefix(c.Request().Header.Get("Content-Type"), "application/json") {
		// Binding a possibly-empty body is fine; absent/invalid JSON just leaves
		// GraphName empty, matching the reference's payload-or-{} fallback.
		_ = c.Bind(&body)
	}
	name := strings.TrimSpace(body.GraphName)
	if name != "" && name != h.GraphName {
		return resultcode.New(resultcode.KGInvalidGraphName, "only graph_name="+h.GraphName+" is supported")
	}
	return nil
}

type triggerFullResponse struct {
	TaskID  string         `json:"task_id"`
	Status  kgstore.Status `json:"status"`
	Version string         `json:"version"`
}

func (h *Handlers) handleBuildFull(c echo.Context) error {
	if err := h.checkGraphName(c); err != nil {
		return err
	}

	result, err := h.Build.TriggerFull(c.Request().Context())
	if err != nil {
		return h.translateTriggerErr(err, resultcode.KGBuildFailed)
	}
	return ok(c, triggerFullResponse{TaskID: result.TaskID, Status: result.Status, Version: result.Version})
}

type triggerIncrementalResponse struct {
	TaskID      string         `json:"task_id"`
	Status      kgstore.Status `json:"status"`
	Version     string         `json:"version"`
	BaseVersion string         `json:"base_version"`
}

func (h *Handlers) handleUpdateIncremental(c echo.Context) error {
	if err := h.checkGraphName(c); err != nil {
		return err
	}

	ctx := c.Request().Context()
	state, _, err := h.State.GetStateAndTask(ctx)
	if err != nil {
		return err
	}
	if state.LatestReadyVersion == nil {
		return resultcode.New(resultcode.KGNoBaseVersion, "no ready version exists to update from")
	}

	result, err := h.Build.TriggerIncremental(ctx, *state.LatestReadyVersion)
	if err != nil {
		return h.translateTriggerErr(err, resultcode.KGUpdateFailed)
	}
	baseVersion := *state.LatestReadyVersion
	if result.BaseVersion != nil {
		baseVersion = *result.BaseVersion
	}
	return ok(c, triggerIncrementalResponse{
		TaskID:      result.TaskID,
		Status:      result.Status,
		Version:     result.Version,
		BaseVersion: baseVersion,
	})
}

// translateTriggerErr maps a *kgstore.ConflictError from TryStartTask to
// KGTaskRunning, carrying the in-flight task's status snapshot as Detail; any
// other error is surfaced as fallback (build or update, per caller).
func (h *Handlers) translateTriggerErr(err error, fallback resultcode.Kind) error {
	var conflict *kgstore.ConflictError
	if ce, ok := err.(*kgstore.ConflictError); ok {
		conflict = ce
	}
	if conflict != nil {
		return resultcode.New(resultcode.KGTaskRunning, "a task is already running").WithDetail(statusResponse{
			Status:             conflict.State.Status,
			LatestReadyVersion: conflict.State.LatestReadyVersion,
			CurrentTask:        conflict.Task,
		})
	}
	return resultcode.New(fallback, err.Error())
}

type typesResponse struct {
	Version       string   `json:"version"`
	EntityTypes   []string `json:"entity_types,omitempty"`
	RelationTypes []string `json:"relation_types,omitempty"`
}

// readyVersion returns the latest ready version or a KGNoReadyVersion error, the
// common guard shared by every read endpoint below /kg/status.
func (h *Handlers) readyVersion(c echo.Context) (string, error) {
	state, _, err := h.State.GetStateAndTask(c.Request().Context())
	if err != nil {
		return "", err
	}
	if state.LatestReadyVersion == nil {
		return "", resultcode.New(resultcode.KGNoReadyVersion, "no version has finished building yet")
	}
	return *state.LatestReadyVersion, nil
}

func (h *Handlers) handleEntityTypes(c echo.Context) error {
	version, err := h.readyVersion(c)
	if err != nil {
		return err
	}
	types, err := h.Graph.GetEntityTypes(c.Request().Context(), version)
	if err != nil {
		return err
	}
	return ok(c, typesResponse{Version: version, EntityTypes: types})
}

func (h *Handlers) handleRelationTypes(c echo.Context) error {
	version, err := h.readyVersion(c)
	if err != nil {
		return err
	}
	types, err := h.Graph.GetRelationTypes(c.Request().Context(), version)
	if err != nil {
		return err
	}
	return ok(c, typesResponse{Version: version, RelationTypes: types})
}

type queryResponse struct {
	Version   string              `json:"version"`
	Nodes     []kgstore.QueryNode `json:"nodes"`
	Edges     []kgstore.QueryEdge `json:"edges"`
	Truncated bool                `json:"truncated"`
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func queryIntParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (h *Handlers) handleQuery(c echo.Context) error {
	version, err := h.readyVersion(c)
	if err != nil {
		return err
	}

	opts := kgstore.QueryOptions{
		Query:             c.QueryParam("q"),
		EntityTypes:       splitCSV(c.QueryParam("entity_types")),
		RelationTypes:     splitCSV(c.QueryParam("relation_types")),
		LimitNodes:        queryIntParam(c, "limit_nodes", h.DefaultLimitNodes),
		LimitEdges:        queryIntParam(c, "limit_edges", h.DefaultLimitEdges),
		Depth:             queryIntParam(c, "depth", h.DefaultDepth),
		MaxSeedNodes:      h.MaxSeedNodes,
		IncludeProperties: c.QueryParam("include_properties") == "true" || c.QueryParam("include_properties") == "1",
	}

	ctx := c.Request().Context()
	start := time.Now()

	if h.Cache != nil {
		key, keyErr := querycache.Key(version, opts)
		if keyErr == nil {
			var cached queryResponse
			if found, getErr := h.Cache.Get(ctx, key, &cached); getErr == nil && found {
				h.observeQuery("hit", start)
				return ok(c, cached)
			}
		}

		nodes, edges, truncated, err := h.Graph.Query(ctx, version, opts)
		if err != nil {
			return err
		}
		resp := queryResponse{Version: version, Nodes: nodes, Edges: edges, Truncated: truncated}
		if keyErr == nil {
			_ = h.Cache.Set(ctx, key, resp)
		}
		h.observeQuery("miss", start)
		return ok(c, resp)
	}

	nodes, edges, truncated, err := h.Graph.Query(ctx, version, opts)
	if err != nil {
		return err
	}
	h.observeQuery("disabled", start)
	return ok(c, queryResponse{Version: version, Nodes: nodes, Edges: edges, Truncated: truncated})
}

func (h *Handlers) observeQuery(cacheOutcome string, start time.Time) {
	if h.Metrics != nil {
		h.Metrics.ObserveQuery(cacheOutcome, time.Since(start))
	}
}

type statsResponse struct {
	Version       string `json:"version"`
	EntityCount   int    `json:"entity_count"`
	RelationCount int    `json:"relation_count"`
	NodeTypeCount int    `json:"node_type_count"`
}

func (h *Handlers) handleStats(c echo.Context) error {
	version, err := h.readyVersion(c)
	if err != nil {
		return err
	}
	entityCount, relationCount, nodeTypeCount, err := h.Graph.GetStats(c.Request().Context(), version)
	if err != nil {
		return err
	}
	return ok(c, statsResponse{
		Version:       version,
		EntityCount:   entityCount,
		RelationCount: relationCount,
		NodeTypeCount: nodeTypeCount,
	})
}

// RegisterHealthz adds the unauthenticated liveness probe, a supplemented feature
// standard for the teacher's Echo services but absent from the external interfaces
// table.
func RegisterHealthz(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
}
