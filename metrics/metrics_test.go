package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveTask(t *testing.T) {
	m := New("kgraphsvc_test_task")
	m.ObserveTask("full_build", "success", 2*time.Second)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksTotal.WithLabelValues("full_build", "success")))
}

func TestSetStateStatus(t *testing.T) {
	m := New("kgraphsvc_test_state")
	all := []string{"idle", "building", "ready"}
	m.SetStateStatus("building", all)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.StateStatus.WithLabelValues("idle")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StateStatus.WithLabelValues("building")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.StateStatus.WithLabelValues("ready")))
}

func TestObserveRateLimiterWait(t *testing.T) {
	m := New("kgraphsvc_test_rl")
	m.ObserveRateLimiterWait("chat", 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimiterWaits.WithLabelValues("chat")))
}

func TestObserveGraphWrite(t *testing.T) {
	m := New("kgraphsvc_test_gw")
	m.ObserveGraphWrite("incremental_update", 3, 5)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.GraphWriteNodes.WithLabelValues("incremental_update")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.GraphWriteEdges.WithLabelValues("incremental_update")))
}

func TestObserveQuery(t *testing.T) {
	m := New("kgraphsvc_test_q")
	m.ObserveQuery("hit", 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits.WithLabelValues("hit")))
}
