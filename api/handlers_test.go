package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraphsvc.evalgo.org/resultcode"
)

func TestSplitCSV(t *testing.T) {
	assert.Nil(t, splitCSV(""))
	assert.Equal(t, []string{"Person"}, splitCSV("Person"))
	assert.Equal(t, []string{"Person", "Org"}, splitCSV("Person, Org"))
	assert.Equal(t, []string{"Person", "Org"}, splitCSV("Person,,Org, "))
}

func newTestContext(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/kg/query?"+query, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func TestQueryIntParam(t *testing.T) {
	c := newTestContext("limit_nodes=50&depth=bogus")
	assert.Equal(t, 50, queryIntParam(c, "limit_nodes", 500))
	assert.Equal(t, 2, queryIntParam(c, "depth", 2))
	assert.Equal(t, 10, queryIntParam(c, "missing", 10))
}

func TestHandlers_CheckGraphName(t *testing.T) {
	h := &Handlers{GraphName: "default"}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/kg/build/full", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	assert.NoError(t, h.checkGraphName(c))

	req = httptest.NewRequest(http.MethodPost, "/kg/build/full", strings.NewReader(`{"graph_name":"other"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	err := h.checkGraphName(c)
	require.Error(t, err)
	coded, ok := resultcode.As(err)
	require.True(t, ok)
	assert.Equal(t, resultcode.KGInvalidGraphName, coded.Kind)

	req = httptest.NewRequest(http.MethodPost, "/kg/build/full", strings.NewReader(`{"graph_name":"default"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	assert.NoError(t, h.checkGraphName(c))
}

func TestHandlers_TranslateTriggerErr_Fallback(t *testing.T) {
	h := &Handlers{}
	err := h.translateTriggerErr(assertErr{"boom"}, resultcode.KGBuildFailed)
	coded, ok := resultcode.As(err)
	require.True(t, ok)
	assert.Equal(t, resultcode.KGBuildFailed, coded.Kind)
	assert.Equal(t, "boom", coded.Message)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
