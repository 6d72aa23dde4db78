package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"kgraphsvc.evalgo.org/common"
	"kgraphsvc.evalgo.org/resultcode"
)

// envelope is the {code, msg, data, error} response shape every endpoint returns,
// the Go rendering of the reference's APIResponse.
type envelope struct {
	Code  resultcode.Kind `json:"code"`
	Msg   string          `json:"msg"`
	Data  any             `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

const successMsg = "OK"

// ok writes a 200 response carrying data in the envelope's data field.
func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Code: resultcode.Unclassified, Msg: successMsg, Data: data})
}

// HTTPErrorHandler is installed as the Echo instance's HTTPErrorHandler so every
// error returned from a handler or middleware, regardless of where it originates,
// is rendered through the same envelope shape and maps to a real HTTP status
// (Kind.Status()), unlike the reference which always answers HTTP 200 and
// distinguishes outcomes purely by the envelope's code field.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var coded *resultcode.CodedError
	if errors.As(err, &coded) {
		writeErr(c, coded.Kind.Status(), coded.Kind, coded.Error(), coded.Detail)
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message, _ := httpErr.Message.(string)
		writeErr(c, httpErr.Code, resultcode.Unclassified, message, nil)
		return
	}

	common.Logger.WithError(err).WithFields(logrus.Fields{
		"path": c.Request().URL.Path,
	}).Error("unhandled request error")
	writeErr(c, http.StatusInternalServerError, resultcode.Unclassified, err.Error(), nil)
}

func writeErr(c echo.Context, status int, kind resultcode.Kind, message string, detail any) {
	resp := envelope{Code: kind, Msg: message}
	if detail != nil {
		if s, ok := detail.(string); ok {
			resp.Error = s
		} else {
			resp.Data = detail
		}
	} else {
		resp.Error = message
	}
	if err := c.JSON(status, resp); err != nil {
		common.Logger.WithError(err).Error("failed to write error response")
	}
}
