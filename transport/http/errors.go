package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/zelid/core"
)

var statusByKind = map[core.Kind]int{
	core.KindValidation:       http.StatusBadRequest,
	core.KindPhraseNotFound:   http.StatusNotFound,
	core.KindPhraseExpired:    http.StatusGone,
	core.KindAlreadyVerified:  http.StatusConflict,
	core.KindInvalidSignature: http.StatusUnauthorized,
	core.KindUnauthenticated:  http.StatusUnauthorized,
	core.KindForbidden:        http.StatusForbidden,
	core.KindNotFound:         http.StatusNotFound,
	core.KindConflict:         http.StatusConflict,
	core.KindInternal:         http.StatusInternalServerError,
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// abortWithError maps a domain error onto its status code. Internal details
// are never written to the client.
func abortWithError(c *gin.Context, err error) {
	kind := core.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := "internal error"
	if kind != core.KindInternal {
		msg = publicMessage(err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: kind.String()})
}

func publicMessage(err error) string {
	var e *core.Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return core.KindOf(err).String()
}
