package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/core"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var kindStatus = map[string]int{
	core.KindNotFound:      http.StatusNotFound,
	core.KindExpired:       http.StatusGone,
	core.KindInvalidToken:  http.StatusUnauthorized,
	core.KindAlreadyViewed: http.StatusConflict,
	core.KindConflict:      http.StatusConflict,
	core.KindForbidden:     http.StatusForbidden,
	core.KindValidation:    http.StatusBadRequest,
	core.KindInternal:      http.StatusInternalServerError,
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind string) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error","kind"}. Internal errors are logged and
// their text is not echoed to the client.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := core.Kind(err)
	status := StatusForKind(kind)

	msg := err.Error()
	if kind == core.KindInternal {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		msg = "internal server error"
	}
	c.JSON(status, ErrorResponse{Error: msg, Kind: kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Kind: core.KindValidation})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: msg, Kind: core.KindNotFound})
}

func internalError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg, Kind: core.KindInternal})
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
