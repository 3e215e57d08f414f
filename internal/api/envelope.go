package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seminarhub/internal/audit"
	"seminarhub/internal/store"
	"seminarhub/internal/validate"
)

// Error is a failed request. Message is sent to the client verbatim.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

var errInvalidJSON = &Error{Status: http.StatusBadRequest, Message: "Invalid JSON in request body"}

func badRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg}
}

func notFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Message: msg}
}

// respond wraps payload as {"data": payload}.
func respond(c *gin.Context, status int, payload any) {
	c.JSON(status, gin.H{"data": payload})
}

// abort writes {"error": message} and stops the handler chain.
func abort(c *gin.Context, err error) {
	apiErr := toError(err)
	c.Set(audit.ErrorKey, apiErr.Message)
	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr.Message})
}

func toError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var valErr *validate.Error
	if errors.As(err, &valErr) {
		return badRequest(valErr.Message)
	}
	var cfgErr *store.ConfigError
	if errors.As(err, &cfgErr) {
		return &Error{Status: http.StatusInternalServerError, Message: cfgErr.Error()}
	}
	return &Error{Status: http.StatusInternalServerError, Message: err.Error()}
}

// upstream logs a failed store operation and answers 500 with
// "Failed to <op>: <store message>".
func (s *Server) upstream(c *gin.Context, op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
	s.log.Error("store operation failed", fields...)
	abort(c, &Error{Status: http.StatusInternalServerError, Message: "Failed to " + op + ": " + err.Error()})
}

// body decodes a JSON object. An empty body is an empty object; anything
// that is not an object is invalid.
func (s *Server) body(c *gin.Context) (map[string]any, bool) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abort(c, errInvalidJSON)
		return nil, false
	}
	if len(raw) == 0 {
		return map[string]any{}, true
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		s.log.Warn("JSON decode error", zap.String("path", c.Request.URL.Path), zap.Error(err))
		abort(c, errInvalidJSON)
		return nil, false
	}
	return out, true
}

// validBody decodes the body and checks it for op.
func (s *Server) validBody(c *gin.Context, op validate.Operation) (map[string]any, bool) {
	body, ok := s.body(c)
	if !ok {
		return nil, false
	}
	if _, err := validate.Check(op, body); err != nil {
		abort(c, err)
		return nil, false
	}
	return body, true
}
