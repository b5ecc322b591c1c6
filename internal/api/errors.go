package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/llamacore/internal/model"
)

var (
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrSessionNotFound = errors.New("session not found")
	ErrAtCapacity      = errors.New("session limit reached")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

func writeBadRequest(c *echo.Context, msg, param string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, param, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeModelError maps engine errors onto HTTP statuses.
func writeModelError(c *echo.Context, err error) error {
	var pe *model.PreconditionError
	var ae *model.AllocationError
	switch {
	case errors.As(err, &pe):
		return writeBadRequest(c, pe.Error(), pe.Arg)
	case errors.Is(err, ErrInvalidRequest):
		return writeBadRequest(c, err.Error(), "")
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, model.ErrClosed):
		return writeNotFound(c, err.Error())
	case errors.Is(err, model.ErrConcurrentUse):
		return writeError(c, http.StatusConflict, "conflict_error", err.Error(), "", "")
	case errors.Is(err, ErrAtCapacity):
		return writeError(c, http.StatusServiceUnavailable, "capacity_error", err.Error(), "", "max_sessions")
	case errors.As(err, &ae):
		return writeError(c, http.StatusServiceUnavailable, "capacity_error", err.Error(), "", "allocation")
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
}

func decodeJSON[T any](c *echo.Context) (T, error) {
	var out T
	body := c.Request().Body
	if body == nil {
		return out, nil
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		return out, newInvalidRequest("invalid JSON body: " + err.Error())
	}
	return out, nil
}
