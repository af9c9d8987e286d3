// Package handler mounts the HTTP surface onto echo and translates domain
// error kinds into status codes and the error envelope.
package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iabozaid/airside-operation-center/internal/eventlog"
	"github.com/iabozaid/airside-operation-center/internal/service"
)

// Error envelope codes.
const (
	codeValidation = "VALIDATION_ERROR"
	codeHTTP       = "HTTP_ERROR"
	codeInternal   = "INTERNAL_ERROR"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// RequestIDMiddleware echoes the inbound X-Request-Id or generates one, on
// every response.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get("X-Request-Id")
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set("X-Request-Id", rid)
			return next(c)
		}
	}
}

func errResp(c echo.Context, status int, code, message string) error {
	return c.JSON(status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func validationResp(c echo.Context, message string, details any) error {
	return c.JSON(http.StatusUnprocessableEntity, errorBody{
		Error: errorDetail{Code: codeValidation, Message: message, Details: details},
	})
}

// domainResp maps a service error kind onto a response.
func domainResp(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return errResp(c, http.StatusNotFound, codeHTTP, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrConcurrentModification),
		errors.Is(err, service.ErrUnknownState):
		return errResp(c, http.StatusConflict, codeHTTP, err.Error())
	case errors.Is(err, service.ErrInvalidArgument):
		return errResp(c, http.StatusBadRequest, codeHTTP, err.Error())
	case errors.Is(err, eventlog.ErrUnavailable):
		return errResp(c, http.StatusServiceUnavailable, codeHTTP, "event backbone unavailable")
	default:
		// ErrCorruptState and everything unexpected.
		return errResp(c, http.StatusInternalServerError, codeInternal, "An unexpected error occurred.")
	}
}
