// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for constructing JSON responses.
// It provides a type-safe, fluent API for consistent response formatting and
// the mapping from domain errors to HTTP status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"colletta/internal/core"
)

// APIResponseBuilder provides a fluent API for building JSON responses.
type APIResponseBuilder struct {
	statusCode int
	headers    map[string]string
	payload    any
	hasPayload bool
}

// NewAPIResponse creates a new response builder with default 200 status.
func NewAPIResponse() *APIResponseBuilder {
	return &APIResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *APIResponseBuilder) Status(code int) *APIResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *APIResponseBuilder) Header(name, value string) *APIResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the response payload, encoded when Write is called.
func (b *APIResponseBuilder) JSON(payload any) *APIResponseBuilder {
	b.payload = payload
	b.hasPayload = true
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *APIResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}

	if b.hasPayload {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}

	w.WriteHeader(b.statusCode)
	if b.hasPayload {
		_ = json.NewEncoder(w).Encode(b.payload)
	}
}

// errorBody is the JSON envelope every error response uses.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse creates an error response carrying a machine-readable code
// alongside the human-readable message.
func ErrorResponse(statusCode int, code, message string) *APIResponseBuilder {
	return NewAPIResponse().
		Status(statusCode).
		JSON(errorBody{Error: errorDetail{Code: code, Message: message}})
}

// apiError maps domain errors onto HTTP statuses and stable error codes.
// Validation failures are 422, authorization failures 403, lifecycle
// conflicts 409. Unknown errors collapse to a generic 500 so internals
// never leak to clients.
func apiError(err error) *APIResponseBuilder {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return ErrorResponse(http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, core.ErrUnauthorized):
		return ErrorResponse(http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, core.ErrInvalidAmount):
		return ErrorResponse(http.StatusUnprocessableEntity, "invalid_amount", err.Error())
	case errors.Is(err, core.ErrInvalidParameters):
		return ErrorResponse(http.StatusUnprocessableEntity, "invalid_parameters", err.Error())
	case errors.Is(err, core.ErrSelfContribution):
		return ErrorResponse(http.StatusUnprocessableEntity, "self_contribution", err.Error())
	case errors.Is(err, core.ErrNotOpen):
		return ErrorResponse(http.StatusConflict, "not_open", err.Error())
	case errors.Is(err, core.ErrDeadlinePassed):
		return ErrorResponse(http.StatusConflict, "deadline_passed", err.Error())
	case errors.Is(err, core.ErrNotSettlementEligible):
		return ErrorResponse(http.StatusConflict, "not_settlement_eligible", err.Error())
	case errors.Is(err, core.ErrGoalNotReached):
		return ErrorResponse(http.StatusConflict, "goal_not_reached", err.Error())
	case errors.Is(err, core.ErrGoalReached):
		return ErrorResponse(http.StatusConflict, "goal_reached", err.Error())
	case errors.Is(err, core.ErrAlreadySettled):
		return ErrorResponse(http.StatusConflict, "already_settled", err.Error())
	case errors.Is(err, core.ErrNoEligibleAction):
		return ErrorResponse(http.StatusConflict, "no_eligible_action", err.Error())
	default:
		return ErrorResponse(http.StatusInternalServerError, "internal", "internal server error")
	}
}
