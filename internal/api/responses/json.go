// Package responses writes JSON bodies and the uniform error envelope of the
// HTTP API.
package responses

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorBody describes what went wrong.
type ErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// ListResponse wraps collections so they can grow fields later.
type ListResponse struct {
	Items interface{} `json:"items"`
	Count int         `json:"count"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v)
}

// OK writes v with status 200.
func OK(w http.ResponseWriter, v interface{}) {
	JSON(w, http.StatusOK, v)
}

// Created writes v with status 201.
func Created(w http.ResponseWriter, v interface{}) {
	JSON(w, http.StatusCreated, v)
}

// NoContent writes an empty 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List writes items with their count.
func List(w http.ResponseWriter, items interface{}, count int) {
	OK(w, ListResponse{Items: items, Count: count})
}

// Error maps err onto a status code and writes the error envelope.
func Error(w http.ResponseWriter, err error) {
	status, body := describe(err)
	writeError(w, status, body)
}

// BadRequest writes a 400 for a request the handler could not decode.
func BadRequest(w http.ResponseWriter, message string, err error) {
	body := ErrorBody{Code: errors.CodeInvalidInput, Message: message}
	if err != nil {
		body.Details = err.Error()
	}
	writeError(w, http.StatusBadRequest, body)
}

func writeError(w http.ResponseWriter, status int, body ErrorBody) {
	JSON(w, status, ErrorResponse{
		Error:     body,
		Timestamp: time.Now().UTC(),
		RequestID: w.Header().Get(constants.HeaderRequestID),
	})
}

func describe(err error) (int, ErrorBody) {
	var verrs *errors.ValidationErrors
	if stderrors.As(err, &verrs) {
		return http.StatusBadRequest, ErrorBody{
			Code:    errors.CodeInvalidInput,
			Message: verrs.Message,
			Details: verrs.Errors,
		}
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		body := ErrorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Field:   appErr.Field,
		}
		if appErr.Details != "" {
			body.Details = appErr.Details
		} else if appErr.Cause != nil {
			body.Details = appErr.Cause.Error()
		}
		return errors.HTTPStatus(err), body
	}

	switch {
	case stderrors.Is(err, errors.ErrSessionClosed):
		return http.StatusGone, ErrorBody{Code: "SESSION_CLOSED", Message: err.Error()}
	case stderrors.Is(err, errors.ErrEngineClosed):
		return http.StatusServiceUnavailable, ErrorBody{Code: "ENGINE_CLOSED", Message: err.Error()}
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorBody{Code: "TIMEOUT", Message: err.Error()}
	}
	return http.StatusInternalServerError, ErrorBody{Code: errors.CodeInternalError, Message: err.Error()}
}
