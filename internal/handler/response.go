package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"campaignengine/internal/service"
)

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	_ = WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteValidationError writes a 400 Bad Request response with VALIDATION_ERROR code
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", message)
}

// WriteInternalError writes a 500 response without exposing internal details to the client
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

// HandleServiceError maps service layer errors to appropriate HTTP responses
func HandleServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		notFound   *service.NotFoundError
		validation *service.ValidationError
		state      *service.InvalidStateError
	)

	switch {
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", notFound.Error())
	case errors.As(err, &validation):
		WriteValidationError(w, validation.Message)
	case errors.As(err, &state):
		WriteError(w, http.StatusConflict, "INVALID_STATE", state.Error())
	default:
		log.Error("Unhandled service error", zap.Error(err))
		WriteInternalError(w)
	}
}

// decodeBody decodes a JSON request body, writing a 400 response on failure
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
			return false
		}
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return false
	}
	return true
}

// pathID reads the {id} route variable, writing a 400 response when it is not a positive integer
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		WriteValidationError(w, "invalid campaign ID format")
		return 0, false
	}
	if id <= 0 {
		WriteValidationError(w, "campaign ID must be greater than 0")
		return 0, false
	}
	return id, true
}
