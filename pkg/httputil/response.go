package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/usersync/pkg/identity"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error    string `json:"error"`
	Username string `json:"username,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 response with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 response with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a 204 response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteError writes err with the given status code
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteBadRequest writes a 400 error
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes a 401 error
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a 403 error
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteNotFound writes a 404 error
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// StatusForError maps the identity error taxonomy to an HTTP status
func StatusForError(err error) int {
	switch {
	case errors.Is(err, identity.ErrMissingIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, identity.ErrRoleNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrReconciliationConflict),
		errors.Is(err, identity.ErrUserExists),
		errors.Is(err, identity.ErrRoleExists):
		return http.StatusConflict
	case errors.Is(err, identity.ErrIdentityProviderUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WriteIdentityError writes err with the status from StatusForError. A
// *identity.UserError contributes the username it failed on.
func WriteIdentityError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var userErr *identity.UserError
	if errors.As(err, &userErr) {
		resp.Username = userErr.Username
	}
	WriteJSON(w, StatusForError(err), resp)
}
