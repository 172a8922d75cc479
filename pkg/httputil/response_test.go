package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/usersync/pkg/identity"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"success"}`, w.Body.String())
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
	}{
		{name: "bad request", write: func(w http.ResponseWriter) { WriteBadRequest(w, "nope") }, status: http.StatusBadRequest},
		{name: "unauthorized", write: func(w http.ResponseWriter) { WriteUnauthorized(w, "nope") }, status: http.StatusUnauthorized},
		{name: "forbidden", write: func(w http.ResponseWriter) { WriteForbidden(w, "nope") }, status: http.StatusForbidden},
		{name: "not found", write: func(w http.ResponseWriter) { WriteNotFound(w, "nope") }, status: http.StatusNotFound},
		{name: "error", write: func(w http.ResponseWriter) { WriteError(w, http.StatusTeapot, errors.New("nope")) }, status: http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, `{"error":"nope"}`, w.Body.String())
		})
	}
}

func TestWriteCreatedAndNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]string{"id": "u-1"}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: identity.ErrMissingIdentity, want: http.StatusUnauthorized},
		{err: identity.ErrInvalidRequest, want: http.StatusBadRequest},
		{err: identity.ErrUserNotFound, want: http.StatusNotFound},
		{err: identity.ErrRoleNotFound, want: http.StatusNotFound},
		{err: identity.ErrReconciliationConflict, want: http.StatusConflict},
		{err: identity.ErrUserExists, want: http.StatusConflict},
		{err: identity.ErrRoleExists, want: http.StatusConflict},
		{err: identity.ErrIdentityProviderUnavailable, want: http.StatusBadGateway},
		{err: fmt.Errorf("failed to push: %w", identity.ErrIdentityProviderUnavailable), want: http.StatusBadGateway},
		{err: errors.New("disk full"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}

func TestWriteIdentityError_CarriesUsername(t *testing.T) {
	w := httptest.NewRecorder()
	err := identity.NewUserError("update profile", "sasuke", identity.ErrIdentityProviderUnavailable)

	WriteIdentityError(w, err)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sasuke", resp.Username)
	assert.Contains(t, resp.Error, "sasuke")
}
