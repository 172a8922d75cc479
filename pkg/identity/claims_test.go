package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_Extract(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		clientID    string
		expected    Claims
		expectError error
	}{
		{
			name:    "all claims with realm roles",
			payload: `{"preferred_username":"nguyen","email":"n@x.com","name":"Nguyen Van A","realm_access":{"roles":["CHARACTER","offline_access"]}}`,
			expected: Claims{
				Username:    "nguyen",
				Email:       "n@x.com",
				DisplayName: "Nguyen Van A",
				Roles:       []string{"CHARACTER", "offline_access"},
			},
		},
		{
			name:    "optional claims absent",
			payload: `{"preferred_username":"alice"}`,
			expected: Claims{
				Username: "alice",
				Roles:    []string{},
			},
		},
		{
			name:    "falls back to default client roles",
			payload: `{"preferred_username":"bob","resource_access":{"sss-backend":{"roles":["admin"]},"account":{"roles":["manage-account"]}}}`,
			expected: Claims{
				Username: "bob",
				Roles:    []string{"admin"},
			},
		},
		{
			name:     "falls back to configured client roles",
			clientID: "web",
			payload:  `{"preferred_username":"bob","resource_access":{"sss-backend":{"roles":["admin"]},"web":{"roles":["character"]}}}`,
			expected: Claims{
				Username: "bob",
				Roles:    []string{"character"},
			},
		},
		{
			name:    "realm roles take precedence over client roles",
			payload: `{"preferred_username":"carol","realm_access":{"roles":["user"]},"resource_access":{"sss-backend":{"roles":["admin"]}}}`,
			expected: Claims{
				Username: "carol",
				Roles:    []string{"user"},
			},
		},
		{
			name:    "other client roles are ignored",
			payload: `{"preferred_username":"dave","resource_access":{"account":{"roles":["admin"]}}}`,
			expected: Claims{
				Username: "dave",
				Roles:    []string{},
			},
		},
		{
			name:    "duplicate roles collapse",
			payload: `{"preferred_username":"erin","realm_access":{"roles":["admin","admin",""]}}`,
			expected: Claims{
				Username: "erin",
				Roles:    []string{"admin"},
			},
		},
		{
			name:        "missing username",
			payload:     `{"email":"n@x.com","realm_access":{"roles":["admin"]}}`,
			expectError: ErrMissingIdentity,
		},
		{
			name:        "blank username",
			payload:     `{"preferred_username":"   "}`,
			expectError: ErrMissingIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := NewExtractor(tt.clientID)
			claims, err := ext.ExtractJSON([]byte(tt.payload))
			if tt.expectError != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.expectError))
				assert.Empty(t, claims.Username)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, claims)
		})
	}
}

func TestExtractor_NilClaims(t *testing.T) {
	_, err := NewExtractor("").Extract(nil)
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestExtractor_InvalidJSON(t *testing.T) {
	_, err := NewExtractor("").ExtractJSON([]byte(`{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode token claims")
}

func TestNewExtractor_DefaultClientID(t *testing.T) {
	assert.Equal(t, DefaultTokenClientID, NewExtractor("").ClientID())
	assert.Equal(t, "web", NewExtractor("web").ClientID())
}
