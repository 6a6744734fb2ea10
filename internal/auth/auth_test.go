package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authServer(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHTTPValidatorValidToken(t *testing.T) {
	url := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req validateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Token != "valid-token" {
			_ = json.NewEncoder(w).Encode(validateResponse{Valid: false})
			return
		}
		_ = json.NewEncoder(w).Encode(validateResponse{
			Valid:         true,
			ParticipantID: "agent-123",
			Username:      "brawler",
			OwnerID:       "github:456",
		})
	})

	identity, err := NewHTTPValidator(url, "").Validate(context.Background(), "valid-token")
	require.NoError(t, err)
	assert.Equal(t, &Identity{ParticipantID: "agent-123", Username: "brawler", OwnerID: "github:456"}, identity)

	_, err = NewHTTPValidator(url, "").Validate(context.Background(), "other")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPValidatorUsernameDefaultsToID(t *testing.T) {
	url := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(validateResponse{Valid: true, ParticipantID: "agent-9"})
	})
	identity, err := NewHTTPValidator(url, "").Validate(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, "agent-9", identity.Username)
}

func TestHTTPValidatorMissingParticipant(t *testing.T) {
	url := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(validateResponse{Valid: true})
	})
	_, err := NewHTTPValidator(url, "").Validate(context.Background(), "t")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPValidatorEmptyToken(t *testing.T) {
	_, err := NewHTTPValidator("http://localhost:9999", "").Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPValidatorStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrInvalidToken},
		{"forbidden", http.StatusForbidden, ErrInvalidToken},
		{"rate limited", http.StatusTooManyRequests, ErrUnavailable},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, ErrUnavailable},
		{"unexpected", http.StatusTeapot, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := authServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})
			_, err := NewHTTPValidator(url, "").Validate(context.Background(), "token")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPValidatorTimeout(t *testing.T) {
	url := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	_, err := NewHTTPValidator(url, "").Validate(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPValidatorAdminSecret(t *testing.T) {
	for _, secret := range []string{"my-secret", ""} {
		var received string
		url := authServer(t, func(w http.ResponseWriter, r *http.Request) {
			received = r.Header.Get("X-Admin-Secret")
			_ = json.NewEncoder(w).Encode(validateResponse{Valid: true, ParticipantID: "p"})
		})
		_, err := NewHTTPValidator(url, secret).Validate(context.Background(), "token")
		require.NoError(t, err)
		assert.Equal(t, secret, received)
	}
}

func TestHTTPValidatorMalformedJSON(t *testing.T) {
	url := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	_, err := NewHTTPValidator(url, "").Validate(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPValidatorNetworkError(t *testing.T) {
	_, err := NewHTTPValidator("http://localhost:1", "").Validate(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDevValidator(t *testing.T) {
	v := NewDevValidator()
	identity, err := v.Validate(context.Background(), " alice ")
	require.NoError(t, err)
	assert.Equal(t, "dev:alice", identity.ParticipantID)
	assert.Equal(t, "alice", identity.Username)

	_, err = v.Validate(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
