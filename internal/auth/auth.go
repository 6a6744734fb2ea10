// Package auth turns connection tokens into verified participant identities.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token is definitively invalid.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnavailable indicates the auth service is unreachable or unavailable.
	// Callers may choose to fail open (allow) or fail closed (reject).
	ErrUnavailable = errors.New("auth: unavailable")
)

// Identity is a verified participant. The rest of the server trusts
// ParticipantID as given.
type Identity struct {
	ParticipantID string `json:"participant_id"`
	Username      string `json:"username"`
	OwnerID       string `json:"owner_id,omitempty"`
}

// Validator validates authentication tokens.
type Validator interface {
	// Validate returns the identity behind token, ErrInvalidToken when the
	// token is rejected, or ErrUnavailable when it cannot be checked.
	Validate(ctx context.Context, token string) (*Identity, error)
}

// HTTPValidator validates tokens via HTTP callback to external service.
type HTTPValidator struct {
	url         string
	client      *http.Client
	adminSecret string
	timeout     time.Duration
}

// NewHTTPValidator creates a validator that calls an external HTTP endpoint.
func NewHTTPValidator(url string, adminSecret string) *HTTPValidator {
	const timeout = 500 * time.Millisecond
	return &HTTPValidator{
		url:         url,
		adminSecret: adminSecret,
		timeout:     timeout,
		client:      &http.Client{Timeout: timeout},
	}
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid         bool   `json:"valid"`
	ParticipantID string `json:"participant_id,omitempty"`
	Username      string `json:"username,omitempty"`
	OwnerID       string `json:"owner_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (v *HTTPValidator) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	reqBody, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.adminSecret != "" {
		req.Header.Set("X-Admin-Secret", v.adminSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrInvalidToken
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	// Limit response body to 1MB to avoid pathological responses
	var authResp validateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&authResp); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}
	if !authResp.Valid {
		return nil, ErrInvalidToken
	}
	if authResp.ParticipantID == "" {
		return nil, fmt.Errorf("%w: response without participant_id", ErrUnavailable)
	}

	id := &Identity{
		ParticipantID: authResp.ParticipantID,
		Username:      authResp.Username,
		OwnerID:       authResp.OwnerID,
	}
	if id.Username == "" {
		id.Username = id.ParticipantID
	}
	return id, nil
}

// DevValidator accepts any non-empty token and uses it as the username.
// Local play and demo bots only.
type DevValidator struct{}

// NewDevValidator creates a validator that trusts the token.
func NewDevValidator() *DevValidator {
	return &DevValidator{}
}

func (v *DevValidator) Validate(_ context.Context, token string) (*Identity, error) {
	name := strings.TrimSpace(token)
	if name == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{ParticipantID: "dev:" + name, Username: name}, nil
}
