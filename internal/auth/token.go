package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenExpiryBuffer is how long before expiry we should refresh.
	TokenExpiryBuffer = 5 * time.Minute

	requestTimeout = 30 * time.Second
)

// Common errors
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token has expired")
	ErrRefreshFailed      = errors.New("failed to refresh token")
)

// TokenResponse is what the identity endpoints return on success.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// IsTokenExpiringSoon checks if the token will expire within the buffer period.
func IsTokenExpiringSoon(tokenExpiry int64, buffer time.Duration) bool {
	if tokenExpiry == 0 {
		return true // No expiry stored, assume expiring
	}
	return time.Until(time.Unix(tokenExpiry, 0)) <= buffer
}

// ParseJWTExpiry extracts the expiration timestamp from a JWT without
// verifying the signature. This is safe for expiry checks since the backend
// verifies the full token on every call.
func ParseJWTExpiry(token string) (int64, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("failed to parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, fmt.Errorf("token has no expiry claim")
	}
	return exp.Unix(), nil
}

// postTokenRequest calls an identity endpoint and decodes the token response.
// A 400/401/403 reply maps to ErrInvalidCredentials carrying the provider's
// message when one is present.
func postTokenRequest(ctx context.Context, client *http.Client, url string, payload any) (*TokenResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		msg := string(body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
			if errResp.ErrorDescription != "" {
				msg = errResp.ErrorDescription
			}
		}
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
		}
		return nil, fmt.Errorf("identity endpoint returned %d: %s", resp.StatusCode, msg)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("no access token in response")
	}
	return &tokenResp, nil
}
