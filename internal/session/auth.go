package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/coursecast/coursecast-dl/internal/config"
	"github.com/coursecast/coursecast-dl/internal/errs"
	"github.com/coursecast/coursecast-dl/internal/utils"
)

// Profile is the user profile returned by a successful login.
type Profile struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// AuthClient establishes an authenticated session: CSRF token fetch plus
// credential login.
type AuthClient struct {
	sess *Session
}

// NewAuthClient wraps an existing session.
func NewAuthClient(sess *Session) *AuthClient {
	return &AuthClient{sess: sess}
}

// FetchCSRFToken issues an unauthenticated GET to the site root, extracts
// the CSRF token and stores it on the session. The token lives in a meta
// tag on the page; some responses only carry it in the XSRF cookie, so that
// is checked as a fallback.
func (a *AuthClient) FetchCSRFToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.sess.BaseURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := a.sess.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching site root: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading site root: %w", err)
	}

	if token := utils.ExtractCSRFToken(body); token != "" {
		a.sess.SetToken(token)
		return token, nil
	}

	if cookie := a.sess.Cookie("XSRF-TOKEN"); cookie != nil {
		if decoded, err := url.QueryUnescape(cookie.Value); err == nil {
			a.sess.SetToken(decoded)
			return decoded, nil
		}
	}

	return "", errs.ErrTokenNotFound
}

// Login authenticates with the given credentials, reusing the session's
// CSRF token (fetching one first when absent). The cookie jar picks up the
// authenticated session cookies from the response.
func (a *AuthClient) Login(ctx context.Context, email, password string) (*Profile, error) {
	token := a.sess.Token()
	if token == "" {
		var err error
		token, err = a.FetchCSRFToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get CSRF token: %w", err)
		}
	}

	auth := map[string]any{
		"email":    email,
		"password": password,
		"remember": 1,
	}
	jsonData, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal auth data: %w", err)
	}

	loginURL := a.sess.BaseURL + config.PostLoginPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	for k, v := range config.JSONHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-CSRF-TOKEN", token)
	req.Header.Set("Referer", a.sess.BaseURL)

	resp, err := a.sess.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed login request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading login response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Debug().Str("op", "session/auth").Int("status", resp.StatusCode).Msg("login response")
		return nil, fmt.Errorf("%w: status %d", errs.ErrLoginRejected, resp.StatusCode)
	}

	// Invalid credentials can come back 200 with a non-profile body.
	var payload struct {
		User Profile `json:"user"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.User.Email == "" {
		return nil, fmt.Errorf("%w: no profile in response", errs.ErrLoginRejected)
	}

	log.Info().Str("op", "session/auth").Str("email", payload.User.Email).Msg("logged in")
	return &payload.User, nil
}
