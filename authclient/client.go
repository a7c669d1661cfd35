// Package authclient talks to the portal auth service and resource API.
// It is the only code in the module that touches the network; every call
// carries an explicit timeout so a hung backend can never block the
// refresh scheduler from re-arming.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	errs "github.com/rosterhq/portal-session/internal/errors"
)

// Client talks to the portal auth endpoints.
type Client struct {
	httpClient   *http.Client
	authBase     string
	resourceBase string
	timeout      time.Duration
}

// NewClient creates an auth API client. If httpClient is nil,
// http.DefaultClient is used.
func NewClient(httpClient *http.Client, authBase, resourceBase string, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient:   httpClient,
		authBase:     authBase,
		resourceBase: resourceBase,
		timeout:      timeout,
	}
}

// MagicLink requests a one-time login link for email. The caller is
// expected to have already applied the authorization predicate.
func (c *Client) MagicLink(ctx context.Context, email, role string) error {
	err := c.post(ctx, c.authBase+"/auth/magic-link", MagicLinkRequest{Email: email, Role: role}, nil)
	if err != nil {
		return fmt.Errorf("requesting magic link: %w", err)
	}
	return nil
}

// Verify exchanges a one-time token plus email for a token bundle. A
// response without an access token is a failure even on 2xx.
func (c *Client) Verify(ctx context.Context, oneTimeToken, email, clientSessionID string) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.post(ctx, c.authBase+"/auth/verify", VerifyRequest{Token: oneTimeToken, Email: email, ClientSessionID: clientSessionID}, &resp); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}
	if resp.Tokens.AccessToken == "" {
		return nil, fmt.Errorf("verifying token: %w", errs.Wrapf(errs.ErrMalformedToken, "response missing access token"))
	}
	return &resp, nil
}

// Refresh trades refreshToken for a new bundle. A 401/403 is terminal
// (ErrRefreshRejected); every other failure is ErrRefreshTransient and
// the session should be preserved for a retry.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var resp RefreshResponse
	err := c.post(ctx, c.authBase+"/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		if isAuthStatus(err) {
			return nil, errs.Wrapf(errs.ErrRefreshRejected, "refresh")
		}
		return nil, errs.Wrapf(errs.ErrRefreshTransient, "refresh: %v", err)
	}
	if resp.Tokens.AccessToken == "" {
		return nil, errs.Wrapf(errs.ErrRefreshTransient, "refresh response missing access token")
	}
	return &resp, nil
}

// Health probes the resource API with the given authorization header.
// nil means the session was accepted; ErrUnauthorized means the server
// rejected it; any other error is inconclusive and must not be treated
// as an invalid session.
func (c *Client) Health(ctx context.Context, authorizationHeader string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resourceBase+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	req.Header.Set("Authorization", authorizationHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.Wrapf(errs.ErrUnauthorized, "health probe status %d", resp.StatusCode)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
}

// RestoreSession presents a stored session identifier and, on success,
// returns the server's copy of the session. Absence or rejection is
// ErrRestorationFailed.
func (c *Client) RestoreSession(ctx context.Context, sessionID string) (*RestoreResponse, error) {
	var resp RestoreResponse
	err := c.post(ctx, c.authBase+"/auth/restore-session", RestoreRequest{SessionID: sessionID}, &resp)
	if err != nil {
		var se *statusError
		if errs.As(err, &se) && (se.status == http.StatusNotFound || se.status == http.StatusUnauthorized || se.status == http.StatusForbidden || se.status == http.StatusGone) {
			return nil, errs.Wrapf(errs.ErrRestorationFailed, "restore-session status %d", se.status)
		}
		return nil, fmt.Errorf("restoring session: %w", err)
	}
	if resp.Tokens.AccessToken == "" {
		return nil, errs.Wrapf(errs.ErrRestorationFailed, "restore response missing access token")
	}
	return &resp, nil
}

// Logout invalidates the server-held session. Logout is always locally
// authoritative, so the error is returned only for logging; callers
// ignore it.
func (c *Client) Logout(ctx context.Context, sessionID string) error {
	if err := c.post(ctx, c.authBase+"/auth/logout", LogoutRequest{SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// statusError carries the HTTP status of a non-2xx response so callers
// can classify terminal versus transient failures.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("status %d: %s", e.status, e.body)
	}
	return fmt.Sprintf("status %d", e.status)
}

func isAuthStatus(err error) bool {
	var se *statusError
	return errs.As(err, &se) && (se.status == http.StatusUnauthorized || se.status == http.StatusForbidden)
}

// post sends a JSON POST request and decodes the response into result.
func (c *Client) post(ctx context.Context, url string, body, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling request body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr APIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &statusError{status: resp.StatusCode, body: apiErr.Error}
		}
		return &statusError{status: resp.StatusCode}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", url, err)
		}
	}

	return nil
}
