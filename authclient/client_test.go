package authclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/rosterhq/portal-session/internal/errors"
)

// newTestClient creates a Client pointed at the given httptest server
// for both the auth and resource bases.
func newTestClient(srv *httptest.Server) *Client {
	return NewClient(srv.Client(), srv.URL, srv.URL, 5*time.Second)
}

func TestMagicLink_PostsEmailAndRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/magic-link", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var req MagicLinkRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "coach@rosterhq.com", req.Email)
		assert.Equal(t, "coach", req.Role)

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.MagicLink(context.Background(), "coach@rosterhq.com", "coach"))
}

func TestVerify_ReturnsBundle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/verify", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var req VerifyRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "tok123", req.Token)
		assert.Equal(t, "a@x.com", req.Email)
		assert.Equal(t, "client-sid", req.ClientSessionID)

		w.Write([]byte(`{"tokens":{"access_token":"at","refresh_token":"rt"},"expires_in":3600,"session_id":"srv-sid"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	resp, err := c.Verify(context.Background(), "tok123", "a@x.com", "client-sid")
	require.NoError(t, err)
	assert.Equal(t, "at", resp.Tokens.AccessToken)
	assert.Equal(t, "rt", resp.Tokens.RefreshToken)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, "srv-sid", resp.SessionID)
}

func TestVerify_MissingAccessTokenIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tokens":{},"expires_in":3600}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.Verify(context.Background(), "tok123", "a@x.com", "")
	require.Error(t, err)
}

func TestVerify_ServerErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"token already used"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.Verify(context.Background(), "tok123", "a@x.com", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token already used")
}

func TestRefresh_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var req RefreshRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "rt-old", req.RefreshToken)

		w.Write([]byte(`{"tokens":{"access_token":"at-new","refresh_token":"rt-new"},"expires_in":3600}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	resp, err := c.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", resp.Tokens.AccessToken)
}

func TestRefresh_UnauthorizedIsTerminal(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		c := newTestClient(srv)
		_, err := c.Refresh(context.Background(), "rt")
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.ErrRefreshRejected), "status %d must be terminal", status)
		assert.False(t, errs.Is(err, errs.ErrRefreshTransient))

		srv.Close()
	}
}

func TestRefresh_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.Refresh(context.Background(), "rt")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrRefreshTransient))
}

func TestRefresh_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := newTestClient(srv)
	_, err := c.Refresh(context.Background(), "rt")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrRefreshTransient))
}

func TestHealth_SendsBearerHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.Health(context.Background(), "Bearer at"))
}

func TestHealth_UnauthorizedInvalidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.Health(context.Background(), "Bearer at")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrUnauthorized))
}

func TestHealth_OtherFailuresAreInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.Health(context.Background(), "Bearer at")
	require.Error(t, err)
	assert.False(t, errs.Is(err, errs.ErrUnauthorized), "a 503 must not read as a rejected session")
}

func TestRestoreSession_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/restore-session", r.URL.Path)
		w.Write([]byte(`{"tokens":{"access_token":"at"},"user":{"email":"a@x.com"},"expires_in":1800}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	resp, err := c.RestoreSession(context.Background(), "sid")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", resp.User.Email)
	assert.Equal(t, "at", resp.Tokens.AccessToken)
}

func TestRestoreSession_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.RestoreSession(context.Background(), "sid")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrRestorationFailed))
}

func TestLogout_PostsSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/logout", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		var req LogoutRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "sid", req.SessionID)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.Logout(context.Background(), "sid"))
}
