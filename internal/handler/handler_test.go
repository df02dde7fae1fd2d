package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkudelin/agent-registry/internal/infrastructure/auth"
	"github.com/vkudelin/agent-registry/internal/models"
	pkgerrors "github.com/vkudelin/agent-registry/pkg/errors"
)

type stubAuthService struct {
	registerErr error
	loginErr    error
	refreshErr  error
	loggedOut   []string
}

func (s *stubAuthService) Register(_ context.Context, username, email, _ string) (*models.User, *models.TokenPair, error) {
	if s.registerErr != nil {
		return nil, nil, s.registerErr
	}
	user := &models.User{ID: 1, Username: username, Email: email, Role: models.RoleUser}
	return user, &models.TokenPair{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (s *stubAuthService) Login(_ context.Context, email, _ string) (*models.User, *models.TokenPair, error) {
	if s.loginErr != nil {
		return nil, nil, s.loginErr
	}
	user := &models.User{ID: 1, Username: "alice", Email: email, Role: models.RoleUser}
	return user, &models.TokenPair{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (s *stubAuthService) Refresh(_ context.Context, _ string) (string, error) {
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	return "new-access", nil
}

func (s *stubAuthService) Logout(_ context.Context, refreshToken, _ string) {
	s.loggedOut = append(s.loggedOut, refreshToken)
}

func (s *stubAuthService) VerifyAccess(_ context.Context, _ string) (*models.Principal, error) {
	return nil, pkgerrors.ErrInvalidToken
}

func (s *stubAuthService) TokenStats(_ context.Context) (*models.TokenStats, error) {
	return &models.TokenStats{Total: 2, Active: 2}, nil
}

func newTestRouter(svc *stubAuthService) *mux.Router {
	r := mux.NewRouter()
	h := NewHandler(svc)
	h.RegisterPublicRoutes(r)
	h.RegisterProtectedRoutes(r)
	h.RegisterAdminRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Register(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		svc := &stubAuthService{}
		rec := do(t, newTestRouter(svc), "POST", "/register",
			map[string]string{"username": "alice", "email": "alice@x.com", "password": "pw"})
		assert.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			User   models.User      `json:"user"`
			Tokens models.TokenPair `json:"tokens"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "alice", resp.User.Username)
		assert.NotEmpty(t, resp.Tokens.AccessToken)
		assert.NotEmpty(t, resp.Tokens.RefreshToken)
	})

	t.Run("Conflict", func(t *testing.T) {
		svc := &stubAuthService{registerErr: pkgerrors.ErrEmailExists}
		rec := do(t, newTestRouter(svc), "POST", "/register",
			map[string]string{"username": "alice", "email": "alice@x.com", "password": "pw"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("BadInput", func(t *testing.T) {
		svc := &stubAuthService{registerErr: pkgerrors.ErrInvalidInput}
		rec := do(t, newTestRouter(svc), "POST", "/register", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Login(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		svc := &stubAuthService{}
		rec := do(t, newTestRouter(svc), "POST", "/login",
			map[string]string{"email": "alice@x.com", "password": "pw"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("BadCredentials", func(t *testing.T) {
		svc := &stubAuthService{loginErr: pkgerrors.ErrInvalidCredentials}
		rec := do(t, newTestRouter(svc), "POST", "/login",
			map[string]string{"email": "alice@x.com", "password": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var resp struct {
			Error string `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid credentials", resp.Error, "generic message, no detail about which check failed")
	})

	t.Run("StorageFailure", func(t *testing.T) {
		svc := &stubAuthService{loginErr: fmt.Errorf("%w: pq: connection refused", pkgerrors.ErrStorage)}
		rec := do(t, newTestRouter(svc), "POST", "/login",
			map[string]string{"email": "alice@x.com", "password": "pw"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var resp struct {
			Error string `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "internal server error", resp.Error, "driver detail stays in the server log")
	})
}

func TestHandler_Refresh(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		svc := &stubAuthService{}
		rec := do(t, newTestRouter(svc), "POST", "/refresh",
			map[string]string{"refresh_token": "refresh"})
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "new-access", resp["access_token"])
	})

	t.Run("MissingToken", func(t *testing.T) {
		svc := &stubAuthService{}
		rec := do(t, newTestRouter(svc), "POST", "/refresh", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("StaleToken", func(t *testing.T) {
		svc := &stubAuthService{refreshErr: pkgerrors.ErrInvalidToken}
		rec := do(t, newTestRouter(svc), "POST", "/refresh",
			map[string]string{"refresh_token": "stale"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandler_Logout(t *testing.T) {
	svc := &stubAuthService{}
	rec := do(t, newTestRouter(svc), "POST", "/logout",
		map[string]string{"refresh_token": "refresh", "access_token": "access"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"refresh"}, svc.loggedOut)
}

func TestHandler_Me(t *testing.T) {
	svc := &stubAuthService{}
	h := NewHandler(svc)

	req := httptest.NewRequest("GET", "/me", nil)
	principal := &models.Principal{ID: 1, Email: "alice@x.com", Role: models.RoleUser}
	req = req.WithContext(auth.ContextWithPrincipal(req.Context(), principal))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got models.Principal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, *principal, got)
}
