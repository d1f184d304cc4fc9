package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"tasktracker/internal/engine"
	"tasktracker/internal/engine/auth"
	"tasktracker/internal/repo"
)

const defaultCookieName = "tasktracker_session"

type AuthConfig struct {
	Tokens     *auth.TokenManager
	CookieName string
	// SecureCookie marks the session cookie Secure; enable behind TLS.
	SecureCookie bool
}

func (c AuthConfig) cookieName() string {
	if c.CookieName != "" {
		return c.CookieName
	}
	return defaultCookieName
}

func (c AuthConfig) sessionCookie(token string, expires time.Time) http.Cookie {
	return http.Cookie{
		Name:     c.cookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   c.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c AuthConfig) clearedCookie() http.Cookie {
	return http.Cookie{
		Name:     c.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

type Principal struct {
	WorkerID int64
	Username string
	Source   string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.WorkerID > 0 {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// actorID is the worker recorded on events; zero when unauthenticated.
func actorID(ctx context.Context) int64 {
	p, _ := principalFromContext(ctx)
	return p.WorkerID
}

func publicPaths(basePath string) map[string]bool {
	return map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "auth/login"):   true,
		path.Join(basePath, "auth/logout"):  true,
		path.Join(basePath, "openapi.json"): true,
		"/docs":                             true,
		"/metrics":                          true,
	}
}

func authenticateToken(ctx context.Context, r repo.Repo, tokens *auth.TokenManager, token, source string) (Principal, error) {
	claims, err := tokens.Verify(token)
	if err != nil {
		return Principal{}, err
	}
	workerID, err := claims.WorkerID()
	if err != nil {
		return Principal{}, err
	}
	w, err := r.GetWorker(ctx, workerID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{WorkerID: w.ID, Username: w.Username, Source: source}, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	w, err := r.GetWorker(ctx, apiKey.WorkerID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{WorkerID: w.ID, Username: w.Username, Source: "api_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// loginRedirect sends the client to the login endpoint, carrying the
// original request URI in next.
func loginRedirect(w http.ResponseWriter, req *http.Request, loginPath string) {
	target := loginPath + "?" + url.Values{"next": {req.URL.RequestURI()}}.Encode()
	http.Redirect(w, req, target, http.StatusFound)
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo, logger *slog.Logger) func(http.Handler) http.Handler {
	public := publicPaths(basePath)
	loginPath := path.Join(basePath, "auth/login")
	invalid := func(w http.ResponseWriter) {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p := strings.TrimRight(req.URL.Path, "/")
			// Only enforce for API base path.
			if p != basePath && !strings.HasPrefix(p, basePath+"/") {
				next.ServeHTTP(w, req)
				return
			}
			if public[p] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					invalid(w)
					return
				}
				principal, err := authenticateToken(req.Context(), r, cfg.Tokens, token, "jwt")
				if err != nil {
					logger.Debug("bearer token rejected", slog.String("error", err.Error()))
					invalid(w)
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if apiKeyHeader != "" {
				principal, err := authenticateAPIKey(req.Context(), r, apiKeyHeader)
				if err != nil {
					logger.Debug("api key rejected", slog.String("error", err.Error()))
					invalid(w)
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if c, err := req.Cookie(cfg.cookieName()); err == nil && c.Value != "" {
				principal, err := authenticateToken(req.Context(), r, cfg.Tokens, c.Value, "session")
				if err == nil {
					next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
					return
				}
				// Stale session: drop it and ask for a fresh login.
				cleared := cfg.clearedCookie()
				http.SetCookie(w, &cleared)
			}

			loginRedirect(w, req, loginPath)
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

// safeNext accepts only same-site relative paths.
func safeNext(next, fallback string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return fallback
	}
	return next
}

type loginOutput struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      LoginResponse
}

type logoutOutput struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
}

func registerAuth(api huma.API, e engine.Engine, authCfg AuthConfig, basePath string) {
	loginPath := path.Join(basePath, "auth/login")
	home := path.Join(basePath, "tasks")

	huma.Register(api, huma.Operation{
		OperationID: "login-form",
		Method:      http.MethodGet,
		Path:        "/auth/login",
		Summary:     "Describe the login form",
	}, func(ctx context.Context, input *struct {
		Next string `query:"next"`
	}) (*struct {
		Body LoginFormResponse `json:"body"`
	}, error) {
		return &struct {
			Body LoginFormResponse `json:"body"`
		}{Body: LoginFormResponse{
			Action: loginPath,
			Method: http.MethodPost,
			Fields: []string{"username", "password", "next"},
			Next:   safeNext(input.Next, home),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange username and password for a session",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*loginOutput, error) {
		w, err := e.Authenticate(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		token, expires, err := authCfg.Tokens.Issue(w.ID, w.Username)
		if err != nil {
			return nil, handleError(err)
		}
		return &loginOutput{
			SetCookie: authCfg.sessionCookie(token, expires),
			Body: LoginResponse{
				Token:     token,
				ExpiresAt: expires.UTC().Format(time.RFC3339),
				Next:      safeNext(input.Body.Next, home),
				Worker:    workerResponse(w),
			},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/auth/logout",
		Summary:       "Clear the session cookie",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*logoutOutput, error) {
		return &logoutOutput{SetCookie: authCfg.clearedCookie()}, nil
	})
}
