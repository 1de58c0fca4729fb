package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	authcore "github.com/nur2097/template-project-sub000"
	"github.com/nur2097/template-project-sub000/authz"
	"github.com/nur2097/template-project-sub000/middleware"
	"github.com/nur2097/template-project-sub000/permission"
)

var errBadRequest = errors.New("malformed request body")

func routeTable() *authz.Table {
	catalog := permission.NewRegistry()
	for _, p := range []string{"documents:read", "documents:write"} {
		_ = catalog.Register(p)
	}
	catalog.Freeze()

	t := authz.NewTable(catalog)
	t.MustRegister(authz.Key("POST", "/auth/login"), authz.Route{Public: true})
	t.MustRegister(authz.Key("POST", "/auth/refresh"), authz.Route{Public: true})
	t.MustRegister(authz.Key("POST", "/auth/logout"), authz.Route{})
	t.MustRegister(authz.Key("POST", "/auth/logout-all"), authz.Route{})
	t.MustRegister(authz.Key("GET", "/auth/sessions"), authz.Route{})
	t.MustRegister(authz.Key("DELETE", "/auth/sessions/{device}"), authz.Route{})
	t.MustRegister(authz.Key("GET", "/me"), authz.Route{})
	t.MustRegister(authz.Key("GET", "/documents"), authz.Route{
		Requirements: []permission.Requirement{permission.RequireAll("documents:read")},
	})
	t.MustRegister(authz.Key("DELETE", "/documents/{id}"), authz.Route{
		Policy: &authz.PolicyRef{Resource: "documents", Action: "delete"},
	})
	t.MustRegister(authz.Key("POST", "/admin/users/{id}/revoke"), authz.Route{RequireSuperAdmin: true})
	t.MustRegister(authz.Key("POST", "/admin/companies/{id}/invalidate"), authz.Route{RequireSuperAdmin: true})
	return t
}

type server struct {
	engine *authcore.Engine
	log    zerolog.Logger
}

func registerHandlers(mux *http.ServeMux, engine *authcore.Engine, log zerolog.Logger) {
	s := &server{engine: engine, log: log}

	guarded := func(method, pattern string, h http.HandlerFunc) {
		mux.Handle(method+" "+pattern, middleware.Guard(engine, method, pattern)(h))
	}

	mux.HandleFunc("POST /auth/login", s.login)
	mux.HandleFunc("POST /auth/refresh", s.refresh)
	guarded("POST", "/auth/logout", s.logout)
	guarded("POST", "/auth/logout-all", s.logoutAll)
	guarded("GET", "/auth/sessions", s.sessions)
	guarded("DELETE", "/auth/sessions/{device}", s.endSession)
	guarded("GET", "/me", s.me)
	guarded("GET", "/documents", s.listDocuments)
	guarded("DELETE", "/documents/{id}", s.deleteDocument)
	guarded("POST", "/admin/users/{id}/revoke", s.revokeUser)
	guarded("POST", "/admin/companies/{id}/invalidate", s.invalidateCompany)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	DeviceID         string    `json:"device_id,omitempty"`
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errBadRequest.Error()})
		return
	}

	res, err := s.engine.Authenticate(r.Context(), authcore.Credentials{Email: body.Email, Password: body.Password})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if res.PasswordNeedsUpgrade {
		s.log.Info().Int64("user_id", res.UserID).Msg("stored password hash should be upgraded")
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: res.RefreshExpiresAt,
		DeviceID:         res.DeviceID,
	})
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errBadRequest.Error()})
		return
	}

	pair, err := s.engine.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Logout(r.Context(), middleware.BearerToken(r.Header.Get("Authorization"))); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) logoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.RevokeUser(r.Context(), p.UserID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) sessions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	list, err := s.engine.ListSessions(r.Context(), p.UserID, p.DeviceID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) endSession(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.RevokeDevice(r.Context(), p.UserID, r.PathValue("device")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.ResultFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     res.Principal.UserID,
		"company":     res.Principal.CompanySlug,
		"system_role": res.Principal.SystemRole,
		"roles":       res.Principal.Roles,
		"permissions": res.Principal.Permissions,
		"tenant":      res.Tenant.ID,
		"global":      res.Tenant.Global,
	})
}

func (s *server) listDocuments(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.TenantFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant.ID, "documents": []string{}})
}

func (s *server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	s.log.Info().Str("document", r.PathValue("id")).Msg("document deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) revokeUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	if err := s.engine.RevokeUser(r.Context(), id); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) invalidateCompany(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid company id"})
		return
	}
	if err := s.engine.InvalidateCompany(r.Context(), id); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
