package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/challenge"
	"github.com/MrEthical07/portalauth/delivery"
	"github.com/MrEthical07/portalauth/metrics/export/prometheus"
	"github.com/MrEthical07/portalauth/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type server struct {
	engine *portalauth.Engine
	logger *slog.Logger
	// secureCookie sets the Secure flag on the session cookie.
	secureCookie bool
}

func newRouter(s *server, metricsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.clientIP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsPath != "" {
		r.Handle(metricsPath, prometheus.NewPrometheusExporter(s.engine).Handler())
	}

	r.Post("/register", s.register)
	r.Post("/challenge", s.issueChallenge)
	r.Post("/verify", s.verify)
	r.Post("/login", s.login)
	r.Post("/password/reset", s.requestReset)
	r.Post("/password/reset/confirm", s.completeReset)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(s.engine))

		r.Get("/me", s.me)
		r.Post("/logout", s.logout)
		r.Post("/logout/all", s.logoutAll)
		r.Post("/password/change", s.changePassword)
		r.With(middleware.RequireGroup(s.engine, middleware.GroupFromURLParam("group"))).
			Get("/groups/{group}/access", s.groupAccess)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(authz.RoleAdministrator))
			r.Post("/accounts", s.provision)
			r.Put("/teachers/{id}/curator", s.assignCurator)
		})
	})
	return r
}

// clientIP hands the address chi resolved and the request ID to the engine
// for rate limiting and audit records.
func (s *server) clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := portalauth.WithClientIP(r.Context(), ip)
		ctx = portalauth.WithRequestID(ctx, chimiddleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

/*
====================================
WIRE TYPES
====================================
*/

type errorResponse struct {
	Error string `json:"error"`
}

type accountResponse struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Group        string    `json:"group,omitempty"`
	Course       int       `json:"course,omitempty"`
	Department   string    `json:"department,omitempty"`
	Position     string    `json:"position,omitempty"`
	CuratorGroup string    `json:"curator_group,omitempty"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAccountResponse(acc portalauth.UserAccount) accountResponse {
	return accountResponse{
		ID:           acc.ID,
		Username:     acc.Username,
		DisplayName:  acc.DisplayName,
		Role:         string(acc.Role),
		Email:        acc.Email,
		Phone:        acc.Phone,
		Group:        acc.Group,
		Course:       acc.Course,
		Department:   acc.Department,
		Position:     acc.Position,
		CuratorGroup: acc.CuratorGroup,
		Verified:     acc.Verified,
		CreatedAt:    acc.CreatedAt,
	}
}

type registerRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Group        string `json:"group"`
	Course       int    `json:"course"`
	Department   string `json:"department"`
	Position     string `json:"position"`
	CuratorGroup string `json:"curator_group"`
}

func (r registerRequest) toEngine() (portalauth.RegisterRequest, error) {
	role, ok := authz.ParseRole(r.Role)
	if !ok {
		return portalauth.RegisterRequest{}, errUnknownRole(r.Role)
	}
	return portalauth.RegisterRequest{
		Username:    r.Username,
		Password:    r.Password,
		DisplayName: r.DisplayName,
		Role:        role,
		Profile: portalauth.Profile{
			Email:        r.Email,
			Phone:        r.Phone,
			Group:        r.Group,
			Course:       r.Course,
			Department:   r.Department,
			Position:     r.Position,
			CuratorGroup: r.CuratorGroup,
		},
	}, nil
}

func errUnknownRole(s string) error {
	return fmt.Errorf("unknown role %q", s)
}

// optionalRole treats an empty role as "any".
func optionalRole(s string) (authz.Role, error) {
	if s == "" {
		return "", nil
	}
	role, ok := authz.ParseRole(s)
	if !ok {
		return "", errUnknownRole(s)
	}
	return role, nil
}

type challengeRequest struct {
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"`
	Role       string `json:"role"`
}

type receiptResponse struct {
	Identifier string    `json:"identifier"`
	Channel    string    `json:"channel"`
	ExpiresAt  time.Time `json:"expires_at"`
	Remaining  int       `json:"remaining"`
	Delivered  bool      `json:"delivered"`
}

type codeRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
	Password   string `json:"password,omitempty"`
}

type outcomeResponse struct {
	Outcome   string           `json:"outcome"`
	Remaining int              `json:"remaining,omitempty"`
	Token     string           `json:"token,omitempty"`
	Account   *accountResponse `json:"account,omitempty"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Role       string `json:"role"`
}

type loginResponse struct {
	Token   string          `json:"token"`
	Account accountResponse `json:"account"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type curatorRequest struct {
	Group string `json:"group"`
}

/*
====================================
HANDLERS
====================================
*/

// register handles POST /register.
func (s *server) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.toEngine()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := s.engine.Register(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(acc))
}

// issueChallenge handles POST /challenge.
func (s *server) issueChallenge(w http.ResponseWriter, r *http.Request) {
	var body challengeRequest
	if !s.decode(w, r, &body) {
		return
	}
	role, err := optionalRole(body.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := s.engine.IssueChallenge(r.Context(), body.Identifier, delivery.Channel(body.Channel), role)
	if err != nil && !errors.Is(err, portalauth.ErrDeliveryFailed) {
		s.fail(w, r, err)
		return
	}
	status := http.StatusAccepted
	if err != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, receiptResponse{
		Identifier: receipt.Identifier,
		Channel:    string(receipt.Channel),
		ExpiresAt:  receipt.ExpiresAt,
		Remaining:  receipt.Remaining,
		Delivered:  err == nil,
	})
}

// verify handles POST /verify.
func (s *server) verify(w http.ResponseWriter, r *http.Request) {
	var body codeRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.engine.Verify(r.Context(), body.Identifier, body.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.Outcome != challenge.Success {
		writeJSON(w, outcomeStatus(res.Outcome), outcomeResponse{
			Outcome:   res.Outcome.String(),
			Remaining: res.Remaining,
		})
		return
	}
	acc := toAccountResponse(res.Account)
	s.setSessionCookie(w, res.Token)
	writeJSON(w, http.StatusOK, outcomeResponse{
		Outcome: res.Outcome.String(),
		Token:   res.Token,
		Account: &acc,
	})
}

// login handles POST /login.
func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !s.decode(w, r, &body) {
		return
	}
	role, err := optionalRole(body.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.engine.Login(r.Context(), body.Identifier, body.Password, role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookie(w, res.Token)
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, Account: toAccountResponse(res.Account)})
}

// requestReset handles POST /password/reset. Unknown identifiers get the
// same 202 as known ones.
func (s *server) requestReset(w http.ResponseWriter, r *http.Request) {
	var body challengeRequest
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.engine.RequestReset(r.Context(), body.Identifier, delivery.Channel(body.Channel)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// completeReset handles POST /password/reset/confirm.
func (s *server) completeReset(w http.ResponseWriter, r *http.Request) {
	var body codeRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.engine.CompleteReset(r.Context(), body.Identifier, body.Code, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.Outcome != challenge.Success {
		writeJSON(w, outcomeStatus(res.Outcome), outcomeResponse{
			Outcome:   res.Outcome.String(),
			Remaining: res.Remaining,
		})
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{Outcome: res.Outcome.String()})
}

// me handles GET /me.
func (s *server) me(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.TokenFromContext(r.Context())
	acc, err := s.engine.AuthenticateAccount(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountResponse(acc))
}

// logout handles POST /logout.
func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.TokenFromContext(r.Context())
	if err := s.engine.Logout(r.Context(), token); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// logoutAll handles POST /logout/all.
func (s *server) logoutAll(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	if err := s.engine.LogoutAll(r.Context(), actor.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// changePassword handles POST /password/change.
func (s *server) changePassword(w http.ResponseWriter, r *http.Request) {
	var body changePasswordRequest
	if !s.decode(w, r, &body) {
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	if err := s.engine.ChangePassword(r.Context(), actor.UserID, body.OldPassword, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// groupAccess handles GET /groups/{group}/access. RequireGroup has already
// admitted the caller.
func (s *server) groupAccess(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	group := chi.URLParam(r, "group")
	_, reason := authz.Explain(actor, group)
	writeJSON(w, http.StatusOK, map[string]string{
		"group":    group,
		"decision": authz.Allow.String(),
		"reason":   reason.String(),
	})
}

// provision handles POST /admin/accounts.
func (s *server) provision(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !s.decode(w, r, &body) {
		return
	}
	req, err := body.toEngine()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	admin, _ := middleware.ActorFromContext(r.Context())
	acc, err := s.engine.ProvisionAccount(r.Context(), admin, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(acc))
}

// assignCurator handles PUT /admin/teachers/{id}/curator.
func (s *server) assignCurator(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid teacher id")
		return
	}
	var body curatorRequest
	if !s.decode(w, r, &body) {
		return
	}
	admin, _ := middleware.ActorFromContext(r.Context())
	if err := s.engine.AssignCurator(r.Context(), admin, id, body.Group); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
HELPERS
====================================
*/

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail maps engine errors to status codes. Messages of validation errors are
// passed through; everything else gets a fixed text.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"err", err,
		)
	}
	writeError(w, status, msg)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, portalauth.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	case errors.Is(err, portalauth.ErrInvalidRequest),
		errors.Is(err, portalauth.ErrPasswordPolicy),
		errors.Is(err, portalauth.ErrPasswordReuse),
		errors.Is(err, portalauth.ErrIdentifierNotDeliverable),
		errors.Is(err, portalauth.ErrChannelMismatch):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, portalauth.ErrDuplicateIdentifier),
		errors.Is(err, portalauth.ErrAlreadyVerified):
		return http.StatusConflict, err.Error()
	case errors.Is(err, portalauth.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, portalauth.ErrInvalidCredentials),
		errors.Is(err, portalauth.ErrUnauthenticated):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, portalauth.ErrRoleMismatch),
		errors.Is(err, portalauth.ErrAccountUnverified),
		errors.Is(err, portalauth.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, portalauth.ErrNotTeacher):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, portalauth.ErrLoginRateLimited),
		errors.Is(err, portalauth.ErrResetRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, portalauth.ErrDeliveryFailed):
		return http.StatusBadGateway, "code delivery failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func outcomeStatus(o challenge.Outcome) int {
	switch o {
	case challenge.NotFound:
		return http.StatusNotFound
	case challenge.Expired:
		return http.StatusGone
	case challenge.AttemptsExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

func (s *server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
