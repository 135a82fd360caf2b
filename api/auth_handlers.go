package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/agentgate/auth"
	"github.com/jmcleod/agentgate/internal/util"
)

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, true)
	if !ok {
		return
	}

	username := util.Normalize(req.Username)
	clientIP := a.extractClientIP(r)

	// Check rate limits before the password hash: global, IP, username.
	if scope, retryAfter := a.limiters.check(clientIP, username); scope != "" {
		a.audit.logFailure(AuditLoginRateLimited, r, scope+" rate limited",
			slog.String("client_ip", clientIP),
			slog.String("username", username))
		writeRateLimited(w, retryAfter)
		return
	}

	token, err := a.verifier.Login(req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrMissingCredential) && !errors.Is(err, auth.ErrInvalidCredentials) {
			writeInternalError(w, "failed to issue token", err)
			return
		}
		a.limiters.recordFailure(clientIP, username)
		a.audit.logFailure(AuditLoginFailure, r, err.Error(),
			slog.String("client_ip", clientIP),
			slog.String("username", username))
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	a.limiters.recordSuccess(clientIP, username)
	a.audit.log(AuditLoginSuccess, r,
		auditCaller{actor: token.Principal.SubjectID, kind: callerSession},
		slog.String("client_ip", clientIP))
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
	})
}

// Me handles GET /auth/me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing token")
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{Sub: p.SubjectID, Username: p.Username})
}
