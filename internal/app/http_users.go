package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"plate/api/internal/rbac"
)

type publicRoute struct {
	method  string
	path    string
	handler http.HandlerFunc
}

func (s *HTTPServer) publicRoutes() []publicRoute {
	return []publicRoute{
		{http.MethodPost, "/api/users/signup", s.handleSignUp},
		{http.MethodPost, "/api/users/signin", s.handleSignIn},
		{http.MethodPost, "/api/users/verify-email", s.handleVerifyEmail},
		{http.MethodPost, "/api/users/reset-password/request", s.handleRequestReset},
		{http.MethodPost, "/api/users/reset-password", s.handleResetPassword},
		{http.MethodPost, "/api/users/refresh", s.handleRefresh},
		{http.MethodPost, "/api/users/logout", s.handleLogout},
	}
}

func (s *HTTPServer) userRoutes() []route {
	return []route{
		{http.MethodGet, "/api/users/me", s.handleMe, rbac.ActionRead},
		{http.MethodPut, "/api/users/me", s.handleUpdateMe, rbac.ActionRead},
		{http.MethodGet, "/api/users/{id}", s.handleGetUser, rbac.ActionRead},
		{http.MethodGet, "/api/users/{id}/activity", s.handleUserActivity, rbac.ActionRead},
		{http.MethodGet, "/api/users/{id}/connectedapps", s.handleListApps, rbac.ActionRead},
		{http.MethodPost, "/api/users/{id}/connectedapps", s.handleConnectApp, rbac.ActionRead},
		{http.MethodDelete, "/api/users/{id}/connectedapps/{appId}", s.handleDisconnectApp, rbac.ActionRead},
	}
}

func sessionPayload(session Session, user any) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.Unix(),
		"user":         user,
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body SignUpInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	result, err := s.service.SignUp(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := map[string]any{
		"user":    result.User,
		"message": "Please check your email to verify your account",
	}
	// Dev bypass: email is not configured, so hand the token back directly.
	if result.DevVerificationToken != "" {
		response["devVerificationToken"] = result.DevVerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body SignInInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	session, user, err := s.service.SignIn(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session, user.Profile()))
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	if err := s.service.VerifyEmail(r.Context(), body.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (s *HTTPServer) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	token, err := s.service.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := map[string]any{"message": "If an account exists, a reset email has been sent"}
	if token != "" {
		response["devResetToken"] = token
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body ResetPasswordInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	if err := s.service.ResetPassword(r.Context(), body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		status, _, _, _ := mapError(err)
		if status >= http.StatusInternalServerError {
			s.fail(w, r, err)
			return
		}
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		return
	}
	profile, err := s.service.Me(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session, profile))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
		requestLog(r).WithError(err).WithField("user_id", session.UserID).Warn("logout revocation failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, session Session) {
	profile, err := s.service.Me(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": profile})
}

func (s *HTTPServer) handleUpdateMe(w http.ResponseWriter, r *http.Request, session Session) {
	var body UpdateProfileInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	profile, err := s.service.UpdateProfile(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": profile})
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request, session Session) {
	profile, err := s.service.GetUser(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": profile})
}

func (s *HTTPServer) handleUserActivity(w http.ResponseWriter, r *http.Request, session Session) {
	userID := mux.Vars(r)["id"]
	if userID == "me" {
		userID = session.UserID
	}
	entries, err := s.service.UserActivity(r.Context(), session, userID, queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

func (s *HTTPServer) handleListApps(w http.ResponseWriter, r *http.Request, session Session) {
	apps, err := s.service.ListConnectedApps(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectedApps": apps})
}

func (s *HTTPServer) handleConnectApp(w http.ResponseWriter, r *http.Request, session Session) {
	var body ConnectAppInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	app, err := s.service.ConnectApp(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"connectedApp": app})
}

func (s *HTTPServer) handleDisconnectApp(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	if err := s.service.DisconnectApp(r.Context(), session, vars["id"], vars["appId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
