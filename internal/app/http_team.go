package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"plate/api/internal/rbac"
)

func (s *HTTPServer) teamRoutes() []route {
	return []route{
		{http.MethodGet, "/api/team", s.handleListTeam, rbac.ActionRead},
		{http.MethodPost, "/api/team/invite", s.handleInvite, rbac.ActionManage},
		{http.MethodPut, "/api/team/{userId}", s.handleUpdateMember, rbac.ActionManage},
		{http.MethodDelete, "/api/team/{userId}", s.handleRemoveMember, rbac.ActionManage},
	}
}

func (s *HTTPServer) notificationRoutes() []route {
	return []route{
		{http.MethodGet, "/api/notifications", s.handleListNotifications, rbac.ActionRead},
		{http.MethodPut, "/api/notifications/read-all", s.handleReadAll, rbac.ActionRead},
		{http.MethodGet, "/api/notifications/stream", s.handleStream, rbac.ActionRead},
		{http.MethodPut, "/api/notifications/{id}", s.handleMarkNotification, rbac.ActionRead},
		{http.MethodDelete, "/api/notifications/{id}", s.handleDeleteNotification, rbac.ActionRead},
	}
}

func (s *HTTPServer) handleListTeam(w http.ResponseWriter, r *http.Request, session Session) {
	members, err := s.service.ListTeam(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *HTTPServer) handleInvite(w http.ResponseWriter, r *http.Request, session Session) {
	var body InviteInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	result, err := s.service.Invite(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := map[string]any{"member": result.Member, "created": result.Created}
	if result.DevSetupToken != "" {
		response["devSetupToken"] = result.DevSetupToken
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleUpdateMember(w http.ResponseWriter, r *http.Request, session Session) {
	var body MemberInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	member, err := s.service.UpdateMember(r.Context(), session, mux.Vars(r)["userId"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": member})
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.RemoveMember(r.Context(), session, mux.Vars(r)["userId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Notifications

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request, session Session) {
	notifications, err := s.service.ListNotifications(r.Context(), session, queryBool(r, "unread"), queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (s *HTTPServer) handleReadAll(w http.ResponseWriter, r *http.Request, session Session) {
	updated, err := s.service.MarkAllNotificationsRead(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (s *HTTPServer) handleMarkNotification(w http.ResponseWriter, r *http.Request, session Session) {
	var body NotificationInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	if err := s.service.MarkNotification(r.Context(), session, mux.Vars(r)["id"], body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDeleteNotification(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteNotification(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	q := r.URL.Query()
	response, err := s.service.Search(r.Context(), session, SearchInput{
		Text:    q.Get("q"),
		Type:    q.Get("type"),
		PlateID: q.Get("plateId"),
		Limit:   queryInt(r, "limit", 20),
		Offset:  queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}
