package app

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"plate/api/internal/rbac"
)

func (s *HTTPServer) itemRoutes() []route {
	return []route{
		{http.MethodGet, "/api/plateitems", s.handleListItems, rbac.ActionRead},
		{http.MethodPost, "/api/plateitems", s.handleCreateItem, rbac.ActionWrite},
		{http.MethodGet, "/api/plateitems/{id}", s.handleGetItem, rbac.ActionRead},
		{http.MethodPut, "/api/plateitems/{id}", s.handleUpdateItem, rbac.ActionWrite},
		{http.MethodDelete, "/api/plateitems/{id}", s.handleDeleteItem, rbac.ActionWrite},
		{http.MethodPut, "/api/plateitems/{id}/move", s.handleMoveItem, rbac.ActionWrite},
		{http.MethodGet, "/api/plateitems/{id}/comments", s.handleListComments, rbac.ActionRead},
		{http.MethodPost, "/api/plateitems/{id}/comments", s.handleCreateComment, rbac.ActionComment},
		{http.MethodPut, "/api/plateitems/{id}/comments/{commentId}", s.handleUpdateComment, rbac.ActionComment},
		{http.MethodDelete, "/api/plateitems/{id}/comments/{commentId}", s.handleDeleteComment, rbac.ActionComment},
		{http.MethodGet, "/api/plateitems/{id}/metrics", s.handleListMetrics, rbac.ActionRead},
		{http.MethodPost, "/api/plateitems/{id}/metrics", s.handleCreateMetric, rbac.ActionWrite},
		{http.MethodDelete, "/api/plateitems/{id}/metrics/{metricId}", s.handleDeleteMetric, rbac.ActionWrite},
		{http.MethodGet, "/api/plateitems/{id}/activity", s.handleItemActivity, rbac.ActionRead},
		{http.MethodGet, "/api/plateitems/{id}/attachments", s.handleListAttachments, rbac.ActionRead},
		{http.MethodPost, "/api/plateitems/{id}/attachments", s.handleCreateAttachment, rbac.ActionWrite},
		{http.MethodGet, "/api/plateitems/{id}/attachments/{attachmentId}/url", s.handleAttachmentURL, rbac.ActionRead},
		{http.MethodDelete, "/api/plateitems/{id}/attachments/{attachmentId}", s.handleDeleteAttachment, rbac.ActionWrite},
	}
}

func (s *HTTPServer) handleListItems(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.ListItems(r.Context(), session, r.URL.Query().Get("plateId"), queryBool(r, "archived"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plateItems": items})
}

func (s *HTTPServer) handleCreateItem(w http.ResponseWriter, r *http.Request, session Session) {
	var body CreateItemInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.CreateItem(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"plateItem": item})
}

func (s *HTTPServer) handleGetItem(w http.ResponseWriter, r *http.Request, session Session) {
	item, err := s.service.GetItem(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plateItem": item})
}

func (s *HTTPServer) handleUpdateItem(w http.ResponseWriter, r *http.Request, session Session) {
	var body UpdateItemInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	item, err := s.service.UpdateItem(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plateItem": item})
}

func (s *HTTPServer) handleDeleteItem(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteItem(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMoveItem(w http.ResponseWriter, r *http.Request, session Session) {
	var body MoveItemInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	result, err := s.service.MoveItem(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Comments

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request, session Session) {
	comments, err := s.service.ListComments(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request, session Session) {
	var body CommentInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	comment, err := s.service.CreateComment(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
}

func (s *HTTPServer) handleUpdateComment(w http.ResponseWriter, r *http.Request, session Session) {
	var body CommentInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	comment, err := s.service.UpdateComment(r.Context(), session, vars["id"], vars["commentId"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": comment})
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	if err := s.service.DeleteComment(r.Context(), session, vars["id"], vars["commentId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Metrics

func (s *HTTPServer) handleListMetrics(w http.ResponseWriter, r *http.Request, session Session) {
	metrics, err := s.service.ListMetrics(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
}

func (s *HTTPServer) handleCreateMetric(w http.ResponseWriter, r *http.Request, session Session) {
	var body MetricInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	metric, err := s.service.CreateMetric(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"metric": metric})
}

func (s *HTTPServer) handleDeleteMetric(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	if err := s.service.DeleteMetric(r.Context(), session, vars["id"], vars["metricId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleItemActivity(w http.ResponseWriter, r *http.Request, session Session) {
	entries, err := s.service.ItemActivity(r.Context(), session, mux.Vars(r)["id"], queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

// Attachments

func (s *HTTPServer) handleListAttachments(w http.ResponseWriter, r *http.Request, session Session) {
	attachments, err := s.service.ListAttachments(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})
}

// handleCreateAttachment accepts a multipart upload in the "file" field or
// a JSON body linking a Slack or Gmail resource.
func (s *HTTPServer) handleCreateAttachment(w http.ResponseWriter, r *http.Request, session Session) {
	itemID := mux.Vars(r)["id"]
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		var body LinkAttachmentInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		attachment, err := s.service.LinkAttachment(r.Context(), session, itemID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"attachment": attachment})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Attachments must be between 1 byte and 25 MB", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field \"file\" is required", nil)
		return
	}
	defer file.Close()

	attachment, err := s.service.UploadAttachment(r.Context(), session, itemID, UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attachment": attachment})
}

func (s *HTTPServer) handleAttachmentURL(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	url, err := s.service.AttachmentURL(r.Context(), session, vars["id"], vars["attachmentId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *HTTPServer) handleDeleteAttachment(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	if err := s.service.DeleteAttachment(r.Context(), session, vars["id"], vars["attachmentId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
