package app

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"plate/api/internal/rbac"
)

func (s *HTTPServer) platterRoutes() []route {
	return []route{
		{http.MethodGet, "/api/platters", s.handleListPlatters, rbac.ActionRead},
		{http.MethodPost, "/api/platters", s.handleCreatePlatter, rbac.ActionWrite},
		{http.MethodGet, "/api/platters/{id}", s.handleGetPlatter, rbac.ActionRead},
		{http.MethodPut, "/api/platters/{id}", s.handleUpdatePlatter, rbac.ActionWrite},
		{http.MethodDelete, "/api/platters/{id}", s.handleDeletePlatter, rbac.ActionManage},
	}
}

func (s *HTTPServer) plateRoutes() []route {
	return []route{
		{http.MethodGet, "/api/plates", s.handleListPlates, rbac.ActionRead},
		{http.MethodPost, "/api/plates", s.handleCreatePlate, rbac.ActionWrite},
		{http.MethodGet, "/api/plates/{id}", s.handleGetPlate, rbac.ActionRead},
		{http.MethodPut, "/api/plates/{id}", s.handleUpdatePlate, rbac.ActionWrite},
		{http.MethodDelete, "/api/plates/{id}", s.handleDeletePlate, rbac.ActionManage},
		{http.MethodPut, "/api/plates/{id}/move", s.handleMovePlate, rbac.ActionWrite},
		{http.MethodPost, "/api/plates/{id}/headers", s.handleCreateHeader, rbac.ActionWrite},
		{http.MethodPut, "/api/plates/{id}/headers/{headerId}", s.handleUpdateHeader, rbac.ActionWrite},
		{http.MethodDelete, "/api/plates/{id}/headers/{headerId}", s.handleDeleteHeader, rbac.ActionWrite},
		{http.MethodPut, "/api/plates/{id}/headers/{headerId}/move", s.handleMoveHeader, rbac.ActionWrite},
		{http.MethodGet, "/api/plates/{id}/metrics", s.handlePlateSummary, rbac.ActionRead},
		{http.MethodGet, "/api/plates/{id}/activity", s.handlePlateActivity, rbac.ActionRead},
		{http.MethodGet, "/api/plates/{id}/export", s.handleExportPlate, rbac.ActionRead},
		{http.MethodGet, "/api/plates/{id}/snapshots", s.handleListSnapshots, rbac.ActionRead},
		{http.MethodPost, "/api/plates/{id}/snapshots", s.handleTakeSnapshot, rbac.ActionWrite},
	}
}

// Platters

func (s *HTTPServer) handleListPlatters(w http.ResponseWriter, r *http.Request, session Session) {
	platters, err := s.service.ListPlatters(r.Context(), session, queryBool(r, "archived"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platters": platters})
}

func (s *HTTPServer) handleCreatePlatter(w http.ResponseWriter, r *http.Request, session Session) {
	var body PlatterInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	platter, err := s.service.CreatePlatter(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"platter": platter})
}

func (s *HTTPServer) handleGetPlatter(w http.ResponseWriter, r *http.Request, session Session) {
	platter, err := s.service.GetPlatter(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platter": platter})
}

func (s *HTTPServer) handleUpdatePlatter(w http.ResponseWriter, r *http.Request, session Session) {
	var body PlatterInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	platter, err := s.service.UpdatePlatter(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platter": platter})
}

func (s *HTTPServer) handleDeletePlatter(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeletePlatter(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Plates

func (s *HTTPServer) handleListPlates(w http.ResponseWriter, r *http.Request, session Session) {
	plates, err := s.service.ListPlates(r.Context(), session, PlateFilter{
		PlatterID: r.URL.Query().Get("platterId"),
		Archived:  queryBool(r, "archived"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plates": plates})
}

func (s *HTTPServer) handleCreatePlate(w http.ResponseWriter, r *http.Request, session Session) {
	var body CreatePlateInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	plate, err := s.service.CreatePlate(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"plate": plate})
}

func (s *HTTPServer) handleGetPlate(w http.ResponseWriter, r *http.Request, session Session) {
	plate, err := s.service.GetPlate(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plate": plate})
}

func (s *HTTPServer) handleUpdatePlate(w http.ResponseWriter, r *http.Request, session Session) {
	var body UpdatePlateInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	plate, err := s.service.UpdatePlate(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plate": plate})
}

func (s *HTTPServer) handleDeletePlate(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeletePlate(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMovePlate(w http.ResponseWriter, r *http.Request, session Session) {
	var body MovePlateInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	result, err := s.service.MovePlate(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Headers

func (s *HTTPServer) handleCreateHeader(w http.ResponseWriter, r *http.Request, session Session) {
	var body HeaderInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	header, err := s.service.CreateHeader(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"header": header})
}

func (s *HTTPServer) handleUpdateHeader(w http.ResponseWriter, r *http.Request, session Session) {
	var body HeaderInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	header, err := s.service.UpdateHeader(r.Context(), session, vars["id"], vars["headerId"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"header": header})
}

func (s *HTTPServer) handleDeleteHeader(w http.ResponseWriter, r *http.Request, session Session) {
	vars := mux.Vars(r)
	if err := s.service.DeleteHeader(r.Context(), session, vars["id"], vars["headerId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMoveHeader(w http.ResponseWriter, r *http.Request, session Session) {
	var body MoveHeaderInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	vars := mux.Vars(r)
	changed, err := s.service.MoveHeader(r.Context(), session, vars["id"], vars["headerId"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

// Summary, activity, export and snapshots

func (s *HTTPServer) handlePlateSummary(w http.ResponseWriter, r *http.Request, session Session) {
	summary, err := s.service.PlateSummary(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (s *HTTPServer) handlePlateActivity(w http.ResponseWriter, r *http.Request, session Session) {
	entries, err := s.service.PlateActivity(r.Context(), session, mux.Vars(r)["id"], queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

func (s *HTTPServer) handleExportPlate(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ExportPlate(r.Context(), session, mux.Vars(r)["id"], r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleListSnapshots(w http.ResponseWriter, r *http.Request, session Session) {
	snapshots, err := s.service.ListSnapshots(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snapshots})
}

func (s *HTTPServer) handleTakeSnapshot(w http.ResponseWriter, r *http.Request, session Session) {
	info, err := s.service.TakeSnapshot(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"snapshot": info})
}
