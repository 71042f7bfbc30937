package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"plate/api/internal/activity"
	"plate/api/internal/export"
	"plate/api/internal/model"
	"plate/api/internal/snapshot"
	"plate/api/internal/util"
)

var defaultHeaders = []string{"To Do", "Doing", "Done"}

func cleanName(raw, field string, max int) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", validationError(field + " is required")
	}
	if len(name) > max {
		return "", validationError(fmt.Sprintf("%s must be at most %d characters", field, max))
	}
	return name, nil
}

// Platters

// ListPlatters returns the team's platters, each carrying its active
// plates in list order.
func (s *Service) ListPlatters(ctx context.Context, session Session, includeArchived bool) ([]model.Platter, error) {
	platters, err := s.store.ListPlatters(ctx, session.TeamID, includeArchived)
	if err != nil {
		return nil, err
	}
	plates, err := s.store.ListPlates(ctx, session.TeamID, "", false)
	if err != nil {
		return nil, err
	}
	byPlatter := make(map[string][]*model.Plate, len(platters))
	for i := range plates {
		p := plates[i]
		byPlatter[p.PlatterID] = append(byPlatter[p.PlatterID], &p)
	}
	for i := range platters {
		platters[i].Plates = byPlatter[platters[i].ID]
		if platters[i].Plates == nil {
			platters[i].Plates = make([]*model.Plate, 0)
		}
	}
	return platters, nil
}

func (s *Service) GetPlatter(ctx context.Context, session Session, platterID string) (model.Platter, error) {
	platter, err := s.platterInTeam(ctx, session, platterID)
	if err != nil {
		return model.Platter{}, err
	}
	plates, err := s.store.ListPlates(ctx, session.TeamID, platterID, false)
	if err != nil {
		return model.Platter{}, err
	}
	platter.Plates = make([]*model.Plate, 0, len(plates))
	for i := range plates {
		platter.Plates = append(platter.Plates, &plates[i])
	}
	return platter, nil
}

type PlatterInput struct {
	Name     *string `json:"name"`
	Color    *string `json:"color"`
	Archived *bool   `json:"archived"`
}

func (s *Service) CreatePlatter(ctx context.Context, session Session, input PlatterInput) (model.Platter, error) {
	name, err := cleanName(deref(input.Name), "name", 120)
	if err != nil {
		return model.Platter{}, err
	}
	platter := model.Platter{
		ID:        util.NewID("ptr"),
		TeamID:    session.TeamID,
		Name:      name,
		Color:     deref(input.Color),
		CreatedBy: session.UserID,
	}
	if err := s.store.CreatePlatter(ctx, platter); err != nil {
		return model.Platter{}, err
	}
	created, err := s.store.GetPlatter(ctx, platter.ID)
	if err != nil {
		return model.Platter{}, err
	}
	created.Plates = make([]*model.Plate, 0)
	s.record(ctx, session, activityFor("", "", activity.ActionCreated, "platter "+created.Name))
	s.publishTeam(ctx, session, model.EntityPlatter, model.ChangeInsert, created.ID, "", created)
	return created, nil
}

func (s *Service) UpdatePlatter(ctx context.Context, session Session, platterID string, input PlatterInput) (model.Platter, error) {
	platter, err := s.platterInTeam(ctx, session, platterID)
	if err != nil {
		return model.Platter{}, err
	}
	if input.Name != nil {
		if platter.Name, err = cleanName(*input.Name, "name", 120); err != nil {
			return model.Platter{}, err
		}
	}
	if input.Color != nil {
		platter.Color = *input.Color
	}
	if input.Archived != nil {
		platter.Archived = *input.Archived
	}
	if err := s.store.UpdatePlatter(ctx, platter); err != nil {
		return model.Platter{}, err
	}
	updated, err := s.store.GetPlatter(ctx, platterID)
	if err != nil {
		return model.Platter{}, err
	}
	s.record(ctx, session, activityFor("", "", activity.ActionUpdated, "platter "+updated.Name))
	s.publishTeam(ctx, session, model.EntityPlatter, model.ChangeUpdate, updated.ID, "", updated)
	return updated, nil
}

func (s *Service) DeletePlatter(ctx context.Context, session Session, platterID string) error {
	platter, err := s.platterInTeam(ctx, session, platterID)
	if err != nil {
		return err
	}
	plates, err := s.store.ListPlates(ctx, session.TeamID, platterID, false)
	if err != nil {
		return err
	}
	if err := s.store.DeletePlatter(ctx, platterID); err != nil {
		return err
	}
	for _, p := range plates {
		s.unindexPlate(p.ID)
	}
	s.record(ctx, session, activityFor("", "", activity.ActionDeleted, "platter "+platter.Name))
	s.publishTeam(ctx, session, model.EntityPlatter, model.ChangeRemove, platterID, "", nil)
	return nil
}

// Plates

type PlateFilter struct {
	PlatterID string
	Archived  bool
}

func (s *Service) ListPlates(ctx context.Context, session Session, filter PlateFilter) ([]model.Plate, error) {
	return s.store.ListPlates(ctx, session.TeamID, filter.PlatterID, filter.Archived)
}

// GetPlate returns the plate with headers and their active cards.
func (s *Service) GetPlate(ctx context.Context, session Session, plateID string) (*model.Plate, error) {
	if _, err := s.plateInTeam(ctx, session, plateID); err != nil {
		return nil, err
	}
	return s.store.LoadPlate(ctx, plateID)
}

type CreatePlateInput struct {
	PlatterID string   `json:"platterId"`
	Name      string   `json:"name"`
	Color     string   `json:"color"`
	Headers   []string `json:"headers"`
}

func (s *Service) CreatePlate(ctx context.Context, session Session, input CreatePlateInput) (model.Plate, error) {
	name, err := cleanName(input.Name, "name", 120)
	if err != nil {
		return model.Plate{}, err
	}
	if strings.TrimSpace(input.PlatterID) == "" {
		return model.Plate{}, validationError("platterId is required")
	}
	if _, err := s.platterInTeam(ctx, session, input.PlatterID); err != nil {
		return model.Plate{}, err
	}

	names := input.Headers
	if names == nil {
		names = defaultHeaders
	}
	headers := make([]model.Header, 0, len(names))
	for _, raw := range names {
		headerName, err := cleanName(raw, "header name", 80)
		if err != nil {
			return model.Plate{}, err
		}
		headers = append(headers, model.Header{ID: util.NewID("hdr"), Name: headerName})
	}

	plate, err := s.store.CreatePlate(ctx, model.Plate{
		ID:        util.NewID("plt"),
		PlatterID: input.PlatterID,
		TeamID:    session.TeamID,
		Name:      name,
		Color:     input.Color,
		CreatedBy: session.UserID,
	}, headers)
	if err != nil {
		return model.Plate{}, err
	}
	s.indexPlate(plate)
	s.record(ctx, session, activityFor(plate.ID, "", activity.ActionCreated, plate.Name))
	s.publishTeam(ctx, session, model.EntityPlate, model.ChangeInsert, plate.ID, plate.ID, plate)
	return plate, nil
}

type UpdatePlateInput struct {
	Name     *string `json:"name"`
	Color    *string `json:"color"`
	Archived *bool   `json:"archived"`
}

// UpdatePlate renames, recolours and archives or restores a plate. Archive
// state changes renumber the platter's remaining plates.
func (s *Service) UpdatePlate(ctx context.Context, session Session, plateID string, input UpdatePlateInput) (model.Plate, error) {
	plate, err := s.plateInTeam(ctx, session, plateID)
	if err != nil {
		return model.Plate{}, err
	}
	if input.Name != nil || input.Color != nil {
		if input.Name != nil {
			if plate.Name, err = cleanName(*input.Name, "name", 120); err != nil {
				return model.Plate{}, err
			}
		}
		if input.Color != nil {
			plate.Color = *input.Color
		}
		if err := s.store.UpdatePlate(ctx, plate); err != nil {
			return model.Plate{}, err
		}
		s.record(ctx, session, activityFor(plateID, "", activity.ActionUpdated, plate.Name))
	}

	var shifted []model.Plate
	if input.Archived != nil && *input.Archived != plate.Archived {
		if shifted, err = s.store.SetPlateArchived(ctx, plateID, *input.Archived); err != nil {
			return model.Plate{}, err
		}
		action := activity.ActionRestored
		if *input.Archived {
			action = activity.ActionArchived
		}
		s.record(ctx, session, activityFor(plateID, "", action, plate.Name))
	}

	updated, err := s.store.GetPlate(ctx, plateID)
	if err != nil {
		return model.Plate{}, err
	}
	s.indexPlate(updated)
	s.publishTeam(ctx, session, model.EntityPlate, model.ChangeUpdate, updated.ID, updated.ID, updated)
	for _, p := range shifted {
		if p.ID != plateID {
			s.publishTeam(ctx, session, model.EntityPlate, model.ChangeUpdate, p.ID, p.ID, p)
		}
	}
	return updated, nil
}

func (s *Service) DeletePlate(ctx context.Context, session Session, plateID string) error {
	plate, err := s.plateInTeam(ctx, session, plateID)
	if err != nil {
		return err
	}
	shifted, err := s.store.DeletePlate(ctx, plateID)
	if err != nil {
		return err
	}
	s.unindexPlate(plateID)
	s.record(ctx, session, activityFor("", "", activity.ActionDeleted, "plate "+plate.Name))
	s.publishTeam(ctx, session, model.EntityPlate, model.ChangeRemove, plateID, plateID, nil)
	for _, p := range shifted {
		s.publishTeam(ctx, session, model.EntityPlate, model.ChangeUpdate, p.ID, p.ID, p)
	}
	return nil
}

type MovePlateInput struct {
	PlatterID string `json:"platterId"`
	Index     *int   `json:"index"`
}

type PlateMoveResult struct {
	Plate   model.Plate   `json:"plate"`
	Changed []model.Plate `json:"changed"`
}

// MovePlate relocates a plate within its platter or into another one.
func (s *Service) MovePlate(ctx context.Context, session Session, plateID string, input MovePlateInput) (PlateMoveResult, error) {
	plate, err := s.plateInTeam(ctx, session, plateID)
	if err != nil {
		return PlateMoveResult{}, err
	}
	if input.Index == nil {
		return PlateMoveResult{}, validationError("index is required")
	}
	platterID := strings.TrimSpace(input.PlatterID)
	if platterID == "" {
		platterID = plate.PlatterID
	}
	if platterID != plate.PlatterID {
		if _, err := s.platterInTeam(ctx, session, platterID); err != nil {
			return PlateMoveResult{}, err
		}
	}

	move, err := s.store.MovePlate(ctx, plateID, platterID, *input.Index)
	s.metrics.ObserveMove(model.EntityPlate, err)
	if err != nil {
		return PlateMoveResult{}, err
	}

	detail := fmt.Sprintf("to position %d", move.Plate.ListPos)
	if move.FromPlatterID != move.Plate.PlatterID {
		detail = fmt.Sprintf("to platter %s position %d", move.Plate.PlatterID, move.Plate.ListPos)
		s.indexPlate(move.Plate)
	}
	s.record(ctx, session, activityFor(plateID, "", activity.ActionMoved, detail))
	for _, p := range move.Changed {
		s.publishTeam(ctx, session, model.EntityPlate, model.ChangeUpdate, p.ID, p.ID, p)
	}
	return PlateMoveResult{Plate: move.Plate, Changed: move.Changed}, nil
}

// Headers

type HeaderInput struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

func (s *Service) CreateHeader(ctx context.Context, session Session, plateID string, input HeaderInput) (model.Header, error) {
	if _, err := s.plateInTeam(ctx, session, plateID); err != nil {
		return model.Header{}, err
	}
	name, err := cleanName(deref(input.Name), "name", 80)
	if err != nil {
		return model.Header{}, err
	}
	header, err := s.store.CreateHeader(ctx, model.Header{
		ID:      util.NewID("hdr"),
		PlateID: plateID,
		Name:    name,
		Color:   deref(input.Color),
	})
	if err != nil {
		return model.Header{}, err
	}
	header.Items = make([]*model.PlateItem, 0)
	s.record(ctx, session, activityFor(plateID, "", activity.ActionCreated, "column "+header.Name))
	s.publishPlate(ctx, session, plateID, model.EntityHeader, model.ChangeInsert, header.ID, header)
	return header, nil
}

func (s *Service) headerInPlate(ctx context.Context, session Session, plateID, headerID string) (model.Header, error) {
	if _, err := s.plateInTeam(ctx, session, plateID); err != nil {
		return model.Header{}, err
	}
	header, err := s.store.GetHeader(ctx, headerID)
	if err != nil {
		return model.Header{}, err
	}
	if header.PlateID != plateID {
		return model.Header{}, notFound()
	}
	return header, nil
}

func (s *Service) UpdateHeader(ctx context.Context, session Session, plateID, headerID string, input HeaderInput) (model.Header, error) {
	header, err := s.headerInPlate(ctx, session, plateID, headerID)
	if err != nil {
		return model.Header{}, err
	}
	if input.Name != nil {
		if header.Name, err = cleanName(*input.Name, "name", 80); err != nil {
			return model.Header{}, err
		}
	}
	if input.Color != nil {
		header.Color = *input.Color
	}
	if err := s.store.UpdateHeader(ctx, header); err != nil {
		return model.Header{}, err
	}
	s.record(ctx, session, activityFor(plateID, "", activity.ActionUpdated, "column "+header.Name))
	s.publishPlate(ctx, session, plateID, model.EntityHeader, model.ChangeUpdate, header.ID, header)
	return header, nil
}

// DeleteHeader removes the column together with its cards.
func (s *Service) DeleteHeader(ctx context.Context, session Session, plateID, headerID string) error {
	header, err := s.headerInPlate(ctx, session, plateID, headerID)
	if err != nil {
		return err
	}
	items, err := s.store.ListItems(ctx, plateID, true)
	if err != nil {
		return err
	}
	shifted, err := s.store.DeleteHeader(ctx, plateID, headerID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.HeaderID == headerID {
			s.unindexItem(item.ID)
		}
	}
	s.record(ctx, session, activityFor(plateID, "", activity.ActionDeleted, "column "+header.Name))
	s.publishPlate(ctx, session, plateID, model.EntityHeader, model.ChangeRemove, headerID, nil)
	for _, h := range shifted {
		s.publishPlate(ctx, session, plateID, model.EntityHeader, model.ChangeUpdate, h.ID, h)
	}
	return nil
}

type MoveHeaderInput struct {
	Index *int `json:"index"`
}

func (s *Service) MoveHeader(ctx context.Context, session Session, plateID, headerID string, input MoveHeaderInput) ([]model.Header, error) {
	header, err := s.headerInPlate(ctx, session, plateID, headerID)
	if err != nil {
		return nil, err
	}
	if input.Index == nil {
		return nil, validationError("index is required")
	}
	changed, err := s.store.MoveHeader(ctx, plateID, headerID, *input.Index)
	s.metrics.ObserveMove(model.EntityHeader, err)
	if err != nil {
		return nil, err
	}
	s.record(ctx, session, activityFor(plateID, "", activity.ActionMoved, fmt.Sprintf("column %s to position %d", header.Name, *input.Index)))
	for _, h := range changed {
		s.publishPlate(ctx, session, plateID, model.EntityHeader, model.ChangeUpdate, h.ID, h)
	}
	return changed, nil
}

// Summary, activity, export and snapshots

// PlateSummary counts active cards per column and sums card metrics by
// name, per column and for the whole plate.
func (s *Service) PlateSummary(ctx context.Context, session Session, plateID string) (model.PlateSummary, error) {
	plate, err := s.GetPlate(ctx, session, plateID)
	if err != nil {
		return model.PlateSummary{}, err
	}
	items, err := s.store.ListItems(ctx, plateID, true)
	if err != nil {
		return model.PlateSummary{}, err
	}
	metrics, err := s.store.ListPlateMetrics(ctx, plateID)
	if err != nil {
		return model.PlateSummary{}, err
	}
	return summarize(plate, items, metrics), nil
}

func summarize(plate *model.Plate, items []model.PlateItem, metrics []model.Metric) model.PlateSummary {
	summary := model.PlateSummary{PlateID: plate.ID, Headers: make([]model.HeaderSummary, 0, len(plate.Headers))}

	headerOf := make(map[string]string, len(items))
	for _, item := range items {
		if item.Archived {
			summary.Archived++
			continue
		}
		headerOf[item.ID] = item.HeaderID
	}

	byHeader := make(map[string]map[string]*model.MetricTotal)
	overall := make(map[string]*model.MetricTotal)
	for _, m := range metrics {
		headerID, active := headerOf[m.PlateItemID]
		if !active {
			continue
		}
		addTotal(overall, m)
		if byHeader[headerID] == nil {
			byHeader[headerID] = make(map[string]*model.MetricTotal)
		}
		addTotal(byHeader[headerID], m)
	}

	for _, h := range plate.Headers {
		summary.CardCount += len(h.Items)
		summary.Headers = append(summary.Headers, model.HeaderSummary{
			HeaderID:  h.ID,
			Name:      h.Name,
			CardCount: len(h.Items),
			Totals:    sortedTotals(byHeader[h.ID]),
		})
	}
	summary.Totals = sortedTotals(overall)
	return summary
}

func addTotal(totals map[string]*model.MetricTotal, m model.Metric) {
	t, ok := totals[m.Name]
	if !ok {
		t = &model.MetricTotal{Name: m.Name, Unit: m.Unit}
		totals[m.Name] = t
	}
	t.Total += m.Value
}

func sortedTotals(totals map[string]*model.MetricTotal) []model.MetricTotal {
	out := make([]model.MetricTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) PlateActivity(ctx context.Context, session Session, plateID string, limit int) ([]model.Activity, error) {
	if _, err := s.plateInTeam(ctx, session, plateID); err != nil {
		return nil, err
	}
	return s.activity.List(ctx, activity.Filter{TeamID: session.TeamID, PlateID: plateID, Limit: limit})
}

func (s *Service) ExportPlate(ctx context.Context, session Session, plateID, rawFormat string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, unavailable("EXPORT_UNAVAILABLE", "Export is not configured on this server")
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	if _, err := s.plateInTeam(ctx, session, plateID); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, plateID, format)
}

func (s *Service) ListSnapshots(ctx context.Context, session Session, plateID string) ([]snapshot.Info, error) {
	if s.snapshots == nil {
		return nil, unavailable("SNAPSHOTS_UNAVAILABLE", "Snapshots are not configured on this server")
	}
	if _, err := s.plateInTeam(ctx, session, plateID); err != nil {
		return nil, err
	}
	return s.snapshots.List(ctx, plateID)
}

func (s *Service) TakeSnapshot(ctx context.Context, session Session, plateID string) (snapshot.Info, error) {
	if s.snapshots == nil {
		return snapshot.Info{}, unavailable("SNAPSHOTS_UNAVAILABLE", "Snapshots are not configured on this server")
	}
	plate, err := s.GetPlate(ctx, session, plateID)
	if err != nil {
		return snapshot.Info{}, err
	}
	return s.snapshots.Put(ctx, *plate)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
