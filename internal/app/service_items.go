package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"plate/api/internal/activity"
	"plate/api/internal/model"
	"plate/api/internal/rbac"
	"plate/api/internal/storage"
	"plate/api/internal/util"
)

const (
	maxAttachmentSize  = 25 << 20
	attachmentURLValid = 15 * time.Minute
)

// Plate items

func (s *Service) ListItems(ctx context.Context, session Session, plateID string, includeArchived bool) ([]model.PlateItem, error) {
	if strings.TrimSpace(plateID) == "" {
		return nil, validationError("plateId is required")
	}
	if _, err := s.plateInTeam(ctx, session, plateID); err != nil {
		return nil, err
	}
	return s.store.ListItems(ctx, plateID, includeArchived)
}

func (s *Service) GetItem(ctx context.Context, session Session, itemID string) (model.PlateItem, error) {
	item, _, err := s.itemInTeam(ctx, session, itemID)
	return item, err
}

type CreateItemInput struct {
	PlateID     string  `json:"plateId"`
	HeaderID    string  `json:"headerId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       string  `json:"color"`
	AssigneeID  string  `json:"assigneeId"`
	DueAt       *string `json:"dueAt"`
	Index       *int    `json:"index"`
}

func (s *Service) CreateItem(ctx context.Context, session Session, input CreateItemInput) (model.PlateItem, error) {
	title, err := cleanName(input.Title, "title", 200)
	if err != nil {
		return model.PlateItem{}, err
	}
	if strings.TrimSpace(input.HeaderID) == "" {
		return model.PlateItem{}, validationError("headerId is required")
	}
	plateID := strings.TrimSpace(input.PlateID)
	header, err := s.store.GetHeader(ctx, input.HeaderID)
	if err != nil {
		return model.PlateItem{}, err
	}
	if plateID == "" {
		plateID = header.PlateID
	}
	if header.PlateID != plateID {
		return model.PlateItem{}, validationError("headerId does not belong to plateId")
	}
	if _, err := s.plateInTeam(ctx, session, plateID); err != nil {
		return model.PlateItem{}, err
	}
	if err := s.checkAssignee(ctx, session, input.AssigneeID); err != nil {
		return model.PlateItem{}, err
	}
	due, err := parseDue(input.DueAt)
	if err != nil {
		return model.PlateItem{}, err
	}

	index := -1
	if input.Index != nil {
		index = *input.Index
	}
	item, shifted, err := s.store.CreateItem(ctx, model.PlateItem{
		ID:          util.NewID("itm"),
		PlateID:     plateID,
		HeaderID:    header.ID,
		Title:       title,
		Description: input.Description,
		Color:       input.Color,
		AssigneeID:  input.AssigneeID,
		DueAt:       due,
		CreatedBy:   session.UserID,
	}, index)
	if err != nil {
		return model.PlateItem{}, err
	}

	s.indexItem(session.TeamID, item)
	s.record(ctx, session, activityFor(plateID, item.ID, activity.ActionCreated, item.Title))
	s.publishPlate(ctx, session, plateID, model.EntityPlateItem, model.ChangeInsert, item.ID, item)
	s.publishShiftedItems(ctx, session, plateID, item.ID, shifted)
	if item.AssigneeID != "" {
		s.notify(ctx, session, item.AssigneeID, model.Notification{
			Kind:        model.NotificationAssignment,
			Message:     fmt.Sprintf("%s assigned you to %q", session.UserName, item.Title),
			PlateID:     plateID,
			PlateItemID: item.ID,
		})
	}
	return item, nil
}

type UpdateItemInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	AssigneeID  *string `json:"assigneeId"`
	DueAt       *string `json:"dueAt"`
	Archived    *bool   `json:"archived"`
}

// UpdateItem patches card fields. An empty dueAt or assigneeId clears it;
// archived toggles the card in and out of its column's ordering.
func (s *Service) UpdateItem(ctx context.Context, session Session, itemID string, input UpdateItemInput) (model.PlateItem, error) {
	item, plate, err := s.itemInTeam(ctx, session, itemID)
	if err != nil {
		return model.PlateItem{}, err
	}
	previousAssignee := item.AssigneeID

	fieldsChanged := false
	if input.Title != nil {
		if item.Title, err = cleanName(*input.Title, "title", 200); err != nil {
			return model.PlateItem{}, err
		}
		fieldsChanged = true
	}
	if input.Description != nil {
		item.Description = *input.Description
		fieldsChanged = true
	}
	if input.Color != nil {
		item.Color = *input.Color
		fieldsChanged = true
	}
	if input.AssigneeID != nil {
		if err := s.checkAssignee(ctx, session, *input.AssigneeID); err != nil {
			return model.PlateItem{}, err
		}
		item.AssigneeID = *input.AssigneeID
		fieldsChanged = true
	}
	if input.DueAt != nil {
		if item.DueAt, err = parseDue(input.DueAt); err != nil {
			return model.PlateItem{}, err
		}
		fieldsChanged = true
	}

	if fieldsChanged {
		if err := s.store.UpdateItem(ctx, item); err != nil {
			return model.PlateItem{}, err
		}
		s.record(ctx, session, activityFor(plate.ID, itemID, activity.ActionUpdated, item.Title))
	}

	var shifted []model.PlateItem
	if input.Archived != nil && *input.Archived != item.Archived {
		if _, shifted, err = s.store.SetItemArchived(ctx, itemID, *input.Archived); err != nil {
			return model.PlateItem{}, err
		}
		action := activity.ActionRestored
		if *input.Archived {
			action = activity.ActionArchived
		}
		s.record(ctx, session, activityFor(plate.ID, itemID, action, item.Title))
	}

	updated, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return model.PlateItem{}, err
	}
	s.indexItem(session.TeamID, updated)
	s.publishPlate(ctx, session, plate.ID, model.EntityPlateItem, model.ChangeUpdate, updated.ID, updated)
	s.publishShiftedItems(ctx, session, plate.ID, updated.ID, shifted)

	if updated.AssigneeID != "" && updated.AssigneeID != previousAssignee {
		s.record(ctx, session, activityFor(plate.ID, itemID, activity.ActionAssigned, updated.AssigneeID))
		s.notify(ctx, session, updated.AssigneeID, model.Notification{
			Kind:        model.NotificationAssignment,
			Message:     fmt.Sprintf("%s assigned you to %q", session.UserName, updated.Title),
			PlateID:     plate.ID,
			PlateItemID: updated.ID,
		})
	}
	return updated, nil
}

func (s *Service) DeleteItem(ctx context.Context, session Session, itemID string) error {
	_, plate, err := s.itemInTeam(ctx, session, itemID)
	if err != nil {
		return err
	}
	attachments, err := s.store.ListAttachments(ctx, itemID)
	if err != nil {
		return err
	}
	deleted, shifted, err := s.store.DeleteItem(ctx, itemID)
	if err != nil {
		return err
	}
	for _, a := range attachments {
		s.deleteBlob(ctx, a)
	}
	s.unindexItem(itemID)
	s.record(ctx, session, activityFor(plate.ID, itemID, activity.ActionDeleted, deleted.Title))
	s.publishPlate(ctx, session, plate.ID, model.EntityPlateItem, model.ChangeRemove, itemID, nil)
	s.publishShiftedItems(ctx, session, plate.ID, itemID, shifted)
	return nil
}

type MoveItemInput struct {
	HeaderID string `json:"headerId"`
	Index    *int   `json:"index"`
}

type ItemMoveResult struct {
	Item         model.PlateItem   `json:"item"`
	FromHeaderID string            `json:"fromHeaderId"`
	Changed      []model.PlateItem `json:"changed"`
}

// MoveItem relocates a card to index within the target column. The store
// renumbers both columns in one transaction; every card whose header or
// position changed is pushed to the plate's subscribers.
func (s *Service) MoveItem(ctx context.Context, session Session, itemID string, input MoveItemInput) (ItemMoveResult, error) {
	item, plate, err := s.itemInTeam(ctx, session, itemID)
	if err != nil {
		return ItemMoveResult{}, err
	}
	if input.Index == nil {
		return ItemMoveResult{}, validationError("index is required")
	}
	headerID := strings.TrimSpace(input.HeaderID)
	if headerID == "" {
		headerID = item.HeaderID
	}
	target := plate
	if headerID != item.HeaderID {
		header, err := s.store.GetHeader(ctx, headerID)
		if err != nil {
			return ItemMoveResult{}, err
		}
		if header.PlateID != plate.ID {
			if target, err = s.plateInTeam(ctx, session, header.PlateID); err != nil {
				return ItemMoveResult{}, err
			}
		}
	}

	move, err := s.store.MoveItem(ctx, itemID, headerID, *input.Index)
	s.metrics.ObserveMove(model.EntityPlateItem, err)
	if err != nil {
		return ItemMoveResult{}, err
	}

	detail := fmt.Sprintf("to position %d", move.Item.Position)
	if move.FromHeaderID != move.Item.HeaderID {
		detail = fmt.Sprintf("from column %s to column %s position %d", move.FromHeaderID, move.Item.HeaderID, move.Item.Position)
	}
	s.record(ctx, session, activityFor(target.ID, itemID, activity.ActionMoved, detail))
	if target.ID != plate.ID {
		s.indexItem(session.TeamID, move.Item)
		s.publishPlate(ctx, session, plate.ID, model.EntityPlateItem, model.ChangeRemove, itemID, nil)
		s.publishPlate(ctx, session, target.ID, model.EntityPlateItem, model.ChangeInsert, itemID, move.Item)
	}
	for _, changed := range move.Changed {
		if target.ID != plate.ID && changed.ID == itemID {
			continue
		}
		s.publishPlate(ctx, session, changed.PlateID, model.EntityPlateItem, model.ChangeUpdate, changed.ID, changed)
	}

	if move.FromHeaderID != move.Item.HeaderID {
		message := fmt.Sprintf("%s moved %q", session.UserName, item.Title)
		for _, userID := range uniqueIDs(item.CreatedBy, item.AssigneeID) {
			s.notify(ctx, session, userID, model.Notification{
				Kind:        model.NotificationMove,
				Message:     message,
				PlateID:     target.ID,
				PlateItemID: itemID,
			})
		}
	}
	return ItemMoveResult{Item: move.Item, FromHeaderID: move.FromHeaderID, Changed: move.Changed}, nil
}

func (s *Service) publishShiftedItems(ctx context.Context, session Session, plateID, skipID string, items []model.PlateItem) {
	for _, i := range items {
		if i.ID == skipID {
			continue
		}
		s.publishPlate(ctx, session, plateID, model.EntityPlateItem, model.ChangeUpdate, i.ID, i)
	}
}

// checkAssignee accepts an empty id or a member of the caller's team.
func (s *Service) checkAssignee(ctx context.Context, session Session, userID string) error {
	if userID == "" {
		return nil
	}
	user, err := s.user(ctx, userID)
	if err != nil || user.TeamID != session.TeamID {
		return validationError("assigneeId must be a member of your team")
	}
	return nil
}

func parseDue(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw))
	if err != nil {
		return nil, validationError("dueAt must be an RFC 3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}

func uniqueIDs(ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Comments

func (s *Service) ListComments(ctx context.Context, session Session, itemID string) ([]model.Comment, error) {
	if _, _, err := s.itemInTeam(ctx, session, itemID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, itemID)
}

type CommentInput struct {
	Body string `json:"body"`
}

func cleanBody(raw string) (string, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return "", validationError("body is required")
	}
	if len(body) > 10000 {
		return "", validationError("body must be at most 10000 characters")
	}
	return body, nil
}

func (s *Service) CreateComment(ctx context.Context, session Session, itemID string, input CommentInput) (model.Comment, error) {
	item, plate, err := s.itemInTeam(ctx, session, itemID)
	if err != nil {
		return model.Comment{}, err
	}
	body, err := cleanBody(input.Body)
	if err != nil {
		return model.Comment{}, err
	}
	comment, err := s.store.CreateComment(ctx, model.Comment{
		ID:          util.NewID("cmt"),
		PlateItemID: itemID,
		AuthorID:    session.UserID,
		AuthorName:  session.UserName,
		Body:        body,
	})
	if err != nil {
		return model.Comment{}, err
	}

	s.indexComment(session.TeamID, plate.ID, comment)
	s.record(ctx, session, activityFor(plate.ID, itemID, activity.ActionCommented, item.Title))
	s.publishPlate(ctx, session, plate.ID, model.EntityComment, model.ChangeInsert, comment.ID, comment)
	message := fmt.Sprintf("%s commented on %q", session.UserName, item.Title)
	for _, userID := range uniqueIDs(item.CreatedBy, item.AssigneeID) {
		s.notify(ctx, session, userID, model.Notification{
			Kind:        model.NotificationComment,
			Message:     message,
			PlateID:     plate.ID,
			PlateItemID: itemID,
		})
	}
	return comment, nil
}

// commentForEdit loads a comment the caller may change: their own, or any
// comment when they can manage the team.
func (s *Service) commentForEdit(ctx context.Context, session Session, itemID, commentID string) (model.Comment, model.Plate, error) {
	_, plate, err := s.itemInTeam(ctx, session, itemID)
	if err != nil {
		return model.Comment{}, model.Plate{}, err
	}
	comment, err := s.store.GetComment(ctx, itemID, commentID)
	if err != nil {
		return model.Comment{}, model.Plate{}, err
	}
	if comment.AuthorID != session.UserID && !s.Can(session.Role, rbac.ActionManage) {
		return model.Comment{}, model.Plate{}, forbidden()
	}
	return comment, plate, nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, itemID, commentID string, input CommentInput) (model.Comment, error) {
	_, plate, err := s.commentForEdit(ctx, session, itemID, commentID)
	if err != nil {
		return model.Comment{}, err
	}
	body, err := cleanBody(input.Body)
	if err != nil {
		return model.Comment{}, err
	}
	if err := s.store.UpdateComment(ctx, itemID, commentID, body); err != nil {
		return model.Comment{}, err
	}
	updated, err := s.store.GetComment(ctx, itemID, commentID)
	if err != nil {
		return model.Comment{}, err
	}
	s.indexComment(session.TeamID, plate.ID, updated)
	s.publishPlate(ctx, session, plate.ID, model.EntityComment, model.ChangeUpdate, updated.ID, updated)
	return updated, nil
}

func (s *Service) DeleteComment(ctx context.Context, session Session, itemID, commentID string) error {
	_, plate, err := s.commentForEdit(ctx, session, itemID, commentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteComment(ctx, itemID, commentID); err != nil {
		return err
	}
	s.unindexComment(commentID)
	s.publishPlate(ctx, session, plate.ID, model.EntityComment, model.ChangeRemove, commentID, nil)
	return nil
}

// Card metrics

func (s *Service) ListMetrics(ctx context.Context, session Session, itemID string) ([]model.Metric, error) {
	if _, _, err := s.itemInTeam(ctx, session, itemID); err != nil {
		return nil, err
	}
	return s.store.ListMetrics(ctx, itemID)
}

type MetricInput struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

func (s *Service) CreateMetric(ctx context.Context, session Session, itemID string, input MetricInput) (model.Metric, error) {
	item, plate, err := s.itemInTeam(ctx, session, itemID)
	if err != nil {
		return model.Metric{}, err
	}
	name, err := cleanName(input.Name, "name", 80)
	if err != nil {
		return model.Metric{}, err
	}
	if input.Value == nil || math.IsNaN(*input.Value) || math.IsInf(*input.Value, 0) {
		return model.Metric{}, validationError("value must be a finite number")
	}
	metric, err := s.store.CreateMetric(ctx, model.Metric{
		ID:          util.NewID("mtr"),
		PlateItemID: itemID,
		Name:        name,
		Value:       *input.Value,
		Unit:        strings.TrimSpace(input.Unit),
		CreatedBy:   session.UserID,
	})
	if err != nil {
		return model.Metric{}, err
	}
	s.record(ctx, session, activityFor(plate.ID, itemID, activity.ActionUpdated, fmt.Sprintf("%s: %s %g", item.Title, metric.Name, metric.Value)))
	return metric, nil
}

func (s *Service) DeleteMetric(ctx context.Context, session Session, itemID, metricID string) error {
	if _, _, err := s.itemInTeam(ctx, session, itemID); err != nil {
		return err
	}
	return s.store.DeleteMetric(ctx, itemID, metricID)
}

// Attachments

func (s *Service) ListAttachments(ctx context.Context, session Session, itemID string) ([]model.Attachment, error) {
	if _, _, err := s.itemInTeam(ctx, session, itemID); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, itemID)
}

type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadAttachment stores the file in object storage, then records it.
func (s *Service) UploadAttachment(ctx context.Context, session Session, itemID string, input UploadInput) (model.Attachment, error) {
	if s.blobs == nil {
		return model.Attachment{}, unavailable("UPLOADS_UNAVAILABLE", "File uploads are not configured on this server")
	}
	item, plate, err := s.itemInTeam(ctx, session, itemID)
	if err != nil {
		return model.Attachment{}, err
	}
	name, err := cleanName(input.Filename, "filename", 255)
	if err != nil {
		return model.Attachment{}, err
	}
	if input.Size <= 0 || input.Size > maxAttachmentSize {
		return model.Attachment{}, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Attachments must be between 1 byte and 25 MB", nil)
	}
	contentType := input.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	attachmentID := util.NewID("att")
	key := storage.AttachmentKey(itemID, attachmentID, name)
	if err := s.blobs.Put(ctx, key, input.Body, input.Size, contentType); err != nil {
		return model.Attachment{}, err
	}
	attachment, err := s.store.CreateAttachment(ctx, model.Attachment{
		ID:          attachmentID,
		PlateItemID: itemID,
		Source:      model.AttachmentUpload,
		Name:        name,
		ContentType: contentType,
		Size:        input.Size,
		ObjectKey:   key,
		CreatedBy:   session.UserID,
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			log.WithError(delErr).WithField("object_key", key).Warn("remove orphaned upload")
		}
		return model.Attachment{}, err
	}
	s.record(ctx, session, activityFor(plate.ID, itemID, activity.ActionAttached, fmt.Sprintf("%s: %s", item.Title, name)))
	return attachment, nil
}

type LinkAttachmentInput struct {
	Source      string `json:"source"`
	Name        string `json:"name"`
	ExternalURL string `json:"externalUrl"`
}

// LinkAttachment records a Slack message or Gmail thread. The caller must
// have connected the matching app first.
func (s *Service) LinkAttachment(ctx context.Context, session Session, itemID string, input LinkAttachmentInput) (model.Attachment, error) {
	item, plate, err := s.itemInTeam(ctx, session, itemID)
	if err != nil {
		return model.Attachment{}, err
	}
	source := strings.ToLower(strings.TrimSpace(input.Source))
	if source != model.AttachmentSlack && source != model.AttachmentGmail {
		return model.Attachment{}, validationError("source must be slack or gmail")
	}
	name, err := cleanName(input.Name, "name", 255)
	if err != nil {
		return model.Attachment{}, err
	}
	link, err := url.Parse(strings.TrimSpace(input.ExternalURL))
	if err != nil || link.Scheme != "https" || link.Host == "" {
		return model.Attachment{}, validationError("externalUrl must be an https URL")
	}

	apps, err := s.store.ListConnectedApps(ctx, session.UserID)
	if err != nil {
		return model.Attachment{}, err
	}
	connected := false
	for _, a := range apps {
		if a.App == source {
			connected = true
			break
		}
	}
	if !connected {
		return model.Attachment{}, domainError(http.StatusPreconditionFailed, "APP_NOT_CONNECTED", "Connect "+source+" before attaching from it", nil)
	}

	attachment, err := s.store.CreateAttachment(ctx, model.Attachment{
		ID:          util.NewID("att"),
		PlateItemID: itemID,
		Source:      source,
		Name:        name,
		ExternalURL: link.String(),
		CreatedBy:   session.UserID,
	})
	if err != nil {
		return model.Attachment{}, err
	}
	s.record(ctx, session, activityFor(plate.ID, itemID, activity.ActionAttached, fmt.Sprintf("%s: %s", item.Title, name)))
	return attachment, nil
}

// AttachmentURL returns a short-lived download link for uploads and the
// stored link for external attachments.
func (s *Service) AttachmentURL(ctx context.Context, session Session, itemID, attachmentID string) (string, error) {
	if _, _, err := s.itemInTeam(ctx, session, itemID); err != nil {
		return "", err
	}
	attachment, err := s.store.GetAttachment(ctx, itemID, attachmentID)
	if err != nil {
		return "", err
	}
	if attachment.Source != model.AttachmentUpload {
		return attachment.ExternalURL, nil
	}
	if s.blobs == nil {
		return "", unavailable("UPLOADS_UNAVAILABLE", "File uploads are not configured on this server")
	}
	return s.blobs.PresignedURL(ctx, attachment.ObjectKey, attachment.Name, attachmentURLValid)
}

func (s *Service) DeleteAttachment(ctx context.Context, session Session, itemID, attachmentID string) error {
	if _, _, err := s.itemInTeam(ctx, session, itemID); err != nil {
		return err
	}
	attachment, err := s.store.GetAttachment(ctx, itemID, attachmentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAttachment(ctx, itemID, attachmentID); err != nil {
		return err
	}
	s.deleteBlob(ctx, attachment)
	return nil
}

func (s *Service) deleteBlob(ctx context.Context, a model.Attachment) {
	if a.Source != model.AttachmentUpload || a.ObjectKey == "" || s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(ctx, a.ObjectKey); err != nil {
		log.WithError(err).WithField("object_key", a.ObjectKey).Warn("delete attachment object")
	}
}
