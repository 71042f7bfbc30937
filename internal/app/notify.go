package app

import (
	"context"
	"fmt"

	"plate/api/internal/events"
	"plate/api/internal/model"
	"plate/api/internal/search"
	"plate/api/internal/util"
)

// plateInTeam loads a plate and hides it unless it belongs to the caller's
// team.
func (s *Service) plateInTeam(ctx context.Context, session Session, plateID string) (model.Plate, error) {
	plate, err := s.store.GetPlate(ctx, plateID)
	if err != nil {
		return model.Plate{}, err
	}
	if plate.TeamID != session.TeamID {
		return model.Plate{}, notFound()
	}
	return plate, nil
}

func (s *Service) itemInTeam(ctx context.Context, session Session, itemID string) (model.PlateItem, model.Plate, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return model.PlateItem{}, model.Plate{}, err
	}
	plate, err := s.plateInTeam(ctx, session, item.PlateID)
	if err != nil {
		return model.PlateItem{}, model.Plate{}, err
	}
	return item, plate, nil
}

func (s *Service) platterInTeam(ctx context.Context, session Session, platterID string) (model.Platter, error) {
	platter, err := s.store.GetPlatter(ctx, platterID)
	if err != nil {
		return model.Platter{}, err
	}
	if platter.TeamID != session.TeamID {
		return model.Platter{}, notFound()
	}
	return platter, nil
}

// record appends to the activity feed. A failed write is logged and never
// fails the request that caused it.
func (s *Service) record(ctx context.Context, session Session, entry model.Activity) {
	entry.ID = util.NewID("act")
	entry.UserID = session.UserID
	entry.UserName = session.UserName
	entry.TeamID = session.TeamID
	entry.CreatedAt = s.now().UTC()
	if err := s.activity.Record(ctx, entry); err != nil {
		log.WithError(err).WithField("action", entry.Action).Warn("record activity")
	}
}

// publish pushes one change event to channel.
func (s *Service) publish(ctx context.Context, session Session, channel, entity, change, id, plateID string, v any) {
	evt, err := model.NewEvent(entity, change, id, v)
	if err != nil {
		log.WithError(err).WithField("entity", entity).Warn("encode event")
		return
	}
	evt.PlateID = plateID
	evt.ActorID = session.UserID
	if err := s.bus.Publish(ctx, channel, evt); err != nil {
		log.WithError(err).WithField("channel", channel).Warn("publish event")
		return
	}
	s.metrics.ObserveEvent(entity, change)
}

func (s *Service) publishPlate(ctx context.Context, session Session, plateID, entity, change, id string, v any) {
	s.publish(ctx, session, events.PlateChannel(plateID), entity, change, id, plateID, v)
}

func (s *Service) publishTeam(ctx context.Context, session Session, entity, change, id, plateID string, v any) {
	s.publish(ctx, session, events.TeamChannel(session.TeamID), entity, change, id, plateID, v)
}

// notify stores a notification for userID and pushes it on the user's
// channel. Actors are never notified about their own changes.
func (s *Service) notify(ctx context.Context, session Session, userID string, n model.Notification) {
	if userID == "" || userID == session.UserID {
		return
	}
	n.ID = util.NewID("ntf")
	n.UserID = userID
	n.ActorID = session.UserID
	stored, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("create notification")
		return
	}
	s.metrics.ObserveNotification(stored.Kind)
	s.publish(ctx, session, events.UserChannel(userID), model.EntityNotification, model.ChangeInsert, stored.ID, stored.PlateID, stored)

	if !s.mailEnabled() {
		return
	}
	recipient, err := s.user(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("load notification recipient")
		return
	}
	link := s.cfg.PublicURL
	if stored.PlateID != "" {
		link = fmt.Sprintf("%s/plates/%s", s.cfg.PublicURL, stored.PlateID)
	}
	go func() {
		if err := s.mailer.SendNotificationEmail(recipient.Email, recipient.DisplayName, notificationTitle(stored.Kind), stored.Message, link); err != nil {
			log.WithError(err).WithField("user_id", recipient.ID).Warn("send notification email")
		}
	}()
}

func notificationTitle(kind string) string {
	switch kind {
	case model.NotificationComment:
		return "New comment"
	case model.NotificationAssignment:
		return "Card assigned to you"
	case model.NotificationMove:
		return "Card moved"
	case model.NotificationInvite:
		return "Team invitation"
	default:
		return "Plate notification"
	}
}

// Search index hooks; every call is a no-op without a search backend.

func (s *Service) indexPlate(p model.Plate) {
	if s.search != nil {
		s.search.IndexPlate(search.PlateRecordOf(p))
	}
}

func (s *Service) indexItem(teamID string, i model.PlateItem) {
	if s.search != nil {
		s.search.IndexPlateItem(search.PlateItemRecordOf(teamID, i))
	}
}

func (s *Service) indexComment(teamID, plateID string, c model.Comment) {
	if s.search != nil {
		s.search.IndexComment(search.CommentRecordOf(teamID, plateID, c))
	}
}

func (s *Service) unindexPlate(id string) {
	if s.search != nil {
		s.search.DeletePlate(id)
	}
}

func (s *Service) unindexItem(id string) {
	if s.search != nil {
		s.search.DeletePlateItem(id)
	}
}

func (s *Service) unindexComment(id string) {
	if s.search != nil {
		s.search.DeleteComment(id)
	}
}

func activityFor(plateID, itemID, action, detail string) model.Activity {
	return model.Activity{PlateID: plateID, PlateItemID: itemID, Action: action, Detail: detail}
}
