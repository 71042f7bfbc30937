package app

import (
	"context"
	"net/http"
	"strings"

	"plate/api/internal/activity"
	"plate/api/internal/authpw"
	"plate/api/internal/events"
	"plate/api/internal/model"
	"plate/api/internal/rbac"
	"plate/api/internal/search"
	"plate/api/internal/store"
	"plate/api/internal/util"
)

// Team

func (s *Service) ListTeam(ctx context.Context, session Session) ([]model.TeamMember, error) {
	return s.store.ListTeamMembers(ctx, session.TeamID)
}

type InviteInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type InviteResult struct {
	Member        model.UserProfile
	Created       bool
	DevSetupToken string
}

func (s *Service) Invite(ctx context.Context, session Session, input InviteInput) (InviteResult, error) {
	role := rbac.RoleMember
	if input.Role != "" {
		role = rbac.Role(strings.ToLower(strings.TrimSpace(input.Role)))
		if rbac.Normalize(string(role)) != role {
			return InviteResult{}, validationError("role must be viewer, member, admin or owner")
		}
	}
	if !rbac.Assignable(rbac.Normalize(session.Role), role) {
		return InviteResult{}, forbidden()
	}

	resp, err := s.authpw.Invite(ctx, s.store, authpw.InviteRequest{
		TeamID:      session.TeamID,
		Email:       input.Email,
		DisplayName: input.DisplayName,
		Role:        string(role),
	})
	if err != nil {
		return InviteResult{}, err
	}
	s.forgetUser(resp.User.ID)

	result := InviteResult{Member: resp.User.Profile(), Created: resp.Created}
	link := s.cfg.PublicURL + "/signin"
	if resp.Created {
		link = s.cfg.PublicURL + "/reset-password?token=" + resp.SetupToken
	}
	if s.mailEnabled() {
		if err := s.mailer.SendInviteEmail(resp.User.Email, session.UserName, string(role), link); err != nil {
			log.WithError(err).WithField("user_id", resp.User.ID).Warn("send invite email")
		}
	} else if s.devTokens() && resp.Created {
		result.DevSetupToken = resp.SetupToken
	}
	if !resp.Created {
		s.notify(ctx, session, resp.User.ID, model.Notification{
			Kind:    model.NotificationInvite,
			Message: session.UserName + " added you to their team as " + string(role),
		})
	}
	s.record(ctx, session, activityFor("", "", activity.ActionCreated, "invited "+resp.User.Email+" as "+string(role)))
	return result, nil
}

type MemberInput struct {
	Role string `json:"role"`
}

// memberForChange loads a teammate the caller is allowed to modify. Admins
// cannot touch owners.
func (s *Service) memberForChange(ctx context.Context, session Session, userID string) (model.TeamMember, []model.TeamMember, error) {
	members, err := s.store.ListTeamMembers(ctx, session.TeamID)
	if err != nil {
		return model.TeamMember{}, nil, err
	}
	for _, m := range members {
		if m.UserID != userID {
			continue
		}
		if rbac.Role(m.Role) == rbac.RoleOwner && rbac.Normalize(session.Role) != rbac.RoleOwner {
			return model.TeamMember{}, nil, forbidden()
		}
		return m, members, nil
	}
	return model.TeamMember{}, nil, notFound()
}

func lastOwner(members []model.TeamMember, userID string) bool {
	for _, m := range members {
		if m.UserID != userID && rbac.Role(m.Role) == rbac.RoleOwner {
			return false
		}
	}
	return true
}

func (s *Service) UpdateMember(ctx context.Context, session Session, userID string, input MemberInput) (model.TeamMember, error) {
	role := rbac.Role(strings.ToLower(strings.TrimSpace(input.Role)))
	if rbac.Normalize(string(role)) != role {
		return model.TeamMember{}, validationError("role must be viewer, member, admin or owner")
	}
	if !rbac.Assignable(rbac.Normalize(session.Role), role) {
		return model.TeamMember{}, forbidden()
	}
	member, members, err := s.memberForChange(ctx, session, userID)
	if err != nil {
		return model.TeamMember{}, err
	}
	if rbac.Role(member.Role) == rbac.RoleOwner && role != rbac.RoleOwner && lastOwner(members, userID) {
		return model.TeamMember{}, domainError(http.StatusConflict, "LAST_OWNER", "A team needs at least one owner", nil)
	}
	if err := s.store.UpdateMemberRole(ctx, session.TeamID, userID, string(role)); err != nil {
		return model.TeamMember{}, err
	}
	s.forgetUser(userID)
	member.Role = string(role)
	s.record(ctx, session, activityFor("", "", activity.ActionUpdated, member.Email+" is now "+member.Role))
	return member, nil
}

func (s *Service) RemoveMember(ctx context.Context, session Session, userID string) error {
	member, members, err := s.memberForChange(ctx, session, userID)
	if err != nil {
		return err
	}
	if rbac.Role(member.Role) == rbac.RoleOwner && lastOwner(members, userID) {
		return domainError(http.StatusConflict, "LAST_OWNER", "A team needs at least one owner", nil)
	}
	if err := s.store.RemoveTeamMember(ctx, session.TeamID, userID); err != nil {
		return err
	}
	s.forgetUser(userID)
	s.record(ctx, session, activityFor("", "", activity.ActionDeleted, "removed "+member.Email))
	return nil
}

// Connected apps. Only the account holder may see or change theirs.

func (s *Service) selfOnly(session Session, userID string) error {
	if userID != session.UserID && userID != "me" {
		return forbidden()
	}
	return nil
}

func (s *Service) ListConnectedApps(ctx context.Context, session Session, userID string) ([]model.ConnectedApp, error) {
	if err := s.selfOnly(session, userID); err != nil {
		return nil, err
	}
	return s.store.ListConnectedApps(ctx, session.UserID)
}

type ConnectAppInput struct {
	App             string `json:"app"`
	ExternalAccount string `json:"externalAccount"`
	AccessToken     string `json:"accessToken"`
}

func (s *Service) ConnectApp(ctx context.Context, session Session, userID string, input ConnectAppInput) (model.ConnectedApp, error) {
	if err := s.selfOnly(session, userID); err != nil {
		return model.ConnectedApp{}, err
	}
	app := strings.ToLower(strings.TrimSpace(input.App))
	if app != model.AppSlack && app != model.AppGmail {
		return model.ConnectedApp{}, validationError("app must be slack or gmail")
	}
	account, err := cleanName(input.ExternalAccount, "externalAccount", 255)
	if err != nil {
		return model.ConnectedApp{}, err
	}
	if strings.TrimSpace(input.AccessToken) == "" {
		return model.ConnectedApp{}, validationError("accessToken is required")
	}
	return s.store.UpsertConnectedApp(ctx, model.ConnectedApp{
		ID:              util.NewID("app"),
		UserID:          session.UserID,
		App:             app,
		ExternalAccount: account,
		AccessToken:     strings.TrimSpace(input.AccessToken),
	})
}

func (s *Service) DisconnectApp(ctx context.Context, session Session, userID, appID string) error {
	if err := s.selfOnly(session, userID); err != nil {
		return err
	}
	return s.store.DeleteConnectedApp(ctx, session.UserID, appID)
}

// Notifications

func (s *Service) ListNotifications(ctx context.Context, session Session, unreadOnly bool, limit int) ([]model.Notification, error) {
	return s.store.ListNotifications(ctx, session.UserID, store.NotificationFilter{UnreadOnly: unreadOnly, Limit: limit})
}

type NotificationInput struct {
	Read *bool `json:"read"`
}

func (s *Service) MarkNotification(ctx context.Context, session Session, notificationID string, input NotificationInput) error {
	read := true
	if input.Read != nil {
		read = *input.Read
	}
	if err := s.store.SetNotificationRead(ctx, session.UserID, notificationID, read); err != nil {
		return err
	}
	s.publish(ctx, session, events.UserChannel(session.UserID), model.EntityNotification, model.ChangeUpdate, notificationID, "", map[string]any{"id": notificationID, "read": read})
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, session.UserID)
}

func (s *Service) DeleteNotification(ctx context.Context, session Session, notificationID string) error {
	if err := s.store.DeleteNotification(ctx, session.UserID, notificationID); err != nil {
		return err
	}
	s.publish(ctx, session, events.UserChannel(session.UserID), model.EntityNotification, model.ChangeRemove, notificationID, "", nil)
	return nil
}

// Search

type SearchInput struct {
	Text    string
	Type    string
	PlateID string
	Limit   int
	Offset  int
}

// Search runs a team-scoped full-text query. A blank query returns no hits.
func (s *Service) Search(ctx context.Context, session Session, input SearchInput) (search.Response, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	resultType := search.ResultType(input.Type)
	switch resultType {
	case "", search.ResultPlate, search.ResultPlateItem, search.ResultComment:
	default:
		return search.Response{}, validationError("type must be plate, plateItem or comment")
	}
	if input.PlateID != "" {
		if _, err := s.plateInTeam(ctx, session, input.PlateID); err != nil {
			return search.Response{}, err
		}
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(search.Query{
		Text:       text,
		TeamID:     session.TeamID,
		FilterType: resultType,
		PlateID:    input.PlateID,
		Limit:      limit,
		Offset:     offset,
	}), nil
}

func (s *Service) ItemActivity(ctx context.Context, session Session, itemID string, limit int) ([]model.Activity, error) {
	if _, _, err := s.itemInTeam(ctx, session, itemID); err != nil {
		return nil, err
	}
	return s.activity.List(ctx, activity.Filter{TeamID: session.TeamID, PlateItemID: itemID, Limit: limit})
}
