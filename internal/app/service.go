package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"plate/api/internal/activity"
	"plate/api/internal/auth"
	"plate/api/internal/authpw"
	"plate/api/internal/config"
	"plate/api/internal/events"
	"plate/api/internal/export"
	"plate/api/internal/logging"
	"plate/api/internal/metrics"
	"plate/api/internal/model"
	"plate/api/internal/rbac"
	"plate/api/internal/search"
	"plate/api/internal/snapshot"
	"plate/api/internal/storage"
	"plate/api/internal/store"
	"plate/api/internal/util"
)

var log = logging.Component("app")

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	TeamID       string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// DataStore is the Postgres surface the service works against.
type DataStore interface {
	authpw.UserStore

	UpdateUserProfile(ctx context.Context, userID, displayName string) error
	ListTeamMembers(ctx context.Context, teamID string) ([]model.TeamMember, error)
	AddTeamMember(ctx context.Context, teamID, userID, role string) error
	UpdateMemberRole(ctx context.Context, teamID, userID, role string) error
	RemoveTeamMember(ctx context.Context, teamID, userID string) error

	ListPlatters(ctx context.Context, teamID string, includeArchived bool) ([]model.Platter, error)
	GetPlatter(ctx context.Context, platterID string) (model.Platter, error)
	CreatePlatter(ctx context.Context, platter model.Platter) error
	UpdatePlatter(ctx context.Context, platter model.Platter) error
	DeletePlatter(ctx context.Context, platterID string) error

	ListPlates(ctx context.Context, teamID, platterID string, archived bool) ([]model.Plate, error)
	GetPlate(ctx context.Context, plateID string) (model.Plate, error)
	LoadPlate(ctx context.Context, plateID string) (*model.Plate, error)
	CreatePlate(ctx context.Context, plate model.Plate, headers []model.Header) (model.Plate, error)
	UpdatePlate(ctx context.Context, plate model.Plate) error
	SetPlateArchived(ctx context.Context, plateID string, archived bool) ([]model.Plate, error)
	DeletePlate(ctx context.Context, plateID string) ([]model.Plate, error)
	MovePlate(ctx context.Context, plateID, platterID string, index int) (store.PlateMove, error)

	GetHeader(ctx context.Context, headerID string) (model.Header, error)
	CreateHeader(ctx context.Context, header model.Header) (model.Header, error)
	UpdateHeader(ctx context.Context, header model.Header) error
	DeleteHeader(ctx context.Context, plateID, headerID string) ([]model.Header, error)
	MoveHeader(ctx context.Context, plateID, headerID string, index int) ([]model.Header, error)

	ListItems(ctx context.Context, plateID string, includeArchived bool) ([]model.PlateItem, error)
	GetItem(ctx context.Context, itemID string) (model.PlateItem, error)
	CreateItem(ctx context.Context, item model.PlateItem, index int) (model.PlateItem, []model.PlateItem, error)
	UpdateItem(ctx context.Context, item model.PlateItem) error
	SetItemArchived(ctx context.Context, itemID string, archived bool) (model.PlateItem, []model.PlateItem, error)
	DeleteItem(ctx context.Context, itemID string) (model.PlateItem, []model.PlateItem, error)
	MoveItem(ctx context.Context, itemID, headerID string, index int) (store.ItemMove, error)

	ListComments(ctx context.Context, itemID string) ([]model.Comment, error)
	GetComment(ctx context.Context, itemID, commentID string) (model.Comment, error)
	CreateComment(ctx context.Context, c model.Comment) (model.Comment, error)
	UpdateComment(ctx context.Context, itemID, commentID, body string) error
	DeleteComment(ctx context.Context, itemID, commentID string) error

	ListMetrics(ctx context.Context, itemID string) ([]model.Metric, error)
	ListPlateMetrics(ctx context.Context, plateID string) ([]model.Metric, error)
	CreateMetric(ctx context.Context, m model.Metric) (model.Metric, error)
	DeleteMetric(ctx context.Context, itemID, metricID string) error

	ListNotifications(ctx context.Context, userID string, filter store.NotificationFilter) ([]model.Notification, error)
	CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	SetNotificationRead(ctx context.Context, userID, notificationID string, read bool) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, userID, notificationID string) error

	ListConnectedApps(ctx context.Context, userID string) ([]model.ConnectedApp, error)
	UpsertConnectedApp(ctx context.Context, a model.ConnectedApp) (model.ConnectedApp, error)
	DeleteConnectedApp(ctx context.Context, userID, appID string) error

	ListAttachments(ctx context.Context, itemID string) ([]model.Attachment, error)
	GetAttachment(ctx context.Context, itemID, attachmentID string) (model.Attachment, error)
	CreateAttachment(ctx context.Context, a model.Attachment) (model.Attachment, error)
	DeleteAttachment(ctx context.Context, itemID, attachmentID string) error

	Ping(ctx context.Context) error
}

// SessionStore keeps refresh sessions and revoked access token ids. Both
// the Postgres store and the Redis session store satisfy it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type Searcher interface {
	Search(q search.Query) search.Response
	IndexPlate(p search.PlateRecord)
	IndexPlateItem(i search.PlateItemRecord)
	IndexComment(c search.CommentRecord)
	DeletePlate(id string)
	DeletePlateItem(id string)
	DeleteComment(id string)
}

type Exporter interface {
	Export(ctx context.Context, plateID string, format export.Format) (*export.Result, error)
}

type SnapshotStore interface {
	Put(ctx context.Context, plate model.Plate) (snapshot.Info, error)
	List(ctx context.Context, plateID string) ([]snapshot.Info, error)
}

type Mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendInviteEmail(to, inviterName, role, signInURL string) error
	SendNotificationEmail(to, userName, title, body, linkURL string) error
}

// Deps wires the service to its backends. Only Store is required; the rest
// degrade to in-process fallbacks or disable the routes that need them.
type Deps struct {
	Store     DataStore
	Sessions  SessionStore
	Search    Searcher
	Blobs     storage.Blobs
	Snapshots SnapshotStore
	Exporter  Exporter
	Mailer    Mailer
	Bus       events.Bus
	Activity  activity.Feed
	Metrics   *metrics.Metrics
}

type Service struct {
	cfg       config.Config
	store     DataStore
	sessions  SessionStore
	authpw    *authpw.Service
	search    Searcher
	blobs     storage.Blobs
	snapshots SnapshotStore
	exporter  Exporter
	mailer    Mailer
	bus       events.Bus
	activity  activity.Feed
	metrics   *metrics.Metrics
	users     *gocache.Cache
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		authpw:    authpw.NewService(deps.Store),
		search:    deps.Search,
		blobs:     deps.Blobs,
		snapshots: deps.Snapshots,
		exporter:  deps.Exporter,
		mailer:    deps.Mailer,
		bus:       deps.Bus,
		activity:  deps.Activity,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
	if s.sessions == nil {
		if fallback, ok := deps.Store.(SessionStore); ok {
			s.sessions = fallback
		}
	}
	if s.bus == nil {
		s.bus = events.NewLocalBus()
	}
	if s.activity == nil {
		s.activity = activity.NewMemoryFeed()
	}
	ttl := cfg.RoleCacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	s.users = gocache.New(ttl, 2*ttl)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Bus() events.Bus {
	return s.bus
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// mailEnabled reports whether outgoing email works. When it does not, the
// auth routes hand tokens back directly outside production.
func (s *Service) mailEnabled() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) devTokens() bool {
	return !s.mailEnabled() && !s.cfg.IsProduction()
}

// user reads an account through the cache. Role and team changes evict the
// entry so permission checks see them within one request.
func (s *Service) user(ctx context.Context, userID string) (store.User, error) {
	if cached, ok := s.users.Get(userID); ok {
		return cached.(store.User), nil
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	s.users.SetDefault(userID, user)
	return user, nil
}

func (s *Service) forgetUser(userID string) {
	s.users.Delete(userID)
}

// Sessions

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		Role:   user.Role,
		TeamID: user.TeamID,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		TeamID:       user.TeamID,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token. Role and team come from the
// (cached) account rather than the claims, so demotions apply before the
// token expires.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.user(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		TeamID:    user.TeamID,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	var errs []error
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			errs = append(errs, fmt.Errorf("revoke access token: %w", err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			errs = append(errs, fmt.Errorf("revoke refresh session: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Accounts

type SignUpInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type SignUpResult struct {
	User                 model.UserProfile
	DevVerificationToken string
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (SignUpResult, error) {
	resp, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       input.Email,
		Password:    input.Password,
		DisplayName: input.DisplayName,
	})
	if err != nil {
		return SignUpResult{}, err
	}

	result := SignUpResult{User: resp.User.Profile()}
	if s.mailEnabled() {
		link := s.cfg.PublicURL + "/verify-email?token=" + resp.VerificationToken
		if err := s.mailer.SendVerificationEmail(resp.User.Email, resp.User.DisplayName, link); err != nil {
			log.WithError(err).WithField("user_id", resp.User.ID).Warn("send verification email")
		}
	} else if s.devTokens() {
		result.DevVerificationToken = resp.VerificationToken
	}
	return result, nil
}

type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) SignIn(ctx context.Context, input SignInInput) (Session, store.User, error) {
	resp, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: input.Email, Password: input.Password})
	if err != nil {
		return Session{}, store.User{}, err
	}
	if resp.RequiresVerify {
		return Session{}, store.User{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}
	session, err := s.issueSession(ctx, resp.User)
	if err != nil {
		return Session{}, store.User{}, err
	}
	return session, resp.User, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.authpw.VerifyEmail(ctx, strings.TrimSpace(token))
}

// RequestPasswordReset never reveals whether the address exists. The
// returned token is only non-empty for dev responses.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	token, user, err := s.authpw.RequestPasswordReset(ctx, email)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if s.mailEnabled() {
		link := s.cfg.PublicURL + "/reset-password?token=" + token
		if err := s.mailer.SendPasswordResetEmail(user.Email, user.DisplayName, link); err != nil {
			log.WithError(err).WithField("user_id", user.ID).Warn("send reset email")
		}
		return "", nil
	}
	if s.devTokens() {
		return token, nil
	}
	return "", nil
}

type ResetPasswordInput struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (s *Service) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	userID, err := s.authpw.ResetPassword(ctx, authpw.ResetPasswordRequest{
		Token:       strings.TrimSpace(input.Token),
		NewPassword: input.NewPassword,
	})
	if err != nil {
		return err
	}
	s.forgetUser(userID)
	return nil
}

// Users

func (s *Service) Me(ctx context.Context, session Session) (model.UserProfile, error) {
	user, err := s.user(ctx, session.UserID)
	if err != nil {
		return model.UserProfile{}, err
	}
	return user.Profile(), nil
}

type UpdateProfileInput struct {
	DisplayName string `json:"displayName"`
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, input UpdateProfileInput) (model.UserProfile, error) {
	name := strings.TrimSpace(input.DisplayName)
	if name == "" {
		return model.UserProfile{}, validationError("displayName is required")
	}
	if len(name) > 120 {
		return model.UserProfile{}, validationError("displayName must be at most 120 characters")
	}
	if err := s.store.UpdateUserProfile(ctx, session.UserID, name); err != nil {
		return model.UserProfile{}, fmt.Errorf("update profile: %w", err)
	}
	s.forgetUser(session.UserID)
	return s.Me(ctx, session)
}

// GetUser returns a teammate's profile. Accounts outside the caller's team
// are reported as missing.
func (s *Service) GetUser(ctx context.Context, session Session, userID string) (model.UserProfile, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return model.UserProfile{}, err
	}
	if user.TeamID != session.TeamID {
		return model.UserProfile{}, notFound()
	}
	return user.Profile(), nil
}

func (s *Service) UserActivity(ctx context.Context, session Session, userID string, limit int) ([]model.Activity, error) {
	if _, err := s.GetUser(ctx, session, userID); err != nil {
		return nil, err
	}
	return s.activity.List(ctx, activity.Filter{TeamID: session.TeamID, UserID: userID, Limit: limit})
}
