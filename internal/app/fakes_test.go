package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"plate/api/internal/auth"
	"plate/api/internal/config"
	"plate/api/internal/model"
	"plate/api/internal/store"
)

type fakeStore struct {
	getUserByEmailFn      func(context.Context, string) (store.User, error)
	getUserByIDFn         func(context.Context, string) (store.User, error)
	createUserFn          func(context.Context, store.User) error
	listTeamMembersFn     func(context.Context, string) ([]model.TeamMember, error)
	updateMemberRoleFn    func(context.Context, string, string, string) error
	removeTeamMemberFn    func(context.Context, string, string) error
	getPlatterFn          func(context.Context, string) (model.Platter, error)
	listPlattersFn        func(context.Context, string, bool) ([]model.Platter, error)
	listPlatesFn          func(context.Context, string, string, bool) ([]model.Plate, error)
	getPlateFn            func(context.Context, string) (model.Plate, error)
	loadPlateFn           func(context.Context, string) (*model.Plate, error)
	createPlateFn         func(context.Context, model.Plate, []model.Header) (model.Plate, error)
	movePlateFn           func(context.Context, string, string, int) (store.PlateMove, error)
	getHeaderFn           func(context.Context, string) (model.Header, error)
	listItemsFn           func(context.Context, string, bool) ([]model.PlateItem, error)
	getItemFn             func(context.Context, string) (model.PlateItem, error)
	createItemFn          func(context.Context, model.PlateItem, int) (model.PlateItem, []model.PlateItem, error)
	moveItemFn            func(context.Context, string, string, int) (store.ItemMove, error)
	createCommentFn       func(context.Context, model.Comment) (model.Comment, error)
	listPlateMetricsFn    func(context.Context, string) ([]model.Metric, error)
	createNotificationFn  func(context.Context, model.Notification) (model.Notification, error)
	upsertConnectedAppFn  func(context.Context, model.ConnectedApp) (model.ConnectedApp, error)
	pingFn                func(context.Context) error
	isAccessTokenRevokedF func(context.Context, string) (bool, error)
	revokeRefreshFn       func(context.Context, string) error

	mu       sync.Mutex
	refresh  map[string]string
	revoked  map[string]time.Time
	verified map[string]bool
}

// Users

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) UpdateUserVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verified == nil {
		f.verified = map[string]bool{}
	}
	f.verified[token] = true
	return nil
}
func (f *fakeStore) MarkEmailVerified(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verified == nil {
		f.verified = map[string]bool{}
	}
	f.verified[userID] = true
	return nil
}
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error { return nil }
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}
func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error     { return nil }
func (f *fakeStore) UpdateUserProfile(context.Context, string, string) error { return nil }

// Team

func (f *fakeStore) ListTeamMembers(ctx context.Context, teamID string) ([]model.TeamMember, error) {
	if f.listTeamMembersFn != nil {
		return f.listTeamMembersFn(ctx, teamID)
	}
	return nil, nil
}
func (f *fakeStore) AddTeamMember(context.Context, string, string, string) error { return nil }
func (f *fakeStore) UpdateMemberRole(ctx context.Context, teamID, userID, role string) error {
	if f.updateMemberRoleFn != nil {
		return f.updateMemberRoleFn(ctx, teamID, userID, role)
	}
	return nil
}
func (f *fakeStore) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	if f.removeTeamMemberFn != nil {
		return f.removeTeamMemberFn(ctx, teamID, userID)
	}
	return nil
}

// Platters and plates

func (f *fakeStore) ListPlatters(ctx context.Context, teamID string, includeArchived bool) ([]model.Platter, error) {
	if f.listPlattersFn != nil {
		return f.listPlattersFn(ctx, teamID, includeArchived)
	}
	return []model.Platter{}, nil
}
func (f *fakeStore) GetPlatter(ctx context.Context, id string) (model.Platter, error) {
	if f.getPlatterFn != nil {
		return f.getPlatterFn(ctx, id)
	}
	return model.Platter{}, sql.ErrNoRows
}
func (f *fakeStore) CreatePlatter(context.Context, model.Platter) error { return nil }
func (f *fakeStore) UpdatePlatter(context.Context, model.Platter) error { return nil }
func (f *fakeStore) DeletePlatter(context.Context, string) error        { return nil }
func (f *fakeStore) ListPlates(ctx context.Context, teamID, platterID string, archived bool) ([]model.Plate, error) {
	if f.listPlatesFn != nil {
		return f.listPlatesFn(ctx, teamID, platterID, archived)
	}
	return []model.Plate{}, nil
}
func (f *fakeStore) GetPlate(ctx context.Context, id string) (model.Plate, error) {
	if f.getPlateFn != nil {
		return f.getPlateFn(ctx, id)
	}
	return model.Plate{}, sql.ErrNoRows
}
func (f *fakeStore) LoadPlate(ctx context.Context, id string) (*model.Plate, error) {
	if f.loadPlateFn != nil {
		return f.loadPlateFn(ctx, id)
	}
	plate, err := f.GetPlate(ctx, id)
	if err != nil {
		return nil, err
	}
	return &plate, nil
}
func (f *fakeStore) CreatePlate(ctx context.Context, plate model.Plate, headers []model.Header) (model.Plate, error) {
	if f.createPlateFn != nil {
		return f.createPlateFn(ctx, plate, headers)
	}
	return plate, nil
}
func (f *fakeStore) UpdatePlate(context.Context, model.Plate) error { return nil }
func (f *fakeStore) SetPlateArchived(context.Context, string, bool) ([]model.Plate, error) {
	return nil, nil
}
func (f *fakeStore) DeletePlate(context.Context, string) ([]model.Plate, error) { return nil, nil }
func (f *fakeStore) MovePlate(ctx context.Context, plateID, platterID string, index int) (store.PlateMove, error) {
	if f.movePlateFn != nil {
		return f.movePlateFn(ctx, plateID, platterID, index)
	}
	return store.PlateMove{}, nil
}

// Headers

func (f *fakeStore) GetHeader(ctx context.Context, id string) (model.Header, error) {
	if f.getHeaderFn != nil {
		return f.getHeaderFn(ctx, id)
	}
	return model.Header{}, sql.ErrNoRows
}
func (f *fakeStore) CreateHeader(_ context.Context, h model.Header) (model.Header, error) {
	return h, nil
}
func (f *fakeStore) UpdateHeader(context.Context, model.Header) error { return nil }
func (f *fakeStore) DeleteHeader(context.Context, string, string) ([]model.Header, error) {
	return nil, nil
}
func (f *fakeStore) MoveHeader(context.Context, string, string, int) ([]model.Header, error) {
	return nil, nil
}

// Items

func (f *fakeStore) ListItems(ctx context.Context, plateID string, includeArchived bool) ([]model.PlateItem, error) {
	if f.listItemsFn != nil {
		return f.listItemsFn(ctx, plateID, includeArchived)
	}
	return []model.PlateItem{}, nil
}
func (f *fakeStore) GetItem(ctx context.Context, id string) (model.PlateItem, error) {
	if f.getItemFn != nil {
		return f.getItemFn(ctx, id)
	}
	return model.PlateItem{}, sql.ErrNoRows
}
func (f *fakeStore) CreateItem(ctx context.Context, item model.PlateItem, index int) (model.PlateItem, []model.PlateItem, error) {
	if f.createItemFn != nil {
		return f.createItemFn(ctx, item, index)
	}
	return item, nil, nil
}
func (f *fakeStore) UpdateItem(context.Context, model.PlateItem) error { return nil }
func (f *fakeStore) SetItemArchived(context.Context, string, bool) (model.PlateItem, []model.PlateItem, error) {
	return model.PlateItem{}, nil, nil
}
func (f *fakeStore) DeleteItem(context.Context, string) (model.PlateItem, []model.PlateItem, error) {
	return model.PlateItem{}, nil, nil
}
func (f *fakeStore) MoveItem(ctx context.Context, itemID, headerID string, index int) (store.ItemMove, error) {
	if f.moveItemFn != nil {
		return f.moveItemFn(ctx, itemID, headerID, index)
	}
	return store.ItemMove{}, nil
}

// Comments, metrics, attachments

func (f *fakeStore) ListComments(context.Context, string) ([]model.Comment, error) {
	return []model.Comment{}, nil
}
func (f *fakeStore) GetComment(context.Context, string, string) (model.Comment, error) {
	return model.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) CreateComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	if f.createCommentFn != nil {
		return f.createCommentFn(ctx, c)
	}
	return c, nil
}
func (f *fakeStore) UpdateComment(context.Context, string, string, string) error { return nil }
func (f *fakeStore) DeleteComment(context.Context, string, string) error         { return nil }
func (f *fakeStore) ListMetrics(context.Context, string) ([]model.Metric, error) {
	return []model.Metric{}, nil
}
func (f *fakeStore) ListPlateMetrics(ctx context.Context, plateID string) ([]model.Metric, error) {
	if f.listPlateMetricsFn != nil {
		return f.listPlateMetricsFn(ctx, plateID)
	}
	return []model.Metric{}, nil
}
func (f *fakeStore) CreateMetric(_ context.Context, m model.Metric) (model.Metric, error) {
	return m, nil
}
func (f *fakeStore) DeleteMetric(context.Context, string, string) error { return nil }
func (f *fakeStore) ListAttachments(context.Context, string) ([]model.Attachment, error) {
	return []model.Attachment{}, nil
}
func (f *fakeStore) GetAttachment(context.Context, string, string) (model.Attachment, error) {
	return model.Attachment{}, sql.ErrNoRows
}
func (f *fakeStore) CreateAttachment(_ context.Context, a model.Attachment) (model.Attachment, error) {
	return a, nil
}
func (f *fakeStore) DeleteAttachment(context.Context, string, string) error { return nil }

// Notifications and connected apps

func (f *fakeStore) ListNotifications(context.Context, string, store.NotificationFilter) ([]model.Notification, error) {
	return []model.Notification{}, nil
}
func (f *fakeStore) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	if f.createNotificationFn != nil {
		return f.createNotificationFn(ctx, n)
	}
	return n, nil
}
func (f *fakeStore) SetNotificationRead(context.Context, string, string, bool) error { return nil }
func (f *fakeStore) MarkAllNotificationsRead(context.Context, string) (int64, error) {
	return 0, nil
}
func (f *fakeStore) DeleteNotification(context.Context, string, string) error { return nil }
func (f *fakeStore) ListConnectedApps(context.Context, string) ([]model.ConnectedApp, error) {
	return []model.ConnectedApp{}, nil
}
func (f *fakeStore) UpsertConnectedApp(ctx context.Context, a model.ConnectedApp) (model.ConnectedApp, error) {
	if f.upsertConnectedAppFn != nil {
		return f.upsertConnectedAppFn(ctx, a)
	}
	return a, nil
}
func (f *fakeStore) DeleteConnectedApp(context.Context, string, string) error { return nil }

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// Sessions

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refresh == nil {
		f.refresh = map[string]string{}
	}
	f.refresh[tokenHash] = userID
	return nil
}
func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshFn != nil {
		return f.revokeRefreshFn(ctx, tokenHash)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}
func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked == nil {
		f.revoked = map[string]time.Time{}
	}
	f.revoked[jti] = exp
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedF != nil {
		return f.isAccessTokenRevokedF(ctx, jti)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

func newTestService(fs *fakeStore) *Service {
	return New(config.Config{
		Environment: "test",
		JWTSecret:   "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
		PublicURL:   "http://localhost:4200",
	}, Deps{Store: fs})
}

// usersByID serves GetUserByID from a fixed set of accounts.
func usersByID(users ...store.User) func(context.Context, string) (store.User, error) {
	byID := make(map[string]store.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return func(_ context.Context, id string) (store.User, error) {
		u, ok := byID[id]
		if !ok {
			return store.User{}, sql.ErrNoRows
		}
		return u, nil
	}
}

func tokenFor(t *testing.T, svc *Service, user store.User) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(svc.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		Role:   user.Role,
		TeamID: user.TeamID,
		JTI:    "jti-" + user.ID,
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
}

var (
	ownerUser  = store.User{ID: "usr-owner", DisplayName: "Olive", Email: "olive@example.com", TeamID: "team-1", Role: "owner", IsEmailVerified: true}
	memberUser = store.User{ID: "usr-member", DisplayName: "Milo", Email: "milo@example.com", TeamID: "team-1", Role: "member", IsEmailVerified: true}
	viewerUser = store.User{ID: "usr-viewer", DisplayName: "Vera", Email: "vera@example.com", TeamID: "team-1", Role: "viewer", IsEmailVerified: true}
	outsider   = store.User{ID: "usr-outsider", DisplayName: "Otto", Email: "otto@example.com", TeamID: "team-2", Role: "owner", IsEmailVerified: true}
)
