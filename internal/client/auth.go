package client

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"plate/api/internal/model"
)

// Session is the token pair returned by sign-in and refresh.
type Session struct {
	AccessToken  string            `json:"accessToken" yaml:"access_token"`
	RefreshToken string            `json:"refreshToken" yaml:"refresh_token"`
	ExpiresAt    time.Time         `json:"-" yaml:"expires_at"`
	User         model.UserProfile `json:"user" yaml:"-"`
}

func (s Session) Valid() bool { return s.AccessToken != "" }

type sessionPayload struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	ExpiresAt    int64             `json:"expiresAt"`
	User         model.UserProfile `json:"user"`
}

func (c *Client) adopt(payload sessionPayload) Session {
	session := Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Unix(payload.ExpiresAt, 0),
		User:         payload.User,
	}
	c.SetSession(session)
	if c.onSession != nil {
		c.onSession(session)
	}
	return session
}

type SignUpResult struct {
	User                 model.UserProfile `json:"user"`
	Message              string            `json:"message"`
	DevVerificationToken string            `json:"devVerificationToken"`
}

func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (SignUpResult, error) {
	var out SignUpResult
	err := c.send(ctx, http.MethodPost, "/api/users/signup", map[string]string{
		"email":       email,
		"password":    password,
		"displayName": displayName,
	}, &out)
	return out, err
}

func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.send(ctx, http.MethodPost, "/api/users/verify-email", map[string]string{"token": token}, nil)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var out sessionPayload
	if err := c.send(ctx, http.MethodPost, "/api/users/signin", map[string]string{
		"email":    email,
		"password": password,
	}, &out); err != nil {
		return Session{}, err
	}
	return c.adopt(out), nil
}

// Refresh rotates the refresh token and installs the new pair.
func (c *Client) Refresh(ctx context.Context) (Session, error) {
	var out sessionPayload
	if err := c.send(ctx, http.MethodPost, "/api/users/refresh", map[string]string{
		"refreshToken": c.Session().RefreshToken,
	}, &out); err != nil {
		return Session{}, err
	}
	return c.adopt(out), nil
}

// Logout revokes the current tokens and clears them locally even when the
// server call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.send(ctx, http.MethodPost, "/api/users/logout", map[string]string{
		"refreshToken": c.Session().RefreshToken,
	}, nil)
	c.SetSession(Session{})
	return err
}

// RequestPasswordReset returns the reset token only when the server runs
// without mail in a development environment.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	var out struct {
		DevResetToken string `json:"devResetToken"`
	}
	err := c.send(ctx, http.MethodPost, "/api/users/reset-password/request", map[string]string{"email": email}, &out)
	return out.DevResetToken, err
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	return c.send(ctx, http.MethodPost, "/api/users/reset-password", map[string]string{
		"token":       token,
		"newPassword": newPassword,
	}, nil)
}

type userEnvelope struct {
	User model.UserProfile `json:"user"`
}

func (c *Client) Me(ctx context.Context) (model.UserProfile, error) {
	var out userEnvelope
	err := c.do(ctx, http.MethodGet, "/api/users/me", nil, &out)
	return out.User, err
}

func (c *Client) UpdateProfile(ctx context.Context, displayName string) (model.UserProfile, error) {
	var out userEnvelope
	err := c.do(ctx, http.MethodPut, "/api/users/me", map[string]string{"displayName": displayName}, &out)
	return out.User, err
}

func (c *Client) User(ctx context.Context, userID string) (model.UserProfile, error) {
	var out userEnvelope
	err := c.do(ctx, http.MethodGet, "/api/users/"+userID, nil, &out)
	return out.User, err
}

func (c *Client) ConnectedApps(ctx context.Context) ([]model.ConnectedApp, error) {
	var out struct {
		ConnectedApps []model.ConnectedApp `json:"connectedApps"`
	}
	err := c.do(ctx, http.MethodGet, "/api/users/me/connectedapps", nil, &out)
	return out.ConnectedApps, err
}

func (c *Client) ConnectApp(ctx context.Context, app, externalAccount, accessToken string) (model.ConnectedApp, error) {
	var out struct {
		ConnectedApp model.ConnectedApp `json:"connectedApp"`
	}
	err := c.do(ctx, http.MethodPost, "/api/users/me/connectedapps", map[string]string{
		"app":             app,
		"externalAccount": externalAccount,
		"accessToken":     accessToken,
	}, &out)
	return out.ConnectedApp, err
}

func (c *Client) DisconnectApp(ctx context.Context, appID string) error {
	return c.do(ctx, http.MethodDelete, "/api/users/me/connectedapps/"+appID, nil, nil)
}

func (c *Client) Search(ctx context.Context, text, resultType, plateID string, limit int) (model.SearchResponse, error) {
	params := map[string]string{"q": text, "type": resultType, "plateId": plateID}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	var out model.SearchResponse
	err := c.do(ctx, http.MethodGet, "/api/search"+query(params), nil, &out)
	return out, err
}
