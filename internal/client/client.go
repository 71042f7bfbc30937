// Package client is the Go SDK for the Plate API. Each resource service
// keeps an in-memory mirror of what it fetched, applies local edits to it
// immediately and sends them to the server in the background. A Stream
// keeps the mirrors current with the server's push events.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"plate/api/internal/model"
)

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Errors     ErrorHandler
	// OnSession is called whenever sign-in or refresh produced new tokens.
	OnSession func(Session)
}

type Client struct {
	baseURL   string
	http      *http.Client
	errors    ErrorHandler
	onSession func(Session)

	mu      sync.RWMutex
	session Session
	views   map[string]*PlateView

	Platters      *Platters
	Plates        *Plates
	Items         *PlateItems
	Notifications *Notifications
	Team          *Team
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	handler := opts.Errors
	if handler == nil {
		handler = LogErrors
	}
	c := &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		http:      httpClient,
		errors:    handler,
		onSession: opts.OnSession,
		views:     map[string]*PlateView{},
	}
	c.Platters = newPlatters(c)
	c.Plates = newPlates(c)
	c.Items = &PlateItems{c: c}
	c.Notifications = newNotifications(c)
	c.Team = newTeam(c)
	return c
}

// SetSession installs tokens obtained earlier, e.g. from a config file.
func (c *Client) SetSession(session Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
}

func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.AccessToken
}

// do sends one JSON request. A 401 on an authenticated call triggers a
// single refresh and retry when a refresh token is available.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	err := c.send(ctx, method, path, body, out)
	if !IsUnauthorized(err) || c.Session().RefreshToken == "" || strings.HasPrefix(path, "/api/users/refresh") {
		return err
	}
	if _, refreshErr := c.Refresh(ctx); refreshErr != nil {
		return err
	}
	return c.send(ctx, method, path, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// download fetches a non-JSON body such as an export.
func (c *Client) download(ctx context.Context, path string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func query(params map[string]string) string {
	values := url.Values{}
	for key, value := range params {
		if value != "" {
			values.Set(key, value)
		}
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

func (c *Client) track(view *PlateView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[view.ID()] = view
}

// Forget stops applying push events to the view of plateID.
func (c *Client) Forget(plateID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, plateID)
}

func (c *Client) view(plateID string) *PlateView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.views[plateID]
}

// Apply routes one push event to the mirrors and the tracked plate view it
// concerns.
func (c *Client) Apply(evt model.Event) error {
	var err error
	switch evt.Entity {
	case model.EntityPlatter:
		err = applyTo(c.Platters.mirror, evt)
	case model.EntityPlate:
		err = applyTo(c.Plates.mirror, evt)
	case model.EntityNotification:
		err = c.Notifications.apply(evt)
	}
	if err != nil {
		return err
	}
	if view := c.view(evt.PlateID); view != nil {
		return view.ApplyEvent(evt)
	}
	return nil
}
