// Package rest is the HTTP client for the back-office API. Only the endpoints
// the real-time core consumes are covered: history fetches, the conversation
// directory, group creation, and the notification feed actions.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/agencydesk/deskchat/pkg/wire"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string

	// HTTPClient is optional; the default applies no timeout, matching the
	// app's "a hung call never resolves" behavior.
	HTTPClient *http.Client
}

// Client talks to the REST collaborator with bearer auth.
type Client struct {
	http  *http.Client
	base  string
	token string
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rest: empty base url")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{http: hc, base: base, token: cfg.Token}, nil
}

// PrivateHistory returns the full 1:1 history with the given counterpart.
func (c *Client) PrivateHistory(ctx context.Context, withUserID string) ([]wire.Message, error) {
	var out []wire.Message
	err := c.do(ctx, http.MethodGet, "/messages/private/"+url.PathEscape(withUserID), nil, &out)
	return out, err
}

// GroupHistory returns the full history of a group conversation.
func (c *Client) GroupHistory(ctx context.Context, groupID string) ([]wire.Message, error) {
	var out []wire.Message
	err := c.do(ctx, http.MethodGet, "/messages/group/"+url.PathEscape(groupID), nil, &out)
	return out, err
}

// TeamMembers lists the selectable 1:1 peers, tagged with their role.
func (c *Client) TeamMembers(ctx context.Context) ([]wire.TeamMember, error) {
	var out []wire.TeamMember
	err := c.do(ctx, http.MethodGet, "/team/members", nil, &out)
	return out, err
}

// Groups lists the groups the user belongs to.
func (c *Client) Groups(ctx context.Context) ([]wire.Group, error) {
	var out []wire.Group
	err := c.do(ctx, http.MethodGet, "/groups", nil, &out)
	return out, err
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

// CreateGroup creates a group and returns the server's record of it. The
// server additionally broadcasts GROUP_CREATED to all participants.
func (c *Client) CreateGroup(ctx context.Context, name string, memberIDs []string) (*wire.Group, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("rest: empty group name")
	}
	var out wire.Group
	err := c.do(ctx, http.MethodPost, "/groups", createGroupRequest{Name: name, MemberIDs: memberIDs}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Notifications returns the stored feed, newest first.
func (c *Client) Notifications(ctx context.Context) ([]wire.Notification, error) {
	var out []wire.Notification
	err := c.do(ctx, http.MethodGet, "/notifications", nil, &out)
	return out, err
}

// MarkNotificationsRead flips every stored notification to read.
func (c *Client) MarkNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/notifications/read-all", nil, nil)
}

// DeleteNotification removes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("rest: empty notification id")
	}
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c == nil {
		return errors.New("rest: client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "rest: encode %s %s", method, path)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrapf(err, "rest: build %s %s", method, path)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "rest: %s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	log.Debug().
		Str("component", "rest").
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("rest: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "rest: decode %s %s response", method, path)
	}
	return nil
}
