package plex

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of a successful invite request.
type Outcome int

const (
	OutcomeSent Outcome = iota + 1
	OutcomeAlreadyShared
	OutcomeAlreadyInvited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeAlreadyShared:
		return "already_shared"
	case OutcomeAlreadyInvited:
		return "already_invited"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

var (
	ErrNotConfigured  = errors.New("plex token or server name not configured")
	ErrServerNotFound = errors.New("plex server not found in account resources")
)

// APIError is returned for any non-2xx response from plex.tv.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("plex api %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

type Config struct {
	BaseURL          string
	Token            string
	ServerName       string
	ClientIdentifier string
	HTTPClient       *http.Client
}

// Client manages friends and shares on a plex.tv account for one named server.
type Client struct {
	baseURL    string
	token      string
	serverName string
	clientID   string
	http       *http.Client
	cache      *cache.Cache
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://plex.tv"
	}
	clientID := cfg.ClientIdentifier
	if clientID == "" {
		clientID = "reelspace-backend"
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		serverName: cfg.ServerName,
		clientID:   clientID,
		http:       httpClient,
		cache:      cache.New(10*time.Minute, 20*time.Minute),
	}
}

type resource struct {
	Name             string `json:"name"`
	ClientIdentifier string `json:"clientIdentifier"`
	Provides         string `json:"provides"`
}

type friend struct {
	ID       string `xml:"id,attr"`
	Email    string `xml:"email,attr"`
	Username string `xml:"username,attr"`
	Title    string `xml:"title,attr"`
}

type pendingInvite struct {
	ID           string `xml:"id,attr"`
	Email        string `xml:"email,attr"`
	Username     string `xml:"username,attr"`
	FriendlyName string `xml:"friendlyName,attr"`
}

type section struct {
	ID    int    `xml:"id,attr"`
	Key   string `xml:"key,attr"`
	Title string `xml:"title,attr"`
}

type mediaContainer struct {
	XMLName xml.Name        `xml:"MediaContainer"`
	Users   []friend        `xml:"User"`
	Invites []pendingInvite `xml:"Invite"`
	Server  struct {
		Sections []section `xml:"Section"`
	} `xml:"Server"`
}

type shareSettings struct {
	AllowSync         string `json:"allowSync"`
	AllowCameraUpload string `json:"allowCameraUpload"`
	AllowChannels     string `json:"allowChannels"`
}

type shareRequest struct {
	MachineIdentifier string        `json:"machineIdentifier"`
	InvitedEmail      string        `json:"invitedEmail"`
	LibrarySectionIDs []int         `json:"librarySectionIds"`
	Settings          shareSettings `json:"settings"`
}

// Invite shares every library of the configured server with email. A user who
// is already a friend, or who already has a pending invite, is reported as such
// instead of being invited twice.
func (c *Client) Invite(ctx context.Context, email, displayName string) (Outcome, error) {
	if c.token == "" || c.serverName == "" {
		return 0, ErrNotConfigured
	}
	email = strings.ToLower(strings.TrimSpace(email))

	server, err := c.server(ctx)
	if err != nil {
		return 0, err
	}

	var (
		friends []friend
		pending []pendingInvite
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		friends, err = c.friends(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = c.pendingInvites(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for _, f := range friends {
		if matches(email, f.Email, f.Username) {
			return OutcomeAlreadyShared, nil
		}
	}
	for _, inv := range pending {
		if matches(email, inv.Email, inv.Username) {
			return OutcomeAlreadyInvited, nil
		}
	}

	sections, err := c.sections(ctx, server.ClientIdentifier)
	if err != nil {
		return 0, err
	}
	ids := make([]int, 0, len(sections))
	for _, s := range sections {
		ids = append(ids, s.ID)
	}

	body, err := json.Marshal(shareRequest{
		MachineIdentifier: server.ClientIdentifier,
		InvitedEmail:      email,
		LibrarySectionIDs: ids,
		Settings:          shareSettings{AllowSync: "0", AllowCameraUpload: "0", AllowChannels: "0"},
	})
	if err != nil {
		return 0, fmt.Errorf("encode share request: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/v2/shared_servers", bytes.NewReader(body), "application/json"); err != nil {
		return 0, err
	}

	slog.Info("plex invite sent", "email", email, "name", displayName, "server", c.serverName, "libraries", len(ids))
	return OutcomeSent, nil
}

// Revoke removes email as a friend. It reports false when no such friend exists.
func (c *Client) Revoke(ctx context.Context, email string) (bool, error) {
	if c.token == "" || c.serverName == "" {
		return false, ErrNotConfigured
	}
	email = strings.ToLower(strings.TrimSpace(email))

	friends, err := c.friends(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range friends {
		if !matches(email, f.Email, f.Username) {
			continue
		}
		if _, err := c.do(ctx, http.MethodDelete, "/api/v2/friends/"+url.PathEscape(f.ID), nil, "application/json"); err != nil {
			return false, err
		}
		slog.Info("plex friend removed", "email", email, "plex_user_id", f.ID)
		return true, nil
	}
	return false, nil
}

func (c *Client) server(ctx context.Context) (*resource, error) {
	key := "resource:" + c.serverName
	if cached, ok := c.cache.Get(key); ok {
		return cached.(*resource), nil
	}

	raw, err := c.do(ctx, http.MethodGet, "/api/v2/resources?includeHttps=1", nil, "application/json")
	if err != nil {
		return nil, err
	}
	var resources []resource
	if err := json.Unmarshal(raw, &resources); err != nil {
		return nil, fmt.Errorf("decode plex resources: %w", err)
	}
	for i := range resources {
		r := &resources[i]
		if r.Name == c.serverName && strings.Contains(r.Provides, "server") {
			c.cache.Set(key, r, cache.DefaultExpiration)
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrServerNotFound, c.serverName)
}

func (c *Client) friends(ctx context.Context) ([]friend, error) {
	mc, err := c.getXML(ctx, "/api/users")
	if err != nil {
		return nil, err
	}
	return mc.Users, nil
}

func (c *Client) pendingInvites(ctx context.Context) ([]pendingInvite, error) {
	mc, err := c.getXML(ctx, "/api/invites/requested")
	if err != nil {
		return nil, err
	}
	return mc.Invites, nil
}

func (c *Client) sections(ctx context.Context, machineID string) ([]section, error) {
	mc, err := c.getXML(ctx, "/api/servers/"+url.PathEscape(machineID))
	if err != nil {
		return nil, err
	}
	return mc.Server.Sections, nil
}

func (c *Client) getXML(ctx context.Context, path string) (*mediaContainer, error) {
	raw, err := c.do(ctx, http.MethodGet, path, nil, "application/xml")
	if err != nil {
		return nil, err
	}
	var mc mediaContainer
	if err := xml.Unmarshal(raw, &mc); err != nil {
		return nil, fmt.Errorf("decode plex %s: %w", path, err)
	}
	return &mc, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build plex request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Client-Identifier", c.clientID)
	req.Header.Set("X-Plex-Product", "ReelSpace")
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plex %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read plex response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Path: path, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func matches(email string, candidates ...string) bool {
	for _, c := range candidates {
		if c != "" && strings.ToLower(c) == email {
			return true
		}
	}
	return false
}
