// Package api is the HTTP client for the matchmaking backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/teamroom/internal/domain"
	"github.com/dkeye/teamroom/internal/payload"
)

const maxBody = 1 << 20

type Client struct {
	base  string
	token string
	http  *http.Client
}

// New returns a client for base. A nil hc uses a client with a 30s timeout.
func New(base, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), token: token, http: hc}
}

// WithToken returns a copy that authenticates as token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Token() string { return c.token }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (c *Client) Profile(ctx context.Context) (*payload.Profile, error) {
	var p payload.Profile
	if err := c.do(ctx, http.MethodGet, "/profile/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) JoinQueue(ctx context.Context) (*payload.Room, error) {
	return c.ack(ctx, http.MethodPost, "/matchmaking/join")
}

func (c *Client) Status(ctx context.Context) (*payload.Room, error) {
	return c.ack(ctx, http.MethodGet, "/matchmaking/status")
}

func (c *Client) MyRoom(ctx context.Context) (*payload.Room, error) {
	return c.room(ctx, http.MethodGet, "/rooms/my")
}

func (c *Client) GetRoom(ctx context.Context, id domain.RoomID) (*payload.Room, error) {
	return c.room(ctx, http.MethodGet, "/rooms/"+url.PathEscape(string(id)))
}

func (c *Client) ListRooms(ctx context.Context) ([]payload.Room, error) {
	var raw []byte
	if err := c.do(ctx, http.MethodGet, "/rooms/", nil, &raw); err != nil {
		return nil, err
	}
	rooms, err := payload.DecodeRooms(raw)
	if err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

func (c *Client) LeaveQueue(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/matchmaking/leave", nil, nil)
}

func (c *Client) LeaveRoom(ctx context.Context, id domain.RoomID) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(id))+"/leave", nil, nil)
}

func (c *Client) EndRoom(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/matchmaking/end-room", nil, nil)
}

func (c *Client) History(ctx context.Context) ([]payload.History, error) {
	var out []payload.History
	if err := c.do(ctx, http.MethodGet, "/rooms/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ack fetches a join or status response, which may be any JSON value.
func (c *Client) ack(ctx context.Context, method, path string) (*payload.Room, error) {
	var raw []byte
	if err := c.do(ctx, method, path, nil, &raw); err != nil {
		return nil, err
	}
	r, err := payload.DecodeAck(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return r, nil
}

func (c *Client) room(ctx context.Context, method, path string) (*payload.Room, error) {
	var r payload.Room
	if err := c.do(ctx, method, path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// do sends one request. A non-2xx status becomes *Error. out may be a
// *[]byte to receive the raw body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	log.Debug().
		Str("module", "api.client").
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Detail: parseDetail(data), Method: method, Path: path}
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
