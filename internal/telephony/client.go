// Package telephony is the adapter between the engine and the ARI-style
// telephony control plane: a REST surface for channel/bridge RPCs and a
// persistent websocket for the channel event stream.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client issues control-plane RPCs over HTTP Basic auth. All calls are
// bounded by a fixed request timeout; failures are returned to the caller,
// never panicked.
type Client struct {
	baseURL  string
	username string
	password string
	appName  string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a REST client for the telephony control plane.
func NewClient(baseURL, username, password, appName string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		appName:  appName,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("subsystem", "telephony-client"),
	}
}

// OriginateParams describes an outbound channel creation request.
type OriginateParams struct {
	Endpoint       string // "SIP/<trunk>/<phone>"
	ChannelID      string
	CallerID       string
	RingTimeoutSec int
	Variables      map[string]string
}

// Channel is the opaque handle returned by Originate.
type Channel struct {
	ID string `json:"id"`
}

// Originate places an outbound call and returns the new channel's handle.
// The channel begins in the Ringing state; progress is reported on the
// event stream, not as part of this call's response.
func (c *Client) Originate(ctx context.Context, p OriginateParams) (*Channel, error) {
	body := map[string]any{
		"endpoint":  p.Endpoint,
		"app":       c.appName,
		"callerId":  p.CallerID,
		"timeout":   p.RingTimeoutSec,
		"channelId": p.ChannelID,
		"variables": p.Variables,
	}

	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/channels", body, &ch); err != nil {
		return nil, fmt.Errorf("originating channel: %w", err)
	}
	return &ch, nil
}

// Play starts playback of a media URI ("sound:<path>") on a channel.
func (c *Client) Play(ctx context.Context, channelID, media string) error {
	body := map[string]any{"media": media}
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/play", body, nil); err != nil {
		return fmt.Errorf("starting playback on channel %s: %w", channelID, err)
	}
	return nil
}

// Hangup terminates a channel.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	if err := c.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(channelID), nil, nil); err != nil {
		return fmt.Errorf("hanging up channel %s: %w", channelID, err)
	}
	return nil
}

// Bridge is the opaque handle returned by CreateBridge.
type Bridge struct {
	ID string `json:"id"`
}

// CreateBridge creates a new mixing bridge.
func (c *Client) CreateBridge(ctx context.Context) (*Bridge, error) {
	var b Bridge
	if err := c.do(ctx, http.MethodPost, "/bridges", nil, &b); err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	return &b, nil
}

// AddChannelToBridge adds a channel to an existing bridge.
func (c *Client) AddChannelToBridge(ctx context.Context, bridgeID, channelID string) error {
	body := map[string]any{"channel": channelID}
	if err := c.do(ctx, http.MethodPost, "/bridges/"+url.PathEscape(bridgeID)+"/addChannel", body, nil); err != nil {
		return fmt.Errorf("adding channel %s to bridge %s: %w", channelID, bridgeID, err)
	}
	return nil
}

// DestroyBridge tears down a bridge.
func (c *Client) DestroyBridge(ctx context.Context, bridgeID string) error {
	if err := c.do(ctx, http.MethodDelete, "/bridges/"+url.PathEscape(bridgeID), nil, nil); err != nil {
		return fmt.Errorf("destroying bridge %s: %w", bridgeID, err)
	}
	return nil
}

// Snoop starts a spy-mode snoop of a channel, bridging the resulting audio
// into the supervisor's session by way of a new channel handle.
func (c *Client) Snoop(ctx context.Context, channelID, spyChannelID string) (*Channel, error) {
	body := map[string]any{"spy": "both", "channelId": spyChannelID, "app": c.appName}
	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/snoop", body, &ch); err != nil {
		return nil, fmt.Errorf("snooping channel %s: %w", channelID, err)
	}
	return &ch, nil
}

// GetVar reads a channel variable.
func (c *Client) GetVar(ctx context.Context, channelID, variable string) (string, error) {
	var result struct {
		Value string `json:"value"`
	}
	path := "/channels/" + url.PathEscape(channelID) + "/variable?variable=" + url.QueryEscape(variable)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return "", fmt.Errorf("reading variable %s on channel %s: %w", variable, channelID, err)
	}
	return result.Value, nil
}

// SetVar sets a channel variable.
func (c *Client) SetVar(ctx context.Context, channelID, variable, value string) error {
	path := "/channels/" + url.PathEscape(channelID) + "/variable?variable=" +
		url.QueryEscape(variable) + "&value=" + url.QueryEscape(value)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("setting variable %s on channel %s: %w", variable, channelID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("control plane returned %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}
