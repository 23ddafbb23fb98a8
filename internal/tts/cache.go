// Package tts wraps the text-to-speech service behind a per-campaign cache,
// so the same message is never synthesized twice for a campaign.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// AudioHandle identifies synthesized audio the telephony adapter can play.
type AudioHandle struct {
	Filename string
}

// Cache is a two-level campaignId -> text -> handle cache in front of the
// external TTS service. Entries stay for the life of the process unless
// InvalidateCampaign is called; saving a campaign's post-call menu does not
// clear them.
type Cache struct {
	url    string
	http   *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	entries map[int64]map[string]AudioHandle
}

// NewCache creates a TTS cache bound to the given service URL.
func NewCache(url string, logger *slog.Logger) *Cache {
	return &Cache{
		url:     url,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("subsystem", "tts-cache"),
		entries: make(map[int64]map[string]AudioHandle),
	}
}

// GetAudio returns a cached handle for campaignId/text, synthesizing it via
// the external TTS service on a cache miss. Failure is returned to the
// caller, who must treat it as terminal for the current playback attempt.
func (c *Cache) GetAudio(ctx context.Context, campaignID int64, text string) (AudioHandle, error) {
	c.mu.Lock()
	if byText, ok := c.entries[campaignID]; ok {
		if handle, ok := byText[text]; ok {
			c.mu.Unlock()
			return handle, nil
		}
	}
	c.mu.Unlock()

	handle, err := c.synthesize(ctx, text)
	if err != nil {
		return AudioHandle{}, fmt.Errorf("synthesizing audio: %w", err)
	}

	c.mu.Lock()
	byText, ok := c.entries[campaignID]
	if !ok {
		byText = make(map[string]AudioHandle)
		c.entries[campaignID] = byText
	}
	byText[text] = handle
	c.mu.Unlock()

	return handle, nil
}

// InvalidateCampaign wipes every cached entry for a campaign. Nothing in the
// engine calls it; the menu save handler does not.
func (c *Cache) InvalidateCampaign(campaignID int64) {
	c.mu.Lock()
	delete(c.entries, campaignID)
	c.mu.Unlock()
}

func (c *Cache) synthesize(ctx context.Context, text string) (AudioHandle, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("text", text); err != nil {
		return AudioHandle{}, fmt.Errorf("encoding multipart form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return AudioHandle{}, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return AudioHandle{}, fmt.Errorf("building tts request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return AudioHandle{}, fmt.Errorf("calling tts service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return AudioHandle{}, fmt.Errorf("tts service returned %d: %s", resp.StatusCode, string(data))
	}

	var result struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return AudioHandle{}, fmt.Errorf("decoding tts response: %w", err)
	}

	filename := strings.TrimSuffix(result.Filename, ".gsm")
	return AudioHandle{Filename: filename}, nil
}
