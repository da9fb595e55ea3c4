package apprise

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/m3u-dvr/internal/config"
	"github.com/m3u-dvr/pkg/logger"
)

// Notification types understood by the Apprise API.
const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeWarning = "warning"
	TypeFailure = "failure"
)

// Client wraps the Apprise API.
type Client struct {
	cfg    config.AppriseConfig
	client *resty.Client
}

// NewClient creates a new Apprise client.
func NewClient(cfg config.AppriseConfig) *Client {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &Client{
		cfg:    cfg,
		client: client,
	}
}

// Enabled reports whether notifications are sent at all.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Enabled && c.cfg.BaseURL != ""
}

// NotifyRequest is the request body for Apprise.
type NotifyRequest struct {
	Body  string `json:"body"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Notify sends a notification via Apprise. It is a no-op when disabled.
func (c *Client) Notify(ctx context.Context, title, body, notifyType string) error {
	if !c.Enabled() {
		return nil
	}

	tag := c.cfg.Tag
	if tag == "" {
		tag = "all"
	}

	req := NotifyRequest{
		Title: title,
		Body:  body,
		Type:  notifyType,
		Tag:   tag,
	}

	url := fmt.Sprintf("%s/notify/%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Key)

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(url)

	if err != nil {
		return fmt.Errorf("apprise request: %w", err)
	}

	if resp.StatusCode() >= 400 {
		return fmt.Errorf("apprise error (%d): %s", resp.StatusCode(), resp.String())
	}

	logger.Debugf("🔔 Notification sent: %s", title)
	return nil
}

// JobFinished reports a finalized job; failed jobs go out as failures.
func (c *Client) JobFinished(ctx context.Context, name, recordingID, status, finalPath string) error {
	switch status {
	case "error":
		return c.Notify(ctx, "❌ Recording failed",
			fmt.Sprintf("**%s**\nJob: %s", name, recordingID), TypeFailure)
	case "stopped":
		return c.Notify(ctx, "🛑 Recording stopped",
			fmt.Sprintf("**%s**\nSaved to: %s", name, finalPath), TypeWarning)
	default:
		return c.Notify(ctx, "✅ Recording ready",
			fmt.Sprintf("**%s**\nSaved to: %s", name, finalPath), TypeSuccess)
	}
}
