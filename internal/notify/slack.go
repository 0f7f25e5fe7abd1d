// Package notify sends usage failure alerts to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

const (
	defaultTimeout = 10 * time.Second
	botName        = "chpbot"
	botIcon        = ":-1:"
)

// Alert describes one failed image of a post.
type Alert struct {
	PostID    int64
	Permalink string
	Title     string
	Error     string
	ImageID   int64
	// Response is whatever the hub answered, or an error summary. It is
	// appended to the message as JSON.
	Response any
}

// payload is the webhook body.
type payload struct {
	Channel   string `json:"channel"`
	IconEmoji string `json:"icon_emoji"`
	Username  string `json:"username"`
	Text      string `json:"text"`
}

// Slack posts alerts to an incoming webhook.
type Slack struct {
	url        string
	channel    string
	httpClient *http.Client
	policy     *bluemonday.Policy
	logger     *slog.Logger
}

// NewSlack creates a notifier. It does nothing unless both url and channel
// are set.
func NewSlack(url, channel string) *Slack {
	return &Slack{
		url:     url,
		channel: channel,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		policy: bluemonday.StrictPolicy(),
		logger: slog.Default(),
	}
}

// WithLogger sets the logger failures are reported to.
func (s *Slack) WithLogger(l *slog.Logger) *Slack {
	s.logger = l
	return s
}

// Configured reports whether alerts will be sent.
func (s *Slack) Configured() bool {
	return s != nil && s.url != "" && s.channel != ""
}

// Notify sends the alert. Delivery is best effort: failures are logged and
// dropped.
func (s *Slack) Notify(ctx context.Context, a Alert) {
	if !s.Configured() {
		return
	}
	if err := s.send(ctx, a); err != nil {
		s.logger.Warn("slack notification failed", "post_id", a.PostID, "image_id", a.ImageID, "error", err)
	}
}

// Message formats the alert text.
func (s *Slack) Message(a Alert) string {
	title := s.policy.Sanitize(strings.TrimSpace(a.Title))
	msg := fmt.Sprintf("CHP error: <%s|%s> - %s - IMG ID: %d ", strings.TrimSpace(a.Permalink), title, a.Error, a.ImageID)

	resp, err := json.Marshal(a.Response)
	if err != nil {
		resp = []byte("null")
	}
	return msg + string(resp)
}

func (s *Slack) send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(payload{
		Channel:   s.channel,
		IconEmoji: botIcon,
		Username:  botName,
		Text:      s.Message(a),
	})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
