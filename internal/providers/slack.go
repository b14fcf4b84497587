package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/brightline/outreach-engine/internal/config"
	"github.com/brightline/outreach-engine/internal/pkg/httpretry"
)

// SlackNotifier implements Notifier over an incoming webhook.
type SlackNotifier struct {
	webhookURL     string
	defaultChannel string
	client         httpretry.HTTPDoer
}

// NewSlackNotifier builds the notifier. An empty webhook URL yields a
// notifier whose sends log-and-drop nothing but return an error, so callers
// can decide whether silence is acceptable.
func NewSlackNotifier(cfg config.NotifierConfig) *SlackNotifier {
	return &SlackNotifier{
		webhookURL:     cfg.SlackWebhookURL,
		defaultChannel: cfg.DefaultChannel,
		client:         httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 2),
	}
}

// Send posts the notification. Fields render as a sorted bullet list so
// digests are stable run to run.
func (n *SlackNotifier) Send(ctx context.Context, channel string, note Notification) error {
	if n.webhookURL == "" {
		return fmt.Errorf("slack: webhook URL not configured")
	}
	if channel == "" {
		channel = n.defaultChannel
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n%s", note.Title, note.Text)
	if len(note.Fields) > 0 {
		keys := make([]string, 0, len(note.Fields))
		for k := range note.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n• %s: %s", k, note.Fields[k])
		}
	}

	payload, err := json.Marshal(map[string]string{
		"channel": channel,
		"text":    b.String(),
	})
	if err != nil {
		return fmt.Errorf("slack: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: webhook status %d", resp.StatusCode)
	}
	return nil
}
