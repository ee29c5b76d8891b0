package progress

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

// Notifier delivers newly detected bottlenecks to operators.
type Notifier interface {
	Notify(ctx context.Context, sessionID string, bottlenecks []Bottleneck) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, sessionID string, bottlenecks []Bottleneck) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, sessionID string, bottlenecks []Bottleneck) error {
	return f(ctx, sessionID, bottlenecks)
}

// SlackNotifier posts bottleneck alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// SlackOption configures a SlackNotifier.
type SlackOption func(*SlackNotifier)

// WithSlackChannel overrides the webhook's default channel.
func WithSlackChannel(channel string) SlackOption {
	return func(n *SlackNotifier) { n.channel = channel }
}

// WithHTTPClient sets the HTTP client used to post.
func WithHTTPClient(c *http.Client) SlackOption {
	return func(n *SlackNotifier) { n.client = c }
}

// NewSlackNotifier creates a notifier posting to webhookURL.
func NewSlackNotifier(webhookURL string, opts ...SlackOption) *SlackNotifier {
	n := &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify posts one message with an attachment per bottleneck.
func (n *SlackNotifier) Notify(ctx context.Context, sessionID string, bottlenecks []Bottleneck) error {
	if len(bottlenecks) == 0 {
		return nil
	}
	msg := &slack.WebhookMessage{
		Channel: n.channel,
		Text:    fmt.Sprintf("foreman: %d new bottleneck(s) in session %s", len(bottlenecks), sessionID),
	}
	for _, b := range bottlenecks {
		att := slack.Attachment{
			Color: severityColor(b.Severity),
			Title: string(b.Type),
			Text:  b.Description,
			Fields: []slack.AttachmentField{
				{Title: "Severity", Value: string(b.Severity), Short: true},
			},
		}
		if b.WorkerID != "" {
			att.Fields = append(att.Fields, slack.AttachmentField{Title: "Worker", Value: b.WorkerID, Short: true})
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}

func severityColor(s Severity) string {
	switch s {
	case SeverityHigh:
		return "danger"
	case SeverityMedium:
		return "warning"
	default:
		return "#439FE0"
	}
}
