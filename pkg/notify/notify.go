// Package notify delivers operator alerts for events that need a human,
// like the controller pausing itself after repeated failures.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/levenlabs/go-lflag"
)

// Notifier delivers a single message to the operator.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Pushover implements Notifier against the Pushover messages API.
type Pushover struct {
	apiURL   string
	appToken string
	userKey  string
	client   *http.Client
}

var _ Notifier = (*Pushover)(nil)

// Configured sets up the notifier based on flags. Without credentials it
// returns a notifier that logs and drops messages, so alerting stays
// optional.
func Configured() Notifier {
	p := &Pushover{
		client: common.HTTPClient(10 * time.Second),
	}
	apiURL := lflag.String("pushover-api-url", "https://api.pushover.net/1/messages.json", "URL for the Pushover messages API")
	appToken := lflag.String("pushover-app-token", "", "Pushover application token (empty disables notifications)")
	userKey := lflag.String("pushover-user-key", "", "Pushover user key")

	var n struct{ Notifier }
	lflag.Do(func() {
		p.apiURL = *apiURL
		p.appToken = *appToken
		p.userKey = *userKey
		if p.appToken == "" || p.userKey == "" {
			n.Notifier = Noop{}
			return
		}
		n.Notifier = p
	})
	return &n
}

// NewPushover creates an instance without flags, primarily for testing.
func NewPushover(apiURL, appToken, userKey string, client *http.Client) *Pushover {
	return &Pushover{
		apiURL:   apiURL,
		appToken: appToken,
		userKey:  userKey,
		client:   client,
	}
}

type pushoverMessage struct {
	Token    string `json:"token"`
	User     string `json:"user"`
	Title    string `json:"title,omitempty"`
	Message  string `json:"message"`
	Priority int    `json:"priority,omitempty"`
}

// Notify sends one message. Delivery failures are returned, not retried;
// callers treat notifications as best effort.
func (p *Pushover) Notify(ctx context.Context, title, message string) error {
	payload, err := json.Marshal(pushoverMessage{
		Token:   p.appToken,
		User:    p.userKey,
		Title:   title,
		Message: message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal pushover payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushover api returned status %d", resp.StatusCode)
	}
	log.Ctx(ctx).DebugContext(ctx, "notification sent", slog.String("title", title))
	return nil
}

// Noop drops messages, logging them at debug so they still show up in
// development.
type Noop struct{}

var _ Notifier = Noop{}

// Notify logs and discards the message.
func (Noop) Notify(ctx context.Context, title, message string) error {
	log.Ctx(ctx).DebugContext(ctx, "notification dropped, no notifier configured",
		slog.String("title", title),
		slog.String("message", message),
	)
	return nil
}
