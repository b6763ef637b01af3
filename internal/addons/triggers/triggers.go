// Package triggers implements the cloud-triggers add-on: outbound webhook
// dispatch on sync events (push committed, conversation forked, ...), with
// the payload body shaped per trigger via a Go template so operators can
// adapt the wire format without a code change.
package triggers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/worldline-go/klient"

	"github.com/aicove/syncd/internal/render"
)

// Dispatcher sends a webhook for one sync event.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID int64, event string, payload any) error
}

// Trigger binds one event name to a destination URL and an optional body
// template. An empty template renders a default JSON body carrying the
// user_id, the event name and the payload.
type Trigger struct {
	Event    string
	URL      string
	BodyTmpl string
	Headers  map[string]string
}

// WebhookDispatcher posts the rendered body of every registered trigger
// matching the fired event.
type WebhookDispatcher struct {
	client   *klient.Client
	triggers []Trigger
}

func NewWebhookDispatcher(timeout time.Duration, triggers []Trigger) (*WebhookDispatcher, error) {
	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("triggers: create http client: %w", err)
	}

	client.Client.Timeout = timeout

	return &WebhookDispatcher{client: client, triggers: triggers}, nil
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, userID int64, event string, payload any) error {
	for _, t := range d.triggers {
		if t.Event != event {
			continue
		}

		body, err := d.render(t, userID, event, payload)
		if err != nil {
			return fmt.Errorf("triggers: render %q body: %w", event, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("triggers: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range t.Headers {
			req.Header.Set(k, v)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("triggers: dispatch %q: %w", event, err)
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("triggers: webhook for %q returned %d", event, resp.StatusCode)
		}
	}

	return nil
}

func (d *WebhookDispatcher) render(t Trigger, userID int64, event string, payload any) ([]byte, error) {
	if t.BodyTmpl == "" {
		return render.ExecuteWithData(`{"user_id":{{.user_id}},"event":"{{.event}}","payload":{{.payload | toJson}}}`, map[string]any{
			"user_id": userID,
			"event":   event,
			"payload": payload,
		})
	}

	return render.ExecuteWithData(t.BodyTmpl, map[string]any{
		"user_id": userID,
		"event":   event,
		"payload": payload,
	})
}
