package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const EventDraftCreated = "draft.created"

// DraftEvent is delivered to wallet participants other than the actor.
type DraftEvent struct {
	Type       string    `json:"type"`
	WalletID   string    `json:"walletId"`
	WalletName string    `json:"walletName"`
	DraftID    string    `json:"draftId"`
	CreatedBy  string    `json:"createdBy"`
	Recipient  string    `json:"recipient"`
	Amount     string    `json:"amount"`
	Label      *string   `json:"label,omitempty"`
	Recipients []string  `json:"recipients"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Notifier delivers draft events. Failures are logged by the caller and
// never fail the operation that produced the event.
type Notifier interface {
	Notify(ctx context.Context, event DraftEvent) error
}

// WebhookNotifier POSTs events as JSON to a remote URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event DraftEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier only records events; used when no webhook is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, event DraftEvent) error {
	n.log.Info("draft event",
		zap.String("type", event.Type),
		zap.String("wallet_id", event.WalletID),
		zap.String("draft_id", event.DraftID),
		zap.Strings("recipients", event.Recipients))
	return nil
}
