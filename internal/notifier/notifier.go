// Package notifier implements the webhook dispatcher (spec.md §4.8):
// poll undelivered notification rows, POST each as JSON to the
// configured notification_url, and mark it delivered on a 2xx response.
// There is no teacher analog for an outbound HTTP client; net/http is
// used directly rather than pulling in a third-party client for what
// amounts to one POST call per row (see DESIGN.md).
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ccoin/zams/internal/logging"
	"github.com/ccoin/zams/pkg/types"
)

// Store is the subset of internal/store.Store the notifier depends on.
type Store interface {
	ListUndelivered(ctx context.Context) ([]types.Notification, error)
	MarkDelivered(ctx context.Context, id int64) error
}

// payload is the JSON body POSTed per undelivered row (spec.md §6
// "Notification POST body").
type payload struct {
	ID            int64      `json:"id"`
	EventType     string     `json:"eventType"`
	TxHash        types.Hash `json:"txHash"`
	Account       int64      `json:"account"`
	TxOutputIndex int32      `json:"txOutputIndex"`
	Amount        int64      `json:"amount"`
	Block         uint32     `json:"block"`
}

// Notifier polls store and delivers webhooks to url.
type Notifier struct {
	store  Store
	url    string
	client *http.Client
	log    *logging.Logger
}

// New creates a Notifier POSTing to url.
func New(store Store, url string, log *logging.Logger) *Notifier {
	return &Notifier{
		store:  store,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Run polls store every interval until ctx is cancelled, delivering
// each undelivered notification in turn.
func (n *Notifier) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.DeliverPending(ctx); err != nil {
				n.log.Error("notifier: deliver pending", "err", err)
			}
		}
	}
}

// DeliverPending posts every undelivered notification once, marking
// each delivered on a 2xx response. A failed POST leaves that row
// undelivered for the next poll; notifier logs the failure and keeps
// going so one unreachable webhook doesn't starve the rest of the batch.
func (n *Notifier) DeliverPending(ctx context.Context) error {
	pending, err := n.store.ListUndelivered(ctx)
	if err != nil {
		return fmt.Errorf("notifier: list undelivered: %w", err)
	}

	for _, row := range pending {
		if err := n.deliverOne(ctx, row); err != nil {
			n.log.Warn("notifier: delivery failed, will retry next poll", "id", row.ID, "err", err)
			continue
		}
		if err := n.store.MarkDelivered(ctx, row.ID); err != nil {
			return fmt.Errorf("notifier: mark delivered %d: %w", row.ID, err)
		}
	}
	return nil
}

func (n *Notifier) deliverOne(ctx context.Context, row types.Notification) error {
	eventType := "incomingTx"
	if row.Outgoing {
		eventType = "outgoingTx"
	}

	body, err := json.Marshal(payload{
		ID:            row.ID,
		EventType:     eventType,
		TxHash:        row.TxHash,
		Account:       row.AccountID,
		TxOutputIndex: row.TxOutputIndex,
		Amount:        row.Amount,
		Block:         row.Block,
	})
	if err != nil {
		return fmt.Errorf("notifier: marshal notification %d: %w", row.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifier: build request %d: %w", row.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: post notification %d: %w", row.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notifier: notification %d rejected with status %d", row.ID, resp.StatusCode)
	}
	return nil
}
