package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ccoin/zams/internal/logging"
	"github.com/ccoin/zams/pkg/types"
)

type fakeStore struct {
	pending   []types.Notification
	delivered []int64
}

func (f *fakeStore) ListUndelivered(ctx context.Context) ([]types.Notification, error) {
	return f.pending, nil
}

func (f *fakeStore) MarkDelivered(ctx context.Context, id int64) error {
	f.delivered = append(f.delivered, id)
	return nil
}

func TestDeliverPendingMarksDeliveredOn2xx(t *testing.T) {
	var received payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Fatalf("decode posted body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := &fakeStore{pending: []types.Notification{
		{ID: 1, Outgoing: false, AccountID: 5, TxOutputIndex: 2, Amount: 1000, Block: 42},
	}}

	n := New(fs, srv.URL, logging.New(logging.LevelError, io.Discard))
	if err := n.DeliverPending(context.Background()); err != nil {
		t.Fatalf("deliver pending: %v", err)
	}

	if len(fs.delivered) != 1 || fs.delivered[0] != 1 {
		t.Fatalf("expected notification 1 marked delivered, got %v", fs.delivered)
	}
	if received.EventType != "incomingTx" {
		t.Fatalf("expected incomingTx, got %q", received.EventType)
	}
	if received.Account != 5 {
		t.Fatalf("expected account 5, got %d", received.Account)
	}
}

func TestDeliverPendingLeavesUndeliveredOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fs := &fakeStore{pending: []types.Notification{
		{ID: 1, Outgoing: true, AccountID: 5},
	}}

	n := New(fs, srv.URL, logging.New(logging.LevelError, io.Discard))
	if err := n.DeliverPending(context.Background()); err != nil {
		t.Fatalf("deliver pending: %v", err)
	}

	if len(fs.delivered) != 0 {
		t.Fatalf("expected no notifications marked delivered, got %v", fs.delivered)
	}
}
