package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ccoin/zams/internal/logging"
	"github.com/ccoin/zams/internal/store"
	"github.com/ccoin/zams/pkg/types"
	"github.com/ccoin/zams/pkg/walletpb"
)

type fakeStore struct {
	balance      store.Balance
	pending      []int64
	payment      types.Payment
	importedID   int64
	nextAccount  int64
	nextAddress  string
	rewoundTo    uint32
}

func (f *fakeStore) Balance(ctx context.Context, accountID int64, minConf uint32) (store.Balance, error) {
	return f.balance, nil
}
func (f *fakeStore) ListPendingPayments(ctx context.Context, accountID int64) ([]int64, error) {
	return f.pending, nil
}
func (f *fakeStore) PaymentInfo(ctx context.Context, paymentID int64) (types.Payment, error) {
	return f.payment, nil
}
func (f *fakeStore) ImportFVK(ctx context.Context, key string) (int64, error) { return f.importedID, nil }
func (f *fakeStore) ImportAddress(ctx context.Context, address string) (int64, error) {
	return f.importedID, nil
}
func (f *fakeStore) NextAddressFor(ctx context.Context, fvkID int64) (int64, string, error) {
	return f.nextAccount, f.nextAddress, nil
}
func (f *fakeStore) RewindTo(ctx context.Context, height uint32) error {
	f.rewoundTo = height
	return nil
}

type fakeRPC struct{ height uint32 }

func (f *fakeRPC) LatestHeight(ctx context.Context) (uint32, error) { return f.height, nil }

type fakePlanner struct{ unsigned *walletpb.UnsignedTx }

func (f *fakePlanner) PrepareTx(ctx context.Context, datetime time.Time, fromAccount int64, toAddress string, changeAccount int64, amount uint64) (*walletpb.UnsignedTx, int64, error) {
	return f.unsigned, f.unsigned.ID, nil
}

type fakeScanner struct{ tip uint32 }

func (f *fakeScanner) ScanChain(ctx context.Context) (uint32, error) { return f.tip, nil }

type fakeBuilder struct {
	signed    *walletpb.SignedTx
	txid      types.Hash
	cancelled int64
}

func (f *fakeBuilder) SignTx(ctx context.Context, unsigned *walletpb.UnsignedTx) (*walletpb.SignedTx, error) {
	return f.signed, nil
}
func (f *fakeBuilder) BroadcastTx(ctx context.Context, signed *walletpb.SignedTx) (types.Hash, error) {
	return f.txid, nil
}
func (f *fakeBuilder) CancelTx(ctx context.Context, paymentID int64) error {
	f.cancelled = paymentID
	return nil
}

func newTestServer() (*Server, *fakeStore) {
	fs := &fakeStore{balance: store.Balance{Total: 100, Available: 80}}
	log := logging.New(logging.LevelError, io.Discard)
	s := New(fs, &fakeRPC{height: 42}, &fakePlanner{unsigned: &walletpb.UnsignedTx{ID: 7}}, &fakeScanner{tip: 50}, &fakeBuilder{}, types.Testnet, log, &Metrics{})
	return s, fs
}

func doRequest(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleVersion(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodGet, "/version", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["version"] != version {
		t.Fatalf("expected version %q, got %q", version, out["version"])
	}
}

func TestHandleGetAccountBalance(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodGet, "/accounts/1/balance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["total"] != 100 || out["available"] != 80 {
		t.Fatalf("unexpected balance response: %+v", out)
	}
}

func TestHandleSyncAndRewind(t *testing.T) {
	s, fs := newTestServer()

	rec := doRequest(t, s.Router(), http.MethodPost, "/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync expected 200, got %d", rec.Code)
	}
	var height map[string]uint32
	if err := json.Unmarshal(rec.Body.Bytes(), &height); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if height["height"] != 50 {
		t.Fatalf("expected height 50, got %d", height["height"])
	}

	rec = doRequest(t, s.Router(), http.MethodPost, "/rewind", rewindRequest{Height: 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("rewind expected 200, got %d", rec.Code)
	}
	if fs.rewoundTo != 10 {
		t.Fatalf("expected rewind to height 10, got %d", fs.rewoundTo)
	}
}

func TestHandleImportPublicKeyRequiresVariant(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodPost, "/import_public_key", pubKeyRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleNewAccount(t *testing.T) {
	s, fs := newTestServer()
	fs.nextAccount = 9
	fs.nextAddress = "taddr-9"

	rec := doRequest(t, s.Router(), http.MethodPost, "/new_account", newAccountRequest{FVKID: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["address"] != "taddr-9" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestHandlePrepareTxAndCancel(t *testing.T) {
	s, _ := newTestServer()

	rec := doRequest(t, s.Router(), http.MethodPost, "/prepare_tx", prepareTxRequest{
		Timestamp: 100, FromAccount: 1, ToAddress: "addr", ChangeAccount: 1, Amount: 1000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s.Router(), http.MethodPost, "/cancel_tx", cancelTxRequest{PaymentID: 7})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
