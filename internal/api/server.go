// Package api implements the RPC facade and concurrency gate (spec.md
// §4.7 / C7): an HTTP+JSON surface over chi dispatching to the store,
// planner, scanner and tx builder, with a single-writer mutex around
// Sync/Rewind and a plain-text metrics endpoint on a second mux.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ccoin/zams/internal/addr"
	"github.com/ccoin/zams/internal/logging"
	"github.com/ccoin/zams/internal/store"
	"github.com/ccoin/zams/pkg/types"
	"github.com/ccoin/zams/pkg/walletpb"
)

// RPC is the subset of internal/walletrpc.Client the facade needs
// directly (GetCurrentHeight queries the full node, not the local tip).
type RPC interface {
	LatestHeight(ctx context.Context) (uint32, error)
}

// Store is the subset of internal/store.Store the facade depends on for
// operations the planner/scanner/builder don't already cover.
type Store interface {
	Balance(ctx context.Context, accountID int64, minConf uint32) (store.Balance, error)
	ListPendingPayments(ctx context.Context, accountID int64) ([]int64, error)
	PaymentInfo(ctx context.Context, paymentID int64) (types.Payment, error)
	ImportFVK(ctx context.Context, key string) (int64, error)
	ImportAddress(ctx context.Context, address string) (int64, error)
	NextAddressFor(ctx context.Context, fvkID int64) (int64, string, error)
	RewindTo(ctx context.Context, height uint32) error
}

// Planner is the subset of internal/planner.Planner the facade depends on.
type Planner interface {
	PrepareTx(ctx context.Context, datetime time.Time, fromAccount int64, toAddress string, changeAccount int64, amount uint64) (*walletpb.UnsignedTx, int64, error)
}

// Scanner is the subset of internal/scanner.Scanner the facade depends on.
type Scanner interface {
	ScanChain(ctx context.Context) (uint32, error)
}

// Builder is the subset of internal/txbuilder.Builder the facade depends on.
type Builder interface {
	SignTx(ctx context.Context, unsigned *walletpb.UnsignedTx) (*walletpb.SignedTx, error)
	BroadcastTx(ctx context.Context, signed *walletpb.SignedTx) (types.Hash, error)
	CancelTx(ctx context.Context, paymentID int64) error
}

// Server wires the facade's dependencies and owns the writer gate.
type Server struct {
	store    Store
	rpc      RPC
	planner  Planner
	scanner  Scanner
	builder  Builder
	network  types.Network
	validate addr.Validator
	log      *logging.Logger
	metrics  *Metrics

	// dataMutex is spec.md §5's data_mutex: held for the duration of
	// Sync/Rewind, released between requests (spec.md §4.7 "Writer gate").
	dataMutex sync.Mutex
}

// New creates a Server. metrics may be shared with a second mux serving
// the metrics_port endpoint (spec.md §6).
func New(st Store, rpc RPC, p Planner, sc Scanner, b Builder, network types.Network, log *logging.Logger, metrics *Metrics) *Server {
	return &Server{
		store:    st,
		rpc:      rpc,
		planner:  p,
		scanner:  sc,
		builder:  b,
		network:  network,
		validate: addr.Validator{Network: network},
		log:      log,
		metrics:  metrics,
	}
}

// Router builds the chi mux exposing the spec.md §6 RPC table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Get("/version", s.handleVersion)
	r.Post("/validate_address", s.handleValidateAddress)
	r.Get("/accounts/{id}/balance", s.handleGetAccountBalance)
	r.Post("/prepare_tx", s.handlePrepareTx)
	r.Post("/cancel_tx", s.handleCancelTx)
	r.Get("/accounts/{id}/pending_payments", s.handleListPendingPayments)
	r.Get("/payments/{id}", s.handleGetPaymentInfo)
	r.Post("/broadcast_tx", s.handleBroadcastTx)
	r.Post("/sign_and_broadcast_tx", s.handleSignAndBroadcastTx)
	r.Post("/estimate_fee", s.handleEstimateFee)
	r.Get("/height", s.handleGetCurrentHeight)
	r.Post("/sync", s.handleSync)
	r.Post("/rewind", s.handleRewind)
	r.Post("/import_public_key", s.handleImportPublicKey)
	r.Post("/new_account", s.handleNewAccount)
	r.Post("/batch_new_accounts", s.handleBatchNewAccounts)

	return r
}

// MetricsRouter builds the plain-text counters mux bound to metrics_port.
func (s *Server) MetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", s.metrics)
	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.incRequests()
		next.ServeHTTP(w, r)
	})
}

// withTimeout bounds handler-local work; spec.md §5 notes there is no
// request-level timeout beyond the node client's own HTTP default, so
// this only guards against a wedged downstream dependency.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 2*time.Minute)
}
