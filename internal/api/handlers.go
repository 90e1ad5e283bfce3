package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ccoin/zams/pkg/types"
	"github.com/ccoin/zams/pkg/walletpb"
)

// version is the facade's self-reported build identifier (spec.md §6
// "GetVersion"). Unlike the original's Cargo-derived VERSION constant,
// there is no build system here to source it from automatically.
const version = "zams-0.1.0"

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}

// parseMinConfirmations rejects negative values (spec.md §8 boundary
// behavior) instead of silently coercing them to the tip-inclusive 0.
func parseMinConfirmations(raw string) (uint32, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return 0, errInvalidMinConfirmations
	}
	return uint32(n), nil
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": version})
}

type validateAddressRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleValidateAddress(w http.ResponseWriter, r *http.Request) {
	var req validateAddressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"valid": s.validate.Decode(req.Address) == nil})
}

func (s *Server) handleGetAccountBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	minConf, err := parseMinConfirmations(r.URL.Query().Get("min_confirmations"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	bal, err := s.store.Balance(ctx, accountID, minConf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"total": bal.Total, "available": bal.Available})
}

type prepareTxRequest struct {
	Timestamp     int64  `json:"timestamp"`
	FromAccount   int64  `json:"from_account"`
	ToAddress     string `json:"to_address"`
	ChangeAccount int64  `json:"change_account"`
	Amount        uint64 `json:"amount"`
}

func (s *Server) handlePrepareTx(w http.ResponseWriter, r *http.Request) {
	var req prepareTxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	datetime := time.Unix(req.Timestamp, 0).UTC()
	unsigned, _, err := s.planner.PrepareTx(ctx, datetime, req.FromAccount, req.ToAddress, req.ChangeAccount, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.incPaymentsPrepared()
	s.metrics.addPaymentsAmount(int64(req.Amount))
	writeJSON(w, unsigned)
}

type cancelTxRequest struct {
	PaymentID int64 `json:"payment_id"`
}

func (s *Server) handleCancelTx(w http.ResponseWriter, r *http.Request) {
	var req cancelTxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := s.builder.CancelTx(ctx, req.PaymentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (s *Server) handleListPendingPayments(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	ids, err := s.store.ListPendingPayments(ctx, accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string][]int64{"ids": ids})
}

// paymentWire gives types.Payment json tags without touching
// pkg/types/domain.go, which the store and planner also share.
type paymentWire struct {
	ID            int64      `json:"id"`
	Datetime      time.Time  `json:"datetime"`
	AccountID     int64      `json:"account_id"`
	Sender        string     `json:"sender"`
	Recipient     string     `json:"recipient"`
	ChangeAddress string     `json:"change_address"`
	Amount        int64      `json:"amount"`
	Paid          bool       `json:"paid"`
	TxID          *types.Hash `json:"txid,omitempty"`
}

func (s *Server) handleGetPaymentInfo(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	p, err := s.store.PaymentInfo(ctx, paymentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, paymentWire{p.ID, p.Datetime, p.AccountID, p.Sender, p.Recipient, p.ChangeAddress, p.Amount, p.Paid, p.TxID})
}

func (s *Server) handleBroadcastTx(w http.ResponseWriter, r *http.Request) {
	var signed walletpb.SignedTx
	if err := decodeJSON(r, &signed); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	txid, err := s.builder.BroadcastTx(ctx, &signed)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.incPaymentsBroadcast()
	writeJSON(w, map[string]types.Hash{"txid": txid})
}

// handleSignAndBroadcastTx is a supplement beyond spec.md §6's table: it
// exercises internal/txbuilder's non-isolated signing path (spec.md
// §4.5) end to end for accounts whose keys live in the daemon's own
// keyring, rather than requiring a round trip through cmd/zamssignerd.
func (s *Server) handleSignAndBroadcastTx(w http.ResponseWriter, r *http.Request) {
	var unsigned walletpb.UnsignedTx
	if err := decodeJSON(r, &unsigned); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	signed, err := s.builder.SignTx(ctx, &unsigned)
	if err != nil {
		writeError(w, err)
		return
	}
	txid, err := s.builder.BroadcastTx(ctx, signed)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.incPaymentsBroadcast()
	writeJSON(w, map[string]types.Hash{"txid": txid})
}

func (s *Server) handleEstimateFee(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"amount": types.DefaultFee, "perkb": false})
}

func (s *Server) handleGetCurrentHeight(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	height, err := s.rpc.LatestHeight(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]uint32{"height": height})
}

// handleSync and handleRewind hold dataMutex for their whole duration,
// implementing spec.md §4.7's single-writer gate: both serialize against
// each other and against themselves, while every other handler runs
// concurrently against pooled DB leases.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.dataMutex.Lock()
	defer s.dataMutex.Unlock()

	height, err := s.scanner.ScanChain(r.Context())
	if err != nil {
		s.log.Error("sync failed", "err", err)
		writeError(w, err)
		return
	}
	s.log.Info("sync complete", "height", height)
	writeJSON(w, map[string]uint32{"height": height})
}

type rewindRequest struct {
	Height uint32 `json:"height"`
}

func (s *Server) handleRewind(w http.ResponseWriter, r *http.Request) {
	var req rewindRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	s.dataMutex.Lock()
	defer s.dataMutex.Unlock()

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := s.store.RewindTo(ctx, req.Height); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("rewound", "height", req.Height)
	writeJSON(w, struct{}{})
}

type pubKeyRequest struct {
	Address string `json:"address,omitempty"`
	FVK     string `json:"fvk,omitempty"`
}

func (s *Server) handleImportPublicKey(w http.ResponseWriter, r *http.Request) {
	var req pubKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var id int64
	var err error
	switch {
	case req.Address != "":
		id, err = s.store.ImportAddress(ctx, req.Address)
	case req.FVK != "":
		id, err = s.store.ImportFVK(ctx, req.FVK)
	default:
		writeError(w, errMissingPubKeyVariant)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"id": id})
}

type newAccountRequest struct {
	FVKID int64 `json:"fvk_id"`
}

func (s *Server) handleNewAccount(w http.ResponseWriter, r *http.Request) {
	var req newAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	accountID, address, err := s.store.NextAddressFor(ctx, req.FVKID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.incAccountCount()
	writeJSON(w, map[string]interface{}{"account_id": accountID, "address": address})
}

type batchNewAccountsRequest struct {
	FVKID int64 `json:"fvk_id"`
	Count int   `json:"count"`
}

func (s *Server) handleBatchNewAccounts(w http.ResponseWriter, r *http.Request) {
	var req batchNewAccountsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	for i := 0; i < req.Count; i++ {
		if _, _, err := s.store.NextAddressFor(ctx, req.FVKID); err != nil {
			writeError(w, err)
			return
		}
		s.metrics.incAccountCount()
	}
	writeJSON(w, struct{}{})
}
