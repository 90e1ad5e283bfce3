// Command zamssignerd is the isolated signer process (spec.md §4.6 /
// §5 "Signer isolation"): it exposes GetVersion, GenerateTransparentKey,
// GenerateShieldedKey and SignTx over HTTP+JSON, with key derivation
// entropy supplied in each request. It imports no store, no pgx and
// keeps no wallet state of any kind.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ccoin/zams/internal/logging"
	"github.com/ccoin/zams/internal/prover"
	"github.com/ccoin/zams/internal/signer"
	"github.com/ccoin/zams/pkg/types"
	"github.com/ccoin/zams/pkg/walletpb"
)

const version = "zams-signer-0.1.0"

func main() {
	port := flag.Int("port", 8233, "listen port (spec.md §6: typically main_port+1)")
	network := flag.String("network", "mainnet", "mainnet or testnet")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logging.New(logging.ParseLevel(*logLevel), os.Stdout)

	net := types.Mainnet
	if *network == "testnet" {
		net = types.Testnet
	}

	s := &signerServer{network: net, prover: prover.New(), log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/get_version", s.handleGetVersion)
	mux.HandleFunc("/generate_transparent_key", s.handleGenerateTransparentKey)
	mux.HandleFunc("/generate_shielded_key", s.handleGenerateShieldedKey)
	mux.HandleFunc("/sign_tx", s.handleSignTx)

	addr := fmt.Sprintf(":%d", *port)
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		srv.Shutdown(context.Background())
		cancel()
	}()

	log.Info("zamssignerd listening", "addr", addr, "network", net.String())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
	<-ctx.Done()
}

// signerServer holds no wallet state: entropy arrives with every
// request, never persisted (spec.md §5 "each call is pure with respect
// to process state").
type signerServer struct {
	network types.Network
	prover  *prover.Prover
	log     *logging.Logger
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *signerServer) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": version})
}

type entropyRequest struct {
	SeedPhrase string `json:"seed_phrase,omitempty"`
	HexSeed    string `json:"hex_seed,omitempty"`
	Path       string `json:"path"`
}

func (s *signerServer) handleGenerateTransparentKey(w http.ResponseWriter, r *http.Request) {
	var req entropyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tk, err := signer.GenerateTransparentKey(signer.Entropy{SeedPhrase: req.SeedPhrase, HexSeed: req.HexSeed}, req.Path, s.network)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]string{"address": tk.Address})
}

func (s *signerServer) handleGenerateShieldedKey(w http.ResponseWriter, r *http.Request) {
	var req entropyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sk, err := signer.GenerateShieldedKey(signer.Entropy{SeedPhrase: req.SeedPhrase, HexSeed: req.HexSeed}, req.Path, s.network)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]string{"fvk": sk.FVK})
}

// signTxRequest bundles the unsigned descriptor with whichever key
// material the caller holds for its source account, re-derived by path
// here rather than transmitted as raw key bytes.
type signTxRequest struct {
	Unsigned        *walletpb.UnsignedTx `json:"unsigned"`
	TransparentPath string               `json:"transparent_path,omitempty"`
	ShieldedPath    string               `json:"shielded_path,omitempty"`
	SeedPhrase      string               `json:"seed_phrase,omitempty"`
	HexSeed         string               `json:"hex_seed,omitempty"`
}

func (s *signerServer) handleSignTx(w http.ResponseWriter, r *http.Request) {
	var req signTxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Unsigned == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("zamssignerd: missing unsigned tx"))
		return
	}

	entropy := signer.Entropy{SeedPhrase: req.SeedPhrase, HexSeed: req.HexSeed}
	var sk signer.SigningKey
	if req.TransparentPath != "" {
		tk, err := signer.GenerateTransparentKey(entropy, req.TransparentPath, s.network)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sk.Transparent = tk
	}
	if req.ShieldedPath != "" {
		shk, err := signer.GenerateShieldedKey(entropy, req.ShieldedPath, s.network)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sk.Shielded = shk
	}

	signed, err := signer.SignTx(r.Context(), sk, s.prover, req.Unsigned)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, signed)
}
