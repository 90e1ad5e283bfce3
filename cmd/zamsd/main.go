// Command zamsd is the ZAMS daemon: it wires the wallet store, node
// client, scanner, planner, tx builder and RPC facade together and
// serves the spec.md §6 interface until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccoin/zams/internal/api"
	"github.com/ccoin/zams/internal/addr"
	"github.com/ccoin/zams/internal/config"
	"github.com/ccoin/zams/internal/keyring"
	"github.com/ccoin/zams/internal/logging"
	"github.com/ccoin/zams/internal/notifier"
	"github.com/ccoin/zams/internal/planner"
	"github.com/ccoin/zams/internal/prover"
	"github.com/ccoin/zams/internal/scanner"
	"github.com/ccoin/zams/internal/signer"
	"github.com/ccoin/zams/internal/store"
	"github.com/ccoin/zams/internal/txbuilder"
	"github.com/ccoin/zams/internal/walletrpc"
)

func main() {
	configPath := flag.String("config", "zams.ini", "path to the INI config file")
	seedPhrase := flag.String("seed-phrase", "", "BIP39 seed phrase for the in-process signing keyring (optional; leave empty to rely solely on cmd/zamssignerd)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zamsd: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := logging.Open(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zamsd: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, *seedPhrase, log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, seedPhrase string, log *logging.Logger) error {
	network := cfg.Network()
	log.Info("starting zamsd", "network", network.String(), "port", cfg.Port)

	deriver := keyring.AddressDeriver{Network: network}
	st, err := store.New(ctx, cfg.ConnectionString, deriver)
	if err != nil {
		return fmt.Errorf("zamsd: open store: %w", err)
	}
	defer st.Close()

	rpc := walletrpc.New(cfg.Zcashd, cfg.RPCUser, cfg.RPCPassword)

	sc := scanner.New(rpc, st, network)
	pl := planner.New(st, addr.Validator{Network: network})

	// The daemon never generates keys through this Registry, so KeyFor
	// fails with keyring.ErrUnknownKey whenever sign_and_broadcast_tx is
	// called, whether or not seedPhrase is set; signing goes through the
	// isolated cmd/zamssignerd process.
	keys := keyring.New(signer.Entropy{SeedPhrase: seedPhrase}, network)
	builder := txbuilder.New(st, rpc, keys, prover.New())

	metrics := &api.Metrics{}
	server := api.New(st, rpc, pl, sc, builder, network, log, metrics)

	notif := notifier.New(st, cfg.NotificationURL, log)
	go notif.Run(ctx, 15*time.Second)

	mainSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: server.Router()}
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: server.MetricsRouter()}

	errCh := make(chan error, 2)
	go func() {
		log.Info("rpc facade listening", "addr", mainSrv.Addr)
		if err := mainSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("zamsd: rpc facade: %w", err)
		}
	}()
	go func() {
		log.Info("metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("zamsd: metrics: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server error, shutting down", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mainSrv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)

	return nil
}
