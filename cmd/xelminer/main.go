// Package main implements the xelminer process: a client that competes to
// solve the proof-of-work puzzle of an on-chain mineable-token contract and
// submits winning solutions through a wallet.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelminer/xelminer/internal/config"
	"github.com/xelminer/xelminer/internal/journal"
	"github.com/xelminer/xelminer/internal/metrics"
	"github.com/xelminer/xelminer/internal/miner"
	"github.com/xelminer/xelminer/internal/xelis"
	"github.com/xelminer/xelminer/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting xelminer",
		"version", cfg.Version,
		"node_rpc", cfg.NodeRPCURL,
		"wallet_rpc", cfg.WalletRPCURL,
		"event_stream", cfg.EventStreamURL,
		"contract", cfg.ContractAddress,
		"event_id", cfg.ContractEventID,
		"max_gas", cfg.MaxGas,
	)

	// The miner address is decoded once; an undecodable address must not
	// start a partially working process.
	address, err := xelis.DecodeAddress(cfg.MinerAddress)
	if err != nil {
		logger.WithError(err).Error("failed to decode miner address")
		os.Exit(1)
	}
	logger.Info("miner address decoded", "address", cfg.MinerAddress, "decoded", address.String())

	// Optional sinks. A broken metrics or journal backend degrades
	// observability, not mining.
	var metricsClient *metrics.Client
	if cfg.InfluxURL != "" {
		metricsClient, err = metrics.NewClient(&metrics.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}, cfg.MinerAddress)
		if err != nil {
			logger.WithError(err).Warn("metrics disabled: InfluxDB unavailable")
			metricsClient = nil
		}
	}
	defer metricsClient.Close()

	var journalClient *journal.Client
	if cfg.RedisURL != "" {
		journalClient, err = journal.NewClient(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("journal disabled: Redis unavailable")
			journalClient = nil
		}
	}
	defer journalClient.Close()

	rpcClient := xelis.NewRPCClient(xelis.RPCConfig{
		NodeURL:        cfg.NodeRPCURL,
		WalletURL:      cfg.WalletRPCURL,
		WalletUser:     cfg.WalletRPCUser,
		WalletPassword: cfg.WalletRPCPass,
		Contract:       cfg.ContractAddress,
		SubmitEntryID:  cfg.SubmitEntryID,
		MaxGas:         cfg.MaxGas,
		RequestTimeout: cfg.RPCTimeout,
	})

	coord := miner.NewCoordinator()

	listener := xelis.NewEventListener(cfg.EventStreamURL, cfg.ContractAddress, cfg.ContractEventID, cfg.ReconnectDelay, logger)
	listener.SetEventHandler(coord.ConfirmationReceived)
	listener.SetReconnectHook(metricsClient.WriteReconnect)

	mineLoop := miner.New(
		&miner.Config{
			ReportInterval:  cfg.ReportInterval,
			RefreshInterval: cfg.RefreshInterval,
			SyncRetryDelay:  cfg.SyncRetryDelay,
			CheckInterval:   miner.DefaultConfig().CheckInterval,
		},
		logger,
		coord,
		rpcClient,
		rpcClient,
		address,
		&recorder{metrics: metricsClient, journal: journalClient, logger: logger.WithComponent("recorder")},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Event listener: I/O-bound, reconnects forever.
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("event listener stopped unexpectedly")
			cancel()
		}
	}()

	// Miner loop: CPU-bound. A nil result means mining completed cleanly
	// (supply exhausted).
	minerDone := make(chan error, 1)
	minerExited := make(chan struct{})
	go func() {
		defer close(minerExited)
		minerDone <- mineLoop.Run(ctx)
	}()

	exitCode := 0
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-minerDone:
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("miner loop failed")
			exitCode = 1
		} else if err == nil {
			logger.Info("mining complete")
		}
	}

	cancel()

	// Bounded wait for both workers to observe the shutdown.
	shutdownTimer := time.NewTimer(10 * time.Second)
	defer shutdownTimer.Stop()
	for _, done := range []<-chan struct{}{listenerDone, minerExited} {
		select {
		case <-done:
		case <-shutdownTimer.C:
			logger.Warn("shutdown timed out waiting for workers")
		}
	}

	metricsClient.Flush()
	logger.Info("xelminer stopped")
	os.Exit(exitCode)
}

// recorder fans miner observations out to the optional metrics and journal
// sinks. Both sinks are nil-safe; journal write failures are logged and
// dropped.
type recorder struct {
	metrics *metrics.Client
	journal *journal.Client
	logger  *log.Logger
}

// RecordHashrate implements miner.Recorder.
func (r *recorder) RecordHashrate(_ context.Context, hashrate float64, blockHeight uint64) {
	r.metrics.WriteHashrate(hashrate, blockHeight)
}

// RecordSolution implements miner.Recorder.
func (r *recorder) RecordSolution(_ context.Context, sol *xelis.CandidateSolution) {
	r.metrics.WriteSolution(sol.Nonce, sol.FinalHash.String())
}

// RecordSubmission implements miner.Recorder.
func (r *recorder) RecordSubmission(ctx context.Context, sol *xelis.CandidateSolution, code int64, submitErr error) {
	r.metrics.WriteSubmission(code, submitErr != nil)

	entry := &journal.Entry{
		Nonce:             sol.Nonce,
		FinalHash:         sol.FinalHash.String(),
		TemplateTimestamp: sol.TemplateTimestamp,
		SubmittedAt:       time.Now(),
	}
	if submitErr != nil {
		entry.TransportError = submitErr.Error()
	} else {
		entry.ReturnCode = &code
	}

	if err := r.journal.RecordSubmission(ctx, entry); err != nil {
		r.logger.WithError(err).Warn("failed to journal submission")
	}
}
