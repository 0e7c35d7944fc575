package miner

import (
	"context"
	"math/big"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/xelminer/xelminer/internal/xelis"
	"github.com/xelminer/xelminer/pkg/errors"
	"github.com/xelminer/xelminer/pkg/log"
)

// State identifies the miner loop's current position in its state machine.
type State int32

const (
	// StateIdle - blocked waiting for the resume signal
	StateIdle State = iota
	// StateSyncing - refreshing mining parameters from the chain
	StateSyncing
	// StateSearching - iterating nonces against the current header digest
	StateSearching
	// StateAwaitingConfirmation - submitted, blocked until the contract event
	StateAwaitingConfirmation
	// StateTerminated - supply exhausted, mining is complete
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateSearching:
		return "searching"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config holds miner loop tuning.
type Config struct {
	// ReportInterval is how often a hashrate sample is emitted while searching.
	ReportInterval time.Duration
	// RefreshInterval bounds how long a search may run on one parameter
	// snapshot before a refresh is forced.
	RefreshInterval time.Duration
	// SyncRetryDelay is the wait between failed chain-state refreshes.
	SyncRetryDelay time.Duration
	// CheckInterval is the number of hash attempts between signal and
	// shutdown checks. The inner loop takes no locks.
	CheckInterval uint64
}

// DefaultConfig returns the standard miner loop tuning.
func DefaultConfig() *Config {
	return &Config{
		ReportInterval:  10 * time.Second,
		RefreshInterval: 10 * time.Second,
		SyncRetryDelay:  5 * time.Second,
		CheckInterval:   32768,
	}
}

// Recorder receives mining observations. Implementations must be cheap and
// must never block the search loop for long.
type Recorder interface {
	// RecordHashrate records one hashrate sample for the current search.
	RecordHashrate(ctx context.Context, hashrate float64, blockHeight uint64)

	// RecordSolution records a candidate solution the instant it is found.
	RecordSolution(ctx context.Context, sol *xelis.CandidateSolution)

	// RecordSubmission records a submission attempt and its outcome. code is
	// only meaningful when submitErr is nil.
	RecordSubmission(ctx context.Context, sol *xelis.CandidateSolution, code int64, submitErr error)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

// RecordHashrate implements Recorder.
func (NopRecorder) RecordHashrate(context.Context, float64, uint64) {}

// RecordSolution implements Recorder.
func (NopRecorder) RecordSolution(context.Context, *xelis.CandidateSolution) {}

// RecordSubmission implements Recorder.
func (NopRecorder) RecordSubmission(context.Context, *xelis.CandidateSolution, int64, error) {}

// Miner is the mining state machine. It owns the MiningParameters snapshot
// and the miner address; it shares only the Coordinator with the event
// listener.
type Miner struct {
	cfg       *Config
	logger    *log.Logger
	coord     *Coordinator
	chain     xelis.ChainStateSource
	submitter xelis.SolutionSubmitter
	address   xelis.MinerAddress
	recorder  Recorder

	state atomic.Int32

	// startNonce picks the initial nonce for a search cycle. Pseudo-random
	// restart entropy only; overridable in tests.
	startNonce func() uint64
}

// New creates a miner loop.
func New(cfg *Config, logger *log.Logger, coord *Coordinator, chain xelis.ChainStateSource, submitter xelis.SolutionSubmitter, address xelis.MinerAddress, recorder Recorder) *Miner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}

	return &Miner{
		cfg:        cfg,
		logger:     logger.WithComponent("miner"),
		coord:      coord,
		chain:      chain,
		submitter:  submitter,
		address:    address,
		recorder:   recorder,
		startNonce: rand.Uint64,
	}
}

// State returns the miner's current state.
func (m *Miner) State() State {
	return State(m.state.Load())
}

func (m *Miner) setState(s State) {
	m.state.Store(int32(s))
}

// Run drives the state machine until ctx is cancelled or mining completes.
// It returns nil on supply exhaustion (clean completion), ctx.Err() on
// shutdown, and a validation error only for the defensive non-positive
// difficulty check.
func (m *Miner) Run(ctx context.Context) error {
	m.logger.Info("miner loop starting", "address", m.address.String())

	for {
		if m.coord.AwaitingConfirmation() {
			m.setState(StateAwaitingConfirmation)
		} else {
			m.setState(StateIdle)
		}
		if err := m.waitSearchable(ctx); err != nil {
			return err
		}

		m.setState(StateSyncing)
		params, err := m.chain.SyncChainState(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.WithError(err).Warn("chain state refresh failed, retrying",
				"retry_delay", m.cfg.SyncRetryDelay.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.cfg.SyncRetryDelay):
			}
			continue
		}

		target, err := xelis.TargetFromDifficulty(params.Difficulty)
		if err != nil {
			// A non-positive chain-reported difficulty is a chain-state
			// inconsistency operators must investigate. Fatal.
			return errors.Wrap(err, errors.ErrorTypeValidation, "miner_run",
				"chain reported a non-positive difficulty")
		}

		// Parameters captured: lower the resume signal and search.
		m.coord.ClearResume()

		done, err := m.search(ctx, params, target)
		if err != nil {
			return err
		}
		if done {
			m.setState(StateTerminated)
			m.logger.Info("maximum supply reached, mining complete")
			return nil
		}
	}
}

// waitSearchable blocks until the resume signal is raised with no
// confirmation pending. While a confirmation is pending it emits a stall
// warning every refresh interval, so an event the node failed to deliver is
// visible to operators.
func (m *Miner) waitSearchable(ctx context.Context) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, m.cfg.RefreshInterval)
		err := m.coord.WaitResume(waitCtx)
		cancel()

		if err == nil {
			if m.coord.consumeIfSearchable() {
				return nil
			}
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if m.coord.AwaitingConfirmation() {
			m.logger.Warn("still awaiting confirmation event",
				"waited_at_least", m.cfg.RefreshInterval.String())
		}
	}
}

// search iterates nonces against one parameter snapshot. It returns
// done=true when the contract reported supply exhaustion. A false return
// with nil error means the search was interrupted (forced refresh or
// confirmation handling) and the state machine should continue.
func (m *Miner) search(ctx context.Context, params *xelis.MiningParameters, target *big.Int) (bool, error) {
	header := xelis.HeaderDigest(params.BlockHeight, m.address, params.Difficulty, params.PreviousHash, params.TemplateTimestamp)
	targetBytes := xelis.TargetBytes(target)
	hasher := xelis.NewNonceHasher(header)
	nonce := m.startNonce()

	m.setState(StateSearching)
	m.logger.LogSearchStarted(params.BlockHeight, params.Difficulty.String(), params.PreviousHash.String())

	searchStart := time.Now()
	lastReport := searchStart
	var hashes uint64

	for {
		// Hot loop: no locks, no clock reads.
		for i := uint64(0); i < m.cfg.CheckInterval; i++ {
			final := hasher.FinalHash(nonce)
			hashes++

			if xelis.MeetsTarget(final, &targetBytes) {
				sol := &xelis.CandidateSolution{
					Nonce:             nonce,
					HeaderDigest:      header,
					FinalHash:         final,
					TemplateTimestamp: params.TemplateTimestamp,
				}
				return m.handleSolution(ctx, params, sol)
			}

			nonce++ // wraps mod 2^64
		}

		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if m.coord.ResumeRequested() {
			return false, nil
		}

		now := time.Now()
		if now.Sub(lastReport) >= m.cfg.ReportInterval {
			elapsed := now.Sub(searchStart).Seconds()
			m.logger.LogHashrate(hashes, elapsed, nonce)
			m.recorder.RecordHashrate(ctx, float64(hashes)/elapsed, params.BlockHeight)
			lastReport = now
		}
		if now.Sub(searchStart) >= m.cfg.RefreshInterval {
			// The snapshot has outlived its freshness bound; force a refresh.
			m.coord.SignalResume()
		}
	}
}

// handleSolution submits a found solution exactly once and transitions to
// AwaitingConfirmation. Submission transport failures and contract
// rejections are logged and swallowed; the contract itself decides whether
// the solution counted, and the confirmation event drives what happens
// next. Only the supply-exhausted return code stops mining.
func (m *Miner) handleSolution(ctx context.Context, params *xelis.MiningParameters, sol *xelis.CandidateSolution) (bool, error) {
	m.logger.LogSolutionFound(sol.Nonce, sol.FinalHash.String(), params.BlockHeight)
	m.recorder.RecordSolution(ctx, sol)

	code, err := m.submitter.SubmitSolution(ctx, sol.Nonce, sol.TemplateTimestamp)
	m.recorder.RecordSubmission(ctx, sol, code, err)

	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		m.logger.WithError(err).Error("submission failed, continuing to mine")
	} else {
		m.logger.LogSubmissionResult(sol.Nonce, code, xelis.ReturnCodeMeaning(code))

		if code == xelis.ReturnCodeSupplyReached {
			return true, nil
		}
	}

	m.coord.BeginAwaitConfirmation()
	m.setState(StateAwaitingConfirmation)

	return false, nil
}
