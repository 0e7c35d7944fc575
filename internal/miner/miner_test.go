package miner

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xelminer/xelminer/internal/xelis"
	"github.com/xelminer/xelminer/pkg/errors"
	"github.com/xelminer/xelminer/pkg/log"
)

func testLogger() *log.Logger {
	return log.New("test", "test", "error", "text")
}

// fastConfig keeps all loop timings short enough for tests.
func fastConfig() *Config {
	return &Config{
		ReportInterval:  50 * time.Millisecond,
		RefreshInterval: 30 * time.Millisecond,
		SyncRetryDelay:  5 * time.Millisecond,
		CheckInterval:   64,
	}
}

func testAddress() xelis.MinerAddress {
	var addr xelis.MinerAddress
	addr[1] = 0xae
	return addr
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateSyncing, "syncing"},
		{StateSearching, "searching"},
		{StateAwaitingConfirmation, "awaiting_confirmation"},
		{StateTerminated, "terminated"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestMiner_SubmitsExactlyOnceThenAwaits(t *testing.T) {
	chain := &mockChain{params: func(int) *xelis.MiningParameters { return easyParams(100) }}
	submitter := newMockSubmitter(func(int, uint64, uint64) (int64, error) {
		return xelis.ReturnCodeSuccess, nil
	})
	recorder := &countingRecorder{}
	coord := NewCoordinator()

	m := New(fastConfig(), testLogger(), coord, chain, submitter, testAddress(), recorder)
	m.startNonce = func() uint64 { return 12345 }

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	var sub submission
	select {
	case sub = <-submitter.submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the submission")
	}

	// Difficulty one accepts the very first nonce tried.
	if sub.Nonce != 12345 {
		t.Errorf("submitted nonce = %d, want 12345", sub.Nonce)
	}
	if sub.Timestamp != easyParams(100).TemplateTimestamp {
		t.Errorf("submitted timestamp = %d, want %d", sub.Timestamp, easyParams(100).TemplateTimestamp)
	}

	// With no confirmation event the miner must stay blocked: no second
	// submission, even across several forced-refresh intervals.
	time.Sleep(120 * time.Millisecond)
	if got := submitter.callCount(); got != 1 {
		t.Errorf("submission count = %d, want exactly 1", got)
	}
	if got := m.State(); got != StateAwaitingConfirmation {
		t.Errorf("state = %s, want %s", got, StateAwaitingConfirmation)
	}
	if got := recorder.solutions.Load(); got != 1 {
		t.Errorf("recorded solutions = %d, want 1", got)
	}
	if got := recorder.submissions.Load(); got != 1 {
		t.Errorf("recorded submissions = %d, want 1", got)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestMiner_TerminatesWhenSupplyExhausted(t *testing.T) {
	chain := &mockChain{params: func(int) *xelis.MiningParameters { return easyParams(200) }}
	submitter := newMockSubmitter(func(int, uint64, uint64) (int64, error) {
		return xelis.ReturnCodeSupplyReached, nil
	})
	coord := NewCoordinator()

	m := New(fastConfig(), testLogger(), coord, chain, submitter, testAddress(), nil)

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(context.Background()) }()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned %v, want nil on supply exhaustion", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not terminate on supply exhaustion")
	}

	if got := m.State(); got != StateTerminated {
		t.Errorf("state = %s, want %s", got, StateTerminated)
	}
	if got := submitter.callCount(); got != 1 {
		t.Errorf("submission count = %d, want 1", got)
	}
}

func TestMiner_ResumesAfterConfirmation(t *testing.T) {
	chain := &mockChain{params: func(call int) *xelis.MiningParameters { return easyParams(uint64(call)) }}
	submitter := newMockSubmitter(func(call int, _, _ uint64) (int64, error) {
		if call == 1 {
			return xelis.ReturnCodePoWRejected, nil
		}
		return xelis.ReturnCodeSupplyReached, nil
	})
	coord := NewCoordinator()

	m := New(fastConfig(), testLogger(), coord, chain, submitter, testAddress(), nil)

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(context.Background()) }()

	select {
	case <-submitter.submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first submission")
	}

	// A rejected submission still awaits its confirmation event; the
	// contract event is what tells the miner the round is settled.
	deadline := time.After(5 * time.Second)
	for !coord.AwaitingConfirmation() {
		select {
		case <-deadline:
			t.Fatal("miner never entered the awaiting-confirmation state")
		case <-time.After(time.Millisecond):
		}
	}

	coord.ConfirmationReceived()

	select {
	case <-submitter.submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not resume searching after the confirmation event")
	}

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not terminate")
	}

	if got := submitter.callCount(); got != 2 {
		t.Errorf("submission count = %d, want 2", got)
	}
	if got := chain.callCount(); got != 2 {
		t.Errorf("chain sync count = %d, want 2 (one per search cycle)", got)
	}
}

func TestMiner_RetriesFailedSync(t *testing.T) {
	chain := &mockChain{
		failures: 2,
		err: errors.New(errors.ErrorTypeChainSync, "sync_chain_state",
			"node unavailable"),
		params: func(int) *xelis.MiningParameters { return easyParams(300) },
	}
	submitter := newMockSubmitter(func(int, uint64, uint64) (int64, error) {
		return xelis.ReturnCodeSupplyReached, nil
	})
	coord := NewCoordinator()

	m := New(fastConfig(), testLogger(), coord, chain, submitter, testAddress(), nil)

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(context.Background()) }()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not recover from sync failures")
	}

	if got := chain.callCount(); got != 3 {
		t.Errorf("chain sync count = %d, want 3 (two failures, one success)", got)
	}
}

func TestMiner_FatalOnNonPositiveDifficulty(t *testing.T) {
	chain := &mockChain{params: func(int) *xelis.MiningParameters {
		params := easyParams(400)
		params.Difficulty.SetInt64(0)
		return params
	}}
	submitter := newMockSubmitter(func(int, uint64, uint64) (int64, error) {
		t.Error("no submission expected with an invalid difficulty")
		return 0, nil
	})
	coord := NewCoordinator()

	m := New(fastConfig(), testLogger(), coord, chain, submitter, testAddress(), nil)

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(context.Background()) }()

	select {
	case err := <-runDone:
		if err == nil {
			t.Fatal("Run must fail on a non-positive difficulty")
		}
		if !errors.IsType(err, errors.ErrorTypeValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not fail on a non-positive difficulty")
	}
}

func TestMiner_ForcedRefreshResyncsParameters(t *testing.T) {
	chain := &mockChain{params: func(call int) *xelis.MiningParameters { return hardParams(uint64(call)) }}
	submitter := newMockSubmitter(func(int, uint64, uint64) (int64, error) {
		t.Error("no submission expected at an unreachable difficulty")
		return 0, nil
	})
	coord := NewCoordinator()

	m := New(fastConfig(), testLogger(), coord, chain, submitter, testAddress(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	// At an unreachable difficulty the only way parameters refresh is the
	// freshness bound forcing a resync.
	deadline := time.After(5 * time.Second)
	for chain.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("chain synced only %d times; forced refresh is not firing", chain.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-runDone:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestMiner_TransportFailureDoesNotStopMining(t *testing.T) {
	chain := &mockChain{params: func(call int) *xelis.MiningParameters { return easyParams(uint64(call)) }}
	submitter := newMockSubmitter(func(call int, _, _ uint64) (int64, error) {
		if call == 1 {
			return 0, errors.New(errors.ErrorTypeSubmission, "submit_solution",
				"wallet unreachable")
		}
		return xelis.ReturnCodeSupplyReached, nil
	})
	coord := NewCoordinator()

	m := New(fastConfig(), testLogger(), coord, chain, submitter, testAddress(), nil)

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(context.Background()) }()

	select {
	case <-submitter.submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first submission")
	}

	// Even a failed submission awaits its event: the transaction may have
	// reached the chain despite the transport error.
	deadline := time.After(5 * time.Second)
	for !coord.AwaitingConfirmation() {
		select {
		case <-deadline:
			t.Fatal("miner did not await confirmation after a transport failure")
		case <-time.After(time.Millisecond):
		}
	}

	coord.ConfirmationReceived()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not terminate after recovering from the transport failure")
	}

	if got := submitter.callCount(); got != 2 {
		t.Errorf("submission count = %d, want 2", got)
	}
}

// TestMiner_NeverSubmitsWhileAwaiting races the miner against a listener
// firing confirmation events at random and checks the submission gate: a new
// submission may only begin while no confirmation is pending.
func TestMiner_NeverSubmitsWhileAwaiting(t *testing.T) {
	coord := NewCoordinator()

	var violations atomic.Int64
	chain := &mockChain{params: func(call int) *xelis.MiningParameters { return easyParams(uint64(call)) }}
	submitter := newMockSubmitter(func(int, uint64, uint64) (int64, error) {
		if coord.AwaitingConfirmation() {
			violations.Add(1)
		}
		return xelis.ReturnCodeSuccess, nil
	})

	m := New(fastConfig(), testLogger(), coord, chain, submitter, testAddress(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	// Fire confirmations at random intervals, racing the miner's own
	// transitions.
	confirmDone := make(chan struct{})
	go func() {
		defer close(confirmDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(rand.Intn(3)) * time.Millisecond):
				coord.ConfirmationReceived()
			}
		}
	}()

	// Drain submissions so the mock channel never blocks the miner.
	var submissions int
	timeout := time.After(300 * time.Millisecond)
drain:
	for {
		select {
		case <-submitter.submitted:
			submissions++
		case <-timeout:
			break drain
		}
	}

	cancel()
	<-confirmDone
	select {
	case err := <-runDone:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if violations.Load() != 0 {
		t.Errorf("observed %d submissions while a confirmation was pending", violations.Load())
	}
	if submissions < 2 {
		t.Errorf("expected repeated submit/confirm cycles, got %d submissions", submissions)
	}
}
