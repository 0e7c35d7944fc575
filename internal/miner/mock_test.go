package miner

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/xelminer/xelminer/internal/xelis"
)

// mockChain serves scripted MiningParameters snapshots.
type mockChain struct {
	mu    sync.Mutex
	calls int

	// failures is the number of leading calls that return err.
	failures int
	err      error

	params func(call int) *xelis.MiningParameters
}

func (m *mockChain) SyncChainState(context.Context) (*xelis.MiningParameters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls <= m.failures {
		return nil, m.err
	}
	return m.params(m.calls), nil
}

func (m *mockChain) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockSubmitter records submissions and answers from a scripted response
// function.
type mockSubmitter struct {
	mu    sync.Mutex
	calls []submission

	respond func(call int, nonce, timestamp uint64) (int64, error)

	// submitted receives one value per call, for synchronization.
	submitted chan submission
}

type submission struct {
	Nonce     uint64
	Timestamp uint64
}

func newMockSubmitter(respond func(call int, nonce, timestamp uint64) (int64, error)) *mockSubmitter {
	return &mockSubmitter{
		respond:   respond,
		submitted: make(chan submission, 16),
	}
}

func (m *mockSubmitter) SubmitSolution(_ context.Context, nonce, timestamp uint64) (int64, error) {
	m.mu.Lock()
	sub := submission{Nonce: nonce, Timestamp: timestamp}
	m.calls = append(m.calls, sub)
	call := len(m.calls)
	m.mu.Unlock()

	m.submitted <- sub
	return m.respond(call, nonce, timestamp)
}

func (m *mockSubmitter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// countingRecorder counts observations without inspecting them.
type countingRecorder struct {
	hashrates   atomic.Int64
	solutions   atomic.Int64
	submissions atomic.Int64
}

func (r *countingRecorder) RecordHashrate(context.Context, float64, uint64) {
	r.hashrates.Add(1)
}

func (r *countingRecorder) RecordSolution(context.Context, *xelis.CandidateSolution) {
	r.solutions.Add(1)
}

func (r *countingRecorder) RecordSubmission(context.Context, *xelis.CandidateSolution, int64, error) {
	r.submissions.Add(1)
}

// easyParams returns a snapshot with difficulty one, which every nonce
// solves.
func easyParams(height uint64) *xelis.MiningParameters {
	return &xelis.MiningParameters{
		BlockHeight:       height,
		Difficulty:        big.NewInt(1),
		PreviousHash:      xelis.Hash{},
		TemplateTimestamp: 1700000000000 + height,
	}
}

// hardParams returns a snapshot no realistic search will ever solve.
func hardParams(height uint64) *xelis.MiningParameters {
	return &xelis.MiningParameters{
		BlockHeight:       height,
		Difficulty:        new(big.Int).Lsh(big.NewInt(1), 240),
		PreviousHash:      xelis.Hash{},
		TemplateTimestamp: 1700000000000 + height,
	}
}
