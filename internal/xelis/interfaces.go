// Interfaces for the miner's external collaborators. Defining these here
// keeps the mining state machine testable against hand-written mocks, the
// same way the pool isolates its upstream RPC behind RPCInterface.
package xelis

import (
	"context"
)

// ChainStateSource provides wholesale snapshots of the contract's mining
// parameters.
type ChainStateSource interface {
	// SyncChainState queries block height, difficulty, and previous hash
	// and assembles a timestamped MiningParameters snapshot.
	SyncChainState(ctx context.Context) (*MiningParameters, error)
}

// SolutionSubmitter broadcasts a candidate solution and surfaces the
// contract's structured return code.
type SolutionSubmitter interface {
	// SubmitSolution submits nonce and template timestamp exactly once and
	// returns the contract return code.
	SubmitSolution(ctx context.Context, nonce, timestamp uint64) (int64, error)
}

// EventSource pushes contract event callbacks until its context is
// cancelled, reconnecting internally on transport failure.
type EventSource interface {
	// SetEventHandler registers the callback for matching contract events.
	SetEventHandler(handler func())

	// Run blocks, delivering events, until ctx is cancelled.
	Run(ctx context.Context) error
}

// Compile-time interface compliance checks
var (
	_ ChainStateSource  = (*RPCClient)(nil)
	_ SolutionSubmitter = (*RPCClient)(nil)
	_ EventSource       = (*EventListener)(nil)
)
