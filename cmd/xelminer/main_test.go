package main

import (
	"context"
	"testing"

	"github.com/xelminer/xelminer/internal/xelis"
	"github.com/xelminer/xelminer/pkg/errors"
	"github.com/xelminer/xelminer/pkg/log"
)

// The recorder must run unconfigured: both sinks nil is the default
// deployment and none of the record paths may panic or fail.
func TestRecorder_NilSinks(t *testing.T) {
	logger := log.New("test", "test", "error", "json")
	r := &recorder{logger: logger.WithComponent("recorder")}

	ctx := context.Background()
	sol := &xelis.CandidateSolution{
		Nonce:             42,
		FinalHash:         xelis.Hash{0xbf, 0x2b},
		TemplateTimestamp: 1700000000000,
	}

	r.RecordHashrate(ctx, 1234.5, 100)
	r.RecordSolution(ctx, sol)
	r.RecordSubmission(ctx, sol, xelis.ReturnCodeSuccess, nil)
	r.RecordSubmission(ctx, sol, 0, errors.New(errors.ErrorTypeSubmission, "submit_solution", "wallet unreachable"))
}
