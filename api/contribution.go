// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package api

import (
	"context"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony/upload"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/verify"
)

// ContributionAPI implements PermanentlyStoreCurrentContributionTimeAndHash
// and VerifyContribution (spec §6).
type ContributionAPI struct {
	uploads *upload.Service
	worker  *verify.Worker
}

// NewContributionAPI builds a ContributionAPI.
func NewContributionAPI(uploads *upload.Service, worker *verify.Worker) *ContributionAPI {
	return &ContributionAPI{uploads: uploads, worker: worker}
}

// PermanentlyStoreCurrentContributionTimeAndHash records the client-measured
// computation time ahead of verification (spec §6).
func (c *ContributionAPI) PermanentlyStoreCurrentContributionTimeAndHash(ctx context.Context, circuitID, participantID string, computationTimeMillis int64) error {
	return c.uploads.PermanentlyStoreCurrentContributionTimeAndHash(ctx, circuitID, participantID, computationTimeMillis)
}

// VerifyContribution runs the Verification Worker and returns its outcome
// (spec §6: `{valid, verificationTimeInMillis}`, never an error for a
// merely-invalid contribution — spec §7 is explicit that verification
// failure is a normal return value, not a status code). The CPU-bound
// verification primitive itself may take minutes (spec §5's suspension
// points); internal/taskqueue additionally exposes this worker as a
// machinery task for deployments that want to dispatch it off the request
// goroutine instead of blocking the caller.
func (c *ContributionAPI) VerifyContribution(ctx context.Context, req verify.Request) (*verify.Result, error) {
	return c.worker.Verify(ctx, req)
}
