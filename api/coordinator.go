// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package api

import (
	"context"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony/finalize"
)

// CoordinatorAPI implements the coordinator-only FinalizeCircuit and
// FinalizeCeremony entry points (spec §4.6, §6).
type CoordinatorAPI struct {
	finalizer *finalize.Service
}

// NewCoordinatorAPI builds a CoordinatorAPI.
func NewCoordinatorAPI(finalizer *finalize.Service) *CoordinatorAPI {
	return &CoordinatorAPI{finalizer: finalizer}
}

// FinalizeCircuit runs a circuit's beacon contribution and export (spec §6).
func (c *CoordinatorAPI) FinalizeCircuit(ctx context.Context, ceremonyID, circuitID string, beaconValue []byte) error {
	return c.finalizer.FinalizeCircuit(ctx, ceremonyID, circuitID, beaconValue)
}

// FinalizeCeremony flips a ceremony to FINALIZED once every circuit is done (spec §6).
func (c *CoordinatorAPI) FinalizeCeremony(ctx context.Context, ceremonyID string) error {
	return c.finalizer.FinalizeCeremony(ctx, ceremonyID)
}
