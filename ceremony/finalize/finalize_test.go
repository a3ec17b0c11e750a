// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package finalize

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/internal/zkcrypto"
	"github.com/ethereum/zk-ceremony-coordinator/store/object/objecttest"
	"github.com/ethereum/zk-ceremony-coordinator/store/record/recordtest"
)

func setup(t *testing.T) (*recordtest.Store, *objecttest.Store, *Service) {
	t.Helper()
	records := recordtest.New()
	objects := objecttest.New()
	require.NoError(t, objects.CreateBucket(context.Background(), "bucket-cer1"))

	b := records.NewBatch()
	b.Set("ceremonies", "cer1", &ceremony.Ceremony{ID: "cer1", Prefix: "cer1", State: ceremony.CeremonyClosed})
	b.Set("circuits", "c1", &ceremony.Circuit{
		ID: "c1", CeremonyID: "cer1", Prefix: "circuit1",
		WaitingQueue: ceremony.WaitingQueue{CompletedContributions: 1},
	})
	require.NoError(t, b.Commit(context.Background()))
	require.NoError(t, objects.Upload(context.Background(), "bucket-cer1",
		"cer1/circuits/circuit1/contributions/circuit1_00001.zkey", bytes.NewReader([]byte("last-contributor-zkey"))))

	svc := New(Config{
		Records:           records,
		Objects:           objects,
		Engine:            zkcrypto.NewGnarkEngine(),
		BucketForCeremony: func(prefix string) string { return "bucket-" + prefix },
		ZkeyIndexWidth:    5,
	})
	return records, objects, svc
}

func TestFinalizeCircuitProducesFinalContribution(t *testing.T) {
	records, objects, svc := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.FinalizeCircuit(ctx, "cer1", "c1", []byte("public-randomness-beacon")))

	var contributions []ceremony.Contribution
	require.NoError(t, records.List(ctx, "contributions", map[string]any{"circuitId": "c1", "zkeyIndex": ceremony.FinalZkeyIndex}, &contributions))
	require.Len(t, contributions, 1)
	require.True(t, contributions[0].Valid)
	require.True(t, contributions[0].IsFinal())
	require.NotNil(t, contributions[0].Beacon)

	exists, err := objects.Exists(ctx, "bucket-cer1", "cer1/circuits/circuit1/circuit1_verification_key.json")
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = objects.Exists(ctx, "bucket-cer1", "cer1/circuits/circuit1/circuit1_verifier.sol")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestFinalizeCircuitIsIdempotent(t *testing.T) {
	_, _, svc := setup(t)
	ctx := context.Background()
	require.NoError(t, svc.FinalizeCircuit(ctx, "cer1", "c1", []byte("beacon")))
	require.NoError(t, svc.FinalizeCircuit(ctx, "cer1", "c1", []byte("beacon")))
}

func TestFinalizeCeremonyRequiresEveryCircuitFinalized(t *testing.T) {
	records, _, svc := setup(t)
	ctx := context.Background()

	err := svc.FinalizeCeremony(ctx, "cer1")
	require.Error(t, err)

	require.NoError(t, svc.FinalizeCircuit(ctx, "cer1", "c1", []byte("beacon")))
	require.NoError(t, svc.FinalizeCeremony(ctx, "cer1"))

	var cer ceremony.Ceremony
	require.NoError(t, records.Get(ctx, "ceremonies", "cer1", &cer))
	require.Equal(t, ceremony.CeremonyFinalized, cer.State)
}
