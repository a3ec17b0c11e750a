// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/queue"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/state"
	"github.com/ethereum/zk-ceremony-coordinator/store/object/objecttest"
	"github.com/ethereum/zk-ceremony-coordinator/store/record/recordtest"
)

func TestSetupCeremonyRejectsDuplicatePrefix(t *testing.T) {
	records := recordtest.New()
	objects := objecttest.New()
	q := queue.New(records)
	a := NewCeremonyAPI(Config{
		Records: records, Objects: objects, Machine: state.New(records, q), Queue: q,
		BucketForCeremony: func(prefix string) string { return "bucket-" + prefix },
	})
	ctx := context.Background()

	id, err := a.SetupCeremony(ctx, "cer1", "Title", "Desc", 0, 1<<40,
		ceremony.Groth16Phase2, ceremony.TimeoutDynamic, 10,
		[]CircuitSpec{{Prefix: "circuit1", SequencePosition: 1}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = a.SetupCeremony(ctx, "cer1", "Title2", "Desc2", 0, 1<<40,
		ceremony.Groth16Phase2, ceremony.TimeoutDynamic, 10,
		[]CircuitSpec{{Prefix: "circuit1", SequencePosition: 1}})
	require.Error(t, err)
}

func TestSetupCeremonyRejectsUnsupportedProtocol(t *testing.T) {
	records := recordtest.New()
	objects := objecttest.New()
	q := queue.New(records)
	a := NewCeremonyAPI(Config{
		Records: records, Objects: objects, Machine: state.New(records, q), Queue: q,
		BucketForCeremony: func(prefix string) string { return "bucket-" + prefix },
	})
	_, err := a.SetupCeremony(context.Background(), "cer2", "Title", "Desc", 0, 1<<40,
		ceremony.PlonkPhase1, ceremony.TimeoutDynamic, 10, []CircuitSpec{{Prefix: "circuit1"}})
	require.Error(t, err)
}

func TestCreateBucketProvisionsArtifactStoreBucket(t *testing.T) {
	records := recordtest.New()
	objects := objecttest.New()
	q := queue.New(records)
	a := NewCeremonyAPI(Config{
		Records: records, Objects: objects, Machine: state.New(records, q), Queue: q,
		BucketForCeremony: func(prefix string) string { return "bucket-" + prefix },
	})
	ctx := context.Background()

	id, err := a.SetupCeremony(ctx, "cer3", "Title", "Desc", 0, 1<<40,
		ceremony.Groth16Phase2, ceremony.TimeoutDynamic, 10, []CircuitSpec{{Prefix: "circuit1"}})
	require.NoError(t, err)

	bucket, err := a.CreateBucket(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "bucket-cer3", bucket)

	_, err = a.CreateBucket(ctx, id)
	require.Error(t, err) // already exists
}
