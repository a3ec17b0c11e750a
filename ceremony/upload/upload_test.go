// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package upload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/store/object"
	"github.com/ethereum/zk-ceremony-coordinator/store/object/objecttest"
	"github.com/ethereum/zk-ceremony-coordinator/store/record/recordtest"
)

const slot = "cer1/circuits/circuit1/contributions/circuit1_00001.zkey"

func setup(t *testing.T) (*recordtest.Store, *objecttest.Store, *Service) {
	t.Helper()
	records := recordtest.New()
	objects := objecttest.New()
	require.NoError(t, objects.CreateBucket(context.Background(), "bucket-cer1"))

	b := records.NewBatch()
	b.Set("ceremonies", "cer1", &ceremony.Ceremony{ID: "cer1", Prefix: "cer1"})
	b.Set("circuits", "c1", &ceremony.Circuit{
		ID: "c1", CeremonyID: "cer1", Prefix: "circuit1",
		WaitingQueue: ceremony.WaitingQueue{CurrentContributor: "alice"},
	})
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice", CeremonyID: "cer1"})
	require.NoError(t, b.Commit(context.Background()))

	svc := New(Config{
		Records:           records,
		Objects:           objects,
		BucketForCeremony: func(prefix string) string { return "bucket-" + prefix },
		ZkeyIndexWidth:    5,
	})
	return records, objects, svc
}

func TestMultiPartUploadRoundTrip(t *testing.T) {
	records, objects, svc := setup(t)
	ctx := context.Background()

	uploadID, err := svc.StartMultiPartUpload(ctx, "cer1", "c1", "alice", slot)
	require.NoError(t, err)
	require.NotEmpty(t, uploadID)

	var participant ceremony.Participant
	require.NoError(t, records.Get(ctx, "participants", "alice", &participant))
	require.Equal(t, uploadID, participant.TempContributionData.UploadID)

	urls, err := svc.GeneratePreSignedUrlsParts(ctx, "cer1", "c1", "alice", slot, uploadID, 2)
	require.NoError(t, err)
	require.Len(t, urls, 2)

	etag1, err := objects.WritePart(uploadID, 1, []byte("part-one-"))
	require.NoError(t, err)
	require.NoError(t, svc.PersistChunk(ctx, "alice", ceremony.UploadedPart{ETag: etag1, PartNumber: 1}))
	etag2, err := objects.WritePart(uploadID, 2, []byte("part-two"))
	require.NoError(t, err)
	require.NoError(t, svc.PersistChunk(ctx, "alice", ceremony.UploadedPart{ETag: etag2, PartNumber: 2}))

	require.NoError(t, records.Get(ctx, "participants", "alice", &participant))
	require.Len(t, participant.TempContributionData.Chunks, 2)

	location, err := svc.CompleteMultiPartUpload(ctx, "cer1", "c1", "alice", slot, uploadID,
		[]object.Part{{ETag: etag1, PartNumber: 1}, {ETag: etag2, PartNumber: 2}})
	require.NoError(t, err)
	require.NotEmpty(t, location)

	exists, err := objects.Exists(ctx, "bucket-cer1", slot)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestStartMultiPartUploadRejectsWrongContributor(t *testing.T) {
	_, _, svc := setup(t)
	_, err := svc.StartMultiPartUpload(context.Background(), "cer1", "c1", "mallory", slot)
	require.Error(t, err)
}

func TestStartMultiPartUploadRejectsPathMismatch(t *testing.T) {
	_, _, svc := setup(t)
	_, err := svc.StartMultiPartUpload(context.Background(), "cer1", "c1", "alice",
		"cer1/circuits/circuit1/contributions/circuit1_99999.zkey")
	require.Error(t, err)
}

func TestGenerateGetObjectPreSignedUrlRequiresCoordinator(t *testing.T) {
	_, _, svc := setup(t)
	_, err := svc.GenerateGetObjectPreSignedUrl(context.Background(), "cer1", "bucket-cer1", slot, false)
	require.Error(t, err)

	url, err := svc.GenerateGetObjectPreSignedUrl(context.Background(), "cer1", "bucket-cer1", slot, true)
	require.NoError(t, err)
	require.NotEmpty(t, url)
}

func TestPermanentlyStoreCurrentContributionTimeAndHash(t *testing.T) {
	records, _, svc := setup(t)
	require.NoError(t, svc.PermanentlyStoreCurrentContributionTimeAndHash(context.Background(), "c1", "alice", 4321))

	var participant ceremony.Participant
	require.NoError(t, records.Get(context.Background(), "participants", "alice", &participant))
	require.EqualValues(t, 4321, participant.TempContributionData.ContributionComputationTime)
	require.Equal(t, ceremony.StepVerifying, participant.ContributionStep)
}
