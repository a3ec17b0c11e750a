// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package verify

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

const width = 5

func setup(t *testing.T) (*recordtest.Store, *objecttest.Store, *Worker) {
	t.Helper()
	records := recordtest.New()
	objects := objecttest.New()
	require.NoError(t, objects.CreateBucket(context.Background(), "bucket-cer1"))

	b := records.NewBatch()
	b.Set("ceremonies", "cer1", &ceremony.Ceremony{ID: "cer1", Prefix: "cer1"})
	b.Set("circuits", "c1", &ceremony.Circuit{
		ID: "c1", CeremonyID: "cer1", Prefix: "circuit1",
		WaitingQueue: ceremony.WaitingQueue{CurrentContributor: "alice"},
		Files:        ceremony.CircuitFiles{PotStoragePath: "cer1/ptau/pot.ptau"},
	})
	b.Set("participants", "alice", &ceremony.Participant{
		ID: "alice", CeremonyID: "cer1", ContributionStep: ceremony.StepVerifying,
	})
	require.NoError(t, b.Commit(context.Background()))

	require.NoError(t, objects.Upload(context.Background(), "bucket-cer1", "cer1/ptau/pot.ptau", bytes.NewReader([]byte("pot-bytes"))))
	require.NoError(t, objects.Upload(context.Background(), "bucket-cer1", "cer1/circuits/circuit1/contributions/circuit1_00000.zkey", bytes.NewReader([]byte("initial-zkey"))))
	require.NoError(t, objects.Upload(context.Background(), "bucket-cer1", "cer1/circuits/circuit1/contributions/circuit1_00001.zkey", append([]byte("initial-zkey"), []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}...)))

	w := New(Config{
		Records:           records,
		Objects:           objects,
		Engine:            zkcrypto.NewGnarkEngine(),
		BucketForCeremony: func(prefix string) string { return "bucket-" + prefix },
		ZkeyIndexWidth:    width,
	})
	return records, objects, w
}

// TestVerifyValidContributionAdvancesQueueCounters covers end-to-end
// scenario 1's verification step.
func TestVerifyValidContributionAdvancesQueueCounters(t *testing.T) {
	records, objects, w := setup(t)

	result, err := w.Verify(context.Background(), Request{
		CeremonyID: "cer1", CircuitID: "c1", ParticipantID: "alice",
		ContributionTimeInMillis: 1234, GithubUsername: "alice-gh",
	})
	require.NoError(t, err)
	require.True(t, result.Valid)

	var circuit ceremony.Circuit
	require.NoError(t, records.Get(context.Background(), "circuits", "c1", &circuit))
	require.EqualValues(t, 1, circuit.WaitingQueue.CompletedContributions)
	require.EqualValues(t, 0, circuit.WaitingQueue.FailedContributions)
	require.NotZero(t, circuit.AvgTimings.VerifyCloudFunction)

	var participant ceremony.Participant
	require.NoError(t, records.Get(context.Background(), "participants", "alice", &participant))
	require.Len(t, participant.Contributions, 1)
	require.Equal(t, ceremony.StepCompleted, participant.ContributionStep)

	var contributions []ceremony.Contribution
	require.NoError(t, records.List(context.Background(), "contributions", nil, &contributions))
	require.Len(t, contributions, 1)
	require.Equal(t, "00001", contributions[0].ZkeyIndex)

	exists, err := objects.Exists(context.Background(), "bucket-cer1",
		"cer1/circuits/circuit1/transcripts/circuit1_00001_alice-gh_verification_transcript.log")
	require.NoError(t, err)
	require.True(t, exists)
}

// TestVerifyRejectsWrongContributor covers step 1's guard.
func TestVerifyRejectsWrongContributor(t *testing.T) {
	_, _, w := setup(t)
	_, err := w.Verify(context.Background(), Request{
		CeremonyID: "cer1", CircuitID: "c1", ParticipantID: "mallory",
		ContributionTimeInMillis: 1, GithubUsername: "mallory-gh",
	})
	require.Error(t, err)
}

// TestVerifyInvalidContributionStillAdvancesParticipant covers end-to-end
// scenario 4: an invalid contribution still burns the slot.
func TestVerifyInvalidContributionStillAdvancesParticipant(t *testing.T) {
	records, objects, w := setup(t)
	// Overwrite the candidate with bytes that do not extend the previous
	// zkey's prefix, forcing the fake engine to reject it.
	require.NoError(t, objects.Upload(context.Background(), "bucket-cer1",
		"cer1/circuits/circuit1/contributions/circuit1_00001.zkey", bytes.NewReader([]byte("not-an-extension"))))

	result, err := w.Verify(context.Background(), Request{
		CeremonyID: "cer1", CircuitID: "c1", ParticipantID: "alice",
		ContributionTimeInMillis: 1, GithubUsername: "alice-gh",
	})
	require.NoError(t, err)
	require.False(t, result.Valid)

	var circuit ceremony.Circuit
	require.NoError(t, records.Get(context.Background(), "circuits", "c1", &circuit))
	require.EqualValues(t, 1, circuit.WaitingQueue.FailedContributions)
	require.EqualValues(t, 0, circuit.WaitingQueue.CompletedContributions)

	var participant ceremony.Participant
	require.NoError(t, records.Get(context.Background(), "participants", "alice", &participant))
	require.Len(t, participant.Contributions, 1) // progress still advances
}
