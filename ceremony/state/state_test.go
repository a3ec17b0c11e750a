// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/queue"
	"github.com/ethereum/zk-ceremony-coordinator/store/record/recordtest"
)

func seedOpenCeremony(t *testing.T, store *recordtest.Store, id string) {
	t.Helper()
	b := store.NewBatch()
	b.Set("ceremonies", id, &ceremony.Ceremony{ID: id, State: ceremony.CeremonyOpened})
	b.Set("circuits", "c1", &ceremony.Circuit{ID: "c1", CeremonyID: id, SequencePosition: 1})
	require.NoError(t, b.Commit(context.Background()))
}

// TestCheckParticipantForCeremonyCreatesOnFirstJoin covers spec §4.2's
// join contract: a brand-new participant is created CREATED and may
// proceed.
func TestCheckParticipantForCeremonyCreatesOnFirstJoin(t *testing.T) {
	store := recordtest.New()
	seedOpenCeremony(t, store, "cer1")
	m := New(store, queue.New(store))

	ok, err := m.CheckParticipantForCeremony(context.Background(), "cer1", "alice")
	require.NoError(t, err)
	require.True(t, ok)

	var p ceremony.Participant
	require.NoError(t, store.Get(context.Background(), "participants", "alice", &p))
	require.Equal(t, ceremony.ParticipantCreated, p.Status)
}

// TestCheckParticipantForCeremonyIsIdempotent covers the round-trip law:
// re-calling with no intervening server change returns the same boolean.
func TestCheckParticipantForCeremonyIsIdempotent(t *testing.T) {
	store := recordtest.New()
	seedOpenCeremony(t, store, "cer1")
	m := New(store, queue.New(store))

	first, err := m.CheckParticipantForCeremony(context.Background(), "cer1", "alice")
	require.NoError(t, err)
	second, err := m.CheckParticipantForCeremony(context.Background(), "cer1", "alice")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

// TestCheckParticipantForCeremonyRejectsNotOpened covers the
// CEREMONY_NOT_OPENED precondition.
func TestCheckParticipantForCeremonyRejectsNotOpened(t *testing.T) {
	store := recordtest.New()
	b := store.NewBatch()
	b.Set("ceremonies", "cer1", &ceremony.Ceremony{ID: "cer1", State: ceremony.CeremonyScheduled})
	require.NoError(t, b.Commit(context.Background()))
	m := New(store, queue.New(store))

	_, err := m.CheckParticipantForCeremony(context.Background(), "cer1", "alice")
	require.Error(t, err)
}

// TestCheckParticipantForCeremonyRejectsContributing covers "not currently
// CONTRIBUTING" in the join contract.
func TestCheckParticipantForCeremonyRejectsContributing(t *testing.T) {
	store := recordtest.New()
	seedOpenCeremony(t, store, "cer1")
	b := store.NewBatch()
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice", CeremonyID: "cer1", Status: ceremony.ParticipantContributing})
	require.NoError(t, b.Commit(context.Background()))
	m := New(store, queue.New(store))

	ok, err := m.CheckParticipantForCeremony(context.Background(), "cer1", "alice")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestProgressToNextCircuitEnqueuesOnFirstCircuit covers the join-to-queue
// transition that CheckParticipantForCeremony hands off to.
func TestProgressToNextCircuitEnqueuesOnFirstCircuit(t *testing.T) {
	store := recordtest.New()
	seedOpenCeremony(t, store, "cer1")
	q := queue.New(store)
	m := New(store, q)
	b := store.NewBatch()
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice", CeremonyID: "cer1", Status: ceremony.ParticipantCreated})
	require.NoError(t, b.Commit(context.Background()))

	require.NoError(t, m.ProgressToNextCircuitForContribution(context.Background(), "cer1", "alice"))

	var p ceremony.Participant
	require.NoError(t, store.Get(context.Background(), "participants", "alice", &p))
	require.Equal(t, 1, p.ContributionProgress)
	require.Equal(t, ceremony.ParticipantContributing, p.Status) // promoted by Enqueue, empty queue

	var c ceremony.Circuit
	require.NoError(t, store.Get(context.Background(), "circuits", "c1", &c))
	require.Equal(t, "alice", c.WaitingQueue.CurrentContributor)
}

// TestProgressToNextCircuitMarksDoneAfterLastCircuit covers spec §3's DONE
// invariant: contributionProgress == N+1 and step COMPLETED.
func TestProgressToNextCircuitMarksDoneAfterLastCircuit(t *testing.T) {
	store := recordtest.New()
	seedOpenCeremony(t, store, "cer1") // one circuit, N=1
	m := New(store, queue.New(store))
	b := store.NewBatch()
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice", CeremonyID: "cer1", ContributionProgress: 1})
	require.NoError(t, b.Commit(context.Background()))

	require.NoError(t, m.ProgressToNextCircuitForContribution(context.Background(), "cer1", "alice"))

	var p ceremony.Participant
	require.NoError(t, store.Get(context.Background(), "participants", "alice", &p))
	require.Equal(t, ceremony.ParticipantDone, p.Status)
	require.Equal(t, 2, p.ContributionProgress)
	require.Equal(t, ceremony.StepCompleted, p.ContributionStep)
}

// TestProgressToNextContributionStepWalksInOrder covers the inner
// sub-machine's ordering.
func TestProgressToNextContributionStepWalksInOrder(t *testing.T) {
	store := recordtest.New()
	b := store.NewBatch()
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice", Status: ceremony.ParticipantContributing})
	require.NoError(t, b.Commit(context.Background()))
	m := New(store, queue.New(store))

	for _, want := range []ceremony.ContributionStep{
		ceremony.StepDownloading, ceremony.StepComputing, ceremony.StepUploading, ceremony.StepVerifying,
	} {
		require.NoError(t, m.ProgressToNextContributionStep(context.Background(), "alice"))
		var p ceremony.Participant
		require.NoError(t, store.Get(context.Background(), "participants", "alice", &p))
		require.Equal(t, want, p.ContributionStep)
	}

	// VERIFYING does not advance further via this call (spec §4.2: the
	// Verification Worker owns the move to COMPLETED).
	require.Error(t, m.ProgressToNextContributionStep(context.Background(), "alice"))
}
