// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/store/record/recordtest"
)

func seedCircuit(t *testing.T, store *recordtest.Store, id string) {
	t.Helper()
	b := store.NewBatch()
	b.Set("circuits", id, &ceremony.Circuit{ID: id, SequencePosition: 1})
	require.NoError(t, b.Commit(context.Background()))
}

func getCircuit(t *testing.T, store *recordtest.Store, id string) ceremony.Circuit {
	t.Helper()
	var c ceremony.Circuit
	require.NoError(t, store.Get(context.Background(), "circuits", id, &c))
	return c
}

func getParticipant(t *testing.T, store *recordtest.Store, id string) ceremony.Participant {
	t.Helper()
	var p ceremony.Participant
	require.NoError(t, store.Get(context.Background(), "participants", id, &p))
	return p
}

// TestEnqueueFirstParticipantBecomesCurrent covers end-to-end scenario 1:
// a lone participant joining an empty queue becomes current immediately.
func TestEnqueueFirstParticipantBecomesCurrent(t *testing.T) {
	store := recordtest.New()
	seedCircuit(t, store, "c1")
	b := store.NewBatch()
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice", Status: ceremony.ParticipantReady})
	require.NoError(t, b.Commit(context.Background()))

	m := New(store)
	require.NoError(t, m.Enqueue(context.Background(), "c1", "alice"))

	circuit := getCircuit(t, store, "c1")
	require.Equal(t, "alice", circuit.WaitingQueue.CurrentContributor)
	require.Equal(t, []string{"alice"}, circuit.WaitingQueue.Contributors)

	participant := getParticipant(t, store, "alice")
	require.Equal(t, ceremony.ParticipantContributing, participant.Status)
	require.NotZero(t, participant.ContributionStartedAt)
}

// TestEnqueueSecondParticipantWaits covers end-to-end scenario 2's setup:
// a second participant joining a busy queue waits.
func TestEnqueueSecondParticipantWaits(t *testing.T) {
	store := recordtest.New()
	seedCircuit(t, store, "c1")
	m := New(store)

	b := store.NewBatch()
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice"})
	b.Set("participants", "bob", &ceremony.Participant{ID: "bob"})
	require.NoError(t, b.Commit(context.Background()))

	require.NoError(t, m.Enqueue(context.Background(), "c1", "alice"))
	require.NoError(t, m.Enqueue(context.Background(), "c1", "bob"))

	circuit := getCircuit(t, store, "c1")
	require.Equal(t, "alice", circuit.WaitingQueue.CurrentContributor)
	require.Equal(t, []string{"alice", "bob"}, circuit.WaitingQueue.Contributors)

	bob := getParticipant(t, store, "bob")
	require.Equal(t, ceremony.ParticipantWaiting, bob.Status)
}

// TestEnqueueIsIdempotent covers spec §4.1's "re-enqueue is a no-op".
func TestEnqueueIsIdempotent(t *testing.T) {
	store := recordtest.New()
	seedCircuit(t, store, "c1")
	m := New(store)
	b := store.NewBatch()
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice"})
	require.NoError(t, b.Commit(context.Background()))

	require.NoError(t, m.Enqueue(context.Background(), "c1", "alice"))
	require.NoError(t, m.Enqueue(context.Background(), "c1", "alice"))

	circuit := getCircuit(t, store, "c1")
	require.Equal(t, []string{"alice"}, circuit.WaitingQueue.Contributors)
}

// TestDequeuePromotesNextContributor covers end-to-end scenario 2: A
// completes, B is promoted, and the queue ends up empty after B too.
func TestDequeuePromotesNextContributor(t *testing.T) {
	store := recordtest.New()
	seedCircuit(t, store, "c1")
	m := New(store)
	b := store.NewBatch()
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice"})
	b.Set("participants", "bob", &ceremony.Participant{ID: "bob"})
	require.NoError(t, b.Commit(context.Background()))

	require.NoError(t, m.Enqueue(context.Background(), "c1", "alice"))
	require.NoError(t, m.Enqueue(context.Background(), "c1", "bob"))

	require.NoError(t, m.Dequeue(context.Background(), "c1", "alice", ReasonCompleted))
	circuit := getCircuit(t, store, "c1")
	require.Equal(t, "bob", circuit.WaitingQueue.CurrentContributor)
	require.Equal(t, []string{"bob"}, circuit.WaitingQueue.Contributors)
	bob := getParticipant(t, store, "bob")
	require.Equal(t, ceremony.ParticipantContributing, bob.Status)

	require.NoError(t, m.Dequeue(context.Background(), "c1", "bob", ReasonCompleted))
	circuit = getCircuit(t, store, "c1")
	require.Equal(t, "", circuit.WaitingQueue.CurrentContributor)
	require.Empty(t, circuit.WaitingQueue.Contributors)
}

// TestDequeueRejectsNonHead covers invariant 1: contributors[0] must equal
// currentContributor, enforced by rejecting a Dequeue for a non-head id.
func TestDequeueRejectsNonHead(t *testing.T) {
	store := recordtest.New()
	seedCircuit(t, store, "c1")
	m := New(store)
	b := store.NewBatch()
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice"})
	b.Set("participants", "bob", &ceremony.Participant{ID: "bob"})
	require.NoError(t, b.Commit(context.Background()))
	require.NoError(t, m.Enqueue(context.Background(), "c1", "alice"))
	require.NoError(t, m.Enqueue(context.Background(), "c1", "bob"))

	err := m.Dequeue(context.Background(), "c1", "bob", ReasonCompleted)
	require.Error(t, err)
}

// TestDequeueEvictedIncrementsFailedContributions covers end-to-end
// scenario 3's accounting.
func TestDequeueEvictedIncrementsFailedContributions(t *testing.T) {
	store := recordtest.New()
	seedCircuit(t, store, "c1")
	m := New(store)
	b := store.NewBatch()
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice"})
	require.NoError(t, b.Commit(context.Background()))
	require.NoError(t, m.Enqueue(context.Background(), "c1", "alice"))

	require.NoError(t, m.Dequeue(context.Background(), "c1", "alice", ReasonEvicted))
	circuit := getCircuit(t, store, "c1")
	require.EqualValues(t, 1, circuit.WaitingQueue.FailedContributions)
}
