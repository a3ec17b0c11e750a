// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/queue"
	"github.com/ethereum/zk-ceremony-coordinator/store/record/recordtest"
)

// TestSweepEvictsPastDeadlineDynamic covers end-to-end scenario 3:
// DYNAMIC budget = contribute(10000) + verify(2000), 20% tolerance =>
// 14400ms deadline; past it, the current contributor is evicted.
func TestSweepEvictsPastDeadlineDynamic(t *testing.T) {
	store := recordtest.New()
	q := queue.New(store)

	startedAt := time.UnixMilli(1_700_000_000_000)
	cer := &ceremony.Ceremony{ID: "cer1", State: ceremony.CeremonyOpened, EndDate: 1 << 40,
		TimeoutMechanismType: ceremony.TimeoutDynamic, PenaltyMinutes: 10}
	circuit := &ceremony.Circuit{
		ID: "c1", CeremonyID: "cer1",
		AvgTimings:   ceremony.AvgTimings{ContributionComputation: 10_000, VerifyCloudFunction: 2_000},
		WaitingQueue: ceremony.WaitingQueue{Contributors: []string{"alice"}, CurrentContributor: "alice"},
	}
	b := store.NewBatch()
	b.Set("ceremonies", "cer1", cer)
	b.Set("circuits", "c1", circuit)
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice", CeremonyID: "cer1",
		Status: ceremony.ParticipantContributing, ContributionStartedAt: startedAt.UnixMilli()})
	require.NoError(t, b.Commit(context.Background()))

	ctl := New(store, q, nil)
	ctl.now = func() time.Time { return startedAt.Add(14_401 * time.Millisecond) }

	require.NoError(t, ctl.Sweep(context.Background(), cer))

	var gotCircuit ceremony.Circuit
	require.NoError(t, store.Get(context.Background(), "circuits", "c1", &gotCircuit))
	require.Equal(t, "", gotCircuit.WaitingQueue.CurrentContributor)
	require.EqualValues(t, 1, gotCircuit.WaitingQueue.FailedContributions)

	var participant ceremony.Participant
	require.NoError(t, store.Get(context.Background(), "participants", "alice", &participant))
	require.Equal(t, ceremony.ParticipantTimedOut, participant.Status)

	var timeouts []ceremony.Timeout
	require.NoError(t, store.List(context.Background(), "timeouts", nil, &timeouts))
	require.Len(t, timeouts, 1)
	require.Equal(t, startedAt.Add(14_401*time.Millisecond).UnixMilli()+10*60_000, timeouts[0].EndDate)
}

// TestSweepSkipsBeforeDeadline covers the non-eviction branch.
func TestSweepSkipsBeforeDeadline(t *testing.T) {
	store := recordtest.New()
	q := queue.New(store)

	cer := &ceremony.Ceremony{ID: "cer1", State: ceremony.CeremonyOpened, EndDate: 1 << 40,
		TimeoutMechanismType: ceremony.TimeoutDynamic, PenaltyMinutes: 10}
	circuit := &ceremony.Circuit{
		ID: "c1", CeremonyID: "cer1",
		AvgTimings:   ceremony.AvgTimings{ContributionComputation: 10_000, VerifyCloudFunction: 2_000},
		WaitingQueue: ceremony.WaitingQueue{Contributors: []string{"alice"}, CurrentContributor: "alice"},
	}
	b := store.NewBatch()
	b.Set("ceremonies", "cer1", cer)
	b.Set("circuits", "c1", circuit)
	b.Set("participants", "alice", &ceremony.Participant{ID: "alice", CeremonyID: "cer1",
		Status: ceremony.ParticipantContributing, ContributionStartedAt: 1_700_000_000_000})
	require.NoError(t, b.Commit(context.Background()))

	ctl := New(store, q, nil)
	ctl.now = func() time.Time { return time.UnixMilli(1_700_000_000_000 + 14_000) }

	require.NoError(t, ctl.Sweep(context.Background(), cer))

	var gotCircuit ceremony.Circuit
	require.NoError(t, store.Get(context.Background(), "circuits", "c1", &gotCircuit))
	require.Equal(t, "alice", gotCircuit.WaitingQueue.CurrentContributor)
}

// TestSweepSkipsEmptyQueue covers step 1 of spec §4.4.
func TestSweepSkipsEmptyQueue(t *testing.T) {
	store := recordtest.New()
	q := queue.New(store)
	cer := &ceremony.Ceremony{ID: "cer1", State: ceremony.CeremonyOpened, EndDate: 1 << 40}
	b := store.NewBatch()
	b.Set("ceremonies", "cer1", cer)
	b.Set("circuits", "c1", &ceremony.Circuit{ID: "c1", CeremonyID: "cer1"})
	require.NoError(t, b.Commit(context.Background()))

	ctl := New(store, q, nil)
	require.NoError(t, ctl.Sweep(context.Background(), cer))
}
