// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package queue is the Circuit Queue Manager (spec §4.1): it ensures
// exactly one active contributor per circuit at any time, in FIFO
// admission order, and passes the baton correctly on completion or
// eviction. Every mutation goes through one record.Batch so a circuit's
// queue and the participant(s) it touches commit atomically or not at all.
package queue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
	"github.com/ethereum/zk-ceremony-coordinator/store/record"
)

const (
	circuitsCollection     = "circuits"
	participantsCollection = "participants"
)

// Reason distinguishes why a participant left the head of a circuit's
// queue, per spec §4.1 Dequeue.
type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonEvicted   Reason = "evicted"
)

// Manager is the Circuit Queue Manager.
type Manager struct {
	store record.Store
	now   func() time.Time
}

// New builds a Manager over store. now defaults to time.Now and is
// overridable in tests.
func New(store record.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Enqueue admits participantID to circuitID's queue. If the queue is
// empty, the participant becomes the current contributor immediately;
// otherwise they wait. Re-enqueuing a participant already in the queue is
// a no-op (spec §4.1 idempotency).
func (m *Manager) Enqueue(ctx context.Context, circuitID, participantID string) error {
	var circuit ceremony.Circuit
	if err := m.store.Get(ctx, circuitsCollection, circuitID, &circuit); err != nil {
		return err
	}

	for _, id := range circuit.WaitingQueue.Contributors {
		if id == participantID {
			return nil // already enqueued; idempotent
		}
	}

	wasEmpty := len(circuit.WaitingQueue.Contributors) == 0 && circuit.WaitingQueue.CurrentContributor == ""
	circuit.WaitingQueue.Contributors = append(circuit.WaitingQueue.Contributors, participantID)

	b := m.store.NewBatch()
	if wasEmpty {
		circuit.WaitingQueue.CurrentContributor = participantID
		b.Update(circuitsCollection, circuitID, map[string]any{
			"waitingQueue.contributors":       circuit.WaitingQueue.Contributors,
			"waitingQueue.currentContributor": participantID,
		})
		b.Update(participantsCollection, participantID, map[string]any{
			"status":                ceremony.ParticipantContributing,
			"contributionStartedAt": m.now().UnixMilli(),
		})
	} else {
		b.Update(circuitsCollection, circuitID, map[string]any{
			"waitingQueue.contributors": circuit.WaitingQueue.Contributors,
		})
		b.Update(participantsCollection, participantID, map[string]any{
			"status": ceremony.ParticipantWaiting,
		})
	}
	return b.Commit(ctx)
}

// Dequeue pops participantID from the head of circuitID's queue,
// requiring it to actually be the head, and promotes the new head (if
// any) to current contributor. On reason == ReasonEvicted the circuit's
// failedContributions counter is incremented (spec §4.1).
func (m *Manager) Dequeue(ctx context.Context, circuitID, participantID string, reason Reason) error {
	b := m.store.NewBatch()
	if err := m.DequeueInto(ctx, b, circuitID, participantID, reason); err != nil {
		return err
	}
	return b.Commit(ctx)
}

// DequeueInto stages the same mutations as Dequeue onto a batch the caller
// owns, so a dequeue can commit atomically alongside other writes (e.g.
// ceremony/timeout's eviction, which also marks the participant TIMEDOUT
// and writes a Timeout document in the same "one batch" per spec §4.4
// step 5). The caller commits b.
func (m *Manager) DequeueInto(ctx context.Context, b record.Batch, circuitID, participantID string, reason Reason) error {
	var circuit ceremony.Circuit
	if err := m.store.Get(ctx, circuitsCollection, circuitID, &circuit); err != nil {
		return err
	}
	if len(circuit.WaitingQueue.Contributors) == 0 || circuit.WaitingQueue.Contributors[0] != participantID {
		return cerrors.FailedPrecondition(errors.Newf(
			"queue: %q is not the head of circuit %q's queue", participantID, circuitID))
	}

	remaining := append([]string(nil), circuit.WaitingQueue.Contributors[1:]...)
	fields := map[string]any{"waitingQueue.contributors": remaining}
	if reason == ReasonEvicted {
		fields["waitingQueue.failedContributions"] = circuit.WaitingQueue.FailedContributions + 1
	}

	if len(remaining) > 0 {
		next := remaining[0]
		fields["waitingQueue.currentContributor"] = next
		b.Update(participantsCollection, next, map[string]any{
			"status":                ceremony.ParticipantContributing,
			"contributionStartedAt": m.now().UnixMilli(),
		})
	} else {
		fields["waitingQueue.currentContributor"] = ""
	}
	b.Update(circuitsCollection, circuitID, fields)
	return nil
}
