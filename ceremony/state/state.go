// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package state is the Participant State Machine (spec §4.2): it drives a
// participant through circuits.length contributions, one circuit at a
// time, with a five-step sub-machine inside each circuit. The database
// document is the state; every transition is persisted through
// store/record before this package returns.
package state

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/queue"
	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
	"github.com/ethereum/zk-ceremony-coordinator/store/record"
)

const (
	ceremoniesCollection   = "ceremonies"
	circuitsCollection     = "circuits"
	participantsCollection = "participants"
)

// Machine is the Participant State Machine.
type Machine struct {
	store record.Store
	queue *queue.Manager
	now   func() time.Time
}

// New builds a Machine over store, sharing its Queue Manager instance so
// enqueue/dequeue calls triggered by transitions use the same batching.
func New(store record.Store, q *queue.Manager) *Machine {
	return &Machine{store: store, queue: q, now: time.Now}
}

// CheckParticipantForCeremony is the join entry point (spec §4.2). It
// creates the Participant in CREATED if missing, and returns whether the
// caller may proceed now.
func (m *Machine) CheckParticipantForCeremony(ctx context.Context, ceremonyID, userID string) (bool, error) {
	var cer ceremony.Ceremony
	if err := m.store.Get(ctx, ceremoniesCollection, ceremonyID, &cer); err != nil {
		if cerrors.IsNotFound(err) {
			return false, cerrors.NotFound(errors.Newf("ceremony %q not found", ceremonyID))
		}
		return false, err
	}
	if cer.State != ceremony.CeremonyOpened {
		return false, cerrors.FailedPrecondition(errors.Newf("ceremony %q is not OPENED", ceremonyID))
	}

	var participant ceremony.Participant
	err := m.store.Get(ctx, participantsCollection, userID, &participant)
	switch {
	case cerrors.IsNotFound(err):
		participant = ceremony.Participant{ID: userID, CeremonyID: ceremonyID, Status: ceremony.ParticipantCreated}
		b := m.store.NewBatch()
		b.Set(participantsCollection, userID, &participant)
		if err := b.Commit(ctx); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	if participant.Status == ceremony.ParticipantDone || participant.Status == ceremony.ParticipantFinalized {
		return false, nil
	}
	if participant.Status == ceremony.ParticipantContributing {
		return false, nil
	}

	timeout, err := m.activeOrExpiredTimeout(ctx, userID)
	if err != nil {
		return false, err
	}
	if timeout != nil {
		if timeout.Active(m.now()) {
			return false, nil
		}
		// Expired timeout: exhume the participant so they may rejoin.
		if participant.Status != ceremony.ParticipantTimedOut {
			return true, nil
		}
		b := m.store.NewBatch()
		b.Update(participantsCollection, userID, map[string]any{"status": ceremony.ParticipantExhumed})
		if err := b.Commit(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	return true, nil
}

// activeOrExpiredTimeout returns the participant's most recent Timeout
// document, if any. A real deployment indexes timeouts by participantId
// and picks the most recent by startDate; the in-memory/mongo adapters
// both support that via List.
func (m *Machine) activeOrExpiredTimeout(ctx context.Context, participantID string) (*ceremony.Timeout, error) {
	var timeouts []ceremony.Timeout
	if err := m.store.List(ctx, "timeouts", map[string]any{"participantId": participantID}, &timeouts); err != nil {
		return nil, err
	}
	if len(timeouts) == 0 {
		return nil, nil
	}
	latest := timeouts[0]
	for _, t := range timeouts[1:] {
		if t.StartDate > latest.StartDate {
			latest = t
		}
	}
	return &latest, nil
}

// ProgressToNextContributionStep advances contributionStep forward by one
// (DOWNLOADING -> COMPUTING -> UPLOADING -> VERIFYING -> COMPLETED), per
// spec §4.2. COMPLETED is reached only through the Verification Worker
// (verify.Worker.Verify), not by this call, since it requires the
// verifier's outcome.
func (m *Machine) ProgressToNextContributionStep(ctx context.Context, participantID string) error {
	var participant ceremony.Participant
	if err := m.store.Get(ctx, participantsCollection, participantID, &participant); err != nil {
		return err
	}
	if participant.Status != ceremony.ParticipantContributing {
		return cerrors.FailedPrecondition(errors.Newf(
			"participant %q is not CONTRIBUTING", participantID))
	}

	next, ok := nextStep(participant.ContributionStep)
	if !ok {
		return cerrors.FailedPrecondition(errors.Newf(
			"participant %q cannot advance past step %q here", participantID, participant.ContributionStep))
	}

	b := m.store.NewBatch()
	b.Update(participantsCollection, participantID, map[string]any{"contributionStep": next})
	return b.Commit(ctx)
}

func nextStep(current ceremony.ContributionStep) (ceremony.ContributionStep, bool) {
	switch current {
	case "":
		return ceremony.StepDownloading, true
	case ceremony.StepDownloading:
		return ceremony.StepComputing, true
	case ceremony.StepComputing:
		return ceremony.StepUploading, true
	case ceremony.StepUploading:
		return ceremony.StepVerifying, true
	default:
		return "", false
	}
}

// ResumeContributionAfterTimeoutExpiration re-enqueues a TIMEDOUT/EXHUMED
// participant at the tail of their current circuit's queue (spec §4.4
// "Cancellation and re-entry").
func (m *Machine) ResumeContributionAfterTimeoutExpiration(ctx context.Context, ceremonyID, participantID string) error {
	var participant ceremony.Participant
	if err := m.store.Get(ctx, participantsCollection, participantID, &participant); err != nil {
		return err
	}
	if participant.Status != ceremony.ParticipantTimedOut && participant.Status != ceremony.ParticipantExhumed {
		return cerrors.FailedPrecondition(errors.Newf(
			"participant %q has no expired timeout to resume from", participantID))
	}
	timeout, err := m.activeOrExpiredTimeout(ctx, participantID)
	if err != nil {
		return err
	}
	if timeout == nil || timeout.Active(m.now()) {
		return cerrors.FailedPrecondition(cerrors.ErrNoActiveTimeout)
	}

	var circuits []ceremony.Circuit
	if err := m.store.List(ctx, circuitsCollection, map[string]any{"ceremonyId": ceremonyID}, &circuits); err != nil {
		return err
	}
	var target *ceremony.Circuit
	for i := range circuits {
		if circuits[i].SequencePosition == participant.ContributionProgress {
			target = &circuits[i]
			break
		}
	}
	if target == nil {
		return cerrors.FailedPrecondition(errors.Newf("no circuit at sequence position %d", participant.ContributionProgress))
	}

	b := m.store.NewBatch()
	b.Update(participantsCollection, participantID, map[string]any{
		"status":           ceremony.ParticipantReady,
		"contributionStep": "",
	})
	if err := b.Commit(ctx); err != nil {
		return err
	}
	return m.queue.Enqueue(ctx, target.ID, participantID)
}

// ProgressToNextCircuitForContribution moves a READY participant onto the
// next circuit's queue: contributionProgress increments, status becomes
// READY (idempotent if already there), contributionStep clears, and the
// Queue Manager is asked to Enqueue them onto the new circuit (spec §4.2).
// It is called once when a participant first joins (progress 0 -> 1) and
// again after each valid circuit completion; a participant whose step is
// COMPLETED already had contributionProgress advanced by the Verification
// Worker, so that value is taken as the next position without a further
// increment.
func (m *Machine) ProgressToNextCircuitForContribution(ctx context.Context, ceremonyID, participantID string) error {
	var participant ceremony.Participant
	if err := m.store.Get(ctx, participantsCollection, participantID, &participant); err != nil {
		return err
	}

	var circuits []ceremony.Circuit
	if err := m.store.List(ctx, circuitsCollection, map[string]any{"ceremonyId": ceremonyID}, &circuits); err != nil {
		return err
	}
	total := len(circuits)

	nextProgress := participant.ContributionProgress + 1
	if participant.ContributionStep == ceremony.StepCompleted {
		nextProgress = participant.ContributionProgress
	}
	if nextProgress > total {
		b := m.store.NewBatch()
		b.Update(participantsCollection, participantID, map[string]any{
			"status":               ceremony.ParticipantDone,
			"contributionProgress": nextProgress,
			"contributionStep":     ceremony.StepCompleted,
		})
		return b.Commit(ctx)
	}

	var target *ceremony.Circuit
	for i := range circuits {
		if circuits[i].SequencePosition == nextProgress {
			target = &circuits[i]
			break
		}
	}
	if target == nil {
		return cerrors.FailedPrecondition(errors.Newf("no circuit at sequence position %d", nextProgress))
	}

	b := m.store.NewBatch()
	b.Update(participantsCollection, participantID, map[string]any{
		"status":               ceremony.ParticipantReady,
		"contributionProgress": nextProgress,
		"contributionStep":     "",
	})
	if err := b.Commit(ctx); err != nil {
		return err
	}
	return m.queue.Enqueue(ctx, target.ID, participantID)
}
