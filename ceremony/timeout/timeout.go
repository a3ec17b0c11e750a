// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package timeout is the Timeout Controller (spec §4.4): a periodic job
// that evicts a circuit's current contributor once they exceed their
// contribution budget, so the queue can progress. It is registered as a
// machinery periodic task by internal/taskqueue; Controller.Sweep is the
// unit the task invokes once per ceremony per tick.
package timeout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/queue"
	"github.com/ethereum/zk-ceremony-coordinator/store/record"
)

const (
	ceremoniesCollection   = "ceremonies"
	circuitsCollection     = "circuits"
	participantsCollection = "participants"
	timeoutsCollection     = "timeouts"
)

// Locker is a cross-instance mutual-exclusion lock, implemented in
// production by ceremony/timeout/redsync over github.com/RichardKnop/redsync,
// so only one coordinator instance sweeps a given ceremony concurrently
// when horizontally scaled.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(context.Context), err error)
}

// Controller is the Timeout Controller.
type Controller struct {
	store record.Store
	queue *queue.Manager
	lock  Locker
	now   func() time.Time
}

// New builds a Controller. lock may be nil for a single-instance deployment.
func New(store record.Store, q *queue.Manager, lock Locker) *Controller {
	return &Controller{store: store, queue: q, lock: lock, now: time.Now}
}

// SweepAllOpenCeremonies is the checkAndRemoveBlockingContributor scheduled
// task (spec §6), run every 5 minutes.
func (c *Controller) SweepAllOpenCeremonies(ctx context.Context) error {
	var ceremonies []ceremony.Ceremony
	if err := c.store.List(ctx, ceremoniesCollection, map[string]any{"state": ceremony.CeremonyOpened}, &ceremonies); err != nil {
		return err
	}
	now := c.now().UnixMilli()
	for _, cer := range ceremonies {
		if cer.EndDate < now {
			continue
		}
		if err := c.Sweep(ctx, &cer); err != nil {
			return err
		}
	}
	return nil
}

// Sweep evicts every stuck current contributor across cer's circuits
// (spec §4.4 steps 1-5).
func (c *Controller) Sweep(ctx context.Context, cer *ceremony.Ceremony) error {
	if c.lock != nil {
		unlock, err := c.lock.Lock(ctx, "timeout-sweep:"+cer.ID)
		if err != nil {
			return err
		}
		defer unlock(ctx)
	}

	var circuits []ceremony.Circuit
	if err := c.store.List(ctx, circuitsCollection, map[string]any{"ceremonyId": cer.ID}, &circuits); err != nil {
		return err
	}

	now := c.now()
	for _, circuit := range circuits {
		if circuit.WaitingQueue.CurrentContributor == "" {
			continue
		}
		if err := c.evictIfPastDeadline(ctx, cer, &circuit, now); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) evictIfPastDeadline(ctx context.Context, cer *ceremony.Ceremony, circuit *ceremony.Circuit, now time.Time) error {
	participantID := circuit.WaitingQueue.CurrentContributor
	var participant ceremony.Participant
	if err := c.store.Get(ctx, participantsCollection, participantID, &participant); err != nil {
		return err
	}
	if participant.ContributionStartedAt == 0 {
		return nil
	}

	budget := Budget(cer, circuit)
	deadline := participant.ContributionStartedAt + budget
	if deadline >= now.UnixMilli() {
		return nil
	}

	timeoutDoc := &ceremony.Timeout{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		StartDate:     now.UnixMilli(),
		EndDate:       now.UnixMilli() + int64(cer.PenaltyMinutes)*60_000,
		Type:          ceremony.TimeoutBlockingContribution,
	}

	b := c.store.NewBatch()
	if err := c.queue.DequeueInto(ctx, b, circuit.ID, participantID, queue.ReasonEvicted); err != nil {
		return err
	}
	b.Update(participantsCollection, participantID, map[string]any{"status": ceremony.ParticipantTimedOut})
	b.Set(timeoutsCollection, timeoutDoc.ID, timeoutDoc)
	return b.Commit(ctx)
}

// Budget computes a circuit's per-contribution timeout budget in
// milliseconds (spec §4.4 step 3).
func Budget(cer *ceremony.Ceremony, circuit *ceremony.Circuit) int64 {
	switch cer.TimeoutMechanismType {
	case ceremony.TimeoutFixed:
		return circuit.FixedTimeWindow
	default: // DYNAMIC
		sum := circuit.AvgTimings.ContributionComputation + circuit.AvgTimings.VerifyCloudFunction
		tolerance := sum * toleranceRate(circuit) / 100
		return sum + tolerance
	}
}

// toleranceRate reads the circuit's configured DYNAMIC tolerance: the
// circuit's DynamicThreshold when it is set, else a fixed 20 percent. The
// process-wide timeout-tolerance-rate setting (config.TimeoutToleranceRate)
// is not read here or by any caller of Sweep.
func toleranceRate(circuit *ceremony.Circuit) int64 {
	if circuit.DynamicThreshold > 0 {
		return int64(circuit.DynamicThreshold)
	}
	return 20
}
