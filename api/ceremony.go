// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package api exposes the callable entry points of spec §6 as plain Go
// methods on per-concern service structs (CeremonyAPI, ContributionAPI,
// UploadAPI, CoordinatorAPI), the way the teacher's node/rpc packages
// expose eth/net/admin namespaces. Server (http.go) exposes the same
// structs to network callers over HTTP/JSON; errors carry gRPC status
// codes built by internal/cerrors.
package api

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/queue"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/state"
	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
	"github.com/ethereum/zk-ceremony-coordinator/store/object"
	"github.com/ethereum/zk-ceremony-coordinator/store/record"
)

const (
	ceremoniesCollection = "ceremonies"
	circuitsCollection   = "circuits"
)

// CeremonyAPI implements SetupCeremony, CreateBucket, CheckParticipantForCeremony,
// and the two step-progression entry points of spec §6.
type CeremonyAPI struct {
	records record.Store
	objects object.Store
	machine *state.Machine
	queue   *queue.Manager
	bucket  func(ceremonyPrefix string) string
}

// Config collects CeremonyAPI's fixed dependencies.
type Config struct {
	Records           record.Store
	Objects           object.Store
	Machine           *state.Machine
	Queue             *queue.Manager
	BucketForCeremony func(ceremonyPrefix string) string
}

// NewCeremonyAPI builds a CeremonyAPI from cfg.
func NewCeremonyAPI(cfg Config) *CeremonyAPI {
	return &CeremonyAPI{records: cfg.Records, objects: cfg.Objects, machine: cfg.Machine, queue: cfg.Queue, bucket: cfg.BucketForCeremony}
}

// CircuitSpec is one circuit's setup-time description (spec §6 SetupCeremony).
type CircuitSpec struct {
	Prefix           string
	SequencePosition int
	Metadata         ceremony.CircuitMetadata
	Files            ceremony.CircuitFiles
	TimeoutMechanism ceremony.TimeoutMechanism
	DynamicThreshold float64
	FixedTimeWindow  int64
}

// SetupCeremony creates a new Ceremony and its Circuits (spec §6, coordinator-only).
func (a *CeremonyAPI) SetupCeremony(ctx context.Context, prefix, title, description string, startDate, endDate int64,
	protocol ceremony.CircuitProtocol, timeoutMechanism ceremony.TimeoutMechanism, penaltyMinutes int, circuits []CircuitSpec) (string, error) {
	if prefix == "" {
		return "", cerrors.InvalidArgument("SetupCeremony: prefix must not be empty")
	}
	if len(circuits) == 0 {
		return "", cerrors.InvalidArgument("SetupCeremony: at least one circuit is required")
	}
	if protocol != ceremony.Groth16Phase2 {
		return "", cerrors.InvalidArgument(fmt.Sprintf("SetupCeremony: unsupported protocol %q", protocol))
	}

	var existing []ceremony.Ceremony
	if err := a.records.List(ctx, ceremoniesCollection, map[string]any{"prefix": prefix}, &existing); err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return "", cerrors.FailedPrecondition(errors.Wrapf(cerrors.ErrDuplicatePrefix, "prefix %q", prefix))
	}

	cer := &ceremony.Ceremony{
		ID: uuid.NewString(), Prefix: prefix, Title: title, Description: description,
		StartDate: startDate, EndDate: endDate, State: ceremony.CeremonyScheduled,
		Type: protocol, TimeoutMechanismType: timeoutMechanism, PenaltyMinutes: penaltyMinutes,
	}

	b := a.records.NewBatch()
	b.Set(ceremoniesCollection, cer.ID, cer)
	for _, spec := range circuits {
		c := &ceremony.Circuit{
			ID: uuid.NewString(), CeremonyID: cer.ID, Prefix: spec.Prefix,
			SequencePosition: spec.SequencePosition, Metadata: spec.Metadata, Files: spec.Files,
			TimeoutMechanism: spec.TimeoutMechanism, DynamicThreshold: spec.DynamicThreshold, FixedTimeWindow: spec.FixedTimeWindow,
		}
		b.Set(circuitsCollection, c.ID, c)
	}
	if err := b.Commit(ctx); err != nil {
		return "", err
	}
	return cer.ID, nil
}

// CreateBucket provisions the ceremony's artifact bucket (spec §6, coordinator-only).
func (a *CeremonyAPI) CreateBucket(ctx context.Context, ceremonyID string) (string, error) {
	var cer ceremony.Ceremony
	if err := a.records.Get(ctx, ceremoniesCollection, ceremonyID, &cer); err != nil {
		return "", err
	}
	bucket := a.bucket(cer.Prefix)
	if err := a.objects.CreateBucket(ctx, bucket); err != nil {
		return "", err
	}
	return bucket, nil
}

// CheckParticipantForCeremony is the join entry point (spec §6).
func (a *CeremonyAPI) CheckParticipantForCeremony(ctx context.Context, ceremonyID, participantID string) (bool, error) {
	return a.machine.CheckParticipantForCeremony(ctx, ceremonyID, participantID)
}

// ProgressToNextContributionStep advances the caller's inner step (spec §6).
func (a *CeremonyAPI) ProgressToNextContributionStep(ctx context.Context, participantID string) error {
	return a.machine.ProgressToNextContributionStep(ctx, participantID)
}

// ProgressToNextCircuitForContribution moves a READY participant onto the
// next circuit's queue (spec §4.2). The client calls this once right after
// CheckParticipantForCeremony returns true (first circuit), and again each
// time VerifyContribution leaves it in READY rather than CONTRIBUTED/DONE
// (non-final circuit completion) — without this call the participant is
// never actually enqueued onto a circuit.
func (a *CeremonyAPI) ProgressToNextCircuitForContribution(ctx context.Context, ceremonyID, participantID string) error {
	return a.machine.ProgressToNextCircuitForContribution(ctx, ceremonyID, participantID)
}

// ResumeContributionAfterTimeoutExpiration re-admits a timed-out participant (spec §6).
func (a *CeremonyAPI) ResumeContributionAfterTimeoutExpiration(ctx context.Context, ceremonyID, participantID string) error {
	return a.machine.ResumeContributionAfterTimeoutExpiration(ctx, ceremonyID, participantID)
}
