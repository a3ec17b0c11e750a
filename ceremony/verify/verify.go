// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package verify is the Verification Worker (spec §4.3): given a
// (ceremony, circuit, participant, contributionTime) tuple it downloads
// the previous and candidate zkeys plus the powers-of-tau file, runs the
// verification primitive, persists the outcome, and updates the circuit's
// running averages and queue counters. api.ContributionAPI calls it
// synchronously, inside the VerifyContribution request; internal/taskqueue
// also registers it as a background task (taskqueue.Server.DispatchVerify),
// but nothing in the tree dispatches that task.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
	"github.com/ethereum/zk-ceremony-coordinator/internal/zkcrypto"
	"github.com/ethereum/zk-ceremony-coordinator/store/object"
	"github.com/ethereum/zk-ceremony-coordinator/store/record"
)

const (
	ceremoniesCollection    = "ceremonies"
	circuitsCollection      = "circuits"
	participantsCollection  = "participants"
	contributionsCollection = "contributions"
)

// Worker is the Verification Worker.
type Worker struct {
	records record.Store
	objects object.Store
	engine  zkcrypto.Engine
	bucket  func(ceremonyPrefix string) string
	width   int
	now     func() time.Time
}

// Config collects the Worker's fixed dependencies.
type Config struct {
	Records        record.Store
	Objects        object.Store
	Engine         zkcrypto.Engine
	BucketForCeremony func(ceremonyPrefix string) string
	ZkeyIndexWidth int
}

// New builds a Worker from cfg.
func New(cfg Config) *Worker {
	return &Worker{
		records: cfg.Records,
		objects: cfg.Objects,
		engine:  cfg.Engine,
		bucket:  cfg.BucketForCeremony,
		width:   cfg.ZkeyIndexWidth,
		now:     time.Now,
	}
}

// Result is VerifyContribution's return value (spec §6).
type Result struct {
	Valid                   bool
	VerificationTimeInMillis int64
}

// Request names the tuple the caller supplies (spec §4.3).
type Request struct {
	CeremonyID              string
	CircuitID               string
	ParticipantID            string
	ContributionTimeInMillis int64
	GithubUsername           string
}

// Verify runs the eight-step protocol of spec §4.3.
func (w *Worker) Verify(ctx context.Context, req Request) (*Result, error) {
	start := w.now()

	// Step 1: guard.
	var circuit ceremony.Circuit
	if err := w.records.Get(ctx, circuitsCollection, req.CircuitID, &circuit); err != nil {
		return nil, err
	}
	if circuit.WaitingQueue.CurrentContributor != req.ParticipantID {
		return nil, cerrors.InvalidArgument(fmt.Sprintf(
			"%q is not the current contributor of circuit %q", req.ParticipantID, req.CircuitID))
	}
	var participant ceremony.Participant
	if err := w.records.Get(ctx, participantsCollection, req.ParticipantID, &participant); err != nil {
		return nil, err
	}
	if participant.ContributionStep != ceremony.StepVerifying {
		return nil, cerrors.InvalidArgument(fmt.Sprintf(
			"participant %q is not in VERIFYING step", req.ParticipantID))
	}

	var cer ceremony.Ceremony
	if err := w.records.Get(ctx, ceremoniesCollection, req.CeremonyID, &cer); err != nil {
		return nil, err
	}
	bucket := w.bucket(cer.Prefix)

	// Step 2: compute the zero-padded index of the zkey this contribution produces.
	lastIndex := zkcrypto.FormatZkeyIndex(int(circuit.WaitingQueue.CompletedContributions)+1, w.width)

	// Step 3: fetch artifacts into a scratch area.
	potBytes, err := w.download(ctx, bucket, circuit.Files.PotStoragePath)
	if err != nil {
		return nil, err
	}
	// The initial zkey is itself stored at the contributions/_00000.zkey
	// path (spec §4.3 step 3: "fetch ... pot, _00000.zkey, _<lastZkeyIndex>.zkey"),
	// so the predecessor of any index is just that index minus one.
	previousKey := contributionZkeyPath(cer.Prefix, circuit.Prefix, prevIndex(lastIndex, w.width))
	previousZkey, err := w.download(ctx, bucket, previousKey)
	if err != nil {
		return nil, err
	}
	candidateKey := contributionZkeyPath(cer.Prefix, circuit.Prefix, lastIndex)
	candidateZkey, err := w.download(ctx, bucket, candidateKey)
	if err != nil {
		return nil, err
	}
	// Step 4: run the external verification primitive.
	result, err := w.engine.Verify(previousZkey, candidateZkey, potBytes)
	if err != nil {
		return nil, cerrors.Internal(errors.Wrap(err, "verify: verification primitive failed"))
	}

	// Step 5: hash the new zkey and the transcript.
	zkeyHash := zkcrypto.Blake2b512HexBytes(candidateZkey)
	transcriptHash := zkcrypto.Blake2b512HexBytes(result.Transcript)

	// Step 6: upload the transcript to its canonical path.
	transcriptKey := transcriptPath(cer.Prefix, circuit.Prefix, lastIndex, req.GithubUsername)
	if err := w.objects.Upload(ctx, bucket, transcriptKey, bytes.NewReader(result.Transcript)); err != nil {
		return nil, err
	}

	verificationTime := w.now().Sub(start).Milliseconds()

	// Step 7: one batch — create the Contribution, update avgTimings and counters.
	contributionID := uuid.NewString()
	contribution := ceremony.Contribution{
		ID:                          contributionID,
		CircuitID:                   req.CircuitID,
		ParticipantID:               req.ParticipantID,
		ZkeyIndex:                   lastIndex,
		ContributionComputationTime: req.ContributionTimeInMillis,
		VerificationComputationTime: verificationTime,
		Files: ceremony.ContributionFiles{
			LastZkeyFilename:      fmt.Sprintf("%s_%s.zkey", circuit.Prefix, lastIndex),
			LastZkeyStoragePath:   candidateKey,
			LastZkeyBlake2bHash:   zkeyHash,
			TranscriptFilename:    fmt.Sprintf("%s_%s_%s_verification_transcript.log", circuit.Prefix, lastIndex, req.GithubUsername),
			TranscriptStoragePath: transcriptKey,
			TranscriptBlake2bHash: transcriptHash,
		},
		Valid:     result.Valid,
		CreatedAt: w.now(),
	}

	newAvgVerify := runningAverage(circuit.AvgTimings.VerifyCloudFunction, verificationTime)
	newAvgContribute := runningAverage(circuit.AvgTimings.ContributionComputation, req.ContributionTimeInMillis)
	newAvgFull := runningAverage(circuit.AvgTimings.FullContribution, req.ContributionTimeInMillis+verificationTime)

	circuitFields := map[string]any{
		"avgTimings.verifyCloudFunction":     newAvgVerify,
		"avgTimings.contributionComputation": newAvgContribute,
		"avgTimings.fullContribution":        newAvgFull,
	}
	if result.Valid {
		circuitFields["waitingQueue.completedContributions"] = circuit.WaitingQueue.CompletedContributions + 1
	} else {
		circuitFields["waitingQueue.failedContributions"] = circuit.WaitingQueue.FailedContributions + 1
	}

	b := w.records.NewBatch()
	b.Set(contributionsCollection, contributionID, &contribution)
	b.Update(circuitsCollection, req.CircuitID, circuitFields)
	if err := b.Commit(ctx); err != nil {
		return nil, err
	}

	// Step: the post-write hook is run inline here rather than as a
	// separate change-stream reaction, since this Worker is itself the
	// only writer of Contribution documents (spec §4.3's "separate
	// post-write hook" is satisfied by calling it directly after the
	// atomic step 7 commit, not by re-deriving it from a Watch).
	if err := w.refreshParticipantAfterVerification(ctx, req.CeremonyID, req.ParticipantID, contributionID, contribution); err != nil {
		return nil, err
	}

	return &Result{Valid: result.Valid, VerificationTimeInMillis: verificationTime}, nil
}

// refreshParticipantAfterVerification implements
// RefreshParticipantAfterContributionVerification (spec §4.3).
func (w *Worker) refreshParticipantAfterVerification(ctx context.Context, ceremonyID, participantID, contributionID string, c ceremony.Contribution) error {
	var participant ceremony.Participant
	if err := w.records.Get(ctx, participantsCollection, participantID, &participant); err != nil {
		return err
	}

	contributions := append(participant.Contributions, ceremony.ContributionRef{
		ContributionID:  contributionID,
		ComputationTime: c.ContributionComputationTime,
		Hash:            c.Files.LastZkeyBlake2bHash,
	})

	var circuits []ceremony.Circuit
	if err := w.records.List(ctx, circuitsCollection, map[string]any{"ceremonyId": ceremonyID}, &circuits); err != nil {
		return err
	}
	nextProgress := participant.ContributionProgress + 1
	status := ceremony.ParticipantReady
	if nextProgress > len(circuits) {
		status = ceremony.ParticipantContributed
	}

	b := w.records.NewBatch()
	b.Update(participantsCollection, participantID, map[string]any{
		"contributions":        contributions,
		"contributionProgress": nextProgress,
		"status":               status,
		"contributionStep":     ceremony.StepCompleted,
	})
	return b.Commit(ctx)
}

func (w *Worker) download(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := w.objects.Download(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, cerrors.Internal(errors.Wrapf(err, "verify: reading %q/%q", bucket, key))
	}
	return buf.Bytes(), nil
}

// runningAverage implements spec §4.3 step 7's "new = (old + sample)/2 if
// old>0, else sample".
func runningAverage(old, sample int64) int64 {
	if old > 0 {
		return (old + sample) / 2
	}
	return sample
}

func prevIndex(index string, width int) string {
	n, err := zkcrypto.ParseZkeyIndex(index, width)
	if err != nil || n == 0 {
		return zkcrypto.FormatZkeyIndex(0, width)
	}
	return zkcrypto.FormatZkeyIndex(n-1, width)
}

func contributionZkeyPath(ceremonyPrefix, circuitPrefix, zkeyIndex string) string {
	return fmt.Sprintf("%s/circuits/%s/contributions/%s_%s.zkey", ceremonyPrefix, circuitPrefix, circuitPrefix, zkeyIndex)
}

func transcriptPath(ceremonyPrefix, circuitPrefix, zkeyIndex, githubUsername string) string {
	return fmt.Sprintf("%s/circuits/%s/transcripts/%s_%s_%s_verification_transcript.log",
		ceremonyPrefix, circuitPrefix, circuitPrefix, zkeyIndex, githubUsername)
}
