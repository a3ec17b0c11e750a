// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package upload is the Multi-Part Upload Protocol (spec §4.5): the four
// server-side operations a contributor's client drives while resumably
// uploading a candidate zkey through the Artifact Store Adapter, never
// holding long-lived storage credentials itself.
package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
	"github.com/ethereum/zk-ceremony-coordinator/internal/zkcrypto"
	"github.com/ethereum/zk-ceremony-coordinator/store/object"
	"github.com/ethereum/zk-ceremony-coordinator/store/record"
)

const (
	ceremoniesCollection   = "ceremonies"
	circuitsCollection     = "circuits"
	participantsCollection = "participants"
)

// Service implements the four callable entry points of spec §4.5.
type Service struct {
	records record.Store
	objects object.Store
	bucket  func(ceremonyPrefix string) string
	width   int
	ttl     time.Duration
}

// Config collects Service's fixed dependencies.
type Config struct {
	Records           record.Store
	Objects           object.Store
	BucketForCeremony func(ceremonyPrefix string) string
	ZkeyIndexWidth    int
	PresignTTL        time.Duration // defaults to 7200s per spec §5.
}

// New builds a Service from cfg.
func New(cfg Config) *Service {
	ttl := cfg.PresignTTL
	if ttl == 0 {
		ttl = 7200 * time.Second
	}
	return &Service{
		records: cfg.Records,
		objects: cfg.Objects,
		bucket:  cfg.BucketForCeremony,
		width:   cfg.ZkeyIndexWidth,
		ttl:     ttl,
	}
}

// StartMultiPartUpload opens a multipart upload for objectKey and persists
// tempContributionData.uploadId on the calling participant.
func (s *Service) StartMultiPartUpload(ctx context.Context, ceremonyID, circuitID, participantID, objectKey string) (string, error) {
	bucket, err := s.authorize(ctx, ceremonyID, circuitID, participantID, objectKey)
	if err != nil {
		return "", err
	}

	uploadID, err := s.objects.StartMultipartUpload(ctx, bucket, objectKey)
	if err != nil {
		return "", err
	}

	b := s.records.NewBatch()
	b.Update(participantsCollection, participantID, map[string]any{
		"tempContributionData.uploadId": uploadID,
		"tempContributionData.chunks":   []ceremony.UploadedPart{},
	})
	if err := b.Commit(ctx); err != nil {
		return "", err
	}
	return uploadID, nil
}

// GeneratePreSignedUrlsParts returns one presigned PUT URL per part number.
func (s *Service) GeneratePreSignedUrlsParts(ctx context.Context, ceremonyID, circuitID, participantID, objectKey, uploadID string, numberOfParts int32) ([]string, error) {
	bucket, err := s.authorize(ctx, ceremonyID, circuitID, participantID, objectKey)
	if err != nil {
		return nil, err
	}
	return s.objects.PresignUploadParts(ctx, bucket, objectKey, uploadID, numberOfParts, s.ttl)
}

// CompleteMultiPartUpload commits the uploaded parts and returns the
// object's final location.
func (s *Service) CompleteMultiPartUpload(ctx context.Context, ceremonyID, circuitID, participantID, objectKey, uploadID string, parts []object.Part) (string, error) {
	bucket, err := s.authorize(ctx, ceremonyID, circuitID, participantID, objectKey)
	if err != nil {
		return "", err
	}
	return s.objects.CompleteMultipartUpload(ctx, bucket, objectKey, uploadID, parts)
}

// GenerateGetObjectPreSignedUrl returns a presigned, time-limited download
// URL. Only coordinators are served; every other caller, including a
// circuit's current contributor, gets PermissionDenied.
func (s *Service) GenerateGetObjectPreSignedUrl(ctx context.Context, ceremonyID, bucket, objectKey string, isCoordinator bool) (string, error) {
	if !isCoordinator {
		return "", cerrors.PermissionDenied("GenerateGetObjectPreSignedUrl requires the coordinator role")
	}
	var cer ceremony.Ceremony
	if err := s.records.Get(ctx, ceremoniesCollection, ceremonyID, &cer); err != nil {
		return "", err
	}
	return s.objects.PresignGetObject(ctx, bucket, objectKey, s.ttl)
}

// authorize enforces spec §4.5's authorization rule: objectKey must equal
// the caller's current contribution slot path, and the caller must be the
// circuit's current contributor.
func (s *Service) authorize(ctx context.Context, ceremonyID, circuitID, participantID, objectKey string) (bucket string, err error) {
	var cer ceremony.Ceremony
	if err := s.records.Get(ctx, ceremoniesCollection, ceremonyID, &cer); err != nil {
		return "", err
	}
	var circuit ceremony.Circuit
	if err := s.records.Get(ctx, circuitsCollection, circuitID, &circuit); err != nil {
		return "", err
	}
	if circuit.WaitingQueue.CurrentContributor != participantID {
		return "", cerrors.PermissionDenied(fmt.Sprintf(
			"%q is not the current contributor of circuit %q", participantID, circuitID))
	}

	var participant ceremony.Participant
	if err := s.records.Get(ctx, participantsCollection, participantID, &participant); err != nil {
		return "", err
	}
	zkeyIndex := zkcrypto.FormatZkeyIndex(int(circuit.WaitingQueue.CompletedContributions)+1, s.width)
	expected := fmt.Sprintf("%s/circuits/%s/contributions/%s_%s.zkey", cer.Prefix, circuit.Prefix, circuit.Prefix, zkeyIndex)
	if objectKey != expected {
		return "", cerrors.FailedPrecondition(errors.Wrapf(cerrors.ErrPathMismatch, "got %q, want %q", objectKey, expected))
	}
	return s.bucket(cer.Prefix), nil
}

// PersistChunk records one completed PUT in tempContributionData.chunks,
// per spec §4.5's client discipline ("after each successful PUT, the
// client persists {ETag, PartNumber}").
func (s *Service) PersistChunk(ctx context.Context, participantID string, part ceremony.UploadedPart) error {
	var participant ceremony.Participant
	if err := s.records.Get(ctx, participantsCollection, participantID, &participant); err != nil {
		return err
	}
	chunks := append(participant.TempContributionData.Chunks, part)
	b := s.records.NewBatch()
	b.Update(participantsCollection, participantID, map[string]any{"tempContributionData.chunks": chunks})
	return b.Commit(ctx)
}

// PermanentlyStoreCurrentContributionTimeAndHash implements the spec §6
// entry point of the same name: it records the client-measured computation
// time once the contribution finishes uploading, ahead of VerifyContribution.
func (s *Service) PermanentlyStoreCurrentContributionTimeAndHash(ctx context.Context, circuitID, participantID string, computationTimeMillis int64) error {
	var circuit ceremony.Circuit
	if err := s.records.Get(ctx, circuitsCollection, circuitID, &circuit); err != nil {
		return err
	}
	if circuit.WaitingQueue.CurrentContributor != participantID {
		return cerrors.PermissionDenied(fmt.Sprintf(
			"%q is not the current contributor of circuit %q", participantID, circuitID))
	}
	b := s.records.NewBatch()
	b.Update(participantsCollection, participantID, map[string]any{
		"tempContributionData.contributionComputationTime": computationTimeMillis,
		"contributionStep": ceremony.StepVerifying,
	})
	return b.Commit(ctx)
}
