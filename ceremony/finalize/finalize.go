// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package finalize is Finalization (spec §4.6): the coordinator-only
// closing sequence that runs a deterministic beacon contribution for each
// circuit of a CLOSED ceremony, exports the verification key and Solidity
// verifier, and flips the ceremony to FINALIZED once every circuit holds
// exactly one valid zkeyIndex=="final" Contribution.
package finalize

import (
	"bytes"
	"context"
	"fmt"

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
	contributionsCollection = "contributions"
)

// Service performs circuit and ceremony finalization.
type Service struct {
	records record.Store
	objects object.Store
	engine  zkcrypto.Engine
	bucket  func(ceremonyPrefix string) string
	width   int
}

// Config collects Service's fixed dependencies.
type Config struct {
	Records           record.Store
	Objects           object.Store
	Engine            zkcrypto.Engine
	BucketForCeremony func(ceremonyPrefix string) string
	ZkeyIndexWidth    int
}

// New builds a Service from cfg.
func New(cfg Config) *Service {
	return &Service{records: cfg.Records, objects: cfg.Objects, engine: cfg.Engine, bucket: cfg.BucketForCeremony, width: cfg.ZkeyIndexWidth}
}

// FinalizeCircuit runs the beacon contribution for one circuit and commits
// its canonical final artifacts (spec §4.6, §6 FinalizeCircuit).
func (s *Service) FinalizeCircuit(ctx context.Context, ceremonyID, circuitID string, beaconValue []byte) error {
	var cer ceremony.Ceremony
	if err := s.records.Get(ctx, ceremoniesCollection, ceremonyID, &cer); err != nil {
		return err
	}
	if cer.State != ceremony.CeremonyClosed {
		return cerrors.FailedPrecondition(cerrors.ErrCeremonyNotClosed)
	}
	var circuit ceremony.Circuit
	if err := s.records.Get(ctx, circuitsCollection, circuitID, &circuit); err != nil {
		return err
	}

	var existing []ceremony.Contribution
	if err := s.records.List(ctx, contributionsCollection, map[string]any{"circuitId": circuitID, "zkeyIndex": ceremony.FinalZkeyIndex}, &existing); err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil // idempotent: already finalized.
	}

	bucket := s.bucket(cer.Prefix)
	lastIndex := zkcrypto.FormatZkeyIndex(int(circuit.WaitingQueue.CompletedContributions), s.width)
	previousKey := fmt.Sprintf("%s/circuits/%s/contributions/%s_%s.zkey", cer.Prefix, circuit.Prefix, circuit.Prefix, lastIndex)
	previousZkey, err := s.download(ctx, bucket, previousKey)
	if err != nil {
		return err
	}

	finalZkey, err := s.engine.Beacon(previousZkey, beaconValue)
	if err != nil {
		return cerrors.Internal(errors.Wrap(err, "finalize: beacon contribution failed"))
	}
	vkeyJSON, err := s.engine.ExportVerificationKey(finalZkey)
	if err != nil {
		return cerrors.Internal(errors.Wrap(err, "finalize: exporting verification key failed"))
	}
	verifierSol, err := s.engine.ExportVerifierContract(finalZkey)
	if err != nil {
		return cerrors.Internal(errors.Wrap(err, "finalize: exporting verifier contract failed"))
	}

	finalKey := fmt.Sprintf("%s/circuits/%s/contributions/%s_%s.zkey", cer.Prefix, circuit.Prefix, circuit.Prefix, ceremony.FinalZkeyIndex)
	vkeyKey := fmt.Sprintf("%s/circuits/%s/%s_verification_key.json", cer.Prefix, circuit.Prefix, circuit.Prefix)
	verifierKey := fmt.Sprintf("%s/circuits/%s/%s_verifier.sol", cer.Prefix, circuit.Prefix, circuit.Prefix)

	if err := s.objects.Upload(ctx, bucket, finalKey, bytes.NewReader(finalZkey)); err != nil {
		return err
	}
	if err := s.objects.Upload(ctx, bucket, vkeyKey, bytes.NewReader(vkeyJSON)); err != nil {
		return err
	}
	if err := s.objects.Upload(ctx, bucket, verifierKey, bytes.NewReader(verifierSol)); err != nil {
		return err
	}

	contribution := &ceremony.Contribution{
		ID:        uuid.NewString(),
		CircuitID: circuitID,
		ZkeyIndex: ceremony.FinalZkeyIndex,
		Valid:     true,
		Beacon:    &ceremony.Beacon{Value: fmt.Sprintf("%x", beaconValue), Hash: zkcrypto.Blake2b512HexBytes(beaconValue)},
		Files: ceremony.ContributionFiles{
			LastZkeyFilename:     fmt.Sprintf("%s_%s.zkey", circuit.Prefix, ceremony.FinalZkeyIndex),
			LastZkeyStoragePath:  finalKey,
			LastZkeyBlake2bHash:  zkcrypto.Blake2b512HexBytes(finalZkey),
			VerificationKeyPath:  vkeyKey,
			VerifierContractPath: verifierKey,
		},
	}

	b := s.records.NewBatch()
	b.Set(contributionsCollection, contribution.ID, contribution)
	return b.Commit(ctx)
}

// FinalizeCeremony flips cer to FINALIZED once every circuit has exactly
// one valid final Contribution (spec §4.6 invariant, §6 FinalizeCeremony).
func (s *Service) FinalizeCeremony(ctx context.Context, ceremonyID string) error {
	var cer ceremony.Ceremony
	if err := s.records.Get(ctx, ceremoniesCollection, ceremonyID, &cer); err != nil {
		return err
	}
	if cer.State != ceremony.CeremonyClosed {
		return cerrors.FailedPrecondition(cerrors.ErrCeremonyNotClosed)
	}

	var circuits []ceremony.Circuit
	if err := s.records.List(ctx, circuitsCollection, map[string]any{"ceremonyId": ceremonyID}, &circuits); err != nil {
		return err
	}
	for _, circuit := range circuits {
		var finals []ceremony.Contribution
		if err := s.records.List(ctx, contributionsCollection, map[string]any{"circuitId": circuit.ID, "zkeyIndex": ceremony.FinalZkeyIndex}, &finals); err != nil {
			return err
		}
		if len(finals) != 1 || !finals[0].Valid {
			return cerrors.FailedPrecondition(errors.Wrapf(cerrors.ErrOpenCircuitsRemain, "circuit %q", circuit.ID))
		}
	}

	b := s.records.NewBatch()
	b.Update(ceremoniesCollection, ceremonyID, map[string]any{"state": ceremony.CeremonyFinalized})
	return b.Commit(ctx)
}

func (s *Service) download(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := s.objects.Download(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, cerrors.Internal(errors.Wrapf(err, "finalize: reading %q/%q", bucket, key))
	}
	return buf.Bytes(), nil
}
