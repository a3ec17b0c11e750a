// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package api

import (
	"context"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/upload"
	"github.com/ethereum/zk-ceremony-coordinator/store/object"
)

// UploadAPI implements the four Multi-Part Upload Protocol entry points
// (spec §4.5, §6) by delegating to ceremony/upload.Service.
type UploadAPI struct {
	uploads *upload.Service
}

// NewUploadAPI builds an UploadAPI.
func NewUploadAPI(uploads *upload.Service) *UploadAPI {
	return &UploadAPI{uploads: uploads}
}

func (u *UploadAPI) StartMultiPartUpload(ctx context.Context, ceremonyID, circuitID, participantID, objectKey string) (string, error) {
	return u.uploads.StartMultiPartUpload(ctx, ceremonyID, circuitID, participantID, objectKey)
}

func (u *UploadAPI) GeneratePreSignedUrlsParts(ctx context.Context, ceremonyID, circuitID, participantID, objectKey, uploadID string, numberOfParts int32) ([]string, error) {
	return u.uploads.GeneratePreSignedUrlsParts(ctx, ceremonyID, circuitID, participantID, objectKey, uploadID, numberOfParts)
}

func (u *UploadAPI) CompleteMultiPartUpload(ctx context.Context, ceremonyID, circuitID, participantID, objectKey, uploadID string, parts []object.Part) (string, error) {
	return u.uploads.CompleteMultiPartUpload(ctx, ceremonyID, circuitID, participantID, objectKey, uploadID, parts)
}

func (u *UploadAPI) GenerateGetObjectPreSignedUrl(ctx context.Context, ceremonyID, bucket, objectKey string, isCoordinator bool) (string, error) {
	return u.uploads.GenerateGetObjectPreSignedUrl(ctx, ceremonyID, bucket, objectKey, isCoordinator)
}

// PersistChunk records one completed PUT's {ETag, PartNumber} so an
// interrupted client can resume from the highest part it persisted (spec
// §4.5, the "TemporaryStore…ChunkData" entry point).
func (u *UploadAPI) PersistChunk(ctx context.Context, participantID string, part ceremony.UploadedPart) error {
	return u.uploads.PersistChunk(ctx, participantID, part)
}
