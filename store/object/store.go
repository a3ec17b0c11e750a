// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package object defines the Artifact Store Adapter (spec §4, component
// 1): bucket creation, object existence, multi-part upload open/sign-parts/
// close, pre-signed GET, and streamed download. The s3 subpackage is the
// concrete implementation, grounded on the AWS S3 multipart upload API
// which spec §4.5's operations are named after almost verbatim.
package object

import (
	"context"
	"io"
	"time"
)

// Part is one uploaded chunk, identified the way S3's CompleteMultipartUpload
// expects (spec §3 Participant.tempContributionData.chunks, spec §4.5).
type Part struct {
	ETag       string
	PartNumber int32
}

// Store is the Artifact Store Adapter.
type Store interface {
	// CreateBucket provisions the ceremony's bucket. It is not idempotent:
	// creating an existing bucket returns an ALREADY_EXISTS error
	// (spec §6 CreateBucket).
	CreateBucket(ctx context.Context, bucket string) error

	// Exists reports whether key is present in bucket.
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// StartMultipartUpload opens a multipart upload, returning its id
	// (spec §4.5 StartMultiPartUpload).
	StartMultipartUpload(ctx context.Context, bucket, key string) (uploadID string, err error)

	// PresignUploadParts returns one presigned PUT URL per part number,
	// expiring after expiration (spec §4.5 GeneratePreSignedUrlsParts).
	PresignUploadParts(ctx context.Context, bucket, key, uploadID string, numberOfParts int32, expiration time.Duration) ([]string, error)

	// CompleteMultipartUpload commits the parts, returning the object's
	// location (spec §4.5 CompleteMultiPartUpload).
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []Part) (location string, err error)

	// AbortMultipartUpload releases an upload's resources; not in the
	// spec's table but required to avoid orphaned uploads when a
	// participant is evicted mid-upload (spec §4.4's eviction does not
	// itself clean up an in-flight upload; the next contributor's slot
	// reuse overwrites the same key regardless, so this is best-effort).
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error

	// PresignGetObject returns a presigned, time-limited download URL
	// (spec §4.5 GenerateGetObjectPreSignedUrl).
	PresignGetObject(ctx context.Context, bucket, key string, expiration time.Duration) (string, error)

	// Download streams the object's bytes, used server-side by the
	// Verification Worker (spec §4.3 step 3).
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Upload writes body to bucket/key directly (used for small artifacts
	// such as the verification transcript, spec §4.3 step 6, and the
	// finalization exports, spec §4.6 — neither needs multipart framing).
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
}
