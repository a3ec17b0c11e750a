// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package objecttest is an in-memory fake of store/object.Store for unit
// tests of the Verification Worker and the multi-part upload protocol,
// grounded on the same in-memory-test-backend convention as
// store/record/recordtest.
package objecttest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
	"github.com/ethereum/zk-ceremony-coordinator/store/object"
)

type upload struct {
	bucket, key string
	parts       map[int32][]byte
}

// Store is an in-memory object.Store.
type Store struct {
	mu       sync.Mutex
	buckets  map[string]bool
	objects  map[string][]byte // bucket/key -> bytes
	uploads  map[string]*upload
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		buckets: map[string]bool{},
		objects: map[string][]byte{},
		uploads: map[string]*upload{},
	}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (s *Store) CreateBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] {
		return cerrors.AlreadyExists(errors.Newf("bucket %q already exists", bucket))
	}
	s.buckets[bucket] = true
	return nil
}

func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objKey(bucket, key)]
	return ok, nil
}

func (s *Store) StartMultipartUpload(ctx context.Context, bucket, key string) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[id] = &upload{bucket: bucket, key: key, parts: map[int32][]byte{}}
	return id, nil
}

// PresignUploadParts returns fake "fake-upload://" URLs; objecttest.Store
// additionally exposes WritePart for tests to simulate the client's PUT.
func (s *Store) PresignUploadParts(ctx context.Context, bucket, key, uploadID string, numberOfParts int32, expiration time.Duration) ([]string, error) {
	urls := make([]string, 0, numberOfParts)
	for p := int32(1); p <= numberOfParts; p++ {
		urls = append(urls, fmt.Sprintf("fake-upload://%s/%s/%d", uploadID, key, p))
	}
	return urls, nil
}

// WritePart simulates a client PUTting part data to a presigned URL,
// returning the ETag the client would persist to tempContributionData.chunks.
func (s *Store) WritePart(uploadID string, partNumber int32, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok {
		return "", errors.Newf("objecttest: no such upload %q", uploadID)
	}
	u.parts[partNumber] = append([]byte(nil), data...)
	return fmt.Sprintf("etag-%d-%d", partNumber, len(data)), nil
}

func (s *Store) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []object.Part) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok {
		return "", cerrors.Internal(errors.Newf("objecttest: no such upload %q", uploadID))
	}
	ordered := append([]object.Part(nil), parts...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PartNumber < ordered[j].PartNumber })
	var buf bytes.Buffer
	for _, p := range ordered {
		data, ok := u.parts[p.PartNumber]
		if !ok {
			return "", cerrors.Internal(errors.Newf("objecttest: missing part %d", p.PartNumber))
		}
		buf.Write(data)
	}
	s.objects[objKey(bucket, key)] = buf.Bytes()
	delete(s.uploads, uploadID)
	return fmt.Sprintf("fake://%s/%s", bucket, key), nil
}

func (s *Store) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, uploadID)
	return nil
}

func (s *Store) PresignGetObject(ctx context.Context, bucket, key string, expiration time.Duration) (string, error) {
	return fmt.Sprintf("fake-get://%s/%s", bucket, key), nil
}

func (s *Store) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objKey(bucket, key)]
	if !ok {
		return nil, cerrors.NotFound(errors.Newf("objecttest: %s/%s not found", bucket, key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objKey(bucket, key)] = data
	return nil
}
