// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package record defines the Record Store Adapter (spec §4, component 2):
// an interface over a document database with sub-collections, atomic
// multi-document writes ("batches"), and change-notification subscriptions
// on a single document. The mongo subpackage is the concrete
// implementation; recordtest is an in-memory fake for unit tests.
package record

import "context"

// Batch collects writes that must commit atomically or not at all (spec
// §4.1/§4.3/§4.4 "one batch"). Callers build a Batch, add operations, then
// Commit it; a commit failure leaves every targeted document unchanged.
type Batch interface {
	// Set replaces the document at collection/id with doc (create-or-replace).
	Set(collection, id string, doc any)
	// Update applies a partial field update, identified by dotted paths,
	// to the document at collection/id.
	Update(collection, id string, fields map[string]any)
	// Commit executes every queued operation as one atomic transaction.
	Commit(ctx context.Context) error
}

// Subscription delivers a stream of documents whenever the watched
// document changes, implementing spec §2's "change-notification
// subscriptions on a single document".
type Subscription interface {
	// Next blocks until the watched document changes or ctx is done,
	// decoding the new document into out.
	Next(ctx context.Context, out any) error
	Close() error
}

// Store is the Record Store Adapter.
type Store interface {
	// Get decodes the document at collection/id into out. Returns an
	// error satisfying cerrors.IsNotFound if absent.
	Get(ctx context.Context, collection, id string, out any) error

	// List decodes every document in collection matching filter into out
	// (a pointer to a slice).
	List(ctx context.Context, collection string, filter map[string]any, out any) error

	// NewBatch starts a new atomic write batch.
	NewBatch() Batch

	// Watch opens a Subscription on the document at collection/id.
	Watch(ctx context.Context, collection, id string) (Subscription, error)
}
