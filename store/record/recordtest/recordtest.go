// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package recordtest is an in-memory fake of store/record.Store, grounded
// on the teacher's practice of shipping in-memory test backends alongside
// real adapters (observed in the retrieved eth/filters/test_backend.go and
// miner/test_backend.go helper files). It gives the Queue Manager, State
// Machine, Timeout Controller and Verification Worker tests a fast,
// deterministic Record Store without a real MongoDB.
package recordtest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
	"github.com/ethereum/zk-ceremony-coordinator/store/record"
)

// Store is an in-memory record.Store. The zero value is ready to use.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string][]byte // collection -> id -> json doc
	watchers    map[string][]chan []byte     // "collection/id" -> subscribers
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		collections: map[string]map[string][]byte{},
		watchers:    map[string][]chan []byte{},
	}
}

func (s *Store) coll(name string) map[string][]byte {
	c, ok := s.collections[name]
	if !ok {
		c = map[string][]byte{}
		s.collections[name] = c
	}
	return c
}

func (s *Store) Get(ctx context.Context, collection, id string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.coll(collection)[id]
	if !ok {
		return cerrors.NotFound(errors.Newf("%s/%s not found", collection, id))
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) List(ctx context.Context, collection string, filter map[string]any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []json.RawMessage
	for _, raw := range s.coll(collection) {
		if matches(raw, filter) {
			docs = append(docs, json.RawMessage(raw))
		}
	}
	blob, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	return json.Unmarshal(blob, out)
}

func matches(raw []byte, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	for k, v := range filter {
		if fields[k] != v {
			return false
		}
	}
	return true
}

// setDotted assigns value into doc at a MongoDB-style dotted field path
// (e.g. "waitingQueue.contributors"), creating intermediate maps as
// needed, so the in-memory fake round-trips through the same nested JSON
// shape record/mongo's $set would produce against a real document.
func setDotted(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

type batchOp struct {
	collection string
	id         string
	set        any
	update     map[string]any
}

type batch struct {
	store *Store
	ops   []batchOp
}

func (s *Store) NewBatch() record.Batch { return &batch{store: s} }

func (b *batch) Set(collection, id string, doc any) {
	b.ops = append(b.ops, batchOp{collection: collection, id: id, set: doc})
}

func (b *batch) Update(collection, id string, fields map[string]any) {
	b.ops = append(b.ops, batchOp{collection: collection, id: id, update: fields})
}

// Commit applies every queued op, atomically from the caller's
// perspective: a marshal failure aborts before any mutation is visible.
func (b *batch) Commit(ctx context.Context) error {
	type pending struct {
		collection, id string
		raw            []byte
	}
	var toApply []pending

	b.store.mu.Lock()
	for _, o := range b.ops {
		if o.set != nil {
			raw, err := json.Marshal(o.set)
			if err != nil {
				b.store.mu.Unlock()
				return err
			}
			toApply = append(toApply, pending{o.collection, o.id, raw})
			continue
		}
		existing := map[string]any{}
		if raw, ok := b.store.coll(o.collection)[o.id]; ok {
			_ = json.Unmarshal(raw, &existing)
		}
		for k, v := range o.update {
			setDotted(existing, k, v)
		}
		raw, err := json.Marshal(existing)
		if err != nil {
			b.store.mu.Unlock()
			return err
		}
		toApply = append(toApply, pending{o.collection, o.id, raw})
	}
	for _, p := range toApply {
		b.store.coll(p.collection)[p.id] = p.raw
	}
	b.store.mu.Unlock()

	for _, p := range toApply {
		b.store.notify(p.collection, p.id, p.raw)
	}
	return nil
}

func (s *Store) notify(collection, id string, raw []byte) {
	s.mu.Lock()
	subs := append([]chan []byte(nil), s.watchers[collection+"/"+id]...)
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- raw:
		default:
		}
	}
}

type subscription struct {
	ch   chan []byte
	stop func()
}

func (s *Store) Watch(ctx context.Context, collection, id string) (record.Subscription, error) {
	ch := make(chan []byte, 16)
	key := collection + "/" + id
	s.mu.Lock()
	s.watchers[key] = append(s.watchers[key], ch)
	s.mu.Unlock()
	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.watchers[key]
		for i, c := range subs {
			if c == ch {
				s.watchers[key] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return &subscription{ch: ch, stop: stop}, nil
}

func (sub *subscription) Next(ctx context.Context, out any) error {
	select {
	case raw := <-sub.ch:
		return json.Unmarshal(raw, out)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sub *subscription) Close() error {
	sub.stop()
	return nil
}
