// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"

	storage "github.com/jinterlante1206/LedgerLocal/services/gateway/storage/badger"
)

// keyPrefix namespaces queue entries inside the shared database.
const keyPrefix = "queue/"

// ErrNotFound is returned when no item carries the requested id.
var ErrNotFound = errors.New("queue: item not found")

// enqueueRequest is the validated shape of an Enqueue call.
type enqueueRequest struct {
	ResourceType string `validate:"required,oneof=transaction budget account loan category"`
	Action       Action `validate:"required,oneof=create update delete"`
}

// Store is the durable FIFO of pending mutations.
//
// # Description
//
// Items are stored under "queue/<seq>" with a zero-padded monotonic
// sequence, so BadgerDB's key order is the enqueue order. Every
// operation reads authoritative state from the store; no in-memory
// copy of the queue is trusted across operations.
//
// # Thread Safety
//
// Safe for concurrent use. The sequence counter is atomic; storage
// concurrency is BadgerDB's.
type Store struct {
	db       *storage.DB
	logger   *slog.Logger
	validate *validator.Validate
	seq      atomic.Uint64
}

// NewStore opens the queue over the given database and recovers the
// sequence counter from the highest persisted key.
func NewStore(ctx context.Context, db *storage.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:       db,
		logger:   logger,
		validate: validator.New(),
	}

	var last uint64
	err := db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			seq, err := seqOf(it.Item().Key())
			if err != nil {
				return err
			}
			if seq > last {
				last = seq
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recover queue sequence: %w", err)
	}
	s.seq.Store(last)
	return s, nil
}

// Enqueue appends a pending mutation and persists it before returning.
//
// # Description
//
// Assigns a unique id and enqueue timestamp. The write is synchronous
// (the database is opened with SyncWrites), so a crash immediately
// after Enqueue cannot silently drop the item.
//
// # Inputs
//
//   - resourceType: One of Resources.
//   - action: create, update, or delete.
//   - payload: JSON record for the server. Update/delete must carry
//     the entity's server-assigned "id".
//
// # Outputs
//
//   - *Item: The persisted item, including its assigned id.
//   - error: Non-nil on validation or storage failure.
func (s *Store) Enqueue(ctx context.Context, resourceType string, action Action, payload json.RawMessage) (*Item, error) {
	if err := s.validate.Struct(enqueueRequest{ResourceType: resourceType, Action: action}); err != nil {
		return nil, fmt.Errorf("invalid mutation: %w", err)
	}

	item := &Item{
		ID:           newID(time.Now()),
		ResourceType: resourceType,
		Action:       action,
		Payload:      payload,
		EnqueuedAt:   time.Now(),
		seq:          s.seq.Add(1),
	}
	if action != ActionCreate {
		if _, err := item.EntityID(); err != nil {
			return nil, err
		}
	}

	value, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode queue item: %w", err)
	}
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(itemKey(item.seq), value)
	})
	if err != nil {
		return nil, fmt.Errorf("persist queue item: %w", err)
	}

	s.logger.Info("mutation queued",
		"id", item.ID,
		"resource_type", resourceType,
		"action", string(action),
	)
	return item, nil
}

// List returns a snapshot of all items in enqueue (FIFO) order.
func (s *Store) List(ctx context.Context) ([]Item, error) {
	var items []Item
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			kvItem := it.Item()
			seq, err := seqOf(kvItem.Key())
			if err != nil {
				return err
			}
			var item Item
			if err := kvItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return fmt.Errorf("decode queue item: %w", err)
			}
			item.seq = seq
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Len returns the number of queued items, dead items included.
func (s *Store) Len(ctx context.Context) (int, error) {
	count := 0
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Remove deletes the item with the given id and persists the change
// immediately.
func (s *Store) Remove(ctx context.Context, id string) error {
	item, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(itemKey(item.seq))
	})
	if err != nil {
		return fmt.Errorf("remove queue item: %w", err)
	}
	s.logger.Info("mutation removed", "id", id)
	return nil
}

// Clear empties the queue and removes all persisted state.
func (s *Store) Clear(ctx context.Context) error {
	items, err := s.List(ctx)
	if err != nil {
		return err
	}
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, item := range items {
			if err := txn.Delete(itemKey(item.seq)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	if len(items) > 0 {
		s.logger.Info("mutation queue cleared", "removed", len(items))
	}
	return nil
}

// MarkFailure records a failed replay attempt.
//
// # Description
//
// Increments the item's attempt counter in place (the FIFO position is
// unchanged). When the failure is permanent (a non-retryable 4xx) and
// the attempt cap is reached, the item is parked as dead: the drain
// skips it, but it stays visible until explicitly removed.
//
// # Inputs
//
//   - id: The item id.
//   - permanent: True when the server rejected the item outright.
//   - deadAfter: Attempt count at which permanent failures park the
//     item. Zero disables parking.
func (s *Store) MarkFailure(ctx context.Context, id string, permanent bool, deadAfter int) error {
	item, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	item.Attempts++
	if permanent && deadAfter > 0 && item.Attempts >= deadAfter {
		item.Dead = true
		s.logger.Warn("mutation parked after repeated rejection",
			"id", id,
			"attempts", item.Attempts,
		)
	}

	value, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(itemKey(item.seq), value)
	})
}

func (s *Store) find(ctx context.Context, id string) (*Item, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, ErrNotFound
}

// itemKey builds the zero-padded storage key for a sequence number.
// Padding keeps lexicographic key order equal to numeric FIFO order.
func itemKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

// seqOf parses the sequence number out of a storage key.
func seqOf(key []byte) (uint64, error) {
	var seq uint64
	if _, err := fmt.Sscanf(string(key), keyPrefix+"%d", &seq); err != nil {
		return 0, fmt.Errorf("malformed queue key %q: %w", key, err)
	}
	return seq, nil
}
