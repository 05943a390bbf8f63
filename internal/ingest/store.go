// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/channelmetrics/internal/config"
	"github.com/tomtom215/channelmetrics/internal/logging"
	"github.com/tomtom215/channelmetrics/internal/models"
)

// Badger key prefixes.
const (
	rawKeyPrefix = "raw:"
	jobKeyPrefix = "job:"
)

// DefaultJobHistoryTTL is how long terminal job snapshots are kept.
const DefaultJobHistoryTTL = 90 * 24 * time.Hour

// RawStore keeps raw report payloads downloaded in raw-only mode.
type RawStore interface {
	SaveRaw(ctx context.Context, date time.Time, kind models.ReportKind, data []byte) error
	LoadRaw(ctx context.Context, date time.Time, kind models.ReportKind) ([]byte, error)
}

// JobHistory keeps terminal job snapshots across restarts.
type JobHistory interface {
	SaveJob(ctx context.Context, job *BackfillJob) error
	GetJob(ctx context.Context, id string) (*BackfillJob, error)
	ListJobs(ctx context.Context, limit int) ([]*BackfillJob, error)
}

// OpenBadger opens the key-value store described by cfg.
func OpenBadger(cfg *config.StoreConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.BadgerPath)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	logging.Info().
		Str("path", cfg.BadgerPath).
		Bool("in_memory", cfg.InMemory).
		Msg("Badger store opened")
	return db, nil
}

// BadgerStore implements RawStore and JobHistory on one Badger database.
type BadgerStore struct {
	db     *badger.DB
	jobTTL time.Duration
}

// NewBadgerStore wraps an open Badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, jobTTL: DefaultJobHistoryTTL}
}

func rawKey(date time.Time, kind models.ReportKind) []byte {
	return []byte(rawKeyPrefix + models.FormatDate(date) + ":" + string(kind))
}

// SaveRaw stores data under raw:<date>:<kind>, replacing any earlier payload.
func (s *BadgerStore) SaveRaw(_ context.Context, date time.Time, kind models.ReportKind, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rawKey(date, kind), data)
	})
}

// LoadRaw returns the stored payload or ErrRawPayloadNotFound.
func (s *BadgerStore) LoadRaw(_ context.Context, date time.Time, kind models.ReportKind) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(rawKey(date, kind))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrRawPayloadNotFound, models.FormatDate(date), kind)
	}
	if err != nil {
		return nil, fmt.Errorf("load raw payload: %w", err)
	}
	return data, nil
}

// SaveJob stores a job snapshot under job:<id> with the history TTL.
func (s *BadgerStore) SaveJob(_ context.Context, job *BackfillJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(jobKeyPrefix+job.ID), data).WithTTL(s.jobTTL)
		return txn.SetEntry(entry)
	})
}

// GetJob returns a stored job snapshot or ErrJobNotFound.
func (s *BadgerStore) GetJob(_ context.Context, id string) (*BackfillJob, error) {
	var job BackfillJob
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(jobKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return &job, nil
}

// ListJobs returns stored job snapshots, newest first, at most limit (0 = all).
func (s *BadgerStore) ListJobs(_ context.Context, limit int) ([]*BackfillJob, error) {
	var jobs []*BackfillJob
	prefix := []byte(jobKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if !bytes.HasPrefix(item.Key(), prefix) {
				continue
			}
			var job BackfillJob
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return fmt.Errorf("decode job %s: %w", item.Key(), err)
			}
			jobs = append(jobs, &job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
