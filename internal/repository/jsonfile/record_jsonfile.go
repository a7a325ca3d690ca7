// Package jsonfile persists document records as a single JSON file: every
// read loads the whole collection and every write rewrites it. A process
// mutex serializes the read-modify-write cycle per store, and the file is
// replaced via temp file + atomic rename so readers never observe a
// half-written collection.
//
// It suits the single-process deployment shape; multi-process setups should
// use the postgres implementation instead.
package jsonfile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"docsign/internal/model"
	"docsign/internal/repository"
)

// RecordFile is a file-backed implementation of
// repository.RecordRepository.
type RecordFile struct {
	path string
	mu   sync.Mutex
}

// NewRecordFile opens (or initializes) the collection file at path.
func NewRecordFile(path string) (*RecordFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeCollection(path, []model.DocumentRecord{}); err != nil {
			return nil, fmt.Errorf("initialize store: %w", err)
		}
	} else if err != nil {
		return nil, err
	}
	return &RecordFile{path: path}, nil
}

var _ repository.RecordRepository = (*RecordFile)(nil)

// Create appends a new record, rejecting duplicate ids.
func (r *RecordFile) Create(ctx context.Context, rec *model.DocumentRecord) (*model.DocumentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.load()
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].ID == rec.ID {
			return nil, repository.ErrDuplicateID
		}
	}
	stored := *rec
	recs = append(recs, stored)
	if err := writeCollection(r.path, recs); err != nil {
		return nil, err
	}
	return &stored, nil
}

// FindByID returns the record with the given id, or sql.ErrNoRows.
func (r *RecordFile) FindByID(ctx context.Context, id string) (*model.DocumentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.load()
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].ID == id {
			rec := recs[i]
			return &rec, nil
		}
	}
	return nil, sql.ErrNoRows
}

// MarkSigned flips the record to signed under the store lock, so of two
// concurrent callers exactly one wins and the other observes
// ErrAlreadySigned.
func (r *RecordFile) MarkSigned(ctx context.Context, id, signedPath string) (*model.DocumentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.load()
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].ID != id {
			continue
		}
		if recs[i].Signed {
			return nil, repository.ErrAlreadySigned
		}
		recs[i].Signed = true
		recs[i].SignedPath = signedPath
		if err := writeCollection(r.path, recs); err != nil {
			return nil, err
		}
		rec := recs[i]
		return &rec, nil
	}
	return nil, sql.ErrNoRows
}

// List pages through the collection in insertion order, newest last.
func (r *RecordFile) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.DocumentRecord], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.load()
	if err != nil {
		return nil, err
	}

	total := len(recs)
	start := pq.Offset
	if start > total {
		start = total
	}
	end := start + pq.Limit
	if pq.Limit <= 0 || end > total {
		end = total
	}

	items := make([]model.DocumentRecord, end-start)
	copy(items, recs[start:end])

	return &repository.PageResult[model.DocumentRecord]{Items: items, Total: total}, nil
}

func (r *RecordFile) load() ([]model.DocumentRecord, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	var recs []model.DocumentRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	return recs, nil
}

// writeCollection rewrites the whole collection atomically: serialize into a
// temp file in the same directory, then rename over the store path.
func writeCollection(path string, recs []model.DocumentRecord) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".records-*.json")
	if err != nil {
		return fmt.Errorf("stage store write: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("stage store write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("stage store write: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit store write: %w", err)
	}
	return nil
}
