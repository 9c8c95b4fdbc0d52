package sdb

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/pg-sharding/gapseq/pkg/models/seqerr"
	"github.com/pg-sharding/gapseq/pkg/seqlog"
)

// MemSDB keeps sequences in process memory, optionally backed by a
// JSON snapshot file. It exists for tests and single-process
// embedding: unlike SQLSDB it serializes callers with a plain mutex,
// so it gives no cross-process guarantees.
type MemSDB struct {
	mu sync.RWMutex

	Sequences map[string]int64 `json:"sequences"`

	backupPath string
}

var _ SDB = &MemSDB{}

func NewMemSDB(backupPath string) (*MemSDB, error) {
	return &MemSDB{
		Sequences:  map[string]int64{},
		backupPath: backupPath,
	}, nil
}

func RestoreSDB(backupPath string) (*MemSDB, error) {
	sdb, err := NewMemSDB(backupPath)
	if err != nil {
		return nil, err
	}
	if backupPath == "" {
		return sdb, nil
	}
	if _, err := os.Stat(backupPath); err != nil {
		seqlog.Zero.Info().Err(err).Msg("memsdb backup file not exists. Creating new one.")
		f, err := os.Create(backupPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return sdb, nil
	}
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, sdb); err != nil {
		return nil, err
	}
	return sdb, nil
}

func (s *MemSDB) DumpState() error {
	if s.backupPath == "" {
		return nil
	}
	s.mu.RLock()
	state, err := json.MarshalIndent(s, "", "	")
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	tmpPath := s.backupPath + ".tmp"
	if err := os.WriteFile(tmpPath, state, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.backupPath)
}

func (s *MemSDB) CurrVal(ctx context.Context, name string) (int64, error) {
	if name == "" {
		name = DefaultSequenceName
	}
	seqlog.Zero.Debug().Str("sequence", name).Msg("memsdb: curr val")

	s.mu.RLock()
	defer s.mu.RUnlock()

	last, ok := s.Sequences[name]
	if !ok {
		return 0, seqerr.Newf(seqerr.SEQ_NOT_FOUND, "sequence %q was never allocated", name)
	}
	return last, nil
}

func (s *MemSDB) NextVal(ctx context.Context, req *AllocRequest) (int64, error) {
	r := req.normalized()
	if err := r.Validate(); err != nil {
		return 0, err
	}
	seqlog.Zero.Debug().Str("sequence", r.Name).Msg("memsdb: next val")

	p := &allocParams{
		name:      r.Name,
		createVal: r.Initial,
		increment: 1,
		initial:   r.Initial,
		reset:     r.Reset,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateLocked(p), nil
}

func (s *MemSDB) NextRange(ctx context.Context, req *AllocRequest, size int64) (*Range, error) {
	r := req.normalized()
	if err := validateBatch(&r, size); err != nil {
		return nil, err
	}
	seqlog.Zero.Debug().
		Str("sequence", r.Name).
		Int64("size", size).
		Msg("memsdb: next range")

	if size == 0 {
		return &Range{From: r.Initial, To: r.Initial - 1}, nil
	}

	p := &allocParams{
		name:      r.Name,
		createVal: r.Initial + size - 1,
		increment: size,
		initial:   r.Initial,
	}

	s.mu.Lock()
	val := s.allocateLocked(p)
	s.mu.Unlock()

	return &Range{From: val - size + 1, To: val}, nil
}

func (s *MemSDB) allocateLocked(p *allocParams) int64 {
	last, ok := s.Sequences[p.name]
	if !ok {
		s.Sequences[p.name] = p.createVal
		return p.createVal
	}
	next := nextAfter(last, p)
	s.Sequences[p.name] = next
	return next
}

func (s *MemSDB) DropSequence(ctx context.Context, name string) (bool, error) {
	if name == "" {
		name = DefaultSequenceName
	}
	seqlog.Zero.Debug().Str("sequence", name).Msg("memsdb: drop sequence")

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.Sequences[name]
	delete(s.Sequences, name)
	return ok, nil
}

func (s *MemSDB) ListSequences(ctx context.Context) ([]string, error) {
	seqlog.Zero.Debug().Msg("memsdb: list sequences")

	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]string, 0, len(s.Sequences))
	for name := range s.Sequences {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret, nil
}

func (s *MemSDB) EnsureTable(ctx context.Context) error {
	return nil
}
