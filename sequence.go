// Package gapseq issues gapless, strictly sequential integers
// identified by a name, backed by a relational database. A value is
// consumed only when the transaction that produced it commits; a
// rollback burns nothing.
package gapseq

import (
	"context"
	"iter"

	"github.com/jmoiron/sqlx"

	"github.com/pg-sharding/gapseq/sdb"
)

const DefaultSequenceName = sdb.DefaultSequenceName

// Open wraps an existing database handle into a SQL-backed store.
// The engine is resolved from the driver name; table == "" selects
// the default table.
func Open(db *sqlx.DB, table string) (*sdb.SQLSDB, error) {
	return sdb.NewSQLSDB(db, table)
}

// Sequence binds a name and allocation configuration to a store. The
// zero Initial means 1; Reset == 0 disables the reset policy.
type Sequence struct {
	Store   sdb.SDB
	Name    string
	Initial int64
	Reset   int64
}

func NewSequence(store sdb.SDB, name string) *Sequence {
	return &Sequence{
		Store:   store,
		Name:    name,
		Initial: sdb.DefaultInitialValue,
	}
}

// NewCyclicSequence configures a reset policy: the counter wraps back
// to initial once it would reach reset, cycling through
// initial .. reset-1.
func NewCyclicSequence(store sdb.SDB, name string, initial, reset int64) *Sequence {
	return &Sequence{
		Store:   store,
		Name:    name,
		Initial: initial,
		Reset:   reset,
	}
}

func (s *Sequence) request(nowait bool) *sdb.AllocRequest {
	return &sdb.AllocRequest{
		Name:    s.Name,
		Initial: s.Initial,
		Reset:   s.Reset,
		NoWait:  nowait,
	}
}

// CurrVal returns the last issued value. A sequence that was never
// allocated is a distinct not-found error, not zero.
func (s *Sequence) CurrVal(ctx context.Context) (int64, error) {
	return s.Store.CurrVal(ctx, s.Name)
}

func (s *Sequence) NextVal(ctx context.Context) (int64, error) {
	return s.Store.NextVal(ctx, s.request(false))
}

// NextValNoWait fails with a busy error instead of waiting when the
// row is locked by a concurrent transaction.
func (s *Sequence) NextValNoWait(ctx context.Context) (int64, error) {
	return s.Store.NextVal(ctx, s.request(true))
}

// NextRange reserves a contiguous block of size values. size == 0
// yields the empty range without advancing the counter.
func (s *Sequence) NextRange(ctx context.Context, size int64) (*sdb.Range, error) {
	return s.Store.NextRange(ctx, s.request(false), size)
}

func (s *Sequence) NextRangeNoWait(ctx context.Context, size int64) (*sdb.Range, error) {
	return s.Store.NextRange(ctx, s.request(true), size)
}

// Drop removes the sequence row. True means a row existed.
func (s *Sequence) Drop(ctx context.Context) (bool, error) {
	return s.Store.DropSequence(ctx, s.Name)
}

// Values yields successive NextVal results forever. Every pull is a
// real allocation against shared persistent state: the iterator is
// impure and not restartable, and two iterators over the same name
// interleave under the store's concurrency semantics. Iteration stops
// after yielding the first error.
func (s *Sequence) Values(ctx context.Context) iter.Seq2[int64, error] {
	return func(yield func(int64, error) bool) {
		for {
			v, err := s.NextVal(ctx)
			if !yield(v, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}
