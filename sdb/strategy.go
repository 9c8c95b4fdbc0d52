package sdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// allocParams is the resolved form of one allocation: batch requests
// arrive here with increment = batch size and createVal adjusted so
// that a first-ever batch still starts at the configured initial.
type allocParams struct {
	name      string
	createVal int64
	increment int64
	initial   int64
	reset     int64
	nowait    bool
}

// nextAfter computes the value following last. With a reset policy the
// counter wraps back to initial once it would reach the threshold, so
// the emitted cycle is initial .. reset-1.
func nextAfter(last int64, p *allocParams) int64 {
	candidate := last + p.increment
	if p.reset != 0 && candidate >= p.reset {
		candidate = p.initial
	}
	return candidate
}

type strategyKind int

const (
	strategyUpsertReturning strategyKind = iota
	strategyUpsertReadback
	strategyLocking
)

// pickStrategy decides the execution path for one allocation. The
// upsert paths cannot express the reset read-modify-write decision and
// always block on write contention, so either condition forces the
// explicit-lock fallback.
func pickStrategy(caps Capabilities, hasReset bool, nowait bool) strategyKind {
	if !caps.Upsert || hasReset || nowait {
		return strategyLocking
	}
	if caps.UpsertReturning {
		return strategyUpsertReturning
	}
	return strategyUpsertReadback
}

// allocationStrategy runs one allocation inside the given transaction.
// The transaction boundary belongs to the caller: nothing is committed
// or rolled back here.
type allocationStrategy interface {
	allocate(ctx context.Context, tx *sqlx.Tx, p *allocParams) (int64, bool, error)
}

// upsertReturning executes a single conflict-aware insert that yields
// the new value in the same statement. The database's upsert primitive
// is the sole source of mutual exclusion.
type upsertReturning struct {
	q *queries
}

func (s *upsertReturning) allocate(ctx context.Context, tx *sqlx.Tx, p *allocParams) (int64, bool, error) {
	var last int64
	if err := tx.QueryRowxContext(ctx, s.q.upsert, p.name, p.createVal, p.increment).Scan(&last); err != nil {
		return 0, false, err
	}
	return last, last == p.createVal, nil
}

// upsertReadback is for engines that upsert atomically but cannot
// return the updated value: the follow-up read runs under the same
// transaction and observes the value this statement produced.
type upsertReadback struct {
	q *queries
}

func (s *upsertReadback) allocate(ctx context.Context, tx *sqlx.Tx, p *allocParams) (int64, bool, error) {
	res, err := tx.ExecContext(ctx, s.q.upsert, p.name, p.createVal, p.increment)
	if err != nil {
		return 0, false, err
	}
	var last int64
	if err := tx.QueryRowxContext(ctx, s.q.selectLast, p.name).Scan(&last); err != nil {
		return 0, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return last, false, nil
	}
	// MySQL reports 1 affected row for a fresh insert, 2 for an update.
	return last, affected == 1, nil
}

// lockingAllocator takes an explicit row lock, held from the read to
// the caller's commit, so a concurrent allocator on the same name
// blocks or, under nowait, fails with a busy error. A lost insert race
// for a brand-new name surfaces as a unique violation; the store
// retries the whole transaction.
type lockingAllocator struct {
	q *queries
}

func (s *lockingAllocator) allocate(ctx context.Context, tx *sqlx.Tx, p *allocParams) (int64, bool, error) {
	sel := s.q.selectLastLocked
	if p.nowait {
		sel = s.q.selectLastNoWait
	}

	var last int64
	err := tx.QueryRowxContext(ctx, sel, p.name).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, s.q.insertRow, p.name, p.createVal); err != nil {
			return 0, false, err
		}
		return p.createVal, true, nil
	case err != nil:
		return 0, false, err
	}

	next := nextAfter(last, p)
	if _, err := tx.ExecContext(ctx, s.q.updateRow, next, p.name); err != nil {
		return 0, false, err
	}
	return next, false, nil
}
