package sdb

import (
	"context"

	"github.com/pg-sharding/gapseq/pkg/models/seqerr"
)

const (
	DefaultSequenceName = "default"
	DefaultInitialValue = int64(1)
)

// AllocRequest describes a single allocation call. The zero value of
// Name and Initial select the well-known defaults; Reset == 0 disables
// the reset policy.
type AllocRequest struct {
	Name    string
	Initial int64
	Reset   int64
	NoWait  bool
}

func (r *AllocRequest) normalized() AllocRequest {
	ret := *r
	if ret.Name == "" {
		ret.Name = DefaultSequenceName
	}
	if ret.Initial == 0 {
		ret.Initial = DefaultInitialValue
	}
	return ret
}

// Validate checks the request configuration. It runs before any
// database access and never depends on stored state.
func (r *AllocRequest) Validate() error {
	if r.Initial < 0 {
		return seqerr.Newf(seqerr.SEQ_VALIDATION, "initial value %d must be non-negative", r.Initial)
	}
	if r.Reset != 0 && r.Reset <= r.Initial {
		return seqerr.Newf(seqerr.SEQ_VALIDATION, "reset value %d must be greater than initial value %d", r.Reset, r.Initial)
	}
	return nil
}

func validateBatch(r *AllocRequest, size int64) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if size < 0 {
		return seqerr.Newf(seqerr.SEQ_VALIDATION, "batch size %d must be non-negative", size)
	}
	if r.Reset != 0 {
		return seqerr.New(seqerr.SEQ_VALIDATION, "reset value and batch allocation are incompatible")
	}
	return nil
}

// Range is a contiguous block of allocated values, inclusive on both
// ends. To < From means the empty range.
type Range struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

func (r *Range) Size() int64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

func (r *Range) Values() []int64 {
	vals := make([]int64, 0, r.Size())
	for v := r.From; v <= r.To; v++ {
		vals = append(vals, v)
	}
	return vals
}

// SDB stores named gapless sequences. Implementations serialize
// concurrent allocations on the same name so that no two callers ever
// observe the same value and a rolled-back caller burns nothing.
type SDB interface {
	CurrVal(ctx context.Context, name string) (int64, error)
	NextVal(ctx context.Context, req *AllocRequest) (int64, error)
	NextRange(ctx context.Context, req *AllocRequest, size int64) (*Range, error)

	DropSequence(ctx context.Context, name string) (bool, error)
	ListSequences(ctx context.Context) ([]string, error)

	EnsureTable(ctx context.Context) error
}
