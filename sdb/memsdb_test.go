package sdb_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"

	"github.com/pg-sharding/gapseq/pkg/models/seqerr"
	"github.com/pg-sharding/gapseq/sdb"
)

func TestMemSDBSerialAllocation(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	for want := int64(1); want <= 10; want++ {
		got, err := memsdb.NextVal(ctx, &sdb.AllocRequest{Name: "one"})
		assert.NoError(err)
		assert.Equal(want, got)
	}

	last, err := memsdb.CurrVal(ctx, "one")
	assert.NoError(err)
	assert.Equal(int64(10), last)
}

func TestMemSDBInitialValue(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	for want := int64(1000); want <= 1002; want++ {
		got, err := memsdb.NextVal(ctx, &sdb.AllocRequest{Name: "invoices", Initial: 1000})
		assert.NoError(err)
		assert.Equal(want, got)
	}
}

func TestMemSDBDefaultName(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	got, err := memsdb.NextVal(ctx, &sdb.AllocRequest{})
	assert.NoError(err)
	assert.Equal(int64(1), got)

	last, err := memsdb.CurrVal(ctx, sdb.DefaultSequenceName)
	assert.NoError(err)
	assert.Equal(int64(1), last)
}

func TestMemSDBResetCycle(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	req := &sdb.AllocRequest{Name: "cyclic", Initial: 1, Reset: 3}
	var got []int64
	for i := 0; i < 6; i++ {
		v, err := memsdb.NextVal(ctx, req)
		assert.NoError(err)
		got = append(got, v)
	}
	assert.Equal([]int64{1, 2, 1, 2, 1, 2}, got)
}

func TestMemSDBBatch(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	req := &sdb.AllocRequest{Name: "batched"}

	rng, err := memsdb.NextRange(ctx, req, 3)
	assert.NoError(err)
	assert.Equal([]int64{1, 2, 3}, rng.Values())

	rng, err = memsdb.NextRange(ctx, req, 3)
	assert.NoError(err)
	assert.Equal([]int64{4, 5, 6}, rng.Values())

	rng, err = memsdb.NextRange(ctx, req, 1)
	assert.NoError(err)
	assert.Equal([]int64{7}, rng.Values())

	rng, err = memsdb.NextRange(ctx, req, 0)
	assert.NoError(err)
	assert.Equal(int64(0), rng.Size())
	assert.Empty(rng.Values())

	got, err := memsdb.NextVal(ctx, req)
	assert.NoError(err)
	assert.Equal(int64(8), got)
}

func TestMemSDBValidation(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	_, err = memsdb.NextVal(ctx, &sdb.AllocRequest{Name: "v", Initial: 5, Reset: 5})
	assert.True(seqerr.IsValidation(err))

	_, err = memsdb.NextVal(ctx, &sdb.AllocRequest{Name: "v", Initial: 5, Reset: 3})
	assert.True(seqerr.IsValidation(err))

	_, err = memsdb.NextRange(ctx, &sdb.AllocRequest{Name: "v", Reset: 10}, 3)
	assert.True(seqerr.IsValidation(err))

	_, err = memsdb.NextRange(ctx, &sdb.AllocRequest{Name: "v"}, -1)
	assert.True(seqerr.IsValidation(err))

	// no row was created by any of the failed calls
	_, err = memsdb.CurrVal(ctx, "v")
	assert.True(seqerr.IsNotFound(err))
}

func TestMemSDBCurrValAbsence(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	_, err = memsdb.CurrVal(ctx, "ghost")
	assert.True(seqerr.IsNotFound(err))

	_, err = memsdb.NextVal(ctx, &sdb.AllocRequest{Name: "ghost", Initial: 42})
	assert.NoError(err)

	last, err := memsdb.CurrVal(ctx, "ghost")
	assert.NoError(err)
	assert.Equal(int64(42), last)
}

func TestMemSDBDropSequence(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	existed, err := memsdb.DropSequence(ctx, "nothing")
	assert.NoError(err)
	assert.False(existed)

	_, err = memsdb.NextVal(ctx, &sdb.AllocRequest{Name: "doomed"})
	assert.NoError(err)

	existed, err = memsdb.DropSequence(ctx, "doomed")
	assert.NoError(err)
	assert.True(existed)

	existed, err = memsdb.DropSequence(ctx, "doomed")
	assert.NoError(err)
	assert.False(existed)

	_, err = memsdb.CurrVal(ctx, "doomed")
	assert.True(seqerr.IsNotFound(err))

	// recreated from scratch after the drop
	got, err := memsdb.NextVal(ctx, &sdb.AllocRequest{Name: "doomed"})
	assert.NoError(err)
	assert.Equal(int64(1), got)
}

func TestMemSDBListSequences(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	names, err := memsdb.ListSequences(ctx)
	assert.NoError(err)
	assert.Empty(names)

	for _, name := range []string{"b", "a", "c"} {
		_, err := memsdb.NextVal(ctx, &sdb.AllocRequest{Name: name})
		assert.NoError(err)
	}

	names, err = memsdb.ListSequences(ctx)
	assert.NoError(err)
	assert.Equal([]string{"a", "b", "c"}, names)
}

func TestMemSDBDumpRestore(t *testing.T) {
	assert := assert.New(t)

	backup := filepath.Join(t.TempDir(), "memsdb.json")
	ctx := context.TODO()

	memsdb, err := sdb.RestoreSDB(backup)
	assert.NoError(err)
	for i := 0; i < 7; i++ {
		_, err := memsdb.NextVal(ctx, &sdb.AllocRequest{Name: "persisted"})
		assert.NoError(err)
	}
	assert.NoError(memsdb.DumpState())

	restored, err := sdb.RestoreSDB(backup)
	assert.NoError(err)

	got, err := restored.NextVal(ctx, &sdb.AllocRequest{Name: "persisted"})
	assert.NoError(err)
	assert.Equal(int64(8), got)
}

// must run with -race
func TestMemSDBConcurrentUniqueness(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	seen := map[int64]bool{}

	var eg errgroup.Group
	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			for j := 0; j < perWorker; j++ {
				v, err := memsdb.NextVal(ctx, &sdb.AllocRequest{Name: "contended"})
				if err != nil {
					return err
				}
				mu.Lock()
				if seen[v] {
					mu.Unlock()
					assert.Failf("duplicate value", "value %d issued twice", v)
					return nil
				}
				seen[v] = true
				mu.Unlock()
			}
			return nil
		})
	}
	assert.NoError(eg.Wait())

	last, err := memsdb.CurrVal(ctx, "contended")
	assert.NoError(err)
	assert.Equal(int64(workers*perWorker), last)
	assert.Len(seen, workers*perWorker)
}

func TestMemSDBCrossSequenceIndependence(t *testing.T) {
	assert := assert.New(t)

	memsdb, err := sdb.NewMemSDB("")
	assert.NoError(err)
	ctx := context.TODO()

	var eg errgroup.Group
	for _, name := range []string{"left", "right"} {
		eg.Go(func() error {
			for i := 0; i < 100; i++ {
				if _, err := memsdb.NextVal(ctx, &sdb.AllocRequest{Name: name}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	assert.NoError(eg.Wait())

	for _, name := range []string{"left", "right"} {
		last, err := memsdb.CurrVal(ctx, name)
		assert.NoError(err)
		assert.Equal(int64(100), last)
	}
}
