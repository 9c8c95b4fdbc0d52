package sdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"

	"github.com/pg-sharding/gapseq/pkg/models/seqerr"
	"github.com/pg-sharding/gapseq/pkg/seqlog"
)

const DefaultTable = "gapless_sequence"

// Retries of the whole allocation transaction after losing the
// create race for a brand-new name.
const maxCreateRetries = 5

var tableNameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// queries holds the per-engine statement set, placeholders already
// rebound for the store's driver.
type queries struct {
	selectLast       string
	selectLastLocked string
	selectLastNoWait string
	insertRow        string
	updateRow        string
	deleteRow        string
	listNames        string
	createTable      string

	// empty when the engine has no atomic upsert
	upsert string
}

// SQLSDB is the relational implementation of SDB. It takes no
// in-process locks: serialization of concurrent allocators, possibly
// in different processes or on different machines, is entirely the
// database's row locking and upsert machinery.
type SQLSDB struct {
	db     *sqlx.DB
	engine Engine
	caps   Capabilities
	table  string
	q      queries
}

var _ SDB = &SQLSDB{}

func NewSQLSDB(db *sqlx.DB, table string) (*SQLSDB, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNameRegexp.MatchString(table) {
		return nil, seqerr.Newf(seqerr.SEQ_VALIDATION, "invalid sequence table name %q", table)
	}

	engine := EngineForDriver(db.DriverName())
	s := &SQLSDB{
		db:     db,
		engine: engine,
		caps:   engine.Capabilities(),
		table:  table,
	}
	s.q = buildQueries(db, engine, table)

	seqlog.Zero.Debug().
		Str("driver", db.DriverName()).
		Str("engine", engine.String()).
		Str("table", table).
		Msg("sqlsdb: open")

	return s, nil
}

func buildQueries(db *sqlx.DB, engine Engine, table string) queries {
	q := queries{
		selectLast:       fmt.Sprintf(`SELECT last FROM %s WHERE name = ?`, table),
		selectLastLocked: fmt.Sprintf(`SELECT last FROM %s WHERE name = ? FOR UPDATE`, table),
		selectLastNoWait: fmt.Sprintf(`SELECT last FROM %s WHERE name = ? FOR UPDATE NOWAIT`, table),
		insertRow:        fmt.Sprintf(`INSERT INTO %s (name, last) VALUES (?, ?)`, table),
		updateRow:        fmt.Sprintf(`UPDATE %s SET last = ? WHERE name = ?`, table),
		deleteRow:        fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, table),
		listNames:        fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, table),
	}

	switch engine {
	case EnginePostgreSQL:
		q.upsert = fmt.Sprintf(
			`INSERT INTO %[1]s (name, last) VALUES (?, ?)
			 ON CONFLICT (name) DO UPDATE SET last = %[1]s.last + ?
			 RETURNING last`, table)
		q.createTable = fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, last BIGINT NOT NULL)`, table)
	case EngineMySQL:
		q.upsert = fmt.Sprintf(
			`INSERT INTO %[1]s (name, last) VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE last = %[1]s.last + ?`, table)
		q.createTable = fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (name VARCHAR(191) PRIMARY KEY, last BIGINT NOT NULL)`, table)
	default:
		q.createTable = fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, last BIGINT NOT NULL)`, table)
	}

	q.selectLast = db.Rebind(q.selectLast)
	q.selectLastLocked = db.Rebind(q.selectLastLocked)
	q.selectLastNoWait = db.Rebind(q.selectLastNoWait)
	q.insertRow = db.Rebind(q.insertRow)
	q.updateRow = db.Rebind(q.updateRow)
	q.deleteRow = db.Rebind(q.deleteRow)
	if q.upsert != "" {
		q.upsert = db.Rebind(q.upsert)
	}
	return q
}

func (s *SQLSDB) Engine() Engine {
	return s.engine
}

func (s *SQLSDB) strategyFor(p *allocParams) allocationStrategy {
	switch pickStrategy(s.caps, p.reset != 0, p.nowait) {
	case strategyUpsertReturning:
		return &upsertReturning{q: &s.q}
	case strategyUpsertReadback:
		return &upsertReadback{q: &s.q}
	default:
		return &lockingAllocator{q: &s.q}
	}
}

func (s *SQLSDB) CurrVal(ctx context.Context, name string) (int64, error) {
	if name == "" {
		name = DefaultSequenceName
	}
	seqlog.Zero.Debug().Str("sequence", name).Msg("sqlsdb: curr val")

	var last int64
	err := s.db.QueryRowxContext(ctx, s.q.selectLast, name).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, seqerr.Newf(seqerr.SEQ_NOT_FOUND, "sequence %q was never allocated", name)
	}
	if err != nil {
		return 0, err
	}
	return last, nil
}

func (s *SQLSDB) NextVal(ctx context.Context, req *AllocRequest) (int64, error) {
	r := req.normalized()
	if err := r.Validate(); err != nil {
		return 0, err
	}
	seqlog.Zero.Debug().Str("sequence", r.Name).Msg("sqlsdb: next val")

	return s.nextValue(ctx, &allocParams{
		name:      r.Name,
		createVal: r.Initial,
		increment: 1,
		initial:   r.Initial,
		reset:     r.Reset,
		nowait:    r.NoWait,
	})
}

// NextValTx joins the caller's transaction, coupling the allocation to
// the caller's own commit or rollback. The create race is not retried
// here: a unique violation aborts the caller's transaction, and a safe
// retry must re-run that transaction from the top.
func (s *SQLSDB) NextValTx(ctx context.Context, tx *sqlx.Tx, req *AllocRequest) (int64, error) {
	r := req.normalized()
	if err := r.Validate(); err != nil {
		return 0, err
	}
	p := &allocParams{
		name:      r.Name,
		createVal: r.Initial,
		increment: 1,
		initial:   r.Initial,
		reset:     r.Reset,
		nowait:    r.NoWait,
	}
	if err := s.checkNoWait(p); err != nil {
		return 0, err
	}
	val, _, err := s.strategyFor(p).allocate(ctx, tx, p)
	if err != nil {
		return 0, s.classify(p, err)
	}
	return val, nil
}

// NextRangeTx is NextValTx for batch allocation; see NextValTx for the
// transaction and retry contract.
func (s *SQLSDB) NextRangeTx(ctx context.Context, tx *sqlx.Tx, req *AllocRequest, size int64) (*Range, error) {
	r := req.normalized()
	if err := validateBatch(&r, size); err != nil {
		return nil, err
	}
	if size == 0 {
		return &Range{From: r.Initial, To: r.Initial - 1}, nil
	}
	p := &allocParams{
		name:      r.Name,
		createVal: r.Initial + size - 1,
		increment: size,
		initial:   r.Initial,
		nowait:    r.NoWait,
	}
	if err := s.checkNoWait(p); err != nil {
		return nil, err
	}
	val, _, err := s.strategyFor(p).allocate(ctx, tx, p)
	if err != nil {
		return nil, s.classify(p, err)
	}
	return &Range{From: val - size + 1, To: val}, nil
}

func (s *SQLSDB) NextRange(ctx context.Context, req *AllocRequest, size int64) (*Range, error) {
	r := req.normalized()
	if err := validateBatch(&r, size); err != nil {
		return nil, err
	}
	seqlog.Zero.Debug().
		Str("sequence", r.Name).
		Int64("size", size).
		Msg("sqlsdb: next range")

	if size == 0 {
		return &Range{From: r.Initial, To: r.Initial - 1}, nil
	}

	val, err := s.nextValue(ctx, &allocParams{
		name: r.Name,
		// A first-ever batch must end at initial + size - 1 so that it
		// starts exactly at initial.
		createVal: r.Initial + size - 1,
		increment: size,
		initial:   r.Initial,
		nowait:    r.NoWait,
	})
	if err != nil {
		return nil, err
	}
	return &Range{From: val - size + 1, To: val}, nil
}

func (s *SQLSDB) checkNoWait(p *allocParams) error {
	if p.nowait && !s.caps.LockNoWait {
		return seqerr.Newf(seqerr.SEQ_VALIDATION, "engine %s does not support nowait lock requests", s.engine)
	}
	return nil
}

// nextValue owns the transaction around one allocation. The row is
// never held locked across more than one call.
func (s *SQLSDB) nextValue(ctx context.Context, p *allocParams) (int64, error) {
	if err := s.checkNoWait(p); err != nil {
		return 0, err
	}
	strat := s.strategyFor(p)

	var val int64
	err := retry.Do(ctx, retry.WithMaxRetries(maxCreateRetries, retry.NewFibonacci(5*time.Millisecond)), func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}

		v, created, err := strat.allocate(ctx, tx, p)
		if err != nil {
			_ = tx.Rollback()
			if isUniqueViolation(err) {
				// Lost the insert race for a new name: another
				// transaction created the row first. Re-run from the
				// read so the increment path is taken.
				return retry.RetryableError(err)
			}
			return s.classify(p, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		if created {
			seqlog.Zero.Debug().
				Str("sequence", p.name).
				Int64("last", v).
				Msg("sqlsdb: sequence created")
		}
		val = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (s *SQLSDB) classify(p *allocParams, err error) error {
	if p.nowait && isLockNotAvailable(err) {
		return seqerr.Newf(seqerr.SEQ_BUSY, "sequence %q is locked by a concurrent transaction", p.name)
	}
	return err
}

func (s *SQLSDB) DropSequence(ctx context.Context, name string) (bool, error) {
	if name == "" {
		name = DefaultSequenceName
	}
	seqlog.Zero.Debug().Str("sequence", name).Msg("sqlsdb: drop sequence")

	res, err := s.db.ExecContext(ctx, s.q.deleteRow, name)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLSDB) ListSequences(ctx context.Context) ([]string, error) {
	seqlog.Zero.Debug().Msg("sqlsdb: list sequences")

	var names []string
	if err := s.db.SelectContext(ctx, &names, s.q.listNames); err != nil {
		return nil, err
	}
	return names, nil
}

func (s *SQLSDB) EnsureTable(ctx context.Context) error {
	seqlog.Zero.Debug().Str("table", s.table).Msg("sqlsdb: ensure table")

	if _, err := s.db.ExecContext(ctx, s.q.createTable); err != nil {
		return seqerr.Newf(seqerr.SEQ_STORAGE, "create table %s: %v", s.table, err)
	}
	return nil
}
