package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/canonicalize"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/crypto"
)

// Dialect selects the SQL flavour of the backing database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// appendLockKey is the Postgres advisory lock that serializes appends across
// processes sharing one database.
const appendLockKey int64 = 0x4e59415941

const defaultPageSize = 256

// SQLLedger implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLLedger struct {
	db       *sql.DB
	dialect  Dialect
	keys     crypto.SignVerifier
	clock    func() time.Time
	mu       sync.Mutex
	pageSize int
}

func NewSQLLedger(db *sql.DB, dialect Dialect, keys crypto.SignVerifier) *SQLLedger {
	return &SQLLedger{
		db:       db,
		dialect:  dialect,
		keys:     keys,
		clock:    time.Now,
		pageSize: defaultPageSize,
	}
}

// WithClock overrides the time source (for deterministic tests).
func (s *SQLLedger) WithClock(clock func() time.Time) *SQLLedger {
	s.clock = clock
	return s
}

// WithPageSize sets how many rows Scan fetches per query.
func (s *SQLLedger) WithPageSize(n int) *SQLLedger {
	if n > 0 {
		s.pageSize = n
	}
	return s
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence BIGINT PRIMARY KEY,
	entry_type TEXT NOT NULL,
	ts TEXT NOT NULL,
	trace_id TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	payload TEXT NOT NULL,
	nonce_verified BOOLEAN NOT NULL,
	key_id TEXT NOT NULL,
	signature TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE
)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_trace ON ledger_entries (trace_id, sequence)`,
}

func (s *SQLLedger) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger schema: %w", err)
		}
	}
	return nil
}

const entryColumns = `sequence, entry_type, ts, trace_id, prev_hash, payload, nonce_verified, key_id, signature, hash`

func (s *SQLLedger) Append(ctx context.Context, rec Record) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := rec.Validate(); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Past this point the append is not cancellable.
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.dialect == DialectPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
			return Entry{}, fmt.Errorf("acquire append lock: %w", err)
		}
	}

	seq, prev, err := tail(ctx, tx)
	if err != nil {
		return Entry{}, err
	}

	e, err := build(rec, seq, prev, s.clock(), s.keys)
	if err != nil {
		return Entry{}, err
	}

	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = tx.ExecContext(ctx, query,
		int64(e.Sequence), string(e.Type), canonicalize.Timestamp(e.Timestamp), e.TraceID, e.PrevHash,
		string(e.Payload), e.NonceVerified, e.KeyID, e.Signature, e.Hash,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert entry %d: %w", e.Sequence, err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit entry %d: %w", e.Sequence, err)
	}
	return e, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// tail returns the next sequence number and the hash it must link to.
func tail(ctx context.Context, q queryRower) (uint64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := q.QueryRowContext(ctx, `SELECT sequence, hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, Genesis, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read ledger tail: %w", err)
	}
	return uint64(seq) + 1, hash, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e       Entry
		seq     int64
		typ, ts string
		payload string
	)
	if err := r.Scan(&seq, &typ, &ts, &e.TraceID, &e.PrevHash, &payload, &e.NonceVerified, &e.KeyID, &e.Signature, &e.Hash); err != nil {
		return Entry{}, err
	}
	t, err := canonicalize.ParseTimestamp(ts)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %d: %w", seq, err)
	}
	e.Sequence = uint64(seq)
	e.Type = EntryType(typ)
	e.Timestamp = t
	e.Payload = []byte(payload)
	return e, nil
}

func (s *SQLLedger) Get(ctx context.Context, seq uint64) (Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE sequence = $1`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, int64(seq)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (s *SQLLedger) Scan(ctx context.Context, f Filter) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var bound int64
		if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), -1) FROM ledger_entries`).Scan(&bound); err != nil {
			yield(Entry{}, fmt.Errorf("read ledger bound: %w", err))
			return
		}
		if f.EndSeq > 0 && int64(f.EndSeq) < bound {
			bound = int64(f.EndSeq)
		}

		next := int64(f.StartSeq)
		for next <= bound {
			batch, err := s.page(ctx, f, next, bound)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range batch {
				if err := ctx.Err(); err != nil {
					yield(Entry{}, err)
					return
				}
				if !yield(e, nil) {
					return
				}
			}
			if len(batch) < s.pageSize {
				return
			}
			next = int64(batch[len(batch)-1].Sequence) + 1
		}
	}
}

// page reads one batch and releases the connection before returning, so the
// consumer may append while iterating.
func (s *SQLLedger) page(ctx context.Context, f Filter, from, to int64) ([]Entry, error) {
	where := []string{"sequence >= $1", "sequence <= $2"}
	args := []any{from, to}
	if f.TraceID != "" {
		args = append(args, f.TraceID)
		where = append(where, fmt.Sprintf("trace_id = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("entry_type = $%d", len(args)))
	}
	args = append(args, s.pageSize)
	query := fmt.Sprintf(`SELECT %s FROM ledger_entries WHERE %s ORDER BY sequence LIMIT $%d`,
		entryColumns, strings.Join(where, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0, s.pageSize)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLLedger) VerifyChain(ctx context.Context) error {
	return verifySeq(ctx, s.Scan(ctx, Filter{}), s.keys)
}

func (s *SQLLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger: %w", err)
	}
	return n, nil
}

func (s *SQLLedger) Head(ctx context.Context) (string, error) {
	_, hash, err := tail(ctx, s.db)
	return hash, err
}
