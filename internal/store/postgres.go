package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/course-sync/internal/models"
)

// Schema creates the documents table used by PostgresStore.
const Schema = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data JSONB NOT NULL,
	version BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
)`

const (
	selectDocument    = `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	selectForUpdate   = `SELECT data, version FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`
	upsertDocument    = `INSERT INTO documents (collection, id, data, version, updated_at) VALUES ($1, $2, $3, 1, $4) ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, version = documents.version + 1, updated_at = EXCLUDED.updated_at RETURNING version`
	insertDocument    = `INSERT INTO documents (collection, id, data, version, updated_at) VALUES ($1, $2, $3, 1, $4) ON CONFLICT (collection, id) DO NOTHING`
	updateDocument    = `UPDATE documents SET data = $3, version = $4, updated_at = $5 WHERE collection = $1 AND id = $2`
	pgSerialization   = "40001"
	pgDeadlock        = "40P01"
	defaultTxAttempts = 3
)

// PostgresStore keeps documents as JSONB rows. Transact locks the row with
// SELECT ... FOR UPDATE; creation races are caught by the primary key and the
// transaction is re-run against the winner's value.
type PostgresStore struct {
	db       *sqlx.DB
	feed     Feed
	observer Observer
	logger   *zap.Logger
	attempts int
	backlog  int
	now      func() time.Time
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithObserver attaches operation timing.
func WithObserver(o Observer) PostgresOption {
	return func(s *PostgresStore) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger sets the logger used for change notifications that fail after
// a commit.
func WithLogger(logger *zap.Logger) PostgresOption {
	return func(s *PostgresStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTxAttempts bounds how many times a conflicting transaction is re-run.
func WithTxAttempts(n int) PostgresOption {
	return func(s *PostgresStore) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithBacklog sets the per-listener snapshot buffer.
func WithBacklog(n int) PostgresOption {
	return func(s *PostgresStore) { s.backlog = n }
}

// NewPostgresStore wires a store over db publishing changes on feed.
func NewPostgresStore(db *sqlx.DB, feed Feed, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:       db,
		feed:     feed,
		observer: nopObserver{},
		logger:   zap.NewNop(),
		attempts: defaultTxAttempts,
		backlog:  16,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the documents table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (rec models.Record, err error) {
	defer s.observe("get", collection, time.Now(), &err)
	var raw []byte
	if err := s.db.QueryRowxContext(ctx, selectDocument, collection, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return unmarshalRecord(raw)
}

func (s *PostgresStore) Put(ctx context.Context, collection, id string, rec models.Record) (err error) {
	defer s.observe("put", collection, time.Now(), &err)
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
	}
	var version int64
	if err := s.db.QueryRowxContext(ctx, upsertDocument, collection, id, raw, s.now().UTC()).Scan(&version); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	s.publish(ctx, collection, id, version)
	return nil
}

func (s *PostgresStore) Transact(ctx context.Context, collection, id string, fn TxFunc) (rec models.Record, err error) {
	defer s.observe("transact", collection, time.Now(), &err)
	for attempt := 1; ; attempt++ {
		rec, version, err := s.transactOnce(ctx, collection, id, fn)
		if err == nil {
			if version > 0 {
				s.publish(ctx, collection, id, version)
			}
			return rec, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		if attempt >= s.attempts {
			return nil, fmt.Errorf("transact %s/%s after %d attempts: %w", collection, id, attempt, ErrConflict)
		}
	}
}

// transactOnce runs fn inside one database transaction. version is zero when
// nothing was written.
func (s *PostgresStore) transactOnce(ctx context.Context, collection, id string, fn TxFunc) (models.Record, int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		raw     []byte
		version int64
		current models.Record
		exists  = true
	)
	if err := tx.QueryRowxContext(ctx, selectForUpdate, collection, id).Scan(&raw, &version); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, 0, fmt.Errorf("lock %s/%s: %w", collection, id, err)
		}
		exists = false
	}
	if exists {
		if current, err = unmarshalRecord(raw); err != nil {
			return nil, 0, err
		}
	}

	next, err := fn(current, exists)
	if errors.Is(err, ErrAbort) {
		return current, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal %s/%s: %w", collection, id, err)
	}
	now := s.now().UTC()
	if exists {
		version++
		if _, err := tx.ExecContext(ctx, updateDocument, collection, id, payload, version, now); err != nil {
			return nil, 0, fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
	} else {
		res, err := tx.ExecContext(ctx, insertDocument, collection, id, payload, now)
		if err != nil {
			return nil, 0, fmt.Errorf("insert %s/%s: %w", collection, id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, 0, errCreateRace
		}
		version = 1
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit %s/%s: %w", collection, id, err)
	}
	return next, version, nil
}

func (s *PostgresStore) Find(ctx context.Context, q Query) (recs []models.Record, err error) {
	defer s.observe("find", q.Collection, time.Now(), &err)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query, args := buildFindQuery(q)
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q.Collection, err)
	}
	defer rows.Close()

	recs = make([]models.Record, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		rec, err := unmarshalRecord(raw)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Collection, err)
	}
	return recs, nil
}

func (s *PostgresStore) Listen(ctx context.Context, q Query) (*Listener, error) {
	return startListener(ctx, q, s.Find, s.feed, s.backlog)
}

func buildFindQuery(q Query) (string, []interface{}) {
	var sb strings.Builder
	args := []interface{}{q.Collection}
	sb.WriteString("SELECT data FROM documents WHERE collection = $1")
	if q.IsPoint() {
		args = append(args, q.ID)
		fmt.Fprintf(&sb, " AND id = $%d", len(args))
	}
	for _, f := range q.Filters {
		args = append(args, f.Field)
		fieldArg := len(args)
		switch f.Op {
		case OpEqual:
			args = append(args, fmt.Sprint(f.Value))
			fmt.Fprintf(&sb, " AND data->>$%d::text = $%d", fieldArg, len(args))
		case OpIn:
			args = append(args, pq.Array(f.Value.([]string)))
			fmt.Fprintf(&sb, " AND data->>$%d::text = ANY($%d)", fieldArg, len(args))
		case OpContains:
			args = append(args, fmt.Sprint(f.Value))
			fmt.Fprintf(&sb, " AND data->$%d::text @> jsonb_build_array($%d::text)", fieldArg, len(args))
		}
	}
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		fmt.Fprintf(&sb, " ORDER BY data->>$%d::text, id", len(args))
	} else {
		sb.WriteString(" ORDER BY id")
	}
	return sb.String(), args
}

var errCreateRace = errors.New("document created concurrently")

func isRetryable(err error) bool {
	if errors.Is(err, errCreateRace) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == pgSerialization || code == pgDeadlock
	}
	return false
}

func unmarshalRecord(raw []byte) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecode, err)
	}
	return rec, nil
}

// publish runs after commit. A feed failure is logged and observed; the
// caller still gets the committed record.
func (s *PostgresStore) publish(ctx context.Context, collection, id string, version int64) {
	if s.feed == nil {
		return
	}
	start := time.Now()
	err := s.feed.Publish(ctx, Change{Collection: collection, ID: id, Version: version})
	s.observe("publish", collection, start, &err)
	if err != nil {
		s.logger.Warn("change notification failed",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Int64("version", version),
			zap.Error(err))
	}
}

func (s *PostgresStore) observe(op, collection string, start time.Time, err *error) {
	s.observer.ObserveStoreOperation(op, collection, statusOf(*err), time.Since(start))
}
