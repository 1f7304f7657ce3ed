// Package trainstore persists training examples in SQLite so that batch
// training can revisit them.
package trainstore

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	// sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/features"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/label"
	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS examples (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	features   BLOB    NOT NULL,
	target     REAL    NOT NULL,
	level      TEXT    NOT NULL,
	source     TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	used       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS examples_unused ON examples (used, created_at);
`

// Store is a SQLite-backed example store. It is safe for concurrent use.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens or creates the store at path. ":memory:" gives a private
// in-memory store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	logger = applog.OrNop(logger)
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening example store %s", path)
	}
	// a single connection keeps in-memory databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "initializing example store %s", path)
	}
	return &Store{db: db, logger: logger.Named("trainstore")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores ex as unused.
func (s *Store) Record(ex label.Example) error {
	return s.RecordContext(context.Background(), ex)
}

// RecordContext is Record with a context.
func (s *Store) RecordContext(ctx context.Context, ex label.Example) error {
	if !ex.Valid() {
		return errors.Errorf("invalid example with target %v", ex.Target)
	}
	created := ex.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO examples (features, target, level, source, created_at) VALUES (?, ?, ?, ?, ?)",
		encodeFeatures(ex.Features), ex.Target, ex.Level.String(), string(ex.Source), created.UnixNano())
	return errors.WrapfOrNil(err, "recording example")
}

// row is the stored form of an example. "db" tags are for sqlx.
type row struct {
	ID        int64   `db:"id"`
	Features  []byte  `db:"features"`
	Target    float64 `db:"target"`
	Level     string  `db:"level"`
	Source    string  `db:"source"`
	CreatedAt int64   `db:"created_at"`
}

// RecentExamples returns up to limit unused examples, newest first. Nothing
// is consumed; call MarkUsed once they have been trained on.
func (s *Store) RecentExamples(ctx context.Context, limit int) ([]label.Example, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, features, target, level, source, created_at FROM examples WHERE used = 0 ORDER BY created_at DESC, id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, errors.Wrapf(err, "querying examples")
	}

	exs := make([]label.Example, 0, len(rows))
	for _, r := range rows {
		if ex, ok := s.decode(r); ok {
			exs = append(exs, ex)
		}
	}
	return exs, nil
}

// MarkUsed retires exs so that RecentExamples no longer returns them.
// Examples that were never stored are ignored.
func (s *Store) MarkUsed(ctx context.Context, exs []label.Example) error {
	ids := make([]int64, 0, len(exs))
	for _, ex := range exs {
		if ex.ID > 0 {
			ids = append(ids, ex.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("UPDATE examples SET used = 1 WHERE id IN (?)", ids)
	if err != nil {
		return errors.Wrapf(err, "building update")
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return errors.WrapfOrNil(err, "marking %d examples used", len(ids))
}

// Prune deletes examples created before the given time and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM examples WHERE created_at < ?", before.UnixNano())
	if err != nil {
		return 0, errors.Wrapf(err, "pruning examples")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(err, "pruning examples")
	}
	if n > 0 {
		s.logger.Info("pruned examples", zap.Int64("deleted", n), zap.Time("before", before))
	}
	return n, nil
}

// Counts describes the store's contents.
type Counts struct {
	Total  int `json:"total" db:"total"`
	Unused int `json:"unused" db:"unused"`
}

// Count returns the number of stored and unused examples.
func (s *Store) Count(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.GetContext(ctx, &c,
		"SELECT COUNT(*) AS total, COALESCE(SUM(CASE WHEN used = 0 THEN 1 ELSE 0 END), 0) AS unused FROM examples")
	if err != nil {
		return Counts{}, errors.Wrapf(err, "counting examples")
	}
	return c, nil
}

func (s *Store) decode(r row) (label.Example, bool) {
	v, err := decodeFeatures(r.Features)
	if err != nil {
		s.logger.Warn("skipping corrupt example", zap.Int64("id", r.ID), zap.Error(err))
		return label.Example{}, false
	}
	lvl, err := label.ParseLevel(r.Level)
	if err != nil {
		lvl = label.FromScore(r.Target)
	}
	ex := label.Example{
		ID:        r.ID,
		Features:  v,
		Target:    r.Target,
		Level:     lvl,
		Source:    label.Source(r.Source),
		CreatedAt: time.Unix(0, r.CreatedAt),
	}
	if !ex.Valid() {
		s.logger.Warn("skipping invalid example", zap.Int64("id", r.ID), zap.Float64("target", r.Target))
		return label.Example{}, false
	}
	return ex, true
}

func encodeFeatures(v features.Vector) []byte {
	buf := make([]byte, 8*features.Dimension)
	for i, x := range v.Array() {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return buf
}

func decodeFeatures(buf []byte) (features.Vector, error) {
	if len(buf) != 8*features.Dimension {
		return features.Vector{}, errors.Errorf("feature blob has %d bytes, expected %d", len(buf), 8*features.Dimension)
	}
	values := make([]float64, features.Dimension)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return features.NewVector(values), nil
}
