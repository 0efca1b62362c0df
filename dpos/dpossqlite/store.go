package dpossqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/trace"
	"strings"
	"sync/atomic"

	"github.com/gordian-engine/gdpos/dpos/dposcodec/dposcbor"
	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/gordian-engine/gdpos/dpos/dposstore"
	"github.com/gordian-engine/gdpos/gcrypto"
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize covers the current round and the two before it,
// which is everything the engine reads during normal operation.
const defaultCacheSize = 8

// Store is a single type satisfying all the [dposstore] interfaces.
type Store struct {
	// The string "purego" or "cgo" depending on build tags.
	BuildType string

	// Due to transaction locking behaviors of sqlite
	// (see: https://www.sqlite.org/lang_transaction.html),
	// and the way they interact with the Go SQL drivers,
	// it is better to maintain two separate connection pools.
	ro, rw *sql.DB

	hs    dposconsensus.HashScheme
	codec dposcbor.MarshalCodec

	// Decoded rounds by number.
	// Entries are never handed out directly, only clones.
	cache *lru.Cache[uint64, *dposconsensus.Round]
}

var (
	_ dposstore.RoundStore        = (*Store)(nil)
	_ dposstore.FinalizationStore = (*Store)(nil)
)

func NewOnDiskStore(
	ctx context.Context,
	dbPath string,
	hashScheme dposconsensus.HashScheme,
	reg *gcrypto.Registry,
) (*Store, error) {
	dbPath = filepath.Clean(dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		// Create a file for the database;
		// if no file exists, then our startup pragma commands fail.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %q: %w", dbPath, err)
		}

		// We don't use os.Create since that will truncate an existing file.
		f, err := os.OpenFile(dbPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to create empty database file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("failed to close new empty database file: %w", err)
		}
	}

	// In combination with the SetMaxOpenConns(1) call,
	// this allows only a single writer at a time;
	// other writers block while contending for the single connection
	// instead of getting a "database is locked" error.
	uri := "file:" + dbPath + "?mode=rw"

	// The driver type comes from the sqlitedriver_*.go file
	// chosen based on build tags.
	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}

	rw.SetMaxOpenConns(1)

	// Unlike other pragmas, this is persistent,
	// and it is only relevant to on-disk databases.
	if _, err := rw.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		return nil, fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	if err := pragmasRW(ctx, rw); err != nil {
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		return nil, err
	}

	// Change mode=rw to mode=ro (since we know that was the final query parameter).
	uri = uri[:len(uri)-1] + "o"
	ro, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}
	if err := pragmasRO(ctx, ro); err != nil {
		return nil, err
	}

	return newStore(ro, rw, hashScheme, reg), nil
}

var inMemNameCounter uint32

func NewInMemStore(
	ctx context.Context,
	hashScheme dposconsensus.HashScheme,
	reg *gcrypto.Registry,
) (*Store, error) {
	dbName := fmt.Sprintf("dposdb%d", atomic.AddUint32(&inMemNameCounter, 1))
	uri := "file:" + dbName +
		// Give the "file" a unique name so that multiple connections within one process
		// can use the same in-memory database.
		"?mode=memory" +
		// A private cache means every connection would see a unique database,
		// so this must be shared.
		"&cache=shared" +
		// Immediate effectively takes a write lock on the database
		// at the beginning of every transaction.
		"&_txlock=immediate"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}

	// Without limiting it to one open connection,
	// we would get frequent "table is locked" errors.
	rw.SetMaxOpenConns(1)

	if err := pragmasRW(ctx, rw); err != nil {
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		return nil, err
	}

	// An in-memory database cannot be opened read-only,
	// so the read pool only differs by dropping the txlock directive.
	var ok bool
	uri, ok = strings.CutSuffix(uri, "&_txlock=immediate")
	if !ok {
		panic(fmt.Errorf("BUG: failed to cut _txlock suffix from uri %q", uri))
	}
	ro, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}
	if err := pragmasRO(ctx, ro); err != nil {
		return nil, err
	}

	return newStore(ro, rw, hashScheme, reg), nil
}

func newStore(ro, rw *sql.DB, hs dposconsensus.HashScheme, reg *gcrypto.Registry) *Store {
	cache, err := lru.New[uint64, *dposconsensus.Round](defaultCacheSize)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to create round cache: %w", err))
	}

	return &Store{
		BuildType: sqliteBuildType,

		ro: ro,
		rw: rw,

		hs:    hs,
		codec: dposcbor.MarshalCodec{CryptoRegistry: reg},

		cache: cache,
	}
}

func (s *Store) Close() error {
	errRO := s.ro.Close()
	if errRO != nil {
		errRO = fmt.Errorf("error closing read-only database: %w", errRO)
	}
	errRW := s.rw.Close()
	if errRW != nil {
		errRW = fmt.Errorf("error closing read-write database: %w", errRW)
	}

	return errors.Join(errRO, errRW)
}

func (s *Store) SaveRound(ctx context.Context, r *dposconsensus.Round, height uint64) error {
	defer trace.StartRegion(ctx, "SaveRound").End()

	data, err := s.codec.MarshalRound(r)
	if err != nil {
		return fmt.Errorf("failed to encode round %d: %w", r.Number, err)
	}
	hash, err := s.hs.Round(r)
	if err != nil {
		return fmt.Errorf("failed to hash round %d: %w", r.Number, err)
	}

	if _, err := s.rw.ExecContext(
		ctx,
		`INSERT INTO rounds(number, term, hash, data, height) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(number) DO UPDATE SET
  term = excluded.term, hash = excluded.hash, data = excluded.data, height = excluded.height`,
		int64(r.Number), int64(r.TermNumber), hash, data, int64(height),
	); err != nil {
		return fmt.Errorf("failed to save round %d: %w", r.Number, err)
	}

	// Cache what a load would return, so in values are not kept.
	c := r.Clone()
	for i := range c.Miners {
		c.Miners[i].InValue = nil
	}
	s.cache.Add(r.Number, c)
	return nil
}

func (s *Store) LoadRound(ctx context.Context, number uint64) (*dposconsensus.Round, error) {
	defer trace.StartRegion(ctx, "LoadRound").End()

	if r, ok := s.cache.Get(number); ok {
		return r.Clone(), nil
	}

	var hash, data []byte
	err := s.ro.QueryRowContext(
		ctx,
		`SELECT hash, data FROM rounds WHERE number = ?`,
		int64(number),
	).Scan(&hash, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dposstore.RoundUnknownError{Want: number}
		}
		return nil, fmt.Errorf("failed to load round %d: %w", number, err)
	}

	return s.decode(number, hash, data)
}

func (s *Store) LoadLatestRound(ctx context.Context) (*dposconsensus.Round, uint64, error) {
	defer trace.StartRegion(ctx, "LoadLatestRound").End()

	var number, height uint64
	var hash, data []byte
	err := s.ro.QueryRowContext(
		ctx,
		`SELECT number, hash, data, height FROM rounds ORDER BY number DESC LIMIT 1`,
	).Scan(&number, &hash, &data, &height)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, dposstore.ErrStoreUninitialized
		}
		return nil, 0, fmt.Errorf("failed to load latest round: %w", err)
	}

	r, err := s.decode(number, hash, data)
	if err != nil {
		return nil, 0, err
	}
	return r, height, nil
}

func (s *Store) decode(number uint64, hash, data []byte) (*dposconsensus.Round, error) {
	r, err := s.codec.UnmarshalRound(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode round %d: %w", number, err)
	}

	got, err := s.hs.Round(r)
	if err != nil {
		return nil, fmt.Errorf("failed to hash round %d: %w", number, err)
	}
	if !bytes.Equal(got, hash) {
		return nil, fmt.Errorf("stored round %d does not match its hash: want %x, got %x", number, hash, got)
	}

	s.cache.Add(number, r.Clone())
	return r, nil
}

func (s *Store) PruneRoundsBefore(ctx context.Context, number uint64) error {
	defer trace.StartRegion(ctx, "PruneRoundsBefore").End()

	if _, err := s.rw.ExecContext(
		ctx,
		`DELETE FROM rounds WHERE number < ?`,
		int64(number),
	); err != nil {
		return fmt.Errorf("failed to prune rounds before %d: %w", number, err)
	}

	for _, n := range s.cache.Keys() {
		if n < number {
			s.cache.Remove(n)
		}
	}
	return nil
}

func (s *Store) SaveIrreversibleHeight(ctx context.Context, height, roundNumber uint64) error {
	defer trace.StartRegion(ctx, "SaveIrreversibleHeight").End()

	tx, err := s.rw.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stored uint64
	if err := tx.QueryRowContext(
		ctx, `SELECT height FROM irreversible WHERE id=0`,
	).Scan(&stored); err != nil {
		return fmt.Errorf("failed to read irreversible height: %w", err)
	}
	if height < stored {
		return dposstore.IrreversibleHeightRegressionError{Stored: stored, Candidate: height}
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE irreversible SET height = ?, round_number = ? WHERE id=0`,
		int64(height), int64(roundNumber),
	); err != nil {
		return fmt.Errorf("failed to save irreversible height: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit irreversible height: %w", err)
	}
	return nil
}

func (s *Store) LoadIrreversibleHeight(ctx context.Context) (height, roundNumber uint64, err error) {
	defer trace.StartRegion(ctx, "LoadIrreversibleHeight").End()

	err = s.ro.QueryRowContext(
		ctx,
		`SELECT height, round_number FROM irreversible WHERE id=0`,
	).Scan(&height, &roundNumber)
	return
}

func pragmasRW(ctx context.Context, db *sql.DB) error {
	defer trace.StartRegion(ctx, "pragmasRW").End()

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		return fmt.Errorf("failed to set foreign keys on: %w", err)
	}

	// https://www.sqlite.org/lang_analyze.html#periodically_run_pragma_optimize_
	if _, err := db.ExecContext(ctx, `PRAGMA optimize(0x10002);`); err != nil {
		return fmt.Errorf("failed to run startup PRAGMA optimize: %w", err)
	}

	return nil
}

func pragmasRO(ctx context.Context, db *sql.DB) error {
	defer trace.StartRegion(ctx, "pragmasRO").End()

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		return fmt.Errorf("failed to set foreign keys on: %w", err)
	}

	return nil
}
