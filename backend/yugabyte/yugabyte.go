// Package yugabyte adapts a YugabyteDB (PostgreSQL wire) users table as a
// distributed-SQL backend.
//
// Expected schema (identifiers folded to lowercase):
//
//	CREATE TABLE users (
//	    userid       TEXT PRIMARY KEY,
//	    name         TEXT,
//	    email        TEXT UNIQUE,
//	    age          INT,
//	    balance      DOUBLE PRECISION,
//	    app          TEXT,
//	    lastsyncedat TIMESTAMPTZ NULL
//	);
package yugabyte

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/identity"
)

var ErrNilPool = errors.New("yugabyte backend: nil pool")

type Yugabyte struct {
	pool      *pgxpool.Pool
	closePool bool
}

var _ backend.Backend = (*Yugabyte)(nil)

type Config struct {
	Pool *pgxpool.Pool
	// ClosePool set true only if this adapter exclusively owns the pool.
	ClosePool bool
}

func New(cfg Config) (*Yugabyte, error) {
	if cfg.Pool == nil {
		return nil, ErrNilPool
	}
	return &Yugabyte{pool: cfg.Pool, closePool: cfg.ClosePool}, nil
}

func (y *Yugabyte) Kind() backend.Kind { return backend.KindYugabyte }

const selectCols = "SELECT userid, name, email, age, balance, app, lastsyncedat FROM users"

func (y *Yugabyte) FindByID(ctx context.Context, userID string) (identity.Record, bool, error) {
	return y.scanOne(ctx, selectCols+" WHERE userid = $1", userID)
}

func (y *Yugabyte) FindByEmail(ctx context.Context, email string) (identity.Record, bool, error) {
	return y.scanOne(ctx, selectCols+" WHERE email = $1", email)
}

func (y *Yugabyte) scanOne(ctx context.Context, query string, arg any) (identity.Record, bool, error) {
	var (
		rec identity.Record
		app *string
	)
	err := y.pool.QueryRow(ctx, query, arg).
		Scan(&rec.UserID, &rec.Name, &rec.Email, &rec.Age, &rec.Balance, &app, &rec.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Record{}, false, nil
	}
	if err != nil {
		return identity.Record{}, false, err
	}
	if app != nil {
		rec.App = identity.App(*app)
	}
	return rec, true, nil
}

func (y *Yugabyte) Upsert(ctx context.Context, rec identity.Record) error {
	_, err := y.pool.Exec(ctx,
		`INSERT INTO users (userid, name, email, age, balance, app, lastsyncedat)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (userid) DO UPDATE
		 SET name = $2, age = $4, balance = $5, app = $6, lastsyncedat = $7`,
		rec.UserID, rec.Name, rec.Email, rec.Age, rec.Balance, string(rec.App), rec.LastSyncedAt,
	)
	return err
}

func (y *Yugabyte) Close(context.Context) error {
	if y.closePool {
		y.pool.Close()
	}
	return nil
}
