// Package scylla adapts a ScyllaDB (Cassandra wire) users table as a
// wide-column backend.
//
// Expected schema:
//
//	CREATE TABLE users (
//	    userid       text PRIMARY KEY,
//	    name         text,
//	    email        text,
//	    age          int,
//	    balance      double,
//	    app          text,
//	    lastsyncedat timestamp
//	);
//	CREATE INDEX users_email_idx ON users (email);
package scylla

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"

	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/identity"
)

var ErrNilSession = errors.New("scylla backend: nil session")

type Scylla struct {
	session      *gocql.Session
	closeSession bool
}

var _ backend.Backend = (*Scylla)(nil)

type Config struct {
	Session *gocql.Session
	// CloseSession set true only if this adapter exclusively owns the session.
	CloseSession bool
}

func New(cfg Config) (*Scylla, error) {
	if cfg.Session == nil {
		return nil, ErrNilSession
	}
	return &Scylla{session: cfg.Session, closeSession: cfg.CloseSession}, nil
}

func (s *Scylla) Kind() backend.Kind { return backend.KindScylla }

const selectCols = "SELECT userid, name, email, age, balance, app, lastsyncedat FROM users"

func (s *Scylla) FindByID(ctx context.Context, userID string) (identity.Record, bool, error) {
	return s.scanOne(s.session.Query(selectCols+" WHERE userid = ?", userID).WithContext(ctx))
}

func (s *Scylla) FindByEmail(ctx context.Context, email string) (identity.Record, bool, error) {
	return s.scanOne(s.session.Query(selectCols+" WHERE email = ?", email).WithContext(ctx))
}

func (s *Scylla) scanOne(q *gocql.Query) (identity.Record, bool, error) {
	var (
		rec    identity.Record
		app    string
		synced time.Time
	)
	err := q.Scan(&rec.UserID, &rec.Name, &rec.Email, &rec.Age, &rec.Balance, &app, &synced)
	if errors.Is(err, gocql.ErrNotFound) {
		return identity.Record{}, false, nil
	}
	if err != nil {
		return identity.Record{}, false, err
	}
	rec.App = identity.App(app)
	if !synced.IsZero() {
		t := synced
		rec.LastSyncedAt = &t
	}
	return rec, true, nil
}

// Upsert relies on Cassandra INSERT semantics: writes overwrite by primary
// key, so insert and update are the same statement.
func (s *Scylla) Upsert(ctx context.Context, rec identity.Record) error {
	var synced time.Time
	if rec.LastSyncedAt != nil {
		synced = *rec.LastSyncedAt
	}
	return s.session.Query(
		`INSERT INTO users (userid, name, email, age, balance, app, lastsyncedat)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Name, rec.Email, rec.Age, rec.Balance, string(rec.App), synced,
	).WithContext(ctx).Exec()
}

func (s *Scylla) Close(context.Context) error {
	if s.closeSession {
		s.session.Close()
	}
	return nil
}
