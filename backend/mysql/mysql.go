// Package mysql adapts a MySQL users table as a relational backend.
//
// Expected schema:
//
//	CREATE TABLE users (
//	    userId       VARCHAR(64) PRIMARY KEY,
//	    name         VARCHAR(255),
//	    email        VARCHAR(255) UNIQUE,
//	    age          INT,
//	    balance      DOUBLE,
//	    app          VARCHAR(32),
//	    lastSyncedAt DATETIME NULL
//	);
package mysql

import (
	"context"
	"database/sql"
	"errors"

	// Registers the "mysql" driver.
	_ "github.com/go-sql-driver/mysql"

	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/identity"
)

var ErrNilDB = errors.New("mysql backend: nil db")

type MySQL struct {
	db      *sql.DB
	closeDB bool
}

var _ backend.Backend = (*MySQL)(nil)

type Config struct {
	DB *sql.DB
	// CloseDB set true only if this adapter exclusively owns the pool.
	CloseDB bool
}

func New(cfg Config) (*MySQL, error) {
	if cfg.DB == nil {
		return nil, ErrNilDB
	}
	return &MySQL{db: cfg.DB, closeDB: cfg.CloseDB}, nil
}

func (m *MySQL) Kind() backend.Kind { return backend.KindMySQL }

const selectCols = "SELECT userId, name, email, age, balance, app, lastSyncedAt FROM users"

func (m *MySQL) FindByID(ctx context.Context, userID string) (identity.Record, bool, error) {
	return m.scanOne(m.db.QueryRowContext(ctx, selectCols+" WHERE userId = ?", userID))
}

func (m *MySQL) FindByEmail(ctx context.Context, email string) (identity.Record, bool, error) {
	return m.scanOne(m.db.QueryRowContext(ctx, selectCols+" WHERE email = ?", email))
}

func (m *MySQL) scanOne(row *sql.Row) (identity.Record, bool, error) {
	var (
		rec    identity.Record
		app    sql.NullString
		synced sql.NullTime
	)
	err := row.Scan(&rec.UserID, &rec.Name, &rec.Email, &rec.Age, &rec.Balance, &app, &synced)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Record{}, false, nil
	}
	if err != nil {
		return identity.Record{}, false, err
	}
	if app.Valid {
		rec.App = identity.App(app.String)
	}
	if synced.Valid {
		t := synced.Time
		rec.LastSyncedAt = &t
	}
	return rec, true, nil
}

func (m *MySQL) Upsert(ctx context.Context, rec identity.Record) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO users (userId, name, email, age, balance, app, lastSyncedAt)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE name = ?, age = ?, balance = ?, app = ?, lastSyncedAt = ?`,
		rec.UserID, rec.Name, rec.Email, rec.Age, rec.Balance, string(rec.App), rec.LastSyncedAt,
		rec.Name, rec.Age, rec.Balance, string(rec.App), rec.LastSyncedAt,
	)
	return err
}

func (m *MySQL) Close(context.Context) error {
	if m.closeDB {
		return m.db.Close()
	}
	return nil
}
