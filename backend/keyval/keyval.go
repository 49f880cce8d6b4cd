// Package keyval adapts a Redis instance as a key-value backend. Records are
// stored as JSON under "identity:user:<id>" with a secondary
// "identity:email:<email>" pointer for the email lookup path.
package keyval

import (
	"context"
	"encoding/json"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/identity"
)

var ErrNilClient = errors.New("keyval backend: nil client")

const (
	userKeyPrefix  = "identity:user:"
	emailKeyPrefix = "identity:email:"
)

type Keyval struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ backend.Backend = (*Keyval)(nil)

type Config struct {
	Client goredis.UniversalClient
	// CloseClient set true only if this adapter exclusively owns the client.
	CloseClient bool
}

func New(cfg Config) (*Keyval, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Keyval{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (k *Keyval) Kind() backend.Kind { return backend.KindKeyval }

func (k *Keyval) FindByID(ctx context.Context, userID string) (identity.Record, bool, error) {
	return k.getRecord(ctx, userKeyPrefix+userID)
}

func (k *Keyval) FindByEmail(ctx context.Context, email string) (identity.Record, bool, error) {
	id, err := k.rdb.Get(ctx, emailKeyPrefix+email).Result()
	if err == goredis.Nil {
		return identity.Record{}, false, nil
	}
	if err != nil {
		return identity.Record{}, false, err
	}
	return k.getRecord(ctx, userKeyPrefix+id)
}

func (k *Keyval) getRecord(ctx context.Context, key string) (identity.Record, bool, error) {
	b, err := k.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return identity.Record{}, false, nil
	}
	if err != nil {
		return identity.Record{}, false, err
	}
	var rec identity.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return identity.Record{}, false, err
	}
	return rec, true, nil
}

func (k *Keyval) Upsert(ctx context.Context, rec identity.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := k.rdb.TxPipeline()
	pipe.Set(ctx, userKeyPrefix+rec.UserID, b, 0)
	pipe.Set(ctx, emailKeyPrefix+rec.Email, rec.UserID, 0)
	_, err = pipe.Exec(ctx)
	return err
}

// Close releases the underlying redis client only when this adapter owns it.
func (k *Keyval) Close(context.Context) error {
	if k.closeClient {
		if err := k.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
