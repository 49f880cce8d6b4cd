package codec_test

import (
	"testing"
	"time"

	"github.com/unkn0wn-root/identicache/codec"
	"github.com/unkn0wn-root/identicache/identity"
)

func sample() identity.Record {
	synced := time.Date(2026, 8, 1, 22, 30, 0, 0, time.UTC)
	return identity.Record{
		UserID:       "rivas-m2xk1",
		Email:        "ada@x.com",
		Name:         "Ada",
		Age:          30,
		Balance:      42.5,
		App:          identity.AppRivas,
		LastSyncedAt: &synced,
	}
}

func roundTrip(t *testing.T, c codec.Codec[identity.Record], rec identity.Record) {
	t.Helper()
	b, err := c.Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Equal(rec) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, rec)
	}
}

func TestMsgpackRoundTrip(t *testing.T) {
	roundTrip(t, codec.Msgpack[identity.Record]{}, sample())

	pending := sample()
	pending.LastSyncedAt = nil
	roundTrip(t, codec.Msgpack[identity.Record]{}, pending)
}

func TestJSONRoundTrip(t *testing.T) {
	roundTrip(t, codec.JSON[identity.Record]{}, sample())
}

func TestCBORRoundTrip(t *testing.T) {
	c, err := codec.NewCBOR[identity.Record](false)
	if err != nil {
		t.Fatalf("NewCBOR: %v", err)
	}
	roundTrip(t, c, sample())
}

// TestCBORDeterministic checks that the canonical mode is byte-stable across
// repeated encodes of the same value.
func TestCBORDeterministic(t *testing.T) {
	c := codec.MustCBOR[identity.Record](true)
	a, err := c.Encode(sample())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := c.Encode(sample())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("deterministic encoding differs between runs")
	}
}
