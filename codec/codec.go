// Package codec defines how identity records are serialized into the
// generation stores. Implementations must round-trip: Decode(Encode(v))
// yields a structurally equal value, since the dual-key invariant promises
// identical copies under both cache keys.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
