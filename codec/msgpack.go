package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack is a Codec that serializes values using vmihailenco/msgpack/v5.
// The zero value is ready to use. This is the default record codec: compact
// and fast, which matters when every write lands under two keys.
//
// Field names follow `msgpack:"fieldName"` tags; keep them aligned with the
// JSON tags so switching codecs does not orphan persisted entries.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) {
	return msgpack.Marshal(v)
}
func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
