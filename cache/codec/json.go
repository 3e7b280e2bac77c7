package codec

import "encoding/json"

// JSON keeps payloads readable by the other consumers of the shared keyspace
// (the metadata snapshot under file_metadata: is plain JSON on the wire).
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
