package persistence

import (
	"encoding/json"

	"github.com/streamcore/roundtable/pkg/chunk"
)

func encodePersistedChunk(c chunk.PersistedChunk) ([]byte, error) {
	return json.Marshal(c)
}

func decodePersistedChunk(data []byte, out *chunk.PersistedChunk) error {
	return json.Unmarshal(data, out)
}

func encodeDomainChunk(c chunk.DomainChunk) ([]byte, error) {
	return json.Marshal(c)
}

func decodeDomainChunk(data []byte) (chunk.DomainChunk, error) {
	var c chunk.DomainChunk
	err := json.Unmarshal(data, &c)
	return c, err
}
