package pipeline

import (
	"fmt"

	"github.com/google/uuid"
)

// Volatile-cache key layout. Other services read the same keyspace, so these
// strings are reproduced bit-for-bit; namespaces must never collide.

func volumeKey(id uuid.UUID) string   { return "file:" + id.String() }
func metadataKey(id uuid.UUID) string { return "file_metadata:" + id.String() }

func resultKey(id uuid.UUID, slice int) string {
	return fmt.Sprintf("result:%s:%d", id, slice)
}

func imageKey(id uuid.UUID, slice int) string {
	return fmt.Sprintf("img:%s:%d", id, slice)
}

func contoursKey(id uuid.UUID, slice int) string {
	return fmt.Sprintf("contours:%s:%d", id, slice)
}
