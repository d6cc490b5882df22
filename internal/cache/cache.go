// Package cache holds the byte-store contract shared by the in-process and Redis
// backed payload caches, and the entry framing used on top of them.
package cache

import (
	"context"
	"encoding/binary"
	"time"
)

// BytesCache is a plain key/value byte store. A ttl of zero stores without expiry.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

const headerLen = 8

// EncodeEntry prefixes payload with the fetch time as big-endian unix nanoseconds.
func EncodeEntry(fetchedAt time.Time, payload []byte) []byte {
	out := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint64(out, uint64(fetchedAt.UnixNano()))
	copy(out[headerLen:], payload)
	return out
}

// DecodeEntry reverses EncodeEntry. ok is false for a truncated value.
func DecodeEntry(b []byte) (fetchedAt time.Time, payload []byte, ok bool) {
	if len(b) < headerLen {
		return time.Time{}, nil, false
	}
	ns := int64(binary.BigEndian.Uint64(b))
	return time.Unix(0, ns), b[headerLen:], true
}
