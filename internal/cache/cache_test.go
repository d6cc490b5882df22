package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEntryRoundTrip(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 123, time.UTC)
	fetchedAt, payload, ok := DecodeEntry(EncodeEntry(at, []byte(`{"a":1}`)))
	require.True(t, ok)
	require.True(t, at.Equal(fetchedAt))
	require.Equal(t, `{"a":1}`, string(payload))
}

func TestDecodeEntry_Truncated(t *testing.T) {
	_, _, ok := DecodeEntry([]byte{1, 2, 3})
	require.False(t, ok)

	_, payload, ok := DecodeEntry(EncodeEntry(time.Unix(5, 0), nil))
	require.True(t, ok)
	require.Empty(t, payload)
}
