package export

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptedSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	inner := NewFilesystemSink(t.TempDir())
	sink, err := NewEncryptedSink(inner, key)
	require.NoError(t, err)

	plaintext := []byte(`[{"key":"01","data":{"title":"secret"}}]`)
	require.NoError(t, sink.Write(ctx, "secret.json", plaintext))

	onDisk, err := inner.Read(ctx, "secret.json")
	require.NoError(t, err)
	require.False(t, bytes.Contains(onDisk, []byte("secret")), "ciphertext on disk must not contain the plaintext")

	decrypted, err := sink.Read(ctx, "secret.json")
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestNewEncryptedSinkRejectsBadKeySize(t *testing.T) {
	_, err := NewEncryptedSink(NewFilesystemSink(t.TempDir()), []byte("too-short"))
	require.Error(t, err)
}

func TestEncryptedSinkRoundTripDistinctNoncesPerWrite(t *testing.T) {
	ctx := context.Background()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	inner := NewFilesystemSink(t.TempDir())
	sink, err := NewEncryptedSink(inner, key)
	require.NoError(t, err)

	require.NoError(t, sink.Write(ctx, "a.json", []byte("same-plaintext")))
	first, err := inner.Read(ctx, "a.json")
	require.NoError(t, err)

	require.NoError(t, sink.Write(ctx, "b.json", []byte("same-plaintext")))
	second, err := inner.Read(ctx, "b.json")
	require.NoError(t, err)

	require.NotEqual(t, first, second, "identical plaintexts must encrypt differently under fresh nonces")
}
