package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExportImportEnvelope(t *testing.T) {
	ctx := context.Background()
	sink := NewFilesystemSink(t.TempDir())

	entries := []Entry{
		{Key: "01", Data: []byte(`{"title":"a"}`)},
		{Key: "02", Data: []byte(`{"title":"b"}`), Relations: []byte(`{"relations":[]}`)},
	}
	require.NoError(t, Export(ctx, sink, "batch.json", entries))

	got, err := Import(ctx, sink, "batch.json")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "01", got[0].Key)
	require.JSONEq(t, `{"title":"a"}`, string(got[0].Data))
	require.Nil(t, got[0].Relations)
	require.JSONEq(t, `{"relations":[]}`, string(got[1].Relations))
}

func TestImportPropagatesSinkError(t *testing.T) {
	sink := NewFilesystemSink(t.TempDir())
	_, err := Import(context.Background(), sink, "missing.json")
	require.ErrorIs(t, err, ErrNotFound)
}
