package batchread

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dftracer/dftidx/indexer"
	"github.com/dftracer/dftidx/reader"
)

func openFixture(t *testing.T, lines int) (*reader.Reader, []byte) {
	t.Helper()
	dir := t.TempDir()

	var buf bytes.Buffer
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&buf, `{"id": %d, "v": %d}`+"\n", i, i*3)
	}
	plain := buf.Bytes()

	path := filepath.Join(dir, "trace.pfw.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	require.NoError(t, err)
	_, err = w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	ix := indexer.New(path, indexer.WithCheckpointSize(4096))
	require.NoError(t, ix.Build())

	r, err := reader.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, plain
}

func TestReadLinesConcurrent(t *testing.T) {
	r, _ := openFixture(t, 3000)

	ranges := []LineRange{{1, 50}, {500, 520}, {1000, 1100}, {2999, 3000}}
	got, err := ReadLines(context.Background(), r, ranges, 4)
	require.NoError(t, err)
	require.Len(t, got, len(ranges))

	for i, rng := range ranges {
		want, err := r.ReadLines(rng.L0, rng.L1)
		require.NoError(t, err)
		assert.Equal(t, want, got[i])
	}
}

func TestReadLineBytesChunksReassemble(t *testing.T) {
	r, plain := openFixture(t, 2000)
	max := uint64(len(plain))

	const chunk = 977
	var ranges []ByteRange
	for start := uint64(0); start < max; start += chunk {
		end := start + chunk
		if end > max {
			end = max
		}
		ranges = append(ranges, ByteRange{start, end})
	}

	chunks, err := ReadLineBytesChunks(context.Background(), r, ranges, 6)
	require.NoError(t, err)

	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c...)
	}
	assert.Equal(t, plain, reassembled)
}
