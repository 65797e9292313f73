package idxstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIndex(t *testing.T) *Index {
	t.Helper()

	window := bytes.Repeat([]byte(`{"name":"event","cat":"io","ts":123,"dur":45}`+"\n"), 500)
	dict, err := CompressWindow(window)
	require.NoError(t, err)

	return &Index{
		Header: Header{
			Version:        1,
			CheckpointSize: 1 << 20,
			UncompressedSz: 1 << 24,
			TotalLines:     100000,
			SourceSize:     1 << 20,
			SourceMtime:    1700000000,
			SourcePrefixH:  0xdeadbeef,
		},
		Checkpoints: []*Checkpoint{
			{UCOffset: 0, UCSize: 1 << 20, COffset: 18, Bits: 3, NumLines: 0, LineOffBlock: 12, DictBytes: dict},
			{UCOffset: 1 << 20, UCSize: 1 << 20, COffset: 4096, Bits: 5, NumLines: 8200, LineOffBlock: 4, DictBytes: dict},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	idx := sampleIndex(t)
	path := filepath.Join(t.TempDir(), "trace.pfw.gz.idx")

	require.NoError(t, Write(path, idx))

	got, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, idx.Header.Version, got.Header.Version)
	assert.Equal(t, idx.Header.CheckpointSize, got.Header.CheckpointSize)
	assert.Equal(t, idx.Header.UncompressedSz, got.Header.UncompressedSz)
	assert.Equal(t, idx.Header.TotalLines, got.Header.TotalLines)
	assert.Equal(t, uint64(len(idx.Checkpoints)), got.Header.CheckpointCount)
	require.Len(t, got.Checkpoints, 2)

	for i := range idx.Checkpoints {
		assert.Equal(t, idx.Checkpoints[i].UCOffset, got.Checkpoints[i].UCOffset)
		assert.Equal(t, idx.Checkpoints[i].COffset, got.Checkpoints[i].COffset)
		assert.Equal(t, idx.Checkpoints[i].Bits, got.Checkpoints[i].Bits)
		assert.Equal(t, idx.Checkpoints[i].NumLines, got.Checkpoints[i].NumLines)

		wantWindow, err := idx.Checkpoints[i].Window()
		require.NoError(t, err)
		gotWindow, err := got.Checkpoints[i].Window()
		require.NoError(t, err)
		assert.Equal(t, wantWindow, gotWindow)
	}
}

func TestWriteIsAtomic(t *testing.T) {
	idx := sampleIndex(t)
	path := filepath.Join(t.TempDir(), "trace.pfw.gz.idx")

	require.NoError(t, Write(path, idx))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "tmp file should not survive a successful Write")
}

func TestReadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.idx")
	require.NoError(t, os.WriteFile(path, []byte("not an index file at all, just garbage bytes"), 0o644))

	_, err := Read(path)
	require.Error(t, err)
}

func TestFingerprintMatches(t *testing.T) {
	hdr := Header{SourceSize: 100, SourceMtime: 42, SourcePrefixH: 7}
	fp := Fingerprint{Size: 100, Mtime: 42, PrefixH: 7}
	assert.True(t, fp.Matches(hdr))

	fp.Size = 101
	assert.False(t, fp.Matches(hdr))
}
