package main

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir string, lines int) string {
	t.Helper()
	var plain bytes.Buffer
	for i := 0; i < lines; i++ {
		plain.WriteString(`{"id": `)
		plain.WriteString(itoa(i))
		plain.WriteString(`, "name": "event"}`)
		plain.WriteByte('\n')
	}

	path := filepath.Join(dir, "trace.pfw.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := gzip.NewWriter(f)
	_, err = w.Write(plain.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestBuildThenCatThenLines(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, 50)

	require.NoError(t, run([]string{"--checkpoint-size=4096", "build", path}))
	// Second build is a no-op short-circuit via NeedsRebuild.
	require.NoError(t, run([]string{"build", path}))

	require.NoError(t, run([]string{"lines", path, "--first=1", "--last=5"}))
	require.NoError(t, run([]string{"cat", path, "--start=0", "--end=10"}))
	require.NoError(t, run([]string{"inspect", path}))
	require.NoError(t, run([]string{"verify", path}))
}

func TestBuildRejectsMissingFile(t *testing.T) {
	err := run([]string{"build", "/nonexistent/path/trace.pfw.gz"})
	require.Error(t, err)
}
