package indexer

import (
	"bufio"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/dftracer/dftidx/internal/dftidxerr"
)

// Verify checks property #1 (round-trip, whole file): it decodes the gzip
// source sequentially, independently of internal/deflate's
// checkpoint-driven resumable decoder, using klauspost/compress/gzip, and
// compares the result against what the built index claims for
// uncompressed size and line count. It does not compare against
// reader.Reader's output directly — that would just be testing
// internal/deflate against itself — it instead gives a second, unrelated
// decoder implementation to disagree with if the checkpoint-driven path
// ever drifts.
func (ix *Indexer) Verify() error {
	idx, err := ix.built()
	if err != nil {
		return err
	}

	f, err := os.Open(ix.gzPath)
	if err != nil {
		return dftidxerr.NotFound("opening gzip source for verification", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return dftidxerr.CorruptStream("opening gzip stream for verification", err)
	}
	defer zr.Close()

	var (
		total uint64
		lines uint64
		buf   = make([]byte, 1<<16)
	)
	for {
		n, rerr := zr.Read(buf)
		if n > 0 {
			total += uint64(n)
			for _, b := range buf[:n] {
				if b == '\n' {
					lines++
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return dftidxerr.CorruptStream("decoding gzip stream for verification", rerr)
		}
	}

	if total != idx.Header.UncompressedSz {
		return dftidxerr.CorruptIndex("index uncompressed size disagrees with sequential decode", nil)
	}
	if lines != idx.Header.TotalLines {
		return dftidxerr.CorruptIndex("index line count disagrees with sequential decode", nil)
	}
	return nil
}
