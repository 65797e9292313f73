// Package idxstore implements the on-disk binary format for a dftidx index:
// a fixed-width header followed by an ordered sequence of fixed-width
// checkpoint records, each carrying its own compressed decoder window.
package idxstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"

	"github.com/dftracer/dftidx/internal/dftidxerr"
)

const (
	magic          = "DFTIDX01"
	formatVersion  = uint32(1)
	headerSize     = 8 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 // 68 bytes
	checkpointFixed = 8 + 8 + 8 + 1 + 8 + 8 + 4         // 45 bytes, excludes dict_bytes
)

// windowDict is the small fixed dictionary used to seed raw-deflate
// compression of checkpoint windows. JSON trace lines share a lot of
// structural vocabulary (field names, punctuation), so priming the window
// compressor with it buys back some of the ratio lost from compressing each
// 32 KiB window independently.
var windowDict = []byte(`{"id":,"name":,"cat":,"pid":,"tid":,"ts":,"dur":,"ph":"X","args":{}}` +
	`true false null 0123456789"timestamp":"duration":"event":"thread":"process":` + "\n")

// Header is the fixed-width preface of an index file.
type Header struct {
	Version         uint32
	CheckpointSize  uint64
	UncompressedSz  uint64
	TotalLines      uint64
	SourceSize      uint64
	SourceMtime     int64
	SourcePrefixH   uint64
	CheckpointCount uint64
}

// Checkpoint is one resumable position in the deflate stream, as persisted
// on disk. Window bytes are kept compressed (DictBytes) until something
// actually needs them; call Window() to get the raw 32 KiB buffer.
//
// Checkpoint is always handled through a *Checkpoint, never copied by
// value: the lazy window cache below holds a sync.Once, and a slice of
// Checkpoint values would let every locate/reader call that ranges or
// returns one of them copy that lock (a go vet copylocks violation) and,
// worse, silently defeat the cache itself by handing each copy its own
// fresh, never-fired Once. Index.Checkpoints is therefore a []*Checkpoint,
// and every function that hands out one checkpoint hands out its pointer
// into that same backing slice.
type Checkpoint struct {
	UCOffset     uint64
	UCSize       uint64
	COffset      uint64
	Bits         uint8
	NumLines     uint64
	LineOffBlock uint64
	DictBytes    []byte

	windowOnce sync.Once
	window     []byte
	windowErr  error
}

// Window lazily inflates the checkpoint's compressed decoder window. The
// result is cached: concurrent callers across goroutines are safe since
// decompression only ever happens once per checkpoint (Index and its
// Checkpoints are immutable after Read).
func (c *Checkpoint) Window() ([]byte, error) {
	c.windowOnce.Do(func() {
		if len(c.DictBytes) == 0 {
			c.window = nil
			return
		}
		fr := flate.NewReaderDict(newByteReader(c.DictBytes), windowDict)
		defer fr.Close()
		buf, err := io.ReadAll(fr)
		if err != nil {
			c.windowErr = errors.Wrap(err, "inflating checkpoint window")
			return
		}
		c.window = buf
	})
	return c.window, c.windowErr
}

func newByteReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b []byte
	i int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

// CompressWindow deflates a 32 KiB decoder window for storage, using the
// same fixed dictionary Window() primes its reader with.
func CompressWindow(window []byte) ([]byte, error) {
	if len(window) == 0 {
		return nil, nil
	}
	var buf sliceWriter
	fw, err := flate.NewWriterDict(&buf, flate.BestCompression, windowDict)
	if err != nil {
		return nil, errors.Wrap(err, "creating window compressor")
	}
	if _, err := fw.Write(window); err != nil {
		return nil, errors.Wrap(err, "compressing checkpoint window")
	}
	if err := fw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing window compressor")
	}
	return buf.b, nil
}

type sliceWriter struct{ b []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

// Index is a fully decoded index file: the header plus every checkpoint,
// kept in memory once read. Checkpoint windows stay compressed until
// Checkpoint.Window is called. Checkpoints is a slice of pointers, not
// values, so that cache stays shared across every holder of a given
// checkpoint (see Checkpoint's doc comment).
type Index struct {
	Header      Header
	Checkpoints []*Checkpoint
}

// Write persists idx to path atomically: it writes to path+".tmp", fsyncs,
// then renames over path. A reader holding an already-open handle to the
// previous file keeps reading a consistent, complete index.
func Write(path string, idx *Index) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return dftidxerr.IO("opening index tmp file", err)
	}

	bw := bufio.NewWriter(f)
	if err := encode(bw, idx); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return dftidxerr.IO("flushing index tmp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return dftidxerr.IO("fsyncing index tmp file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return dftidxerr.IO("closing index tmp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return dftidxerr.IO("renaming index tmp file into place", err)
	}
	return nil
}

func encode(w io.Writer, idx *Index) error {
	idx.Header.CheckpointCount = uint64(len(idx.Checkpoints))

	var hdr [headerSize]byte
	copy(hdr[0:8], magic)
	binary.LittleEndian.PutUint32(hdr[8:12], idx.Header.Version)
	binary.LittleEndian.PutUint64(hdr[12:20], idx.Header.CheckpointSize)
	binary.LittleEndian.PutUint64(hdr[20:28], idx.Header.UncompressedSz)
	binary.LittleEndian.PutUint64(hdr[28:36], idx.Header.TotalLines)
	binary.LittleEndian.PutUint64(hdr[36:44], idx.Header.SourceSize)
	binary.LittleEndian.PutUint64(hdr[44:52], uint64(idx.Header.SourceMtime))
	binary.LittleEndian.PutUint64(hdr[52:60], idx.Header.SourcePrefixH)
	binary.LittleEndian.PutUint64(hdr[60:68], idx.Header.CheckpointCount)
	if _, err := w.Write(hdr[:]); err != nil {
		return dftidxerr.IO("writing index header", err)
	}

	for i := range idx.Checkpoints {
		cp := idx.Checkpoints[i]
		var rec [checkpointFixed]byte
		binary.LittleEndian.PutUint64(rec[0:8], cp.UCOffset)
		binary.LittleEndian.PutUint64(rec[8:16], cp.UCSize)
		binary.LittleEndian.PutUint64(rec[16:24], cp.COffset)
		rec[24] = cp.Bits
		binary.LittleEndian.PutUint64(rec[25:33], cp.NumLines)
		binary.LittleEndian.PutUint64(rec[33:41], cp.LineOffBlock)
		binary.LittleEndian.PutUint32(rec[41:45], uint32(len(cp.DictBytes)))
		if _, err := w.Write(rec[:]); err != nil {
			return dftidxerr.IO(fmt.Sprintf("writing checkpoint %d", i), err)
		}
		if len(cp.DictBytes) > 0 {
			if _, err := w.Write(cp.DictBytes); err != nil {
				return dftidxerr.IO(fmt.Sprintf("writing checkpoint %d window", i), err)
			}
		}
	}
	return nil
}

// Read loads a full index from path, validating the magic and version.
func Read(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dftidxerr.NotFound("index file does not exist", err)
		}
		return nil, dftidxerr.IO("opening index file", err)
	}
	defer f.Close()

	return decode(bufio.NewReader(f))
}

func decode(r *bufio.Reader) (*Index, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, dftidxerr.CorruptIndex("reading index header", err)
	}
	if string(hdr[0:8]) != magic {
		return nil, dftidxerr.CorruptIndex(fmt.Sprintf("bad magic %q", hdr[0:8]), nil)
	}

	idx := &Index{}
	idx.Header.Version = binary.LittleEndian.Uint32(hdr[8:12])
	if idx.Header.Version != formatVersion {
		return nil, dftidxerr.CorruptIndex(fmt.Sprintf("unsupported index version %d", idx.Header.Version), nil)
	}
	idx.Header.CheckpointSize = binary.LittleEndian.Uint64(hdr[12:20])
	idx.Header.UncompressedSz = binary.LittleEndian.Uint64(hdr[20:28])
	idx.Header.TotalLines = binary.LittleEndian.Uint64(hdr[28:36])
	idx.Header.SourceSize = binary.LittleEndian.Uint64(hdr[36:44])
	idx.Header.SourceMtime = int64(binary.LittleEndian.Uint64(hdr[44:52]))
	idx.Header.SourcePrefixH = binary.LittleEndian.Uint64(hdr[52:60])
	idx.Header.CheckpointCount = binary.LittleEndian.Uint64(hdr[60:68])

	idx.Checkpoints = make([]*Checkpoint, idx.Header.CheckpointCount)
	for i := range idx.Checkpoints {
		var rec [checkpointFixed]byte
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, dftidxerr.CorruptIndex(fmt.Sprintf("reading checkpoint %d", i), err)
		}
		cp := &Checkpoint{}
		idx.Checkpoints[i] = cp
		cp.UCOffset = binary.LittleEndian.Uint64(rec[0:8])
		cp.UCSize = binary.LittleEndian.Uint64(rec[8:16])
		cp.COffset = binary.LittleEndian.Uint64(rec[16:24])
		cp.Bits = rec[24]
		cp.NumLines = binary.LittleEndian.Uint64(rec[25:33])
		cp.LineOffBlock = binary.LittleEndian.Uint64(rec[33:41])
		dictLen := binary.LittleEndian.Uint32(rec[41:45])
		if dictLen > 0 {
			cp.DictBytes = make([]byte, dictLen)
			if _, err := io.ReadFull(r, cp.DictBytes); err != nil {
				return nil, dftidxerr.CorruptIndex(fmt.Sprintf("reading checkpoint %d window", i), err)
			}
		}
	}

	return idx, nil
}

// IdxPath returns the conventional sidecar index path for a gzip source
// path: "<path>.idx".
func IdxPath(gzPath string) string {
	return gzPath + ".idx"
}

// AbsPath resolves p relative to base's directory, leaving absolute paths
// untouched.
func AbsPath(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(base), p)
}
