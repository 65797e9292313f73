// Package reader implements components E/F/G: a cursor over a gzip trace
// source that turns the index built by package indexer into O(log n)
// seeking, resuming the resumable deflate decoder from whichever
// checkpoint covers a requested byte or line range instead of decoding
// from the start of the file every time.
package reader

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/dftracer/dftidx/indexer"
	"github.com/dftracer/dftidx/internal/deflate"
	"github.com/dftracer/dftidx/internal/dftidxerr"
	"github.com/dftracer/dftidx/internal/idxstore"
	"github.com/dftracer/dftidx/internal/jsonval"
	"github.com/dftracer/dftidx/internal/tracelog"
	"github.com/dftracer/dftidx/locate"
)

// Option configures a new Reader.
type Option func(*Reader)

// WithSink attaches a logging sink; the default logs nothing.
func WithSink(sink tracelog.Sink) Option {
	return func(r *Reader) { r.sink = sink }
}

// Reader provides random, range-based access to a gzip trace source via
// its on-disk index. A Reader is safe for concurrent use by multiple
// goroutines: every read opens its own decode cursor over a shared,
// never-mutated file handle (os.File.ReadAt is itself concurrency-safe),
// so there's no shared seek position to race on.
type Reader struct {
	gzPath string
	file   *os.File
	size   int64
	idx    *idxstore.Index
	sink   tracelog.Sink
}

// Open loads the sidecar index for gzPath and opens the source for
// reading. It returns a StaleIndex error if the index doesn't match the
// source's current fingerprint — callers are expected to rebuild with
// package indexer before retrying.
func Open(gzPath string, opts ...Option) (*Reader, error) {
	f, err := os.Open(gzPath)
	if err != nil {
		return nil, dftidxerr.NotFound("opening gzip source", err)
	}

	idx, err := idxstore.Read(idxstore.IdxPath(gzPath))
	if err != nil {
		f.Close()
		return nil, err
	}

	fp, err := idxstore.FingerprintFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if !fp.Matches(idx.Header) {
		f.Close()
		return nil, dftidxerr.StaleIndex("index no longer matches source file", nil)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dftidxerr.IO("statting source file", err)
	}

	r := &Reader{
		gzPath: gzPath,
		file:   f,
		size:   fi.Size(),
		idx:    idx,
		sink:   tracelog.Noop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// OpenFromIndexer builds a Reader directly from an already-built Indexer,
// skipping the extra index-file read. ix.Build (or a prior NeedsRebuild
// check confirming freshness) must already have run.
func OpenFromIndexer(ix *indexer.Indexer, opts ...Option) (*Reader, error) {
	idx, err := ix.Index()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(ix.GzPath())
	if err != nil {
		return nil, dftidxerr.NotFound("opening gzip source", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dftidxerr.IO("statting source file", err)
	}
	r := &Reader{
		gzPath: ix.GzPath(),
		file:   f,
		size:   fi.Size(),
		idx:    idx,
		sink:   tracelog.Noop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// MaxBytes returns the total uncompressed size of the source, per the
// index.
func (r *Reader) MaxBytes() uint64 { return r.idx.Header.UncompressedSz }

// NumLines returns the total number of newline-terminated lines the
// index recorded.
func (r *Reader) NumLines() uint64 { return r.idx.Header.TotalLines }

// Reset reloads the index from disk, picking up a rebuild that happened
// after Open. It does not re-verify the source fingerprint against a new
// index's expectations beyond what idxstore.Read itself checks; callers
// that suspect the source itself changed should Close and Open again.
func (r *Reader) Reset() error {
	idx, err := idxstore.Read(idxstore.IdxPath(r.gzPath))
	if err != nil {
		return err
	}
	r.idx = idx
	return nil
}

// Close releases the underlying file handle. Any in-flight iterators
// obtained from this Reader become invalid.
func (r *Reader) Close() error {
	if err := r.file.Close(); err != nil {
		return dftidxerr.IO("closing source file", err)
	}
	return nil
}

// openAt returns a decoder that will yield uncompressed bytes starting
// exactly at offset, resuming from whichever checkpoint covers it (or
// decoding from the stream's true start if offset precedes the first
// checkpoint, per locate.FindCheckpoint's sentinel).
func (r *Reader) openAt(offset uint64) (*deflate.Decompressor, error) {
	cp, ok := locate.FindCheckpoint(r.idx.Checkpoints, offset)
	if !ok {
		sr := io.NewSectionReader(r.file, 0, r.size)
		br := bufio.NewReaderSize(sr, 64<<10)
		hdrLen, err := deflate.SkipMemberHeader(br)
		if err != nil {
			return nil, dftidxerr.CorruptStream("reading gzip member header", err)
		}
		dec := deflate.OpenSequential(br, hdrLen, deflate.Options{})
		if offset > 0 {
			if _, err := io.CopyN(io.Discard, dec, int64(offset)); err != nil {
				return nil, dftidxerr.CorruptStream("discarding skip-prefix", err)
			}
		}
		return dec, nil
	}

	window, err := cp.Window()
	if err != nil {
		return nil, dftidxerr.CorruptIndex("inflating checkpoint window", err)
	}

	bits, numBits := idxstore.UnpackBits(cp.Bits)
	wrPos := int(cp.UCOffset % uint64(deflate.WindowSize))
	full := cp.UCOffset >= uint64(deflate.WindowSize)

	snap := &deflate.Snapshot{
		CompressedOffset:   int64(cp.COffset),
		UncompressedOffset: int64(cp.UCOffset),
		Bits:               bits,
		NumBits:            numBits,
		Window:             window,
		WindowWritePos:     wrPos,
		WindowReadPos:      wrPos,
		WindowFull:         full,
	}

	sr := io.NewSectionReader(r.file, int64(cp.COffset), r.size-int64(cp.COffset))
	br := bufio.NewReaderSize(sr, 64<<10)
	dec := deflate.ResumeAt(br, snap)

	skip := offset - cp.UCOffset
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, dec, int64(skip)); err != nil {
			return nil, dftidxerr.CorruptStream("discarding skip-prefix", err)
		}
	}
	return dec, nil
}

// openAtLine is openAt's line-indexed counterpart: it returns a decoder
// positioned at the start of whichever checkpoint segment covers the
// given 1-based line number, plus the line number that position
// corresponds to. The caller still needs to skip forward line-by-line
// from there to reach the exact requested line.
func (r *Reader) openAtLine(line uint64) (*deflate.Decompressor, uint64, error) {
	cp, ok := locate.FindCheckpointByLine(r.idx.Checkpoints, line)
	if ok && cp.LineOffBlock != 0 && cp.NumLines+1 == line {
		// cp sits inside the requested line; start from an earlier one.
		cp, ok = locate.FindCheckpointByLine(r.idx.Checkpoints, line-1)
	}
	if !ok {
		dec, err := r.openAt(0)
		return dec, 1, err
	}
	dec, err := r.openAt(cp.UCOffset)
	return dec, cp.NumLines + 1, err
}

func (r *Reader) validateByteRange(start, end uint64) error {
	if end < start {
		return dftidxerr.Invalid("end must be >= start", nil)
	}
	max := r.MaxBytes()
	if max == 0 {
		if start == 0 && end == 0 {
			return nil
		}
		return dftidxerr.OutOfRange("source is empty", nil)
	}
	if start >= max {
		return dftidxerr.OutOfRange("start is at or beyond the source length", nil)
	}
	if end > max {
		return dftidxerr.OutOfRange("end is beyond the source length", nil)
	}
	return nil
}

func (r *Reader) validateLineRange(l0, l1 uint64) error {
	if l0 == 0 {
		return dftidxerr.OutOfRange("line numbers are 1-based; l0 must be >= 1", nil)
	}
	if l1 < l0 {
		return dftidxerr.Invalid("l1 must be >= l0", nil)
	}
	total := r.NumLines()
	if l0 > total {
		return dftidxerr.OutOfRange("l0 is beyond the last line", nil)
	}
	if l1 > total {
		return dftidxerr.OutOfRange("l1 is beyond the last line", nil)
	}
	return nil
}

// ReadBytes returns the raw uncompressed bytes in [start, end), with no
// regard for line boundaries.
func (r *Reader) ReadBytes(start, end uint64) ([]byte, error) {
	if err := r.validateByteRange(start, end); err != nil {
		return nil, err
	}
	if start == end {
		return []byte{}, nil
	}
	dec, err := r.openAt(start)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, end-start)
	if _, err := io.ReadFull(dec, buf); err != nil {
		return nil, dftidxerr.CorruptStream("reading byte range", err)
	}
	return buf, nil
}

// firstLineStartAtOrAfter returns the smallest offset p >= start such
// that p is either 0 or immediately follows a '\n' — i.e. the start of
// the first line owned by a chunk beginning at start. If no such line
// starts before the end of the source, it returns MaxBytes().
func (r *Reader) firstLineStartAtOrAfter(start uint64) (uint64, error) {
	if start == 0 {
		return 0, nil
	}
	max := r.MaxBytes()
	if start >= max {
		return max, nil
	}

	dec, err := r.openAt(start - 1)
	if err != nil {
		return 0, err
	}
	br := bufio.NewReader(dec)

	prev, err := br.ReadByte()
	if err != nil {
		return 0, dftidxerr.CorruptStream("reading boundary byte", err)
	}
	if prev == '\n' {
		return start, nil
	}

	cursor := start
	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			return max, nil
		}
		if err != nil {
			return 0, dftidxerr.CorruptStream("scanning for line boundary", err)
		}
		if c == '\n' {
			return cursor + 1, nil
		}
		cursor++
	}
}

// ReadLineBytes returns every line owned by the chunk [start, end): a
// line with start offset p is owned iff start <= p < end, regardless of
// where its terminator falls. Decoding continues past end as needed to
// finish the last owned line, and a line with no trailing '\n' (only
// possible at end of source) is still returned whole. This is what makes
// parallel chunked scans lossless and duplicate-free: every byte offset
// in the source is the start of a line owned by exactly one chunk.
func (r *Reader) ReadLineBytes(start, end uint64) ([]byte, error) {
	if err := r.validateByteRange(start, end); err != nil {
		return nil, err
	}

	p0, err := r.firstLineStartAtOrAfter(start)
	if err != nil {
		return nil, err
	}
	if p0 >= end {
		return []byte{}, nil
	}

	dec, err := r.openAt(p0)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(dec)

	var out []byte
	cursor := p0
	for cursor < end {
		line, rerr := br.ReadBytes('\n')
		out = append(out, line...)
		cursor += uint64(len(line))
		if rerr != nil {
			break
		}
	}
	return out, nil
}

// ReadLines returns the 1-based, inclusive range of lines [l0, l1], each
// with its trailing terminator stripped.
func (r *Reader) ReadLines(l0, l1 uint64) ([][]byte, error) {
	if err := r.validateLineRange(l0, l1); err != nil {
		return nil, err
	}

	dec, curLine, err := r.openAtLine(l0)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(dec)

	for curLine < l0 {
		if _, err := br.ReadBytes('\n'); err != nil {
			return nil, dftidxerr.CorruptStream("skipping to requested line", err)
		}
		curLine++
	}

	out := make([][]byte, 0, l1-l0+1)
	for curLine <= l1 {
		line, rerr := br.ReadBytes('\n')
		out = append(out, trimTerminator(line))
		if rerr != nil {
			break
		}
		curLine++
	}
	return out, nil
}

func trimTerminator(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		return line[:n-1]
	}
	return line
}

// ReadLinesJSON is ReadLines with each line parsed as JSON.
func (r *Reader) ReadLinesJSON(l0, l1 uint64) ([]jsonval.Value, error) {
	lines, err := r.ReadLines(l0, l1)
	if err != nil {
		return nil, err
	}
	return parseLines(lines)
}

// ReadLineBytesJSON is ReadLineBytes with the resulting lines split and
// each parsed as JSON.
func (r *Reader) ReadLineBytesJSON(start, end uint64) ([]jsonval.Value, error) {
	raw, err := r.ReadLineBytes(start, end)
	if err != nil {
		return nil, err
	}
	var lines [][]byte
	for len(raw) > 0 {
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			lines = append(lines, raw)
			break
		}
		lines = append(lines, raw[:i])
		raw = raw[i+1:]
	}
	return parseLines(lines)
}

// parseLines parses each line as JSON. A malformed line does not abort
// the batch: it's substituted with jsonval.Null so a few noisy lines in
// an otherwise-good trace don't cost the caller every other result.
func parseLines(lines [][]byte) ([]jsonval.Value, error) {
	out := make([]jsonval.Value, 0, len(lines))
	for _, line := range lines {
		v, err := jsonval.Parse(line)
		if err != nil {
			out = append(out, jsonval.Null)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
