// Package indexer implements component C: it drives the resumable deflate
// decoder (internal/deflate) over an entire gzip source exactly once,
// counting lines and emitting checkpoints at the configured byte interval,
// then persists everything through internal/idxstore.
package indexer

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/dftracer/dftidx/internal/deflate"
	"github.com/dftracer/dftidx/internal/dftidxerr"
	"github.com/dftracer/dftidx/internal/idxstore"
	"github.com/dftracer/dftidx/internal/tracelog"
	"github.com/dftracer/dftidx/locate"
)

// DefaultCheckpointSize is the interval (in uncompressed bytes) used when
// the caller doesn't specify one: 32 MiB, matching the reference
// implementation's default.
const DefaultCheckpointSize = 32 * 1024 * 1024

// Option configures a new Indexer.
type Option func(*Indexer)

// WithIdxPath overrides the default "<gzPath>.idx" sidecar location.
func WithIdxPath(path string) Option {
	return func(ix *Indexer) { ix.idxPath = path }
}

// WithCheckpointSize sets the target uncompressed-byte interval between
// checkpoints. It is a target, not a guarantee: actual spacing is bounded
// below by deflate block structure (see internal/deflate).
func WithCheckpointSize(size uint64) Option {
	return func(ix *Indexer) { ix.checkpointSize = size }
}

// WithForceRebuild makes Build() always rewrite the index even if it
// already looks current.
func WithForceRebuild(force bool) Option {
	return func(ix *Indexer) { ix.forceRebuild = force }
}

// WithSink attaches a logging sink; nil, like the default, logs nothing.
func WithSink(sink tracelog.Sink) Option {
	return func(ix *Indexer) {
		if sink == nil {
			sink = tracelog.Noop{}
		}
		ix.sink = sink
	}
}

// Indexer drives component A over a gzip source and maintains its on-disk
// index (component B). A single Indexer corresponds to a single gzip
// source; New never touches the filesystem, so it never fails.
type Indexer struct {
	gzPath         string
	idxPath        string
	checkpointSize uint64
	forceRebuild   bool
	sink           tracelog.Sink

	idx *idxstore.Index
}

// New constructs an Indexer for gzPath. It does not read or write anything;
// call Build (or NeedsRebuild followed by Build) to do that.
func New(gzPath string, opts ...Option) *Indexer {
	ix := &Indexer{
		gzPath:         gzPath,
		idxPath:        idxstore.IdxPath(gzPath),
		checkpointSize: DefaultCheckpointSize,
		sink:           tracelog.Noop{},
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func (ix *Indexer) GzPath() string         { return ix.gzPath }
func (ix *Indexer) IdxPath() string        { return ix.idxPath }
func (ix *Indexer) CheckpointSize() uint64 { return ix.checkpointSize }

// NeedsRebuild reports whether the index is missing, stale (fingerprint
// mismatch against the current source file), version-mismatched, or
// force_rebuild was requested.
func (ix *Indexer) NeedsRebuild() (bool, error) {
	if ix.forceRebuild {
		return true, nil
	}

	idx, err := idxstore.Read(ix.idxPath)
	if err != nil {
		if dftidxerr.Is(err, dftidxerr.KindNotFound) {
			return true, nil
		}
		if dftidxerr.Is(err, dftidxerr.KindCorruptIndex) {
			return true, nil
		}
		return false, err
	}

	f, err := os.Open(ix.gzPath)
	if err != nil {
		return false, dftidxerr.NotFound("opening gzip source", err)
	}
	defer f.Close()

	fp, err := idxstore.FingerprintFile(f)
	if err != nil {
		return false, err
	}
	if !fp.Matches(idx.Header) {
		return true, nil
	}

	ix.idx = idx
	return false, nil
}

// IsValid reports whether the current on-disk index is structurally
// readable and matches the source fingerprint, without forcing a rebuild
// decision the way NeedsRebuild's force_rebuild check does.
func (ix *Indexer) IsValid() bool {
	idx, err := idxstore.Read(ix.idxPath)
	if err != nil {
		return false
	}
	f, err := os.Open(ix.gzPath)
	if err != nil {
		return false
	}
	defer f.Close()
	fp, err := idxstore.FingerprintFile(f)
	if err != nil {
		return false
	}
	return fp.Matches(idx.Header)
}

// Build (re)creates the index. It is idempotent: calling it again when
// nothing changed just rewrites the same index. Build is the only place
// S==0 is rejected, since a zero interval is meaningless to the build
// algorithm (it would try to checkpoint every block).
func (ix *Indexer) Build() error {
	if ix.checkpointSize == 0 {
		return dftidxerr.Invalid("checkpoint_size must be > 0", nil)
	}

	f, err := os.Open(ix.gzPath)
	if err != nil {
		return dftidxerr.NotFound("opening gzip source", err)
	}
	defer f.Close()

	fp, err := idxstore.FingerprintFile(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return dftidxerr.IO("seeking gzip source back to start", err)
	}

	br := bufio.NewReaderSize(f, 1<<20)
	hdrLen, err := deflate.SkipMemberHeader(br)
	if err != nil {
		return dftidxerr.CorruptStream("reading gzip member header", err)
	}

	b := newBuildState()
	b.seedInitialCheckpoint(hdrLen)

	dec := deflate.OpenSequential(br, hdrLen, deflate.Options{
		Span: int64(ix.checkpointSize),
		OnSnapshot: func(snap *deflate.Snapshot) {
			b.onSnapshot(snap)
		},
	})

	buf := make([]byte, 1<<16)
	for {
		n, rerr := dec.Read(buf)
		if n > 0 {
			b.consume(buf[:n])
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return dftidxerr.CorruptStream("decoding gzip stream", rerr)
		}
	}
	if b.buildErr != nil {
		return b.buildErr
	}

	checkpoints := b.finish()

	header := idxstore.Header{
		Version:        1,
		CheckpointSize: ix.checkpointSize,
		UncompressedSz: b.ucWritten,
		TotalLines:     b.linesSeen,
		SourceSize:     fp.Size,
		SourceMtime:    fp.Mtime,
		SourcePrefixH:  fp.PrefixH,
	}
	idx := &idxstore.Index{Header: header, Checkpoints: checkpoints}

	if err := idxstore.Write(ix.idxPath, idx); err != nil {
		return err
	}

	ix.idx = idx
	ix.sink.Checkpoint(ix.gzPath, len(checkpoints)-1, checkpoints[len(checkpoints)-1].UCOffset)
	return nil
}

// built returns the in-memory index, loading it from disk if Build/NeedsRebuild
// haven't already populated it.
func (ix *Indexer) built() (*idxstore.Index, error) {
	if ix.idx != nil {
		return ix.idx, nil
	}
	idx, err := idxstore.Read(ix.idxPath)
	if err != nil {
		return nil, err
	}
	ix.idx = idx
	return idx, nil
}

func (ix *Indexer) MaxBytes() uint64 {
	idx, err := ix.built()
	if err != nil {
		return 0
	}
	return idx.Header.UncompressedSz
}

func (ix *Indexer) NumLines() uint64 {
	idx, err := ix.built()
	if err != nil {
		return 0
	}
	return idx.Header.TotalLines
}

func (ix *Indexer) Checkpoints() []*idxstore.Checkpoint {
	idx, err := ix.built()
	if err != nil {
		return nil
	}
	return idx.Checkpoints
}

// Index exposes the underlying idxstore.Index for packages (reader, locate)
// that need direct access rather than going through Indexer's accessors.
func (ix *Indexer) Index() (*idxstore.Index, error) {
	return ix.built()
}

// FindCheckpoint is component D's byte-offset lookup (locate.FindCheckpoint)
// exposed directly off the Indexer, per the public surface in §6: the
// greatest checkpoint with UCOffset <= ucOffset, or ok=false for offset 0
// (no checkpoint needed; a cursor primes from the stream start instead) or
// an empty index.
func (ix *Indexer) FindCheckpoint(ucOffset uint64) (*idxstore.Checkpoint, bool) {
	idx, err := ix.built()
	if err != nil {
		return nil, false
	}
	return locate.FindCheckpoint(idx.Checkpoints, ucOffset)
}

// FindCheckpointsByLineRange is component D's line-range lookup
// (locate.FindCheckpointsByLineRange) exposed directly off the Indexer.
func (ix *Indexer) FindCheckpointsByLineRange(l0, l1 uint64) []*idxstore.Checkpoint {
	idx, err := ix.built()
	if err != nil {
		return nil
	}
	return locate.FindCheckpointsByLineRange(idx.Checkpoints, l0, l1)
}

// FindFileID returns 0 if path refers to this indexer's own gzip source
// (after resolving both to absolute paths), or -1 otherwise. The reference
// implementation supports a multi-file catalog; this module indexes one
// source per Indexer; FindFileID still needs to exist for API parity
// (reader construction from indexer), so it degenerates to a single-entry
// registry.
func (ix *Indexer) FindFileID(path string) int {
	a, err1 := filepath.Abs(ix.gzPath)
	b, err2 := filepath.Abs(path)
	if err1 != nil || err2 != nil {
		return -1
	}
	if a == b {
		return 0
	}
	return -1
}

// Close releases any resources the Indexer holds. Indexer itself holds no
// open file handles between calls (Build/NeedsRebuild open and close their
// own), so this is currently a no-op kept for symmetry with Reader.Close
// and to give future callers a stable place to release resources from.
func (ix *Indexer) Close() error { return nil }
