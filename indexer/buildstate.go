package indexer

import (
	"github.com/pkg/errors"

	"github.com/dftracer/dftidx/internal/deflate"
	"github.com/dftracer/dftidx/internal/idxstore"
)

// buildState accumulates line counts and checkpoint metadata as the build
// loop feeds it sequential decoded bytes. A checkpoint's UCOffset is known
// the instant deflate emits it, but the checkpoint's NumLines and
// LineOffBlock depend on line boundaries that may still be sitting
// unflushed in the decoder's window; buildState tracks which checkpoints
// are still waiting for the scan to catch up to them.
type buildState struct {
	scannedOffset uint64
	lastLineStart uint64
	linesSeen     uint64
	ucWritten     uint64

	checkpoints []*idxstore.Checkpoint
	nextCPIdx   int
	awaiting    []int

	buildErr error
}

func newBuildState() *buildState {
	return &buildState{}
}

// seedInitialCheckpoint records the checkpoint at uc_offset 0 up front:
// deflate's span-based snapshots only fire once span bytes have been
// produced since the last one, so a source smaller than the checkpoint
// interval would otherwise end up with zero checkpoints at all. hdrLen is
// the byte offset in the gzip file immediately after the member header,
// i.e. where a from-scratch decode already starts; a checkpoint there
// needs no window, since there's no history to prime it with.
func (b *buildState) seedInitialCheckpoint(hdrLen int64) {
	b.checkpoints = append(b.checkpoints, &idxstore.Checkpoint{
		UCOffset: 0,
		COffset:  uint64(hdrLen),
		Bits:     idxstore.PackBits(0, 0),
	})
}

// onSnapshot is the OnSnapshot callback handed to deflate.OpenSequential. It
// fires synchronously, possibly before the bytes it covers have been
// delivered to consume, so it only records what's knowable immediately:
// the byte/bit position and the compressed window.
func (b *buildState) onSnapshot(snap *deflate.Snapshot) {
	if b.buildErr != nil {
		return
	}
	dictBytes, err := idxstore.CompressWindow(snap.Window)
	if err != nil {
		b.buildErr = errors.Wrap(err, "compressing checkpoint window")
		return
	}
	b.checkpoints = append(b.checkpoints, &idxstore.Checkpoint{
		UCOffset:  uint64(snap.UncompressedOffset),
		COffset:   uint64(snap.CompressedOffset),
		Bits:      idxstore.PackBits(snap.Bits, snap.NumBits),
		DictBytes: dictBytes,
	})
}

// consume scans a chunk of decoded bytes, counting newlines and resolving
// any checkpoints whose byte offset the scan has now reached. LineOffBlock
// is recorded as the distance from the checkpoint's own UCOffset to the
// resolving line boundary, per spec §3 ("byte distance ... to the first
// \n-terminated line boundary"), not the scan's absolute position.
func (b *buildState) consume(data []byte) {
	for _, c := range data {
		pos := b.scannedOffset

		for b.nextCPIdx < len(b.checkpoints) && b.checkpoints[b.nextCPIdx].UCOffset == pos {
			cp := b.checkpoints[b.nextCPIdx]
			cp.NumLines = b.linesSeen
			if b.lastLineStart == pos {
				cp.LineOffBlock = 0
			} else {
				b.awaiting = append(b.awaiting, b.nextCPIdx)
			}
			b.nextCPIdx++
		}

		if c == '\n' {
			newStart := pos + 1
			for _, idx := range b.awaiting {
				b.checkpoints[idx].LineOffBlock = newStart - b.checkpoints[idx].UCOffset
			}
			b.awaiting = b.awaiting[:0]
			b.lastLineStart = newStart
			b.linesSeen++
		}

		b.scannedOffset++
	}
}

// finish closes out any checkpoints still waiting for a resolving newline
// (the source doesn't end with one, or the last checkpoint sits in the
// final, unterminated line) and computes each checkpoint's UCSize from the
// gap to its successor.
func (b *buildState) finish() []*idxstore.Checkpoint {
	for _, idx := range b.awaiting {
		b.checkpoints[idx].LineOffBlock = b.scannedOffset - b.checkpoints[idx].UCOffset
	}
	b.awaiting = nil
	for i := b.nextCPIdx; i < len(b.checkpoints); i++ {
		b.checkpoints[i].NumLines = b.linesSeen
		b.checkpoints[i].LineOffBlock = b.scannedOffset - b.checkpoints[i].UCOffset
	}

	for i := range b.checkpoints {
		if i+1 < len(b.checkpoints) {
			b.checkpoints[i].UCSize = b.checkpoints[i+1].UCOffset - b.checkpoints[i].UCOffset
		} else {
			b.checkpoints[i].UCSize = b.scannedOffset - b.checkpoints[i].UCOffset
		}
	}

	b.ucWritten = b.scannedOffset
	return b.checkpoints
}
