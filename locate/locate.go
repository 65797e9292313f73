// Package locate implements component D: binary search over an ordered
// checkpoint sequence, by uncompressed byte offset or by line number.
package locate

import (
	"golang.org/x/exp/slices"

	"github.com/dftracer/dftidx/internal/idxstore"
)

// FindCheckpoint returns the greatest checkpoint with UCOffset <= target,
// and ok=true if one exists. A target of 0 always reports ok=false: there
// is never a "checkpoint before the start of the stream" to resume from,
// so the cursor primes from the raw stream start instead. This mirrors the
// reference implementation's find_checkpoint(0) -> None behavior exactly;
// it is preserved even though it looks asymmetric, per design note in
// DESIGN.md.
func FindCheckpoint(checkpoints []*idxstore.Checkpoint, target uint64) (*idxstore.Checkpoint, bool) {
	if target == 0 || len(checkpoints) == 0 {
		return nil, false
	}

	i, found := slices.BinarySearchFunc(checkpoints, target, func(cp *idxstore.Checkpoint, t uint64) int {
		switch {
		case cp.UCOffset < t:
			return -1
		case cp.UCOffset > t:
			return 1
		default:
			return 0
		}
	})
	if found {
		return checkpoints[i], true
	}
	// i is the insertion point: the first checkpoint with UCOffset > target.
	// The one we want is the one just before it, if any.
	if i == 0 {
		return nil, false
	}
	return checkpoints[i-1], true
}

// FindCheckpointByLine returns the checkpoint that covers the given
// 1-based line number — the greatest checkpoint whose first line
// (NumLines+1) is <= line — and ok=true if one exists. Line 0 is invalid
// input and always reports ok=false; a line that falls before the first
// checkpoint's own first line also reports ok=false, mirroring
// FindCheckpoint's "before the start of the stream" sentinel: the cursor
// primes from the raw stream start instead.
func FindCheckpointByLine(checkpoints []*idxstore.Checkpoint, line uint64) (*idxstore.Checkpoint, bool) {
	if line == 0 || len(checkpoints) == 0 {
		return nil, false
	}

	i, found := slices.BinarySearchFunc(checkpoints, line, func(cp *idxstore.Checkpoint, t uint64) int {
		start := cp.NumLines + 1
		switch {
		case start < t:
			return -1
		case start > t:
			return 1
		default:
			return 0
		}
	})
	if found {
		return checkpoints[i], true
	}
	if i == 0 {
		return nil, false
	}
	return checkpoints[i-1], true
}

// FindCheckpointsByLineRange returns the contiguous sub-slice of checkpoints
// whose [NumLines, next.NumLines) interval intersects [l0, l1] (1-based,
// inclusive line numbers). Because NumLines is non-decreasing, this is two
// binary searches: the first checkpoint whose covered interval could contain
// l0, through the last one whose covered interval could contain l1.
func FindCheckpointsByLineRange(checkpoints []*idxstore.Checkpoint, l0, l1 uint64) []*idxstore.Checkpoint {
	if len(checkpoints) == 0 || l0 > l1 {
		return nil
	}

	// lineStart(i) is the first line number covered by checkpoints[i]
	// (1-based): checkpoints[i].NumLines complete lines precede it, so its
	// own first line is NumLines+1.
	lineStart := func(i int) uint64 { return checkpoints[i].NumLines + 1 }

	lo, _ := slices.BinarySearchFunc(checkpoints, l0, func(cp *idxstore.Checkpoint, target uint64) int {
		// We want the last checkpoint with lineStart <= target, i.e. the
		// same "largest index not exceeding" shape as FindCheckpoint.
		start := cp.NumLines + 1
		switch {
		case start < target:
			return -1
		case start > target:
			return 1
		default:
			return 0
		}
	})
	if lo > 0 && (lo == len(checkpoints) || lineStart(lo) > l0) {
		lo--
	}
	if lo < 0 {
		lo = 0
	}

	hi, _ := slices.BinarySearchFunc(checkpoints, l1, func(cp *idxstore.Checkpoint, target uint64) int {
		start := cp.NumLines + 1
		switch {
		case start < target:
			return -1
		case start > target:
			return 1
		default:
			return 0
		}
	})
	if hi >= len(checkpoints) || lineStart(hi) > l1 {
		hi--
	}
	for hi+1 < len(checkpoints) && lineStart(hi+1) <= l1 {
		hi++
	}
	if hi < lo {
		hi = lo
	}

	return checkpoints[lo : hi+1]
}
