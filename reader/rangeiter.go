package reader

import (
	"github.com/dftracer/dftidx/internal/dftidxerr"
	"github.com/dftracer/dftidx/internal/jsonval"
)

// Mode selects which Reader method a RangeIterator drives, and therefore
// which fields of RangeResult it populates.
type Mode int

const (
	ModeBytes Mode = iota
	ModeLineBytes
	ModeLines
	ModeJSONLines
	ModeJSONLineBytes
)

func (m Mode) isLineIndexed() bool {
	return m == ModeLines || m == ModeJSONLines
}

// RangeResult holds whichever field matches the RangeIterator's Mode; the
// others are left zero. Bytes holds ModeBytes/ModeLineBytes output, Lines
// holds ModeLines output, JSON holds ModeJSONLines/ModeJSONLineBytes
// output.
type RangeResult struct {
	Bytes []byte
	Lines [][]byte
	JSON  []jsonval.Value
}

// RangeIterator implements component G: fixed-step iteration over a
// Reader, one of the five result shapes at a time. It holds no decode
// state of its own — each Next call is a plain call to the matching
// Reader method over the next [cur, min(cur+step, end)) window — so it's
// exactly as cheap or expensive to reset as re-issuing those calls by
// hand, and exactly as safe to abandon mid-range.
type RangeIterator struct {
	r       *Reader
	mode    Mode
	start   uint64
	end     uint64
	step    uint64
	current uint64
}

// NewRangeIterator constructs a RangeIterator over [start, end) (byte
// modes) or [start, end] (the 1-based inclusive line modes), advancing by
// step per Next call. end == 0 means "whole file": it's treated as
// MaxBytes()/NumLines() rather than an empty range, matching the
// reference implementation's whole-file iterators. Otherwise end is
// clamped to the reader's MaxBytes/NumLines; it is never itself out of
// range. step must be > 0.
func (r *Reader) NewRangeIterator(start, end uint64, mode Mode, step uint64) (*RangeIterator, error) {
	if step == 0 {
		return nil, dftidxerr.Invalid("step must be > 0", nil)
	}

	if mode.isLineIndexed() {
		if end == 0 {
			end = r.NumLines()
		}
		if start == 0 {
			return nil, dftidxerr.Invalid("line numbers are 1-based; start must be >= 1", nil)
		}
		if end < start {
			return nil, dftidxerr.Invalid("end must be >= start", nil)
		}
		if max := r.NumLines(); end > max {
			end = max
		}
	} else {
		if end == 0 {
			end = r.MaxBytes()
		}
		if end < start {
			return nil, dftidxerr.Invalid("end must be >= start", nil)
		}
		if max := r.MaxBytes(); end > max {
			end = max
		}
	}

	return &RangeIterator{r: r, mode: mode, start: start, end: end, step: step, current: start}, nil
}

func (it *RangeIterator) Start() uint64   { return it.start }
func (it *RangeIterator) End() uint64     { return it.end }
func (it *RangeIterator) Step() uint64    { return it.step }
func (it *RangeIterator) Current() uint64 { return it.current }

// Reset rewinds the iterator to Start without re-querying the Reader.
func (it *RangeIterator) Reset() { it.current = it.start }

// Next produces the next chunk's result and ok=true, or ok=false once
// current has passed end (line modes, whose end is inclusive) or reached
// end (byte modes, whose end is exclusive) with nothing left to serve.
func (it *RangeIterator) Next() (RangeResult, bool, error) {
	if it.mode.isLineIndexed() {
		if it.current > it.end {
			return RangeResult{}, false, nil
		}
		last := it.current + it.step - 1
		if last > it.end {
			last = it.end
		}
		res, err := it.readLines(it.current, last)
		if err != nil {
			return RangeResult{}, false, err
		}
		it.current = last + 1
		return res, true, nil
	}

	if it.current >= it.end {
		return RangeResult{}, false, nil
	}
	chunkEnd := it.current + it.step
	if chunkEnd > it.end {
		chunkEnd = it.end
	}
	res, err := it.readBytes(it.current, chunkEnd)
	if err != nil {
		return RangeResult{}, false, err
	}
	it.current = chunkEnd
	return res, true, nil
}

func (it *RangeIterator) readLines(l0, l1 uint64) (RangeResult, error) {
	switch it.mode {
	case ModeJSONLines:
		vals, err := it.r.ReadLinesJSON(l0, l1)
		return RangeResult{JSON: vals}, err
	default:
		lines, err := it.r.ReadLines(l0, l1)
		return RangeResult{Lines: lines}, err
	}
}

func (it *RangeIterator) readBytes(start, end uint64) (RangeResult, error) {
	switch it.mode {
	case ModeBytes:
		b, err := it.r.ReadBytes(start, end)
		return RangeResult{Bytes: b}, err
	case ModeLineBytes:
		b, err := it.r.ReadLineBytes(start, end)
		return RangeResult{Bytes: b}, err
	case ModeJSONLineBytes:
		vals, err := it.r.ReadLineBytesJSON(start, end)
		return RangeResult{JSON: vals}, err
	default:
		b, err := it.r.ReadBytes(start, end)
		return RangeResult{Bytes: b}, err
	}
}
