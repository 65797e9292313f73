package reader

import (
	"bufio"
	"io"

	"github.com/dftracer/dftidx/internal/dftidxerr"
	"github.com/dftracer/dftidx/internal/jsonval"
)

// LineIterator streams a 1-based, inclusive line range one line at a
// time, instead of materializing the whole range the way ReadLines does.
// It holds its own decode cursor, independent of any other Reader call in
// flight.
type LineIterator struct {
	br   *bufio.Reader
	cur  uint64
	last uint64
	err  error
	done bool
}

// Lines opens a LineIterator over [l0, l1].
func (r *Reader) Lines(l0, l1 uint64) (*LineIterator, error) {
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

	return &LineIterator{br: br, cur: l0, last: l1}, nil
}

// Next returns the next line (terminator stripped) and ok=true, or
// ok=false once the range is exhausted. A non-nil error means decoding
// failed partway through; the iterator is unusable afterward.
func (it *LineIterator) Next() ([]byte, bool, error) {
	if it.err != nil || it.done {
		return nil, false, it.err
	}
	if it.cur > it.last {
		it.done = true
		return nil, false, nil
	}

	line, rerr := it.br.ReadBytes('\n')
	if rerr != nil && rerr != io.EOF {
		it.err = dftidxerr.CorruptStream("reading line", rerr)
		return nil, false, it.err
	}
	if len(line) == 0 && rerr == io.EOF {
		it.done = true
		return nil, false, nil
	}

	it.cur++
	if rerr == io.EOF {
		it.done = true
	}
	return trimTerminator(line), true, nil
}

// NextJSON is Next with the line parsed as JSON. A malformed line yields
// jsonval.Null rather than ending the iteration, matching ReadLinesJSON's
// at-least-partial-results rule.
func (it *LineIterator) NextJSON() (jsonval.Value, bool, error) {
	line, ok, err := it.Next()
	if !ok || err != nil {
		return jsonval.Null, ok, err
	}
	v, err := jsonval.Parse(line)
	if err != nil {
		return jsonval.Null, true, nil
	}
	return v, true, nil
}
