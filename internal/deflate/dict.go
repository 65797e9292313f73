// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package deflate

// dictDecoder implements the LZ77 sliding dictionary as used in decompression.
// LZ77 decompresses data through sequences of two forms of commands:
//
//   - Literal insertions: Runs of one or more symbols are inserted into the
//     data stream as is. This is accomplished through the writeByte method
//     for a single symbol, or combined with an immediately preceding
//     match for multiple symbols. To accomplish this to the fullest
//     extent, the writeSlice method is used.
//
//   - Backward copies: Runs of one or more symbols are copied from earlier
//     in the decoded data stream. This is accomplished through the
//     writeCopy method.
//
// At any given point in time, the dictionary has a fixed total size defined
// by the decoding LZ77 algorithm (a checkpoint's window is always the full
// 32 KiB DEFLATE history window, regardless of how much of it is live).
type dictDecoder struct {
	hist []byte // Sliding window history

	// Current output position in buffer.
	// The head of the buffer is the most recently written byte, which
	// precedes the tail of the buffer modulo the size of hist.
	wrPos int
	rdPos int  // Have emitted hist[:rdPos] already
	full  bool // Has a full window length been written yet?
}

// init initializes dictDecoder to have a sliding window dictionary of the
// given size. If a preset dict is provided, it will initialize the dictionary
// with the contents of dict.
func (d *dictDecoder) init(size int, dict []byte) {
	*d = dictDecoder{hist: d.hist}
	if cap(d.hist) < size {
		d.hist = make([]byte, size)
	}
	d.hist = d.hist[:size]

	if len(dict) > len(d.hist) {
		dict = dict[len(dict)-len(d.hist):]
	}
	d.wrPos = copy(d.hist, dict)
	if d.wrPos == len(d.hist) {
		d.wrPos = 0
		d.full = true
	}
	d.rdPos = d.wrPos
}

// histSize reports the total amount of historical data in the dictionary.
func (d *dictDecoder) histSize() int {
	if d.full {
		return len(d.hist)
	}
	return d.wrPos
}

// availRead reports the number of bytes that can be flushed by readFlush.
func (d *dictDecoder) availRead() int {
	return d.wrPos - d.rdPos
}

// availWrite reports the number of bytes that can be written before the
// writer runs out of room.
func (d *dictDecoder) availWrite() int {
	return len(d.hist) - d.wrPos
}

// writeSlice returns a slice of the available buffer to write data to.
//
// This invariant will be kept: len(s) <= availWrite()
func (d *dictDecoder) writeSlice() []byte {
	return d.hist[d.wrPos:]
}

// writeMark advances the writer pointer by cnt.
//
// This invariant must be kept: 0 <= cnt <= availWrite()
func (d *dictDecoder) writeMark(cnt int) {
	d.wrPos += cnt
}

// writeByte writes a single byte to the dictionary.
//
// This invariant must be kept: 0 < availWrite()
func (d *dictDecoder) writeByte(c byte) {
	d.hist[d.wrPos] = c
	d.wrPos++
}

// writeCopy copies a string at a given (distance, length) to the output.
// This returns the number of bytes copied and may be less than the requested
// length if the available space in the output buffer is too small.
//
// This invariant must be kept: 0 < dist <= histSize()
func (d *dictDecoder) writeCopy(dist, length int) int {
	dstBase := d.wrPos
	dstPos := dstBase
	srcPos := dstPos - dist
	endPos := dstPos + length
	if endPos > len(d.hist) {
		endPos = len(d.hist)
	}

	// Copy non-overlapping section after destination position.
	if srcPos < 0 {
		srcPos += len(d.hist)
		dstPos += copy(d.hist[dstPos:endPos], d.hist[srcPos:])
		srcPos = 0
	}

	// Copy overlapping section before destination position.
	for dstPos < endPos {
		dstPos += copy(d.hist[dstPos:endPos], d.hist[srcPos:dstPos])
	}

	d.wrPos = dstPos
	return dstPos - dstBase
}

// tryWriteCopy tries to copy a string at a given (distance, length) to the
// output. This specialized version is optimized for short distances.
//
// This method is designed to be inlined for performance reasons.
//
// This invariant must be kept: 0 < dist <= histSize()
func (d *dictDecoder) tryWriteCopy(dist, length int) int {
	dstPos := d.wrPos
	endPos := dstPos + length
	if dstPos < dist || endPos > len(d.hist) {
		return 0
	}
	dstBase := dstPos
	srcPos := dstPos - dist

	// Copy possibly overlapping section before destination position.
	for dstPos < endPos {
		dstPos += copy(d.hist[dstPos:endPos], d.hist[srcPos:dstPos])
	}

	d.wrPos = dstPos
	return dstPos - dstBase
}

// readFlush returns a slice of the historical buffer that is ready to be
// emitted to the consumer, and marks the buffer as not ready to be emitted.
func (d *dictDecoder) readFlush() []byte {
	toRead := d.hist[d.rdPos:d.wrPos]
	d.rdPos = d.wrPos
	if d.wrPos == len(d.hist) {
		d.wrPos, d.full = 0, true
	}
	return toRead
}
