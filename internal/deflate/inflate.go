// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package deflate is a resumable DEFLATE (RFC 1951) decompressor. It is a
// fork of compress/flate's decoder that can snapshot its full decoding state
// (bit accumulator, Huffman tables already loaded for the block in progress,
// and the 32 KiB sliding window) at the boundary between two blocks, and
// later rebuild a decoder from exactly that snapshot to resume decoding
// without rereading anything before it.
//
// The snapshot mechanism only fires between blocks, never mid-block: DEFLATE
// offers no way to seek into the middle of a Huffman-coded block, so a
// resumable position is always "the next block starts here."
package deflate

import (
	"bufio"
	"io"
	"math"
	"math/bits"
	"strconv"
	"sync"
)

const (
	offsetCodeCount = 30
	endBlockMarker  = 256
	lengthCodesStart = 257
	codegenCodeCount = 19
	badCode          = 255
)

// WindowSize is the fixed size of the LZ77 sliding window (32 KiB), i.e.
// the maximum backward match distance DEFLATE allows. Callers that
// reconstruct a Snapshot's ring-buffer position from an uncompressed byte
// offset alone (rather than carrying WindowWritePos/WindowFull on disk)
// need this to compute offset%WindowSize and offset>=WindowSize themselves.
const WindowSize = windowSize

const (
	logWindowSize = 15
	windowSize    = 1 << logWindowSize
	windowMask    = windowSize - 1

	baseMatchLength = 3
	minMatchLength  = 4
	maxMatchLength  = 258
	baseMatchOffset = 1
	maxMatchOffset  = 1 << 15

	maxFlateBlockTokens = 1 << 14
	maxStoreBlockSize   = 65535
	hashBits            = 17
	hashSize            = 1 << hashBits
	hashMask            = (1 << hashBits) - 1
	maxHashOffset       = 1 << 24

	skipNever = math.MaxInt32
)

const (
	maxCodeLen = 16
	maxNumLit  = 286
	maxNumDist = 30
	numCodes   = 19
)

var fixedOnce sync.Once
var fixedHuffmanDecoder huffmanDecoder

// CorruptInputError reports corrupt DEFLATE input at a given compressed-stream
// offset, on the same scale as CompressedOffset: counted from the
// startOffset given to OpenSequential, or from the snapshot's
// CompressedOffset for a decoder made by ResumeAt.
type CorruptInputError int64

func (e CorruptInputError) Error() string {
	return "deflate: corrupt input before offset " + strconv.FormatInt(int64(e), 10)
}

// InternalError reports a bug in this package.
type InternalError string

func (e InternalError) Error() string { return "deflate: internal error: " + string(e) }

const (
	huffmanChunkBits  = 9
	huffmanNumChunks  = 1 << huffmanChunkBits
	huffmanCountMask  = 15
	huffmanValueShift = 4
)

type huffmanDecoder struct {
	min      int
	chunks   [huffmanNumChunks]uint32
	links    [][]uint32
	linkMask uint32
}

// init builds a Huffman decoding table from an array of code lengths,
// following the algorithm described in RFC 1951 section 3.2.2.
func (h *huffmanDecoder) init(lengths []int) bool {
	if h.min != 0 {
		*h = huffmanDecoder{}
	}

	var count [maxCodeLen]int
	var min, max int
	for _, n := range lengths {
		if n == 0 {
			continue
		}
		if min == 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
		count[n]++
	}

	if max == 0 {
		return true
	}

	code := 0
	var nextcode [maxCodeLen]int
	for i := min; i <= max; i++ {
		code <<= 1
		nextcode[i] = code
		code += count[i]
	}

	if code != 1<<uint(max) && !(code == 1 && max == 1) {
		return false
	}

	h.min = min
	if max > huffmanChunkBits {
		numLinks := 1 << (uint(max) - huffmanChunkBits)
		h.linkMask = uint32(numLinks - 1)

		link := nextcode[huffmanChunkBits+1] >> 1
		h.links = make([][]uint32, huffmanNumChunks-link)
		for j := uint(link); j < huffmanNumChunks; j++ {
			reverse := int(bits.Reverse16(uint16(j)))
			reverse >>= uint(16 - huffmanChunkBits)
			off := j - uint(link)
			if sanity && h.chunks[reverse] != 0 {
				panic("impossible: overwriting existing chunk")
			}
			h.chunks[reverse] = uint32(off<<huffmanValueShift | (huffmanChunkBits + 1))
			h.links[off] = make([]uint32, numLinks)
		}
	}

	for i, n := range lengths {
		if n == 0 {
			continue
		}
		code := nextcode[n]
		nextcode[n]++
		chunk := uint32(i<<huffmanValueShift | n)
		reverse := int(bits.Reverse16(uint16(code)))
		reverse >>= uint(16 - n)
		if n <= huffmanChunkBits {
			for off := reverse; off < len(h.chunks); off += 1 << uint(n) {
				if sanity && h.chunks[off] != 0 {
					panic("impossible: overwriting existing chunk")
				}
				h.chunks[off] = chunk
			}
		} else {
			j := reverse & (huffmanNumChunks - 1)
			if sanity && h.chunks[j]&huffmanCountMask != huffmanChunkBits+1 {
				panic("impossible: not an indirect chunk")
			}
			value := h.chunks[j] >> huffmanValueShift
			linktab := h.links[value]
			reverse >>= huffmanChunkBits
			for off := reverse; off < len(linktab); off += 1 << uint(n-huffmanChunkBits) {
				if sanity && linktab[off] != 0 {
					panic("impossible: overwriting existing chunk")
				}
				linktab[off] = chunk
			}
		}
	}

	if sanity {
		for i, chunk := range h.chunks {
			if chunk == 0 {
				if code == 1 && i%2 == 1 {
					continue
				}
				panic("impossible: missing chunk")
			}
		}
		for _, linktab := range h.links {
			for _, chunk := range linktab {
				if chunk == 0 {
					panic("impossible: missing chunk")
				}
			}
		}
	}

	return true
}

// byteReader is the input interface a Decompressor needs. If a caller's
// io.Reader doesn't also implement io.ByteReader, it gets wrapped in a
// bufio.Reader.
type byteReader interface {
	io.Reader
	io.ByteReader
}

// Decompressor holds the full state of a DEFLATE decode in progress,
// including everything needed to snapshot it between blocks.
type Decompressor struct {
	r       byteReader
	roffset int64 // compressed offset of the next byte to consume (starts at startOffset or the snapshot's)
	woffset int64 // uncompressed offset reached via Read (starts at 0 or the snapshot's)

	b  uint32
	nb uint

	h1, h2 huffmanDecoder

	bits     *[maxNumLit + maxNumDist]int
	codebits *[numCodes]int

	dict dictDecoder

	buf [4]byte

	step      func(*Decompressor)
	stepState int
	final     bool
	err       error
	toRead    []byte
	hl, hd    *huffmanDecoder
	copyLen   int
	copyDist  int

	// span and onSnapshot implement checkpointing: whenever a block ends
	// with at least span uncompressed bytes produced since the last
	// snapshot, onSnapshot is invoked synchronously with the new state.
	span         int64
	lastSnapshot int64
	onSnapshot   func(*Snapshot)
}

func (f *Decompressor) nextBlock() {
	for f.nb < 1+2 {
		if f.err = f.moreBits(); f.err != nil {
			return
		}
	}
	f.final = f.b&1 == 1
	f.b >>= 1
	typ := f.b & 3
	f.b >>= 2
	f.nb -= 1 + 2
	switch typ {
	case 0:
		f.dataBlock()
	case 1:
		f.hl = &fixedHuffmanDecoder
		f.hd = nil
		f.huffmanBlock()
	case 2:
		if f.err = f.readHuffman(); f.err != nil {
			break
		}
		f.hl = &f.h1
		f.hd = &f.h2
		f.huffmanBlock()
	default:
		f.err = CorruptInputError(f.roffset)
	}
}

// Read implements io.Reader. It returns uncompressed bytes.
func (f *Decompressor) Read(b []byte) (int, error) {
	for {
		if len(f.toRead) > 0 {
			n := copy(b, f.toRead)
			f.toRead = f.toRead[n:]
			if len(f.toRead) == 0 {
				return n, f.err
			}
			return n, nil
		}
		if f.err != nil {
			return 0, f.err
		}
		f.step(f)
		f.woffset += int64(len(f.toRead))
		if f.err != nil && len(f.toRead) == 0 {
			f.toRead = f.dict.readFlush()
			f.woffset += int64(len(f.toRead))
		}
	}
}

// UncompressedOffset reports the uncompressed offset the decoder has
// produced up to (via Read). It starts at 0 for OpenSequential and at
// snap.UncompressedOffset for ResumeAt.
func (f *Decompressor) UncompressedOffset() int64 { return f.woffset }

// CompressedOffset reports the compressed offset the decoder has consumed up
// to. It starts at the startOffset given to OpenSequential, or at
// snap.CompressedOffset for ResumeAt.
func (f *Decompressor) CompressedOffset() int64 { return f.roffset }

var codeOrder = [...]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

func (f *Decompressor) readHuffman() error {
	for f.nb < 5+5+4 {
		if err := f.moreBits(); err != nil {
			return err
		}
	}
	nlit := int(f.b&0x1F) + 257
	if nlit > maxNumLit {
		return CorruptInputError(f.roffset)
	}
	f.b >>= 5
	ndist := int(f.b&0x1F) + 1
	if ndist > maxNumDist {
		return CorruptInputError(f.roffset)
	}
	f.b >>= 5
	nclen := int(f.b&0xF) + 4
	f.b >>= 4
	f.nb -= 5 + 5 + 4

	for i := 0; i < nclen; i++ {
		for f.nb < 3 {
			if err := f.moreBits(); err != nil {
				return err
			}
		}
		f.codebits[codeOrder[i]] = int(f.b & 0x7)
		f.b >>= 3
		f.nb -= 3
	}
	for i := nclen; i < len(codeOrder); i++ {
		f.codebits[codeOrder[i]] = 0
	}
	if !f.h1.init(f.codebits[0:]) {
		return CorruptInputError(f.roffset)
	}

	for i, n := 0, nlit+ndist; i < n; {
		x, err := f.huffSym(&f.h1)
		if err != nil {
			return err
		}
		if x < 16 {
			f.bits[i] = x
			i++
			continue
		}
		var rep int
		var nb uint
		var b int
		switch x {
		default:
			return InternalError("unexpected length code")
		case 16:
			rep = 3
			nb = 2
			if i == 0 {
				return CorruptInputError(f.roffset)
			}
			b = f.bits[i-1]
		case 17:
			rep = 3
			nb = 3
			b = 0
		case 18:
			rep = 11
			nb = 7
			b = 0
		}
		for f.nb < nb {
			if err := f.moreBits(); err != nil {
				return err
			}
		}
		rep += int(f.b & uint32(1<<nb-1))
		f.b >>= nb
		f.nb -= nb
		if i+rep > n {
			return CorruptInputError(f.roffset)
		}
		for j := 0; j < rep; j++ {
			f.bits[i] = b
			i++
		}
	}

	if !f.h1.init(f.bits[0:nlit]) || !f.h2.init(f.bits[nlit:nlit+ndist]) {
		return CorruptInputError(f.roffset)
	}

	if f.h1.min < f.bits[endBlockMarker] {
		f.h1.min = f.bits[endBlockMarker]
	}

	return nil
}

func (f *Decompressor) huffmanBlock() {
	const (
		stateInit = iota
		stateDict
	)

	switch f.stepState {
	case stateInit:
		goto readLiteral
	case stateDict:
		goto copyHistory
	}

readLiteral:
	{
		v, err := f.huffSym(f.hl)
		if err != nil {
			f.err = err
			return
		}
		var n uint
		var length int
		switch {
		case v < 256:
			f.dict.writeByte(byte(v))
			if f.dict.availWrite() == 0 {
				f.toRead = f.dict.readFlush()
				f.step = (*Decompressor).huffmanBlock
				f.stepState = stateInit
				return
			}
			goto readLiteral
		case v == 256:
			f.finishBlock()
			return
		case v < 265:
			length = v - (257 - 3)
			n = 0
		case v < 269:
			length = v*2 - (265*2 - 11)
			n = 1
		case v < 273:
			length = v*4 - (269*4 - 19)
			n = 2
		case v < 277:
			length = v*8 - (273*8 - 35)
			n = 3
		case v < 281:
			length = v*16 - (277*16 - 67)
			n = 4
		case v < 285:
			length = v*32 - (281*32 - 131)
			n = 5
		case v < maxNumLit:
			length = 258
			n = 0
		default:
			f.err = CorruptInputError(f.roffset)
			return
		}
		if n > 0 {
			for f.nb < n {
				if err = f.moreBits(); err != nil {
					f.err = err
					return
				}
			}
			length += int(f.b & uint32(1<<n-1))
			f.b >>= n
			f.nb -= n
		}

		var dist int
		if f.hd == nil {
			for f.nb < 5 {
				if err = f.moreBits(); err != nil {
					f.err = err
					return
				}
			}
			dist = int(bits.Reverse8(uint8(f.b & 0x1F << 3)))
			f.b >>= 5
			f.nb -= 5
		} else {
			if dist, err = f.huffSym(f.hd); err != nil {
				f.err = err
				return
			}
		}

		switch {
		case dist < 4:
			dist++
		case dist < maxNumDist:
			nb := uint(dist-2) >> 1
			extra := (dist & 1) << nb
			for f.nb < nb {
				if err = f.moreBits(); err != nil {
					f.err = err
					return
				}
			}
			extra |= int(f.b & uint32(1<<nb-1))
			f.b >>= nb
			f.nb -= nb
			dist = 1<<(nb+1) + 1 + extra
		default:
			f.err = CorruptInputError(f.roffset)
			return
		}

		if dist > f.dict.histSize() {
			f.err = CorruptInputError(f.roffset)
			return
		}

		f.copyLen, f.copyDist = length, dist
		goto copyHistory
	}

copyHistory:
	{
		cnt := f.dict.tryWriteCopy(f.copyDist, f.copyLen)
		if cnt == 0 {
			cnt = f.dict.writeCopy(f.copyDist, f.copyLen)
		}
		f.copyLen -= cnt

		if f.dict.availWrite() == 0 || f.copyLen > 0 {
			f.toRead = f.dict.readFlush()
			f.step = (*Decompressor).huffmanBlock
			f.stepState = stateDict
			return
		}
		goto readLiteral
	}
}

func (f *Decompressor) dataBlock() {
	f.nb = 0
	f.b = 0

	nr, err := io.ReadFull(f.r, f.buf[0:4])
	f.roffset += int64(nr)
	if err != nil {
		f.err = noEOF(err)
		return
	}
	n := int(f.buf[0]) | int(f.buf[1])<<8
	nn := int(f.buf[2]) | int(f.buf[3])<<8
	if uint16(nn) != uint16(^n) {
		f.err = CorruptInputError(f.roffset)
		return
	}

	if n == 0 {
		f.toRead = f.dict.readFlush()
		f.finishBlock()
		return
	}

	f.copyLen = n
	f.copyData()
}

func (f *Decompressor) copyData() {
	buf := f.dict.writeSlice()
	if len(buf) > f.copyLen {
		buf = buf[:f.copyLen]
	}

	cnt, err := io.ReadFull(f.r, buf)
	f.roffset += int64(cnt)
	f.copyLen -= cnt
	f.dict.writeMark(cnt)
	if err != nil {
		f.err = noEOF(err)
		return
	}

	if f.dict.availWrite() == 0 || f.copyLen > 0 {
		f.toRead = f.dict.readFlush()
		f.step = (*Decompressor).copyData
		return
	}
	f.finishBlock()
}

// finishBlock runs at every block boundary, the only place a resumable
// snapshot can be taken. A block boundary is not the same moment as a
// buffer flush: the dict ring only flushes to the caller once its 32 KiB
// window is full, so most block boundaries land with output still sitting
// unflushed in dict's ring (dict.availRead() > 0). That pending tail is
// still part of "bytes produced by this block," so it must be folded into
// the offset a snapshot reports; a resumed decoder is given that offset as
// its starting point and must not re-emit or skip any of it, so the
// snapshot's own read position is set as if the tail had just been flushed.
// Bytes already moved into toRead by an empty stored block are not yet
// counted in woffset either, so they are folded in too.
func (f *Decompressor) finishBlock() {
	pending := f.dict.availRead()
	total := f.woffset + int64(len(f.toRead)) + int64(pending)

	if f.final {
		if pending > 0 {
			f.toRead = f.dict.readFlush()
		}
		f.err = io.EOF
	}

	if !f.final && f.onSnapshot != nil && total-f.lastSnapshot >= f.span {
		hist := make([]byte, len(f.dict.hist))
		copy(hist, f.dict.hist)
		snap := &Snapshot{
			CompressedOffset:   f.roffset,
			UncompressedOffset: total,
			Bits:               uint8(f.b),
			NumBits:            uint8(f.nb),
			Window:             hist,
			WindowWritePos:     f.dict.wrPos,
			WindowReadPos:      f.dict.wrPos,
			WindowFull:         f.dict.full,
		}
		f.onSnapshot(snap)
		f.lastSnapshot = total
	}
	f.step = (*Decompressor).nextBlock
}

func noEOF(e error) error {
	if e == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return e
}

func (f *Decompressor) moreBits() error {
	c, err := f.r.ReadByte()
	if err != nil {
		return noEOF(err)
	}
	f.roffset++
	f.b |= uint32(c) << f.nb
	f.nb += 8
	return nil
}

func (f *Decompressor) huffSym(h *huffmanDecoder) (int, error) {
	n := uint(h.min)
	nb, b := f.nb, f.b
	for {
		for nb < n {
			c, err := f.r.ReadByte()
			if err != nil {
				f.b = b
				f.nb = nb
				return 0, noEOF(err)
			}
			f.roffset++
			b |= uint32(c) << (nb & 31)
			nb += 8
		}
		chunk := h.chunks[b&(huffmanNumChunks-1)]
		n = uint(chunk & huffmanCountMask)
		if n > huffmanChunkBits {
			chunk = h.links[chunk>>huffmanValueShift][(b>>huffmanChunkBits)&h.linkMask]
			n = uint(chunk & huffmanCountMask)
		}
		if n <= nb {
			if n == 0 {
				f.b = b
				f.nb = nb
				f.err = CorruptInputError(f.roffset)
				return 0, f.err
			}
			f.b = b >> (n & 31)
			f.nb = nb - n
			return int(chunk >> huffmanValueShift), nil
		}
	}
}

func makeReader(r io.Reader) byteReader {
	if rr, ok := r.(byteReader); ok {
		return rr
	}
	return bufio.NewReader(r)
}

func fixedHuffmanDecoderInit() {
	fixedOnce.Do(func() {
		var bits [288]int
		for i := 0; i < 144; i++ {
			bits[i] = 8
		}
		for i := 144; i < 256; i++ {
			bits[i] = 9
		}
		for i := 256; i < 280; i++ {
			bits[i] = 7
		}
		for i := 280; i < 288; i++ {
			bits[i] = 8
		}
		fixedHuffmanDecoder.init(bits[:])
	})
}

// Snapshot is a resumable decoder position: everything needed to continue
// decoding at the next block without having decoded anything before it.
// It is only ever produced at a block boundary.
type Snapshot struct {
	CompressedOffset   int64
	UncompressedOffset int64

	Bits    uint8 // low NumBits bits are the unconsumed bit accumulator
	NumBits uint8 // always 0-7: see the huffSym lookahead bound

	Window         []byte // full 32 KiB ring buffer contents
	WindowWritePos int
	WindowReadPos  int
	WindowFull     bool
}

// Options configures OpenSequential.
type Options struct {
	// Span is the minimum number of uncompressed bytes that must be
	// produced between two snapshots. Zero disables snapshotting.
	Span int64
	// OnSnapshot, if non-nil, is called synchronously from within Read
	// whenever a new snapshot becomes available. Each snapshot's Window
	// is a fresh copy of the ring buffer that this package never touches
	// again, so the callee may keep it without copying.
	OnSnapshot func(*Snapshot)
}

// OpenSequential starts decoding r from the beginning of a raw DEFLATE
// stream (r must already be positioned past any gzip member header).
// startOffset is the compressed-byte offset of r's first byte, used only to
// make CompressedOffset/Snapshot.CompressedOffset absolute within the
// member.
func OpenSequential(r io.Reader, startOffset int64, opts Options) *Decompressor {
	fixedHuffmanDecoderInit()

	f := &Decompressor{
		r:          makeReader(r),
		bits:       new([maxNumLit + maxNumDist]int),
		codebits:   new([numCodes]int),
		step:       (*Decompressor).nextBlock,
		roffset:    startOffset,
		span:       opts.Span,
		onSnapshot: opts.OnSnapshot,
	}
	f.dict.init(maxMatchOffset, nil)
	return f
}

// ResumeAt reconstructs a decoder from a Snapshot, ready to continue reading
// at snap.UncompressedOffset. r must be positioned at snap.CompressedOffset
// within the member's raw DEFLATE stream.
func ResumeAt(r io.Reader, snap *Snapshot) *Decompressor {
	fixedHuffmanDecoderInit()

	f := &Decompressor{
		r:        makeReader(r),
		bits:     new([maxNumLit + maxNumDist]int),
		codebits: new([numCodes]int),
		step:     (*Decompressor).nextBlock,
	}

	f.dict.hist = make([]byte, maxMatchOffset)
	copy(f.dict.hist, snap.Window)
	f.dict.wrPos = snap.WindowWritePos
	f.dict.rdPos = snap.WindowReadPos
	f.dict.full = snap.WindowFull

	f.b = uint32(snap.Bits)
	f.nb = uint(snap.NumBits)
	f.roffset = snap.CompressedOffset
	f.woffset = snap.UncompressedOffset
	f.lastSnapshot = snap.UncompressedOffset

	return f
}
