package deflate

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

const (
	gzipID1     = 0x1f
	gzipID2     = 0x8b
	gzipDeflate = 8

	flText    = 1 << 0
	flExtra   = 1 << 2
	flName    = 1 << 3
	flComment = 1 << 4
	flHCRC    = 1 << 5
)

// ErrNotGzip is returned by SkipMemberHeader when the stream doesn't start
// with a gzip member (wrong magic bytes or unsupported compression method).
var ErrNotGzip = errors.New("deflate: not a gzip stream")

// SkipMemberHeader reads and discards a single gzip member header from r,
// returning the number of bytes consumed. Capture files are single-member
// gzip streams, so callers only ever need to do this once, at the very
// start of the file, before handing the rest of r to OpenSequential.
func SkipMemberHeader(r *bufio.Reader) (int64, error) {
	var n int64

	hdr := make([]byte, 10)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, errors.Wrap(err, "reading gzip header")
	}
	n += 10

	if hdr[0] != gzipID1 || hdr[1] != gzipID2 || hdr[2] != gzipDeflate {
		return 0, ErrNotGzip
	}
	flg := hdr[3]

	if flg&flExtra != 0 {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return 0, errors.Wrap(err, "reading gzip FEXTRA length")
		}
		n += 2
		extraLen := int(lenBuf[0]) | int(lenBuf[1])<<8
		if _, err := io.CopyN(io.Discard, r, int64(extraLen)); err != nil {
			return 0, errors.Wrap(err, "skipping gzip FEXTRA")
		}
		n += int64(extraLen)
	}
	if flg&flName != 0 {
		consumed, err := skipCString(r)
		if err != nil {
			return 0, errors.Wrap(err, "skipping gzip FNAME")
		}
		n += consumed
	}
	if flg&flComment != 0 {
		consumed, err := skipCString(r)
		if err != nil {
			return 0, errors.Wrap(err, "skipping gzip FCOMMENT")
		}
		n += consumed
	}
	if flg&flHCRC != 0 {
		if _, err := io.CopyN(io.Discard, r, 2); err != nil {
			return 0, errors.Wrap(err, "skipping gzip FHCRC")
		}
		n += 2
	}

	return n, nil
}

// skipCString discards bytes up to and including the next NUL byte.
func skipCString(r *bufio.Reader) (int64, error) {
	var n int64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return n, err
		}
		n++
		if b == 0 {
			return n, nil
		}
	}
}
