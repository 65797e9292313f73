package idxstore

import (
	"hash/fnv"
	"io"
	"os"

	"github.com/dftracer/dftidx/internal/dftidxerr"
)

const prefixHashBytes = 4096

// Fingerprint captures the (size, mtime, first-4KiB-hash) triple used to
// detect a stale index: if any of the three differ from what the index
// header recorded at build time, the source has changed underneath it.
type Fingerprint struct {
	Size    uint64
	Mtime   int64
	PrefixH uint64
}

// FingerprintFile computes the fingerprint of an open gzip source file.
// f's offset is left at the end of the hashed prefix; callers that need to
// reuse f afterward should Seek back to 0.
func FingerprintFile(f *os.File) (Fingerprint, error) {
	fi, err := f.Stat()
	if err != nil {
		return Fingerprint{}, dftidxerr.IO("statting source file", err)
	}

	h := fnv.New64a()
	if _, err := io.CopyN(h, f, prefixHashBytes); err != nil && err != io.EOF {
		return Fingerprint{}, dftidxerr.IO("hashing source file prefix", err)
	}

	return Fingerprint{
		Size:    uint64(fi.Size()),
		Mtime:   fi.ModTime().Unix(),
		PrefixH: h.Sum64(),
	}, nil
}

// Matches reports whether fp matches what's recorded in hdr.
func (fp Fingerprint) Matches(hdr Header) bool {
	return fp.Size == hdr.SourceSize && fp.Mtime == hdr.SourceMtime && fp.PrefixH == hdr.SourcePrefixH
}
