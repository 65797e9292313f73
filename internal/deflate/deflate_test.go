package deflate

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"math/rand/v2"
	"testing"
)

func buildGzipFixture(t *testing.T, lines int) []byte {
	t.Helper()
	var plain bytes.Buffer
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&plain, `{"id": %d, "name": "event-%d", "payload": "%s"}`+"\n", i, i, bytes.Repeat([]byte("x"), i%97))
	}

	var gz bytes.Buffer
	w, err := gzip.NewWriterLevel(&gz, gzip.BestCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(plain.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return gz.Bytes()
}

// decodeAll decodes from the start of the member with no checkpointing.
func decodeAll(t *testing.T, gz []byte) []byte {
	t.Helper()
	br := bufio.NewReader(bytes.NewReader(gz))
	hdrLen, err := SkipMemberHeader(br)
	if err != nil {
		t.Fatal(err)
	}
	dec := OpenSequential(br, hdrLen, Options{})
	out, err := io.ReadAll(dec)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestDecodeMatchesStdlibGzip(t *testing.T) {
	gz := buildGzipFixture(t, 500)

	want, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		t.Fatal(err)
	}
	wantBytes, err := io.ReadAll(want)
	if err != nil {
		t.Fatal(err)
	}

	got := decodeAll(t, gz)
	if !bytes.Equal(wantBytes, got) {
		t.Fatalf("decoded output mismatch: want %d bytes, got %d bytes", len(wantBytes), len(got))
	}
}

// TestResumeFromSnapshot checks that a decoder resumed from a mid-stream
// snapshot reproduces exactly the tail of a straight-through decode, with no
// duplicated or skipped bytes at the resume boundary.
func TestResumeFromSnapshot(t *testing.T) {
	gz := buildGzipFixture(t, 5000)
	full := decodeAll(t, gz)

	br := bufio.NewReader(bytes.NewReader(gz))
	hdrLen, err := SkipMemberHeader(br)
	if err != nil {
		t.Fatal(err)
	}

	var snaps []*Snapshot
	dec := OpenSequential(br, hdrLen, Options{
		Span: 4096,
		OnSnapshot: func(s *Snapshot) {
			snaps = append(snaps, s)
		},
	})
	if _, err := io.ReadAll(dec); err != nil {
		t.Fatal(err)
	}
	if len(snaps) == 0 {
		t.Fatal("expected at least one snapshot for a 5000-line fixture")
	}

	for i, snap := range snaps {
		if int(snap.UncompressedOffset) > len(full) {
			t.Fatalf("snapshot %d: uncompressed offset %d beyond decoded length %d", i, snap.UncompressedOffset, len(full))
		}

		resumeReader := bufio.NewReader(bytes.NewReader(gz))
		if _, err := resumeReader.Discard(int(snap.CompressedOffset)); err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
		rd := ResumeAt(resumeReader, snap)
		tail, err := io.ReadAll(rd)
		if err != nil {
			t.Fatalf("snapshot %d: resumed decode failed: %v", i, err)
		}

		want := full[snap.UncompressedOffset:]
		if !bytes.Equal(want, tail) {
			t.Fatalf("snapshot %d at uc_offset=%d: resumed output diverges from direct decode (want %d bytes, got %d)",
				i, snap.UncompressedOffset, len(want), len(tail))
		}
	}
}

// TestRandomRangesMatchDirectDecode exercises ResumeAt the way the reader
// package will: pick a checkpoint at or before an arbitrary offset, resume
// there, and discard the prefix.
func TestRandomRangesMatchDirectDecode(t *testing.T) {
	gz := buildGzipFixture(t, 3000)
	full := decodeAll(t, gz)

	br := bufio.NewReader(bytes.NewReader(gz))
	hdrLen, err := SkipMemberHeader(br)
	if err != nil {
		t.Fatal(err)
	}

	var snaps []*Snapshot
	dec := OpenSequential(br, hdrLen, Options{
		Span: 8192,
		OnSnapshot: func(s *Snapshot) {
			snaps = append(snaps, s)
		},
	})
	if _, err := io.ReadAll(dec); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 50; i++ {
		off := rand.Int64N(int64(len(full)))

		var best *Snapshot
		for _, s := range snaps {
			if s.UncompressedOffset <= off {
				best = s
			}
		}

		var tail []byte
		if best == nil {
			br2 := bufio.NewReader(bytes.NewReader(gz))
			if _, err := SkipMemberHeader(br2); err != nil {
				t.Fatal(err)
			}
			dec2 := OpenSequential(br2, hdrLen, Options{})
			tail, err = io.ReadAll(dec2)
		} else {
			br2 := bufio.NewReader(bytes.NewReader(gz))
			if _, err := br2.Discard(int(best.CompressedOffset)); err != nil {
				t.Fatal(err)
			}
			dec2 := ResumeAt(br2, best)
			tail, err = io.ReadAll(dec2)
		}
		if err != nil {
			t.Fatalf("range %d: %v", i, err)
		}

		var skip int64
		if best != nil {
			skip = off - best.UncompressedOffset
		} else {
			skip = off
		}
		got := tail[skip:]
		want := full[off:]
		if !bytes.Equal(want, got) {
			t.Fatalf("range %d: offset %d mismatch after resume", i, off)
		}
	}
}
