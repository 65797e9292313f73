package ranger

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeTestdataFile(t *testing.T, dir string) (path string, content []byte) {
	t.Helper()
	content = make([]byte, 200*1024)
	for i := range content {
		content[i] = byte(i * 7 % 251)
	}
	path = filepath.Join(dir, "trace.pfw.gz")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, content
}

func TestReaderReadAtMatchesDirectRead(t *testing.T) {
	dir := t.TempDir()
	_, content := writeTestdataFile(t, dir)

	s := httptest.NewServer(http.FileServerFS(os.DirFS(dir)))
	defer s.Close()

	uri := s.URL + "/trace.pfw.gz"
	ra := New(context.Background(), uri, s.Client().Transport)

	size := int64(len(content))
	for range 50 {
		start := rand.Int64N(size)
		length := rand.Int64N(size - start)
		if length == 0 {
			continue
		}

		want := make([]byte, length)
		copy(want, content[start:start+length])

		got := make([]byte, length)
		n, err := ra.ReadAt(got, start)
		if err != nil {
			t.Fatalf("ReadAt(%d, %d): %v", start, length, err)
		}
		if int64(n) != length {
			t.Fatalf("ReadAt(%d, %d): got %d bytes", start, length, n)
		}
		for i := range want {
			if want[i] != got[i] {
				t.Fatalf("ReadAt(%d, %d): byte %d mismatch", start, length, i)
			}
		}
	}
}

func TestReaderReadAtRejectsNonRangeServer(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("no range support here"))
	}))
	defer s.Close()

	ra := New(context.Background(), s.URL, s.Client().Transport)
	_, err := ra.ReadAt(make([]byte, 4), 0)
	if err == nil {
		t.Fatal("expected an error from a server that ignores Range")
	}
}

func TestFetchToCacheDownloadsOnceAndReusesCache(t *testing.T) {
	dir := t.TempDir()
	_, content := writeTestdataFile(t, dir)

	var gets int
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets++
		}
		http.FileServerFS(os.DirFS(dir)).ServeHTTP(w, r)
	}))
	defer s.Close()

	uri := s.URL + "/trace.pfw.gz"
	cacheDir := t.TempDir()

	path, err := FetchToCache(context.Background(), uri, cacheDir, s.Client().Transport)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(content) {
		t.Fatalf("cached file size %d != source size %d", len(got), len(content))
	}

	if _, err := FetchToCache(context.Background(), uri, cacheDir, s.Client().Transport); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if gets != 1 {
		t.Fatalf("expected exactly one GET (cache hit on second call), saw %d", gets)
	}
}
