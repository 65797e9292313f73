package main

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dftracer/dftidx/internal/statcache"
	"github.com/dftracer/dftidx/internal/tracelog"
)

func newTestServer(t *testing.T) (*server, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.pfw.gz")

	f, err := os.Create(path)
	require.NoError(t, err)
	w := gzip.NewWriter(f)
	for i := 0; i < 20; i++ {
		w.Write([]byte("{\"id\": " + itoaTest(i) + "}\n"))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := &server{
		baseDir:  dir,
		cacheDir: t.TempDir(),
		cache:    statcache.NewMemory(),
		sink:     tracelog.Noop{},
		log:      log,
	}
	return s, "trace.pfw.gz"
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func newRouter(s *server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/stat/{source}", s.handleStat).Methods(http.MethodGet)
	r.HandleFunc("/ranges/{source}", s.handleRanges).Methods(http.MethodGet)
	return r
}

func TestHandleStatReturnsLineAndByteCounts(t *testing.T) {
	s, name := newTestServer(t)
	router := newRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/stat/"+name, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 20, body["total_lines"])
}

func TestHandleRangesLinesMode(t *testing.T) {
	s, name := newTestServer(t)
	router := newRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/ranges/"+name+"?mode=lines&start=1&end=20&step=7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	scanner := bufio.NewScanner(rec.Body)
	var totalLines int
	for scanner.Scan() {
		var chunk struct {
			Lines []string `json:"lines"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &chunk))
		totalLines += len(chunk.Lines)
	}
	require.Equal(t, 20, totalLines)
}

func TestHandleRangesJSONLinesMode(t *testing.T) {
	s, name := newTestServer(t)
	router := newRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/ranges/"+name+"?mode=json_lines&start=1&end=20&step=20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var chunk struct {
		JSON []map[string]any `json:"json"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chunk))
	require.Len(t, chunk.JSON, 20)
	assert.EqualValues(t, 0, chunk.JSON[0]["id"])
}

func TestHandleStatUnknownSourceIsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	router := newRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/stat/does-not-exist.pfw.gz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
