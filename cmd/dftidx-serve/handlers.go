package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dftracer/dftidx/indexer"
	"github.com/dftracer/dftidx/internal/dftidxerr"
	"github.com/dftracer/dftidx/internal/idxstore"
	"github.com/dftracer/dftidx/internal/statcache"
	"github.com/dftracer/dftidx/internal/tracelog"
	"github.com/dftracer/dftidx/ranger"
	"github.com/dftracer/dftidx/reader"
)

type server struct {
	baseDir  string
	cacheDir string
	cache    statcache.Cache
	sink     tracelog.Sink
	log      *logrus.Logger
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// resolvePath turns the {source} path element into a local file path. A
// plain name is looked up under baseDir; an http(s):// URL is downloaded
// (once) into cacheDir via package ranger, so the rest of the handler
// always operates on an ordinary local file.
func (s *server) resolvePath(r *http.Request, source string) (string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		u, err := url.QueryUnescape(source)
		if err != nil {
			return "", dftidxerr.Invalid("decoding source URL", err)
		}
		return ranger.FetchToCache(r.Context(), u, s.cacheDir, nil)
	}

	name := filepath.Base(source) // refuse to traverse out of baseDir
	return filepath.Join(s.baseDir, name), nil
}

func (s *server) handleStat(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	path, err := s.resolvePath(r, source)
	if err != nil {
		writeError(w, err)
		return
	}

	hdr, err := statcache.Lookup(r.Context(), s.cache, path, func() (idxstore.Header, error) {
		ix := indexer.New(path, indexer.WithSink(s.sink))
		if needs, err := ix.NeedsRebuild(); err != nil {
			return idxstore.Header{}, err
		} else if needs {
			if err := ix.Build(); err != nil {
				return idxstore.Header{}, err
			}
		}
		idx, err := ix.Index()
		if err != nil {
			return idxstore.Header{}, err
		}
		return idx.Header, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uncompressed_size": hdr.UncompressedSz,
		"total_lines":       hdr.TotalLines,
		"checkpoint_size":   hdr.CheckpointSize,
		"checkpoint_count":  hdr.CheckpointCount,
	})
}

// handleRanges answers GET /ranges/{source}?start=&end=&mode=&step=.
// mode is one of bytes, line_bytes, lines, json_lines, json_line_bytes,
// matching reader.Mode; step defaults to a single chunk covering the whole
// range (end-start in byte modes, end-start+1 in the inclusive line modes).
// Response is newline-delimited JSON: one object per chunk, in ascending
// order, the same order reader.RangeIterator emits them.
func (s *server) handleRanges(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	path, err := s.resolvePath(r, source)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	start, err := parseUint(q.Get("start"), 0)
	if err != nil {
		writeError(w, dftidxerr.Invalid("parsing start", err))
		return
	}
	end, err := parseUint(q.Get("end"), 0)
	if err != nil {
		writeError(w, dftidxerr.Invalid("parsing end", err))
		return
	}
	mode, err := parseMode(q.Get("mode"))
	if err != nil {
		writeError(w, err)
		return
	}

	rd, err := reader.Open(path, reader.WithSink(s.sink))
	if err != nil {
		writeError(w, err)
		return
	}
	defer rd.Close()

	if end == 0 {
		if mode == reader.ModeLines || mode == reader.ModeJSONLines {
			end = rd.NumLines()
		} else {
			end = rd.MaxBytes()
		}
	}
	lineMode := mode == reader.ModeLines || mode == reader.ModeJSONLines
	if start == 0 && lineMode {
		start = 1
	}
	defStep := end - start
	if lineMode {
		// Line ranges are inclusive, so one chunk spans end-start+1 lines.
		defStep++
	}
	step, err := parseUint(q.Get("step"), defStep)
	if err != nil {
		writeError(w, dftidxerr.Invalid("parsing step", err))
		return
	}

	it, err := rd.NewRangeIterator(start, end, mode, step)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for {
		res, ok, err := it.Next()
		if err != nil {
			s.log.WithError(err).WithField("source", source).Warn("range query failed mid-stream")
			return
		}
		if !ok {
			return
		}
		enc.Encode(chunkResponse(mode, res))
	}
}

func chunkResponse(mode reader.Mode, res reader.RangeResult) any {
	switch mode {
	case reader.ModeBytes, reader.ModeLineBytes:
		return map[string]any{"bytes": res.Bytes}
	case reader.ModeLines:
		return map[string]any{"lines": res.Lines}
	default:
		return map[string]any{"json": res.JSON}
	}
}

func parseMode(s string) (reader.Mode, error) {
	switch s {
	case "", "bytes":
		return reader.ModeBytes, nil
	case "line_bytes":
		return reader.ModeLineBytes, nil
	case "lines":
		return reader.ModeLines, nil
	case "json_lines":
		return reader.ModeJSONLines, nil
	case "json_line_bytes":
		return reader.ModeJSONLineBytes, nil
	default:
		return 0, dftidxerr.Invalid("unknown mode "+strconv.Quote(s), nil)
	}
}

func parseUint(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case dftidxerr.Is(err, dftidxerr.KindNotFound):
		status = http.StatusNotFound
	case dftidxerr.Is(err, dftidxerr.KindOutOfRange), dftidxerr.Is(err, dftidxerr.KindInvalid):
		status = http.StatusBadRequest
	case dftidxerr.Is(err, dftidxerr.KindStaleIndex):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
