package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/lsm"
)

// maxValueBytes bounds a single PUT body; the engine cuts tables at 2 MiB,
// so a value has to fit one table alongside its header and index entry.
const maxValueBytes = 1 << 20

func parseKey(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("key"), 10, 64)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "key must be a 64-bit integer")
		return
	}

	value, ok := s.store.Get(key)
	if !ok {
		s.respondError(w, http.StatusNotFound, "key not found")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "key must be a 64-bit integer")
		return
	}

	value, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(value) > maxValueBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "value too large")
		return
	}

	if err := s.store.Put(key, value, true); err != nil {
		switch {
		case errors.Is(err, lsm.ErrEmptyValue):
			s.respondError(w, http.StatusBadRequest, "value must not be empty")
		case errors.Is(err, lsm.ErrClosed):
			s.respondError(w, http.StatusServiceUnavailable, "store is shutting down")
		default:
			s.logger.Error("put failed", logging.Int64("key", key), logging.Error(err))
			s.respondError(w, http.StatusInternalServerError, "write failed")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "key must be a 64-bit integer")
		return
	}

	if err := s.store.Del(key, true); err != nil {
		if errors.Is(err, lsm.ErrClosed) {
			s.respondError(w, http.StatusServiceUnavailable, "store is shutting down")
			return
		}
		s.logger.Error("delete failed", logging.Int64("key", key), logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reset(); err != nil {
		s.logger.Error("reset failed", logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
