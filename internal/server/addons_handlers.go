package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// ─── PUT/GET /api/v1/backup/* — backup-blob add-on ───

func (s *Server) PutBackupAPI(w http.ResponseWriter, r *http.Request) {
	if s.backup == nil {
		httpResponse(w, "backup add-on not configured", http.StatusServiceUnavailable)
		return
	}

	p := principalFrom(r)

	blob, err := io.ReadAll(r.Body)
	if err != nil {
		httpResponse(w, "read request body", http.StatusBadRequest)
		return
	}

	ref, err := s.backup.Put(r.Context(), p.UserID, blob)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusBadGateway)
		return
	}

	httpResponseJSON(w, map[string]string{"ref": ref}, http.StatusOK)
}

func (s *Server) GetBackupAPI(w http.ResponseWriter, r *http.Request) {
	if s.backup == nil {
		httpResponse(w, "backup add-on not configured", http.StatusServiceUnavailable)
		return
	}

	p := principalFrom(r)
	ref := r.PathValue("*")
	if ref == "" {
		httpResponse(w, "backup ref is required", http.StatusBadRequest)
		return
	}

	blob, err := s.backup.Get(r.Context(), p.UserID, ref)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

// ─── POST /api/v1/keys/lease, /release — API-key quota pool add-on ───

func (s *Server) LeaseKeyAPI(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		httpResponse(w, "keys add-on not configured", http.StatusServiceUnavailable)
		return
	}

	p := principalFrom(r)

	key, err := s.keys.Lease(r.Context(), p.UserID)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusConflict)
		return
	}

	httpResponseJSON(w, map[string]string{"api_key": key}, http.StatusOK)
}

type releaseKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) ReleaseKeyAPI(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		httpResponse(w, "keys add-on not configured", http.StatusServiceUnavailable)
		return
	}

	p := principalFrom(r)

	var req releaseKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.keys.Release(r.Context(), p.UserID, req.APIKey); err != nil {
		httpResponse(w, err.Error(), http.StatusConflict)
		return
	}

	httpResponse(w, "released", http.StatusOK)
}

// ─── POST /api/v1/memory, GET /api/v1/memory/search — memory-bank add-on ───

type putMemoryRequest struct {
	Text string `json:"text"`
}

func (s *Server) PutMemoryAPI(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		httpResponse(w, "memory-bank add-on not configured", http.StatusServiceUnavailable)
		return
	}

	p := principalFrom(r)

	var req putMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry := s.memory.Put(r.Context(), p.UserID, req.Text, time.Now().UnixMilli())

	httpResponseJSON(w, entry, http.StatusOK)
}

func (s *Server) SearchMemoryAPI(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		httpResponse(w, "memory-bank add-on not configured", http.StatusServiceUnavailable)
		return
	}

	p := principalFrom(r)
	q := r.URL.Query()

	results, err := s.memory.Search(r.Context(), p.UserID, q.Get("q"), int(queryInt64(q, "limit")))
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, map[string]any{"results": results}, http.StatusOK)
}
