package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aicove/syncd/internal/apperr"
	"github.com/aicove/syncd/internal/sync"
)

// ─── GET/PUT /api/v1/scopes ───

func (s *Server) GetScopesAPI(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)

	scopes, err := s.engine.GetScopes(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}

	httpResponseJSON(w, scopes, http.StatusOK)
}

type putScopesRequest struct {
	EnabledScopes []string `json:"enabled_scopes"`
}

func (s *Server) PutScopesAPI(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)

	var req putScopesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	scopes, err := s.engine.PutScopes(r.Context(), p.UserID, req.EnabledScopes)
	if err != nil {
		writeErr(w, err)
		return
	}

	httpResponseJSON(w, scopes, http.StatusOK)
}

// ─── GET /api/v1/pull ───

func (s *Server) PullAPI(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	q := r.URL.Query()

	req := sync.PullRequest{
		DeviceID:           q.Get("device_id"),
		ConversationsSince: queryInt64(q, "conversations_since"),
		MessagesSince:      queryInt64(q, "messages_since"),
		ProvidersSince:     queryInt64(q, "providers_since"),
		IncludeDeleted:     q.Get("include_deleted") == "true",
		Limit:              int(queryInt64(q, "limit")),
	}

	resp, err := s.engine.Pull(r.Context(), p.UserID, req)
	if err != nil {
		writeErr(w, err)
		return
	}

	httpResponseJSON(w, resp, http.StatusOK)
}

// ─── POST /api/v1/push ───

type pushRequest struct {
	Operations []sync.PushOperation `json:"operations"`
}

type pushResponse struct {
	Results []sync.PushResult `json:"results"`
}

func (s *Server) PushAPI(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	results, err := s.engine.Push(r.Context(), p.UserID, req.Operations)
	if err != nil {
		writeErr(w, err)
		return
	}

	httpResponseJSON(w, pushResponse{Results: results}, http.StatusOK)
}

// ─── GET /api/v1/recycle-bin ───

func (s *Server) RecycleBinAPI(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)

	resp, err := s.engine.RecycleBin(r.Context(), p.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}

	httpResponseJSON(w, resp, http.StatusOK)
}

// ─── helpers ───

func queryInt64(q interface{ Get(string) string }, key string) int64 {
	v, err := strconv.ParseInt(q.Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func writeErr(w http.ResponseWriter, err error) {
	httpResponse(w, err.Error(), apperr.Status(err))
}
