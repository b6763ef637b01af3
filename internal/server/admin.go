package server

import (
	"net/http"
	"time"

	"github.com/rakunlabs/logi"
)

// purgeExpiredResponse mirrors sync.PurgeResult's shape.
type purgeExpiredResponse struct {
	Purged struct {
		Conversations int64 `json:"conversations"`
		Messages      int64 `json:"messages"`
		Providers     int64 `json:"providers"`
	} `json:"purged"`
	ServerTime int64 `json:"server_time"`
}

// PurgeExpiredAPI handles POST /admin/purge-expired. It is the operator
// escape hatch for the recycle-bin reaper (C6); the internal scheduler
// normally runs this sweep every hour on its own (spec §9).
func (s *Server) PurgeExpiredAPI(w http.ResponseWriter, r *http.Request) {
	counts, err := s.reaper.Sweep(r.Context())
	if err != nil {
		logi.Ctx(r.Context()).Error("admin purge-expired failed", "error", err)
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := purgeExpiredResponse{}
	resp.Purged.Conversations = counts.Conversations
	resp.Purged.Messages = counts.Messages
	resp.Purged.Providers = counts.Providers
	resp.ServerTime = time.Now().UnixMilli()

	httpResponseJSON(w, resp, http.StatusOK)
}

// AdminOverviewAPI handles GET /admin/overview, the supplemented
// admin-overview add-on (SPEC_FULL §4): aggregate row counts per resource
// class across all users, for operator dashboards.
func (s *Server) AdminOverviewAPI(w http.ResponseWriter, r *http.Request) {
	if s.admin == nil {
		httpResponse(w, "admin-overview add-on not configured", http.StatusServiceUnavailable)
		return
	}

	stats, err := s.admin.Stats(r.Context())
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, stats, http.StatusOK)
}
