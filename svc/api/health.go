package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"linkvault/svc/util"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Ready    bool   `json:"ready"`
	Degraded bool   `json:"degraded"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Ready degrades instead of failing when Redis is down: the LRU still
// serves, so the process stays in rotation.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := ReadyResponse{
		Ready:    true,
		Degraded: false,
		Database: "up",
		Cache:    "up",
	}
	dbCtx, dbCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer dbCancel()
	if err := s.db.Ping(dbCtx); err != nil {
		util.Error().Err(err).Msg("database health check failed")
		resp.Database = "down"
		resp.Degraded = true
		resp.Ready = false
	}
	cacheCtx, cacheCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cacheCancel()
	if s.rdb != nil {
		if err := s.rdb.Ping(cacheCtx); err != nil {
			util.Warn().Err(err).Msg("cache health check failed")
			resp.Cache = "down"
			resp.Degraded = true
		}
	} else {
		resp.Cache = "unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}
