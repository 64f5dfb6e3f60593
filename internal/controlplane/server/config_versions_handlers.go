package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin/binding"
)

func (s *Server) handleBotConfigVersions(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.target(w, r)
	if !ok {
		return
	}
	if s.db == nil {
		writeError(w, http.StatusNotFound, "config store disabled")
		return
	}
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := s.getBotConfig(ctx, inst.Label())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("db get: %v", err))
		return
	}
	versions, err := s.listBotConfigVersions(ctx, inst.Label(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("db list versions: %v", err))
		return
	}
	for i := range versions {
		if versions[i].Config != nil {
			red := versions[i].Config.Redacted()
			versions[i].Config = &red
		}
	}
	current := 0
	if rec != nil {
		current = rec.CurrentVersion
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bot":             inst.Label(),
		"current_version": current,
		"versions":        versions,
	})
}

type rollbackRequest struct {
	Version int `json:"version" binding:"required,gt=0"`
}

func (s *Server) handleBotConfigRollback(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.target(w, r)
	if !ok {
		return
	}
	if s.db == nil {
		writeError(w, http.StatusNotFound, "config store disabled")
		return
	}
	var req rollbackRequest
	if err := binding.JSON.Bind(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "version must be > 0")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	old, err := s.getBotConfigVersion(ctx, inst.Label(), req.Version)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("db get version: %v", err))
		return
	}
	if old == nil {
		writeError(w, http.StatusNotFound, "version not found")
		return
	}
	if old.Config == nil {
		writeError(w, http.StatusBadRequest, "config invalid: unreadable version")
		return
	}
	// 版本快照里不含密码时沿用当前密码
	if err := s.unsealPassword(inst.Label(), old.Config); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := old.Config.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("config invalid: %v", err))
		return
	}

	// 回滚策略：写入一个“新版本”（保持版本单调递增，便于审计）
	next, err := s.saveBotConfig(ctx, inst.Label(), *old.Config, fmt.Sprintf("rollback to v%d", req.Version))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("db save version: %v", err))
		return
	}
	inst.SetConfig(*old.Config)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "current_version": next})
}
