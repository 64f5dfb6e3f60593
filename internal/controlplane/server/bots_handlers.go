package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin/binding"

	"github.com/betbot/botvisor/internal/bot"
	"github.com/betbot/botvisor/internal/domain"
)

// target resolves the instance a request operates on: the :label path param
// when present, otherwise the active bot. It writes a 404 for unknown labels.
func (s *Server) target(w http.ResponseWriter, r *http.Request) (*bot.Instance, bool) {
	label := strings.TrimSpace(pathParam(r, "label"))
	if label == "" {
		return s.cfg.Registry.Active(), true
	}
	inst, err := s.cfg.Registry.Get(domain.BotLabel(label))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrBotNotFound.Error())
		return nil, false
	}
	return inst, true
}

func (s *Server) handleBotsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active": s.cfg.Registry.ActiveLabel(),
		"bots":   s.cfg.Registry.Snapshot(),
	})
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.target(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst.Status())
}

func (s *Server) handleBotConfigGet(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.target(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst.Config().Redacted())
}

func (s *Server) handleBotConfigSet(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.target(w, r)
	if !ok {
		return
	}
	var cfg domain.ConnectionConfig
	if err := binding.JSON.Bind(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration: "+err.Error())
		return
	}
	cfg.Host = strings.TrimSpace(cfg.Host)
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid configuration: "+err.Error())
		return
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if _, err := s.saveBotConfig(ctx, inst.Label(), cfg, "update"); err != nil {
			serverLog.WithError(err).Errorf("persist config for %s", inst.Label())
			writeError(w, http.StatusInternalServerError, "Failed to update configuration")
			return
		}
	}
	inst.SetConfig(cfg)
	writeSuccess(w)
}

func (s *Server) handleBotConnect(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, (*bot.Instance).Start, "Failed to start bot")
}

func (s *Server) handleBotDisconnect(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, (*bot.Instance).Stop, "Failed to stop bot")
}

func (s *Server) handleBotRestart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, (*bot.Instance).Restart, "Failed to restart bot")
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(*bot.Instance) bool, failure string) {
	inst, ok := s.target(w, r)
	if !ok {
		return
	}
	if !op(inst) {
		writeError(w, http.StatusInternalServerError, failure)
		return
	}
	writeSuccess(w)
}

type commandRequest struct {
	Command string `json:"command" binding:"required,min=1"`
}

func (s *Server) handleBotCommand(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.target(w, r)
	if !ok {
		return
	}
	var req commandRequest
	if err := binding.JSON.Bind(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid command")
		return
	}
	if !s.cmdLimit.Allow(string(inst.Label())) {
		retry := time.Until(s.cmdLimit.ResetAt(string(inst.Label())))
		w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)+1))
		writeError(w, http.StatusTooManyRequests, "Too many commands")
		return
	}
	if !inst.SendCommand(req.Command) {
		writeError(w, http.StatusInternalServerError, "Failed to send command")
		return
	}
	writeSuccess(w)
}

func (s *Server) handleActiveGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active": s.cfg.Registry.ActiveLabel(),
		"bots":   s.cfg.Registry.Labels(),
	})
}

type switchRequest struct {
	BotType string `json:"botType" binding:"required"`
}

func (s *Server) handleActiveSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := binding.JSON.Bind(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid bot type")
		return
	}
	if !s.cfg.Registry.SetActive(domain.BotLabel(strings.TrimSpace(req.BotType))) {
		writeError(w, http.StatusBadRequest, "Invalid bot type")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "active": s.cfg.Registry.ActiveLabel()})
}
