package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/botvisor/internal/bot"
	"github.com/betbot/botvisor/internal/broadcast"
	"github.com/betbot/botvisor/pkg/ratelimit"
)

var serverLog = logrus.WithField("component", "controlplane")

type Config struct {
	// DBPath 为空时不启用配置持久化
	DBPath string
	// LogFile 服务端日志文件，供 /api/logs/tail 读取；为空时该接口返回 404
	LogFile string

	Registry *bot.Registry
	Hub      *broadcast.Hub
	// Gatherer 非空时挂载 /metrics
	Gatherer prometheus.Gatherer
	// Secrets 非空时密码只写入该 store，SQLite 中保存空密码
	Secrets SecretStore

	// CommandLimit > 0 时限制每个 bot 在 CommandWindow 内可发送的命令数
	CommandLimit  int
	CommandWindow time.Duration
}

type Server struct {
	cfg      Config
	db       *sql.DB
	cmdLimit *ratelimit.Keyed

	// ctx 在 Drain 时取消，用于结束所有 /ws 与 SSE 连接
	ctx    context.Context
	cancel context.CancelFunc

	streamMu sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("bot registry is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("broadcast hub is required")
	}

	s := &Server{cfg: cfg, cmdLimit: ratelimit.NewKeyed(cfg.CommandLimit, cfg.CommandWindow)}
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
		db, err := sql.Open("sqlite", cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite：单连接更稳定
		db.SetMaxIdleConns(1)
		s.db = db
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Drain ends every /ws and SSE connection and waits for their handlers to
// return. New streaming requests are refused afterwards.
func (s *Server) Drain() {
	s.streamMu.Lock()
	s.draining = true
	s.streamMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// beginStream registers a long-lived handler. It returns false once Drain
// has started; otherwise the caller must call s.wg.Done when it returns.
func (s *Server) beginStream() bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.draining {
		return false
	}
	s.wg.Add(1)
	return true
}

// Close drains streaming connections and closes the store.
func (s *Server) Close() error {
	s.Drain()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreEnabled reports whether configurations are persisted.
func (s *Server) StoreEnabled() bool { return s.db != nil }

// ApplyStoredConfigs overrides each bot's roster configuration with the
// stored one, if any. It returns how many bots were updated.
func (s *Server) ApplyStoredConfigs(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, nil
	}
	n := 0
	for _, label := range s.cfg.Registry.Labels() {
		rec, err := s.getBotConfig(ctx, label)
		if err != nil {
			return n, err
		}
		if rec == nil {
			continue
		}
		if err := rec.Config.Validate(); err != nil {
			serverLog.WithError(err).Warnf("stored config for %s ignored", label)
			continue
		}
		inst, err := s.cfg.Registry.Get(label)
		if err != nil {
			continue
		}
		inst.SetConfig(rec.Config)
		n++
	}
	return n, nil
}

func (s *Server) Router() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	r.GET("/ws", s.wrap(s.handleWS))
	if s.cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler(s.cfg.Gatherer)))
	}

	api := r.Group("/api")
	api.GET("/logs/tail", s.wrap(s.handleServerLogTail))

	// 以下路由作用于当前 active bot
	active := api.Group("/bot")
	active.GET("/status", s.wrap(s.handleBotStatus))
	active.GET("/config", s.wrap(s.handleBotConfigGet))
	active.POST("/config", s.wrap(s.handleBotConfigSet))
	active.POST("/connect", s.wrap(s.handleBotConnect))
	active.POST("/disconnect", s.wrap(s.handleBotDisconnect))
	active.POST("/restart", s.wrap(s.handleBotRestart))
	active.POST("/command", s.wrap(s.handleBotCommand))
	active.GET("/active", s.wrap(s.handleActiveGet))
	active.POST("/switch", s.wrap(s.handleActiveSwitch))

	bots := api.Group("/bots")
	bots.GET("", s.wrap(s.handleBotsList))
	label := bots.Group("/:label")
	label.GET("/status", s.wrap(s.handleBotStatus))
	label.GET("/config", s.wrap(s.handleBotConfigGet))
	label.POST("/config", s.wrap(s.handleBotConfigSet))
	label.GET("/config/versions", s.wrap(s.handleBotConfigVersions))
	label.POST("/config/rollback", s.wrap(s.handleBotConfigRollback))
	label.POST("/connect", s.wrap(s.handleBotConnect))
	label.POST("/disconnect", s.wrap(s.handleBotDisconnect))
	label.POST("/restart", s.wrap(s.handleBotRestart))
	label.POST("/command", s.wrap(s.handleBotCommand))
	label.GET("/logs", s.wrap(s.handleBotLogs))
	label.GET("/logs/stream", s.wrap(s.handleBotLogsStream))

	return r
}

type paramsKeyType string

const paramsKey paramsKeyType = "botvisor_path_params"

// wrap adapts net/http handlers to gin, injecting path params into request context.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}
