package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/betbot/botvisor/internal/bot"
	"github.com/betbot/botvisor/internal/broadcast"
	"github.com/betbot/botvisor/internal/controlplane/server"
	"github.com/betbot/botvisor/internal/infrastructure/bridge"
	"github.com/betbot/botvisor/internal/metrics"
	"github.com/betbot/botvisor/internal/supervisor"
	"github.com/betbot/botvisor/pkg/config"
	"github.com/betbot/botvisor/pkg/logger"
	"github.com/betbot/botvisor/pkg/secretstore"
	"github.com/betbot/botvisor/pkg/shutdown"
	"github.com/betbot/botvisor/pkg/syncgroup"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	getenv := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}

	var (
		listenAddr  = flag.String("listen", getenv("BOTVISOR_LISTEN", ":5000"), "HTTP listen address")
		configPath  = flag.String("config", getenv("BOTVISOR_CONFIG", ""), "bot roster file (.yaml/.yml/.json); empty uses built-in defaults")
		dbPath      = flag.String("db", getenv("BOTVISOR_DB", "data/botvisor.db"), "SQLite config store path; empty disables persistence")
		logLevel    = flag.String("log-level", getenv("BOTVISOR_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
		logFile     = flag.String("log-file", getenv("BOTVISOR_LOG_FILE", ""), "log file path (rotated); empty logs to stdout only")
		logFormat   = flag.String("log-format", getenv("BOTVISOR_LOG_FORMAT", "text"), "log format: text or json")
		debugListen = flag.String("debug-listen", getenv("BOTVISOR_DEBUG_LISTEN", ""), "optional metrics/pprof listen address, e.g. 127.0.0.1:6060")
		secretsDir  = flag.String("secrets", getenv("BOTVISOR_SECRETS_DIR", ""), "badger dir for bot passwords; empty keeps them in the SQLite store")
		secretKey   = flag.String("secret-key", getenv("BOTVISOR_SECRET_KEY", ""), "badger encryption key (32 bytes, base64 or hex)")
	)
	flag.Parse()

	if err := logger.Init(logger.Config{
		Level:      *logLevel,
		OutputFile: *logFile,
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     7, // 7天
		Compress:   true,
		Format:     *logFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("load config failed: %v", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		logger.Errorf("init metrics failed: %v", err)
		os.Exit(1)
	}

	hub := broadcast.NewHub(broadcast.WithRecorder(m))
	dialer := bridge.NewDialer(bridge.Config{
		URLTemplate:      cfg.Bridge.URLTemplate,
		HandshakeTimeout: cfg.Bridge.HandshakeTimeout,
		ProxyURL:         cfg.Bridge.Proxy,
	})
	policy := supervisor.Policy{
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectDelay:       cfg.Reconnect.Delay,
		RestartDelay:         cfg.Reconnect.RestartDelay,
	}

	instances := make([]*bot.Instance, 0, len(cfg.Bots))
	for _, b := range cfg.Bots {
		instances = append(instances, bot.NewInstance(b.Label, b.ConnectionConfig, supervisor.Options{
			Dialer:    dialer,
			Publisher: hub,
			Policy:    policy,
			Recorder:  m,
			Logger:    logger.WithField("component", "supervisor"),
		}))
	}
	bots, err := bot.NewRegistry(cfg.Active, hub, instances...)
	if err != nil {
		logger.Errorf("init bot registry failed: %v", err)
		os.Exit(1)
	}

	var secrets server.SecretStore
	if *secretsDir != "" {
		keyBytes, err := secretstore.ParseKey(*secretKey)
		if err != nil {
			logger.Errorf("invalid secret key: %v", err)
			os.Exit(1)
		}
		if keyBytes == nil {
			logger.Warnf("secret store %s opened without encryption; set BOTVISOR_SECRET_KEY", *secretsDir)
		}
		ss, err := secretstore.Open(secretstore.OpenOptions{Path: *secretsDir, EncryptionKey: keyBytes})
		if err != nil {
			logger.Errorf("open secret store failed: %v", err)
			os.Exit(1)
		}
		defer ss.Close()
		secrets = ss
	}

	srv, err := server.New(server.Config{
		DBPath:        *dbPath,
		LogFile:       *logFile,
		Registry:      bots,
		Hub:           hub,
		Gatherer:      reg,
		Secrets:       secrets,
		CommandLimit:  cfg.API.CommandLimit,
		CommandWindow: cfg.API.CommandWindow,
	})
	if err != nil {
		logger.Errorf("init server failed: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := srv.ApplyStoredConfigs(ctx); err != nil {
		logger.Warnf("load stored configs failed: %v", err)
	} else if n > 0 {
		logger.Infof("applied %d stored bot config(s)", n)
	}

	if *debugListen != "" {
		if _, err := metrics.StartAsync(ctx, *debugListen, reg); err != nil {
			logger.Warnf("debug server disabled: %v", err)
		} else {
			logger.Infof("debug server listening on %s", *debugListen)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr:              *listenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sg := syncgroup.NewSyncGroup()
	sg.Add(func() {
		logger.Infof("botvisor listening on %s (active bot: %s)", *listenAddr, bots.ActiveLabel())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server error: %v", err)
			cancel()
		}
	})
	sg.Run()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case sig := <-stopCh:
		logger.Infof("received %s, shutting down", sig)
	case <-ctx.Done():
	}

	// 先停 bot，让最后的状态推送在观察者断开前发出
	sm := shutdown.NewManager()
	sm.OnShutdown(0, "bots", func(ctx context.Context) {
		bots.StopAll()
	})
	sm.OnShutdown(1, "http", func(ctx context.Context) {
		// 先断开 /ws 与 SSE 长连接，否则 Shutdown 会一直等到超时
		srv.Drain()
		_ = httpSrv.Shutdown(ctx)
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if pending := sm.Shutdown(shutdownCtx); len(pending) > 0 {
		logger.Warnf("shutdown incomplete: %v", pending)
	}

	cancel()
	_ = srv.Close()
	sg.Wait()
	logger.Info("server stopped")
}
