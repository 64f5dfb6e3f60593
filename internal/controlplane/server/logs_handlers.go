package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/events"
)

func (s *Server) handleBotLogs(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.target(w, r)
	if !ok {
		return
	}
	logs, evs := s.cfg.Hub.Recent(inst.Label())
	writeJSON(w, http.StatusOK, map[string]any{
		"bot":    inst.Label(),
		"logs":   logs,
		"events": evs,
	})
}

// handleServerLogTail 返回服务端日志文件的最后 N 行
func (s *Server) handleServerLogTail(w http.ResponseWriter, r *http.Request) {
	if s.cfg.LogFile == "" {
		writeError(w, http.StatusNotFound, "log file not configured")
		return
	}
	tailN := 200
	if v := strings.TrimSpace(r.URL.Query().Get("tail")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 5000 {
			tailN = n
		}
	}
	lines, err := tailLines(s.cfg.LogFile, tailN, 256*1024)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]any{"lines": []string{}})
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read log: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

const sseBuffer = 128

// sseSubscriber 把某个 bot 的 console 消息转交给一个 SSE 连接
type sseSubscriber struct {
	id     string
	bot    domain.BotLabel
	ch     chan domain.LogEntry
	closed atomic.Bool
}

func newSSESubscriber(bot domain.BotLabel) *sseSubscriber {
	return &sseSubscriber{id: "sse-" + uuid.NewString(), bot: bot, ch: make(chan domain.LogEntry, sseBuffer)}
}

func (s *sseSubscriber) ID() string   { return s.id }
func (s *sseSubscriber) IsOpen() bool { return !s.closed.Load() }

// Send never blocks; lines are dropped while the client is slow.
func (s *sseSubscriber) Send(data []byte) error {
	if s.closed.Load() {
		return nil
	}
	var msg events.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.Type != events.TypeConsole || msg.Bot != s.bot {
		return nil
	}
	entry := domain.LogEntry{
		Message:   msg.Message,
		Severity:  msg.MessageType,
		Timestamp: msg.Timestamp,
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().Format(domain.ClockLayout)
	}
	select {
	case s.ch <- entry:
	default:
	}
	return nil
}

func (s *Server) handleBotLogsStream(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.target(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if !s.beginStream() {
		writeError(w, http.StatusServiceUnavailable, "server closing")
		return
	}
	defer s.wg.Done()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := newSSESubscriber(inst.Label())
	s.cfg.Hub.Add(sub)
	defer func() {
		sub.closed.Store(true)
		s.cfg.Hub.Remove(sub)
	}()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case entry := <-sub.ch:
			b, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			// SSE 一行一个 data，避免长行把前端卡死
			fmt.Fprintf(w, "data: %s\n\n", escapeSSE(string(b)))
			flusher.Flush()
		}
	}
}

// tailLines: 从文件末尾最多读取 maxBytes，取最后 n 行。
func tailLines(path string, n int, maxBytes int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size <= 0 {
		return []string{}, nil
	}

	start := int64(0)
	if size > maxBytes {
		start = size - maxBytes
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	r := bufio.NewReader(f)
	lines := []string{}
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
			if len(lines) > n {
				lines = lines[len(lines)-n:]
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	return lines, nil
}

func escapeSSE(s string) string {
	// 防止注入多行事件：把 CR/LF 变成可见符号
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
