// Package bridge is a websocket client for a game-protocol bridge. The bridge
// runs the actual game client and relays its lifecycle events as JSON frames.
package bridge

import (
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/ports"
)

var bridgeLog = logrus.WithField("component", "bridge")

const (
	DefaultURLTemplate      = "ws://{host}:{port}/bridge"
	DefaultHandshakeTimeout = 10 * time.Second

	writeWait = 5 * time.Second
)

var ErrNotConnected = errors.New("bridge socket not connected")

// Config controls how bridge sockets are opened.
type Config struct {
	URLTemplate      string
	HandshakeTimeout time.Duration
	ProxyURL         string
}

type joinFrame struct {
	Op       string `json:"op"`
	Username string `json:"username"`
	Version  string `json:"version"`
	Password string `json:"password"`
}

type chatFrame struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

type inboundFrame struct {
	Op      string `json:"op"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Dialer implements ports.Dialer over websocket.
type Dialer struct {
	cfg    Config
	dialer websocket.Dialer
}

var _ ports.Dialer = (*Dialer)(nil)

func NewDialer(cfg Config) *Dialer {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultURLTemplate
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Dialer{
		cfg: cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            proxyFunc(cfg.ProxyURL),
		},
	}
}

// URL expands the template for cc.
func (d *Dialer) URL(cc domain.ConnectionConfig) (string, error) {
	raw := strings.NewReplacer(
		"{host}", cc.Host,
		"{port}", strconv.Itoa(cc.Port),
		"{username}", url.PathEscape(cc.Username),
		"{version}", url.PathEscape(cc.Version),
	).Replace(d.cfg.URLTemplate)

	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "parse bridge url %q", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.Errorf("bridge url %q: scheme must be ws or wss", raw)
	}
	return u.String(), nil
}

// Dial returns immediately; the socket is opened on a new goroutine and every
// lifecycle event, including a dial failure, arrives through h.
func (d *Dialer) Dial(cc domain.ConnectionConfig, h ports.ConnHandler) (ports.Conn, error) {
	u, err := d.URL(cc)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		h:   h,
		log: bridgeLog.WithFields(logrus.Fields{"url": u, "username": cc.Username}),
	}
	go c.run(&d.dialer, u, cc)
	return c, nil
}

// Conn is one bridge session.
type Conn struct {
	h   ports.ConnHandler
	log *logrus.Entry

	mu         sync.Mutex
	ws         *websocket.Conn
	terminated bool

	writeMu    sync.Mutex
	closedOnce sync.Once
}

var _ ports.Conn = (*Conn)(nil)

func (c *Conn) run(d *websocket.Dialer, u string, cc domain.ConnectionConfig) {
	defer c.fireClosed()

	ws, _, err := d.Dial(u, nil)
	if err != nil {
		c.h.OnError(errors.Wrapf(err, "dial bridge %s", u))
		return
	}

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()

	// 密码不经 bridge 传递，认证由 supervisor 的 /login 命令完成
	if err := c.write(joinFrame{Op: "join", Username: cc.Username, Version: cc.Version}); err != nil {
		c.h.OnError(errors.Wrap(err, "send join"))
		_ = ws.Close()
		return
	}
	c.log.Debug("bridge socket open, join sent")

	c.readLoop(ws)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isTerminated() {
				c.log.Debugf("bridge 连接异常关闭: %v", err)
			}
			return
		}

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Debugf("忽略无法解析的 bridge 消息: %v", err)
			continue
		}
		switch f.Op {
		case "spawn":
			c.h.OnReady()
		case "kicked":
			c.h.OnKicked(f.Reason)
		case "error":
			c.h.OnError(errors.New(f.Message))
		default:
			c.log.Debugf("unknown bridge op %q", f.Op)
		}
	}
}

// SendText writes one chat frame.
func (c *Conn) SendText(text string) error {
	if err := c.write(chatFrame{Op: "chat", Text: text}); err != nil {
		return errors.Wrap(err, "send chat")
	}
	return nil
}

// Terminate closes the socket. The closed event still arrives from the read
// goroutine.
func (c *Conn) Terminate() error {
	c.mu.Lock()
	c.terminated = true
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "quit"),
		time.Now().Add(time.Second))
	if err := ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "close bridge socket")
	}
	return nil
}

func (c *Conn) write(v any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(v)
}

func (c *Conn) isTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

func (c *Conn) fireClosed() {
	c.closedOnce.Do(c.h.OnClosed)
}
