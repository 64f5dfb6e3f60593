package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var observerLog = logrus.WithField("component", "observer_websocket")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

var (
	ErrClosed         = errors.New("observer closed")
	ErrSendBufferFull = errors.New("observer send buffer full")
)

// Observer 一个 /ws 观察者连接。Send 非阻塞：缓冲区满时直接丢弃该消息。
type Observer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewObserver wraps an upgraded connection.
func NewObserver(conn *websocket.Conn) *Observer {
	return newObserver(conn, sendBuffer)
}

// NewObserverWithReplay reserves room for replay messages queued before Run
// starts the writer, on top of the live buffer.
func NewObserverWithReplay(conn *websocket.Conn, replay int) *Observer {
	if replay < 0 {
		replay = 0
	}
	return newObserver(conn, sendBuffer+replay)
}

func newObserver(conn *websocket.Conn, size int) *Observer {
	return &Observer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

func (o *Observer) ID() string { return o.id }

func (o *Observer) IsOpen() bool { return !o.closed.Load() }

// Send queues data for the writer goroutine.
func (o *Observer) Send(data []byte) error {
	if o.closed.Load() {
		return ErrClosed
	}
	select {
	case <-o.done:
		return ErrClosed
	case o.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run pumps the connection until the peer goes away or ctx is cancelled.
// onMessage, if set, receives every inbound data frame.
func (o *Observer) Run(ctx context.Context, onMessage func([]byte)) {
	go o.writeLoop(ctx)
	o.readLoop(onMessage)
	_ = o.Close()
}

// Close 幂等：标记关闭、通知写协程退出、发送 close 帧并关闭底层连接
func (o *Observer) Close() error {
	var err error
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		close(o.done)
		// WriteControl 可与其它写方法并发调用
		_ = o.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = o.conn.Close()
	})
	return err
}

func (o *Observer) readLoop(onMessage func([]byte)) {
	o.conn.SetReadLimit(maxMessageSize)
	_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && o.IsOpen() {
				observerLog.Debugf("观察者 %s 异常断开: %v", o.id, err)
			}
			return
		}
		if onMessage != nil {
			onMessage(data)
		}
	}
}

// writeLoop 是唯一的数据帧写入者（gorilla/websocket 不允许并发写）
func (o *Observer) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = o.Close()
			return
		case <-o.done:
			return
		case msg := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				observerLog.Debugf("写入观察者 %s 失败: %v", o.id, err)
				_ = o.Close()
				return
			}
		case <-ticker.C:
			if err := o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				observerLog.Debugf("观察者 %s ping 失败: %v", o.id, err)
				_ = o.Close()
				return
			}
		}
	}
}
