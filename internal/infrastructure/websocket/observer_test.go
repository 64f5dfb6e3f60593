package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botvisor/internal/broadcast"
	"github.com/betbot/botvisor/internal/domain"
)

func serve(t *testing.T, fn func(c *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestObserver_DeliversQueuedMessages(t *testing.T) {
	finished := make(chan *Observer, 1)
	url := serve(t, func(c *websocket.Conn) {
		o := NewObserver(c)
		assert.NoError(t, o.Send([]byte(`{"type":"statusUpdate"}`)))
		o.Run(context.Background(), nil)
		finished <- o
	})

	client := dial(t, url)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"statusUpdate"}`, string(data))

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case o := <-finished:
		assert.False(t, o.IsOpen())
		assert.ErrorIs(t, o.Send([]byte("x")), ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not stop after client close")
	}
}

func TestObserver_InboundFramesReachCallback(t *testing.T) {
	got := make(chan string, 1)
	url := serve(t, func(c *websocket.Conn) {
		o := NewObserver(c)
		o.Run(context.Background(), func(b []byte) { got <- string(b) })
	})

	client := dial(t, url)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"hello":"bot"}`)))

	select {
	case msg := <-got:
		assert.Equal(t, `{"hello":"bot"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame not delivered")
	}
}

func TestObserver_SendNeverBlocks(t *testing.T) {
	results := make(chan []error, 1)
	url := serve(t, func(c *websocket.Conn) {
		// no writer goroutine: the single buffer slot fills up
		o := newObserver(c, 1)
		errs := []error{o.Send([]byte("a")), o.Send([]byte("b"))}
		_ = o.Close()
		errs = append(errs, o.Send([]byte("c")))
		results <- errs
	})
	dial(t, url)

	select {
	case errs := <-results:
		assert.NoError(t, errs[0])
		assert.ErrorIs(t, errs[1], ErrSendBufferFull)
		assert.ErrorIs(t, errs[2], ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("send blocked")
	}
}

func TestObserver_ReplayFitsBeforeWriterStarts(t *testing.T) {
	bots := []domain.BotLabel{domain.BotPrimary, domain.BotSecondary, "Third"}
	hub := broadcast.NewHub()
	for _, b := range bots {
		for i := 0; i < broadcast.RecentLogLimit; i++ {
			hub.Console(b, fmt.Sprintf("line %d", i), domain.SeverityInfo)
		}
		for i := 0; i < broadcast.RecentEventLimit; i++ {
			hub.Event(b, domain.Event{ID: fmt.Sprint(i)})
		}
	}

	queued := make(chan int, 1)
	url := serve(t, func(c *websocket.Conn) {
		o := NewObserverWithReplay(c, broadcast.MaxReplay(len(bots)))
		hub.Add(o)
		queued <- len(o.send)
		hub.Remove(o)
		_ = o.Close()
	})
	dial(t, url)

	select {
	case n := <-queued:
		assert.Equal(t, broadcast.MaxReplay(len(bots)), n)
	case <-time.After(2 * time.Second):
		t.Fatal("replay not queued")
	}
}

func TestObserver_ContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	url := serve(t, func(c *websocket.Conn) {
		NewObserver(c).Run(ctx, nil)
		close(finished)
	})
	client := dial(t, url)
	cancel()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
