package ports

import (
	"github.com/betbot/botvisor/internal/domain"
)

// ConnHandler receives protocol events for one connection.
//
// NOTE: callbacks run on the protocol client's own goroutine; implementations
// must not call back into the Conn that delivered the event while holding a lock
// the client might need.
type ConnHandler interface {
	OnReady()
	OnError(err error)
	OnClosed()
	OnKicked(reason string)
}

// Conn is a live protocol connection.
type Conn interface {
	SendText(text string) error
	Terminate() error
}

// Dialer opens protocol connections. Dial must return before any event is
// delivered to h; network I/O happens asynchronously.
type Dialer interface {
	Dial(cfg domain.ConnectionConfig, h ConnHandler) (Conn, error)
}

// Publisher fans out supervisor output to observers.
type Publisher interface {
	Console(bot domain.BotLabel, msg string, sev domain.Severity)
	StatusUpdate(bot domain.BotLabel)
	Event(bot domain.BotLabel, ev domain.Event)
}
