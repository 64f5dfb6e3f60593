// Package broadcast fans supervisor output out to every connected observer
// and keeps a small in-memory window of recent lines per bot.
package broadcast

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/events"
)

const (
	RecentLogLimit   = 100
	RecentEventLimit = 10
)

var hubLog = logrus.WithField("component", "broadcast")

// Subscriber is one observer transport. Send must not block.
type Subscriber interface {
	ID() string
	IsOpen() bool
	Send(data []byte) error
}

// Recorder receives fan-out measurements.
type Recorder interface {
	SetSubscribers(n int)
	Broadcast(kind string)
}

type nopRecorder struct{}

func (nopRecorder) SetSubscribers(int) {}
func (nopRecorder) Broadcast(string)   {}

type window struct {
	logs   []domain.LogEntry
	events []domain.Event
}

// Hub is the shared subscriber set for every bot instance.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]Subscriber

	recentMu sync.Mutex
	recent   map[domain.BotLabel]*window

	now func() time.Time
	rec Recorder
}

// Option configures a Hub.
type Option func(*Hub)

// WithRecorder attaches metrics.
func WithRecorder(r Recorder) Option {
	return func(h *Hub) {
		if r != nil {
			h.rec = r
		}
	}
}

// WithNow overrides the clock used to stamp console entries.
func WithNow(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[string]Subscriber),
		recent: make(map[domain.BotLabel]*window),
		now:    time.Now,
		rec:    nopRecorder{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Add registers sub. The new subscriber alone receives one refresh signal
// followed by the recent window of every bot. Adding twice is a no-op.
func (h *Hub) Add(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID()]; ok {
		return
	}
	h.subs[sub.ID()] = sub
	h.rec.SetSubscribers(len(h.subs))
	hubLog.Debugf("subscriber %s added (%d total)", sub.ID(), len(h.subs))

	h.deliver(sub, events.RefreshAll())
	for _, m := range h.replay() {
		h.deliver(sub, m)
	}
}

// Remove unregisters sub. Removing an unknown subscriber is a no-op.
func (h *Hub) Remove(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID()]; !ok {
		return
	}
	delete(h.subs, sub.ID())
	h.rec.SetSubscribers(len(h.subs))
	hubLog.Debugf("subscriber %s removed (%d total)", sub.ID(), len(h.subs))
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// MaxReplay is the number of messages Add delivers to a new subscriber when
// every one of bots has a full recent window.
func MaxReplay(bots int) int {
	return 1 + bots*(RecentLogLimit+RecentEventLimit)
}

func (h *Hub) Console(bot domain.BotLabel, msg string, sev domain.Severity) {
	entry := domain.LogEntry{
		Message:   msg,
		Severity:  sev,
		Timestamp: h.now().Local().Format(domain.ClockLayout),
	}
	h.publish(bot, events.ConsoleEntry(bot, entry), func(w *window) {
		w.logs = append(w.logs, entry)
		if n := len(w.logs) - RecentLogLimit; n > 0 {
			w.logs = append([]domain.LogEntry(nil), w.logs[n:]...)
		}
	})
}

func (h *Hub) StatusUpdate(bot domain.BotLabel) {
	h.publish(bot, events.StatusUpdate(bot), nil)
}

func (h *Hub) Event(bot domain.BotLabel, ev domain.Event) {
	h.publish(bot, events.EventNotice(bot, ev), func(w *window) {
		w.events = append(w.events, ev)
		if n := len(w.events) - RecentEventLimit; n > 0 {
			w.events = append([]domain.Event(nil), w.events[n:]...)
		}
	})
}

// Recent returns copies of the recent console entries and events for bot,
// oldest first.
func (h *Hub) Recent(bot domain.BotLabel) ([]domain.LogEntry, []domain.Event) {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()
	w, ok := h.recent[bot]
	if !ok {
		return []domain.LogEntry{}, []domain.Event{}
	}
	return append([]domain.LogEntry{}, w.logs...), append([]domain.Event{}, w.events...)
}

func (h *Hub) remember(bot domain.BotLabel, fn func(*window)) {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()
	w, ok := h.recent[bot]
	if !ok {
		w = &window{}
		h.recent[bot] = w
	}
	fn(w)
}

func (h *Hub) replay() []events.Message {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()

	labels := make([]string, 0, len(h.recent))
	for l := range h.recent {
		labels = append(labels, string(l))
	}
	sort.Strings(labels)

	var out []events.Message
	for _, l := range labels {
		bot := domain.BotLabel(l)
		w := h.recent[bot]
		for _, e := range w.logs {
			out = append(out, events.ConsoleEntry(bot, e))
		}
		for _, ev := range w.events {
			out = append(out, events.EventNotice(bot, ev))
		}
	}
	return out
}

// publish marshals once and sends to a snapshot of the open subscribers.
// record, if set, updates bot's recent window under the same read lock that
// takes the snapshot. Add holds the write lock across its replay, so a
// subscriber sees each line either in the replay or live, never both.
func (h *Hub) publish(bot domain.BotLabel, msg events.Message, record func(*window)) {
	data, err := json.Marshal(msg)
	if err != nil {
		hubLog.WithError(err).Error("marshal broadcast message")
		return
	}
	h.rec.Broadcast(string(msg.Type))

	h.mu.RLock()
	if record != nil {
		h.remember(bot, record)
	}
	list := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		list = append(list, s)
	}
	h.mu.RUnlock()

	for _, s := range list {
		if !s.IsOpen() {
			continue
		}
		if err := s.Send(data); err != nil {
			hubLog.WithError(err).Debugf("send to subscriber %s failed", s.ID())
		}
	}
}

func (h *Hub) deliver(sub Subscriber, msg events.Message) {
	if !sub.IsOpen() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		hubLog.WithError(err).Error("marshal replay message")
		return
	}
	if err := sub.Send(data); err != nil {
		hubLog.WithError(err).Debugf("replay to subscriber %s failed", sub.ID())
	}
}
