package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/events"
)

type memSub struct {
	id   string
	mu   sync.Mutex
	open bool
	err  error
	got  []events.Message
}

func newMemSub(id string) *memSub { return &memSub{id: id, open: true} }

func (m *memSub) ID() string { return m.id }

func (m *memSub) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *memSub) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	var msg events.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	m.got = append(m.got, msg)
	return nil
}

func (m *memSub) messages() []events.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Message(nil), m.got...)
}

func (m *memSub) setOpen(v bool) {
	m.mu.Lock()
	m.open = v
	m.mu.Unlock()
}

func TestHub_AddDeliversRefreshToNewSubscriberOnly(t *testing.T) {
	h := NewHub()
	a := newMemSub("a")
	h.Add(a)
	require.Len(t, a.messages(), 1)
	assert.Equal(t, events.TypeStatusUpdate, a.messages()[0].Type)

	b := newMemSub("b")
	h.Add(b)
	assert.Len(t, a.messages(), 1, "existing subscriber must not receive the late joiner's refresh")
	require.Len(t, b.messages(), 1)
	assert.Equal(t, events.TypeStatusUpdate, b.messages()[0].Type)
}

func TestHub_AddRemoveIdempotent(t *testing.T) {
	h := NewHub()
	a := newMemSub("a")
	h.Add(a)
	h.Add(a)
	assert.Equal(t, 1, h.Len())
	assert.Len(t, a.messages(), 1)

	h.Remove(a)
	h.Remove(a)
	assert.Equal(t, 0, h.Len())

	h.StatusUpdate(domain.BotPrimary)
	assert.Len(t, a.messages(), 1)
}

func TestHub_PublishSkipsClosedAndFailing(t *testing.T) {
	h := NewHub()
	open := newMemSub("open")
	closed := newMemSub("closed")
	broken := newMemSub("broken")
	for _, s := range []*memSub{open, closed, broken} {
		h.Add(s)
	}
	closed.setOpen(false)
	broken.err = errors.New("write: broken pipe")

	h.Console(domain.BotPrimary, "Bot has spawned!", domain.SeverityInfo)

	msgs := open.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, events.TypeConsole, msgs[1].Type)
	assert.Equal(t, domain.BotPrimary, msgs[1].Bot)
	assert.Equal(t, "Bot has spawned!", msgs[1].Message)
	assert.Len(t, closed.messages(), 1)
	assert.Equal(t, 3, h.Len(), "failed sends do not unregister")
}

func TestHub_RecentWindowIsCapped(t *testing.T) {
	h := NewHub()
	for i := 0; i < RecentLogLimit+25; i++ {
		h.Console(domain.BotPrimary, fmt.Sprintf("line %d", i), domain.SeverityInfo)
	}
	for i := 0; i < RecentEventLimit+3; i++ {
		h.Event(domain.BotPrimary, domain.Event{ID: fmt.Sprint(i), Title: "Status update"})
	}

	logs, evs := h.Recent(domain.BotPrimary)
	require.Len(t, logs, RecentLogLimit)
	assert.Equal(t, "line 25", logs[0].Message)
	assert.Equal(t, fmt.Sprintf("line %d", RecentLogLimit+24), logs[len(logs)-1].Message)
	require.Len(t, evs, RecentEventLimit)
	assert.Equal(t, "3", evs[0].ID)

	logs, evs = h.Recent(domain.BotSecondary)
	assert.Empty(t, logs)
	assert.Empty(t, evs)
}

func TestHub_LateJoinerReplay(t *testing.T) {
	h := NewHub()
	h.Console(domain.BotSecondary, "Bot configuration updated", domain.SeveritySystem)
	h.Event(domain.BotPrimary, domain.Event{ID: "e1", Title: "Bot connected"})
	h.Console(domain.BotPrimary, "Bot has spawned!", domain.SeverityInfo)

	late := newMemSub("late")
	h.Add(late)
	msgs := late.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, events.TypeStatusUpdate, msgs[0].Type)
	assert.Equal(t, domain.BotPrimary, msgs[1].Bot)
	assert.Equal(t, events.TypeConsole, msgs[1].Type)
	assert.Equal(t, events.TypeEvent, msgs[2].Type)
	assert.Equal(t, "e1", msgs[2].Event.ID)
	assert.Equal(t, domain.BotSecondary, msgs[3].Bot)
}

func TestHub_ConcurrentPublishAndMembership(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s := newMemSub(fmt.Sprintf("s%d", i))
			h.Add(s)
			h.Remove(s)
		}(i)
		go func() {
			defer wg.Done()
			h.StatusUpdate(domain.BotPrimary)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Len())
}

func TestHub_ReplayKeepsRecordedTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)
	now := at
	h := NewHub(WithNow(func() time.Time { return now }))

	live := newMemSub("live")
	h.Add(live)
	h.Console(domain.BotPrimary, "hello", domain.SeverityInfo)

	logs, _ := h.Recent(domain.BotPrimary)
	require.Len(t, logs, 1)
	assert.Equal(t, at.Format(domain.ClockLayout), logs[0].Timestamp)
	require.Len(t, live.messages(), 2)
	assert.Equal(t, logs[0].Timestamp, live.messages()[1].Timestamp)

	now = at.Add(2 * time.Hour)
	late := newMemSub("late")
	h.Add(late)
	msgs := late.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, events.TypeConsole, msgs[1].Type)
	assert.Equal(t, "hello", msgs[1].Message)
	assert.Equal(t, logs[0].Timestamp, msgs[1].Timestamp)
}

func TestHub_MaxReplayMatchesFullWindows(t *testing.T) {
	h := NewHub()
	bots := []domain.BotLabel{domain.BotPrimary, domain.BotSecondary, "Third"}
	for _, b := range bots {
		for i := 0; i < RecentLogLimit+5; i++ {
			h.Console(b, fmt.Sprintf("line %d", i), domain.SeverityInfo)
		}
		for i := 0; i < RecentEventLimit+5; i++ {
			h.Event(b, domain.Event{ID: fmt.Sprint(i)})
		}
	}
	late := newMemSub("late")
	h.Add(late)
	assert.Len(t, late.messages(), MaxReplay(len(bots)))
}

func TestHub_JoinDuringPublishSeesEachLineOnce(t *testing.T) {
	h := NewHub()
	const lines = 50

	subs := make([]*memSub, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < lines; i++ {
			h.Console(domain.BotPrimary, fmt.Sprintf("line %d", i), domain.SeverityInfo)
		}
	}()
	for i := range subs {
		subs[i] = newMemSub(fmt.Sprintf("s%d", i))
		wg.Add(1)
		go func(s *memSub) {
			defer wg.Done()
			h.Add(s)
		}(subs[i])
	}
	wg.Wait()

	for _, s := range subs {
		seen := map[string]int{}
		for _, m := range s.messages() {
			if m.Type == events.TypeConsole {
				seen[m.Message]++
			}
		}
		assert.Len(t, seen, lines, "subscriber %s", s.id)
		for msg, n := range seen {
			assert.Equal(t, 1, n, "subscriber %s got %q twice", s.id, msg)
		}
	}
}
