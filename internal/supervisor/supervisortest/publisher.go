package supervisortest

import (
	"strings"
	"sync"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/events"
)

// Publisher records every message in emission order.
type Publisher struct {
	mu   sync.Mutex
	msgs []events.Message
}

func (p *Publisher) Console(bot domain.BotLabel, msg string, sev domain.Severity) {
	p.add(events.Console(bot, msg, sev))
}

func (p *Publisher) StatusUpdate(bot domain.BotLabel) {
	p.add(events.StatusUpdate(bot))
}

func (p *Publisher) Event(bot domain.BotLabel, ev domain.Event) {
	p.add(events.EventNotice(bot, ev))
}

func (p *Publisher) add(m events.Message) {
	p.mu.Lock()
	p.msgs = append(p.msgs, m)
	p.mu.Unlock()
}

// Messages returns a copy of everything recorded.
func (p *Publisher) Messages() []events.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Message(nil), p.msgs...)
}

// Consoles returns the console lines in order.
func (p *Publisher) Consoles() []string {
	var out []string
	for _, m := range p.Messages() {
		if m.Type == events.TypeConsole {
			out = append(out, m.Message)
		}
	}
	return out
}

// HasConsole reports whether any console line contains substr.
func (p *Publisher) HasConsole(substr string) bool {
	for _, line := range p.Consoles() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// Events returns every domain event in order.
func (p *Publisher) Events() []domain.Event {
	var out []domain.Event
	for _, m := range p.Messages() {
		if m.Type == events.TypeEvent && m.Event != nil {
			out = append(out, *m.Event)
		}
	}
	return out
}

// LastEvent returns the most recent domain event.
func (p *Publisher) LastEvent() (domain.Event, bool) {
	evs := p.Events()
	if len(evs) == 0 {
		return domain.Event{}, false
	}
	return evs[len(evs)-1], true
}

// StatusUpdates counts statusUpdate messages.
func (p *Publisher) StatusUpdates() int {
	n := 0
	for _, m := range p.Messages() {
		if m.Type == events.TypeStatusUpdate {
			n++
		}
	}
	return n
}

// Reset drops everything recorded so far.
func (p *Publisher) Reset() {
	p.mu.Lock()
	p.msgs = nil
	p.mu.Unlock()
}
