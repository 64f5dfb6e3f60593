package events

import (
	"github.com/betbot/botvisor/internal/domain"
)

// MessageType 推送给观察者的消息类型
type MessageType string

const (
	TypeConsole      MessageType = "console"
	TypeStatusUpdate MessageType = "statusUpdate"
	TypeEvent        MessageType = "event"
)

// Message is the envelope delivered to every observer. Bot carries the label
// of the emitting instance so one stream can serve every bot; a statusUpdate
// without a label asks the observer to refresh every bot.
type Message struct {
	Type        MessageType     `json:"type"`
	Bot         domain.BotLabel `json:"bot,omitempty"`
	Message     string          `json:"message,omitempty"`
	MessageType domain.Severity `json:"messageType,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"` // 控制台行的记录时间，回放时保持原值
	Event       *domain.Event   `json:"event,omitempty"`
}

// Console builds a console line envelope.
func Console(bot domain.BotLabel, msg string, sev domain.Severity) Message {
	return Message{Type: TypeConsole, Bot: bot, Message: msg, MessageType: sev}
}

// ConsoleEntry builds a console envelope from a recorded entry, keeping its
// timestamp.
func ConsoleEntry(bot domain.BotLabel, e domain.LogEntry) Message {
	m := Console(bot, e.Message, e.Severity)
	m.Timestamp = e.Timestamp
	return m
}

// StatusUpdate builds a refresh signal envelope.
func StatusUpdate(bot domain.BotLabel) Message {
	return Message{Type: TypeStatusUpdate, Bot: bot}
}

// RefreshAll builds a refresh signal for every bot.
func RefreshAll() Message {
	return Message{Type: TypeStatusUpdate}
}

// EventNotice builds an event envelope.
func EventNotice(bot domain.BotLabel, ev domain.Event) Message {
	return Message{Type: TypeEvent, Bot: bot, Event: &ev}
}
