package server

import (
	"time"

	"github.com/betbot/botvisor/internal/domain"
)

// BotConfigRecord 持久化的 bot 连接配置
type BotConfigRecord struct {
	Label          domain.BotLabel         `json:"label"`
	Config         domain.ConnectionConfig `json:"config"`
	CurrentVersion int                     `json:"current_version"`
	UpdatedAt      time.Time               `json:"updated_at"`
}
