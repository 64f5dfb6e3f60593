package server

import (
	"time"

	"github.com/betbot/botvisor/internal/domain"
)

type BotConfigVersion struct {
	Label      domain.BotLabel `json:"label"`
	Version    int             `json:"version"`
	ConfigYAML string          `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
	Comment    *string         `json:"comment,omitempty"`
	// Config 解析后的配置，对外返回前会清空密码
	Config *domain.ConnectionConfig `json:"config,omitempty"`
}
