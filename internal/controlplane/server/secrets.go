package server

import (
	"fmt"

	"github.com/betbot/botvisor/internal/domain"
)

// SecretStore holds bot passwords outside the SQLite store, e.g. *secretstore.Store.
type SecretStore interface {
	GetString(key string) (string, bool, error)
	SetString(key, val string) error
}

func passwordKey(label domain.BotLabel) string {
	return "bot/" + string(label) + "/password"
}

// sealPassword 把密码写入 secret store，返回去掉密码后的配置
func (s *Server) sealPassword(label domain.BotLabel, cfg domain.ConnectionConfig) (domain.ConnectionConfig, error) {
	if s.cfg.Secrets == nil {
		return cfg, nil
	}
	if err := s.cfg.Secrets.SetString(passwordKey(label), cfg.Password); err != nil {
		return cfg, fmt.Errorf("store password: %w", err)
	}
	cfg.Password = ""
	return cfg, nil
}

// unsealPassword 为空密码的配置补回 secret store 中的密码
func (s *Server) unsealPassword(label domain.BotLabel, cfg *domain.ConnectionConfig) error {
	if s.cfg.Secrets == nil || cfg.Password != "" {
		return nil
	}
	v, found, err := s.cfg.Secrets.GetString(passwordKey(label))
	if err != nil {
		return fmt.Errorf("load password: %w", err)
	}
	if found {
		cfg.Password = v
	}
	return nil
}
