package server

import (
	"context"
	"fmt"
	"time"
)

func (s *Server) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS bot_configs (
  label TEXT PRIMARY KEY,
  host TEXT NOT NULL,
  port INTEGER NOT NULL,
  username TEXT NOT NULL,
  version TEXT NOT NULL,
  password TEXT NOT NULL DEFAULT '',
  current_version INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS bot_config_versions (
  label TEXT NOT NULL,
  version INTEGER NOT NULL,
  config_yaml TEXT NOT NULL,
  created_at TEXT NOT NULL,
  comment TEXT,
  PRIMARY KEY (label, version)
);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
