package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/betbot/botvisor/internal/domain"
)

// saveBotConfig 写入一个新版本并更新当前配置，返回新版本号
func (s *Server) saveBotConfig(ctx context.Context, label domain.BotLabel, cfg domain.ConnectionConfig, comment string) (int, error) {
	cfg, err := s.sealPassword(label, cfg)
	if err != nil {
		return 0, err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("marshal config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var max int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM bot_config_versions WHERE label=?`, string(label)).Scan(&max); err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	next := max + 1
	now := time.Now().Format(time.RFC3339Nano)

	var c *string
	if comment != "" {
		c = &comment
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO bot_config_versions (label, version, config_yaml, created_at, comment)
VALUES (?,?,?,?,?)
`, string(label), next, string(raw), now, c); err != nil {
		return 0, fmt.Errorf("insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO bot_configs (label, host, port, username, version, password, current_version, updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(label) DO UPDATE SET
  host=excluded.host,
  port=excluded.port,
  username=excluded.username,
  version=excluded.version,
  password=excluded.password,
  current_version=excluded.current_version,
  updated_at=excluded.updated_at
`, string(label), cfg.Host, cfg.Port, cfg.Username, cfg.Version, cfg.Password, next, now); err != nil {
		return 0, fmt.Errorf("upsert bot config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (s *Server) getBotConfig(ctx context.Context, label domain.BotLabel) (*BotConfigRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT label, host, port, username, version, password, current_version, updated_at
FROM bot_configs WHERE label=?
`, string(label))
	var (
		rec     BotConfigRecord
		l       string
		updated string
	)
	if err := row.Scan(&l, &rec.Config.Host, &rec.Config.Port, &rec.Config.Username, &rec.Config.Version, &rec.Config.Password, &rec.CurrentVersion, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Label = domain.BotLabel(l)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	if err := s.unsealPassword(rec.Label, &rec.Config); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Server) listBotConfigVersions(ctx context.Context, label domain.BotLabel, limit int) ([]BotConfigVersion, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT label, version, config_yaml, created_at, comment
FROM bot_config_versions
WHERE label=?
ORDER BY version DESC
LIMIT ?
`, string(label), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []BotConfigVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *Server) getBotConfigVersion(ctx context.Context, label domain.BotLabel, version int) (*BotConfigVersion, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT label, version, config_yaml, created_at, comment
FROM bot_config_versions
WHERE label=? AND version=?
`, string(label), version)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*BotConfigVersion, error) {
	var (
		v       BotConfigVersion
		l       string
		created string
		comment sql.NullString
	)
	if err := row.Scan(&l, &v.Version, &v.ConfigYAML, &created, &comment); err != nil {
		return nil, err
	}
	v.Label = domain.BotLabel(l)
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if comment.Valid {
		c := comment.String
		v.Comment = &c
	}
	var cfg domain.ConnectionConfig
	if err := yaml.Unmarshal([]byte(v.ConfigYAML), &cfg); err == nil {
		v.Config = &cfg
	}
	return &v, nil
}
