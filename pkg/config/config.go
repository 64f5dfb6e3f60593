package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/betbot/botvisor/internal/domain"
)

// BotConfig 花名册中的一个 bot
type BotConfig struct {
	Label                   domain.BotLabel `yaml:"label" json:"label"`
	domain.ConnectionConfig `yaml:",inline"`
}

// ReconnectConfig 自动重连策略
type ReconnectConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	Delay        time.Duration `yaml:"delay" json:"delay"`
	RestartDelay time.Duration `yaml:"restart_delay" json:"restart_delay"`
}

// BridgeConfig 游戏协议桥接客户端配置
type BridgeConfig struct {
	URLTemplate      string        `yaml:"url_template" json:"url_template"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	Proxy            string        `yaml:"proxy" json:"proxy"`
}

// APIConfig HTTP 控制接口配置；CommandLimit 为 0 表示不限流
type APIConfig struct {
	CommandLimit  int           `yaml:"command_limit" json:"command_limit"`
	CommandWindow time.Duration `yaml:"command_window" json:"command_window"`
}

// Config 应用配置
type Config struct {
	Active    domain.BotLabel `yaml:"active" json:"active"`
	Reconnect ReconnectConfig `yaml:"reconnect" json:"reconnect"`
	Bots      []BotConfig     `yaml:"bots" json:"bots"`
	Bridge    BridgeConfig    `yaml:"bridge" json:"bridge"`
	API       APIConfig       `yaml:"api" json:"api"`
}

const (
	DefaultURLTemplate      = "ws://{host}:{port}/bridge"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCommandWindow    = 10 * time.Second
)

// Default 返回内置的双 bot 花名册
func Default() *Config {
	return &Config{
		Active: domain.BotPrimary,
		Reconnect: ReconnectConfig{
			MaxAttempts:  10,
			Delay:        5 * time.Second,
			RestartDelay: time.Second,
		},
		Bots: []BotConfig{
			{
				Label: domain.BotPrimary,
				ConnectionConfig: domain.ConnectionConfig{
					Host:     "localhost",
					Port:     25565,
					Username: "Botvisor1",
					Version:  "1.20",
				},
			},
			{
				Label: domain.BotSecondary,
				ConnectionConfig: domain.ConnectionConfig{
					Host:     "pieseczkowomc2016.icsv.pl",
					Port:     25565,
					Username: "FOKIPOFMC1",
					Version:  "1.21",
				},
			},
		},
		Bridge: BridgeConfig{
			URLTemplate:      DefaultURLTemplate,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		API: APIConfig{CommandWindow: DefaultCommandWindow},
	}
}

// Load 加载配置文件；path 为空时使用默认配置。
// 之后应用环境变量覆盖并校验。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := loadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", path, err)
		}
		cfg = mergeDefaults(fileCfg)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &cfg, nil
}

// mergeDefaults 补齐文件中缺省的字段
func mergeDefaults(c *Config) *Config {
	def := Default()
	if len(c.Bots) == 0 {
		c.Bots = def.Bots
	}
	if c.Active == "" {
		c.Active = c.Bots[0].Label
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = def.Reconnect.MaxAttempts
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = def.Reconnect.Delay
	}
	if c.Reconnect.RestartDelay == 0 {
		c.Reconnect.RestartDelay = def.Reconnect.RestartDelay
	}
	if c.Bridge.URLTemplate == "" {
		c.Bridge.URLTemplate = def.Bridge.URLTemplate
	}
	if c.Bridge.HandshakeTimeout == 0 {
		c.Bridge.HandshakeTimeout = def.Bridge.HandshakeTimeout
	}
	if c.API.CommandWindow == 0 {
		c.API.CommandWindow = def.API.CommandWindow
	}
	return c
}

// PasswordEnvKey 返回某个 bot 的密码环境变量名，例如 BOTVISOR_PRIMARY_PASSWORD
func PasswordEnvKey(label domain.BotLabel) string {
	key := strings.ToUpper(strings.TrimSpace(string(label)))
	key = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, key)
	return "BOTVISOR_" + key + "_PASSWORD"
}

// applyEnv 密码可以只放在环境变量里，不写进配置文件
func (c *Config) applyEnv() {
	for i := range c.Bots {
		if v, ok := os.LookupEnv(PasswordEnvKey(c.Bots[i].Label)); ok {
			c.Bots[i].Password = v
		}
	}
	if v := os.Getenv("BOTVISOR_BRIDGE_URL"); v != "" {
		c.Bridge.URLTemplate = v
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Bots) == 0 {
		return errors.New("至少需要配置一个 bot")
	}
	seen := make(map[domain.BotLabel]struct{}, len(c.Bots))
	for i, b := range c.Bots {
		if strings.TrimSpace(string(b.Label)) == "" {
			return fmt.Errorf("bots[%d]: label 不能为空", i)
		}
		if _, dup := seen[b.Label]; dup {
			return fmt.Errorf("bots[%d]: label %q 重复", i, b.Label)
		}
		seen[b.Label] = struct{}{}
		if err := b.ConnectionConfig.Validate(); err != nil {
			return fmt.Errorf("bot %s: %w", b.Label, err)
		}
	}
	if _, ok := seen[c.Active]; !ok {
		return fmt.Errorf("active bot %q 不在 bots 列表中", c.Active)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts 不能为负数")
	}
	if c.Reconnect.Delay <= 0 {
		return errors.New("reconnect.delay 必须大于 0")
	}
	if c.Reconnect.RestartDelay <= 0 {
		return errors.New("reconnect.restart_delay 必须大于 0")
	}
	if c.Bridge.HandshakeTimeout <= 0 {
		return errors.New("bridge.handshake_timeout 必须大于 0")
	}
	if c.API.CommandLimit < 0 {
		return errors.New("api.command_limit 不能为负数")
	}
	if c.API.CommandLimit > 0 && c.API.CommandWindow <= 0 {
		return errors.New("api.command_window 必须大于 0")
	}
	return nil
}
