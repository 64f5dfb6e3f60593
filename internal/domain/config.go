package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionConfig 单个 bot 的连接配置（整体替换，不做字段级合并）
type ConnectionConfig struct {
	Host     string `json:"host" yaml:"host" binding:"required,min=1"`
	Port     int    `json:"port" yaml:"port" binding:"required,gt=0,lte=65535"`
	Username string `json:"username" yaml:"username" binding:"required,min=1"`
	Version  string `json:"version" yaml:"version" binding:"required,min=1"`
	Password string `json:"password" yaml:"password"`
}

// ValidationError reports a rejected configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the shape of the configuration.
func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return &ValidationError{Field: "host", Reason: "is required"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &ValidationError{Field: "port", Reason: "must be between 1 and 65535"}
	}
	if strings.TrimSpace(c.Username) == "" {
		return &ValidationError{Field: "username", Reason: "is required"}
	}
	if strings.TrimSpace(c.Version) == "" {
		return &ValidationError{Field: "version", Reason: "is required"}
	}
	return nil
}

// Address returns host:port as shown on the dashboard.
func (c ConnectionConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Redacted returns a copy safe to hand to external callers.
func (c ConnectionConfig) Redacted() ConnectionConfig {
	c.Password = ""
	return c
}

// BotLabel identifies a bot instance. The set of labels is fixed at startup.
type BotLabel string

const (
	BotPrimary   BotLabel = "Primary"
	BotSecondary BotLabel = "Secondary"
)

func (l BotLabel) String() string { return string(l) }
