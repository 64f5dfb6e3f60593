// Package apiclient is a typed HTTP client for the botvisor control API.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/botvisor/internal/bot"
	"github.com/betbot/botvisor/internal/domain"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

type Client struct {
	client *resty.Client
}

func NewClient(host string, timeout time.Duration) *Client {
	host = strings.TrimRight(host, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "botctl")
	return &Client{client: client}
}

// path 为空 label 时走 active bot 路由
func path(label domain.BotLabel, op string) string {
	if label == "" {
		return "/api/bot/" + op
	}
	return "/api/bots/" + url.PathEscape(string(label)) + "/" + op
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	rc := c.client.R().SetContext(ctx)
	if body != nil {
		rc.SetHeader("Content-Type", "application/json")
		rc.SetBody(body)
	}
	resp, err := rc.Execute(method, endpoint)
	return parseResponse(resp, err, out)
}

func parseResponse(resp *resty.Response, err error, out any) error {
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	if !resp.IsSuccess() {
		msg := strings.TrimSpace(string(resp.Body()))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if msg == "" {
			msg = resp.Status()
		}
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func (c *Client) Status(ctx context.Context, label domain.BotLabel) (domain.StatusSnapshot, error) {
	var st domain.StatusSnapshot
	err := c.do(ctx, http.MethodGet, path(label, "status"), nil, &st)
	return st, err
}

func (c *Client) Start(ctx context.Context, label domain.BotLabel) error {
	return c.do(ctx, http.MethodPost, path(label, "connect"), nil, nil)
}

func (c *Client) Stop(ctx context.Context, label domain.BotLabel) error {
	return c.do(ctx, http.MethodPost, path(label, "disconnect"), nil, nil)
}

func (c *Client) Restart(ctx context.Context, label domain.BotLabel) error {
	return c.do(ctx, http.MethodPost, path(label, "restart"), nil, nil)
}

// Say sends a chat line or slash command through the bot.
func (c *Client) Say(ctx context.Context, label domain.BotLabel, text string) error {
	return c.do(ctx, http.MethodPost, path(label, "command"), map[string]string{"command": text}, nil)
}

func (c *Client) Config(ctx context.Context, label domain.BotLabel) (domain.ConnectionConfig, error) {
	var cfg domain.ConnectionConfig
	err := c.do(ctx, http.MethodGet, path(label, "config"), nil, &cfg)
	return cfg, err
}

func (c *Client) SetConfig(ctx context.Context, label domain.BotLabel, cfg domain.ConnectionConfig) error {
	return c.do(ctx, http.MethodPost, path(label, "config"), cfg, nil)
}

type ActiveInfo struct {
	Active domain.BotLabel   `json:"active"`
	Bots   []domain.BotLabel `json:"bots"`
}

func (c *Client) Active(ctx context.Context) (ActiveInfo, error) {
	var out ActiveInfo
	err := c.do(ctx, http.MethodGet, "/api/bot/active", nil, &out)
	return out, err
}

func (c *Client) Switch(ctx context.Context, label domain.BotLabel) error {
	return c.do(ctx, http.MethodPost, "/api/bot/switch", map[string]string{"botType": string(label)}, nil)
}

type BotsList struct {
	Active domain.BotLabel `json:"active"`
	Bots   []bot.BotState  `json:"bots"`
}

func (c *Client) Bots(ctx context.Context) (BotsList, error) {
	var out BotsList
	err := c.do(ctx, http.MethodGet, "/api/bots", nil, &out)
	return out, err
}

// Logs returns the recent console window and events of a named bot.
func (c *Client) Logs(ctx context.Context, label domain.BotLabel) ([]domain.LogEntry, []domain.Event, error) {
	var out struct {
		Logs   []domain.LogEntry `json:"logs"`
		Events []domain.Event    `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "/api/bots/"+url.PathEscape(string(label))+"/logs", nil, &out)
	return out.Logs, out.Events, err
}
