package bridge

import (
	"net/http"
	"net/url"
	"os"
	"strings"
)

// getProxyFromEnv 从环境变量获取代理 URL
func getProxyFromEnv() string {
	proxyVars := []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"}
	for _, v := range proxyVars {
		if proxy := strings.TrimSpace(os.Getenv(v)); proxy != "" {
			return proxy
		}
	}
	return ""
}

// proxyFunc 优先使用显式配置的代理，其次是环境变量；都没有则直连
func proxyFunc(explicit string) func(*http.Request) (*url.URL, error) {
	raw := strings.TrimSpace(explicit)
	if raw == "" {
		raw = getProxyFromEnv()
	}
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		bridgeLog.Warnf("解析代理 URL 失败: %v，将尝试直接连接", err)
		return nil
	}
	bridgeLog.Infof("使用代理连接 bridge: %s", u.Redacted())
	return http.ProxyURL(u)
}
