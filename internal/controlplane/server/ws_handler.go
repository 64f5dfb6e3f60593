package server

import (
	"encoding/json"
	"net/http"

	gorillaws "github.com/gorilla/websocket"

	"github.com/betbot/botvisor/internal/broadcast"
	obsws "github.com/betbot/botvisor/internal/infrastructure/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 仪表盘与服务同源部署，不校验 Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS 升级为 websocket 并注册为广播观察者，直到连接关闭
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.beginStream() {
		writeError(w, http.StatusServiceUnavailable, "server closing")
		return
	}
	defer s.wg.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		serverLog.WithError(err).Debug("websocket upgrade failed")
		return
	}

	// Hub.Add 在 Run 启动写协程之前同步回放，缓冲区要能装下整段回放
	obs := obsws.NewObserverWithReplay(conn, broadcast.MaxReplay(len(s.cfg.Registry.Labels())))
	s.cfg.Hub.Add(obs)
	defer s.cfg.Hub.Remove(obs)
	serverLog.Debugf("observer %s connected from %s", obs.ID(), r.RemoteAddr)

	obs.Run(s.ctx, func(data []byte) {
		// 观察者端发来的消息只记录，不产生任何动作
		var v map[string]any
		if err := json.Unmarshal(data, &v); err != nil {
			serverLog.Debugf("observer %s sent non-json message", obs.ID())
			return
		}
		serverLog.WithField("observer", obs.ID()).Debugf("received message: %v", v)
	})
	serverLog.Debugf("observer %s disconnected", obs.ID())
}
