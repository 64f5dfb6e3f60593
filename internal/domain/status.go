package domain

// Activity 面板上展示的活动状态
type Activity string

const (
	ActivityInactive     Activity = "Inactive"
	ActivityConnecting   Activity = "Connecting"
	ActivityActive       Activity = "Active"
	ActivityDisconnected Activity = "Disconnected"
	ActivityKicked       Activity = "Kicked"
)

const (
	// Never is rendered for timestamps that were never stamped.
	Never = "Never"
	// ZeroUptime is the uptime of a bot that has not been up yet.
	ZeroUptime = "0h 0m 0s"
)

// StatusSnapshot is a read-only copy of a supervisor's status.
// Server is the "server reachable" flag.
type StatusSnapshot struct {
	Connected         bool     `json:"connected"`
	Server            bool     `json:"server"`
	ServerAddress     string   `json:"serverAddress"`
	Uptime            string   `json:"uptime"`
	ReconnectAttempts int      `json:"reconnectAttempts"`
	LastReconnectTime string   `json:"lastReconnectTime"`
	LastRestart       string   `json:"lastRestart"`
	Activity          Activity `json:"activity"`
	LastAction        string   `json:"lastAction"`
}

// InitialStatus is the status of a bot that was never started.
func InitialStatus() StatusSnapshot {
	return StatusSnapshot{
		Uptime:            ZeroUptime,
		LastReconnectTime: Never,
		LastRestart:       Never,
		Activity:          ActivityInactive,
		LastAction:        "None",
	}
}
