package supervisor_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/supervisor"
	"github.com/betbot/botvisor/internal/supervisor/supervisortest"
)

var scenarioCfg = domain.ConnectionConfig{
	Host:     "mc.example.com",
	Port:     25565,
	Username: "bot1",
	Version:  "1.20",
	Password: "",
}

type harness struct {
	sup    *supervisor.Supervisor
	dialer *supervisortest.FakeDialer
	clock  *supervisortest.FakeClock
	pub    *supervisortest.Publisher
}

func newHarness(t *testing.T, cfg domain.ConnectionConfig) *harness {
	t.Helper()
	h := &harness{
		dialer: &supervisortest.FakeDialer{},
		clock:  supervisortest.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		pub:    &supervisortest.Publisher{},
	}
	h.sup = supervisor.New(domain.BotPrimary, cfg, supervisor.Options{
		Dialer:    h.dialer,
		Publisher: h.pub,
		Clock:     h.clock,
	})
	return h
}

func TestSupervisor_InitialStatus(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	st := h.sup.Status()
	assert.Equal(t, domain.InitialStatus(), st)
	assert.Equal(t, supervisor.StateIdle, h.sup.State())
}

func TestSupervisor_Scenario(t *testing.T) {
	h := newHarness(t, scenarioCfg)

	require.True(t, h.sup.Start())
	st := h.sup.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, domain.ActivityConnecting, st.Activity)
	assert.Equal(t, "mc.example.com:25565", st.ServerAddress)

	h.dialer.Last().Ready()
	st = h.sup.Status()
	assert.Equal(t, domain.ActivityActive, st.Activity)
	assert.Equal(t, 0, st.ReconnectAttempts)

	h.dialer.Last().Close()
	st = h.sup.Status()
	assert.False(t, st.Connected)
	assert.Equal(t, 1, st.ReconnectAttempts)
	assert.Equal(t, 1, h.clock.Pending())
	assert.Equal(t, supervisor.StateReconnectPending, h.sup.State())

	for i := 2; i <= 11; i++ {
		h.clock.Advance(5 * time.Second)
		require.Equal(t, i, h.dialer.Count(), "retry %d should have dialed", i-1)
		h.dialer.Last().Close()
		assert.Equal(t, i, h.sup.Status().ReconnectAttempts)

		if i == 5 {
			assert.Equal(t, 1, h.clock.Pending(), "a new attempt is still pending after 5 failures")
		}
		if i <= 10 {
			assert.Equal(t, 1, h.clock.Pending())
		}
	}

	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, supervisor.StateDisconnected, h.sup.State())
	assert.True(t, h.pub.HasConsole("Maximum reconnection attempts (10) reached. Giving up."))

	h.clock.Advance(time.Hour)
	assert.Equal(t, 11, h.dialer.Count(), "no further automatic start after exhaustion")

	// a manual start is still allowed
	require.True(t, h.sup.Start())
	assert.Equal(t, 12, h.dialer.Count())
}

func TestSupervisor_StopSuppressesReconnect(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	conn := h.dialer.Last()
	conn.Ready()

	require.True(t, h.sup.Stop())
	assert.True(t, conn.Terminated())
	st := h.sup.Status()
	assert.False(t, st.Connected)
	assert.Equal(t, domain.ActivityInactive, st.Activity)

	conn.Close()
	assert.True(t, h.pub.HasConsole("Manual disconnect detected - not attempting reconnection."))
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, 0, h.sup.Status().ReconnectAttempts)
	assert.Equal(t, supervisor.StateIdle, h.sup.State())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.Count())
}

func TestSupervisor_UnsolicitedEndSchedulesExactlyOneRetry(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	h.dialer.Last().Ready()
	h.dialer.Last().Close()

	assert.Equal(t, 1, h.clock.Pending())
	h.clock.Advance(4900 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.Count())
	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 2, h.dialer.Count())
	assert.True(t, h.pub.HasConsole("Attempting to reconnect..."))

	h.clock.Advance(30 * time.Second)
	assert.Equal(t, 2, h.dialer.Count())
}

func TestSupervisor_KickThenCloseCountsOnce(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	conn := h.dialer.Last()
	conn.Ready()

	conn.Kick("banned")
	ev, ok := h.pub.LastEvent()
	require.True(t, ok)
	conn.Close()

	st := h.sup.Status()
	assert.Equal(t, 1, st.ReconnectAttempts)
	assert.Equal(t, domain.ActivityKicked, st.Activity)
	assert.Equal(t, 1, h.clock.Pending())
	assert.True(t, h.pub.HasConsole("Bot was kicked from the server: banned"))
	assert.Equal(t, "Reconnection attempt", ev.Title)

	var kicked bool
	for _, e := range h.pub.Events() {
		if e.Description == "Kicked from server: banned" {
			kicked = true
		}
	}
	assert.True(t, kicked)
}

func TestSupervisor_AttemptsResetOnReady(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	h.dialer.Last().Close()
	h.clock.Advance(5 * time.Second)
	h.dialer.Last().Close()
	require.Equal(t, 2, h.sup.Status().ReconnectAttempts)

	h.clock.Advance(5 * time.Second)
	h.dialer.Last().Ready()
	assert.Equal(t, 0, h.sup.Status().ReconnectAttempts)

	h.dialer.Last().Close()
	assert.Equal(t, 1, h.sup.Status().ReconnectAttempts)
}

func TestSupervisor_AtMostOneLiveConnection(t *testing.T) {
	h := newHarness(t, scenarioCfg)

	ops := []string{
		"start", "start", "ready", "start", "stop", "stop", "start", "close",
		"start", "tick", "start", "restart", "start", "tick", "stop", "start", "kick", "tick",
	}
	for i, op := range ops {
		switch op {
		case "start":
			h.sup.Start()
		case "stop":
			h.sup.Stop()
		case "restart":
			h.sup.Restart()
		case "ready":
			h.dialer.Last().Ready()
		case "close":
			h.dialer.Last().Close()
		case "kick":
			h.dialer.Last().Kick("flying")
		case "tick":
			h.clock.Advance(6 * time.Second)
		}
		assert.LessOrEqual(t, h.dialer.Live(), 1, "step %d (%s)", i, op)
	}
}

func TestSupervisor_StartWhileRunningFails(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	assert.False(t, h.sup.Start())
	assert.Equal(t, 1, h.dialer.Count())
	assert.True(t, h.pub.HasConsole("Bot is already running"))
}

func TestSupervisor_StopWhenIdleFails(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	assert.False(t, h.sup.Stop())
	assert.True(t, h.pub.HasConsole("Bot is not running"))
}

func TestSupervisor_UptimeTruncates(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	h.dialer.Last().Ready()
	assert.Equal(t, "0h 0m 0s", h.sup.Status().Uptime)

	h.clock.Advance(61*time.Second + 900*time.Millisecond)
	assert.Equal(t, "0h 1m 1s", h.sup.Status().Uptime)

	require.True(t, h.sup.Stop())
	h.clock.Advance(time.Hour)
	assert.Equal(t, "0h 1m 1s", h.sup.Status().Uptime, "uptime holds while not connected")
}

func TestSupervisor_RestartIsAsynchronous(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	first := h.dialer.Last()
	first.Ready()

	assert.True(t, h.sup.Restart())
	assert.True(t, first.Terminated())
	assert.Equal(t, 1, h.dialer.Count())

	h.clock.Advance(999 * time.Millisecond)
	assert.Equal(t, 1, h.dialer.Count())
	h.clock.Advance(time.Millisecond)
	assert.Equal(t, 2, h.dialer.Count())
	assert.Equal(t, supervisor.StateConnecting, h.sup.State())
	assert.Equal(t, "0 seconds ago", h.sup.Status().LastRestart)

	// the terminated connection's end event must not touch the new one
	first.Close()
	st := h.sup.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, 0, h.clock.Pending())

	h.clock.Advance(90 * time.Second)
	assert.Equal(t, "1 minutes ago", h.sup.Status().LastRestart)
}

func TestSupervisor_RestartRejectedAfterManualStartKeepsStamp(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	h.dialer.Last().Ready()

	require.True(t, h.sup.Restart())
	h.clock.Advance(100 * time.Millisecond)
	require.True(t, h.sup.Start())
	require.Equal(t, 2, h.dialer.Count())

	h.pub.Reset()
	h.clock.Advance(900 * time.Millisecond)
	assert.Equal(t, 2, h.dialer.Count(), "delayed restart must not dial again")
	assert.True(t, h.pub.HasConsole("Bot is already running"))
	assert.Zero(t, h.pub.StatusUpdates())

	// stamped by the manual Start at +100ms, not by the rejected restart at +1s
	h.clock.Advance(950 * time.Millisecond)
	assert.Equal(t, "1 seconds ago", h.sup.Status().LastRestart)
}

func TestSupervisor_RestartWhenIdleStarts(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	assert.True(t, h.sup.Restart())
	assert.Equal(t, 0, h.dialer.Count())
	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.dialer.Count())
}

func TestSupervisor_StopCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	h.dialer.Last().Close()
	require.Equal(t, supervisor.StateReconnectPending, h.sup.State())

	assert.False(t, h.sup.Stop())
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, supervisor.StateDisconnected, h.sup.State())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.Count())
}

func TestSupervisor_StopCancelsPendingRestart(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	h.sup.Restart()
	h.sup.Stop()

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, h.dialer.Count())
}

func TestSupervisor_ManualStartCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	h.dialer.Last().Close()
	require.Equal(t, 1, h.clock.Pending())

	require.True(t, h.sup.Start())
	assert.Equal(t, 0, h.clock.Pending())
	h.clock.Advance(10 * time.Second)
	assert.Equal(t, 2, h.dialer.Count())
}

func TestSupervisor_LoginCommandMasksSecret(t *testing.T) {
	cfg := scenarioCfg
	cfg.Password = "haslo123"
	h := newHarness(t, cfg)
	require.True(t, h.sup.Start())
	conn := h.dialer.Last()
	conn.Ready()

	assert.Equal(t, []string{"/login haslo123"}, conn.Sent())
	assert.True(t, h.pub.HasConsole("Sending login command: /login ********"))
	for _, line := range h.pub.Consoles() {
		assert.False(t, strings.Contains(line, "haslo123"), line)
	}
}

func TestSupervisor_NoLoginWithoutSecret(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	h.dialer.Last().Ready()
	assert.Empty(t, h.dialer.Last().Sent())
}

func TestSupervisor_SendCommand(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	assert.False(t, h.sup.SendCommand("hello"))
	assert.True(t, h.pub.HasConsole("Cannot send command: Bot is not connected"))

	require.True(t, h.sup.Start())
	conn := h.dialer.Last()
	conn.Ready()
	require.True(t, h.sup.SendCommand("/spawn"))
	assert.Equal(t, []string{"/spawn"}, conn.Sent())
	assert.Equal(t, "Command: /spawn", h.sup.Status().LastAction)

	conn.FailSends(errors.New("broken pipe"))
	assert.False(t, h.sup.SendCommand("again"))
	assert.True(t, h.pub.HasConsole("Error sending command: broken pipe"))
	assert.Equal(t, "Command: /spawn", h.sup.Status().LastAction)
}

func TestSupervisor_SetConfigAppliesOnNextStart(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())

	next := domain.ConnectionConfig{Host: "other.example.com", Port: 25566, Username: "bot2", Version: "1.21"}
	h.sup.SetConfig(next)
	assert.Equal(t, next, h.sup.Config())
	assert.Equal(t, "mc.example.com:25565", h.sup.Status().ServerAddress)
	assert.True(t, h.pub.HasConsole("Bot configuration updated"))

	require.True(t, h.sup.Stop())
	require.True(t, h.sup.Start())
	assert.Equal(t, next, h.dialer.Last().Config)
	assert.Equal(t, "other.example.com:25566", h.sup.Status().ServerAddress)
}

func TestSupervisor_DialErrorRejectsStart(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	h.dialer.SetErr(errors.New("no route"))
	assert.False(t, h.sup.Start())
	assert.Equal(t, supervisor.StateIdle, h.sup.State())
	assert.False(t, h.sup.Status().Connected)
	assert.True(t, h.pub.HasConsole("Error starting bot: no route"))
	assert.Equal(t, 0, h.clock.Pending())
}

func TestSupervisor_ErrorEventLogsOnly(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	h.dialer.Last().Fail(errors.New("boom"))

	assert.Equal(t, supervisor.StateConnecting, h.sup.State())
	assert.True(t, h.sup.Status().Connected)
	assert.True(t, h.pub.HasConsole("An error occurred: boom"))
	assert.Equal(t, 0, h.clock.Pending())
}

func TestSupervisor_EventsDescribeStatus(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	ev, ok := h.pub.LastEvent()
	require.True(t, ok)
	assert.Equal(t, "Status update", ev.Title)
	assert.Equal(t, "Status: Connecting", ev.Description)
	assert.NotEmpty(t, ev.ID)

	h.dialer.Last().Ready()
	ev, _ = h.pub.LastEvent()
	assert.Equal(t, "Bot connected", ev.Title)
	assert.Equal(t, "Connected to mc.example.com:25565", ev.Description)

	h.dialer.Last().Close()
	ev, _ = h.pub.LastEvent()
	assert.Equal(t, "Reconnection attempt", ev.Title)
	assert.Equal(t, "Attempting to reconnect (try #1)", ev.Description)
}

func TestSupervisor_CloseCancelsEverything(t *testing.T) {
	h := newHarness(t, scenarioCfg)
	require.True(t, h.sup.Start())
	conn := h.dialer.Last()
	h.sup.Restart()
	h.clock.Advance(time.Second)
	require.Equal(t, 2, h.dialer.Count())

	h.sup.Close()
	assert.True(t, conn.Terminated())
	assert.True(t, h.dialer.Last().Terminated())
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, supervisor.StateIdle, h.sup.State())
}
