// Package supervisor owns the lifecycle of one persistent protocol connection:
// start, stop, restart, bounded reconnects and command dispatch.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/ports"
)

// Policy holds the fixed retry and restart timings.
type Policy struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	RestartDelay         time.Duration
}

// DefaultPolicy returns 10 attempts, 5s between attempts and a 1s restart delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxReconnectAttempts: 10,
		ReconnectDelay:       5 * time.Second,
		RestartDelay:         time.Second,
	}
}

// Recorder receives lifecycle measurements.
type Recorder interface {
	SetState(bot domain.BotLabel, state string, connected bool)
	ReconnectAttempt(bot domain.BotLabel)
	ReconnectExhausted(bot domain.BotLabel)
	Command(bot domain.BotLabel, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) SetState(domain.BotLabel, string, bool) {}
func (nopRecorder) ReconnectAttempt(domain.BotLabel)       {}
func (nopRecorder) ReconnectExhausted(domain.BotLabel)     {}
func (nopRecorder) Command(domain.BotLabel, bool)          {}

type nopPublisher struct{}

func (nopPublisher) Console(domain.BotLabel, string, domain.Severity) {}
func (nopPublisher) StatusUpdate(domain.BotLabel)                     {}
func (nopPublisher) Event(domain.BotLabel, domain.Event)              {}

// Options configures a Supervisor. Dialer is required.
type Options struct {
	Dialer    ports.Dialer
	Publisher ports.Publisher
	Clock     Clock
	Policy    Policy
	Recorder  Recorder
	Logger    *logrus.Entry
}

// Supervisor is safe for concurrent use. Every operation and every protocol
// callback is serialized by mu.
type Supervisor struct {
	label  domain.BotLabel
	dialer ports.Dialer
	pub    ports.Publisher
	clock  Clock
	policy Policy
	rec    Recorder
	log    *logrus.Entry

	mu      sync.Mutex
	cfg     domain.ConnectionConfig
	state   State
	conn    ports.Conn
	connCfg domain.ConnectionConfig
	// gen identifies the current connection; manualGen is the connection
	// whose end event must not trigger a reconnect.
	gen       uint64
	manualGen uint64

	status      domain.StatusSnapshot
	attempts    int
	startedAt   time.Time
	lastRestart time.Time
	kickReason  string

	retry        Timer
	retrySeq     uint64
	restartTimer Timer
	restartSeq   uint64
}

// New creates an idle supervisor for label.
func New(label domain.BotLabel, cfg domain.ConnectionConfig, opts Options) *Supervisor {
	if opts.Dialer == nil {
		panic("supervisor: nil Dialer")
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "supervisor")
	}
	s := &Supervisor{
		label:  label,
		dialer: opts.Dialer,
		pub:    opts.Publisher,
		clock:  opts.Clock,
		policy: opts.Policy,
		rec:    opts.Recorder,
		log:    opts.Logger.WithField("bot", string(label)),
		cfg:    cfg,
		state:  StateIdle,
		status: domain.InitialStatus(),
	}
	s.rec.SetState(label, s.state.String(), false)
	return s
}

// Label returns the bot label this supervisor was created for.
func (s *Supervisor) Label() domain.BotLabel { return s.label }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the stored configuration, secret included.
func (s *Supervisor) Config() domain.ConnectionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the configuration. A live connection keeps the
// configuration it was dialed with.
func (s *Supervisor) SetConfig(cfg domain.ConnectionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.console("Bot configuration updated", domain.SeveritySystem)
}

// Status returns a copy of the status with derived fields recomputed.
func (s *Supervisor) Status() domain.StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.status
}

// Start dials a new connection. It returns false if a connection already
// exists or the dial fails.
func (s *Supervisor) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

// Stop terminates the live connection and suppresses the reconnect its end
// event would otherwise trigger. With no live connection it returns false and
// cancels any pending reconnect.
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	s.cancelRestartLocked()
	if s.conn == nil {
		s.console("Bot is not running", domain.SeverityWarning)
		s.abandonRetryLocked()
		s.mu.Unlock()
		return false
	}
	conn := s.stopLocked()
	s.mu.Unlock()

	s.terminate(conn)
	return true
}

// Restart stops the bot if it is running and starts it again after the
// restart delay. It always returns true; completion is asynchronous.
func (s *Supervisor) Restart() bool {
	s.mu.Lock()
	s.console("Restarting bot", domain.SeveritySystem)
	var conn ports.Conn
	if s.conn != nil {
		conn = s.stopLocked()
	}
	s.cancelRestartLocked()
	seq := s.restartSeq
	s.restartTimer = s.clock.AfterFunc(s.policy.RestartDelay, func() { s.fireRestart(seq) })
	s.mu.Unlock()

	if conn != nil {
		s.terminate(conn)
	}
	return true
}

// SendCommand forwards text verbatim over the live connection.
func (s *Supervisor) SendCommand(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		s.console("Cannot send command: Bot is not connected", domain.SeverityError)
		s.rec.Command(s.label, false)
		return false
	}
	s.console("Sending command: "+text, domain.SeverityWarning)
	if err := s.conn.SendText(text); err != nil {
		s.console(fmt.Sprintf("Error sending command: %v", err), domain.SeverityError)
		s.rec.Command(s.label, false)
		return false
	}
	s.status.LastAction = "Command: " + text
	s.broadcastLocked()
	s.rec.Command(s.label, true)
	return true
}

// Close cancels pending timers and terminates any live connection.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.cancelRestartLocked()
	var conn ports.Conn
	if s.conn != nil {
		conn = s.stopLocked()
	} else {
		s.abandonRetryLocked()
	}
	s.mu.Unlock()

	if conn != nil {
		s.terminate(conn)
	}
}

func (s *Supervisor) startLocked() bool {
	next, eff := Transition(s.state, TriggerStart)
	if eff.Has(EffectReject) {
		s.console("Bot is already running", domain.SeverityWarning)
		return false
	}
	s.cancelRetryLocked()

	cfg := s.cfg
	s.console(fmt.Sprintf("Starting bot with config: %s@%s", cfg.Username, cfg.Address()), domain.SeveritySystem)
	gen := s.gen + 1
	conn, err := s.dialer.Dial(cfg, connHandler{s: s, gen: gen})
	if err != nil {
		s.console(fmt.Sprintf("Error starting bot: %v", err), domain.SeverityError)
		if s.state == StateReconnectPending {
			s.setState(StateDisconnected)
		}
		return false
	}

	s.gen = gen
	s.conn = conn
	s.connCfg = cfg
	s.kickReason = ""
	s.setState(next)
	if eff.Has(EffectStampStart) {
		now := s.clock.Now()
		s.startedAt = now
		s.lastRestart = now
	}
	s.status.Connected = true
	s.status.Server = true
	s.status.ServerAddress = cfg.Address()
	s.status.Uptime = domain.ZeroUptime
	s.broadcastLocked()
	return true
}

// stopLocked requires a live connection and returns it for termination
// outside the lock.
func (s *Supervisor) stopLocked() ports.Conn {
	next, eff := Transition(s.state, TriggerStop)
	s.console("Disconnecting bot", domain.SeveritySystem)
	conn := s.conn
	s.manualGen = s.gen
	if eff.Has(EffectClearConn) {
		s.conn = nil
	}
	s.setState(next)
	s.status.Connected = false
	s.status.Server = false
	s.broadcastLocked()
	return conn
}

func (s *Supervisor) terminate(conn ports.Conn) {
	if err := conn.Terminate(); err != nil {
		s.mu.Lock()
		s.console(fmt.Sprintf("Error stopping bot: %v", err), domain.SeverityError)
		s.mu.Unlock()
	}
}

func (s *Supervisor) fireRestart(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.restartSeq || s.restartTimer == nil {
		return
	}
	s.restartTimer = nil
	// 延迟期间已被手动 Start 时这里会被拒绝，保留原来的启动时间
	if !s.startLocked() {
		return
	}
	s.lastRestart = s.clock.Now()
	s.broadcastLocked()
}

func (s *Supervisor) fireRetry(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.retrySeq || s.state != StateReconnectPending {
		return
	}
	s.retry = nil
	s.console("Attempting to reconnect...", domain.SeveritySystem)
	s.startLocked()
}

func (s *Supervisor) current(gen uint64) bool {
	return gen == s.gen && s.conn != nil
}

func (s *Supervisor) onReady(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(gen) {
		s.log.Debug("ready from stale connection ignored")
		return
	}
	next, eff := Transition(s.state, TriggerReady)
	if eff.Has(EffectReject) {
		s.log.Debugf("ready ignored in state %s", s.state)
		return
	}

	s.console("Bot has spawned!", domain.SeverityInfo)
	s.setState(next)
	if pw := s.connCfg.Password; eff.Has(EffectAuthenticate) && pw != "" {
		s.console("Sending login command: /login "+MaskSecret(pw), domain.SeverityWarning)
		if err := s.conn.SendText("/login " + pw); err != nil {
			s.console(fmt.Sprintf("Error sending login command: %v", err), domain.SeverityError)
		}
	}
	if eff.Has(EffectResetAttempts) {
		s.attempts = 0
		s.status.ReconnectAttempts = 0
	}
	s.broadcastLocked()
}

func (s *Supervisor) onError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(gen) {
		s.log.WithError(err).Debug("error from stale connection")
		return
	}
	s.console(fmt.Sprintf("An error occurred: %v", err), domain.SeverityError)
}

func (s *Supervisor) onEnd(gen uint64, t Trigger, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t == TriggerKicked {
		s.console("Bot was kicked from the server: "+reason, domain.SeverityError)
	} else {
		s.console("Bot has disconnected from the server.", domain.SeveritySystem)
	}

	if !s.current(gen) {
		// the manual flag belongs to the connection that was stopped
		if gen != 0 && s.manualGen == gen {
			s.manualGen = 0
			s.console("Manual disconnect detected - not attempting reconnection.", domain.SeveritySystem)
		}
		return
	}

	next, eff := Transition(s.state, t)
	if eff.Has(EffectReject) {
		return
	}
	if eff.Has(EffectClearConn) {
		s.conn = nil
	}
	s.setState(next)
	s.kickReason = reason
	s.status.Connected = false
	s.status.Server = false
	if eff.Has(EffectBroadcast) {
		s.broadcastLocked()
	}
	if eff.Has(EffectReconnect) {
		s.reconnectLocked()
	}
}

func (s *Supervisor) reconnectLocked() {
	s.cancelRetryLocked()

	s.attempts++
	now := s.clock.Now()
	s.status.ReconnectAttempts = s.attempts
	s.status.LastReconnectTime = FormatClock(now)
	s.console(fmt.Sprintf("Reconnection attempt #%d", s.attempts), domain.SeverityWarning)
	s.rec.ReconnectAttempt(s.label)
	s.broadcastLocked()

	if s.attempts <= s.policy.MaxReconnectAttempts {
		seq := s.retrySeq
		s.retry = s.clock.AfterFunc(s.policy.ReconnectDelay, func() { s.fireRetry(seq) })
		next, _ := Transition(s.state, TriggerRetryScheduled)
		s.setState(next)
		return
	}

	s.console(fmt.Sprintf("Maximum reconnection attempts (%d) reached. Giving up.", s.policy.MaxReconnectAttempts), domain.SeverityError)
	s.rec.ReconnectExhausted(s.label)
	next, _ := Transition(s.state, TriggerRetryExhausted)
	s.setState(next)
}

// abandonRetryLocked cancels a pending reconnect. The instance stays down
// until a manual start.
func (s *Supervisor) abandonRetryLocked() {
	if s.state != StateReconnectPending {
		return
	}
	s.cancelRetryLocked()
	next, _ := Transition(s.state, TriggerRetryCancelled)
	s.setState(next)
	s.console("Pending reconnection cancelled", domain.SeveritySystem)
	s.broadcastLocked()
}

// cancelRetryLocked bumps the sequence so a callback that already fired and
// is waiting on mu becomes a no-op.
func (s *Supervisor) cancelRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.retrySeq++
}

func (s *Supervisor) cancelRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.restartSeq++
}

func (s *Supervisor) setState(next State) {
	s.state = next
	if a, ok := next.Activity(); ok {
		s.status.Activity = a
	}
	s.rec.SetState(s.label, next.String(), s.status.Connected && s.conn != nil)
}

func (s *Supervisor) refreshLocked() {
	now := s.clock.Now()
	if s.status.Connected && !s.startedAt.IsZero() {
		s.status.Uptime = FormatUptime(now.Sub(s.startedAt))
	}
	if !s.lastRestart.IsZero() {
		s.status.LastRestart = FormatAgo(now.Sub(s.lastRestart))
	}
	if s.conn != nil {
		s.status.ServerAddress = s.connCfg.Address()
	}
}

func (s *Supervisor) describeLocked() (title, description string) {
	st := s.status
	switch {
	case !st.Connected && s.attempts > 0:
		return "Reconnection attempt", fmt.Sprintf("Attempting to reconnect (try #%d)", s.attempts)
	case st.Connected && st.Activity == domain.ActivityActive:
		return "Bot connected", "Connected to " + st.ServerAddress
	case !st.Connected:
		if st.Activity == domain.ActivityKicked && s.kickReason != "" {
			return "Bot disconnected", "Kicked from server: " + s.kickReason
		}
		return "Bot disconnected", "Disconnected from server"
	default:
		return "Status update", fmt.Sprintf("Status: %s", st.Activity)
	}
}

func (s *Supervisor) broadcastLocked() {
	s.refreshLocked()
	title, desc := s.describeLocked()
	s.pub.StatusUpdate(s.label)
	s.pub.Event(s.label, domain.Event{
		ID:          uuid.NewString(),
		Title:       title,
		Description: desc,
		Timestamp:   FormatClock(s.clock.Now()),
	})
	s.rec.SetState(s.label, s.state.String(), s.status.Connected)
}

func (s *Supervisor) console(msg string, sev domain.Severity) {
	s.pub.Console(s.label, msg, sev)
	switch sev {
	case domain.SeverityWarning:
		s.log.Warn(msg)
	case domain.SeverityError:
		s.log.Error(msg)
	default:
		s.log.Info(msg)
	}
}

type connHandler struct {
	s   *Supervisor
	gen uint64
}

func (h connHandler) OnReady()               { h.s.onReady(h.gen) }
func (h connHandler) OnError(err error)      { h.s.onError(h.gen, err) }
func (h connHandler) OnClosed()              { h.s.onEnd(h.gen, TriggerClosed, "") }
func (h connHandler) OnKicked(reason string) { h.s.onEnd(h.gen, TriggerKicked, reason) }
