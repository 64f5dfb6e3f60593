package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/supervisor"
	"github.com/betbot/botvisor/internal/supervisor/supervisortest"
)

type fixture struct {
	reg       *Registry
	primary   *supervisortest.FakeDialer
	secondary *supervisortest.FakeDialer
	clock     *supervisortest.FakeClock
	pub       *supervisortest.Publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		primary:   &supervisortest.FakeDialer{},
		secondary: &supervisortest.FakeDialer{},
		clock:     supervisortest.NewFakeClock(time.Unix(1700000000, 0)),
		pub:       &supervisortest.Publisher{},
	}
	p := NewInstance(domain.BotPrimary,
		domain.ConnectionConfig{Host: "mc.example.com", Port: 25565, Username: "bot1", Version: "1.20"},
		supervisor.Options{Dialer: f.primary, Publisher: f.pub, Clock: f.clock})
	s := NewInstance(domain.BotSecondary,
		domain.ConnectionConfig{Host: "mc2.example.com", Port: 25565, Username: "bot2", Version: "1.21"},
		supervisor.Options{Dialer: f.secondary, Publisher: f.pub, Clock: f.clock})

	reg, err := NewRegistry(domain.BotPrimary, f.pub, p, s)
	require.NoError(t, err)
	f.reg = reg
	return f
}

func TestNewRegistry_Validation(t *testing.T) {
	d := &supervisortest.FakeDialer{}
	a := NewInstance("A", domain.ConnectionConfig{}, supervisor.Options{Dialer: d})
	dup := NewInstance("A", domain.ConnectionConfig{}, supervisor.Options{Dialer: d})

	_, err := NewRegistry("A", nil)
	assert.Error(t, err)

	_, err = NewRegistry("A", nil, a, dup)
	assert.Error(t, err)

	_, err = NewRegistry("B", nil, a)
	assert.ErrorIs(t, err, ErrUnknownBot)
}

func TestRegistry_LabelsAndGet(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []domain.BotLabel{domain.BotPrimary, domain.BotSecondary}, f.reg.Labels())
	assert.Equal(t, domain.BotPrimary, f.reg.ActiveLabel())

	inst, err := f.reg.Get(domain.BotSecondary)
	require.NoError(t, err)
	assert.Equal(t, domain.BotSecondary, inst.Label())

	_, err = f.reg.Get("Tertiary")
	assert.ErrorIs(t, err, ErrUnknownBot)
}

func TestRegistry_SwitchRoutesCommandsOnly(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.reg.Start())
	f.primary.Last().Ready()
	require.Equal(t, 1, f.primary.Count())

	assert.False(t, f.reg.SetActive("Tertiary"))
	assert.Equal(t, domain.BotPrimary, f.reg.ActiveLabel())

	require.True(t, f.reg.SetActive(domain.BotSecondary))
	assert.True(t, f.pub.HasConsole("Switched active bot to Secondary"))

	// the previously active bot keeps its connection
	prim, _ := f.reg.Get(domain.BotPrimary)
	assert.True(t, prim.Status().Connected)
	assert.Equal(t, domain.ActivityActive, prim.Status().Activity)

	assert.False(t, f.reg.SendCommand("hello"), "secondary is not connected")
	assert.Empty(t, f.primary.Last().Sent())

	require.True(t, f.reg.Start())
	f.secondary.Last().Ready()
	require.True(t, f.reg.SendCommand("hello"))
	assert.Equal(t, []string{"hello"}, f.secondary.Last().Sent())
	assert.Empty(t, f.primary.Last().Sent())
	assert.True(t, prim.Status().Connected)
}

func TestRegistry_ConfigRouting(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.reg.SetActive(domain.BotSecondary))

	next := domain.ConnectionConfig{Host: "new.example.com", Port: 1234, Username: "bot9", Version: "1.20"}
	f.reg.SetConfig(next)
	assert.Equal(t, next, f.reg.Config())

	prim, _ := f.reg.Get(domain.BotPrimary)
	assert.Equal(t, "mc.example.com", prim.Config().Host)
}

func TestRegistry_SnapshotAndStopAll(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.reg.Start())
	f.reg.SetActive(domain.BotSecondary)
	require.True(t, f.reg.Start())
	f.secondary.Last().Close()
	require.Equal(t, 1, f.clock.Pending())

	snap := f.reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.BotPrimary, snap[0].Label)
	assert.False(t, snap[0].Active)
	assert.True(t, snap[0].Status.Connected)
	assert.True(t, snap[1].Active)
	assert.Equal(t, 1, snap[1].Status.ReconnectAttempts)

	f.reg.StopAll()
	assert.True(t, f.primary.Last().Terminated())
	assert.Equal(t, 0, f.clock.Pending())
	for _, st := range f.reg.Snapshot() {
		assert.False(t, st.Status.Connected)
	}
}
