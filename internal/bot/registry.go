// Package bot holds the fixed set of bot instances and routes lifecycle
// operations to the active one.
package bot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/ports"
)

// ErrUnknownBot is returned for labels outside the configured set.
var ErrUnknownBot = errors.New("unknown bot")

var registryLog = logrus.WithField("component", "bot_registry")

// BotState is one row of Registry.Snapshot.
type BotState struct {
	Label  domain.BotLabel       `json:"label"`
	Active bool                  `json:"active"`
	Status domain.StatusSnapshot `json:"status"`
}

// Registry maps labels to instances. The set is fixed at construction.
type Registry struct {
	pub ports.Publisher

	mu     sync.RWMutex
	order  []domain.BotLabel
	bots   map[domain.BotLabel]*Instance
	active domain.BotLabel
}

// NewRegistry builds a registry over instances, in the given order. pub may
// be nil.
func NewRegistry(active domain.BotLabel, pub ports.Publisher, instances ...*Instance) (*Registry, error) {
	if len(instances) == 0 {
		return nil, errors.New("bot registry: no instances")
	}
	r := &Registry{
		pub:  pub,
		bots: make(map[domain.BotLabel]*Instance, len(instances)),
	}
	for _, inst := range instances {
		if _, dup := r.bots[inst.Label()]; dup {
			return nil, fmt.Errorf("bot registry: duplicate label %q", inst.Label())
		}
		r.bots[inst.Label()] = inst
		r.order = append(r.order, inst.Label())
	}
	if _, ok := r.bots[active]; !ok {
		return nil, fmt.Errorf("bot registry: active %q: %w", active, ErrUnknownBot)
	}
	r.active = active
	return r, nil
}

// Labels returns every label in configuration order.
func (r *Registry) Labels() []domain.BotLabel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.BotLabel(nil), r.order...)
}

// Get returns the instance for label.
func (r *Registry) Get(label domain.BotLabel) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.bots[label]
	if !ok {
		return nil, fmt.Errorf("%q: %w", label, ErrUnknownBot)
	}
	return inst, nil
}

// Active returns the instance commands are routed to.
func (r *Registry) Active() *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bots[r.active]
}

func (r *Registry) ActiveLabel() domain.BotLabel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActive changes the routing target. It never touches any instance's
// connection.
func (r *Registry) SetActive(label domain.BotLabel) bool {
	r.mu.Lock()
	if _, ok := r.bots[label]; !ok {
		r.mu.Unlock()
		registryLog.Warnf("switch to unknown bot %q rejected", label)
		return false
	}
	prev := r.active
	r.active = label
	r.mu.Unlock()

	if prev == label {
		return true
	}
	registryLog.Infof("active bot switched %s -> %s", prev, label)
	if r.pub != nil {
		r.pub.Console(label, fmt.Sprintf("Switched active bot to %s", label), domain.SeveritySystem)
		r.pub.StatusUpdate(label)
	}
	return true
}

// 以下操作全部路由到当前 active 实例，调用时不持有 registry 锁

func (r *Registry) Start() bool                           { return r.Active().Start() }
func (r *Registry) Stop() bool                            { return r.Active().Stop() }
func (r *Registry) Restart() bool                         { return r.Active().Restart() }
func (r *Registry) SendCommand(text string) bool          { return r.Active().SendCommand(text) }
func (r *Registry) Config() domain.ConnectionConfig       { return r.Active().Config() }
func (r *Registry) Status() domain.StatusSnapshot         { return r.Active().Status() }
func (r *Registry) SetConfig(cfg domain.ConnectionConfig) { r.Active().SetConfig(cfg) }

// Snapshot returns every bot's status in configuration order.
func (r *Registry) Snapshot() []BotState {
	r.mu.RLock()
	active := r.active
	insts := make([]*Instance, 0, len(r.order))
	for _, l := range r.order {
		insts = append(insts, r.bots[l])
	}
	r.mu.RUnlock()

	out := make([]BotState, 0, len(insts))
	for _, inst := range insts {
		out = append(out, BotState{
			Label:  inst.Label(),
			Active: inst.Label() == active,
			Status: inst.Status(),
		})
	}
	return out
}

// StopAll cancels pending timers and terminates every live connection.
func (r *Registry) StopAll() {
	for _, l := range r.Labels() {
		inst, err := r.Get(l)
		if err != nil {
			continue
		}
		inst.Supervisor().Close()
	}
}
