package bot

import (
	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/supervisor"
)

// Instance is one independently configured and supervised bot.
type Instance struct {
	label domain.BotLabel
	sup   *supervisor.Supervisor
}

// NewInstance builds an idle instance for label.
func NewInstance(label domain.BotLabel, cfg domain.ConnectionConfig, opts supervisor.Options) *Instance {
	return &Instance{
		label: label,
		sup:   supervisor.New(label, cfg, opts),
	}
}

func (i *Instance) Label() domain.BotLabel { return i.label }

// Supervisor exposes the underlying state machine.
func (i *Instance) Supervisor() *supervisor.Supervisor { return i.sup }

func (i *Instance) Start() bool                           { return i.sup.Start() }
func (i *Instance) Stop() bool                            { return i.sup.Stop() }
func (i *Instance) Restart() bool                         { return i.sup.Restart() }
func (i *Instance) SendCommand(text string) bool          { return i.sup.SendCommand(text) }
func (i *Instance) Config() domain.ConnectionConfig       { return i.sup.Config() }
func (i *Instance) SetConfig(cfg domain.ConnectionConfig) { i.sup.SetConfig(cfg) }
func (i *Instance) Status() domain.StatusSnapshot         { return i.sup.Status() }
