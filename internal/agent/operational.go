package agent

import (
	"stripled-controller/internal/core"
	"stripled-controller/internal/dispatch"
	"stripled-controller/internal/scheduler"
)

// operational serves commands from the broker and from routines, and watches the buttons.
type operational struct {
	a         *Agent
	timers    *scheduler.Scheduler
	strip     *dispatch.Strip
	disp      *dispatch.Dispatcher
	messaging *scheduler.Messaging
	routines  *scheduler.Routines
}

func (a *Agent) startOperational() (*operational, error) {
	cfg := a.app.Config
	o := &operational{
		a:      a,
		timers: scheduler.New(a.dev.Pins, a.opts.StatusPin, a.opts.Buttons, a.clk.Millis(), a.log),
		strip:  dispatch.NewStrip(a.dev.PWM),
	}
	o.disp = dispatch.New(cfg, o.strip, o.timers, a.dev.Broker, a.dev.Network, a.clk, a.bus, a.log)

	if cfg.MQTTEnabled {
		o.messaging = scheduler.NewMessaging(a.dev.Broker, func() bool { return a.sup.Reconnect(cfg) }, a.clk, a.log)
	}

	if len(a.opts.Routines) > 0 {
		o.routines = scheduler.NewRoutines(a.commands, a.log)
		for _, rt := range a.opts.Routines {
			if _, err := o.routines.Add(rt); err != nil {
				a.log.WithError(err).Warn("routine skipped")
			}
		}
		o.routines.Start()
	}
	return o, nil
}

func (o *operational) step(now uint32) error {
	if o.messaging != nil {
		o.messaging.Tick(o.disp.Handle)
	}

	for drained := false; !drained; {
		select {
		case m := <-o.a.commands:
			o.disp.Handle(m)
		default:
			drained = true
		}
	}

	o.timers.PollButtons(now)

	kind, due := o.timers.Due(now)
	if !due {
		return nil
	}
	switch kind {
	case core.DeferredReset:
		return o.a.factoryReset()
	default:
		o.a.log.Info("restarting")
		return ErrRestart
	}
}

func (o *operational) close() {
	if o.routines != nil {
		o.routines.Stop()
	}
	if err := o.strip.Set(core.LightOff); err != nil {
		o.a.log.WithError(err).Debug("light off on close")
	}
}
