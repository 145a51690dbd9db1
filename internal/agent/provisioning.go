package agent

import (
	"context"
	"time"

	"stripled-controller/internal/config"
	"stripled-controller/internal/core"
	"stripled-controller/internal/scheduler"
	"stripled-controller/internal/server"
)

// provisioning blinks the status LED and serves the configuration form. Form submissions
// are applied here, on the loop, and schedule a restart.
type provisioning struct {
	a        *Agent
	timers   *scheduler.Scheduler
	srv      *server.Server
	unadvert func()
}

func (a *Agent) startProvisioning() (*provisioning, error) {
	p := &provisioning{
		a:      a,
		timers: scheduler.New(a.dev.Pins, a.opts.StatusPin, a.opts.Buttons, a.clk.Millis(), a.log),
	}

	page := server.Page{Title: a.opts.Title, Config: a.app.Config}
	if a.app.Conn.Err != nil {
		page.Error = a.app.Conn.Err.Error()
	}
	if a.journal != nil {
		if last, err := a.journal.Last(); err == nil && last.Error != "" {
			page.Error = last.Error
		}
	}

	if a.opts.HTTPListen != "" {
		p.srv = server.New(a.opts.HTTPListen, page, a.submissions, a.restarts, a.log)
		go func() {
			if err := p.srv.ListenAndServe(); err != nil {
				a.log.WithError(err).Error("provisioning server stopped")
			}
		}()
	}

	if a.opts.MDNS && a.opts.HTTPListen != "" {
		stop, err := server.Advertise(a.opts.MDNSInstance, a.opts.HTTPListen, a.app.Config.UUID, a.log)
		if err != nil {
			a.log.WithError(err).Warn("mdns unavailable")
		} else {
			p.unadvert = stop
		}
	}
	return p, nil
}

func (p *provisioning) step(now uint32) error {
	p.timers.Blink(now)

	select {
	case sub := <-p.a.submissions:
		cfg, err := p.apply(sub)
		sub.Reply <- server.SubmissionResult{Config: cfg, Err: err}
		if err == nil {
			p.timers.Request(core.DeferredRestart, now)
		}
	case <-p.a.restarts:
		p.timers.Request(core.DeferredRestart, now)
	case m := <-p.a.commands:
		p.a.log.WithField("topic", m.Topic).Debug("command ignored while provisioning")
	default:
	}

	if _, due := p.timers.Due(now); due {
		p.a.log.Info("restarting into new configuration")
		return ErrRestart
	}
	return nil
}

// apply merges the form into the current config and saves it.
func (p *provisioning) apply(sub server.Submission) (config.Config, error) {
	merged := p.a.app.Config.Merge(sub.Form)
	if err := p.a.store.Save(merged); err != nil {
		return config.Config{}, err
	}
	if saved, err := p.a.store.Load(); err == nil {
		merged = saved
	}
	p.a.app.Config = merged
	if p.srv != nil {
		p.srv.SetPage(server.Page{Title: p.a.opts.Title, Config: merged})
	}
	p.a.log.WithField("ssid", merged.WifiSSID).Info("configuration saved")
	return merged, nil
}

func (p *provisioning) close() {
	if p.unadvert != nil {
		p.unadvert()
	}
	if p.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.srv.Shutdown(ctx)
	}
}
