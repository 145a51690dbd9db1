// Package agent owns the controller state and runs the single control loop, either in
// operational or in provisioning mode.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"stripled-controller/internal/clock"
	"stripled-controller/internal/config"
	"stripled-controller/internal/core"
	"stripled-controller/internal/hw"
	"stripled-controller/internal/journal"
	"stripled-controller/internal/scheduler"
	"stripled-controller/internal/server"
	"stripled-controller/internal/supervisor"
)

// ErrRestart is returned by Run once a restart is due. The caller performs the restart.
var ErrRestart = errors.New("restart requested")

// ConfigStore persists the device Config.
type ConfigStore interface {
	Load() (config.Config, error)
	Save(config.Config) error
}

// Journal records bring-up outcomes.
type Journal interface {
	Record(journal.Entry) error
	Last() (journal.Entry, error)
}

// Options are the host-level parameters of the agent.
type Options struct {
	Title          string
	ClientID       string
	AccessPoint    supervisor.AccessPoint
	StatusPin      int
	Buttons        scheduler.Buttons
	LoopInterval   time.Duration
	HTTPListen     string
	StatusListen   string
	AllowedOrigins []string
	MDNS           bool
	MDNSInstance   string
	Routines       []config.Routine
}

// OptionsFromSettings maps the runtime settings onto agent options.
func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		Title:          s.Device.Name,
		ClientID:       s.Device.ClientID,
		AccessPoint:    supervisor.AccessPoint{SSID: s.AccessPoint.SSID, Password: s.AccessPoint.Password},
		StatusPin:      s.Pins.StatusLED,
		Buttons:        scheduler.Buttons{Restart: s.Pins.RestartButton, Reset: s.Pins.ResetButton},
		LoopInterval:   s.LoopInterval(),
		HTTPListen:     s.HTTP.Listen,
		StatusListen:   s.Status.Listen,
		AllowedOrigins: s.Status.AllowedOrigins,
		MDNS:           s.MDNS.Enabled,
		MDNSInstance:   s.MDNS.Instance,
		Routines:       s.Routines,
	}
}

// App is the state owned by the control loop.
type App struct {
	Config config.Config
	Conn   core.ConnectionState
}

// session is one mode of the control loop.
type session interface {
	step(now uint32) error
	close()
}

type Agent struct {
	opts    Options
	store   ConfigStore
	dev     hw.Device
	clk     clock.Clock
	journal Journal
	bus     *core.EventBus
	sup     *supervisor.Supervisor

	app App

	commands    chan core.Message
	submissions chan server.Submission
	restarts    chan struct{}

	log logrus.FieldLogger
}

// New creates an agent. journal may be nil.
func New(opts Options, store ConfigStore, dev hw.Device, clk clock.Clock, j Journal, bus *core.EventBus, log logrus.FieldLogger) *Agent {
	if opts.LoopInterval <= 0 {
		opts.LoopInterval = 10 * time.Millisecond
	}
	return &Agent{
		opts:        opts,
		store:       store,
		dev:         dev,
		clk:         clk,
		journal:     j,
		bus:         bus,
		sup:         supervisor.New(dev, clk, opts.AccessPoint, opts.ClientID, opts.StatusPin, log),
		commands:    make(chan core.Message, 8),
		submissions: make(chan server.Submission, 1),
		restarts:    make(chan struct{}, 1),
		log:         log.WithField("component", "agent"),
	}
}

// Run brings the device up and runs the control loop until ctx is done or a restart is
// due, in which case it returns ErrRestart.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.opts.StatusListen != "" {
		stop := a.startStatusFeed(ctx)
		defer stop()
	}

	a.bringUp(ctx)
	if ctx.Err() != nil {
		return nil
	}

	var (
		s   session
		err error
	)
	if a.app.Conn.Mode == core.ModeOperational {
		s, err = a.startOperational()
	} else {
		s, err = a.startProvisioning()
	}
	if err != nil {
		return err
	}
	defer s.close()

	ticker := time.NewTicker(a.opts.LoopInterval)
	defer ticker.Stop()

	a.log.WithField("mode", a.app.Conn.Mode).Info("control loop running")
	for {
		select {
		case <-ctx.Done():
			a.log.Info("control loop stopped")
			return nil
		case <-ticker.C:
			if err := s.step(a.clk.Millis()); err != nil {
				return err
			}
		}
	}
}

// bringUp loads the config and decides the mode.
func (a *Agent) bringUp(ctx context.Context) {
	cfg, err := a.store.Load()
	var out supervisor.Outcome
	if err != nil {
		a.log.WithError(err).Warn("config unavailable, device is unconfigured")
		cfg = config.Defaults()
		out = a.sup.Fallback(fmt.Errorf("load config: %w", err))
	} else {
		out = a.sup.BringUp(ctx, cfg)
	}

	a.app = App{Config: cfg, Conn: out.State}
	a.record(out.State)
	a.bus.Publish(core.Event{Type: core.ModeChangedEvent, Payload: modePayload(out.State)})
}

func (a *Agent) record(st core.ConnectionState) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Record(journal.EntryFrom(a.clk.Now(), st)); err != nil {
		a.log.WithError(err).Warn("journal write failed")
	}
}

// factoryReset writes the default config, keeping the device identity.
func (a *Agent) factoryReset() error {
	fresh := config.Defaults()
	fresh.UUID = a.app.Config.UUID
	if err := a.store.Save(fresh); err != nil {
		a.log.WithError(err).Error("factory reset: save defaults")
	} else {
		a.app.Config = fresh
		a.log.Warn("factory reset done")
	}
	return ErrRestart
}

func (a *Agent) startStatusFeed(ctx context.Context) func() {
	hub := server.NewHub(a.bus, a.commands, a.opts.StatusListen, a.opts.AllowedOrigins, a.log)
	go hub.Run(ctx)
	go func() {
		if err := hub.ListenAndServe(); err != nil {
			a.log.WithError(err).Error("status feed stopped")
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(shutdownCtx)
	}
}

func modePayload(st core.ConnectionState) map[string]any {
	p := map[string]any{
		"mode":          st.Mode.String(),
		"networkJoined": st.NetworkJoined,
		"brokerJoined":  st.BrokerJoined,
	}
	if st.Err != nil {
		p["error"] = st.Err.Error()
	}
	return p
}
