// Package scheduler runs the cooperative timers of the control loop: the status blink, the
// button debounce and the deferred restart and reset. Nothing here blocks; the loop calls
// in once per iteration with the current millisecond counter.
package scheduler

import (
	"github.com/sirupsen/logrus"

	"stripled-controller/internal/clock"
	"stripled-controller/internal/core"
	"stripled-controller/internal/hw"
)

const (
	BlinkInterval uint32 = 1000
	DeferredDelay uint32 = 5000
	ResetHold     uint32 = 5000
)

// Buttons are the input pins watched in operational mode.
type Buttons struct {
	Restart int
	Reset   int
}

// Deferred is a pending restart or reset.
type Deferred struct {
	Kind        core.DeferredKind
	RequestedAt uint32
}

// holdState tracks one button held down since a timestamp.
type holdState struct {
	pressed bool
	since   uint32
}

// Scheduler is owned by the control loop and is not safe for concurrent use.
type Scheduler struct {
	pins      hw.Pins
	statusPin int
	buttons   Buttons

	ledOn     bool
	lastBlink uint32

	pending     map[core.DeferredKind]Deferred
	resetHold   holdState
	restartDown bool

	log logrus.FieldLogger
}

func New(pins hw.Pins, statusPin int, buttons Buttons, now uint32, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		pins:      pins,
		statusPin: statusPin,
		buttons:   buttons,
		lastBlink: now,
		pending:   make(map[core.DeferredKind]Deferred),
		log:       log.WithField("component", "scheduler"),
	}
}

// Request schedules kind at now. A repeat request refreshes the timestamp.
func (s *Scheduler) Request(kind core.DeferredKind, now uint32) {
	if _, ok := s.pending[kind]; ok {
		s.log.WithField("action", kind).Debug("deferred action refreshed")
	} else {
		s.log.WithField("action", kind).Info("deferred action scheduled")
	}
	s.pending[kind] = Deferred{Kind: kind, RequestedAt: now}
}

func (s *Scheduler) Pending(kind core.DeferredKind) bool {
	_, ok := s.pending[kind]
	return ok
}

// Blink toggles the status LED every BlinkInterval.
func (s *Scheduler) Blink(now uint32) {
	if clock.Elapsed(now, s.lastBlink) < BlinkInterval {
		return
	}
	s.lastBlink = now
	s.ledOn = !s.ledOn
	if err := s.pins.WritePin(s.statusPin, s.ledOn); err != nil {
		s.log.WithError(err).Debug("status led")
	}
}

// PollButtons samples the restart and reset inputs. A restart press schedules a deferred
// restart on its leading edge. Holding reset for ResetHold requests an immediate reset,
// reported through Due.
func (s *Scheduler) PollButtons(now uint32) {
	down := s.pins.ReadPin(s.buttons.Restart)
	if down && !s.restartDown {
		s.log.Info("restart button pressed")
		s.Request(core.DeferredRestart, now)
	}
	s.restartDown = down

	if !s.pins.ReadPin(s.buttons.Reset) {
		if s.resetHold.pressed {
			s.log.Info("reset button released early")
		}
		s.resetHold = holdState{}
		return
	}
	if !s.resetHold.pressed {
		s.resetHold = holdState{pressed: true, since: now}
		s.log.Info("reset button held")
		return
	}
	if clock.Elapsed(now, s.resetHold.since) >= ResetHold {
		s.resetHold = holdState{}
		// Backdate so the reset is due right away.
		s.pending[core.DeferredReset] = Deferred{Kind: core.DeferredReset, RequestedAt: now - DeferredDelay}
	}
}

// Due returns the deferred action whose grace delay has elapsed and clears it. A due reset
// wins over a due restart since it restarts as well.
func (s *Scheduler) Due(now uint32) (core.DeferredKind, bool) {
	for _, kind := range []core.DeferredKind{core.DeferredReset, core.DeferredRestart} {
		d, ok := s.pending[kind]
		if !ok || clock.Elapsed(now, d.RequestedAt) < DeferredDelay {
			continue
		}
		delete(s.pending, kind)
		s.log.WithField("action", kind).Info("deferred action due")
		return kind, true
	}
	return 0, false
}
