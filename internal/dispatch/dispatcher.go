// Package dispatch turns inbound command messages into light changes, deferred actions
// and response envelopes.
package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"stripled-controller/internal/clock"
	"stripled-controller/internal/config"
	"stripled-controller/internal/core"
	"stripled-controller/internal/hw"
)

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidPayload = errors.New("invalid payload")
)

// PayloadError explains why a command payload was rejected. It matches ErrInvalidPayload.
type PayloadError struct {
	Reason string
}

func (e *PayloadError) Error() string { return "invalid payload: " + e.Reason }

func (e *PayloadError) Is(target error) bool { return target == ErrInvalidPayload }

// Timers holds the deferred restart and reset requests.
type Timers interface {
	Request(kind core.DeferredKind, now uint32)
	Pending(kind core.DeferredKind) bool
}

// Publisher sends responses.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Dispatcher handles commands for one operational session.
type Dispatcher struct {
	cfg    config.Config
	strip  *Strip
	timers Timers
	out    Publisher
	net    hw.Network
	clk    clock.Clock
	bus    *core.EventBus
	log    logrus.FieldLogger
}

func New(cfg config.Config, strip *Strip, timers Timers, out Publisher, net hw.Network, clk clock.Clock, bus *core.EventBus, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		strip:  strip,
		timers: timers,
		out:    out,
		net:    net,
		clk:    clk,
		bus:    bus,
		log:    log.WithField("component", "dispatch"),
	}
}

// Handle adapts HandleMessage to the broker's Poll callback.
func (d *Dispatcher) Handle(m core.Message) {
	d.HandleMessage(m.Topic, m.Payload)
}

// HandleMessage publishes exactly one response, or none when the payload is not a JSON
// object with an action key.
func (d *Dispatcher) HandleMessage(topic string, payload []byte) {
	var req core.Request
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(payload, &keys); err != nil {
		d.log.WithError(err).WithField("topic", topic).Debug("dropping unparseable message")
		return
	}
	raw, ok := keys["action"]
	if !ok {
		d.log.WithField("topic", topic).Debug("dropping message without action")
		return
	}
	req.Action = raw
	req.Payload = keys["payload"]

	resp := d.execute(req)
	d.respond(resp)
}

func (d *Dispatcher) execute(req core.Request) core.Response {
	var name string
	if err := json.Unmarshal(req.Action, &name); err != nil {
		name = string(bytes.TrimSpace(req.Action))
		return d.notFound(name)
	}

	ok := func(payload any) core.Response {
		return core.Response{Code: core.CodeOK, ActionCalled: name, Payload: payload}
	}

	switch core.Action(name) {
	case core.ActionPing:
		return ok("pong")

	case core.ActionStatus:
		switch {
		case d.timers.Pending(core.DeferredRestart):
			return ok("Restart in progress")
		case d.strip.State().IsOn():
			return ok("1")
		default:
			return ok("0")
		}

	case core.ActionConfigure:
		return ok(d.capabilities())

	case core.ActionRestart:
		d.timers.Request(core.DeferredRestart, d.clk.Millis())
		return ok("Restart in progress")

	case core.ActionReset:
		d.timers.Request(core.DeferredReset, d.clk.Millis())
		return ok("Reset in progress")

	case core.ActionLightOn:
		d.setLight(core.LightOn)
		return ok("Light on")

	case core.ActionLightOff:
		d.setLight(core.LightOff)
		return ok("Light off")

	case core.ActionChangeColor:
		l, err := parseColor(req.Payload)
		if err != nil {
			d.log.WithError(err).Warn("rejected changeColor")
			return core.Response{Code: core.CodeBadRequest, ActionCalled: name, Payload: "Invalid payload: " + err.Reason}
		}
		d.setLight(l)
		return ok(fmt.Sprintf("Change color to %d,%d,%d", l.R, l.G, l.B))
	}

	return d.notFound(name)
}

func (d *Dispatcher) notFound(name string) core.Response {
	d.log.WithError(ErrUnknownAction).WithField("action", name).Info("action not found")
	return core.Response{
		Code:         core.CodeNotFound,
		ActionCalled: name,
		Payload:      fmt.Sprintf("Action %s not found!", name),
	}
}

func (d *Dispatcher) setLight(l core.LightState) {
	if err := d.strip.Set(l); err != nil {
		d.log.WithError(err).Error("pwm write failed")
	}
	d.bus.Publish(core.Event{Type: core.LightChangedEvent, Payload: lightPayload(l)})
}

func (d *Dispatcher) respond(resp core.Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		d.log.WithError(err).Error("encode response")
		return
	}
	if err := d.out.Publish(d.cfg.MQTTPublishChannel, body); err != nil {
		d.log.WithError(err).WithField("topic", d.cfg.MQTTPublishChannel).Warn("response not published")
	}
	d.bus.Publish(core.Event{Type: core.CommandHandledEvent, Payload: resp})
	d.log.WithFields(logrus.Fields{"action": resp.ActionCalled, "code": resp.Code}).Debug("command handled")
}

func lightPayload(l core.LightState) map[string]any {
	return map[string]any{"r": l.R, "g": l.G, "b": l.B, "hex": l.Hex(), "isOn": l.IsOn()}
}

// parseColor requires integer red, green and blue fields within 0..255.
func parseColor(raw json.RawMessage) (core.LightState, *PayloadError) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return core.LightState{}, &PayloadError{"missing payload"}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return core.LightState{}, &PayloadError{"payload must be an object"}
	}

	var out [3]uint8
	for i, key := range []string{"red", "green", "blue"} {
		v, ok := fields[key]
		if !ok {
			return core.LightState{}, &PayloadError{"missing " + key}
		}
		n, ok := v.(json.Number)
		if !ok {
			return core.LightState{}, &PayloadError{key + " must be an integer"}
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return core.LightState{}, &PayloadError{key + " must be an integer"}
		}
		if f < 0 || f > 255 {
			return core.LightState{}, &PayloadError{key + " out of range 0-255"}
		}
		out[i] = uint8(f)
	}
	return core.LightState{R: out[0], G: out[1], B: out[2]}, nil
}
