package dispatch

import (
	"strconv"

	"stripled-controller/internal/core"
)

// Capabilities is the discovery document returned by the configure action.
type Capabilities struct {
	IP       string       `json:"ip"`
	MAC      string       `json:"mac"`
	Protocol string       `json:"protocol"`
	Port     string       `json:"port"`
	UUID     string       `json:"uuid"`
	Actions  []ActionSpec `json:"actions"`
}

// ActionSpec describes one action, its payload fields and its response envelope.
type ActionSpec struct {
	Action   core.Action          `json:"action"`
	Payload  map[string]FieldSpec `json:"payload"`
	Response map[string]FieldSpec `json:"response"`
}

// FieldSpec is a type hint for one field.
type FieldSpec struct {
	Type       string            `json:"type"`
	Value      string            `json:"value,omitempty"`
	Definition map[string]string `json:"definition,omitempty"`
}

func responseSpec() map[string]FieldSpec {
	return map[string]FieldSpec{
		"code": {
			Type:  "string",
			Value: "[200, 400, 404]",
			Definition: map[string]string{
				core.CodeOK:         "ok",
				core.CodeBadRequest: "invalid payload",
				core.CodeNotFound:   "unknown action",
			},
		},
		"actionCalled": {Type: "string"},
		"payload":      {Type: "string"},
	}
}

func channelSpec() FieldSpec {
	return FieldSpec{Type: "integer", Value: "[0,255]"}
}

func (d *Dispatcher) capabilities() Capabilities {
	info := d.net.Info()

	var actions []ActionSpec
	for _, a := range []core.Action{
		core.ActionPing,
		core.ActionStatus,
		core.ActionConfigure,
		core.ActionRestart,
		core.ActionReset,
		core.ActionLightOn,
		core.ActionLightOff,
	} {
		actions = append(actions, ActionSpec{Action: a, Response: responseSpec()})
	}
	actions = append(actions, ActionSpec{
		Action: core.ActionChangeColor,
		Payload: map[string]FieldSpec{
			"red":   channelSpec(),
			"green": channelSpec(),
			"blue":  channelSpec(),
		},
		Response: responseSpec(),
	})

	return Capabilities{
		IP:       info.IP,
		MAC:      info.MAC,
		Protocol: "mqtt",
		Port:     strconv.Itoa(d.cfg.MQTTPort),
		UUID:     d.cfg.UUID,
		Actions:  actions,
	}
}
