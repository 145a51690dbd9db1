package core

import "encoding/json"

// Action names accepted on the inbound topic.
type Action string

const (
	ActionPing        Action = "ping"
	ActionStatus      Action = "status"
	ActionConfigure   Action = "configure"
	ActionRestart     Action = "restart"
	ActionReset       Action = "reset"
	ActionLightOn     Action = "lightOn"
	ActionLightOff    Action = "lightOff"
	ActionChangeColor Action = "changeColor"
)

// Response codes. They travel as strings on the wire for compatibility with existing consumers.
const (
	CodeOK         = "200"
	CodeBadRequest = "400"
	CodeNotFound   = "404"
)

// Request is an inbound command. Action stays raw so that non-string values can be echoed back.
type Request struct {
	Action  json.RawMessage `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the envelope published on the outbound topic.
type Response struct {
	Code         string `json:"code"`
	ActionCalled string `json:"actionCalled"`
	Payload      any    `json:"payload"`
}

// Message is a raw inbound message waiting to be dispatched by the control loop.
type Message struct {
	Topic   string
	Payload []byte
}
