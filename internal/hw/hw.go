// Package hw declares the device capabilities the controller drives, together with
// their Linux implementations. Tests use the fakes in package hwfake.
package hw

import "stripled-controller/internal/core"

// Channel is one of the three PWM color outputs.
type Channel int

const (
	Red Channel = iota
	Green
	Blue
)

func (c Channel) String() string {
	switch c {
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	}
	return "unknown"
}

// Pins reads buttons and drives the status LED.
type Pins interface {
	ReadPin(pin int) bool
	WritePin(pin int, high bool) error
}

// PWM drives the color channels.
type PWM interface {
	Setup(freqHz, resolutionBits int) error
	SetChannelDuty(ch Channel, duty uint8) error
}

// NetInfo describes the station interface once joined.
type NetInfo struct {
	IP  string
	MAC string
}

// Network joins WiFi networks or hosts the provisioning access point.
type Network interface {
	// Connect issues a join request and returns without waiting for the association.
	Connect(ssid, password string) error
	IsConnected() bool
	StartAccessPoint(ssid, password string) error
	Info() NetInfo
}

// Broker is the publish/subscribe transport.
type Broker interface {
	SetServer(host string, port int)
	Connect(clientID, username, password string) bool
	IsConnected() bool
	Subscribe(topic string) error
	Publish(topic string, payload []byte) error
	// Poll hands every queued inbound message to handle and returns how many were handled.
	Poll(handle func(core.Message)) int
}

// Device bundles every capability the agent needs.
type Device struct {
	Pins    Pins
	PWM     PWM
	Network Network
	Broker  Broker
}
