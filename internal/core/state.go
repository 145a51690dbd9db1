package core

import "fmt"

// Mode is the outcome of bring-up.
type Mode int

const (
	ModeProvisioning Mode = iota
	ModeOperational
)

func (m Mode) String() string {
	switch m {
	case ModeOperational:
		return "operational"
	case ModeProvisioning:
		return "provisioning"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ConnectionState is derived on every boot and never persisted.
type ConnectionState struct {
	NetworkJoined bool
	BrokerJoined  bool
	Mode          Mode
	// Err explains why bring-up fell back to provisioning.
	Err error
}

// LightState holds the three channel intensities of the strip.
type LightState struct {
	R, G, B uint8
}

// IsOn reports whether any channel is lit.
func (l LightState) IsOn() bool {
	return l.R > 0 || l.G > 0 || l.B > 0
}

// Hex formats the color as #RRGGBB.
func (l LightState) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", l.R, l.G, l.B)
}

var (
	LightOff = LightState{}
	LightOn  = LightState{R: 255, G: 255, B: 255}
)

// DeferredKind names an action executed after a grace delay.
type DeferredKind int

const (
	DeferredRestart DeferredKind = iota
	DeferredReset
)

func (k DeferredKind) String() string {
	switch k {
	case DeferredRestart:
		return "restart"
	case DeferredReset:
		return "reset"
	default:
		return fmt.Sprintf("deferred(%d)", int(k))
	}
}
