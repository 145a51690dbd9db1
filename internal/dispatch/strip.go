package dispatch

import (
	"errors"
	"fmt"

	"stripled-controller/internal/core"
	"stripled-controller/internal/hw"
)

// Strip tracks the color last written to the PWM channels.
type Strip struct {
	pwm   hw.PWM
	state core.LightState
}

func NewStrip(pwm hw.PWM) *Strip {
	return &Strip{pwm: pwm}
}

func (s *Strip) State() core.LightState {
	return s.state
}

// Set writes all three channels. The tracked state follows the write even when one channel
// fails, so status reflects what was requested.
func (s *Strip) Set(l core.LightState) error {
	s.state = l
	var errs []error
	for _, ch := range []struct {
		c hw.Channel
		v uint8
	}{{hw.Red, l.R}, {hw.Green, l.G}, {hw.Blue, l.B}} {
		if err := s.pwm.SetChannelDuty(ch.c, ch.v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.c, err))
		}
	}
	return errors.Join(errs...)
}
