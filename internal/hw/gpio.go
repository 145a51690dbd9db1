package hw

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	gpiod "github.com/warthog618/go-gpiocdev"
)

// GPIOPins implements Pins on a Linux GPIO character device.
type GPIOPins struct {
	mu      sync.Mutex
	chip    *gpiod.Chip
	outputs map[int]*gpiod.Line
	inputs  map[int]*gpiod.Line
	log     logrus.FieldLogger
}

// OpenGPIOPins requests the given output and input lines on chipName.
// Inputs are pulled up and, when activeLow is set, read as pressed while grounded.
func OpenGPIOPins(chipName string, outputs, inputs []int, activeLow bool, log logrus.FieldLogger) (*GPIOPins, error) {
	chip, err := gpiod.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", chipName, err)
	}

	g := &GPIOPins{
		chip:    chip,
		outputs: make(map[int]*gpiod.Line),
		inputs:  make(map[int]*gpiod.Line),
		log:     log.WithField("component", "gpio"),
	}

	for _, pin := range outputs {
		line, err := chip.RequestLine(pin, gpiod.AsOutput(0))
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("request output pin %d: %w", pin, err)
		}
		g.outputs[pin] = line
	}

	inOpts := []gpiod.LineReqOption{gpiod.AsInput}
	if activeLow {
		inOpts = append(inOpts, gpiod.WithPullUp, gpiod.AsActiveLow)
	} else {
		inOpts = append(inOpts, gpiod.WithPullDown)
	}
	for _, pin := range inputs {
		line, err := chip.RequestLine(pin, inOpts...)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("request input pin %d: %w", pin, err)
		}
		g.inputs[pin] = line
	}

	return g, nil
}

// ReadPin returns the logical level of an input line. Read failures count as low.
func (g *GPIOPins) ReadPin(pin int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	line, ok := g.inputs[pin]
	if !ok {
		return false
	}
	v, err := line.Value()
	if err != nil {
		g.log.WithError(err).WithField("pin", pin).Warn("read pin failed")
		return false
	}
	return v == 1
}

func (g *GPIOPins) WritePin(pin int, high bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	line, ok := g.outputs[pin]
	if !ok {
		return fmt.Errorf("output pin %d not requested", pin)
	}
	v := 0
	if high {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// Close releases every requested line and the chip.
func (g *GPIOPins) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for pin, line := range g.inputs {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input pin %d: %w", pin, err))
		}
	}
	for pin, line := range g.outputs {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output pin %d: %w", pin, err))
		}
	}
	g.inputs = map[int]*gpiod.Line{}
	g.outputs = map[int]*gpiod.Line{}

	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
