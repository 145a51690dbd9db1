package hw

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

// SysfsPWM implements PWM through /sys/class/pwm.
type SysfsPWM struct {
	root     string
	chip     int
	channels map[Channel]int
	periodNs int64
	maxDuty  int64
	log      logrus.FieldLogger
}

// NewSysfsPWM maps the color channels to outputs of pwmchip<chip>.
func NewSysfsPWM(chip, red, green, blue int, log logrus.FieldLogger) *SysfsPWM {
	return &SysfsPWM{
		root:     "/sys/class/pwm",
		chip:     chip,
		channels: map[Channel]int{Red: red, Green: green, Blue: blue},
		log:      log.WithField("component", "pwm"),
	}
}

func (p *SysfsPWM) chipPath() string {
	return filepath.Join(p.root, fmt.Sprintf("pwmchip%d", p.chip))
}

func (p *SysfsPWM) channelPath(ch Channel) string {
	return filepath.Join(p.chipPath(), fmt.Sprintf("pwm%d", p.channels[ch]))
}

// Setup exports every channel, programs the period and starts all channels dark.
func (p *SysfsPWM) Setup(freqHz, resolutionBits int) error {
	if freqHz <= 0 || resolutionBits <= 0 || resolutionBits > 16 {
		return fmt.Errorf("invalid pwm setup: %d Hz, %d bits", freqHz, resolutionBits)
	}
	p.periodNs = int64(1e9) / int64(freqHz)
	p.maxDuty = int64(1)<<resolutionBits - 1

	for _, ch := range []Channel{Red, Green, Blue} {
		idx := p.channels[ch]
		if _, err := os.Stat(p.channelPath(ch)); errors.Is(err, os.ErrNotExist) {
			exportPath := filepath.Join(p.chipPath(), "export")
			if err := os.WriteFile(exportPath, []byte(strconv.Itoa(idx)), 0644); err != nil {
				p.log.WithError(err).WithField("channel", ch).Warn("pwm export failed (may already be exported)")
			}
		}
		if err := p.write(ch, "period", p.periodNs); err != nil {
			return fmt.Errorf("set %s period: %w", ch, err)
		}
		if err := p.write(ch, "duty_cycle", 0); err != nil {
			return fmt.Errorf("set %s duty: %w", ch, err)
		}
		if err := p.write(ch, "enable", 1); err != nil {
			return fmt.Errorf("enable %s: %w", ch, err)
		}
	}

	p.log.WithFields(logrus.Fields{"freq_hz": freqHz, "bits": resolutionBits}).Info("pwm initialized")
	return nil
}

// SetChannelDuty scales an 8-bit intensity to the channel period.
func (p *SysfsPWM) SetChannelDuty(ch Channel, duty uint8) error {
	if p.periodNs == 0 {
		return fmt.Errorf("pwm not set up")
	}
	if _, ok := p.channels[ch]; !ok {
		return fmt.Errorf("unknown channel %d", ch)
	}
	level := int64(duty)
	if level > p.maxDuty {
		level = p.maxDuty
	}
	ns := p.periodNs * level / p.maxDuty
	return p.write(ch, "duty_cycle", ns)
}

// Close disables every channel.
func (p *SysfsPWM) Close() error {
	var errs []error
	for _, ch := range []Channel{Red, Green, Blue} {
		if err := p.write(ch, "enable", 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *SysfsPWM) write(ch Channel, attr string, v int64) error {
	path := filepath.Join(p.channelPath(ch), attr)
	return os.WriteFile(path, []byte(strconv.FormatInt(v, 10)), 0644)
}
