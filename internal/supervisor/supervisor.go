// Package supervisor brings the device up: it joins the WiFi network and the broker with
// bounded retries and decides between operational and provisioning mode.
package supervisor

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
)

const (
	WifiAttempts   = 20
	WifiInterval   = 500 * time.Millisecond
	BrokerAttempts = 10
	BrokerInterval = 5 * time.Second

	PWMFrequency  = 12000
	PWMResolution = 8
)

var (
	ErrNoCredentials = errors.New("wifi credentials not configured")
	ErrWifiTimeout   = errors.New("wifi connect timeout")
	ErrBrokerTimeout = errors.New("broker connect timeout")
)

// AccessPoint holds the fixed provisioning credentials.
type AccessPoint struct {
	SSID     string
	Password string
}

// Outcome is the result of one bring-up.
type Outcome struct {
	State core.ConnectionState
}

// Supervisor runs the bring-up sequence against the device capabilities.
type Supervisor struct {
	dev       hw.Device
	clk       clock.Clock
	ap        AccessPoint
	clientID  string
	statusPin int
	log       logrus.FieldLogger
}

func New(dev hw.Device, clk clock.Clock, ap AccessPoint, clientID string, statusPin int, log logrus.FieldLogger) *Supervisor {
	return &Supervisor{
		dev:       dev,
		clk:       clk,
		ap:        ap,
		clientID:  clientID,
		statusPin: statusPin,
		log:       log.WithField("component", "supervisor"),
	}
}

// BringUp always terminates in a mode. Any failure falls back to provisioning, with the
// cause recorded in the returned state.
func (s *Supervisor) BringUp(ctx context.Context, cfg config.Config) Outcome {
	state := core.ConnectionState{Mode: core.ModeProvisioning}

	if !cfg.HasWifiCredentials() {
		state.Err = ErrNoCredentials
		return s.provision(state)
	}

	if err := s.joinNetwork(ctx, cfg); err != nil {
		state.Err = err
		return s.provision(state)
	}
	state.NetworkJoined = true

	if cfg.MQTTEnabled {
		if err := s.joinBroker(ctx, cfg); err != nil {
			state.Err = err
			return s.provision(state)
		}
		state.BrokerJoined = true
	}

	if err := s.dev.PWM.Setup(PWMFrequency, PWMResolution); err != nil {
		state.Err = fmt.Errorf("pwm setup: %w", err)
		return s.provision(state)
	}
	if err := s.dev.Pins.WritePin(s.statusPin, true); err != nil {
		s.log.WithError(err).Warn("status led")
	}

	state.Mode = core.ModeOperational
	s.log.WithFields(logrus.Fields{"broker": state.BrokerJoined}).Info("operational")
	return Outcome{State: state}
}

func (s *Supervisor) joinNetwork(ctx context.Context, cfg config.Config) error {
	log := s.log.WithField("ssid", cfg.WifiSSID)
	log.Info("joining wifi")

	if err := s.dev.Network.Connect(cfg.WifiSSID, cfg.WifiPassword); err != nil {
		log.WithError(err).Warn("join request failed")
	}
	for attempt := 1; attempt <= WifiAttempts; attempt++ {
		if s.dev.Network.IsConnected() {
			log.WithField("ip", s.dev.Network.Info().IP).Info("wifi connected")
			return nil
		}
		if err := s.clk.Sleep(ctx, WifiInterval); err != nil {
			return err
		}
	}
	log.Warn("wifi connect timeout")
	return ErrWifiTimeout
}

// Reconnect performs one broker attempt and resubscribes. The control loop calls it when
// the session drops.
func (s *Supervisor) Reconnect(cfg config.Config) bool {
	if !s.dev.Broker.Connect(s.clientID, cfg.MQTTUsername, cfg.MQTTPassword) {
		return false
	}
	s.subscribe(cfg)
	return true
}

func (s *Supervisor) joinBroker(ctx context.Context, cfg config.Config) error {
	log := s.log.WithFields(logrus.Fields{"host": cfg.MQTTHost, "port": cfg.MQTTPort})
	s.dev.Broker.SetServer(cfg.MQTTHost, cfg.MQTTPort)

	for attempt := 1; attempt <= BrokerAttempts; attempt++ {
		log.WithField("attempt", attempt).Info("connecting to broker")
		if s.Reconnect(cfg) {
			return nil
		}
		if attempt == BrokerAttempts {
			break
		}
		if err := s.clk.Sleep(ctx, BrokerInterval); err != nil {
			return err
		}
	}
	log.Warn("broker connect timeout")
	return ErrBrokerTimeout
}

func (s *Supervisor) subscribe(cfg config.Config) {
	topic := cfg.MQTTSubscribeChannel
	if len(topic) <= 1 {
		return
	}
	if err := s.dev.Broker.Subscribe(topic); err != nil {
		s.log.WithError(err).WithField("topic", topic).Warn("subscribe failed")
	}
}

func (s *Supervisor) provision(state core.ConnectionState) Outcome {
	s.log.WithError(state.Err).Warn("falling back to provisioning")
	if err := s.dev.Network.StartAccessPoint(s.ap.SSID, s.ap.Password); err != nil {
		s.log.WithError(err).Error("access point failed")
	}
	return Outcome{State: state}
}

// Fallback enters provisioning directly, for a device whose configuration could not be read.
func (s *Supervisor) Fallback(err error) Outcome {
	return s.provision(core.ConnectionState{Mode: core.ModeProvisioning, Err: err})
}
