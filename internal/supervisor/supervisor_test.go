package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripled-controller/internal/clock"
	"stripled-controller/internal/config"
	"stripled-controller/internal/core"
	"stripled-controller/internal/hw"
	"stripled-controller/internal/hw/hwfake"
)

const statusPin = 4

type rig struct {
	pins    *hwfake.Pins
	pwm     *hwfake.PWM
	network *hwfake.Network
	broker  *hwfake.Broker
	clk     *clock.Fake
	sup     *Supervisor
}

func newRig() *rig {
	r := &rig{
		pins:    hwfake.NewPins(),
		pwm:     hwfake.NewPWM(),
		network: &hwfake.Network{},
		broker:  &hwfake.Broker{},
		clk:     clock.NewFake(0),
	}
	dev := hw.Device{Pins: r.pins, PWM: r.pwm, Network: r.network, Broker: r.broker}
	ap := AccessPoint{SSID: "strip-led-wifi-ssid", Password: "strip-led-wifi-passw"}
	r.sup = New(dev, r.clk, ap, "StripLedWifi", statusPin, logrus.New())
	return r
}

func validConfig() config.Config {
	cfg := config.Defaults()
	cfg.WifiSSID = "home"
	cfg.WifiPassword = "secret"
	cfg.MQTTHost = "broker.local"
	return cfg
}

func TestShortCredentialsSkipJoin(t *testing.T) {
	for _, tc := range []struct{ ssid, pass string }{
		{"", "secret"},
		{"h", "secret"},
		{"home", "s"},
		{"", ""},
	} {
		r := newRig()
		cfg := validConfig()
		cfg.WifiSSID, cfg.WifiPassword = tc.ssid, tc.pass

		out := r.sup.BringUp(context.Background(), cfg)

		assert.Equal(t, core.ModeProvisioning, out.State.Mode)
		assert.ErrorIs(t, out.State.Err, ErrNoCredentials)
		assert.Empty(t, r.network.Connects, "no join for %q/%q", tc.ssid, tc.pass)
		assert.Equal(t, "strip-led-wifi-ssid", r.network.APSSID)
	}
}

func TestOperationalBringUp(t *testing.T) {
	r := newRig()
	r.network.ConnectAfter = 3
	r.broker.FailConnects = 2

	out := r.sup.BringUp(context.Background(), validConfig())

	require.Equal(t, core.ModeOperational, out.State.Mode)
	assert.NoError(t, out.State.Err)
	assert.True(t, out.State.NetworkJoined)
	assert.True(t, out.State.BrokerJoined)

	assert.Equal(t, "broker.local", r.broker.Host)
	assert.Equal(t, 1883, r.broker.Port)
	assert.Equal(t, "StripLedWifi", r.broker.ClientID)
	assert.Equal(t, 3, r.broker.Attempts)
	assert.Equal(t, []string{"marvin/to/device"}, r.broker.Subscribed)

	assert.Equal(t, 12000, r.pwm.FreqHz)
	assert.Equal(t, 8, r.pwm.Bits)
	assert.Equal(t, []bool{true}, r.pins.Writes(statusPin))
	assert.Empty(t, r.network.APSSID)

	// 3 wifi polls and 2 broker retries.
	assert.Equal(t, 3*WifiInterval+2*BrokerInterval, r.clk.Slept())
}

func TestWifiTimeout(t *testing.T) {
	r := newRig()
	r.network.ConnectAfter = -1

	out := r.sup.BringUp(context.Background(), validConfig())

	assert.Equal(t, core.ModeProvisioning, out.State.Mode)
	assert.ErrorIs(t, out.State.Err, ErrWifiTimeout)
	assert.False(t, out.State.NetworkJoined)
	assert.Equal(t, 10*time.Second, r.clk.Slept())
	assert.Zero(t, r.broker.Attempts)
	assert.Equal(t, "strip-led-wifi-ssid", r.network.APSSID)
}

func TestBrokerTimeout(t *testing.T) {
	r := newRig()
	r.broker.FailConnects = -1

	out := r.sup.BringUp(context.Background(), validConfig())

	assert.Equal(t, core.ModeProvisioning, out.State.Mode)
	assert.ErrorIs(t, out.State.Err, ErrBrokerTimeout)
	assert.True(t, out.State.NetworkJoined)
	assert.Equal(t, BrokerAttempts, r.broker.Attempts)
	assert.Equal(t, 9*BrokerInterval, r.clk.Slept())
	assert.Zero(t, r.pwm.FreqHz)
}

func TestMessagingDisabled(t *testing.T) {
	r := newRig()
	cfg := validConfig()
	cfg.MQTTEnabled = false

	out := r.sup.BringUp(context.Background(), cfg)

	assert.Equal(t, core.ModeOperational, out.State.Mode)
	assert.False(t, out.State.BrokerJoined)
	assert.Zero(t, r.broker.Attempts)
}

func TestShortSubscribeTopicIsSkipped(t *testing.T) {
	r := newRig()
	cfg := validConfig()
	cfg.MQTTSubscribeChannel = "x"

	out := r.sup.BringUp(context.Background(), cfg)

	assert.Equal(t, core.ModeOperational, out.State.Mode)
	assert.Empty(t, r.broker.Subscribed)
}

func TestPWMFailureFallsBack(t *testing.T) {
	r := newRig()
	r.pwm.SetupErr = errors.New("no pwmchip0")

	out := r.sup.BringUp(context.Background(), validConfig())

	assert.Equal(t, core.ModeProvisioning, out.State.Mode)
	assert.ErrorContains(t, out.State.Err, "no pwmchip0")
}

func TestCancelledBringUp(t *testing.T) {
	r := newRig()
	r.network.ConnectAfter = -1
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := r.sup.BringUp(ctx, validConfig())

	assert.Equal(t, core.ModeProvisioning, out.State.Mode)
	assert.ErrorIs(t, out.State.Err, context.Canceled)
}

func TestReconnectResubscribes(t *testing.T) {
	r := newRig()
	r.broker.SetServer("broker.local", 1883)

	require.True(t, r.sup.Reconnect(validConfig()))
	assert.Equal(t, []string{"marvin/to/device"}, r.broker.Subscribed)
}

func TestFallback(t *testing.T) {
	r := newRig()
	out := r.sup.Fallback(config.ErrNotFound)

	assert.Equal(t, core.ModeProvisioning, out.State.Mode)
	assert.ErrorIs(t, out.State.Err, config.ErrNotFound)
	assert.Empty(t, r.network.Connects)
	assert.Equal(t, "strip-led-wifi-ssid", r.network.APSSID)
}
