package agent

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
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
	"stripled-controller/internal/journal"
	"stripled-controller/internal/scheduler"
	"stripled-controller/internal/server"
)

const (
	statusPin  = 4
	restartPin = 16
	resetPin   = 17
)

type harness struct {
	agent   *Agent
	store   *config.FileStore
	pins    *hwfake.Pins
	pwm     *hwfake.PWM
	network *hwfake.Network
	broker  *hwfake.Broker
	clk     *clock.Fake
	bus     *core.EventBus
}

func newHarness(t *testing.T, j Journal) *harness {
	t.Helper()
	h := &harness{
		store:   config.NewFileStore(filepath.Join(t.TempDir(), "config.json")),
		pins:    hwfake.NewPins(),
		pwm:     hwfake.NewPWM(),
		network: &hwfake.Network{},
		broker:  &hwfake.Broker{},
		clk:     clock.NewFake(0),
		bus:     core.NewEventBus(),
	}
	opts := Options{
		Title:        "Marvin led strip wifi",
		ClientID:     "StripLedWifi",
		StatusPin:    statusPin,
		Buttons:      scheduler.Buttons{Restart: restartPin, Reset: resetPin},
		LoopInterval: time.Millisecond,
	}
	opts.AccessPoint.SSID = "strip-led-wifi-ssid"
	opts.AccessPoint.Password = "strip-led-wifi-passw"

	dev := hw.Device{Pins: h.pins, PWM: h.pwm, Network: h.network, Broker: h.broker}
	h.agent = New(opts, h.store, dev, h.clk, j, h.bus, logrus.New())
	return h
}

func (h *harness) saveValid(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.WifiSSID = "home"
	cfg.WifiPassword = "secret"
	cfg.MQTTHost = "broker.local"
	require.NoError(t, h.store.Save(cfg))
	saved, err := h.store.Load()
	require.NoError(t, err)
	return saved
}

func (h *harness) operational(t *testing.T) *operational {
	t.Helper()
	h.agent.bringUp(context.Background())
	require.Equal(t, core.ModeOperational, h.agent.app.Conn.Mode)
	o, err := h.agent.startOperational()
	require.NoError(t, err)
	t.Cleanup(o.close)
	return o
}

func (h *harness) responses() []string {
	var out []string
	for _, p := range h.broker.Published() {
		out = append(out, string(p.Payload))
	}
	return out
}

func TestMissingConfigEntersProvisioning(t *testing.T) {
	h := newHarness(t, nil)
	h.agent.bringUp(context.Background())

	assert.Equal(t, core.ModeProvisioning, h.agent.app.Conn.Mode)
	assert.ErrorIs(t, h.agent.app.Conn.Err, config.ErrNotFound)
	assert.Empty(t, h.network.Connects)
	assert.Equal(t, "strip-led-wifi-ssid", h.network.APSSID)
	assert.Equal(t, config.Defaults(), h.agent.app.Config)
}

func TestMissingHostFieldEntersProvisioning(t *testing.T) {
	h := newHarness(t, nil)
	doc := `{"wifiSsid":"home","wifiPassword":"secret","mqttEnable":true,"mqttPort":1883,
		"mqttUsername":"","mqttPassword":"","mqttPublishChannel":"a","mqttSubscribeChannel":"b","uuid":"x"}`
	require.NoError(t, os.WriteFile(h.store.Path(), []byte(doc), 0644))

	h.agent.bringUp(context.Background())

	assert.Equal(t, core.ModeProvisioning, h.agent.app.Conn.Mode)
	assert.ErrorIs(t, h.agent.app.Conn.Err, config.ErrMissingField)
	assert.Empty(t, h.network.Connects)
}

func TestStatusCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.saveValid(t)
	o := h.operational(t)

	h.broker.Inject(config.DefaultSubscribeChannel, `{"action":"status"}`)
	require.NoError(t, o.step(h.clk.Millis()))

	require.Len(t, h.responses(), 1)
	assert.JSONEq(t, `{"code":"200","actionCalled":"status","payload":"0"}`, h.responses()[0])
	assert.Equal(t, config.DefaultPublishChannel, h.broker.Published()[0].Topic)
}

func TestRestartCommandFiresAfterGraceDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.saveValid(t)
	o := h.operational(t)

	h.broker.Inject(config.DefaultSubscribeChannel, `{"action":"restart"}`)
	require.NoError(t, o.step(h.clk.Millis()))

	h.clk.Advance(4999 * time.Millisecond)
	require.NoError(t, o.step(h.clk.Millis()))

	h.clk.Advance(time.Millisecond)
	assert.ErrorIs(t, o.step(h.clk.Millis()), ErrRestart)
}

func TestResetButtonHeldRestoresDefaults(t *testing.T) {
	h := newHarness(t, nil)
	saved := h.saveValid(t)
	o := h.operational(t)

	h.broker.Inject(config.DefaultSubscribeChannel, `{"action":"lightOn"}`)
	require.NoError(t, o.step(h.clk.Millis()))

	h.pins.Set(resetPin, true)
	var err error
	for i := 0; i <= 500 && err == nil; i++ {
		err = o.step(h.clk.Millis())
		h.clk.Advance(10 * time.Millisecond)
	}
	require.ErrorIs(t, err, ErrRestart)

	cfg, loadErr := h.store.Load()
	require.NoError(t, loadErr)
	assert.Empty(t, cfg.WifiSSID)
	assert.Equal(t, config.DefaultPublishChannel, cfg.MQTTPublishChannel)
	assert.Equal(t, saved.UUID, cfg.UUID)
}

func TestResetButtonReleasedEarly(t *testing.T) {
	h := newHarness(t, nil)
	saved := h.saveValid(t)
	o := h.operational(t)

	h.pins.Set(resetPin, true)
	for i := 0; i <= 400; i++ {
		require.NoError(t, o.step(h.clk.Millis()))
		h.clk.Advance(10 * time.Millisecond)
	}
	h.pins.Set(resetPin, false)
	for i := 0; i < 200; i++ {
		require.NoError(t, o.step(h.clk.Millis()))
		h.clk.Advance(10 * time.Millisecond)
	}

	cfg, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, saved, cfg)
}

func TestRoutineCommandsAreDispatched(t *testing.T) {
	h := newHarness(t, nil)
	h.saveValid(t)
	o := h.operational(t)

	h.agent.commands <- core.Message{Topic: scheduler.RoutineTopic, Payload: []byte(`{"action":"changeColor","payload":{"red":1,"green":2,"blue":3}}`)}
	require.NoError(t, o.step(h.clk.Millis()))

	assert.Equal(t, core.LightState{R: 1, G: 2, B: 3}, h.pwm.Light())
	require.Len(t, h.responses(), 1)
	assert.Contains(t, h.responses()[0], "Change color to 1,2,3")
}

func TestBrokerDropIsReconnected(t *testing.T) {
	h := newHarness(t, nil)
	h.saveValid(t)
	o := h.operational(t)
	attempts := h.broker.Attempts

	h.broker.Drop()
	h.broker.Inject(config.DefaultSubscribeChannel, `{"action":"ping"}`)
	require.NoError(t, o.step(h.clk.Millis()))

	assert.Equal(t, attempts+1, h.broker.Attempts)
	assert.Len(t, h.broker.Subscribed, 2)
	require.Len(t, h.responses(), 1)
}

func TestProvisioningSubmissionSavesAndRestarts(t *testing.T) {
	h := newHarness(t, nil)
	h.agent.bringUp(context.Background())
	require.Equal(t, core.ModeProvisioning, h.agent.app.Conn.Mode)
	p, err := h.agent.startProvisioning()
	require.NoError(t, err)
	defer p.close()

	form := url.Values{
		"wifiSsid":   {"office"},
		"wifiPasswd": {"pw123456"},
		"mqttEnable": {"on"},
		"mqttHost":   {"10.0.0.2"},
		"mqttPort":   {"1884"},
	}
	sub := server.Submission{Form: form, Reply: make(chan server.SubmissionResult, 1)}
	h.agent.submissions <- sub
	require.NoError(t, p.step(h.clk.Millis()))

	res := <-sub.Reply
	require.NoError(t, res.Err)
	assert.Equal(t, "office", res.Config.WifiSSID)
	assert.NotEmpty(t, res.Config.UUID)

	stored, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, res.Config, stored)
	assert.Equal(t, 1884, stored.MQTTPort)

	h.clk.Advance(4999 * time.Millisecond)
	require.NoError(t, p.step(h.clk.Millis()))
	h.clk.Advance(time.Millisecond)
	assert.ErrorIs(t, p.step(h.clk.Millis()), ErrRestart)
}

func TestProvisioningBlinks(t *testing.T) {
	h := newHarness(t, nil)
	h.agent.bringUp(context.Background())
	p, err := h.agent.startProvisioning()
	require.NoError(t, err)
	defer p.close()

	for i := 0; i < 30; i++ {
		require.NoError(t, p.step(h.clk.Millis()))
		h.clk.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, []bool{true, false}, h.pins.Writes(statusPin)[:2])
	assert.Len(t, h.pins.Writes(statusPin), 2)
}

func TestBringUpIsJournaled(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	h := newHarness(t, j)
	h.agent.bringUp(context.Background())

	last, err := j.Last()
	require.NoError(t, err)
	assert.Equal(t, "provisioning", last.Mode)
	assert.Contains(t, last.Error, "not found")
}

func TestRunReturnsRestart(t *testing.T) {
	h := newHarness(t, nil)
	h.saveValid(t)
	modes := h.bus.Subscribe(core.ModeChangedEvent)

	errc := make(chan error, 1)
	go func() { errc <- h.agent.Run(context.Background()) }()

	ev := <-modes
	payload, err := json.Marshal(ev.Payload)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"mode":"operational"`)

	h.broker.Inject(config.DefaultSubscribeChannel, `{"action":"restart"}`)
	require.Eventually(t, func() bool { return len(h.broker.Published()) == 1 }, 2*time.Second, time.Millisecond)

	h.clk.Advance(5 * time.Second)
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrRestart)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.saveValid(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.agent.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestOptionsFromSettings(t *testing.T) {
	s, err := config.LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	opts := OptionsFromSettings(s)
	assert.Equal(t, "StripLedWifi", opts.ClientID)
	assert.Equal(t, scheduler.Buttons{Restart: 16, Reset: 17}, opts.Buttons)
	assert.Equal(t, 4, opts.StatusPin)
	assert.Equal(t, 10*time.Millisecond, opts.LoopInterval)
	assert.Equal(t, "strip-led-wifi-ssid", opts.AccessPoint.SSID)
}
