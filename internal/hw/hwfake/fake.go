// Package hwfake provides in-memory device capabilities for tests.
package hwfake

import (
	"errors"
	"sync"

	"stripled-controller/internal/core"
	"stripled-controller/internal/hw"
)

// Pins records writes and serves configurable input levels.
type Pins struct {
	mu     sync.Mutex
	levels map[int]bool
	writes map[int][]bool
}

func NewPins() *Pins {
	return &Pins{levels: map[int]bool{}, writes: map[int][]bool{}}
}

// Set changes the level returned by ReadPin.
func (p *Pins) Set(pin int, high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels[pin] = high
}

func (p *Pins) ReadPin(pin int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[pin]
}

func (p *Pins) WritePin(pin int, high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels[pin] = high
	p.writes[pin] = append(p.writes[pin], high)
	return nil
}

// Writes returns every level written to pin.
func (p *Pins) Writes(pin int) []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.writes[pin]...)
}

// PWM records duty cycles.
type PWM struct {
	mu        sync.Mutex
	FreqHz    int
	Bits      int
	SetupErr  error
	duties    map[hw.Channel]uint8
	dutyCalls int
}

func NewPWM() *PWM {
	return &PWM{duties: map[hw.Channel]uint8{}}
}

func (p *PWM) Setup(freqHz, bits int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SetupErr != nil {
		return p.SetupErr
	}
	p.FreqHz, p.Bits = freqHz, bits
	return nil
}

func (p *PWM) SetChannelDuty(ch hw.Channel, duty uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duties[ch] = duty
	p.dutyCalls++
	return nil
}

// Duty returns the last duty written to ch.
func (p *PWM) Duty(ch hw.Channel) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duties[ch]
}

// Light returns the current duties as a LightState.
func (p *PWM) Light() core.LightState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return core.LightState{R: p.duties[hw.Red], G: p.duties[hw.Green], B: p.duties[hw.Blue]}
}

// Network becomes connected after a number of IsConnected polls.
type Network struct {
	mu sync.Mutex
	// ConnectAfter is the number of IsConnected calls that return false before joining.
	// Negative means never.
	ConnectAfter int
	ConnectErr   error
	APErr        error
	Addr         hw.NetInfo

	Connects []string
	Polls    int
	APSSID   string
	APPass   string
}

func (n *Network) Connect(ssid, password string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Connects = append(n.Connects, ssid)
	return n.ConnectErr
}

func (n *Network) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.Connects) == 0 || n.ConnectAfter < 0 {
		return false
	}
	n.Polls++
	return n.Polls > n.ConnectAfter
}

func (n *Network) StartAccessPoint(ssid, password string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.APSSID, n.APPass = ssid, password
	return n.APErr
}

func (n *Network) Info() hw.NetInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Addr
}

// Published is one recorded broker publish.
type Published struct {
	Topic   string
	Payload []byte
}

// Broker succeeds after FailConnects failed attempts and queues injected messages.
type Broker struct {
	mu sync.Mutex
	// FailConnects is the number of Connect calls that fail first. Negative means always.
	FailConnects int

	Host       string
	Port       int
	ClientID   string
	Attempts   int
	Subscribed []string
	published  []Published
	inbound    []core.Message
	connected  bool
}

func (b *Broker) SetServer(host string, port int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Host, b.Port = host, port
}

func (b *Broker) Connect(clientID, username, password string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Attempts++
	b.ClientID = clientID
	if b.FailConnects < 0 || b.Attempts <= b.FailConnects {
		return false
	}
	b.connected = true
	return true
}

func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Drop simulates a lost broker connection.
func (b *Broker) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

func (b *Broker) Subscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return errors.New("not connected")
	}
	b.Subscribed = append(b.Subscribed, topic)
	return nil
}

func (b *Broker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, Published{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Inject queues an inbound message for the next Poll.
func (b *Broker) Inject(topic, payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbound = append(b.inbound, core.Message{Topic: topic, Payload: []byte(payload)})
}

func (b *Broker) Poll(handle func(core.Message)) int {
	b.mu.Lock()
	msgs := b.inbound
	b.inbound = nil
	b.mu.Unlock()
	for _, m := range msgs {
		handle(m)
	}
	return len(msgs)
}

// Published returns every recorded publish.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}
