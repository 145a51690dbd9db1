// Package mqtt implements the broker capability on top of paho.
//
// paho delivers messages on its own goroutines; they are queued here and handed to the
// control loop only when it calls Poll.
package mqtt

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"stripled-controller/internal/core"
)

const inboxSize = 32

var ErrNotConnected = errors.New("broker not connected")

type clientFactory func(*mqtt.ClientOptions) mqtt.Client

// Client is a single broker session. Connect replaces any previous session.
type Client struct {
	mu      sync.Mutex
	client  mqtt.Client
	broker  string
	timeout time.Duration
	factory clientFactory
	inbox   chan core.Message
	avail   string
	log     logrus.FieldLogger
}

// NewClient creates a client that waits at most timeout for each broker handshake.
func NewClient(timeout time.Duration, log logrus.FieldLogger) *Client {
	return &Client{
		timeout: timeout,
		factory: mqtt.NewClient,
		inbox:   make(chan core.Message, inboxSize),
		log:     log.WithField("component", "mqtt"),
	}
}

// SetServer sets the broker used by the next Connect.
func (c *Client) SetServer(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broker = "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Connect performs one handshake attempt. Retrying is left to the caller.
func (c *Client) Connect(clientID, username, password string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broker == "" {
		c.log.Warn("connect without server")
		return false
	}
	if c.client != nil {
		c.client.Disconnect(0)
		c.client = nil
	}

	c.avail = clientID + "/availability"

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID(clientID)
	opts.SetUsername(username)
	opts.SetPassword(password)

	// KeepAlive: 10s ping cadence, 5s to answer.
	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(c.timeout)

	// The control loop owns reconnects.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(false)

	opts.SetWill(c.avail, "offline", 1, true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.WithError(err).Warn("connection lost")
	})

	client := c.factory(opts)
	token := client.Connect()
	if !token.WaitTimeout(c.timeout) {
		c.log.WithField("broker", c.broker).Warn("connect timed out")
		client.Disconnect(0)
		return false
	}
	if err := token.Error(); err != nil {
		c.log.WithError(err).WithField("broker", c.broker).Warn("connect failed")
		return false
	}

	c.client = client
	c.log.WithField("broker", c.broker).Info("connected to broker")
	if err := c.publishLocked(c.avail, []byte("online"), true); err != nil {
		c.log.WithError(err).Warn("failed to publish online status")
	}
	return true
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Subscribe queues every message on topic for Poll.
func (c *Client) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return ErrNotConnected
	}
	token := c.client.Subscribe(topic, 1, c.enqueue)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.log.WithField("topic", topic).Info("subscribed")
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publishLocked(topic, payload, false)
}

func (c *Client) publishLocked(topic string, payload []byte, retained bool) error {
	if c.client == nil || !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, 0, retained, payload)

	// Do not hold up the loop, but do not leak the token either.
	go func() {
		if token.WaitTimeout(5 * time.Second) {
			if token.Error() != nil {
				c.log.WithError(token.Error()).WithField("topic", topic).Warn("publish failed")
			}
		} else {
			c.log.WithField("topic", topic).Warn("publish timed out")
		}
	}()
	return nil
}

// Poll hands queued messages to handle without blocking.
func (c *Client) Poll(handle func(core.Message)) int {
	n := 0
	for {
		select {
		case m := <-c.inbox:
			handle(m)
			n++
		default:
			return n
		}
	}
}

// enqueue runs on paho's goroutines. Messages are dropped when the loop falls behind.
func (c *Client) enqueue(_ mqtt.Client, msg mqtt.Message) {
	m := core.Message{Topic: msg.Topic(), Payload: append([]byte(nil), msg.Payload()...)}
	select {
	case c.inbox <- m:
	default:
		c.log.WithField("topic", m.Topic).Warn("inbox full, message dropped")
	}
}

// Disconnect publishes the offline status and closes the session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return
	}
	if c.client.IsConnectionOpen() {
		token := c.client.Publish(c.avail, 0, true, "offline")
		if token.WaitTimeout(2 * time.Second) {
			if token.Error() != nil {
				c.log.WithError(token.Error()).Warn("failed to publish offline status")
			}
		} else {
			c.log.Warn("timed out publishing offline status")
		}
	}
	c.client.Disconnect(250)
	c.client = nil
	c.log.Info("disconnected")
}
