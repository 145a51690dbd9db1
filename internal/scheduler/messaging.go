package scheduler

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"stripled-controller/internal/clock"
	"stripled-controller/internal/core"
	"stripled-controller/internal/hw"
)

// ReconnectInterval spaces broker reconnect attempts made from the loop.
const ReconnectInterval = 5 * time.Second

// Messaging is the per-iteration broker step: reconnect when the session dropped, then
// drain inbound messages.
type Messaging struct {
	broker    hw.Broker
	reconnect func() bool
	limiter   *rate.Limiter
	clk       clock.Clock
	log       logrus.FieldLogger
}

// NewMessaging uses reconnect for a single broker attempt including resubscription.
func NewMessaging(broker hw.Broker, reconnect func() bool, clk clock.Clock, log logrus.FieldLogger) *Messaging {
	return &Messaging{
		broker:    broker,
		reconnect: reconnect,
		limiter:   rate.NewLimiter(rate.Every(ReconnectInterval), 1),
		clk:       clk,
		log:       log.WithField("component", "messaging"),
	}
}

// Tick returns the number of messages handed to handle.
func (m *Messaging) Tick(handle func(core.Message)) int {
	if !m.broker.IsConnected() {
		if !m.limiter.AllowN(m.clk.Now(), 1) {
			return 0
		}
		m.log.Info("broker connection lost, reconnecting")
		if !m.reconnect() {
			m.log.Warn("reconnect failed")
			return 0
		}
		m.log.Info("reconnected")
	}
	return m.broker.Poll(handle)
}
