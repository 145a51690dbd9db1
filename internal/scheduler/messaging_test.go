package scheduler

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"stripled-controller/internal/clock"
	"stripled-controller/internal/core"
	"stripled-controller/internal/hw/hwfake"
)

func TestMessagingDrainsWhenConnected(t *testing.T) {
	broker := &hwfake.Broker{}
	broker.Connect("id", "", "")
	broker.Inject("in", `{"action":"ping"}`)
	broker.Inject("in", `{"action":"status"}`)

	m := NewMessaging(broker, func() bool { t.Fatal("unexpected reconnect"); return false }, clock.NewFake(0), logrus.New())

	var got []core.Message
	assert.Equal(t, 2, m.Tick(func(msg core.Message) { got = append(got, msg) }))
	assert.Len(t, got, 2)
}

func TestMessagingReconnectIsRateLimited(t *testing.T) {
	broker := &hwfake.Broker{FailConnects: -1}
	clk := clock.NewFake(0)
	attempts := 0
	m := NewMessaging(broker, func() bool {
		attempts++
		return broker.Connect("id", "", "")
	}, clk, logrus.New())

	noop := func(core.Message) {}
	m.Tick(noop)
	assert.Equal(t, 1, attempts)

	for i := 0; i < 40; i++ {
		clk.Advance(100 * time.Millisecond)
		m.Tick(noop)
	}
	assert.Equal(t, 1, attempts, "no second attempt within 4s")

	clk.Advance(1100 * time.Millisecond)
	m.Tick(noop)
	assert.Equal(t, 2, attempts)
}

func TestMessagingReconnectThenDrain(t *testing.T) {
	broker := &hwfake.Broker{}
	broker.Inject("in", `{"action":"ping"}`)
	m := NewMessaging(broker, func() bool { return broker.Connect("id", "", "") }, clock.NewFake(0), logrus.New())

	assert.Equal(t, 1, m.Tick(func(core.Message) {}))
	assert.True(t, broker.IsConnected())
}
