package scheduler

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"stripled-controller/internal/config"
	"stripled-controller/internal/core"
)

// RoutineTopic marks messages that originate from a routine rather than the broker.
const RoutineTopic = "routine"

// Routines fires configured commands on cron schedules. Each firing enqueues a command
// message for the control loop.
type Routines struct {
	cron  *cron.Cron
	out   chan<- core.Message
	mu    sync.RWMutex
	store map[cron.EntryID]config.Routine
	log   logrus.FieldLogger
}

func NewRoutines(out chan<- core.Message, log logrus.FieldLogger) *Routines {
	return &Routines{
		cron:  cron.New(),
		out:   out,
		store: make(map[cron.EntryID]config.Routine),
		log:   log.WithField("component", "routines"),
	}
}

// Add registers a routine.
func (r *Routines) Add(rt config.Routine) (cron.EntryID, error) {
	msg, err := routineMessage(rt)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.cron.AddFunc(rt.Spec, func() { r.fire(rt, msg) })
	if err != nil {
		return 0, fmt.Errorf("routine %q: %w", rt.Spec, err)
	}
	r.store[id] = rt
	r.log.WithFields(logrus.Fields{"id": id, "spec": rt.Spec, "action": rt.Action}).Info("routine added")
	return id, nil
}

// Start begins the cron job ticker.
func (r *Routines) Start() {
	r.cron.Start()
	r.log.Info("routines started")
}

// Stop halts the ticker and waits for running jobs.
func (r *Routines) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info("routines stopped")
}

// GetAll returns a copy of the registered routines.
func (r *Routines) GetAll() map[cron.EntryID]config.Routine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[cron.EntryID]config.Routine, len(r.store))
	for k, v := range r.store {
		out[k] = v
	}
	return out
}

func (r *Routines) fire(rt config.Routine, msg core.Message) {
	select {
	case r.out <- msg:
		r.log.WithField("action", rt.Action).Debug("routine fired")
	default:
		r.log.WithField("action", rt.Action).Warn("loop busy, routine skipped")
	}
}

// routineMessage encodes a routine as the same command document accepted on the broker.
func routineMessage(rt config.Routine) (core.Message, error) {
	doc := map[string]any{"action": rt.Action}
	if len(rt.Payload) > 0 {
		doc["payload"] = rt.Payload
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return core.Message{}, fmt.Errorf("routine %q payload: %w", rt.Action, err)
	}
	return core.Message{Topic: RoutineTopic, Payload: body}, nil
}
