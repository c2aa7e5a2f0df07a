// Package events distributes within-tolerance transitions as stateful
// events: every publisher keeps the last value for late subscribers.
package events

import (
	"errors"
	"sync"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/rs/zerolog"
)

// Topic is the event topic below the configured prefix.
const Topic = "CameraApplicationPlatform/ColorChecker/WithinTolerance"

// ErrNotReady is returned by publishers whose declaration has not completed.
var ErrNotReady = errors.New("event publisher not ready")

// Event is a state transition.
type Event struct {
	Topic  string    `json:"topic"`
	Active bool      `json:"active"`
	Time   time.Time `json:"timestamp"`
}

// Publisher delivers events to one transport.
type Publisher interface {
	Name() string
	Publish(ev Event) error
}

// Bus sends events to every publisher. Sending never fails: errors are
// logged and the event is dropped for that publisher.
type Bus struct {
	topic      string
	publishers []Publisher
	log        *zerolog.Logger
	now        func() time.Time

	mu   sync.RWMutex
	last *Event
	sent uint64
}

// NewBus returns a bus publishing on topic.
func NewBus(topic string, publishers ...Publisher) *Bus {
	return &Bus{
		topic:      topic,
		publishers: publishers,
		log:        logger.WithComponent("events"),
		now:        time.Now,
	}
}

// Send publishes the active state.
func (b *Bus) Send(active bool) {
	ev := Event{Topic: b.topic, Active: active, Time: b.now()}

	b.mu.Lock()
	b.last = &ev
	b.sent++
	b.mu.Unlock()

	for _, p := range b.publishers {
		err := p.Publish(ev)
		switch {
		case err == nil:
			b.log.Info().Str("publisher", p.Name()).Bool("active", active).Msg("Event sent")
		case errors.Is(err, ErrNotReady):
			b.log.Info().Str("publisher", p.Name()).Bool("active", active).Msg("Event not declared yet, dropped")
		default:
			b.log.Warn().Err(err).Str("publisher", p.Name()).Msg("Failed to send event")
		}
	}
}

// Last returns the most recent event, if any.
func (b *Bus) Last() (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return Event{}, false
	}
	return *b.last, true
}

// Sent returns the number of events sent.
func (b *Bus) Sent() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sent
}
