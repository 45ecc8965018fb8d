package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/worktime/internal/clock"
	"github.com/watzon/worktime/internal/database"
)

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event *Event) error

// EventBus is a database-backed event queue. Any process sharing the
// database can publish; the process that calls Start delivers due events to
// its subscribers. 'worktime sync now' publishes from the CLI and the daemon
// delivers.
type EventBus struct {
	store       *Store
	config      EventBusConfig
	subscribers map[string][]EventHandler // key: "type:source:action"
	mu          sync.RWMutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// EventBusConfig holds configuration for EventBus.
type EventBusConfig struct {
	// Retention is how long to keep completed/failed events (default: 7 days).
	Retention time.Duration
	// ProcessInterval is how often to poll for pending events (default: 1 second).
	ProcessInterval time.Duration
	// CleanupInterval is how often to cleanup old events (default: 1 hour).
	CleanupInterval time.Duration
	// BatchSize is the maximum number of events delivered per poll (default: 100).
	BatchSize int
	// Clock stamps events and decides which are due (default: wall clock).
	Clock clock.Clock
}

// NewEventBus creates a new event bus.
func NewEventBus(db *database.DB, config *EventBusConfig) *EventBus {
	cfg := EventBusConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Retention == 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.ProcessInterval == 0 {
		cfg.ProcessInterval = time.Second
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	return &EventBus{
		store:       NewStore(db, cfg.Clock),
		config:      cfg,
		subscribers: make(map[string][]EventHandler),
	}
}

// Start begins background delivery until ctx is done or Stop is called.
func (bus *EventBus) Start(ctx context.Context) {
	ctx, bus.cancel = context.WithCancel(ctx)

	bus.wg.Add(2)
	go bus.every(ctx, bus.config.ProcessInterval, func(ctx context.Context) {
		if _, err := bus.Deliver(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to deliver events")
		}
	})
	go bus.every(ctx, bus.config.CleanupInterval, func(ctx context.Context) {
		n, err := bus.store.Purge(ctx, bus.config.Retention)
		if err != nil {
			log.Error().Err(err).Msg("Failed to purge delivered events")
			return
		}
		if n > 0 {
			log.Debug().Int64("deleted", n).Msg("Purged delivered events")
		}
	})
}

// Stop halts background delivery and waits for in-flight handlers.
func (bus *EventBus) Stop() {
	if bus.cancel != nil {
		bus.cancel()
	}
	bus.wg.Wait()
}

// Publish queues an event. It is delivered on the first poll at or after
// event.DeliverAt.
func (bus *EventBus) Publish(ctx context.Context, event *Event) error {
	if err := bus.store.Insert(ctx, event); err != nil {
		return err
	}

	l := log.Debug().
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Str("source", event.Source).
		Str("action", event.Action).
		Str("context", event.Metadata.Context)
	if event.DeliverAt != nil {
		l = l.Time("deliver_at", *event.DeliverAt)
	}
	l.Msg("Event published")

	return nil
}

// Queued returns pending events of one type and action, including ones held
// back until later.
func (bus *EventBus) Queued(ctx context.Context, eventType EventType, action string) ([]*Event, error) {
	return bus.store.Queued(ctx, eventType, action)
}

// Subscribe registers a handler for events matching the pattern.
// Use "*" for source or action to match all.
func (bus *EventBus) Subscribe(eventType EventType, source, action string, handler EventHandler) {
	key := subscriptionKey(eventType, source, action)

	bus.mu.Lock()
	bus.subscribers[key] = append(bus.subscribers[key], handler)
	bus.mu.Unlock()

	log.Debug().
		Str("type", string(eventType)).
		Str("source", source).
		Str("action", action).
		Msg("Handler subscribed")
}

// Deliver runs the handlers of every due event this bus manages to claim and
// returns how many it delivered.
func (bus *EventBus) Deliver(ctx context.Context) (int, error) {
	due, err := bus.store.Due(ctx, bus.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("loading due events: %w", err)
	}

	delivered := 0
	for _, event := range due {
		ok, err := bus.deliver(ctx, event)
		if err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID).
				Msg("Failed to deliver event")
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

// deliver claims an event and runs its handlers. It reports false when
// another bus claimed the event first.
func (bus *EventBus) deliver(ctx context.Context, event *Event) (bool, error) {
	claimed, err := bus.store.Claim(ctx, event.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	handlers := bus.findHandlers(event)

	var handlerErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("type", string(event.Type)).
				Str("action", event.Action).
				Msg("Handler failed")
			handlerErr = err
		}
	}

	if err := bus.store.Finish(ctx, event.ID, handlerErr != nil); err != nil {
		return true, err
	}

	log.Debug().
		Str("event_id", event.ID).
		Bool("failed", handlerErr != nil).
		Int("handlers", len(handlers)).
		Msg("Event delivered")

	return true, handlerErr
}

// findHandlers returns the handlers for the exact pattern followed by the
// wildcard patterns.
func (bus *EventBus) findHandlers(event *Event) []EventHandler {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	var handlers []EventHandler
	for _, source := range []string{event.Source, "*"} {
		for _, action := range []string{event.Action, "*"} {
			handlers = append(handlers, bus.subscribers[subscriptionKey(event.Type, source, action)]...)
		}
	}
	return handlers
}

func subscriptionKey(eventType EventType, source, action string) string {
	return fmt.Sprintf("%s:%s:%s", eventType, source, action)
}

func (bus *EventBus) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer bus.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
