// Package events carries project activity from the request path to
// best-effort consumers: the audit trail, cache invalidation, and the
// structured log.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cadence/api/internal/store"
)

// Event describes one project mutation.
type Event struct {
	ProjectID string
	ActorType string // provider | client | system
	Action    string // e.g. stage.completed, component.approved
	Details   map[string]any
}

// AuditSink persists events for later inspection.
type AuditSink interface {
	InsertAuditRecord(ctx context.Context, record store.AuditRecord) error
}

// CacheInvalidator drops cached project views after a mutation.
type CacheInvalidator interface {
	InvalidateProject(ctx context.Context, projectID string) error
}

// Dispatcher fans events out to sinks from a single consumer goroutine.
// Publish never blocks the request path: when the buffer is full the
// event is dropped and counted.
type Dispatcher struct {
	ch      chan Event
	done    chan struct{}
	logger  zerolog.Logger
	audit   AuditSink
	cache   CacheInvalidator
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

type Option func(*Dispatcher)

func WithAuditSink(sink AuditSink) Option {
	return func(d *Dispatcher) { d.audit = sink }
}

func WithCacheInvalidator(cache CacheInvalidator) Option {
	return func(d *Dispatcher) { d.cache = cache }
}

func NewDispatcher(logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ch:      make(chan Event, 256),
		done:    make(chan struct{}),
		logger:  logger,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.consume()
	return d
}

// Publish enqueues an event. Dropped events are logged, never surfaced
// to the caller. Events published after Close are dropped.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().
			Str("action", ev.Action).
			Str("project_id", ev.ProjectID).
			Msg("dispatcher closed, dropping event")
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.logger.Warn().
			Str("action", ev.Action).
			Str("project_id", ev.ProjectID).
			Msg("event buffer full, dropping event")
	}
}

// Close stops accepting events and drains the buffer.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) consume() {
	defer close(d.done)
	for ev := range d.ch {
		d.handle(ev)
	}
}

func (d *Dispatcher) handle(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	log := d.logger.With().
		Str("project_id", ev.ProjectID).
		Str("actor_type", ev.ActorType).
		Str("action", ev.Action).
		Logger()

	if d.audit != nil {
		record := store.AuditRecord{
			ProjectID: ev.ProjectID,
			ActorType: ev.ActorType,
			Action:    ev.Action,
			Details:   ev.Details,
		}
		if err := d.audit.InsertAuditRecord(ctx, record); err != nil {
			log.Error().Err(err).Msg("audit insert failed")
		}
	}

	if d.cache != nil && ev.ProjectID != "" {
		if err := d.cache.InvalidateProject(ctx, ev.ProjectID); err != nil {
			log.Error().Err(err).Msg("cache invalidation failed")
		}
	}

	log.Info().Msg("project event")
}
