package cmd

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
)

const journalBuffer = 256

// eventAppender persists one event.
type eventAppender interface {
	AppendEvent(ctx context.Context, host string, ev core.Event) error
}

// eventJournal moves realtime events off the read loop and into the store.
// Events are dropped, not queued, once the buffer is full.
type eventJournal struct {
	store   eventAppender
	host    string
	log     core.Logger
	events  chan core.Event
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

func newEventJournal(s eventAppender, host string, logger core.Logger) *eventJournal {
	if logger == nil {
		logger = core.NopLogger()
	}
	return &eventJournal{
		store:  s,
		host:   host,
		log:    logger,
		events: make(chan core.Event, journalBuffer),
		done:   make(chan struct{}),
	}
}

// Record queues ev without blocking.
func (j *eventJournal) Record(ev core.Event) {
	select {
	case <-j.done:
		return
	default:
	}
	select {
	case j.events <- ev:
	default:
		if j.dropped.Add(1) == 1 {
			j.log.Warn("Event journal full, dropping events")
		}
	}
}

// Run writes queued events until Close is called, then drains the queue.
func (j *eventJournal) Run(ctx context.Context) {
	for {
		select {
		case ev := <-j.events:
			j.write(ctx, ev)
		case <-j.done:
			for {
				select {
				case ev := <-j.events:
					j.write(context.WithoutCancel(ctx), ev)
				default:
					return
				}
			}
		}
	}
}

// Close stops accepting events. Run returns once the queue is drained.
func (j *eventJournal) Close() {
	j.closeOnce.Do(func() { close(j.done) })
}

// Dropped counts events lost to a full buffer.
func (j *eventJournal) Dropped() uint64 { return j.dropped.Load() }

func (j *eventJournal) write(ctx context.Context, ev core.Event) {
	if err := j.store.AppendEvent(ctx, j.host, ev); err != nil {
		j.log.Warn("Failed to journal event",
			zap.String("code", ev.Code),
			zap.Error(err))
	}
}
