package services

import (
	"log/slog"
	"sync"

	"github.com/14kear/quickpoll/internal/entity"
	"github.com/google/uuid"
)

const subscriptionBuffer = 16

// Propagator fans tally-changed and poll-deleted events out to live poll
// viewers. Delivery is best-effort: a tally-changed event older than the last
// one published for the poll is dropped as stale, and a subscriber whose
// buffer is full loses the event. Viewers that miss events resynchronize
// through GetPollSnapshot; the event stream is never the source of truth.
type Propagator struct {
	log *slog.Logger

	mu     sync.RWMutex
	topics map[int64]*pollTopic
}

type pollTopic struct {
	mu          sync.Mutex
	lastVersion int64
	subs        map[string]*Subscription
}

// closeLocked removes the subscription and closes its channel exactly once.
// The caller holds t.mu, so no publish can race the close; both Cancel and
// the poll-deleted publish path funnel through here.
func (t *pollTopic) closeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(t.subs, sub.id)
	close(sub.events)
}

// Subscription is one viewer's ordered event feed for a single poll.
type Subscription struct {
	id     string
	pollID int64
	events chan entity.Event
	topic  *pollTopic
	closed bool // guarded by topic.mu
}

// Events is closed after Cancel or after the poll is deleted.
func (s *Subscription) Events() <-chan entity.Event {
	return s.events
}

// Cancel stops delivery immediately. Idempotent, and safe to call
// concurrently with a publish closing the same subscription.
func (s *Subscription) Cancel() {
	s.topic.mu.Lock()
	s.topic.closeLocked(s)
	s.topic.mu.Unlock()
}

func NewPropagator(log *slog.Logger) *Propagator {
	return &Propagator{
		log:    log,
		topics: make(map[int64]*pollTopic),
	}
}

func (p *Propagator) Subscribe(pollID int64) *Subscription {
	topic := p.topic(pollID)

	sub := &Subscription{
		id:     uuid.NewString(),
		pollID: pollID,
		events: make(chan entity.Event, subscriptionBuffer),
		topic:  topic,
	}

	topic.mu.Lock()
	topic.subs[sub.id] = sub
	topic.mu.Unlock()

	return sub
}

// Publish delivers event to every subscriber of the poll. Per-poll ordering
// follows the tally version; a poll-deleted event terminates the topic and
// closes all its subscriptions.
func (p *Propagator) Publish(pollID int64, event entity.Event) {
	const op = "Propagator.Publish"

	topic := p.topic(pollID)

	topic.mu.Lock()
	defer topic.mu.Unlock()

	if event.Type == entity.EventTallyChanged {
		if event.Version <= topic.lastVersion {
			return
		}
		topic.lastVersion = event.Version
	}

	for _, sub := range topic.subs {
		select {
		case sub.events <- event:
		default:
			// subscriber is not draining; it will resync from a snapshot
			p.log.Debug("dropping event for slow subscriber",
				slog.String("op", op),
				slog.Int64("poll_id", pollID),
				slog.String("subscription_id", sub.id),
			)
		}
	}

	if event.Type == entity.EventPollDeleted {
		for _, sub := range topic.subs {
			topic.closeLocked(sub)
		}

		p.mu.Lock()
		delete(p.topics, pollID)
		p.mu.Unlock()
	}
}

func (p *Propagator) topic(pollID int64) *pollTopic {
	p.mu.RLock()
	topic, ok := p.topics[pollID]
	p.mu.RUnlock()
	if ok {
		return topic
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if topic, ok = p.topics[pollID]; ok {
		return topic
	}

	topic = &pollTopic{subs: make(map[string]*Subscription)}
	p.topics[pollID] = topic

	return topic
}
