package services

import (
	"sync"
	"testing"
	"time"

	"github.com/14kear/quickpoll/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tallyChanged(pollID, version int64) entity.Event {
	return entity.Event{
		Type:    entity.EventTallyChanged,
		PollID:  pollID,
		Version: version,
		Counts:  map[string]int64{"A": version},
		Total:   version,
	}
}

func receive(t *testing.T, sub *Subscription) entity.Event {
	t.Helper()
	select {
	case event, open := <-sub.Events():
		require.True(t, open, "event channel closed")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return entity.Event{}
	}
}

func TestPropagator_DeliversInVersionOrder(t *testing.T) {
	p := NewPropagator(discardLogger())

	sub := p.Subscribe(1)
	defer sub.Cancel()

	p.Publish(1, tallyChanged(1, 1))
	p.Publish(1, tallyChanged(1, 2))
	p.Publish(1, tallyChanged(1, 3))

	for want := int64(1); want <= 3; want++ {
		assert.Equal(t, want, receive(t, sub).Version)
	}
}

func TestPropagator_DropsStaleVersions(t *testing.T) {
	p := NewPropagator(discardLogger())

	sub := p.Subscribe(1)
	defer sub.Cancel()

	p.Publish(1, tallyChanged(1, 2))
	p.Publish(1, tallyChanged(1, 1)) // stale, dropped
	p.Publish(1, tallyChanged(1, 2)) // duplicate, dropped
	p.Publish(1, tallyChanged(1, 3))

	assert.Equal(t, int64(2), receive(t, sub).Version)
	assert.Equal(t, int64(3), receive(t, sub).Version)

	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event: %+v", event)
	default:
	}
}

func TestPropagator_CancelStopsDelivery(t *testing.T) {
	p := NewPropagator(discardLogger())

	sub := p.Subscribe(1)
	sub.Cancel()
	sub.Cancel() // idempotent

	p.Publish(1, tallyChanged(1, 1))

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestPropagator_PollDeletedClosesSubscribers(t *testing.T) {
	p := NewPropagator(discardLogger())

	first := p.Subscribe(1)
	second := p.Subscribe(1)

	p.Publish(1, entity.Event{Type: entity.EventPollDeleted, PollID: 1})

	for _, sub := range []*Subscription{first, second} {
		event := receive(t, sub)
		assert.Equal(t, entity.EventPollDeleted, event.Type)

		_, open := <-sub.Events()
		assert.False(t, open)
	}

	// cancelling after the topic is gone must not panic
	first.Cancel()
}

func TestPropagator_SlowSubscriberLosesEventsNotOrdering(t *testing.T) {
	p := NewPropagator(discardLogger())

	sub := p.Subscribe(1)
	defer sub.Cancel()

	// overflow the buffer; excess events are dropped, never reordered
	for version := int64(1); version <= subscriptionBuffer+10; version++ {
		p.Publish(1, tallyChanged(1, version))
	}

	last := int64(0)
	for i := 0; i < subscriptionBuffer; i++ {
		event := receive(t, sub)
		assert.Greater(t, event.Version, last)
		last = event.Version
	}
}

func TestPropagator_CancelRacesPollDeleted(t *testing.T) {
	// a client disconnect cancelling its subscription while the poll's
	// deletion is being published must not hang either side
	for i := 0; i < 200; i++ {
		p := NewPropagator(discardLogger())

		subs := make([]*Subscription, 8)
		for j := range subs {
			subs[j] = p.Subscribe(1)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)

			var wg sync.WaitGroup
			for _, sub := range subs {
				wg.Add(1)
				go func(sub *Subscription) {
					defer wg.Done()
					sub.Cancel()
				}(sub)
			}
			p.Publish(1, entity.Event{Type: entity.EventPollDeleted, PollID: 1})
			wg.Wait()
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Cancel racing a poll-deleted publish never completed")
		}

		for _, sub := range subs {
			for range sub.Events() {
			}
		}
	}
}

func TestPropagator_IndependentPolls(t *testing.T) {
	p := NewPropagator(discardLogger())

	subA := p.Subscribe(1)
	defer subA.Cancel()
	subB := p.Subscribe(2)
	defer subB.Cancel()

	p.Publish(1, tallyChanged(1, 1))

	assert.Equal(t, int64(1), receive(t, subA).PollID)

	select {
	case event := <-subB.Events():
		t.Fatalf("poll 2 subscriber got event for poll %d", event.PollID)
	default:
	}
}
