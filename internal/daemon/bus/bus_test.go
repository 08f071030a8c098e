package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/grovetools/relay/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, b *Bus, n int) (*sync.Mutex, *[]Event, chan struct{}) {
	t.Helper()
	var mu sync.Mutex
	got := make([]Event, 0, n)
	done := make(chan struct{})
	b.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	})
	return &mu, &got, done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}
}

func TestFanOutPreservesOrder(t *testing.T) {
	b := New(logging.NewLogger("test"))
	defer b.Close()

	const n = 50
	mu1, got1, done1 := collect(t, b, n)
	mu2, got2, done2 := collect(t, b, n)

	for i := 0; i < n; i++ {
		b.Emit(Event{Type: EventStateChanged, Data: i})
	}

	waitDone(t, done1)
	waitDone(t, done2)

	for _, pair := range []struct {
		mu  *sync.Mutex
		got *[]Event
	}{{mu1, got1}, {mu2, got2}} {
		pair.mu.Lock()
		for i, e := range *pair.got {
			assert.Equal(t, i, e.Data)
		}
		pair.mu.Unlock()
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(logging.NewLogger("test"))
	defer b.Close()

	var mu sync.Mutex
	count := 0
	sub := b.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // idempotent
	b.Unsubscribe(nil)

	assert.Equal(t, 0, b.SubscriberCount())

	b.Emit(Event{Type: EventStateChanged})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := New(logging.NewLogger("test"))
	defer b.Close()

	b.Subscribe(func(e Event) {
		panic("subscriber bug")
	})

	const n = 3
	_, got, done := collect(t, b, n)

	for i := 0; i < n; i++ {
		b.Emit(Event{Type: EventStateChanged, Data: i})
	}

	waitDone(t, done)
	assert.Len(t, *got, n)
}

func TestSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	b := New(logging.NewLogger("test"))
	defer b.Close()

	release := make(chan struct{})
	b.Subscribe(func(e Event) {
		<-release
	})

	// Emit must return promptly even while the subscriber is stuck.
	start := time.Now()
	for i := 0; i < 100; i++ {
		b.Emit(Event{Type: EventStateChanged, Data: i})
	}
	assert.Less(t, time.Since(start), time.Second)
	close(release)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(logging.NewLogger("test"))
	b.Subscribe(func(Event) {})
	b.Close()
	b.Close()
	assert.Equal(t, 0, b.SubscriberCount())

	// Subscribing after close yields a dead subscription, not a panic.
	sub := b.Subscribe(func(Event) {})
	require.NotNil(t, sub)
	b.Emit(Event{Type: EventStateChanged})
}
