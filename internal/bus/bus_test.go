package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T) (Handler, func() []Event) {
	t.Helper()
	var mu sync.Mutex
	var got []Event
	handler := func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}
	return handler, func() []Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Event, len(got))
		copy(out, got)
		return out
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBus_ExactSubscription(t *testing.T) {
	b := New()
	defer b.Close()

	handler, got := collect(t)
	unsub, err := b.Subscribe("auth:user:signin", handler)
	require.NoError(t, err)
	defer unsub()

	b.Publish("auth:user:signin", "test", "alice@example.com")
	b.Publish("auth:user:signout", "test", nil)

	waitFor(t, func() bool { return len(got()) == 1 })
	assert.Equal(t, "auth:user:signin", got()[0].Type)
	assert.Equal(t, "alice@example.com", got()[0].Payload)
}

func TestBus_GlobSubscription(t *testing.T) {
	b := New()
	defer b.Close()

	handler, got := collect(t)
	_, err := b.Subscribe("auth:user:*", handler)
	require.NoError(t, err)

	b.Publish("auth:user:signin", "test", nil)
	b.Publish("auth:user:signout", "test", nil)
	b.Publish("sync:op:completed", "test", nil)

	waitFor(t, func() bool { return len(got()) == 2 })
	// the single-segment glob must not cross segments
	b.Publish("auth:user:token:refreshed", "test", nil)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, got(), 2)
}

func TestBus_InvalidPattern(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Subscribe("sync:[", func(Event) {})
	assert.Error(t, err)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	handler, got := collect(t)
	unsub, err := b.Subscribe("sync:*:*", handler)
	require.NoError(t, err)

	b.Publish("sync:op:enqueued", "test", nil)
	waitFor(t, func() bool { return len(got()) == 1 })

	unsub()
	b.Publish("sync:op:enqueued", "test", nil)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, got(), 1)
}

func TestBus_LabelsCarried(t *testing.T) {
	b := New()
	defer b.Close()

	handler, got := collect(t)
	_, err := b.Subscribe("sync:op:failed", handler)
	require.NoError(t, err)

	b.Publish("sync:op:failed", "engine", nil, "retryable", "table:notes")
	waitFor(t, func() bool { return len(got()) == 1 })
	assert.Equal(t, []string{"retryable", "table:notes"}, got()[0].Labels)
}

func TestBus_PublishAfterCloseIsNoop(t *testing.T) {
	b := New()
	handler, got := collect(t)
	_, err := b.Subscribe("a:b", handler)
	require.NoError(t, err)

	b.Close()
	b.Publish("a:b", "test", nil)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, got())
}
