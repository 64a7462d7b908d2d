package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu  sync.Mutex
	got []Event
}

func (s *sink) add(e Event) {
	s.mu.Lock()
	s.got = append(s.got, e)
	s.mu.Unlock()
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestSubscribeFiltersByType(t *testing.T) {
	bus := NewEventBus()
	var guardEvents, all sink
	bus.Subscribe(EventSystemGuardUpdate, guardEvents.add)
	bus.SubscribeAll(all.add)

	bus.PublishSystemGuard("hard_trip", "TRIPPED", "manual", "maintenance")
	bus.PublishSignal("BTCUSDT", "LONG", "trend", 0.7, 0.8)

	require.Eventually(t, func() bool { return all.len() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return guardEvents.len() == 1 }, time.Second, 5*time.Millisecond)

	guardEvents.mu.Lock()
	defer guardEvents.mu.Unlock()
	ev := guardEvents.got[0]
	assert.Equal(t, "hard_trip", ev.Data["action"])
	assert.Equal(t, "manual", ev.Data["trigger"])
	assert.False(t, ev.Timestamp.IsZero())
}

func TestPublishDecisionOmitsMissingSize(t *testing.T) {
	bus := NewEventBus()
	var s sink
	bus.Subscribe(EventGuardDecision, s.add)

	size := 125.0
	bus.PublishDecision("a", "acct", "BTCUSDT", true, false, nil, &size)
	bus.PublishDecision("b", "acct", "BTCUSDT", false, false, []string{"daily limit"}, nil)

	require.Eventually(t, func() bool { return s.len() == 2 }, time.Second, 5*time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.got {
		_, hasSize := ev.Data["risk_adjusted_size"]
		assert.Equal(t, ev.Data["allowed"], hasSize, "decision %v", ev.Data["id"])
	}
}

func TestPublishErrorCarriesCause(t *testing.T) {
	bus := NewEventBus()
	var s sink
	bus.Subscribe(EventError, s.add)

	bus.PublishError("scanner", "guard sweep failed", assert.AnError)
	bus.PublishExecutionFailed("broker", "ETHUSDT", nil)

	require.Eventually(t, func() bool { return s.len() == 1 }, time.Second, 5*time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, assert.AnError.Error(), s.got[0].Data["error"])
}
