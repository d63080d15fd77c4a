// internal/events/event_bus_test.go
package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlockchainHB/twitter-monitor/internal/types"
)

// countingSubscriber считает доставленные события
type countingSubscriber struct {
	delivered int64
}

func (c *countingSubscriber) HandleEvent(types.Event) error {
	atomic.AddInt64(&c.delivered, 1)
	return nil
}

func (c *countingSubscriber) GetName() string { return "counting" }

func (c *countingSubscriber) GetSubscribedEvents() []types.EventType {
	return []types.EventType{types.EventWalletActivity}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewEventBus(EventBusConfig{BufferSize: 16, WorkerCount: 2})
	sub := &countingSubscriber{}
	bus.Subscribe(types.EventWalletActivity, sub)

	bus.Start()
	defer bus.Stop()

	require.NoError(t, bus.Publish(types.Event{Type: types.EventWalletActivity, Source: "test"}))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&sub.delivered) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublishAfterStopReturnsError(t *testing.T) {
	bus := NewEventBus(EventBusConfig{BufferSize: 16, WorkerCount: 1})
	bus.Start()
	bus.Stop()

	err := bus.Publish(types.Event{Type: types.EventWalletActivity})
	assert.Error(t, err)

	// Повторная остановка безопасна
	bus.Stop()
}

// Поздние публикации из фоновых горутин не должны паниковать на
// остановленной шине: буфер не закрывается, проверка running под мьютексом.
func TestConcurrentPublishDuringStop(t *testing.T) {
	bus := NewEventBus(EventBusConfig{BufferSize: 4, WorkerCount: 2})
	bus.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = bus.Publish(types.Event{Type: types.EventWalletActivity})
			}
		}()
	}

	time.Sleep(time.Millisecond)
	bus.Stop()
	wg.Wait()
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	// Без воркеров буфер не разгружается
	bus := NewEventBus(EventBusConfig{BufferSize: 1, WorkerCount: 0})
	bus.Start()
	defer bus.Stop()

	require.NoError(t, bus.Publish(types.Event{Type: types.EventWalletActivity}))
	err := bus.Publish(types.Event{Type: types.EventWalletActivity})
	assert.Error(t, err)
}
