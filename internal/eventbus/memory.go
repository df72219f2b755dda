package eventbus

import (
	"context"
	"sync"
)

// InMemoryBus is a process-local Bus used by unit tests that don't want a
// real or miniredis-backed Redis instance. Publishes fan out to every
// subscriber registered at the time of the call.
type InMemoryBus struct {
	mu   sync.Mutex
	subs []chan ConfigPlanSwitched
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{}
}

func (b *InMemoryBus) Publish(_ context.Context, event ConfigPlanSwitched) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *InMemoryBus) Subscribe(ctx context.Context) (<-chan ConfigPlanSwitched, error) {
	ch := make(chan ConfigPlanSwitched, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *InMemoryBus) Close() error { return nil }
