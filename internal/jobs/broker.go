package jobs

import (
	"sync"

	"github.com/halworsen/footgas/internal/export"
)

const subscriberBuffer = 32

// Broker fans progress events of running jobs out to subscribers. A
// subscriber that falls behind is dropped and its channel closed.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan export.Event]struct{}
	last map[string]export.Event
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan export.Event]struct{}),
		last: make(map[string]export.Event),
	}
}

// Subscribe registers for events of jobID. The latest event, if any, is
// delivered first. The returned function unsubscribes.
func (b *Broker) Subscribe(jobID string) (<-chan export.Event, func()) {
	ch := make(chan export.Event, subscriberBuffer)

	b.mu.Lock()
	if last, ok := b.last[jobID]; ok {
		ch <- last
	}
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan export.Event]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(jobID, ch) })
	}
}

// Publish delivers ev to every subscriber of jobID. A terminal event closes
// all subscriptions of the job.
func (b *Broker) Publish(jobID string, ev export.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[jobID] {
		select {
		case ch <- ev:
		default:
			delete(b.subs[jobID], ch)
			close(ch)
		}
	}

	if ev.Phase.Terminal() {
		for ch := range b.subs[jobID] {
			close(ch)
		}
		delete(b.subs, jobID)
		delete(b.last, jobID)
		return
	}
	b.last[jobID] = ev
}

// Subscribers returns the number of live subscriptions for jobID.
func (b *Broker) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

func (b *Broker) remove(jobID string, ch chan export.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subs[jobID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subs, jobID)
	}
}
