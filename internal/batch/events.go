package batch

import (
	"sync"
	"time"
)

// eventBuffer is the per-subscriber channel capacity. Events beyond it are
// dropped for that subscriber.
const eventBuffer = 64

// Event is a progress notification for one batch.
type Event struct {
	BatchID string `json:"batch_id"`
	// Clip is the zero-based clip index, or -1 for batch-level events.
	Clip int `json:"clip"`
	// Stage is the pipeline stage that just finished, if any.
	Stage string `json:"stage,omitempty"`
	// ClipStage is the clip's stage after the event.
	ClipStage ClipStage `json:"clip_stage,omitempty"`
	// Status is the batch status after the event.
	Status Status    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Broker fans out batch events to subscribers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewBroker creates a new Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers for events of batchID. The returned cancel func
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(batchID string) (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)

	b.mu.Lock()
	if b.subs[batchID] == nil {
		b.subs[batchID] = make(map[chan Event]struct{})
	}
	b.subs[batchID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(batchID, ch) })
	}
}

// Publish delivers ev to every subscriber of ev.BatchID without blocking.
func (b *Broker) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.BatchID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends every subscription of batchID.
func (b *Broker) Close(batchID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[batchID] {
		close(ch)
	}
	delete(b.subs, batchID)
}

func (b *Broker) remove(batchID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subs[batchID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subs, batchID)
	}
}
