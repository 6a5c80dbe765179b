package training

import (
	"sync"

	"github.com/loiht2/ctr-aiops/backend/models"
)

// EventType names a progress event
type EventType string

const (
	EventEpoch     EventType = "epoch_update"
	EventCompleted EventType = "training_complete"
	EventFailed    EventType = "training_failed"
)

// subscriberBuffer is how many events a slow subscriber may fall behind
// before events are dropped for it.
const subscriberBuffer = 64

// Event is published after every epoch and once when a run ends.
type Event struct {
	Type        EventType
	RunID       string
	Epoch       int
	TotalEpochs int
	Metrics     map[string]float64
	Error       string
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}

func newEvent(t EventType, job *models.TrainingJob) Event {
	metrics := make(map[string]float64, len(job.Metrics))
	for k, v := range job.Metrics {
		metrics[k] = v
	}
	return Event{
		Type:        t,
		RunID:       job.RunID,
		Epoch:       job.CurrentEpoch,
		TotalEpochs: job.TotalEpochs,
		Metrics:     metrics,
		Error:       job.Error,
	}
}

// terminalEvent describes a finished job, or returns false while it runs.
func terminalEvent(job *models.TrainingJob) (Event, bool) {
	switch job.Status {
	case models.StatusCompleted:
		return newEvent(EventCompleted, job), true
	case models.StatusFailed:
		return newEvent(EventFailed, job), true
	}
	return Event{}, false
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// broker fans run events out to subscribers. Sends never block; a full
// subscriber misses the event. Channels close after the terminal event.
type broker struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]*subscriber
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[int]*subscriber)}
}

func (b *broker) subscribe(runID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[int]*subscriber)
	}
	b.subs[runID][id] = sub

	return sub.ch, func() {
		b.mu.Lock()
		if subs, ok := b.subs[runID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subs, runID)
			}
		}
		b.mu.Unlock()
		sub.close()
	}
}

func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[ev.RunID] {
		select {
		case sub.ch <- ev:
		default:
			if ev.Terminal() {
				// make room so the stream always ends with its terminal event
				select {
				case <-sub.ch:
				default:
				}
				sub.ch <- ev
			}
		}
		if ev.Terminal() {
			sub.close()
		}
	}
	if ev.Terminal() {
		delete(b.subs, ev.RunID)
	}
}

// closeAll ends every stream without a terminal event.
func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for runID, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
		delete(b.subs, runID)
	}
}
