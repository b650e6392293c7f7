// Package broker implements the progress broker (C2): an in-process,
// channel-based fan-out of job progress events, keyed by job id, with the
// same register/unregister/broadcast goroutine shape as the teacher's
// internal/sse.Broadcaster but generalized so both the HTTP/SSE surface and
// the agent-tool surface can subscribe to it. Non-terminal ticks coalesce
// (a slow subscriber only ever sees the latest one); terminal events are
// never dropped.
package broker

import (
	"transcriflow/internal/models"
	"transcriflow/pkg/logger"
)

// subscriberBuffer is one slot: it holds the latest unread event, and a
// newer tick replaces it instead of queuing behind it.
const subscriberBuffer = 1

type subscription struct {
	jobID string
	ch    chan models.ProgressEvent
	reply chan *models.ProgressEvent
}

type publishMsg struct {
	jobID string
	event models.ProgressEvent
}

// Broker fans out ProgressEvents to subscribers, one event stream per job
// id, and remembers the latest event per job so a subscriber that arrives
// mid-job gets an immediate snapshot instead of waiting for the next tick.
type Broker struct {
	register   chan subscription
	unregister chan subscription
	publish    chan publishMsg
	shutdown   chan struct{}

	subscribers map[string]map[chan models.ProgressEvent]bool
	lastEvent   map[string]models.ProgressEvent
}

// New creates a Broker and starts its dispatch loop.
func New() *Broker {
	b := &Broker{
		register:    make(chan subscription),
		unregister:  make(chan subscription),
		publish:     make(chan publishMsg, 64),
		shutdown:    make(chan struct{}),
		subscribers: make(map[string]map[chan models.ProgressEvent]bool),
		lastEvent:   make(map[string]models.ProgressEvent),
	}
	go b.listen()
	return b
}

// Publish implements store.Publisher. It never blocks the caller: the
// dispatch loop owns all subscriber-channel sends.
func (b *Broker) Publish(e models.ProgressEvent) {
	select {
	case b.publish <- publishMsg{jobID: e.JobID, event: e}:
	case <-b.shutdown:
	}
}

// Subscribe returns a channel of events for jobID, and the event
// representing the job's last known state if one has already been
// published (nil if none yet). Call Unsubscribe with the same channel when
// done.
func (b *Broker) Subscribe(jobID string) (ch chan models.ProgressEvent, last *models.ProgressEvent) {
	sub := subscription{
		jobID: jobID,
		ch:    make(chan models.ProgressEvent, subscriberBuffer),
		reply: make(chan *models.ProgressEvent, 1),
	}
	select {
	case b.register <- sub:
		last = <-sub.reply
	case <-b.shutdown:
	}
	return sub.ch, last
}

// Unsubscribe removes a previously-subscribed channel.
func (b *Broker) Unsubscribe(jobID string, ch chan models.ProgressEvent) {
	select {
	case b.unregister <- subscription{jobID: jobID, ch: ch}:
	case <-b.shutdown:
	}
}

// Shutdown stops the dispatch loop. Safe to call once.
func (b *Broker) Shutdown() {
	close(b.shutdown)
}

func (b *Broker) listen() {
	for {
		select {
		case sub := <-b.register:
			ev, ok := b.lastEvent[sub.jobID]
			if ok && ev.IsTerminal() {
				// The job already reached a terminal state: deliver the
				// cached snapshot and close immediately without ever
				// registering as a live subscriber.
				sub.reply <- &ev
				close(sub.ch)
				continue
			}
			if b.subscribers[sub.jobID] == nil {
				b.subscribers[sub.jobID] = make(map[chan models.ProgressEvent]bool)
			}
			b.subscribers[sub.jobID][sub.ch] = true
			if ok {
				sub.reply <- &ev
			} else {
				sub.reply <- nil
			}

		case sub := <-b.unregister:
			if subs, ok := b.subscribers[sub.jobID]; ok {
				delete(subs, sub.ch)
				close(sub.ch)
				if len(subs) == 0 {
					delete(b.subscribers, sub.jobID)
				}
			}

		case msg := <-b.publish:
			b.lastEvent[msg.jobID] = msg.event
			for ch := range b.subscribers[msg.jobID] {
				b.send(ch, msg.event)
			}
			if msg.event.IsTerminal() {
				// The stream ends once a terminal event has been delivered:
				// close every live subscriber for this job now, after
				// forwarding it. The last-snapshot cache itself is kept (not
				// deleted here) so a subscriber that joins later still
				// receives the terminal snapshot, per the "subscriber
				// joining after terminal" boundary behavior.
				for ch := range b.subscribers[msg.jobID] {
					close(ch)
				}
				delete(b.subscribers, msg.jobID)
			}

		case <-b.shutdown:
			for _, subs := range b.subscribers {
				for ch := range subs {
					close(ch)
				}
			}
			return
		}
	}
}

// send coalesces: if the subscriber's buffer is full of non-terminal
// events, drop the oldest queued one and push the new one, so a slow
// subscriber never sees more than one stale tick behind. Terminal events
// always get a slot, forcing a drop of a queued non-terminal tick if
// necessary; the subscriber never misses a terminal event.
func (b *Broker) send(ch chan models.ProgressEvent, e models.ProgressEvent) {
	select {
	case ch <- e:
		return
	default:
	}
	if !e.IsTerminal() {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- e:
		default:
			logger.Warn("dropped progress tick for full subscriber", "job_id", e.JobID)
		}
		return
	}
	// Terminal: drain one slot to guarantee delivery.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- e:
	default:
		logger.Error("failed to deliver terminal event to subscriber", "job_id", e.JobID)
	}
}
