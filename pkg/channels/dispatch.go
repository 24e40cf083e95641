package channels

import (
	"context"
	"sync"
	"time"

	"github.com/dotsetgreg/personarelay/pkg/bus"
)

const (
	chatQueueSize = 32
	chatQueueIdle = time.Minute
)

// chatDispatcher fans outbound messages out to one worker per chat. Messages
// for a chat keep their order; a chat waiting on its send pacing does not
// hold up any other chat.
type chatDispatcher struct {
	deliver func(context.Context, bus.OutboundMessage)
	idle    time.Duration

	mu      sync.Mutex
	queues  map[string]chan bus.OutboundMessage
	workers sync.WaitGroup
}

func newChatDispatcher(deliver func(context.Context, bus.OutboundMessage)) *chatDispatcher {
	return &chatDispatcher{
		deliver: deliver,
		idle:    chatQueueIdle,
		queues:  make(map[string]chan bus.OutboundMessage),
	}
}

func dispatchKey(msg bus.OutboundMessage) string {
	return msg.Channel + "|" + msg.ChatID + "|" + msg.BusinessConnectionID
}

// enqueue hands msg to its chat's worker, starting one if needed. It only
// blocks when that chat's queue is full.
func (d *chatDispatcher) enqueue(ctx context.Context, msg bus.OutboundMessage) {
	key := dispatchKey(msg)

	d.mu.Lock()
	q, ok := d.queues[key]
	if !ok {
		q = make(chan bus.OutboundMessage, chatQueueSize)
		d.queues[key] = q
		d.workers.Add(1)
		go d.run(ctx, key, q)
	}
	// Workers only retire an empty queue under d.mu, so a queued message is
	// always drained.
	select {
	case q <- msg:
		d.mu.Unlock()
		return
	default:
	}
	d.mu.Unlock()

	select {
	case q <- msg:
	case <-ctx.Done():
	}
}

func (d *chatDispatcher) run(ctx context.Context, key string, q chan bus.OutboundMessage) {
	defer d.workers.Done()

	idle := time.NewTimer(d.idle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q:
			if !ok {
				return
			}
			d.deliver(ctx, msg)
			idle.Reset(d.idle)
		case <-idle.C:
			d.mu.Lock()
			if len(q) == 0 {
				delete(d.queues, key)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idle)
		}
	}
}

// shutdown lets every worker drain what is already queued and waits for
// them. Workers stop early once the dispatch context is done.
func (d *chatDispatcher) shutdown() {
	d.mu.Lock()
	for key, q := range d.queues {
		close(q)
		delete(d.queues, key)
	}
	d.mu.Unlock()
	d.workers.Wait()
}

func (d *chatDispatcher) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}
