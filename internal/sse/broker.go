// Package sse streams task updates to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/studiopack/internal/models"
)

// Event types.
const (
	EventRunStarted  = "run.started"
	EventTaskUpdated = "task.updated"
	EventRunProgress = "run.progress"
	EventRunFinished = "run.finished"
)

// heartbeat keeps idle connections open through proxies.
const heartbeat = 15 * time.Second

// Event is one message broadcast to every client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Progress is the payload of run.progress.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

type taskUpdate struct {
	task     models.Task
	progress Progress
}

// message is either a plain event or a task update. Both share one queue so
// a run.started is never overtaken by the updates that follow it.
type message struct {
	event *Event
	task  *taskUpdate
}

// runState is what a client joining mid-run is replayed: the start event,
// the latest version of every task and the latest progress.
type runState struct {
	started  *Event
	order    []string
	tasks    map[string]models.Task
	progress *Progress
}

func (s *runState) reset(started *Event) {
	s.started = started
	s.order = nil
	s.tasks = make(map[string]models.Task)
	s.progress = nil
}

func (s *runState) apply(up taskUpdate) {
	if _, ok := s.tasks[up.task.ID]; !ok {
		s.order = append(s.order, up.task.ID)
	}
	s.tasks[up.task.ID] = up.task
	p := up.progress
	s.progress = &p
}

func (s *runState) replay() []Event {
	var out []Event
	if s.started != nil {
		out = append(out, *s.started)
	}
	for _, id := range s.order {
		out = append(out, Event{Type: EventTaskUpdated, Data: s.tasks[id]})
	}
	if s.progress != nil {
		out = append(out, Event{Type: EventRunProgress, Data: *s.progress})
	}
	return out
}

// Broker fans events out to SSE clients. Every frame carries a sequence id.
//
// A single loop goroutine owns the client set, the replay state and the
// progress throttle; public methods talk to it over channels.
type Broker struct {
	progressMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan message
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker emitting run.progress at most once per interval.
func NewBroker(progressThrottle time.Duration) *Broker {
	if progressThrottle <= 0 {
		progressThrottle = 500 * time.Millisecond
	}

	b := &Broker{
		progressMin:   progressThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan message, 512),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		seq          int64
		lastProgress time.Time
		state        runState
	)
	state.reset(nil)

	frame := func(event Event) []byte {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return nil
		}
		seq++
		return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)
	}
	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Slow client; drop rather than block the loop.
		}
	}
	broadcast := func(event Event) {
		raw := frame(event)
		if raw == nil {
			return
		}
		for ch := range clients {
			send(ch, raw)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			for _, event := range state.replay() {
				if raw := frame(event); raw != nil {
					send(ch, raw)
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case msg := <-b.publishCh:
			if msg.event != nil {
				event := *msg.event
				if event.Type == EventRunStarted {
					state.reset(&event)
					lastProgress = time.Time{}
				}
				broadcast(event)
				continue
			}
			up := *msg.task
			state.apply(up)
			broadcast(Event{Type: EventTaskUpdated, Data: up.task})

			// The final count always goes out so clients see completion.
			now := time.Now()
			final := up.progress.Total > 0 && up.progress.Done == up.progress.Total
			if final || now.Sub(lastProgress) >= b.progressMin {
				lastProgress = now
				broadcast(Event{Type: EventRunProgress, Data: up.progress})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client and returns its channel. The client first
// receives the state of the current run.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients. run.started also clears
// the replay state.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- message{event: &event}:
	case <-b.stopped:
	}
}

// PublishTask sends task.updated and a throttled run.progress.
func (b *Broker) PublishTask(task models.Task, done, total int) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- message{task: &taskUpdate{task: task, progress: Progress{Done: done, Total: total}}}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
