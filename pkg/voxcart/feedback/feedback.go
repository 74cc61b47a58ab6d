// Package feedback delivers spoken prompts to the user. Delivery never blocks the
// session that produced the prompt.
package feedback

import (
	"sync"
	"sync/atomic"

	"github.com/himanishpuri/VoxCart/pkg/logger"
)

// Sink receives prompts addressed to a session.
type Sink interface {
	Say(sessionID, text string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(sessionID, text string)

func (f SinkFunc) Say(sessionID, text string) { f(sessionID, text) }

// Discard drops every prompt.
var Discard Sink = SinkFunc(func(string, string) {})

// Message is one prompt.
type Message struct {
	SessionID string
	Text      string
}

// Logger is the subset of the logger used by the log sink.
type Logger interface {
	Infof(format string, args ...any)
}

type logSink struct {
	log Logger
}

// NewLogSink writes prompts to log, or to the package logger when log is nil.
func NewLogSink(log Logger) Sink {
	if log == nil {
		log = logger.GetLogger().Named("feedback")
	}
	return &logSink{log: log}
}

func (s *logSink) Say(sessionID, text string) {
	s.log.Infof("🔊 [%s] %s", sessionID, text)
}

// Multi fans a prompt out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(id, text string) {
		for _, s := range sinks {
			s.Say(id, text)
		}
	})
}

const DefaultQueueSize = 64

// Async queues prompts for a background worker that forwards them to the wrapped
// sink. When the queue is full new prompts are dropped.
type Async struct {
	next    Sink
	queue   chan Message
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsync(next Sink, size int) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &Async{
		next:  next,
		queue: make(chan Message, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for msg := range a.queue {
		a.next.Say(msg.SessionID, msg.Text)
	}
}

// Say enqueues the prompt and returns immediately.
func (a *Async) Say(sessionID, text string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- Message{SessionID: sessionID, Text: text}:
	default:
		a.dropped.Add(1)
	}
}

// Dropped is the number of prompts lost to a full queue or a closed sink.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting prompts and waits until the queued ones are delivered.
func (a *Async) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done
	return nil
}

// Recorder keeps every prompt in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Say(sessionID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{SessionID: sessionID, Text: text})
}

// Messages returns the prompts recorded so far, oldest first.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// For returns the texts recorded for one session.
func (r *Recorder) For(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			out = append(out, m.Text)
		}
	}
	return out
}
