package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// asyncLogger buffers events in a ring and flushes them from a background
// goroutine. When the ring is full the oldest event is dropped.
type asyncLogger struct {
	writer Writer

	buffer []interface{}
	size   int
	head   int
	tail   int
	mu     sync.Mutex

	flushCh  chan struct{}
	doneCh   chan struct{}
	wg       sync.WaitGroup
	interval time.Duration
}

func newAsyncLogger(writer Writer, cfg Config) *asyncLogger {
	l := &asyncLogger{
		writer:   writer,
		buffer:   make([]interface{}, cfg.BufferSize),
		size:     cfg.BufferSize,
		flushCh:  make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
		interval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.run()
	return l
}

// LogDecision records an authorization decision
func (l *asyncLogger) LogDecision(ctx context.Context, event *DecisionEvent) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.EventType = EventTypeDecision
	l.enqueue(event)
}

// LogTicket records a ticket lifecycle operation
func (l *asyncLogger) LogTicket(ctx context.Context, event *TicketEvent) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.EventType = EventTypeTicket
	l.enqueue(event)
}

// LogSyncRun records a reconciliation run
func (l *asyncLogger) LogSyncRun(ctx context.Context, event *SyncEvent) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.EventType = EventTypeGroupSync
	l.enqueue(event)
}

func (l *asyncLogger) enqueue(event interface{}) {
	l.mu.Lock()
	l.buffer[l.tail] = event
	l.tail = (l.tail + 1) % l.size
	if l.tail == l.head {
		// Full: drop the oldest
		l.head = (l.head + 1) % l.size
	}
	l.mu.Unlock()

	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

func (l *asyncLogger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.flush()
		case <-l.flushCh:
			_ = l.flush()
		case <-l.doneCh:
			_ = l.flush()
			return
		}
	}
}

// Flush writes all buffered events
func (l *asyncLogger) Flush() error {
	return l.flush()
}

func (l *asyncLogger) flush() error {
	l.mu.Lock()
	events := l.drain()
	l.mu.Unlock()

	var lastErr error
	for _, event := range events {
		if err := l.writer.Write(event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// drain copies the ring contents and clears it. Caller holds the lock.
func (l *asyncLogger) drain() []interface{} {
	if l.head == l.tail {
		return nil
	}
	var events []interface{}
	for i := l.head; i != l.tail; i = (i + 1) % l.size {
		events = append(events, l.buffer[i])
	}
	l.head = l.tail
	return events
}

// Close flushes remaining events and closes the writer
func (l *asyncLogger) Close() error {
	close(l.doneCh)
	l.wg.Wait()
	return l.writer.Close()
}

func generateEventID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "evt-" + hex.EncodeToString(b)
}
