package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"orderbot_backend/internal/events"
	"orderbot_backend/internal/resilience"
	"orderbot_backend/internal/suppression"
	"orderbot_backend/internal/whatsapp"
	"orderbot_backend/platform/apperr"
	"orderbot_backend/platform/logger"
)

const deferredDrain = 30 * time.Second

// errConnectionLost marks a delivery aborted because the connection was
// down or the breaker open; the job is already back on the queue.
var errConnectionLost = errors.New("connection lost during delivery")

// ConnectionGate is the slice of the connection manager the worker needs.
type ConnectionGate interface {
	IsConnected() bool
	NoteSuccessfulSend()
}

// Job is one outbound message, fully rendered and addressed.
type Job struct {
	OrderID     string
	MessageType suppression.MessageType
	Recipient   string
	Body        string
	deferred    bool // already announced as deferred
}

// Worker delivers outbound messages in order. While the connection is
// down, jobs queue up and are never dropped; they drain FIFO once the
// connection returns.
type Worker struct {
	client whatsapp.Client
	gate   ConnectionGate
	guard  *suppression.Guard
	exec   *resilience.Executor
	bus    events.Bus
	log    *logger.Logger

	mu    sync.Mutex
	queue []Job
	wake  chan struct{}
}

func NewWorker(client whatsapp.Client, gate ConnectionGate, guard *suppression.Guard, exec *resilience.Executor, bus events.Bus, log *logger.Logger) *Worker {
	w := &Worker{
		client: client,
		gate:   gate,
		guard:  guard,
		exec:   exec,
		bus:    bus,
		log:    log.WithComponent("outbound"),
		wake:   make(chan struct{}, 1),
	}
	if bus != nil {
		bus.Subscribe("connection.established", events.HandlerFunc(func(context.Context, events.Event) error {
			w.signal()
			return nil
		}))
	}
	return w
}

// Enqueue accepts a job for delivery. The call never blocks and never
// rejects; a disconnected worker holds the job until the connection is back.
func (w *Worker) Enqueue(job Job) {
	w.mu.Lock()
	if !w.gate.IsConnected() && !job.deferred {
		job.deferred = true
		w.publish(events.MessageDeferred{
			BaseEvent: events.NewBaseEvent(), OrderID: job.OrderID, MessageType: string(job.MessageType),
		})
		w.log.Info("message deferred until reconnect",
			"orderId", job.OrderID, "messageType", string(job.MessageType))
	}
	w.queue = append(w.queue, job)
	pending := len(w.queue)
	w.mu.Unlock()

	w.log.Debug("job queued", "orderId", job.OrderID, "pending", pending)
	w.signal()
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Run drains the queue until the context is done. The periodic tick covers
// reconnects whose event was published before this worker subscribed.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(deferredDrain)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-ticker.C:
		}
		w.drain(ctx)
	}
}

func (w *Worker) drain(ctx context.Context) {
	for w.gate.IsConnected() {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		job := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if err := w.deliver(ctx, job); err != nil {
			if errors.Is(err, errConnectionLost) {
				// deliver already requeued the job; wait for the reconnect.
				return
			}
			if ctx.Err() != nil {
				// Shutting down: keep the job for the next run.
				w.requeue(job)
				return
			}
			w.log.SendOutcome(job.OrderID, string(job.MessageType), false, err)
			if markErr := w.guard.MarkFailed(ctx, job.OrderID, job.MessageType); markErr != nil {
				w.log.Error("mark failed", "orderId", job.OrderID, "error", markErr)
			}
			continue
		}

		w.gate.NoteSuccessfulSend()
		w.log.SendOutcome(job.OrderID, string(job.MessageType), true, nil)
		if err := w.guard.MarkSent(ctx, job.OrderID, job.MessageType); err != nil {
			w.log.Error("mark sent", "orderId", job.OrderID, "error", err)
		}
		w.publish(events.MessageSent{
			BaseEvent: events.NewBaseEvent(), OrderID: job.OrderID,
			MessageType: string(job.MessageType), Recipient: job.Recipient,
		})
	}
}

// deliver hands the send to the shared chat-client executor, which owns
// retry and the class-wide circuit breaker. An unavailable outcome (gate
// closed, breaker open, connection dropped mid-delivery) puts the job
// back at the head of the queue.
func (w *Worker) deliver(ctx context.Context, job Job) error {
	err := w.exec.Do(ctx, "send message", func(ctx context.Context) error {
		if !w.gate.IsConnected() {
			return apperr.Unavailable("connection lost").WithOp("outbound.deliver")
		}
		return w.client.SendMessage(ctx, job.Recipient, job.Body)
	})
	if err != nil && apperr.Is(err, apperr.KindUnavailable) {
		w.requeue(job)
		return errConnectionLost
	}
	return err
}

// requeue puts a job back at the head so FIFO order is preserved.
func (w *Worker) requeue(job Job) {
	w.mu.Lock()
	w.queue = append([]Job{job}, w.queue...)
	w.mu.Unlock()
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) publish(ev events.Event) {
	if w.bus != nil {
		w.bus.Publish(context.Background(), ev)
	}
}
