package scheduler

import (
	"context"
	"fmt"

	"orderbot_backend/platform/config"
	"orderbot_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// DispatchHooks are the re-entry points the worker drives. Both re-check
// the order's current status before sending anything.
type DispatchHooks interface {
	HandleFollowUp(ctx context.Context, orderID string) error
	HandleReminder(ctx context.Context, orderID string) error
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	hooks  DispatchHooks
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, hooks DispatchHooks, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		hooks:  hooks,
		log:    log,
	}

	mux.HandleFunc(TaskOrderFollowUp, w.handleOrderFollowUp)
	mux.HandleFunc(TaskOrderReminder, w.handleOrderReminder)

	return w, nil
}

func (w *Worker) handleOrderFollowUp(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOrderFollowUpPayload(task)
	if err != nil {
		return err
	}
	return w.hooks.HandleFollowUp(ctx, payload.OrderID)
}

func (w *Worker) handleOrderReminder(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOrderReminderPayload(task)
	if err != nil {
		return err
	}
	return w.hooks.HandleReminder(ctx, payload.OrderID)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
