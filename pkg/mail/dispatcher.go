package mail

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/board-api/pkg/jobs"
)

const jobTypeSend = "mail.send"

// Dispatcher hands messages to a worker queue so callers never wait on SMTP.
type Dispatcher struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewDispatcher wires a delivery queue in front of the given mailer.
func NewDispatcher(mailer Mailer, cfg jobs.QueueConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	d := &Dispatcher{logger: cfg.Logger}
	d.queue = jobs.NewQueue("mail", func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(Message)
		if !ok {
			d.logger.Error("dropping mail job with unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		return mailer.Send(ctx, msg)
	}, cfg)
	return d
}

// Start begins delivering queued messages.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}

// Send enqueues the message and returns immediately.
func (d *Dispatcher) Send(_ context.Context, msg Message) error {
	if err := d.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: jobTypeSend, Payload: msg}); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}
