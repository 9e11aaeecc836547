package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gregolima/zeca/internal/config"
	"github.com/gregolima/zeca/pkg/models"
)

// ErrQueueUnavailable reports that the queue backend did not accept the job
// within the enqueue timeout. The dispatcher never retries the enqueue call
// itself; only the eventual delivery is retried, by the queue's own policy.
var ErrQueueUnavailable = errors.New("send queue unavailable")

// Metadata keys attached to send jobs for the delivery worker.
const (
	MetaAttempts       = "attempts"
	MetaPriority       = "priority"
	MetaDelayMs        = "delay_ms"
	MetaIdempotencyKey = "idempotency_key"
)

// Options tune a single enqueue call.
type Options struct {
	Attempts       int
	Priority       int
	Delay          time.Duration
	IdempotencyKey string
}

// Dispatcher accepts outgoing-message requests and submits them to the
// durable send queue. Repeated calls with the same idempotency key within
// the dedup window produce exactly one queue entry.
type Dispatcher struct {
	publisher message.Publisher
	cfg       *config.Config
	logger    *slog.Logger
	timeout   time.Duration
	dedupTTL  time.Duration

	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time
}

// New creates a new send dispatcher.
func New(publisher message.Publisher, cfg *config.Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.WithGroup("queue.dispatcher"),
		timeout:   time.Duration(cfg.App.Queue.EnqueueTimeoutSeconds) * time.Second,
		dedupTTL:  time.Duration(cfg.App.Queue.DedupTTLMinutes) * time.Minute,
		seen:      make(map[string]time.Time),
		now:       time.Now,
	}
}

// Enqueue fills unset request fields with configured defaults and submits
// the job to the send queue. It does not wait for delivery. A duplicate
// idempotency key is a no-op success.
func (d *Dispatcher) Enqueue(ctx context.Context, req *models.SendRequest, opts Options) error {
	if req.GroupID == "" {
		req.GroupID = d.cfg.App.App.DefaultGroup
	}
	if req.Type == "" {
		req.Type = models.KindText
	}
	if opts.Attempts <= 0 {
		opts.Attempts = d.cfg.App.Queue.SendAttempts
	}

	if opts.IdempotencyKey != "" && d.alreadyEnqueued(opts.IdempotencyKey) {
		d.logger.DebugContext(ctx, "Duplicate enqueue suppressed",
			slog.String("idempotency_key", opts.IdempotencyKey),
		)
		return nil
	}

	payload, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetaAttempts, strconv.Itoa(opts.Attempts))
	if opts.Priority > 0 {
		msg.Metadata.Set(MetaPriority, strconv.Itoa(opts.Priority))
	}
	if opts.Delay > 0 {
		msg.Metadata.Set(MetaDelayMs, strconv.FormatInt(opts.Delay.Milliseconds(), 10))
	}
	if opts.IdempotencyKey != "" {
		msg.Metadata.Set(MetaIdempotencyKey, opts.IdempotencyKey)
	}

	if err := d.publish(ctx, msg); err != nil {
		return err
	}

	if opts.IdempotencyKey != "" {
		d.markEnqueued(opts.IdempotencyKey)
	}

	d.logger.DebugContext(ctx, "Send job enqueued",
		slog.String("group_id", req.GroupID),
		slog.String("type", req.Type),
		slog.String("idempotency_key", opts.IdempotencyKey),
	)

	return nil
}

// publish bounds the broker call with the enqueue timeout. A timeout is a
// definite failure for the caller, never an ambiguous outcome: the key is
// not marked seen, so the same request may be enqueued again later.
func (d *Dispatcher) publish(ctx context.Context, msg *message.Message) error {
	done := make(chan error, 1)
	go func() {
		done <- d.publisher.Publish(d.cfg.App.Queue.SendTopic, msg)
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: enqueue timed out after %s", ErrQueueUnavailable, d.timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, ctx.Err())
	}
}

func (d *Dispatcher) alreadyEnqueued(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepLocked()
	_, ok := d.seen[key]
	return ok
}

func (d *Dispatcher) markEnqueued(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepLocked()
	d.seen[key] = d.now()
}

// sweepLocked drops dedup entries older than the TTL. Callers hold d.mu.
func (d *Dispatcher) sweepLocked() {
	cutoff := d.now().Add(-d.dedupTTL)
	for key, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, key)
		}
	}
}
