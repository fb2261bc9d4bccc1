package cleaner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/versiongc/versiongc/internal/logging"
	"github.com/versiongc/versiongc/internal/queue"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// PollIntervalMs is the pause after an empty receive or a failed batch.
	// Default: 5000
	PollIntervalMs int64

	// Heartbeat, if set, is called once per loop iteration.
	Heartbeat func()
}

// Worker feeds messages from a queue.Receiver through a Cleaner.
// A batch is acknowledged only after Process succeeds; a failed batch is
// handed back with Nack for redelivery.
type Worker struct {
	cleaner  *Cleaner
	receiver queue.Receiver
	config   WorkerConfig
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	cancel  context.CancelFunc
}

// NewWorker creates a Worker.
func NewWorker(c *Cleaner, r queue.Receiver, config WorkerConfig) *Worker {
	if config.PollIntervalMs <= 0 {
		config.PollIntervalMs = 5000
	}
	return &Worker{
		cleaner:  c,
		receiver: r,
		config:   config,
		logger:   c.logger,
	}
}

// RunOnce receives one batch, processes it and acknowledges it. It returns a
// zero Result when no messages were available.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	msgs, err := w.receiver.Receive(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(msgs) == 0 {
		return Result{}, nil
	}

	res, err := w.cleaner.Process(ctx, msgs)
	if err != nil {
		if nackErr := w.receiver.Nack(context.WithoutCancel(ctx), msgs); nackErr != nil {
			return res, errors.Join(err, nackErr)
		}
		return res, err
	}
	if err := w.receiver.Ack(ctx, msgs); err != nil {
		return res, err
	}
	return res, nil
}

// Start begins the background receive loop.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.cancel = cancel
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop cancels any in-flight receive and waits for the loop to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.cancel()
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	interval := time.Duration(w.config.PollIntervalMs) * time.Millisecond
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if w.config.Heartbeat != nil {
			w.config.Heartbeat()
		}

		res, err := w.RunOnce(ctx)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			return
		case err != nil:
			w.logger.Errorf("cleanup batch failed", map[string]any{"error": err})
		case res.Messages > 0:
			w.logger.Info(res.String())
			continue
		}

		select {
		case <-w.stopCh:
			return
		case <-time.After(interval):
		}
	}
}
