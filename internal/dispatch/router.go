package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opcbridge/opcbridge/internal/config"
	"github.com/opcbridge/opcbridge/internal/publisher"
)

// Router owns the four dispatch processors and implements the telemetry
// routing contract: each normalized record lands in the queue selected by
// its publish-mode tag.
type Router struct {
	processors map[publisher.QueueKind]*Processor
	logger     *slog.Logger
}

// NewRouter builds the four processors from hub configuration. The
// properties, settings and events processors share the default processor's
// sizing.
func NewRouter(sender HubSender, cfg config.HubConfig, logger *slog.Logger) *Router {
	opts := ProcessorOptions{
		BufferSize:     cfg.MessageSizeBytes,
		MaxMessageSize: cfg.MaxMessageSizeBytes,
		SendInterval:   cfg.GetSendInterval(),
		QueueCapacity:  cfg.QueueCapacity,
	}
	kinds := []publisher.QueueKind{
		publisher.QueueDefault,
		publisher.QueueProperties,
		publisher.QueueSettings,
		publisher.QueueEvents,
	}
	processors := make(map[publisher.QueueKind]*Processor, len(kinds))
	for _, kind := range kinds {
		processors[kind] = NewProcessor(kind, sender, opts, logger)
	}
	return &Router{
		processors: processors,
		logger:     logger.With("component", "dispatch_router"),
	}
}

// Route enqueues the record into the queue its publish mode selects.
// Never blocks the caller; a full queue drops the record.
func (r *Router) Route(msg *publisher.MessageData) {
	r.processors[msg.TargetQueue()].Queue().TryEnqueue(msg)
}

// Processor returns the processor for one message class.
func (r *Router) Processor(kind publisher.QueueKind) *Processor {
	return r.processors[kind]
}

// Run starts all four drain loops and blocks until each has completed its
// shutdown drain.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range r.processors {
		wg.Add(1)
		go func(p *Processor) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	wg.Wait()
}

// Drain gives the processors a bounded window to flush after the run
// context is cancelled; used by tests and the shutdown path to observe
// completion.
func (r *Router) Drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for _, p := range r.processors {
		for p.Queue().Len() > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}
}
