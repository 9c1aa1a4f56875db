package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opcbridge/opcbridge/internal/publisher"
)

// Space reserved inside each hub message for transport-level system
// properties, the content-type/encoding headers, and the two JSON array
// bracket bytes.
const (
	systemPropertyReserveBytes = 256
	jsonBracketBytes           = 2
)

// HubSender is the hub-client capability the processors need: fire one
// encoded message tagged with the processor's message schema.
type HubSender interface {
	SendMessage(ctx context.Context, payload []byte, schema string) error
}

// ProcessorOptions sizes one processor's batching behavior.
type ProcessorOptions struct {
	// BufferSize is the configured hub message size; 0 means "use
	// MaxMessageSize", unless SendInterval is also 0, which selects
	// single-message mode.
	BufferSize int
	// MaxMessageSize is the transport's hard message size cap.
	MaxMessageSize int
	// SendInterval is the time trigger between flushes; 0 disables the
	// time trigger.
	SendInterval time.Duration
	QueueCapacity int
}

// Processor owns one queue and the drain loop that batches its messages
// into size-bounded buffers flushed to the hub on a size or time trigger.
type Processor struct {
	kind  publisher.QueueKind
	queue *Queue

	sender       HubSender
	sendInterval time.Duration
	usableSize   int
	singleMode   bool

	sentMessages    atomic.Uint64
	sentBytes       atomic.Uint64
	failedMessages  atomic.Uint64
	tooLargeDropped atomic.Uint64

	logger *slog.Logger
}

// NewProcessor builds a processor for one message class.
func NewProcessor(kind publisher.QueueKind, sender HubSender, opts ProcessorOptions, logger *slog.Logger) *Processor {
	bufferSize := opts.BufferSize
	singleMode := opts.SendInterval == 0 && bufferSize == 0
	if bufferSize <= 0 {
		bufferSize = opts.MaxMessageSize
	}
	usable := bufferSize - systemPropertyReserveBytes - jsonBracketBytes
	if usable < 1 {
		usable = 1
	}

	return &Processor{
		kind:         kind,
		queue:        NewQueue(kind, opts.QueueCapacity, logger),
		sender:       sender,
		sendInterval: opts.SendInterval,
		usableSize:   usable,
		singleMode:   singleMode,
		logger:       logger.With("component", "dispatch_processor", "queue", kind.String()),
	}
}

// Queue exposes the processor's queue to the router.
func (p *Processor) Queue() *Queue { return p.queue }

// Kind returns the message class this processor serves.
func (p *Processor) Kind() publisher.QueueKind { return p.kind }

// SentMessages reports hub messages flushed successfully.
func (p *Processor) SentMessages() uint64 { return p.sentMessages.Load() }

// SentBytes reports payload bytes flushed successfully.
func (p *Processor) SentBytes() uint64 { return p.sentBytes.Load() }

// FailedMessages reports hub send failures.
func (p *Processor) FailedMessages() uint64 { return p.failedMessages.Load() }

// TooLargeDropped reports messages dropped for exceeding the buffer size.
func (p *Processor) TooLargeDropped() uint64 { return p.tooLargeDropped.Load() }

// Run is the drain loop. It runs for the process lifetime and exits only
// after a shutdown-triggered final drain and flush.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("dispatch processor started",
		"usable_buffer_bytes", p.usableSize,
		"send_interval", p.sendInterval.String(),
		"single_message_mode", p.singleMode,
	)

	buf := make([]byte, 1, p.usableSize+1)
	buf[0] = '['
	batched := 0
	nextSend := time.Now().Add(p.sendInterval)
	var pendingAfterFlush []byte

	for {
		shuttingDown := ctx.Err() != nil

		var msg *publisher.MessageData
		var ok bool
		switch {
		case shuttingDown:
			msg, ok = p.queue.TryDequeue()
		case p.sendInterval > 0:
			msg, ok = p.queue.DequeueTimeout(ctx, time.Until(nextSend))
		default:
			msg, ok = p.queue.DequeueWait(ctx)
		}

		if ok {
			encoded, err := json.Marshal(msg)
			if err != nil {
				p.logger.Error("failed to encode message, dropped", "error", err)
				continue
			}

			if p.singleMode {
				p.send(encoded)
				continue
			}

			if len(encoded)+1 > p.usableSize {
				n := p.tooLargeDropped.Add(1)
				p.logger.Error("message exceeds hub buffer size, dropped",
					"message_bytes", len(encoded),
					"usable_buffer_bytes", p.usableSize,
					"dropped_total", n,
				)
				continue
			}

			if len(buf)+len(encoded)+1 <= p.usableSize+1 {
				buf = append(buf, encoded...)
				buf = append(buf, ',')
				batched++
				continue
			}

			// No room: flush first, batch this one afterwards.
			pendingAfterFlush = encoded
		} else if batched == 0 {
			if shuttingDown {
				break
			}
			// Deadline passed with nothing batched, just rearm.
			nextSend = time.Now().Add(p.sendInterval)
			continue
		}

		// Flush: replace the trailing comma with the closing bracket.
		buf[len(buf)-1] = ']'
		p.send(buf)

		buf = buf[:1]
		batched = 0
		nextSend = time.Now().Add(p.sendInterval)
		if pendingAfterFlush != nil {
			buf = append(buf, pendingAfterFlush...)
			buf = append(buf, ',')
			batched = 1
			pendingAfterFlush = nil
		}
	}

	if batched > 0 {
		buf[len(buf)-1] = ']'
		p.send(buf)
	}
	p.queue.CompleteAdding()
	p.logger.Info("dispatch processor stopped",
		"sent_messages", p.sentMessages.Load(),
		"failed_messages", p.failedMessages.Load(),
	)
}

// send fires one hub message; failures are counted, never retried.
func (p *Processor) send(payload []byte) {
	out := make([]byte, len(payload))
	copy(out, payload)
	if err := p.sender.SendMessage(context.Background(), out, p.kind.String()); err != nil {
		n := p.failedMessages.Add(1)
		p.logger.Error("hub send failed, message discarded",
			"payload_bytes", len(out),
			"failed_total", n,
			"error", err,
		)
		return
	}
	p.sentMessages.Add(1)
	p.sentBytes.Add(uint64(len(out)))
}
