package publisher

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/opcbridge/opcbridge/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureRouter records every routed message for assertions.
type captureRouter struct {
	mu   sync.Mutex
	msgs []*MessageData
}

func (r *captureRouter) Route(msg *MessageData) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *captureRouter) routed() []*MessageData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*MessageData, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func newTestSettings(t *testing.T, pub config.PublisherConfig) *Settings {
	t.Helper()
	if pub.DefaultPublishingIntervalMS == 0 {
		pub.DefaultPublishingIntervalMS = 1000
	}
	if pub.DefaultSamplingIntervalMS == 0 {
		pub.DefaultSamplingIntervalMS = 1000
	}
	if pub.SuppressedStatusCodes == nil {
		pub.SuppressedStatusCodes = []string{"BadNoCommunication", "BadWaitingForInitialData"}
	}
	settings, err := NewSettings(pub, config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}
	return settings
}
