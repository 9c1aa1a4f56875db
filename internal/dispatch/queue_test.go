package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/opcbridge/opcbridge/internal/config"
	"github.com/opcbridge/opcbridge/internal/publisher"
)

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(publisher.QueueDefault, 2, discardLogger())
	msg := testMessage("ns=2;s=A")

	if !q.TryEnqueue(msg) || !q.TryEnqueue(msg) {
		t.Fatal("enqueue into empty queue failed")
	}
	if q.TryEnqueue(msg) {
		t.Error("enqueue into full queue succeeded")
	}
	if got := q.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if got := q.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

func TestQueueCompleteAddingRejects(t *testing.T) {
	q := NewQueue(publisher.QueueDefault, 4, discardLogger())
	q.CompleteAdding()

	if q.TryEnqueue(testMessage("ns=2;s=A")) {
		t.Error("enqueue after CompleteAdding succeeded")
	}
	if got := q.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestQueueDequeueTimeout(t *testing.T) {
	q := NewQueue(publisher.QueueDefault, 4, discardLogger())

	start := time.Now()
	if _, ok := q.DequeueTimeout(context.Background(), 20*time.Millisecond); ok {
		t.Fatal("dequeue from empty queue succeeded")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("DequeueTimeout returned before the deadline")
	}

	q.TryEnqueue(testMessage("ns=2;s=A"))
	if _, ok := q.DequeueTimeout(context.Background(), time.Second); !ok {
		t.Error("dequeue from non-empty queue failed")
	}
}

func TestRouterRoutesByPublishMode(t *testing.T) {
	r := NewRouter(&fakeSender{}, config.HubConfig{
		MaxMessageSizeBytes: 262144,
		SendIntervalSeconds: 10,
		QueueCapacity:       16,
	}, discardLogger())

	r.Route(&publisher.MessageData{DataChange: &publisher.DataChangeMessageData{
		NodeID: "ns=2;s=A", PublishMode: publisher.PublishModeDefault,
	}})
	r.Route(&publisher.MessageData{DataChange: &publisher.DataChangeMessageData{
		NodeID: "ns=2;s=B", PublishMode: publisher.PublishModeSetting,
	}})
	r.Route(&publisher.MessageData{DataChange: &publisher.DataChangeMessageData{
		NodeID: "ns=2;s=C", PublishMode: publisher.PublishModeProperty,
	}})
	r.Route(&publisher.MessageData{Event: &publisher.EventMessageData{
		NodeID: "ns=2;s=D", PublishMode: publisher.PublishModeEvent,
	}})
	// A property-tagged field overrides event-level routing.
	r.Route(&publisher.MessageData{Event: &publisher.EventMessageData{
		NodeID:      "ns=2;s=E",
		PublishMode: publisher.PublishModeEvent,
		EventValues: []publisher.EventValue{
			{Name: "Severity", Value: []byte("500"), PublishMode: publisher.PublishModeProperty},
		},
	}})

	counts := map[publisher.QueueKind]int{
		publisher.QueueDefault:    1,
		publisher.QueueSettings:   1,
		publisher.QueueProperties: 2,
		publisher.QueueEvents:     1,
	}
	for kind, want := range counts {
		if got := r.Processor(kind).Queue().Len(); got != want {
			t.Errorf("queue %s holds %d messages, want %d", kind, got, want)
		}
	}
}
