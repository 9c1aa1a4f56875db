package publisher

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/opcbridge/opcbridge/internal/auth"
	"github.com/opcbridge/opcbridge/internal/config"
)

func newTestSession(t *testing.T, onItemAdded func()) *OpcSession {
	t.Helper()
	settings := newTestSettings(t, config.PublisherConfig{DefaultPublishingIntervalMS: 1000})
	return NewOpcSession(uuid.New(), "opc.tcp://plc:4840", false, settings, &captureRouter{}, onItemAdded, discardLogger())
}

func TestAddNodeForMonitoringStatuses(t *testing.T) {
	ctx := context.Background()
	added := 0
	s := newTestSession(t, func() { added++ })

	st, err := s.AddNodeForMonitoring(ctx, DataChangeItemOptions{ID: "ns=2;s=A"}, nil)
	if err != nil || st != http.StatusAccepted {
		t.Fatalf("first add: status=%d err=%v", st, err)
	}
	st, err = s.AddNodeForMonitoring(ctx, DataChangeItemOptions{ID: "ns=2;s=A"}, nil)
	if err != nil || st != http.StatusOK {
		t.Fatalf("duplicate add: status=%d err=%v", st, err)
	}
	if added != 1 {
		t.Errorf("version bumped %d times, want 1", added)
	}

	// The connect trigger carries a pending signal.
	select {
	case <-s.ConnectTrigger():
	default:
		t.Error("no connect signal after add")
	}
}

func TestAddNodeGroupsByPublishingInterval(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)

	if _, err := s.AddNodeForMonitoring(ctx, DataChangeItemOptions{ID: "ns=2;s=A"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddNodeForMonitoring(ctx, DataChangeItemOptions{ID: "ns=2;s=B"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddNodeForMonitoring(ctx, DataChangeItemOptions{ID: "ns=2;s=C"}, intPtr(500)); err != nil {
		t.Fatal(err)
	}

	if got := len(s.OpcSubscriptions); got != 2 {
		t.Fatalf("got %d subscriptions, want 2 (default and 500ms)", got)
	}
	if got := len(s.OpcSubscriptions[0].OpcMonitoredItems); got != 2 {
		t.Errorf("default-interval subscription holds %d items, want 2", got)
	}
	if s.OpcSubscriptions[1].RequestedPublishingInterval != 500 {
		t.Errorf("second subscription interval = %d", s.OpcSubscriptions[1].RequestedPublishingInterval)
	}
	if !s.OpcSubscriptions[1].PublishingIntervalFromConfig {
		t.Error("explicit publishing interval not flagged as configured")
	}
	if s.OpcSubscriptions[0].PublishingIntervalFromConfig {
		t.Error("default publishing interval flagged as configured")
	}
}

func TestAddEventNodeValidationAndExistingWins(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)

	st, err := s.AddEventNodeForMonitoring(ctx, &EventConfiguration{ID: "ns=2;s=Alarms"}, nil)
	if err == nil || st != http.StatusNotAcceptable {
		t.Fatalf("event without select clauses: status=%d err=%v", st, err)
	}

	first := &EventConfiguration{
		ID:            "ns=2;s=Alarms",
		DisplayName:   "original",
		SelectClauses: []SelectClause{{BrowsePaths: []string{"2:Severity"}}},
	}
	st, err = s.AddEventNodeForMonitoring(ctx, first, nil)
	if err != nil || st != http.StatusAccepted {
		t.Fatalf("first event add: status=%d err=%v", st, err)
	}

	// Re-publishing the same source with a different configuration keeps the
	// existing one.
	second := &EventConfiguration{
		ID:            "ns=2;s=Alarms",
		DisplayName:   "replacement",
		SelectClauses: []SelectClause{{BrowsePaths: []string{"2:Message"}}},
	}
	st, err = s.AddEventNodeForMonitoring(ctx, second, nil)
	if err != nil || st != http.StatusOK {
		t.Fatalf("duplicate event add: status=%d err=%v", st, err)
	}

	if got := len(s.OpcEventSubscriptions); got != 1 {
		t.Fatalf("got %d event subscriptions, want 1", got)
	}
	mi := s.OpcEventSubscriptions[0].OpcMonitoredItems[0]
	if mi.EventConfiguration.DisplayName != "original" {
		t.Errorf("existing event configuration replaced: %q", mi.EventConfiguration.DisplayName)
	}
	if s.OpcEventSubscriptions[0].EventSourceID != "ns=2;s=Alarms" {
		t.Errorf("event subscription keyed by %q", s.OpcEventSubscriptions[0].EventSourceID)
	}
}

func TestRequestRemoveNodeAndReconcile(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)

	if _, err := s.AddNodeForMonitoring(ctx, DataChangeItemOptions{ID: "ns=2;s=A"}, nil); err != nil {
		t.Fatal(err)
	}

	st, err := s.RequestRemoveNode(ctx, "ns=2;s=Unknown")
	if err == nil || st != http.StatusNotFound {
		t.Fatalf("remove unknown: status=%d err=%v", st, err)
	}

	st, err = s.RequestRemoveNode(ctx, "ns=2;s=A")
	if err != nil || st != http.StatusOK {
		t.Fatalf("remove known: status=%d err=%v", st, err)
	}
	if got := s.OpcSubscriptions[0].OpcMonitoredItems[0].State; got != ItemStateRemovalRequested {
		t.Errorf("item state = %v", got)
	}

	// A tagged item no longer counts as published.
	published, err := s.IsPublished(ctx, "ns=2;s=A")
	if err != nil {
		t.Fatal(err)
	}
	if published {
		t.Error("removal-tagged item reported as published")
	}

	removed, err := s.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 {
		t.Fatalf("reconcile removed %d items, want 1", len(removed))
	}
	if len(s.OpcSubscriptions) != 0 {
		t.Error("empty subscription not dropped")
	}
}

func TestShutdownMakesStructuralOpsGone(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	st, err := s.AddNodeForMonitoring(ctx, DataChangeItemOptions{ID: "ns=2;s=A"}, nil)
	if err == nil || st != http.StatusGone {
		t.Errorf("add after shutdown: status=%d err=%v", st, err)
	}
}

func TestShutdownPreventsReconnect(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	// The protocol layer observes shutdown through the done channel and
	// exits its loop instead of redialing.
	select {
	case <-s.Done():
	default:
		t.Error("done channel not closed by shutdown")
	}

	if err := s.MarkConnecting(ctx); err == nil {
		t.Error("shut-down session accepted a connect attempt")
	}
	if err := s.MarkConnected(ctx, &fakeConn{}, fakeResolver{}, "urn:plc"); err == nil {
		t.Error("shut-down session accepted a connection")
	}
	if s.State() == SessionStateConnected {
		t.Error("shut-down session reports connected")
	}

	// A second shutdown is a no-op, not a double close.
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("repeated shutdown: %v", err)
	}
}

func TestApplyAuthentication(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	cipher, err := auth.NewCipher("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}

	changed, err := s.ApplyAuthentication(ctx, AuthModeUsernamePassword, "operator", "secret", cipher)
	if err != nil || !changed {
		t.Fatalf("apply credentials: changed=%v err=%v", changed, err)
	}
	if s.AuthMode != AuthModeUsernamePassword || s.EncryptedUsername == "" || s.EncryptedPassword == "" {
		t.Fatal("credentials not recorded")
	}
	if s.EncryptedPassword == "secret" {
		t.Error("password stored in the clear")
	}
	if got, err := cipher.Decrypt(s.EncryptedPassword); err != nil || got != "secret" {
		t.Errorf("decrypt password: %q %v", got, err)
	}
	if s.State() != SessionStateDisconnected {
		t.Error("credential change did not request a reconnect")
	}

	changed, err = s.ApplyAuthentication(ctx, AuthModeAnonymous, "", "", cipher)
	if err != nil || !changed {
		t.Fatalf("switch to anonymous: changed=%v err=%v", changed, err)
	}
	changed, err = s.ApplyAuthentication(ctx, AuthModeAnonymous, "", "", cipher)
	if err != nil || changed {
		t.Errorf("identical anonymous re-apply reported a change")
	}
}

type fakeConn struct{ closed bool }

func (c *fakeConn) Close() error { c.closed = true; return nil }

type fakeResolver struct{}

func (fakeResolver) CounterpartID(id string) (string, error) { return "", nil }

func TestConnectionLifecycleResetsItemState(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, nil)
	if _, err := s.AddNodeForMonitoring(ctx, DataChangeItemOptions{ID: "ns=2;s=A"}, nil); err != nil {
		t.Fatal(err)
	}

	conn := &fakeConn{}
	if err := s.MarkConnected(ctx, conn, fakeResolver{}, "urn:plc"); err != nil {
		t.Fatal(err)
	}
	if s.State() != SessionStateConnected || s.ApplicationURI != "urn:plc" {
		t.Fatal("connect not recorded")
	}

	mi := s.OpcSubscriptions[0].OpcMonitoredItems[0]
	mi.SetMonitored(750)
	if mi.State != ItemStateMonitored || mi.SamplingInterval != 750 {
		t.Fatalf("SetMonitored: state=%v interval=%d", mi.State, mi.SamplingInterval)
	}

	if err := s.MarkDisconnected(ctx); err != nil {
		t.Fatal(err)
	}
	if mi.State != ItemStateUnmonitored {
		t.Error("monitored item not reset to unmonitored on disconnect")
	}

	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}
